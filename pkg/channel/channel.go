// Package channel implements the channel, channel-message, and bridge
// stores (spec.md §4.7, §3): shared group conversations, their
// append-only message history, and the mapping to external bridged
// platforms. Grounded on the teacher's pkg/registry.BaseRegistry
// map+mutex CRUD shape, generalized per store to the field-patch and
// archive-protocol semantics spec.md §4.7 requires.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockmesh/flock/internal/store"
)

// Channel is a shared group conversation (spec.md §3).
type Channel struct {
	ChannelID           string     `json:"channelId"`
	Name                string     `json:"name"`
	Topic               string     `json:"topic,omitempty"`
	CreatedBy           string     `json:"createdBy"`
	Members             []string   `json:"members"`
	Archived            bool       `json:"archived"`
	ArchiveReadyMembers []string   `json:"archiveReadyMembers,omitempty"`
	ArchivingStartedAt  *time.Time `json:"archivingStartedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func (c Channel) clone() Channel {
	c.Members = append([]string(nil), c.Members...)
	c.ArchiveReadyMembers = append([]string(nil), c.ArchiveReadyMembers...)
	if c.ArchivingStartedAt != nil {
		t := *c.ArchivingStartedAt
		c.ArchivingStartedAt = &t
	}
	return c
}

// ErrArchived is returned for mutations attempted on an archived channel.
var ErrArchived = fmt.Errorf("channel: archived")

// ErrNotFound is returned for lookups of unknown channel IDs.
var ErrNotFound = fmt.Errorf("channel: not found")

// ErrNotMember is returned when archive_ready is called by an ID that
// is not actually a member of the channel.
var ErrNotMember = fmt.Errorf("channel: not a member")

const keyPrefix = "channel/"

// Store is the CRUD + archive-protocol store for channels.
type Store struct {
	kv store.KV

	mu   sync.RWMutex
	byID map[string]Channel
}

// Open builds a Store backed by kv, replaying persisted channels.
func Open(ctx context.Context, kv store.KV) (*Store, error) {
	s := &Store{kv: kv, byID: make(map[string]Channel)}
	raw, err := kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	for _, v := range raw {
		var c Channel
		if err := json.Unmarshal(v, &c); err != nil {
			continue
		}
		s.byID[c.ChannelID] = c
	}
	return s, nil
}

// Create inserts a new channel with createdBy as its sole initial member.
func (s *Store) Create(ctx context.Context, name, topic, createdBy string) (Channel, error) {
	now := time.Now()
	c := Channel{
		ChannelID: uuid.New().String(),
		Name:      name,
		Topic:     topic,
		CreatedBy: createdBy,
		Members:   []string{createdBy},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.persist(ctx, c); err != nil {
		return Channel{}, err
	}
	s.mu.Lock()
	s.byID[c.ChannelID] = c
	s.mu.Unlock()
	return c, nil
}

// Get returns a defensive copy of a channel.
func (s *Store) Get(channelID string) (Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[channelID]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return c.clone(), nil
}

// List returns every channel.
func (s *Store) List() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c.clone())
	}
	return out
}

// AddMember adds memberID to channelID's member set exactly once (no
// duplicates), rejecting the mutation if the channel is archived.
func (s *Store) AddMember(ctx context.Context, channelID, memberID string) (Channel, error) {
	return s.mutate(ctx, channelID, func(c *Channel) error {
		if c.Archived {
			return ErrArchived
		}
		for _, m := range c.Members {
			if m == memberID {
				return nil
			}
		}
		c.Members = append(c.Members, memberID)
		return nil
	})
}

// StartArchiving enters the archiving state: records archivingStartedAt
// (spec.md §4.7 archive protocol).
func (s *Store) StartArchiving(ctx context.Context, channelID string) (Channel, error) {
	return s.mutate(ctx, channelID, func(c *Channel) error {
		if c.Archived {
			return ErrArchived
		}
		if c.ArchivingStartedAt == nil {
			now := time.Now()
			c.ArchivingStartedAt = &now
		}
		return nil
	})
}

// MarkArchiveReady records that memberID has called archive_ready.
// Returns the updated channel and whether every agent member is now
// ready (the condition that flips archived=true).
func (s *Store) MarkArchiveReady(ctx context.Context, channelID, memberID string) (Channel, bool, error) {
	var ready bool
	c, err := s.mutate(ctx, channelID, func(c *Channel) error {
		if !isMember(c.Members, memberID) {
			return ErrNotMember
		}
		if !isMember(c.ArchiveReadyMembers, memberID) {
			c.ArchiveReadyMembers = append(c.ArchiveReadyMembers, memberID)
		}

		agentMembers := agentOnlyMembers(c.Members)
		ready = setEquals(c.ArchiveReadyMembers, agentMembers)
		if ready {
			c.Archived = true
		}
		return nil
	})
	return c, ready, err
}

// Archive force-archives a channel immediately, bypassing the ready-set
// protocol (spec.md §4.7: "force=true archives immediately").
func (s *Store) Archive(ctx context.Context, channelID string) (Channel, error) {
	return s.mutate(ctx, channelID, func(c *Channel) error {
		c.Archived = true
		return nil
	})
}

func (s *Store) mutate(ctx context.Context, channelID string, fn func(*Channel) error) (Channel, error) {
	s.mu.Lock()
	c, ok := s.byID[channelID]
	if !ok {
		s.mu.Unlock()
		return Channel{}, ErrNotFound
	}
	c = c.clone()
	if err := fn(&c); err != nil {
		s.mu.Unlock()
		if err == ErrArchived {
			return Channel{}, ErrArchived
		}
		return Channel{}, err
	}
	c.UpdatedAt = time.Now()
	s.byID[channelID] = c
	s.mu.Unlock()

	return c.clone(), s.persist(ctx, c)
}

func (s *Store) persist(ctx context.Context, c Channel) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling channel: %w", err)
	}
	return s.kv.Put(ctx, keyPrefix+c.ChannelID, data)
}

func isMember(members []string, memberID string) bool {
	for _, m := range members {
		if m == memberID {
			return true
		}
	}
	return false
}

func agentOnlyMembers(members []string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if !isHuman(m) {
			out = append(out, m)
		}
	}
	return out
}

func isHuman(member string) bool {
	return len(member) >= 6 && member[:6] == "human:"
}

func setEquals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}
