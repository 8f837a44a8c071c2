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

// Bridge maps a Flock channel to an external platform conversation
// (spec.md §3).
type Bridge struct {
	BridgeID          string    `json:"bridgeId"`
	ChannelID         string    `json:"channelId"`
	Platform          string    `json:"platform"`
	ExternalChannelID string    `json:"externalChannelId"`
	WebhookURL        string    `json:"webhookUrl,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"createdAt"`
	CreatedBy         string    `json:"createdBy"`
}

const bridgeKeyPrefix = "bridge/"

// BridgeStore is the CRUD store for channel<->external-platform bridges.
type BridgeStore struct {
	kv store.KV

	mu   sync.RWMutex
	byID map[string]Bridge
}

// OpenBridgeStore builds a BridgeStore backed by kv, replaying persisted bridges.
func OpenBridgeStore(ctx context.Context, kv store.KV) (*BridgeStore, error) {
	s := &BridgeStore{kv: kv, byID: make(map[string]Bridge)}
	raw, err := kv.List(ctx, bridgeKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading bridges: %w", err)
	}
	for _, v := range raw {
		var b Bridge
		if err := json.Unmarshal(v, &b); err != nil {
			continue
		}
		s.byID[b.BridgeID] = b
	}
	return s, nil
}

// Create registers a new active bridge.
func (s *BridgeStore) Create(ctx context.Context, channelID, platform, externalChannelID, webhookURL, createdBy string) (Bridge, error) {
	b := Bridge{
		BridgeID:          uuid.New().String(),
		ChannelID:         channelID,
		Platform:          platform,
		ExternalChannelID: externalChannelID,
		WebhookURL:        webhookURL,
		Active:            true,
		CreatedAt:         time.Now(),
		CreatedBy:         createdBy,
	}
	if err := s.persist(ctx, b); err != nil {
		return Bridge{}, err
	}
	s.mu.Lock()
	s.byID[b.BridgeID] = b
	s.mu.Unlock()
	return b, nil
}

// ByID returns a bridge by its ID.
func (s *BridgeStore) ByID(bridgeID string) (Bridge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[bridgeID]
	return b, ok
}

// ByChannel returns every bridge for channelID, optionally restricted
// to active ones.
func (s *BridgeStore) ByChannel(channelID string, activeOnly bool) []Bridge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Bridge
	for _, b := range s.byID {
		if b.ChannelID != channelID {
			continue
		}
		if activeOnly && !b.Active {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ByExternal returns the at-most-one active bridge mapping
// (platform, externalChannelID) to a Flock channel (spec.md §3).
func (s *BridgeStore) ByExternal(platform, externalChannelID string) (Bridge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.byID {
		if b.Platform == platform && b.ExternalChannelID == externalChannelID && b.Active {
			return b, true
		}
	}
	return Bridge{}, false
}

// Deactivate flips a bridge to inactive (field-patch, spec.md §3).
func (s *BridgeStore) Deactivate(ctx context.Context, bridgeID string) (Bridge, error) {
	s.mu.Lock()
	b, ok := s.byID[bridgeID]
	if !ok {
		s.mu.Unlock()
		return Bridge{}, fmt.Errorf("bridge: not found %q", bridgeID)
	}
	b.Active = false
	s.byID[bridgeID] = b
	s.mu.Unlock()

	return b, s.persist(ctx, b)
}

func (s *BridgeStore) persist(ctx context.Context, b Bridge) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshalling bridge: %w", err)
	}
	return s.kv.Put(ctx, bridgeKeyPrefix+b.BridgeID, data)
}
