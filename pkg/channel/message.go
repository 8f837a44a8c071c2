package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flockmesh/flock/internal/store"
)

// Message is one posted entry in a channel's history (spec.md §3). Seq
// is the canonical ordering and visibility cursor: strictly monotonic,
// gap-free, 1-based per channel.
type Message struct {
	ChannelID string    `json:"channelId"`
	Seq       int64     `json:"seq"`
	AgentID   string    `json:"agentId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const messageKeyPrefix = "channel-message/"

// MessageStore is the append-only per-channel message log.
type MessageStore struct {
	kv store.KV

	mu       sync.Mutex
	byChannel map[string][]Message
}

// OpenMessageStore builds a MessageStore backed by kv, replaying and
// re-sorting persisted messages by seq within each channel.
func OpenMessageStore(ctx context.Context, kv store.KV) (*MessageStore, error) {
	s := &MessageStore{kv: kv, byChannel: make(map[string][]Message)}
	raw, err := kv.List(ctx, messageKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading channel messages: %w", err)
	}
	for _, v := range raw {
		var m Message
		if err := json.Unmarshal(v, &m); err != nil {
			continue
		}
		s.byChannel[m.ChannelID] = append(s.byChannel[m.ChannelID], m)
	}
	for ch, msgs := range s.byChannel {
		sortBySeq(msgs)
		s.byChannel[ch] = msgs
	}
	return s, nil
}

// Append assigns the next sequential seq for channelID and persists the
// message.
func (s *MessageStore) Append(ctx context.Context, channelID, agentID, content string) (Message, error) {
	s.mu.Lock()
	existing := s.byChannel[channelID]
	nextSeq := int64(1)
	if len(existing) > 0 {
		nextSeq = existing[len(existing)-1].Seq + 1
	}
	m := Message{ChannelID: channelID, Seq: nextSeq, AgentID: agentID, Content: content, Timestamp: time.Now()}
	s.byChannel[channelID] = append(existing, m)
	s.mu.Unlock()

	if err := s.persist(ctx, m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// List returns messages for channelID, oldest first, optionally capped
// at limit (0 means unlimited).
func (s *MessageStore) List(channelID string, limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byChannel[channelID]
	if limit <= 0 || limit >= len(msgs) {
		out := make([]Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out
}

func (s *MessageStore) persist(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling channel message: %w", err)
	}
	return s.kv.Put(ctx, fmt.Sprintf("%s%s/%020d", messageKeyPrefix, m.ChannelID, m.Seq), data)
}

func sortBySeq(msgs []Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j-1].Seq > msgs[j].Seq; j-- {
			msgs[j-1], msgs[j] = msgs[j], msgs[j-1]
		}
	}
}
