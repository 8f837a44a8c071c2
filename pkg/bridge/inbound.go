package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/flockmesh/flock/pkg/channel"
)

// supportedPlatforms is the whitelist of external platforms Flock
// bridges to (spec.md §4.7 step 1).
var supportedPlatforms = map[string]bool{"discord": true, "slack": true}

// Event is one inbound message as reported by an external platform
// adapter.
type Event struct {
	From      string
	Content   string
	Timestamp string
}

// Context carries the routing information the platform adapter attaches
// to an inbound event: which platform it came from and which external
// conversation it belongs to.
type Context struct {
	Platform       string
	ConversationID string
}

// Result summarizes what HandleInbound did, for callers (tests, the
// HTTP adapter) that want to assert on the outcome without re-querying
// the stores.
type Result struct {
	Skipped     bool
	SkipReason  string
	ChannelID   string
	Seq         int64
	HumanMember string
	Woken       []string
}

// EchoTracker records which channel-message seqs originated from an
// inbound bridge event, so outbound fan-out can skip re-posting them
// back to the platform they came from (spec.md §4.7 step 3, §8
// property 9).
type EchoTracker struct {
	mu   sync.Mutex
	seen map[string]map[int64]bool
}

// NewEchoTracker builds an empty tracker.
func NewEchoTracker() *EchoTracker {
	return &EchoTracker{seen: make(map[string]map[int64]bool)}
}

// Mark records that seq on bridgeID originated from an inbound event.
func (t *EchoTracker) Mark(bridgeID string, seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[bridgeID] == nil {
		t.seen[bridgeID] = make(map[int64]bool)
	}
	t.seen[bridgeID][seq] = true
}

// IsEcho reports whether seq on bridgeID was marked by an inbound
// event (and should therefore be skipped by outbound fan-out).
func (t *EchoTracker) IsEcho(bridgeID string, seq int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[bridgeID][seq]
}

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9._:-]+)`)

var separatorCollapse = regexp.MustCompile(`[._-]{2,}`)
var disallowedChars = regexp.MustCompile(`[^a-z0-9._-]`)

// normalizeUsername implements spec.md §4.7's normalization rule:
// lowercase, keep [a-z0-9._-] only, collapse repeated separators, trim
// leading/trailing separators, empty -> "unknown".
func normalizeUsername(raw string) string {
	s := strings.ToLower(raw)
	s = disallowedChars.ReplaceAllString(s, "")
	s = separatorCollapse.ReplaceAllStringFunc(s, func(m string) string { return m[:1] })
	s = strings.Trim(s, "._-")
	if s == "" {
		return "unknown"
	}
	return s
}

// Handler wires the inbound bridge flow to the channel stores and
// loop-state tracker.
type Handler struct {
	Channels  *channel.Store
	Messages  *channel.MessageStore
	Bridges   *channel.BridgeStore
	LoopState *LoopStateTracker
	Echo      *EchoTracker
	Logger    *slog.Logger
}

// HandleInbound implements spec.md §4.7's inbound bridge flow.
func (h *Handler) HandleInbound(ctx context.Context, event Event, ictx Context) (Result, error) {
	if !supportedPlatforms[ictx.Platform] || ictx.ConversationID == "" {
		return Result{Skipped: true, SkipReason: "unsupported platform or missing conversationId"}, nil
	}

	b, ok := h.Bridges.ByExternal(ictx.Platform, ictx.ConversationID)
	if !ok {
		return Result{Skipped: true, SkipReason: "no active bridge"}, nil
	}

	ch, err := h.Channels.Get(b.ChannelID)
	if err != nil {
		return Result{Skipped: true, SkipReason: "channel not found"}, nil
	}
	if ch.Archived {
		return Result{Skipped: true, SkipReason: "channel archived"}, nil
	}

	humanMember := "human:" + normalizeUsername(event.From)

	msg, err := h.Messages.Append(ctx, ch.ChannelID, humanMember, event.Content)
	if err != nil {
		return Result{}, fmt.Errorf("appending inbound channel message: %w", err)
	}
	h.Echo.Mark(b.BridgeID, msg.Seq)

	if _, err := h.Channels.AddMember(ctx, ch.ChannelID, humanMember); err != nil {
		h.logf("adding human member %s to channel %s: %v", humanMember, ch.ChannelID, err)
	}

	woken := h.wakeMentioned(ch, event.Content)

	return Result{
		ChannelID:   ch.ChannelID,
		Seq:         msg.Seq,
		HumanMember: humanMember,
		Woken:       woken,
	}, nil
}

// wakeMentioned extracts @mentions from content and transitions any
// SLEEP agent-member they name to AWAKE (spec.md §4.7 step 5, §8
// property 10).
func (h *Handler) wakeMentioned(ch channel.Channel, content string) []string {
	members := make(map[string]bool, len(ch.Members))
	for _, m := range ch.Members {
		members[m] = true
	}

	var woken []string
	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		candidate := match[1]
		for _, form := range []string{candidate, "agent:" + candidate} {
			if !members[form] || strings.HasPrefix(form, "human:") {
				continue
			}
			if h.LoopState.Wake(form) {
				woken = append(woken, form)
			}
			break
		}
	}
	return woken
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Warn(fmt.Sprintf(format, args...))
	}
}
