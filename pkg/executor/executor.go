// Package executor implements the adapter between A2A requests and the
// opaque session-send function (spec.md §4.6): task bookkeeping,
// metadata validation, triage-request synthesis, and the
// timeout/cancel-aware race against SessionSend.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/audit"
	"github.com/flockmesh/flock/pkg/metrics"
	"github.com/flockmesh/flock/pkg/task"
	"github.com/flockmesh/flock/pkg/triage"
)

// SessionSend is the opaque host-runtime collaborator (spec.md §1, §4.6):
// given an agent, a prompt, and an optional session key, it returns the
// agent's reply text, or ("", nil) if the session produced nothing.
type SessionSend func(ctx context.Context, agentID, prompt string, sessionKey string) (string, error)

// EventBus publishes Task/status events to whoever is awaiting this
// request (spec.md §4.1's "publish the agent's response as a sequence
// of events").
type EventBus interface {
	Publish(event a2a.TaskStatus)
}

// Config configures one Executor instance.
type Config struct {
	AgentID            string
	Send               SessionSend
	Tasks              *task.Store
	Audit              audit.Log
	Triage             *triage.Capture
	ResponseTimeout    time.Duration
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
}

// Executor is the per-agent request adapter (spec.md §4.6).
type Executor struct {
	cfg Config
}

// New builds an Executor for one agent.
func New(cfg Config) *Executor {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 600 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{cfg: cfg}
}

// Execute runs one message/send call through to completion, publishing
// status events on bus as the task progresses (spec.md §4.6 steps 1-8).
func (e *Executor) Execute(ctx context.Context, fromAgentID string, msg a2a.Message, contextID string, bus EventBus) (task.Record, error) {
	start := time.Now()
	text, rawData := extractParts(msg)
	meta, routing := parseMetadata(rawData)

	sessionKey := ""
	if routing != nil {
		sessionKey = fmt.Sprintf("agent:%s:flock:%s:%s", e.cfg.AgentID, routing.ChatType, routing.PeerID)
	}

	var requestID string
	prompt := text
	if meta.FlockType == task.MessageTypeSysadminRequest {
		requestID = fmt.Sprintf("triage-%d-%06d", time.Now().UnixNano(), rand.Intn(1000000))
		header := fmt.Sprintf("[from: %s | urgency: %s | project: %s | request-id: %s]",
			orDash(meta.FromHome), orDash(string(meta.Urgency)), orDash(meta.Project), requestID)
		prompt = header + "\n" + text
	}

	rec, err := e.cfg.Tasks.Create(ctx, fromAgentID, e.cfg.AgentID, contextID, meta.FlockType, summarize(text), text)
	if err != nil {
		return task.Record{}, fmt.Errorf("executor: creating task: %w", err)
	}

	if bus != nil {
		bus.Publish(a2a.TaskStatus{State: a2a.TaskStateWorking})
	}
	rec, err = e.cfg.Tasks.UpdateState(ctx, rec.TaskID, a2a.TaskStateWorking, "", "")
	if err != nil {
		return rec, err
	}

	responseText, sendErr := e.raceSend(ctx, prompt, sessionKey)
	if sendErr != nil || responseText == "" {
		rec, _ = e.cfg.Tasks.UpdateState(ctx, rec.TaskID, a2a.TaskStateFailed, "", "")
		e.audit(ctx, fromAgentID, "message/send", audit.LevelRed, fmt.Sprintf("session send failed: %v", sendErr))
		e.cfg.Metrics.RecordTaskCompletion(e.cfg.AgentID, "failed", time.Since(start))
		if bus != nil {
			bus.Publish(a2a.TaskStatus{State: a2a.TaskStateFailed})
		}
		return rec, nil
	}

	auditLevel := audit.LevelGreen
	responsePayload := ""
	if meta.FlockType == task.MessageTypeSysadminRequest && requestID != "" && e.cfg.Triage != nil {
		if decision, ok := e.cfg.Triage.Take(requestID); ok {
			payload, _ := json.Marshal(triageArtifactPayload(decision))
			responsePayload = string(payload)
			auditLevel = auditLevelFromTriage(decision.Level)
		}
	}

	rec, err = e.cfg.Tasks.UpdateState(ctx, rec.TaskID, a2a.TaskStateCompleted, responseText, responsePayload)
	if err != nil {
		return rec, err
	}
	e.audit(ctx, fromAgentID, "message/send", auditLevel, "completed")
	e.cfg.Metrics.RecordTaskCompletion(e.cfg.AgentID, "completed", time.Since(start))
	if bus != nil {
		bus.Publish(a2a.TaskStatus{State: a2a.TaskStateCompleted})
	}
	return rec, nil
}

// Cancel stops awaiting the session (the caller's context cancellation
// does the actual stopping) and marks the task canceled (spec.md §4.6
// step 9, §5 cancellation).
func (e *Executor) Cancel(ctx context.Context, taskID string, bus EventBus) error {
	_, err := e.cfg.Tasks.UpdateState(ctx, taskID, a2a.TaskStateCanceled, "", "")
	if err != nil {
		return err
	}
	e.audit(ctx, "", "cancelTask", audit.LevelYellow, "task canceled")
	if bus != nil {
		bus.Publish(a2a.TaskStatus{State: a2a.TaskStateCanceled})
	}
	return nil
}

// raceSend races SessionSend against the configured response timeout
// (spec.md §4.6 step 6, §5 "largest suspension point").
func (e *Executor) raceSend(ctx context.Context, prompt, sessionKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResponseTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := e.cfg.Send(ctx, e.cfg.AgentID, prompt, sessionKey)
		ch <- result{text, err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Executor) audit(ctx context.Context, fromAgentID, action string, level audit.Level, detail string) {
	if e.cfg.Audit == nil {
		return
	}
	_ = e.cfg.Audit.Append(ctx, audit.Entry{
		HomeID:  e.cfg.AgentID,
		AgentID: e.cfg.AgentID,
		Action:  action,
		Level:   level,
		Detail:  detail,
	})
}

func extractParts(msg a2a.Message) (text string, data json.RawMessage) {
	var texts []string
	for _, p := range msg.Parts {
		switch p.Kind {
		case a2a.PartKindText:
			texts = append(texts, p.Text)
		case a2a.PartKindData:
			if data == nil {
				data = p.Data
			}
		}
	}
	return strings.Join(texts, "\n"), data
}

func summarize(text string) string {
	const maxLen = 120
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func auditLevelFromTriage(l triage.Level) audit.Level {
	switch l {
	case triage.LevelRed:
		return audit.LevelRed
	case triage.LevelYellow:
		return audit.LevelYellow
	default:
		return audit.LevelGreen
	}
}

// triageArtifactPayload renders the triage-result artifact data part
// (spec.md §4.6 step 7).
func triageArtifactPayload(d triage.Decision) map[string]any {
	return map[string]any{
		"level":               d.Level,
		"action":              d.Action,
		"reasoning":           d.Reasoning,
		"riskFactors":         d.RiskFactors,
		"requiresHumanApproval": d.RequiresHumanApproval(),
	}
}
