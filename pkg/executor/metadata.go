package executor

import (
	"encoding/json"

	"github.com/flockmesh/flock/pkg/task"
)

// Urgency is the FlockTaskMetadata urgency field (spec.md §4.6).
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// TaskMetadata is the narrow, validated shape Flock recognizes inside a
// message's data Part (spec.md §4.6, §9's "explicit tagged-variant of
// recognized metadata shapes"). Unknown/invalid fields are dropped
// rather than causing validation failure.
type TaskMetadata struct {
	FlockType     task.MessageType `json:"flockType"`
	Urgency       Urgency          `json:"urgency"`
	Project       string           `json:"project,omitempty"`
	FromHome      string           `json:"fromHome,omitempty"`
	ExpectedLevel string           `json:"expectedLevel,omitempty"`
}

// ChatType discriminates SessionRouting.
type ChatType string

const (
	ChatTypeChannel ChatType = "channel"
	ChatTypeDM      ChatType = "dm"
)

// SessionRouting is the narrow shape used to build a sessionKey
// (spec.md §4.6, §6).
type SessionRouting struct {
	ChatType ChatType `json:"chatType"`
	PeerID   string   `json:"peerId"`
}

// dataEnvelope is the superset shape a data Part may carry; both
// TaskMetadata and SessionRouting may be present together.
type dataEnvelope struct {
	FlockType      task.MessageType `json:"flockType"`
	Urgency        Urgency          `json:"urgency"`
	Project        string           `json:"project"`
	FromHome       string           `json:"fromHome"`
	ExpectedLevel  string           `json:"expectedLevel"`
	SessionRouting *SessionRouting  `json:"sessionRouting"`
}

// parseMetadata validates a data Part's JSON into TaskMetadata and an
// optional SessionRouting. Invalid or absent input yields zero values
// rather than an error (spec.md §4.6: "Unknown/invalid fields are
// dropped").
func parseMetadata(raw json.RawMessage) (TaskMetadata, *SessionRouting) {
	if len(raw) == 0 {
		return TaskMetadata{}, nil
	}

	var env dataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TaskMetadata{}, nil
	}

	meta := TaskMetadata{
		FlockType:     env.FlockType,
		Urgency:       env.Urgency,
		Project:       env.Project,
		FromHome:      env.FromHome,
		ExpectedLevel: env.ExpectedLevel,
	}
	if !validFlockType(meta.FlockType) {
		meta.FlockType = ""
	}
	if !validUrgency(meta.Urgency) {
		meta.Urgency = ""
	}

	var routing *SessionRouting
	if env.SessionRouting != nil && validChatType(env.SessionRouting.ChatType) && env.SessionRouting.PeerID != "" {
		routing = env.SessionRouting
	}

	return meta, routing
}

func validFlockType(t task.MessageType) bool {
	switch t {
	case task.MessageTypeSysadminRequest, task.MessageTypeWorkerTask, task.MessageTypeReview, task.MessageTypeSystemOp, "":
		return true
	}
	return false
}

func validUrgency(u Urgency) bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, "":
		return true
	}
	return false
}

func validChatType(c ChatType) bool {
	return c == ChatTypeChannel || c == ChatTypeDM
}
