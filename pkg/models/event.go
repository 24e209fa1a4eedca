package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of governance event.
type EventType string

const (
	EventTypeProjectCreated    EventType = "PROJECT_CREATED"
	EventTypeStateTransition   EventType = "STATE_TRANSITION"
	EventTypeArtifactDeclared  EventType = "ARTIFACT_DECLARED"
	EventTypeConflictDetected  EventType = "CONFLICT_DETECTED"
	EventTypeProjectBlocked    EventType = "PROJECT_BLOCKED"
	EventTypeConflictResolved  EventType = "CONFLICT_RESOLVED"
	EventTypeProjectUnblocked  EventType = "PROJECT_UNBLOCKED"
	EventTypeTaskCreated       EventType = "TASK_CREATED"
	EventTypeTaskStatusChanged EventType = "TASK_STATUS_CHANGED"
	EventTypeArtifactRevoked   EventType = "ARTIFACT_REVOKED"
)

// IsValid checks if the event type is valid.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeProjectCreated, EventTypeStateTransition,
		EventTypeArtifactDeclared, EventTypeConflictDetected,
		EventTypeProjectBlocked, EventTypeConflictResolved,
		EventTypeProjectUnblocked, EventTypeTaskCreated,
		EventTypeTaskStatusChanged, EventTypeArtifactRevoked:
		return true
	default:
		return false
	}
}

// ActorSystem is the actor recorded for engine-initiated events.
const ActorSystem = "system"

// PSMPEvent is one append-only governance event. Every entity mutation
// corresponds to exactly one appended event; events are never updated or
// deleted.
type PSMPEvent struct {
	EventID   string         `json:"event_id"`
	Type      EventType      `json:"event_type"`
	ProjectID string         `json:"project_id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// MarshalJSON serializes the timestamp as UTC ISO-8601 with millisecond
// precision, the on-disk contract for psmp_events.jsonl.
func (e PSMPEvent) MarshalJSON() ([]byte, error) {
	type alias PSMPEvent
	return json.Marshal(&struct {
		alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     alias(e),
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}
