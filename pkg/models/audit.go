package models

import (
	"encoding/json"
	"time"
)

// Sensitivity is the ordinal classification attached to each LLM-bound task.
// Ordering: PUBLIC < INTERNAL < SENSITIVE < CRITICAL.
type Sensitivity string

const (
	SensitivityPublic    Sensitivity = "PUBLIC"
	SensitivityInternal  Sensitivity = "INTERNAL"
	SensitivitySensitive Sensitivity = "SENSITIVE"
	SensitivityCritical  Sensitivity = "CRITICAL"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityPublic:    0,
	SensitivityInternal:  1,
	SensitivitySensitive: 2,
	SensitivityCritical:  3,
}

// IsValid checks if the sensitivity is valid.
func (s Sensitivity) IsValid() bool {
	_, ok := sensitivityRank[s]
	return ok
}

// AtLeast reports whether s ranks at or above other.
func (s Sensitivity) AtLeast(other Sensitivity) bool {
	return sensitivityRank[s] >= sensitivityRank[other]
}

// DataResidency states where a governed request's data is allowed to travel.
type DataResidency string

const (
	ResidencyLocal DataResidency = "local"
	ResidencyCloud DataResidency = "cloud"
)

// IsValid checks if the data residency is valid.
func (r DataResidency) IsValid() bool {
	return r == ResidencyLocal || r == ResidencyCloud
}

// AuditEntry is one immutable compliance record per governance decision.
// PrevHash/EntryHash form an optional tamper-evidence chain over the
// serialized log lines.
type AuditEntry struct {
	Timestamp        time.Time      `json:"timestamp"`
	AgentName        string         `json:"agent_name"`
	TaskType         string         `json:"task_type"`
	Sensitivity      Sensitivity    `json:"sensitivity"`
	SelectedProvider string         `json:"selected_provider,omitempty"`
	PolicyDecision   string         `json:"policy_decision"`
	PolicyName       string         `json:"policy_name"`
	Organization     string         `json:"organization"`
	DataResidency    DataResidency  `json:"data_residency"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	PrevHash  string `json:"prev_hash,omitempty"`
	EntryHash string `json:"entry_hash,omitempty"`
}

// MarshalJSON pins the timestamp to UTC with millisecond precision so hash
// chaining is stable across round-trips.
func (e AuditEntry) MarshalJSON() ([]byte, error) {
	type alias AuditEntry
	return json.Marshal(&struct {
		alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     alias(e),
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// AuditFilters narrows audit log queries.
type AuditFilters struct {
	Agent       string
	Sensitivity Sensitivity
	Provider    string
	PolicyName  string
}

// AuditWindow bounds an audit query in time. Zero values mean unbounded.
type AuditWindow struct {
	From time.Time
	To   time.Time
}

// AuditSummary aggregates an organization's audit trail over a window.
type AuditSummary struct {
	Total            int                 `json:"total"`
	ByAgent          map[string]int      `json:"by_agent"`
	BySensitivity    map[Sensitivity]int `json:"by_sensitivity"`
	ByProvider       map[string]int      `json:"by_provider"`
	PolicyViolations int                 `json:"policy_violations"`
}
