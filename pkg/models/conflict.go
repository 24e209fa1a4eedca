package models

import "time"

// ConflictSeverity ranks a dependency conflict.
type ConflictSeverity string

const (
	SeverityWarning  ConflictSeverity = "warning"
	SeverityCritical ConflictSeverity = "critical"
)

// IsValid checks if the conflict severity is valid.
func (s ConflictSeverity) IsValid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// ConflictRequirement is one agent's declared need for a library.
type ConflictRequirement struct {
	Agent   string `json:"agent"`
	Needs   string `json:"needs"`
	Purpose string `json:"purpose"`
}

// DependencyConflict is a set of incompatible dependency declarations for a
// single library within one project. Derived from live artifacts, never
// stored standalone; materialized into events and blocking reports.
type DependencyConflict struct {
	Library              string                `json:"library"`
	Scope                DependencyScope       `json:"scope"`
	Severity             ConflictSeverity      `json:"severity"`
	Requirements         []ConflictRequirement `json:"requirements"`
	SuggestedResolutions []string              `json:"suggested_resolutions"`
}

// ConflictResolution records an actor's chosen constraint for a conflicted
// library. Persisted so conflict detection can mask resolved groups.
type ConflictResolution struct {
	ProjectID        string    `json:"project_id"`
	Library          string    `json:"library"`
	ChosenConstraint string    `json:"chosen_constraint"`
	Actor            string    `json:"actor"`
	ResolvedAt       time.Time `json:"resolved_at"`
}

// BlockingReport is the machine-readable summary of a project's unresolved
// conflicts returned on every operation refused while the project is blocked.
type BlockingReport struct {
	ProjectID      string               `json:"project_id"`
	Status         ProjectStatus        `json:"status"`
	TotalConflicts int                  `json:"total_conflicts"`
	Conflicts      []DependencyConflict `json:"conflicts"`
}

// ManifestEntry is one resolved (library, constraint, scope) tuple of the
// unified dependency manifest.
type ManifestEntry struct {
	Library    string          `json:"library"`
	Constraint string          `json:"constraint"`
	Scope      DependencyScope `json:"scope"`
}

// Checkpoint is a point-in-time snapshot of a project, its tasks and its
// live artifact ids, restorable as a single unit.
type Checkpoint struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Project     Project   `json:"project"`
	Tasks       []Task    `json:"tasks"`
	ArtifactIDs []string  `json:"artifact_ids"`
}
