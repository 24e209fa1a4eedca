// Package models defines the governed entities shared across the PSMP
// engine, state manager, secure gateway and compliance auditor.
package models

import "time"

// ProjectStatus represents the lifecycle state of a governed project.
type ProjectStatus string

const (
	ProjectStatusInitialized ProjectStatus = "INITIALIZED"
	ProjectStatusPlanning    ProjectStatus = "PLANNING"
	ProjectStatusInProgress  ProjectStatus = "IN_PROGRESS"
	ProjectStatusBlocked     ProjectStatus = "BLOCKED"
	ProjectStatusCompleted   ProjectStatus = "COMPLETED"
	ProjectStatusFailed      ProjectStatus = "FAILED"
	ProjectStatusArchived    ProjectStatus = "ARCHIVED"
)

// IsValid checks if the project status is valid.
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusInitialized,
		ProjectStatusPlanning,
		ProjectStatusInProgress,
		ProjectStatusBlocked,
		ProjectStatusCompleted,
		ProjectStatusFailed,
		ProjectStatusArchived:
		return true
	default:
		return false
	}
}

// projectTransitions is the canonical adjacency set for project lifecycle
// transitions. Self-transitions are forbidden; ARCHIVED has no outgoing edges.
var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusInitialized: {ProjectStatusPlanning, ProjectStatusFailed, ProjectStatusArchived},
	ProjectStatusPlanning:    {ProjectStatusInProgress, ProjectStatusBlocked, ProjectStatusFailed},
	ProjectStatusInProgress:  {ProjectStatusBlocked, ProjectStatusCompleted, ProjectStatusFailed},
	ProjectStatusBlocked:     {ProjectStatusInProgress, ProjectStatusFailed, ProjectStatusArchived},
	ProjectStatusCompleted:   {ProjectStatusArchived},
	ProjectStatusFailed:      {ProjectStatusArchived},
	ProjectStatusArchived:    {},
}

// CanTransitionTo reports whether (s, next) is in the adjacency set.
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	for _, allowed := range projectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Project is a governed multi-agent project. Mutated only through the state
// manager; never destroyed (ARCHIVED is terminal).
type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      ProjectStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateProjectRequest carries the caller-supplied fields for project creation.
type CreateProjectRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ProjectFilters narrows project listings.
type ProjectFilters struct {
	Status ProjectStatus
	Limit  int
	Offset int
}
