package models

import "time"

// TaskStatus represents the lifecycle state of a planner-created task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusSkipped    TaskStatus = "SKIPPED"
)

// IsValid checks if the task status is valid.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// taskTransitions is the adjacency set for task status transitions.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusSkipped},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransitionTo reports whether (s, next) is a legal task transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is a planner-created unit of work inside a project. Dependencies form
// an intra-project DAG over task ids.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Title          string     `json:"title"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"` // 0..5
	Milestone      string     `json:"milestone,omitempty"`
	EstimatedHours float64    `json:"estimated_hours,omitempty"`
	AgentType      string     `json:"agent_type,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateTaskRequest carries the caller-supplied fields for task creation.
type CreateTaskRequest struct {
	Title          string   `json:"title"`
	Priority       int      `json:"priority"`
	Milestone      string   `json:"milestone,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	AgentType      string   `json:"agent_type,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// TaskFilters narrows task listings within a project.
type TaskFilters struct {
	Status    TaskStatus
	Milestone string
	AgentType string
}
