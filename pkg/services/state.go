// Package services implements the governance engine and the lifecycle state
// manager on top of the storage layer. All entity mutations flow through
// here; each one appends exactly one governance event.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psmp-io/psmp/pkg/models"
	"github.com/psmp-io/psmp/pkg/storage"
)

// StateManager serializes lifecycle mutations per project. Reads are served
// straight from storage.
type StateManager struct {
	store storage.Store
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStateManager creates a state manager over the given store.
func NewStateManager(store storage.Store) *StateManager {
	return &StateManager{
		store: store,
		log:   slog.With("component", "state-manager"),
		locks: make(map[string]*sync.Mutex),
	}
}

// projectLock returns the mutex serializing mutations of one project.
func (m *StateManager) projectLock(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[projectID] = lock
	}
	return lock
}

func newEvent(eventType models.EventType, projectID, actor string, payload map[string]any) *models.PSMPEvent {
	return &models.PSMPEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Payload:   payload,
	}
}

func (m *StateManager) appendEvent(ctx context.Context, eventType models.EventType, projectID, actor string, payload map[string]any) error {
	return m.store.AppendEvent(ctx, newEvent(eventType, projectID, actor, payload))
}

// CreateProject registers a new project in INITIALIZED state. Project names
// are unique across the engine.
func (m *StateManager) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidDeclaration)
	}

	if _, err := m.store.GetProjectByName(ctx, req.Name); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateProject, req.Name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Status:      models.ProjectStatusInitialized,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    req.Metadata,
	}
	// One transaction: the project row and its creation event land together.
	err := m.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateProject(project); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(models.EventTypeProjectCreated, project.ID, models.ActorSystem,
			map[string]any{"name": project.Name}))
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("Project created", "project_id", project.ID, "name", project.Name)
	return project, nil
}

// GetProject returns one project.
func (m *StateManager) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return nil, err
	}
	return project, nil
}

// ListProjects returns projects matching the filters, in creation order.
func (m *StateManager) ListProjects(ctx context.Context, filters models.ProjectFilters) ([]*models.Project, error) {
	projects, err := m.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.Project
	for _, p := range projects {
		if filters.Status != "" && p.Status != filters.Status {
			continue
		}
		out = append(out, p)
	}
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// TransitionProject moves a project along the lifecycle adjacency set and
// appends a STATE_TRANSITION event.
func (m *StateManager) TransitionProject(ctx context.Context, projectID string, next models.ProjectStatus, actor, reason string) (*models.Project, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	return m.transitionLocked(ctx, projectID, next, actor, models.EventTypeStateTransition,
		map[string]any{"reason": reason})
}

// transitionLocked performs the transition under an already-held project
// lock, emitting the given event type. The engine uses this to emit
// PROJECT_BLOCKED / PROJECT_UNBLOCKED instead of plain transitions.
func (m *StateManager) transitionLocked(ctx context.Context, projectID string, next models.ProjectStatus, actor string, eventType models.EventType, payload map[string]any) (*models.Project, error) {
	project, err := m.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !next.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !project.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, project.Status, next)
	}

	from := project.Status
	project.Status = next
	project.UpdatedAt = time.Now().UTC()

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(from)
	payload["to"] = string(next)
	err = m.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateProject(project); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(eventType, projectID, actor, payload))
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("Project transitioned",
		"project_id", projectID, "from", from, "to", next, "actor", actor)
	return project, nil
}

// CreateTask adds a task to a project. Task dependencies must reference
// existing tasks of the same project and keep the dependency graph acyclic.
func (m *StateManager) CreateTask(ctx context.Context, projectID string, req models.CreateTaskRequest, actor string) (*models.Task, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := m.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status == models.ProjectStatusArchived {
		return nil, fmt.Errorf("%w: %s -> task creation", ErrInvalidTransition, project.Status)
	}
	if req.Title == "" {
		return nil, NewDeclarationError("title", errors.New("is required"))
	}
	if req.Priority < 0 || req.Priority > 5 {
		return nil, NewDeclarationError("priority", fmt.Errorf("%d outside 0..5", req.Priority))
	}

	existing, err := m.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string][]string, len(existing)+1)
	for _, t := range existing {
		byID[t.ID] = t.Dependencies
	}
	for _, dep := range req.Dependencies {
		if _, ok := byID[dep]; !ok {
			return nil, NewDeclarationError("dependencies", fmt.Errorf("unknown task %q", dep))
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		Title:          req.Title,
		Status:         models.TaskStatusPending,
		Priority:       req.Priority,
		Milestone:      req.Milestone,
		EstimatedHours: req.EstimatedHours,
		AgentType:      req.AgentType,
		Dependencies:   req.Dependencies,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	byID[task.ID] = task.Dependencies
	if hasCycle(byID) {
		return nil, fmt.Errorf("%w: task %q", ErrDependencyCycle, req.Title)
	}

	err = m.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateTask(task); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(models.EventTypeTaskCreated, projectID, actor,
			map[string]any{"task_id": task.ID, "title": task.Title}))
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// TransitionTask moves a task along its lifecycle.
func (m *StateManager) TransitionTask(ctx context.Context, taskID string, next models.TaskStatus, actor string) (*models.Task, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, err
	}

	lock := m.projectLock(task.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock; the first read raced other writers.
	task, err = m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !next.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !task.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, next)
	}

	from := task.Status
	task.Status = next
	task.UpdatedAt = time.Now().UTC()
	err = m.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateTask(task); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(models.EventTypeTaskStatusChanged, task.ProjectID, actor,
			map[string]any{"task_id": task.ID, "from": string(from), "to": string(next)}))
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns a project's tasks matching the filters.
func (m *StateManager) ListTasks(ctx context.Context, projectID string, filters models.TaskFilters) ([]*models.Task, error) {
	if _, err := m.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tasks, err := m.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	for _, t := range tasks {
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.Milestone != "" && t.Milestone != filters.Milestone {
			continue
		}
		if filters.AgentType != "" && t.AgentType != filters.AgentType {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Events returns a project's governance event log in append order.
func (m *StateManager) Events(ctx context.Context, projectID string) ([]*models.PSMPEvent, error) {
	if _, err := m.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return m.store.ListEventsByProject(ctx, projectID)
}

// CreateCheckpoint snapshots the project, its tasks and its live artifact
// ids as a restorable unit.
func (m *StateManager) CreateCheckpoint(ctx context.Context, projectID, description string) (*models.Checkpoint, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := m.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := m.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	artifacts, err := m.store.ListArtifactsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	checkpoint := &models.Checkpoint{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		CreatedAt:   time.Now().UTC(),
		Description: description,
		Project:     *project,
	}
	for _, t := range tasks {
		checkpoint.Tasks = append(checkpoint.Tasks, *t)
	}
	for _, a := range artifacts {
		if !a.Revoked {
			checkpoint.ArtifactIDs = append(checkpoint.ArtifactIDs, a.ID)
		}
	}
	if err := m.store.CreateCheckpoint(ctx, checkpoint); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// ListCheckpoints returns a project's checkpoints in creation order.
func (m *StateManager) ListCheckpoints(ctx context.Context, projectID string) ([]*models.Checkpoint, error) {
	if _, err := m.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return m.store.ListCheckpointsByProject(ctx, projectID)
}

// RestoreCheckpoint rewinds the project to the snapshot: checkpointed tasks
// come back, tasks created after the checkpoint are removed, and artifact
// liveness is reset to the snapshot's live set. The event log is never
// rewound; a STATE_TRANSITION event records the restore.
func (m *StateManager) RestoreCheckpoint(ctx context.Context, checkpointID, actor string) (*models.Project, error) {
	checkpoint, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
		}
		return nil, err
	}

	lock := m.projectLock(checkpoint.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.GetProject(ctx, checkpoint.ProjectID)
	if err != nil {
		return nil, err
	}
	currentTasks, err := m.store.ListTasksByProject(ctx, checkpoint.ProjectID)
	if err != nil {
		return nil, err
	}
	artifacts, err := m.store.ListArtifactsByProject(ctx, checkpoint.ProjectID)
	if err != nil {
		return nil, err
	}

	snapshotTasks := make(map[string]bool, len(checkpoint.Tasks))
	for _, t := range checkpoint.Tasks {
		snapshotTasks[t.ID] = true
	}
	liveAtCheckpoint := make(map[string]bool, len(checkpoint.ArtifactIDs))
	for _, id := range checkpoint.ArtifactIDs {
		liveAtCheckpoint[id] = true
	}

	restored := checkpoint.Project
	restored.UpdatedAt = time.Now().UTC()

	err = m.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateProject(&restored); err != nil {
			return err
		}
		for i := range checkpoint.Tasks {
			task := checkpoint.Tasks[i]
			if err := tx.UpdateTask(&task); err != nil {
				return err
			}
		}
		for _, t := range currentTasks {
			if !snapshotTasks[t.ID] {
				if err := tx.DeleteTask(t.ID); err != nil {
					return err
				}
			}
		}
		for _, a := range artifacts {
			wantRevoked := !liveAtCheckpoint[a.ID]
			if a.Revoked != wantRevoked {
				a.Revoked = wantRevoked
				if err := tx.PutArtifact(a); err != nil {
					return err
				}
			}
		}
		return tx.AppendEvent(newEvent(models.EventTypeStateTransition, checkpoint.ProjectID, actor,
			map[string]any{
				"from":   string(current.Status),
				"to":     string(restored.Status),
				"reason": "restored_from=" + checkpointID,
			}))
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("Checkpoint restored",
		"project_id", checkpoint.ProjectID, "checkpoint_id", checkpointID)
	return &restored, nil
}

// hasCycle runs a three-color DFS over the task dependency graph.
func hasCycle(graph map[string][]string) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(graph))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range graph[id] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range graph {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}
