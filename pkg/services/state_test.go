package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmp-io/psmp/pkg/models"
	"github.com/psmp-io/psmp/pkg/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestStateManager(t *testing.T) (*StateManager, storage.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewStateManager(store), store
}

func TestCreateProject(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "churn-model"})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInitialized, project.Status)
	assert.NotEmpty(t, project.ID)

	// Names are unique.
	_, err = m.CreateProject(ctx, models.CreateProjectRequest{Name: "churn-model"})
	assert.ErrorIs(t, err, ErrDuplicateProject)

	_, err = m.CreateProject(ctx, models.CreateProjectRequest{})
	assert.ErrorIs(t, err, ErrInvalidDeclaration)

	events, err := m.Events(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeProjectCreated, events[0].Type)
	assert.Equal(t, models.ActorSystem, events[0].Actor)
}

func TestTransitionProject(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)

	// INITIALIZED cannot jump straight to COMPLETED.
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusCompleted, "planner", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Self-transitions are forbidden.
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusInitialized, "planner", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	project, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusPlanning, "planner", "plan ready")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusPlanning, project.Status)

	project, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusInProgress, "planner", "")
	require.NoError(t, err)

	project, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusCompleted, "planner", "")
	require.NoError(t, err)

	project, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusArchived, "admin", "")
	require.NoError(t, err)

	// ARCHIVED is terminal.
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusPlanning, "admin", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	events, err := m.Events(ctx, project.ID)
	require.NoError(t, err)
	// Creation plus four successful transitions; failed attempts emit nothing.
	require.Len(t, events, 5)
	last := events[4]
	assert.Equal(t, models.EventTypeStateTransition, last.Type)
	assert.Equal(t, string(models.ProjectStatusCompleted), last.Payload["from"])
	assert.Equal(t, string(models.ProjectStatusArchived), last.Payload["to"])
}

func TestTransitionProjectNotFound(t *testing.T) {
	m, _ := newTestStateManager(t)
	_, err := m.TransitionProject(context.Background(), "missing", models.ProjectStatusPlanning, "x", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTaskValidation(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)

	_, err = m.CreateTask(ctx, project.ID, models.CreateTaskRequest{}, "planner")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)

	_, err = m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "t", Priority: 6}, "planner")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)

	_, err = m.CreateTask(ctx, project.ID, models.CreateTaskRequest{
		Title:        "t",
		Dependencies: []string{"no-such-task"},
	}, "planner")
	assert.ErrorIs(t, err, ErrInvalidDeclaration)

	a, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "design schema", Priority: 1}, "planner")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, a.Status)

	b, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{
		Title:        "implement schema",
		Priority:     2,
		Dependencies: []string{a.ID},
	}, "planner")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, b.Dependencies)
}

func TestCreateTaskOnArchivedProject(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusArchived, "admin", "")
	require.NoError(t, err)

	_, err = m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "t"}, "planner")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHasCycle(t *testing.T) {
	tests := []struct {
		name  string
		graph map[string][]string
		want  bool
	}{
		{"empty", map[string][]string{}, false},
		{"chain", map[string][]string{"a": nil, "b": {"a"}, "c": {"b"}}, false},
		{"diamond", map[string][]string{"a": nil, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}}, false},
		{"self loop", map[string][]string{"a": {"a"}}, true},
		{"two cycle", map[string][]string{"a": {"b"}, "b": {"a"}}, true},
		{"long cycle", map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}, "d": {"a"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasCycle(tt.graph))
		})
	}
}

func TestTransitionTask(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)
	task, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "t"}, "planner")
	require.NoError(t, err)

	// PENDING cannot complete without running.
	_, err = m.TransitionTask(ctx, task.ID, models.TaskStatusCompleted, "backend-dev")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	task, err = m.TransitionTask(ctx, task.ID, models.TaskStatusInProgress, "backend-dev")
	require.NoError(t, err)
	task, err = m.TransitionTask(ctx, task.ID, models.TaskStatusCompleted, "backend-dev")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)

	// Terminal.
	_, err = m.TransitionTask(ctx, task.ID, models.TaskStatusInProgress, "backend-dev")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestListTasksFilters(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)

	_, err = m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "a", Milestone: "m1", AgentType: "backend"}, "planner")
	require.NoError(t, err)
	b, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "b", Milestone: "m2", AgentType: "backend"}, "planner")
	require.NoError(t, err)
	_, err = m.TransitionTask(ctx, b.ID, models.TaskStatusInProgress, "backend-dev")
	require.NoError(t, err)

	tasks, err := m.ListTasks(ctx, project.ID, models.TaskFilters{Milestone: "m2"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].Title)

	tasks, err = m.ListTasks(ctx, project.ID, models.TaskFilters{Status: models.TaskStatusPending})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].Title)

	tasks, err = m.ListTasks(ctx, project.ID, models.TaskFilters{AgentType: "backend"})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestCheckpointRestore(t *testing.T) {
	m, _ := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusPlanning, "planner", "")
	require.NoError(t, err)
	task, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "t"}, "planner")
	require.NoError(t, err)

	checkpoint, err := m.CreateCheckpoint(ctx, project.ID, "after planning")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusPlanning, checkpoint.Project.Status)
	require.Len(t, checkpoint.Tasks, 1)

	eventsBefore, err := m.Events(ctx, project.ID)
	require.NoError(t, err)

	// Move past the checkpoint.
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusInProgress, "planner", "")
	require.NoError(t, err)
	_, err = m.TransitionTask(ctx, task.ID, models.TaskStatusInProgress, "backend-dev")
	require.NoError(t, err)

	restored, err := m.RestoreCheckpoint(ctx, checkpoint.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusPlanning, restored.Status)

	tasks, err := m.ListTasks(ctx, project.ID, models.TaskFilters{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)

	// The event log is never rewound; the restore appends on top.
	eventsAfter, err := m.Events(ctx, project.ID)
	require.NoError(t, err)
	require.Greater(t, len(eventsAfter), len(eventsBefore))
	last := eventsAfter[len(eventsAfter)-1]
	assert.Equal(t, models.EventTypeStateTransition, last.Type)
	assert.Equal(t, string(models.ProjectStatusInProgress), last.Payload["from"])
	assert.Equal(t, string(models.ProjectStatusPlanning), last.Payload["to"])
	assert.Equal(t, "restored_from="+checkpoint.ID, last.Payload["reason"])
}

func TestRestoreCheckpointPrunesLateState(t *testing.T) {
	m, store := newTestStateManager(t)
	ctx := context.Background()

	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: "p"})
	require.NoError(t, err)
	early, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "early"}, "planner")
	require.NoError(t, err)

	live := &models.Artifact{ID: "art-live", ProjectID: project.ID, AgentID: "a", Type: models.ArtifactTypeCode}
	require.NoError(t, store.PutArtifact(ctx, live))
	gone := &models.Artifact{ID: "art-gone", ProjectID: project.ID, AgentID: "a", Type: models.ArtifactTypeCode, Revoked: true}
	require.NoError(t, store.PutArtifact(ctx, gone))

	checkpoint, err := m.CreateCheckpoint(ctx, project.ID, "baseline")
	require.NoError(t, err)
	assert.Equal(t, []string{"art-live"}, checkpoint.ArtifactIDs)

	// Past the checkpoint: a new task, a new live artifact, the checkpointed
	// artifact revoked, the revoked one resurrected.
	late, err := m.CreateTask(ctx, project.ID, models.CreateTaskRequest{Title: "late"}, "planner")
	require.NoError(t, err)
	require.NoError(t, store.PutArtifact(ctx, &models.Artifact{
		ID: "art-new", ProjectID: project.ID, AgentID: "a", Type: models.ArtifactTypeCode,
	}))
	live.Revoked = true
	require.NoError(t, store.PutArtifact(ctx, live))
	gone.Revoked = false
	require.NoError(t, store.PutArtifact(ctx, gone))

	_, err = m.RestoreCheckpoint(ctx, checkpoint.ID, "admin")
	require.NoError(t, err)

	tasks, err := m.ListTasks(ctx, project.ID, models.TaskFilters{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, early.ID, tasks[0].ID)
	_, err = store.GetTask(ctx, late.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Exactly the checkpointed live set survives.
	artifacts, err := store.ListArtifactsByProject(ctx, project.ID)
	require.NoError(t, err)
	revoked := map[string]bool{}
	for _, a := range artifacts {
		revoked[a.ID] = a.Revoked
	}
	assert.False(t, revoked["art-live"])
	assert.True(t, revoked["art-gone"])
	assert.True(t, revoked["art-new"])
}

func TestRestoreCheckpointNotFound(t *testing.T) {
	m, _ := newTestStateManager(t)
	_, err := m.RestoreCheckpoint(context.Background(), "missing", "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}
