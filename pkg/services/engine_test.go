package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/models"
)

func newTestEngine(t *testing.T, mode config.GovernanceMode) (*Engine, *StateManager) {
	t.Helper()
	store := newTestStore(t)
	state := NewStateManager(store)
	return NewEngine(store, state, mode), state
}

// inProgressProject creates a project and walks it to IN_PROGRESS.
func inProgressProject(t *testing.T, m *StateManager) *models.Project {
	t.Helper()
	ctx := context.Background()
	project, err := m.CreateProject(ctx, models.CreateProjectRequest{Name: t.Name()})
	require.NoError(t, err)
	_, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusPlanning, "planner", "")
	require.NoError(t, err)
	project, err = m.TransitionProject(ctx, project.ID, models.ProjectStatusInProgress, "planner", "")
	require.NoError(t, err)
	return project
}

func dep(name, constraint string, scope models.DependencyScope, agent string) models.DependencySpec {
	return models.DependencySpec{
		Name:              name,
		VersionConstraint: constraint,
		Scope:             scope,
		Purpose:           "required by " + agent,
		DeclaredByAgent:   agent,
	}
}

func declaration(projectID, agent string, specs ...models.DependencySpec) models.DeclareArtifactRequest {
	return models.DeclareArtifactRequest{
		ProjectID:    projectID,
		AgentID:      agent,
		Type:         models.ArtifactTypeCode,
		Summary:      "generated module",
		Dependencies: specs,
	}
}

func TestDeclareArtifactValidation(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.DeclareArtifactRequest
	}{
		{"missing agent", models.DeclareArtifactRequest{
			ProjectID: project.ID, Type: models.ArtifactTypeCode,
		}},
		{"unknown artifact type", models.DeclareArtifactRequest{
			ProjectID: project.ID, AgentID: "a", Type: "binary",
		}},
		{"summary too long", models.DeclareArtifactRequest{
			ProjectID: project.ID, AgentID: "a", Type: models.ArtifactTypeCode,
			Summary: string(make([]byte, models.MaxSummaryLength+1)),
		}},
		{"unnamed dependency", declaration(project.ID, "a",
			dep("", ">=1.0", models.ScopeRuntime, "a"))},
		{"bad scope", declaration(project.ID, "a",
			dep("requests", ">=1.0", "test", "a"))},
		{"bad constraint", declaration(project.ID, "a",
			dep("requests", ">>=1.0", models.ScopeRuntime, "a"))},
		{"missing purpose", declaration(project.ID, "a",
			models.DependencySpec{
				Name: "requests", VersionConstraint: ">=1.0",
				Scope: models.ScopeRuntime, DeclaredByAgent: "a",
			})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := engine.DeclareArtifact(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDeclaration)
			var dErr *DeclarationError
			assert.ErrorAs(t, err, &dErr)
		})
	}

	_, _, err := engine.DeclareArtifact(ctx, declaration("missing", "a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeclareConflictBlocksAndResolves(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, conflicts, err := engine.DeclareArtifact(ctx, declaration(project.ID, "data-scientist",
		dep("requests", "==2.31.0", models.ScopeRuntime, "data-scientist")))
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// Disjoint with the exact pin: critical, and the project blocks.
	_, conflicts, err = engine.DeclareArtifact(ctx, declaration(project.ID, "backend-dev",
		dep("requests", ">=2.32.0", models.ScopeRuntime, "backend-dev")))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "requests", conflicts[0].Library)
	assert.Equal(t, models.SeverityCritical, conflicts[0].Severity)
	assert.NotEmpty(t, conflicts[0].SuggestedResolutions)
	require.Len(t, conflicts[0].Requirements, 2)
	assert.Equal(t, "backend-dev", conflicts[0].Requirements[0].Agent)

	blocked, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusBlocked, blocked.Status)

	// Further declarations are refused with the blocking report.
	_, _, err = engine.DeclareArtifact(ctx, declaration(project.ID, "mlops-engineer",
		dep("boto3", ">=1.28", models.ScopeRuntime, "mlops-engineer")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProjectBlocked)
	var bErr *BlockedError
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, project.ID, bErr.Report.ProjectID)
	assert.Equal(t, 1, bErr.Report.TotalConflicts)
	require.Len(t, bErr.Report.Conflicts, 1)
	assert.Equal(t, "requests", bErr.Report.Conflicts[0].Library)

	// Resolving an unconflicted library is refused.
	_, err = engine.ResolveConflict(ctx, project.ID, "flask", ">=2.0", "human-lead")
	assert.ErrorIs(t, err, ErrConflictNotFound)

	resolution, err := engine.ResolveConflict(ctx, project.ID, "requests", ">=2.32.0", "human-lead")
	require.NoError(t, err)
	assert.Equal(t, ">=2.32.0", resolution.ChosenConstraint)
	assert.Equal(t, "human-lead", resolution.Actor)

	unblocked, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, unblocked.Status)

	remaining, err := engine.Conflicts(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// The event log tells the whole story in order.
	events, err := state.Events(ctx, project.ID)
	require.NoError(t, err)
	var types []models.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventTypeProjectCreated,
		models.EventTypeStateTransition,
		models.EventTypeStateTransition,
		models.EventTypeArtifactDeclared,
		models.EventTypeArtifactDeclared,
		models.EventTypeConflictDetected,
		models.EventTypeProjectBlocked,
		models.EventTypeConflictResolved,
		models.EventTypeProjectUnblocked,
	}, types)
}

func TestDeclareWarningDoesNotBlock(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "backend-dev",
		dep("requests", ">=2.0", models.ScopeRuntime, "backend-dev")))
	require.NoError(t, err)

	_, conflicts, err := engine.DeclareArtifact(ctx, declaration(project.ID, "data-scientist",
		dep("requests", "==2.31.0", models.ScopeRuntime, "data-scientist")))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityWarning, conflicts[0].Severity)

	current, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, current.Status)
}

func TestStrictModeEscalatesWarnings(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeStrict)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "backend-dev",
		dep("requests", ">=2.0", models.ScopeRuntime, "backend-dev")))
	require.NoError(t, err)

	_, conflicts, err := engine.DeclareArtifact(ctx, declaration(project.ID, "data-scientist",
		dep("requests", "==2.31.0", models.ScopeRuntime, "data-scientist")))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityCritical, conflicts[0].Severity)

	current, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusBlocked, current.Status)
}

func TestPlaygroundModeNeverBlocks(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModePlayground)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "a",
		dep("requests", "==2.31.0", models.ScopeRuntime, "a")))
	require.NoError(t, err)

	_, conflicts, err := engine.DeclareArtifact(ctx, declaration(project.ID, "b",
		dep("requests", "==2.32.0", models.ScopeRuntime, "b")))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityCritical, conflicts[0].Severity)

	// Conflicts are still surfaced, but the project keeps moving.
	current, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, current.Status)
}

func TestDeclareArtifactIdempotent(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	req := declaration(project.ID, "backend-dev",
		dep("flask", ">=2.0", models.ScopeRuntime, "backend-dev"))
	req.ArtifactID = "art-1"

	first, _, err := engine.DeclareArtifact(ctx, req)
	require.NoError(t, err)
	second, _, err := engine.DeclareArtifact(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	events, err := state.Events(ctx, project.ID)
	require.NoError(t, err)
	declared := 0
	for _, e := range events {
		if e.Type == models.EventTypeArtifactDeclared {
			declared++
		}
	}
	assert.Equal(t, 1, declared)
}

func TestRevokeArtifactUnblocks(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "a",
		dep("requests", "==2.31.0", models.ScopeRuntime, "a")))
	require.NoError(t, err)

	offender, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "b",
		dep("requests", "==2.32.0", models.ScopeRuntime, "b")))
	require.NoError(t, err)

	blocked, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusBlocked, blocked.Status)

	revoked, err := engine.RevokeArtifact(ctx, offender.ID, "human-lead")
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)

	// Revoking again is a no-op.
	_, err = engine.RevokeArtifact(ctx, offender.ID, "human-lead")
	require.NoError(t, err)

	current, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, current.Status)

	conflicts, err := engine.Conflicts(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = engine.RevokeArtifact(ctx, "missing", "human-lead")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCrossScopeConflictIsWarning(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "backend-dev",
		dep("pytest", "==7.0", models.ScopeRuntime, "backend-dev")))
	require.NoError(t, err)

	_, conflicts, err := engine.DeclareArtifact(ctx, declaration(project.ID, "qa-engineer",
		dep("pytest", ">=8.0", models.ScopeDev, "qa-engineer")))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityWarning, conflicts[0].Severity)
	assert.Equal(t, models.ScopeRuntime, conflicts[0].Scope)

	current, err := state.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, current.Status)
}

func TestGenerateManifest(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "data-scientist",
		dep("requests", "==2.31.0", models.ScopeRuntime, "data-scientist"),
		dep("flask", ">=2.0,<3.0", models.ScopeRuntime, "data-scientist")))
	require.NoError(t, err)

	_, _, err = engine.DeclareArtifact(ctx, declaration(project.ID, "backend-dev",
		dep("requests", ">=2.32.0", models.ScopeRuntime, "backend-dev"),
		dep("flask", ">=2.2", models.ScopeRuntime, "backend-dev"),
		dep("pytest", ">=8.0", models.ScopeDev, "qa-engineer"),
		dep("setuptools", "*", models.ScopeBuild, "backend-dev")))
	require.NoError(t, err)

	// The requests clash blocked the project; resolve it, then render.
	_, err = engine.ResolveConflict(ctx, project.ID, "requests", ">=2.32.0", "human-lead")
	require.NoError(t, err)

	entries, err := engine.GenerateManifest(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, models.ManifestEntry{Library: "flask", Constraint: ">=2.2,<3.0", Scope: models.ScopeRuntime}, entries[0])
	assert.Equal(t, models.ManifestEntry{Library: "requests", Constraint: ">=2.32.0", Scope: models.ScopeRuntime}, entries[1])
	assert.Equal(t, models.ManifestEntry{Library: "pytest", Constraint: ">=8.0", Scope: models.ScopeDev}, entries[2])
	assert.Equal(t, models.ManifestEntry{Library: "setuptools", Constraint: "", Scope: models.ScopeBuild}, entries[3])

	rendered := RenderManifest(entries)
	assert.Equal(t,
		"# runtime\nflask>=2.2,<3.0\nrequests>=2.32.0\n\n# dev\npytest>=8.0\n\n# build\nsetuptools\n",
		rendered)
}

func TestGenerateManifestBlockedByCriticalConflict(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	_, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "data-scientist",
		dep("requests", "==2.31.0", models.ScopeRuntime, "data-scientist")))
	require.NoError(t, err)
	_, _, err = engine.DeclareArtifact(ctx, declaration(project.ID, "backend-dev",
		dep("requests", ">=2.32.0", models.ScopeRuntime, "backend-dev")))
	require.NoError(t, err)

	_, err = engine.GenerateManifest(ctx, project.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProjectBlocked)
	var bErr *BlockedError
	require.ErrorAs(t, err, &bErr)
	require.Len(t, bErr.Report.Conflicts, 1)
	assert.Equal(t, "requests", bErr.Report.Conflicts[0].Library)

	// Resolution clears the refusal.
	_, err = engine.ResolveConflict(ctx, project.ID, "requests", ">=2.32.0", "human-lead")
	require.NoError(t, err)
	entries, err := engine.GenerateManifest(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ">=2.32.0", entries[0].Constraint)
}

func TestGenerateManifestRevokedExcluded(t *testing.T) {
	engine, state := newTestEngine(t, config.GovernanceModeAdaptive)
	project := inProgressProject(t, state)
	ctx := context.Background()

	keep, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "a",
		dep("numpy", ">=1.24", models.ScopeRuntime, "a")))
	require.NoError(t, err)
	drop, _, err := engine.DeclareArtifact(ctx, declaration(project.ID, "b",
		dep("pandas", ">=2.0", models.ScopeRuntime, "b")))
	require.NoError(t, err)
	_ = keep

	_, err = engine.RevokeArtifact(ctx, drop.ID, "human-lead")
	require.NoError(t, err)

	entries, err := engine.GenerateManifest(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "numpy", entries[0].Library)
}
