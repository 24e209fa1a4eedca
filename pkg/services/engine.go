package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/deps"
	"github.com/psmp-io/psmp/pkg/metrics"
	"github.com/psmp-io/psmp/pkg/models"
	"github.com/psmp-io/psmp/pkg/storage"
)

// Engine is the artifact registry and dependency-conflict resolver. It owns
// the governance consequences of declarations: conflict events, automatic
// blocking, resolutions and the unified manifest.
type Engine struct {
	store storage.Store
	state *StateManager
	mode  config.GovernanceMode
	log   *slog.Logger
}

// NewEngine creates the engine. The state manager must share the same store
// so per-project locks cover both.
func NewEngine(store storage.Store, state *StateManager, mode config.GovernanceMode) *Engine {
	return &Engine{
		store: store,
		state: state,
		mode:  mode,
		log:   slog.With("component", "psmp-engine"),
	}
}

// DeclareArtifact runs the full declaration flow: refuse when blocked,
// validate, persist, detect conflicts, and block the project when a critical
// conflict appears outside playground mode. The artifact itself is always
// registered once validation passes, even when it triggers blocking.
func (e *Engine) DeclareArtifact(ctx context.Context, req models.DeclareArtifactRequest) (*models.Artifact, []models.DependencyConflict, error) {
	lock := e.state.projectLock(req.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.state.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if project.Status == models.ProjectStatusBlocked {
		report, err := e.blockingReportLocked(ctx, project)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, &BlockedError{Report: report}
	}

	if err := validateDeclaration(req); err != nil {
		return nil, nil, err
	}

	// Redeclaring an existing artifact id is idempotent: return the stored
	// artifact without a second ARTIFACT_DECLARED event.
	if req.ArtifactID != "" {
		existing, err := e.store.GetArtifact(ctx, req.ArtifactID)
		if err == nil && existing.ProjectID == req.ProjectID {
			conflicts, cErr := e.conflictsLocked(ctx, req.ProjectID)
			return existing, conflicts, cErr
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, err
		}
	}

	artifactID := req.ArtifactID
	if artifactID == "" {
		artifactID = uuid.NewString()
	}
	artifact := &models.Artifact{
		ID:             artifactID,
		ProjectID:      req.ProjectID,
		AgentID:        req.AgentID,
		Type:           req.Type,
		ContentSummary: req.Summary,
		Dependencies:   req.Dependencies,
		CreatedAt:      time.Now().UTC(),
		Metadata:       req.Metadata,
	}
	// One transaction: the artifact and its declaration event land together.
	err = e.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.PutArtifact(artifact); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(models.EventTypeArtifactDeclared, req.ProjectID, req.AgentID,
			map[string]any{"artifact_id": artifact.ID, "artifact_type": string(artifact.Type)}))
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.ArtifactsDeclared.WithLabelValues(string(artifact.Type)).Inc()

	conflicts, err := e.conflictsLocked(ctx, req.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	// Emit events only for conflicts this declaration participates in.
	declared := make(map[string]bool, len(req.Dependencies))
	for _, d := range req.Dependencies {
		declared[d.Name] = true
	}
	critical := false
	for _, c := range conflicts {
		if c.Severity == models.SeverityCritical {
			critical = true
		}
		if !declared[c.Library] {
			continue
		}
		metrics.ConflictsDetected.WithLabelValues(string(c.Severity)).Inc()
		if err := e.state.appendEvent(ctx, models.EventTypeConflictDetected, req.ProjectID, models.ActorSystem,
			map[string]any{
				"library":  c.Library,
				"scope":    string(c.Scope),
				"severity": string(c.Severity),
			}); err != nil {
			return nil, nil, err
		}
		e.log.Warn("Dependency conflict detected",
			"project_id", req.ProjectID, "library", c.Library, "severity", c.Severity)
	}

	if critical && e.mode != config.GovernanceModePlayground && project.Status.CanTransitionTo(models.ProjectStatusBlocked) {
		if _, err := e.state.transitionLocked(ctx, req.ProjectID, models.ProjectStatusBlocked,
			models.ActorSystem, models.EventTypeProjectBlocked,
			map[string]any{"conflicts": len(conflicts)}); err != nil {
			return nil, nil, err
		}
		metrics.ProjectsBlocked.Inc()
	}

	return artifact, conflicts, nil
}

// RevokeArtifact marks an artifact revoked so it no longer contributes
// declarations. If that clears the last critical conflict of a blocked
// project, the project is unblocked.
func (e *Engine) RevokeArtifact(ctx context.Context, artifactID, actor string) (*models.Artifact, error) {
	artifact, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, artifactID)
		}
		return nil, err
	}
	if artifact.Revoked {
		return artifact, nil
	}

	lock := e.state.projectLock(artifact.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	artifact.Revoked = true
	err = e.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.PutArtifact(artifact); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(models.EventTypeArtifactRevoked, artifact.ProjectID, actor,
			map[string]any{"artifact_id": artifact.ID}))
	})
	if err != nil {
		return nil, err
	}

	if err := e.maybeUnblockLocked(ctx, artifact.ProjectID, actor,
		map[string]any{"reason": "artifact_revoked", "artifact_id": artifact.ID}); err != nil {
		return nil, err
	}
	return artifact, nil
}

// GetArtifact returns one artifact.
func (e *Engine) GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error) {
	artifact, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, artifactID)
		}
		return nil, err
	}
	return artifact, nil
}

// ListArtifacts returns a project's artifacts, revoked ones included.
func (e *Engine) ListArtifacts(ctx context.Context, projectID string) ([]*models.Artifact, error) {
	if _, err := e.state.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.store.ListArtifactsByProject(ctx, projectID)
}

// Conflicts returns the project's current conflicts, resolutions masked and
// governance mode applied.
func (e *Engine) Conflicts(ctx context.Context, projectID string) ([]models.DependencyConflict, error) {
	lock := e.state.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.state.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.conflictsLocked(ctx, projectID)
}

// BlockingReport summarizes why a project is (or would be) blocked.
func (e *Engine) BlockingReport(ctx context.Context, projectID string) (*models.BlockingReport, error) {
	lock := e.state.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.state.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.blockingReportLocked(ctx, project)
}

// ResolveConflict records an actor's chosen constraint for a conflicted
// library and unblocks the project when no critical conflicts remain.
func (e *Engine) ResolveConflict(ctx context.Context, projectID, library, chosenConstraint, actor string) (*models.ConflictResolution, error) {
	lock := e.state.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.state.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	normalized, err := deps.NormalizeConstraint(chosenConstraint)
	if err != nil {
		return nil, NewDeclarationError("chosen_constraint", err)
	}

	conflicts, err := e.conflictsLocked(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !hasLibraryConflict(conflicts, library) {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, library)
	}

	resolution := &models.ConflictResolution{
		ProjectID:        projectID,
		Library:          library,
		ChosenConstraint: normalized,
		Actor:            actor,
		ResolvedAt:       time.Now().UTC(),
	}
	err = e.store.Tx(ctx, func(tx storage.Tx) error {
		if err := tx.PutResolution(resolution); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(models.EventTypeConflictResolved, projectID, actor,
			map[string]any{"library": library, "chosen_constraint": normalized}))
	})
	if err != nil {
		return nil, err
	}

	if err := e.maybeUnblockLocked(ctx, projectID, actor,
		map[string]any{"reason": "conflict_resolved", "library": library}); err != nil {
		return nil, err
	}
	return resolution, nil
}

// maybeUnblockLocked transitions a BLOCKED project back to IN_PROGRESS when
// no critical conflicts remain.
func (e *Engine) maybeUnblockLocked(ctx context.Context, projectID, actor string, payload map[string]any) error {
	project, err := e.state.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Status != models.ProjectStatusBlocked {
		return nil
	}
	remaining, err := e.conflictsLocked(ctx, projectID)
	if err != nil {
		return err
	}
	for _, c := range remaining {
		if c.Severity == models.SeverityCritical {
			return nil
		}
	}
	_, err = e.state.transitionLocked(ctx, projectID, models.ProjectStatusInProgress,
		actor, models.EventTypeProjectUnblocked, payload)
	return err
}

// conflictsLocked computes current conflicts from live declarations, with
// resolved libraries masked and the governance mode applied.
func (e *Engine) conflictsLocked(ctx context.Context, projectID string) ([]models.DependencyConflict, error) {
	decls, err := e.liveDeclarations(ctx, projectID)
	if err != nil {
		return nil, err
	}

	resolutions, err := e.store.ListResolutionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]bool, len(resolutions))
	for _, r := range resolutions {
		resolved[r.Library] = true
	}

	var unresolved []deps.Declaration
	for _, d := range decls {
		if !resolved[d.Spec.Name] {
			unresolved = append(unresolved, d)
		}
	}

	conflicts, err := deps.DetectConflicts(unresolved)
	if err != nil {
		return nil, err
	}

	// Strict governance treats every conflict as blocking.
	if e.mode == config.GovernanceModeStrict {
		for i := range conflicts {
			conflicts[i].Severity = models.SeverityCritical
		}
	}
	return conflicts, nil
}

func (e *Engine) blockingReportLocked(ctx context.Context, project *models.Project) (*models.BlockingReport, error) {
	conflicts, err := e.conflictsLocked(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return &models.BlockingReport{
		ProjectID:      project.ID,
		Status:         project.Status,
		TotalConflicts: len(conflicts),
		Conflicts:      conflicts,
	}, nil
}

// liveDeclarations flattens the dependency declarations of all non-revoked
// artifacts.
func (e *Engine) liveDeclarations(ctx context.Context, projectID string) ([]deps.Declaration, error) {
	artifacts, err := e.store.ListArtifactsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var decls []deps.Declaration
	for _, a := range artifacts {
		if a.Revoked {
			continue
		}
		for _, spec := range a.Dependencies {
			decls = append(decls, deps.Declaration{
				Spec:       spec,
				ArtifactID: a.ID,
				DeclaredAt: a.CreatedAt,
			})
		}
	}
	return decls, nil
}

var scopeOrder = map[models.DependencyScope]int{
	models.ScopeRuntime: 0,
	models.ScopeDev:     1,
	models.ScopeBuild:   2,
}

// GenerateManifest merges all live declarations into one entry per
// (scope, library). Unresolved critical conflicts make the project state
// ambiguous, so manifest generation refuses with the blocking report until
// every critical conflict carries a resolution. Resolutions win; otherwise
// the canonical intersection is used, falling back to the most recent
// declaration when a warning-level group is unsatisfiable.
func (e *Engine) GenerateManifest(ctx context.Context, projectID string) ([]models.ManifestEntry, error) {
	lock := e.state.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.state.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	conflicts, err := e.conflictsLocked(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if c.Severity == models.SeverityCritical {
			report, rErr := e.blockingReportLocked(ctx, project)
			if rErr != nil {
				return nil, rErr
			}
			return nil, &BlockedError{Report: report}
		}
	}

	decls, err := e.liveDeclarations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	resolutions, err := e.store.ListResolutionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]string, len(resolutions))
	for _, r := range resolutions {
		resolved[r.Library] = r.ChosenConstraint
	}

	type key struct {
		scope   models.DependencyScope
		library string
	}
	groups := make(map[key][]deps.Declaration)
	for _, d := range decls {
		k := key{scope: d.Spec.Scope, library: d.Spec.Name}
		groups[k] = append(groups[k], d)
	}

	entries := make([]models.ManifestEntry, 0, len(groups))
	for k, group := range groups {
		constraint, ok := resolved[k.library]
		if !ok {
			var err error
			constraint, _, err = deps.MergedConstraint(group)
			if err != nil {
				return nil, err
			}
		}
		entries = append(entries, models.ManifestEntry{
			Library:    k.library,
			Constraint: constraint,
			Scope:      k.scope,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if scopeOrder[entries[i].Scope] != scopeOrder[entries[j].Scope] {
			return scopeOrder[entries[i].Scope] < scopeOrder[entries[j].Scope]
		}
		return entries[i].Library < entries[j].Library
	})
	return entries, nil
}

// RenderManifest renders entries in requirements format, one section per
// scope.
func RenderManifest(entries []models.ManifestEntry) string {
	var b strings.Builder
	var current models.DependencyScope
	for _, entry := range entries {
		if entry.Scope != current {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "# %s\n", entry.Scope)
			current = entry.Scope
		}
		b.WriteString(entry.Library)
		b.WriteString(entry.Constraint)
		b.WriteByte('\n')
	}
	return b.String()
}

// validateDeclaration checks structural validity of a declaration request.
func validateDeclaration(req models.DeclareArtifactRequest) error {
	if req.AgentID == "" {
		return NewDeclarationError("agent_id", errors.New("is required"))
	}
	if !req.Type.IsValid() {
		return NewDeclarationError("artifact_type", fmt.Errorf("unknown type %q", req.Type))
	}
	if len(req.Summary) > models.MaxSummaryLength {
		return NewDeclarationError("summary",
			fmt.Errorf("%d characters exceeds the %d character limit", len(req.Summary), models.MaxSummaryLength))
	}
	for i, dep := range req.Dependencies {
		if dep.Name == "" {
			return NewDeclarationError(fmt.Sprintf("dependencies[%d].name", i), errors.New("is required"))
		}
		if !dep.Scope.IsValid() {
			return NewDeclarationError(fmt.Sprintf("dependencies[%d].scope", i),
				fmt.Errorf("unknown scope %q", dep.Scope))
		}
		if dep.Purpose == "" {
			return NewDeclarationError(fmt.Sprintf("dependencies[%d].purpose", i), errors.New("is required"))
		}
		if _, err := deps.Parse(dep.VersionConstraint); err != nil {
			return NewDeclarationError(fmt.Sprintf("dependencies[%d].version_constraint", i), err)
		}
	}
	return nil
}

func hasLibraryConflict(conflicts []models.DependencyConflict, library string) bool {
	for _, c := range conflicts {
		if c.Library == library {
			return true
		}
	}
	return false
}
