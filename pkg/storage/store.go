// Package storage persists governed entities and the append-only event log.
// Two backends implement the same Store contract: an embedded BoltDB file for
// single-node deployments and PostgreSQL for shared ones.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/psmp-io/psmp/pkg/models"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable indicates the backend could not serve the operation, e.g. a
// closed database or an unreachable server. Callers map it to 503.
var ErrUnavailable = errors.New("storage unavailable")

// unavailable wraps backend failures in ErrUnavailable. ErrNotFound passes
// through untouched.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error

	// Artifacts (immutable apart from revocation)
	PutArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifactsByProject(ctx context.Context, projectID string) ([]*models.Artifact, error)

	// Conflict resolutions, keyed by (project, library)
	PutResolution(ctx context.Context, resolution *models.ConflictResolution) error
	GetResolution(ctx context.Context, projectID, library string) (*models.ConflictResolution, error)
	ListResolutionsByProject(ctx context.Context, projectID string) ([]*models.ConflictResolution, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error)
	ListCheckpointsByProject(ctx context.Context, projectID string) ([]*models.Checkpoint, error)

	// Append-only event log, ordered per project
	AppendEvent(ctx context.Context, event *models.PSMPEvent) error
	ListEventsByProject(ctx context.Context, projectID string) ([]*models.PSMPEvent, error)

	// Tx runs fn inside one write transaction; either every mutation in fn
	// commits or none does.
	Tx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx exposes the mutations available inside a Store.Tx callback.
type Tx interface {
	CreateProject(project *models.Project) error
	UpdateProject(project *models.Project) error
	CreateTask(task *models.Task) error
	UpdateTask(task *models.Task) error
	DeleteTask(id string) error
	PutArtifact(artifact *models.Artifact) error
	PutResolution(resolution *models.ConflictResolution) error
	CreateCheckpoint(checkpoint *models.Checkpoint) error
	AppendEvent(event *models.PSMPEvent) error
}
