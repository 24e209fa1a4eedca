package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/psmp-io/psmp/pkg/models"
)

var (
	bucketProjects    = []byte("projects")
	bucketTasks       = []byte("tasks")
	bucketArtifacts   = []byte("artifacts")
	bucketResolutions = []byte("resolutions")
	bucketCheckpoints = []byte("checkpoints")
	bucketEvents      = []byte("events")
)

// BoltStore implements Store on an embedded BoltDB file. Events live in a
// nested bucket per project, keyed by big-endian sequence numbers so a cursor
// walk yields them in append order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "psmp.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketTasks,
			bucketArtifacts,
			bucketResolutions,
			bucketCheckpoints,
			bucketEvents,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// putDoc writes one JSON document inside an open write transaction.
func putDoc(tx *bolt.Tx, bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

// appendEventDoc appends one event to the project's nested bucket inside an
// open write transaction.
func appendEventDoc(tx *bolt.Tx, event *models.PSMPEvent) error {
	b, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(event.ProjectID))
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	return unavailable(s.db.Update(func(tx *bolt.Tx) error {
		return putDoc(tx, bucket, key, value)
	}))
}

func (s *BoltStore) get(bucket []byte, key string, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return json.Unmarshal(data, out)
	})
}

// Tx runs fn inside a single BoltDB write transaction.
func (s *BoltStore) Tx(_ context.Context, fn func(tx Tx) error) error {
	var fnErr error
	err := s.db.Update(func(btx *bolt.Tx) error {
		fnErr = fn(&boltTx{tx: btx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return unavailable(err)
}

// boltTx adapts a BoltDB write transaction to the Tx contract.
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) CreateProject(project *models.Project) error {
	return putDoc(t.tx, bucketProjects, project.ID, project)
}

func (t *boltTx) UpdateProject(project *models.Project) error {
	return t.CreateProject(project)
}

func (t *boltTx) CreateTask(task *models.Task) error {
	return putDoc(t.tx, bucketTasks, task.ID, task)
}

func (t *boltTx) UpdateTask(task *models.Task) error {
	return t.CreateTask(task)
}

func (t *boltTx) DeleteTask(id string) error {
	return t.tx.Bucket(bucketTasks).Delete([]byte(id))
}

func (t *boltTx) PutArtifact(artifact *models.Artifact) error {
	return putDoc(t.tx, bucketArtifacts, artifact.ID, artifact)
}

func (t *boltTx) PutResolution(resolution *models.ConflictResolution) error {
	return putDoc(t.tx, bucketResolutions,
		resolutionKey(resolution.ProjectID, resolution.Library), resolution)
}

func (t *boltTx) CreateCheckpoint(checkpoint *models.Checkpoint) error {
	return putDoc(t.tx, bucketCheckpoints, checkpoint.ID, checkpoint)
}

func (t *boltTx) AppendEvent(event *models.PSMPEvent) error {
	return appendEventDoc(t.tx, event)
}

// Project operations

func (s *BoltStore) CreateProject(_ context.Context, project *models.Project) error {
	return s.put(bucketProjects, project.ID, project)
}

func (s *BoltStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	var project models.Project
	if err := s.get(bucketProjects, id, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BoltStore) GetProjectByName(_ context.Context, name string) (*models.Project, error) {
	var found *models.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var project models.Project
			if err := json.Unmarshal(v, &project); err != nil {
				return err
			}
			if project.Name == name {
				found = &project
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: project %q", ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListProjects(_ context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var project models.Project
			if err := json.Unmarshal(v, &project); err != nil {
				return err
			}
			projects = append(projects, &project)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *BoltStore) UpdateProject(ctx context.Context, project *models.Project) error {
	return s.CreateProject(ctx, project) // upsert
}

// Task operations

func (s *BoltStore) CreateTask(_ context.Context, task *models.Task) error {
	return s.put(bucketTasks, task.ID, task)
}

func (s *BoltStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.get(bucketTasks, id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasksByProject(_ context.Context, projectID string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task models.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.ProjectID == projectID {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *BoltStore) UpdateTask(ctx context.Context, task *models.Task) error {
	return s.CreateTask(ctx, task)
}

// DeleteTask removes a task. Deleting an absent task is a no-op.
func (s *BoltStore) DeleteTask(_ context.Context, id string) error {
	return unavailable(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	}))
}

// Artifact operations

func (s *BoltStore) PutArtifact(_ context.Context, artifact *models.Artifact) error {
	return s.put(bucketArtifacts, artifact.ID, artifact)
}

func (s *BoltStore) GetArtifact(_ context.Context, id string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := s.get(bucketArtifacts, id, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *BoltStore) ListArtifactsByProject(_ context.Context, projectID string) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtifacts).ForEach(func(k, v []byte) error {
			var artifact models.Artifact
			if err := json.Unmarshal(v, &artifact); err != nil {
				return err
			}
			if artifact.ProjectID == projectID {
				artifacts = append(artifacts, &artifact)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Resolution operations

func resolutionKey(projectID, library string) string {
	return projectID + "/" + library
}

func (s *BoltStore) PutResolution(_ context.Context, resolution *models.ConflictResolution) error {
	return s.put(bucketResolutions, resolutionKey(resolution.ProjectID, resolution.Library), resolution)
}

func (s *BoltStore) GetResolution(_ context.Context, projectID, library string) (*models.ConflictResolution, error) {
	var resolution models.ConflictResolution
	if err := s.get(bucketResolutions, resolutionKey(projectID, library), &resolution); err != nil {
		return nil, err
	}
	return &resolution, nil
}

func (s *BoltStore) ListResolutionsByProject(_ context.Context, projectID string) ([]*models.ConflictResolution, error) {
	var resolutions []*models.ConflictResolution
	prefix := []byte(projectID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketResolutions).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var resolution models.ConflictResolution
			if err := json.Unmarshal(v, &resolution); err != nil {
				return err
			}
			resolutions = append(resolutions, &resolution)
		}
		return nil
	})
	return resolutions, err
}

// Checkpoint operations

func (s *BoltStore) CreateCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	return s.put(bucketCheckpoints, checkpoint.ID, checkpoint)
}

func (s *BoltStore) GetCheckpoint(_ context.Context, id string) (*models.Checkpoint, error) {
	var checkpoint models.Checkpoint
	if err := s.get(bucketCheckpoints, id, &checkpoint); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (s *BoltStore) ListCheckpointsByProject(_ context.Context, projectID string) ([]*models.Checkpoint, error) {
	var checkpoints []*models.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).ForEach(func(k, v []byte) error {
			var checkpoint models.Checkpoint
			if err := json.Unmarshal(v, &checkpoint); err != nil {
				return err
			}
			if checkpoint.ProjectID == projectID {
				checkpoints = append(checkpoints, &checkpoint)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.Before(checkpoints[j].CreatedAt)
	})
	return checkpoints, nil
}

// Event operations

func (s *BoltStore) AppendEvent(_ context.Context, event *models.PSMPEvent) error {
	return unavailable(s.db.Update(func(tx *bolt.Tx) error {
		return appendEventDoc(tx, event)
	}))
}

func (s *BoltStore) ListEventsByProject(_ context.Context, projectID string) ([]*models.PSMPEvent, error) {
	var events []*models.PSMPEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents).Bucket([]byte(projectID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var event models.PSMPEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, &event)
		}
		return nil
	})
	return events, err
}
