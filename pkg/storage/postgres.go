package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql, used by migrations

	"github.com/psmp-io/psmp/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int
	ConnMaxLifetime time.Duration
}

// DSN renders the config as a pgx-compatible connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PostgresStore implements Store on a pgx connection pool. Entities are
// stored as JSONB documents with the columns needed for lookups and ordering
// lifted out.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, applies pending migrations and returns the store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if err := runMigrations(cfg); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// runMigrations applies embedded migrations through a short-lived
// database/sql connection; the pgx pool is opened afterwards.
func runMigrations(cfg PostgresConfig) error {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgxExecer is satisfied by both the pool and an open pgx transaction, so
// the write statements below serve Store methods and Tx alike.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func scanDoc[T any](row pgx.Row) (*T, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func collectDocs[T any](rows pgx.Rows) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, unavailable(err)
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, unavailable(rows.Err())
}

// Tx runs fn inside one database transaction.
func (s *PostgresStore) Tx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return unavailable(tx.Commit(ctx))
}

// pgTx adapts an open pgx transaction to the Tx contract.
type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) CreateProject(project *models.Project) error {
	return insertProject(t.ctx, t.tx, project)
}

func (t *pgTx) UpdateProject(project *models.Project) error {
	return insertProject(t.ctx, t.tx, project)
}

func (t *pgTx) CreateTask(task *models.Task) error {
	return insertTask(t.ctx, t.tx, task)
}

func (t *pgTx) UpdateTask(task *models.Task) error {
	return insertTask(t.ctx, t.tx, task)
}

func (t *pgTx) DeleteTask(id string) error {
	return deleteTask(t.ctx, t.tx, id)
}

func (t *pgTx) PutArtifact(artifact *models.Artifact) error {
	return insertArtifact(t.ctx, t.tx, artifact)
}

func (t *pgTx) PutResolution(resolution *models.ConflictResolution) error {
	return insertResolution(t.ctx, t.tx, resolution)
}

func (t *pgTx) CreateCheckpoint(checkpoint *models.Checkpoint) error {
	return insertCheckpoint(t.ctx, t.tx, checkpoint)
}

func (t *pgTx) AppendEvent(event *models.PSMPEvent) error {
	return insertEvent(t.ctx, t.tx, event)
}

// Write statements, shared between Store methods and Tx.

func insertProject(ctx context.Context, db pgxExecer, project *models.Project) error {
	doc, err := json.Marshal(project)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO psmp_projects (id, name, created_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, doc = EXCLUDED.doc`,
		project.ID, project.Name, project.CreatedAt, doc)
	return unavailable(err)
}

func insertTask(ctx context.Context, db pgxExecer, task *models.Task) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO psmp_tasks (id, project_id, created_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		task.ID, task.ProjectID, task.CreatedAt, doc)
	return unavailable(err)
}

func deleteTask(ctx context.Context, db pgxExecer, id string) error {
	_, err := db.Exec(ctx, `DELETE FROM psmp_tasks WHERE id = $1`, id)
	return unavailable(err)
}

func insertArtifact(ctx context.Context, db pgxExecer, artifact *models.Artifact) error {
	doc, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO psmp_artifacts (id, project_id, created_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		artifact.ID, artifact.ProjectID, artifact.CreatedAt, doc)
	return unavailable(err)
}

func insertResolution(ctx context.Context, db pgxExecer, resolution *models.ConflictResolution) error {
	doc, err := json.Marshal(resolution)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO psmp_resolutions (project_id, library, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, library) DO UPDATE SET doc = EXCLUDED.doc`,
		resolution.ProjectID, resolution.Library, doc)
	return unavailable(err)
}

func insertCheckpoint(ctx context.Context, db pgxExecer, checkpoint *models.Checkpoint) error {
	doc, err := json.Marshal(checkpoint)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO psmp_checkpoints (id, project_id, created_at, doc)
		VALUES ($1, $2, $3, $4)`,
		checkpoint.ID, checkpoint.ProjectID, checkpoint.CreatedAt, doc)
	return unavailable(err)
}

func insertEvent(ctx context.Context, db pgxExecer, event *models.PSMPEvent) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx,
		`INSERT INTO psmp_events (project_id, doc) VALUES ($1, $2)`,
		event.ProjectID, doc)
	return unavailable(err)
}

// Project operations

func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project) error {
	return insertProject(ctx, s.pool, project)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return scanDoc[models.Project](s.pool.QueryRow(ctx,
		`SELECT doc FROM psmp_projects WHERE id = $1`, id))
}

func (s *PostgresStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return scanDoc[models.Project](s.pool.QueryRow(ctx,
		`SELECT doc FROM psmp_projects WHERE name = $1`, name))
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM psmp_projects ORDER BY created_at`)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectDocs[models.Project](rows)
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project *models.Project) error {
	return s.CreateProject(ctx, project) // upsert
}

// Task operations

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	return insertTask(ctx, s.pool, task)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return scanDoc[models.Task](s.pool.QueryRow(ctx,
		`SELECT doc FROM psmp_tasks WHERE id = $1`, id))
}

func (s *PostgresStore) ListTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM psmp_tasks WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectDocs[models.Task](rows)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	return s.CreateTask(ctx, task)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	return deleteTask(ctx, s.pool, id)
}

// Artifact operations

func (s *PostgresStore) PutArtifact(ctx context.Context, artifact *models.Artifact) error {
	return insertArtifact(ctx, s.pool, artifact)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	return scanDoc[models.Artifact](s.pool.QueryRow(ctx,
		`SELECT doc FROM psmp_artifacts WHERE id = $1`, id))
}

func (s *PostgresStore) ListArtifactsByProject(ctx context.Context, projectID string) ([]*models.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM psmp_artifacts WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectDocs[models.Artifact](rows)
}

// Resolution operations

func (s *PostgresStore) PutResolution(ctx context.Context, resolution *models.ConflictResolution) error {
	return insertResolution(ctx, s.pool, resolution)
}

func (s *PostgresStore) GetResolution(ctx context.Context, projectID, library string) (*models.ConflictResolution, error) {
	return scanDoc[models.ConflictResolution](s.pool.QueryRow(ctx,
		`SELECT doc FROM psmp_resolutions WHERE project_id = $1 AND library = $2`,
		projectID, library))
}

func (s *PostgresStore) ListResolutionsByProject(ctx context.Context, projectID string) ([]*models.ConflictResolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM psmp_resolutions WHERE project_id = $1 ORDER BY library`, projectID)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectDocs[models.ConflictResolution](rows)
}

// Checkpoint operations

func (s *PostgresStore) CreateCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	return insertCheckpoint(ctx, s.pool, checkpoint)
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error) {
	return scanDoc[models.Checkpoint](s.pool.QueryRow(ctx,
		`SELECT doc FROM psmp_checkpoints WHERE id = $1`, id))
}

func (s *PostgresStore) ListCheckpointsByProject(ctx context.Context, projectID string) ([]*models.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM psmp_checkpoints WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectDocs[models.Checkpoint](rows)
}

// Event operations

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.PSMPEvent) error {
	return insertEvent(ctx, s.pool, event)
}

func (s *PostgresStore) ListEventsByProject(ctx context.Context, projectID string) ([]*models.PSMPEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM psmp_events WHERE project_id = $1 ORDER BY seq`, projectID)
	if err != nil {
		return nil, unavailable(err)
	}
	return collectDocs[models.PSMPEvent](rows)
}
