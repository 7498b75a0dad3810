package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/manifest"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

var _ manifest.Recorder = (*SQLiteStore)(nil)

// SQLiteStore records manifest runs in SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Open is NewSQLiteStore, Init and Migrate in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun stores rec and a snapshot of its bucket in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, rec *manifest.RunRecord) error {
	_, err := s.SaveRun(ctx, rec)
	return err
}

// SaveRun is RecordRun returning the stored run.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *manifest.RunRecord) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if rec == nil {
		return nil, fmt.Errorf("run record is required")
	}

	run := &Run{
		ID:            uuid.NewString(),
		Manifest:      rec.Manifest,
		Class:         rec.Class,
		Status:        RunStatus(rec.Status),
		Forced:        rec.Forced,
		TraceID:       rec.TraceID,
		ResourceCount: rec.Bucket.Len(),
		StartedAt:     rec.StartedAt.UTC(),
		CompletedAt:   rec.CompletedAt.UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	if rec.Err != nil {
		run.Error = rec.Err.Error()
	}
	if rec.Bucket != nil {
		run.Bucket = rec.Bucket.Name
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, manifest, class, status, forced, error, trace_id, bucket, resource_count, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Manifest,
		run.Class,
		run.Status,
		run.Forced,
		run.Error,
		run.TraceID,
		run.Bucket,
		run.ResourceCount,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if rec.Bucket != nil {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_resources (run_id, position, type, name, declared, source, parameters)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare resource insert: %w", err)
		}
		defer stmt.Close()

		for i, res := range rec.Bucket.Resources {
			params, err := encodeParameters(res.Parameters)
			if err != nil {
				return nil, fmt.Errorf("failed to encode parameters of %s: %w", res.String(), err)
			}
			if _, err := stmt.ExecContext(ctx, run.ID, i, res.Type, res.Name, res.Declared, res.Source, params); err != nil {
				return nil, fmt.Errorf("failed to record resource %s: %w", res.String(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}

	return run, nil
}

const runColumns = `id, manifest, class, status, forced, error, trace_id, bucket, resource_count, started_at, completed_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Manifest,
		&run.Class,
		&run.Status,
		&run.Forced,
		&run.Error,
		&run.TraceID,
		&run.Bucket,
		&run.ResourceCount,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first, with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
}

// ListRunsByClass lists runs of one manifest class, newest first
func (s *SQLiteStore) ListRunsByClass(ctx context.Context, class string, limit int) ([]*Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE class = ?
		ORDER BY started_at DESC, created_at DESC
		LIMIT ?
	`, class, limit)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListRunResources returns the resource snapshot of a run in submission order
func (s *SQLiteStore) ListRunResources(ctx context.Context, runID string) ([]*RunResource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, type, name, declared, source, parameters
		FROM run_resources
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run resources: %w", err)
	}
	defer rows.Close()

	resources := []*RunResource{}
	for rows.Next() {
		res := &RunResource{}
		var params string
		if err := rows.Scan(&res.RunID, &res.Position, &res.Type, &res.Name, &res.Declared, &res.Source, &params); err != nil {
			return nil, fmt.Errorf("failed to scan run resource: %w", err)
		}
		if res.Parameters, err = decodeParameters(params); err != nil {
			return nil, fmt.Errorf("failed to decode parameters of %s: %w", res.String(), err)
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run resources: %w", err)
	}

	return resources, nil
}

// DeleteRun deletes a run and its resource snapshot
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// PruneRuns deletes all but the newest keep runs and returns how many were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func encodeParameters(params []catalog.Parameter) (string, error) {
	if len(params) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeParameters(s string) ([]catalog.Parameter, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var params []catalog.Parameter
	if err := json.Unmarshal([]byte(s), &params); err != nil {
		return nil, err
	}
	return params, nil
}
