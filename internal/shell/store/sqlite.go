package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skiffworks/skiff/internal/core/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Rows
// =============================================================================

type runRow struct {
	ID           string  `db:"id"`
	Stages       string  `db:"stages"`
	Status       string  `db:"status"`
	ErrorMessage string  `db:"error_message"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

type stageEventRow struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Stage      string `db:"stage"`
	Status     string `db:"status"`
	Detail     string `db:"detail"`
	RecordedAt string `db:"recorded_at"`
}

type releaseRow struct {
	ID          int64  `db:"id"`
	RunID       string `db:"run_id"`
	Reference   string `db:"reference"`
	Digest      string `db:"digest"`
	PublishedAt string `db:"published_at"`
}

func (r runRow) toRecord() (RunRecord, error) {
	rec := RunRecord{
		ID:     r.ID,
		Status: pipeline.Status(r.Status),
		Error:  r.ErrorMessage,
	}
	if r.Stages != "" {
		for _, s := range strings.Split(r.Stages, ",") {
			rec.Stages = append(rec.Stages, pipeline.Stage(s))
		}
	}
	startedAt, err := parseTime(r.StartedAt)
	if err != nil {
		return rec, err
	}
	rec.StartedAt = startedAt
	if r.FinishedAt != nil {
		finishedAt, err := parseTime(*r.FinishedAt)
		if err != nil {
			return rec, err
		}
		rec.FinishedAt = &finishedAt
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func joinStages(stages []pipeline.Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// =============================================================================
// Recording
// =============================================================================

func (s *SQLiteStore) RunStarted(ctx context.Context, runID string, stages []pipeline.Stage, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stages, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, joinStages(stages), string(pipeline.StatusRunning), formatTime(startedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("RunStarted", "run", runID, "duplicate run ID", ErrDuplicateID)
		}
		return NewStoreError("RunStarted", "run", runID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) StageEvent(ctx context.Context, runID string, stage pipeline.Stage, status pipeline.Status, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events (run_id, stage, status, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(stage), string(status), detail, formatTime(time.Now()))
	if err != nil {
		return NewStoreError("StageEvent", "run", runID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) RunFinished(ctx context.Context, runID string, status pipeline.Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, formatTime(time.Now()), runID)
	if err != nil {
		return NewStoreError("RunFinished", "run", runID, err.Error(), err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return NewStoreError("RunFinished", "run", runID, err.Error(), err)
	}
	if rows == 0 {
		return NewStoreError("RunFinished", "run", runID, "run not found", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ReleasePublished(ctx context.Context, runID, reference, digest string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO releases (run_id, reference, digest, published_at) VALUES (?, ?, ?, ?)`,
		runID, reference, digest, formatTime(time.Now()))
	if err != nil {
		return NewStoreError("ReleasePublished", "release", runID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, stages, status, error_message, started_at, finished_at FROM runs WHERE id = ?`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", runID, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", runID, err.Error(), err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, NewStoreError("GetRun", "run", runID, err.Error(), err)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, stages, status, error_message, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewStoreError("ListRecentRuns", "run", "", err.Error(), err)
	}
	records := make([]RunRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, NewStoreError("ListRecentRuns", "run", row.ID, err.Error(), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLiteStore) ListStageEvents(ctx context.Context, runID string) ([]StageEventRecord, error) {
	var rows []stageEventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, run_id, stage, status, detail, recorded_at
		 FROM stage_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, NewStoreError("ListStageEvents", "run", runID, err.Error(), err)
	}
	records := make([]StageEventRecord, 0, len(rows))
	for _, row := range rows {
		recordedAt, err := parseTime(row.RecordedAt)
		if err != nil {
			return nil, NewStoreError("ListStageEvents", "run", runID, err.Error(), err)
		}
		records = append(records, StageEventRecord{
			RunID:      row.RunID,
			Stage:      pipeline.Stage(row.Stage),
			Status:     pipeline.Status(row.Status),
			Detail:     row.Detail,
			RecordedAt: recordedAt,
		})
	}
	return records, nil
}

func (s *SQLiteStore) LatestRelease(ctx context.Context) (*ReleaseRecord, error) {
	var row releaseRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, run_id, reference, digest, published_at
		 FROM releases ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestRelease", "release", "", "no releases recorded", ErrNotFound)
		}
		return nil, NewStoreError("LatestRelease", "release", "", err.Error(), err)
	}
	publishedAt, err := parseTime(row.PublishedAt)
	if err != nil {
		return nil, NewStoreError("LatestRelease", "release", row.RunID, err.Error(), err)
	}
	return &ReleaseRecord{
		RunID:       row.RunID,
		Reference:   row.Reference,
		Digest:      row.Digest,
		PublishedAt: publishedAt,
	}, nil
}
