package store

import (
	"context"
	"time"

	"github.com/skiffworks/skiff/internal/core/pipeline"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the run ledger. The recording
// half matches the stage runner's Recorder; the query half serves status
// inspection.
type Store interface {
	// Recording (run lifecycle events)
	RunStarted(ctx context.Context, runID string, stages []pipeline.Stage, startedAt time.Time) error
	StageEvent(ctx context.Context, runID string, stage pipeline.Stage, status pipeline.Status, detail string) error
	RunFinished(ctx context.Context, runID string, status pipeline.Status, errMsg string) error
	ReleasePublished(ctx context.Context, runID, reference, digest string) error

	// Queries
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListStageEvents(ctx context.Context, runID string) ([]StageEventRecord, error)
	LatestRelease(ctx context.Context) (*ReleaseRecord, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Records
// =============================================================================

// RunRecord is one pipeline run as stored in the ledger.
type RunRecord struct {
	ID         string
	Stages     []pipeline.Stage
	Status     pipeline.Status
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StageEventRecord is one stage transition within a run.
type StageEventRecord struct {
	RunID      string
	Stage      pipeline.Stage
	Status     pipeline.Status
	Detail     string
	RecordedAt time.Time
}

// ReleaseRecord is one published image reference.
type ReleaseRecord struct {
	RunID       string
	Reference   string
	Digest      string
	PublishedAt time.Time
}
