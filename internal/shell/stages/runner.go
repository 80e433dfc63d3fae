// Package stages implements the five pipeline stages and the sequential
// runner that drives them. Each stage fully succeeds before the next begins;
// the first failure aborts the run and is surfaced verbatim.
package stages

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skiffworks/skiff/internal/core/lockfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
)

// =============================================================================
// Stage Interface
// =============================================================================

// Stage is one step of the pipeline. Run reads the artifacts earlier stages
// left in the state (or in the workspace, for separate invocations) and adds
// its own.
type Stage interface {
	Name() pipeline.Stage
	Run(ctx context.Context, st *State) error
}

// State carries artifacts across stage boundaries, strictly in creation
// order: lock receipt, compiled artifact, local image, registry reference,
// running instance.
type State struct {
	RunID string

	Lock       *lockfile.Lock
	Artifact   pipeline.Artifact
	LocalImage string // local tag of the assembled image
	ImageID    string
	Ref        pipeline.ImageRef
	PushDigest string

	ContainerID string // the running instance, once deployed
}

// =============================================================================
// Recorder
// =============================================================================

// Recorder receives run lifecycle events for the ledger. Recording is
// observability, not control flow: a recorder error never fails a stage.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, stages []pipeline.Stage, startedAt time.Time) error
	StageEvent(ctx context.Context, runID string, stage pipeline.Stage, status pipeline.Status, detail string) error
	RunFinished(ctx context.Context, runID string, status pipeline.Status, errMsg string) error
	ReleasePublished(ctx context.Context, runID, reference, digest string) error
}

// =============================================================================
// Runner
// =============================================================================

// Runner executes stages strictly in order with no parallel fan-out.
type Runner struct {
	stages   []Stage
	logger   *slog.Logger
	recorder Recorder // may be nil
}

// NewRunner creates a runner over the given stages.
func NewRunner(stages []Stage, logger *slog.Logger, recorder Recorder) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{stages: stages, logger: logger, recorder: recorder}
}

// Run executes the stages. On the first failure the run aborts: later stages
// are never invoked and the failing stage's error is returned as-is.
func (r *Runner) Run(ctx context.Context) (*State, error) {
	names := make([]pipeline.Stage, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name()
	}

	run := pipeline.NewRun(uuid.NewString(), names)
	state := &State{RunID: run.ID}

	r.record(func(rec Recorder) error {
		return rec.RunStarted(ctx, run.ID, names, run.StartedAt)
	})

	for _, s := range r.stages {
		stage := s.Name()
		if err := run.Start(stage); err != nil {
			return state, err
		}

		r.logger.Info("stage started", "run", run.ID, "stage", stage)
		r.record(func(rec Recorder) error {
			return rec.StageEvent(ctx, run.ID, stage, pipeline.StatusRunning, "")
		})

		started := time.Now()
		if err := s.Run(ctx, state); err != nil {
			run.Fail(stage, err)
			r.logger.Error("stage failed",
				"run", run.ID,
				"stage", stage,
				"elapsed", time.Since(started).Round(time.Millisecond),
				"error", err,
			)
			r.record(func(rec Recorder) error {
				return rec.StageEvent(ctx, run.ID, stage, pipeline.StatusFailed, err.Error())
			})
			r.record(func(rec Recorder) error {
				return rec.RunFinished(ctx, run.ID, pipeline.StatusFailed, err.Error())
			})
			return state, err
		}

		if err := run.Complete(stage); err != nil {
			return state, err
		}
		r.logger.Info("stage succeeded",
			"run", run.ID,
			"stage", stage,
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
		r.record(func(rec Recorder) error {
			return rec.StageEvent(ctx, run.ID, stage, pipeline.StatusSucceeded, "")
		})

		if stage == pipeline.StagePublish && !state.Ref.IsZero() {
			r.record(func(rec Recorder) error {
				return rec.ReleasePublished(ctx, run.ID, state.Ref.String(), state.PushDigest)
			})
		}
	}

	r.record(func(rec Recorder) error {
		return rec.RunFinished(ctx, run.ID, pipeline.StatusSucceeded, "")
	})
	return state, nil
}

// record invokes the recorder when one is configured, demoting failures to
// log warnings.
func (r *Runner) record(fn func(Recorder) error) {
	if r.recorder == nil {
		return
	}
	if err := fn(r.recorder); err != nil {
		r.logger.Warn("ledger write failed", "error", err)
	}
}
