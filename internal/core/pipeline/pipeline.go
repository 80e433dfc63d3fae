// Package pipeline defines the build-and-release pipeline domain: the stage
// sequence, the run state machine, and the failure taxonomy. It contains no
// IO; the stage implementations live in internal/shell/stages.
package pipeline

import (
	"time"
)

// =============================================================================
// Stages
// =============================================================================

// Stage identifies one step of the pipeline.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageCompile  Stage = "compile"
	StageAssemble Stage = "assemble"
	StagePublish  Stage = "publish"
	StageDeploy   Stage = "deploy"
)

// AllStages is the full pipeline in execution order. A stage never consumes
// an artifact from a stage that appears after it.
var AllStages = []Stage{StageResolve, StageCompile, StageAssemble, StagePublish, StageDeploy}

// Status is the execution state of a stage or run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// =============================================================================
// Run State Machine
// =============================================================================

// Run tracks one pipeline execution through its stages. Transitions only move
// forward: a stage may start only when it is the earliest pending stage, and
// a failure is terminal for the whole run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error

	stages   []Stage
	statuses map[Stage]Status
}

// NewRun creates a run over the given stages in order.
func NewRun(id string, stages []Stage) *Run {
	statuses := make(map[Stage]Status, len(stages))
	for _, s := range stages {
		statuses[s] = StatusPending
	}
	ordered := make([]Stage, len(stages))
	copy(ordered, stages)
	return &Run{
		ID:        id,
		StartedAt: time.Now().UTC(),
		stages:    ordered,
		statuses:  statuses,
	}
}

// Stages returns the run's stages in execution order.
func (r *Run) Stages() []Stage {
	out := make([]Stage, len(r.stages))
	copy(out, r.stages)
	return out
}

// StageStatus returns the status of the given stage.
func (r *Run) StageStatus(s Stage) Status {
	if st, ok := r.statuses[s]; ok {
		return st
	}
	return StatusPending
}

// Start marks the stage as running. It fails if the run already failed, if
// the stage is not part of the run, or if any earlier stage has not succeeded.
func (r *Run) Start(s Stage) error {
	if r.Failed() {
		return &StageError{Stage: s, Op: "Start", Message: "run already failed"}
	}
	status, ok := r.statuses[s]
	if !ok {
		return &StageError{Stage: s, Op: "Start", Message: "stage not part of run"}
	}
	if status != StatusPending {
		return &StageError{Stage: s, Op: "Start", Message: "stage already started"}
	}
	for _, prev := range r.stages {
		if prev == s {
			break
		}
		if r.statuses[prev] != StatusSucceeded {
			return &StageError{Stage: s, Op: "Start", Message: "previous stage " + string(prev) + " has not succeeded"}
		}
	}
	r.statuses[s] = StatusRunning
	return nil
}

// Complete marks a running stage as succeeded.
func (r *Run) Complete(s Stage) error {
	if r.statuses[s] != StatusRunning {
		return &StageError{Stage: s, Op: "Complete", Message: "stage is not running"}
	}
	r.statuses[s] = StatusSucceeded
	if r.Done() {
		r.FinishedAt = time.Now().UTC()
	}
	return nil
}

// Fail marks the stage and the whole run as failed. The failure is terminal;
// no further stage may start.
func (r *Run) Fail(s Stage, err error) {
	r.statuses[s] = StatusFailed
	r.Err = err
	r.FinishedAt = time.Now().UTC()
}

// Done reports whether every stage succeeded.
func (r *Run) Done() bool {
	for _, s := range r.stages {
		if r.statuses[s] != StatusSucceeded {
			return false
		}
	}
	return true
}

// Failed reports whether any stage failed.
func (r *Run) Failed() bool {
	for _, s := range r.stages {
		if r.statuses[s] == StatusFailed {
			return true
		}
	}
	return false
}

// =============================================================================
// Artifacts
// =============================================================================

// Artifact describes the single compiled binary a run produces.
type Artifact struct {
	Name   string // binary name, e.g. "svc"
	Path   string // absolute path on the host workspace
	Digest string // sha256 of the binary contents, hex encoded
	Size   int64
}

// ImageRef is the (name, tag) address of a runtime image in a registry.
type ImageRef struct {
	Name string // e.g. "registry.example.com/acme/svc"
	Tag  string // e.g. "latest"
}

// String returns the name:tag form used by the container runtime.
func (r ImageRef) String() string {
	return r.Name + ":" + r.Tag
}

// IsZero reports whether the reference is unset.
func (r ImageRef) IsZero() bool {
	return r.Name == "" && r.Tag == ""
}
