package pipeline

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrResolution is returned when the dependency graph is unsatisfiable
	// or an upstream dependency is unreachable.
	ErrResolution = errors.New("dependency resolution failed")

	// ErrCompile is returned on source errors, missing system libraries, or
	// toolchain mismatch. Compilation is deterministic; retrying an
	// unchanged source tree is pointless.
	ErrCompile = errors.New("compilation failed")

	// ErrAssembly is returned when the compiled artifact is missing or the
	// runtime base image is unavailable.
	ErrAssembly = errors.New("image assembly failed")

	// ErrPublish is returned on authentication or network failure reaching
	// the registry. Publishing is idempotent and safe to retry.
	ErrPublish = errors.New("image publish failed")

	// ErrDeploy is returned on an instance name collision, a missing image,
	// or a host port conflict.
	ErrDeploy = errors.New("deployment failed")
)

// StageError wraps a failure with the stage and operation that produced it,
// so a failed run names what broke rather than a generic "pipeline failed".
type StageError struct {
	Stage   Stage
	Op      string // operation that failed, e.g. "PushImage"
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("stage %s: %s: %s", e.Stage, e.Op, e.Message)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a StageError wrapping the stage's sentinel error.
func NewStageError(stage Stage, op, message string, err error) *StageError {
	return &StageError{
		Stage:   stage,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
