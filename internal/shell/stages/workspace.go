package stages

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the process-local scratch area one pipeline run writes its
// intermediate artifacts to. Concurrent runs must use separate workspaces.
type Workspace struct {
	Dir string
}

// NewWorkspace returns a workspace rooted at dir.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{Dir: dir}
}

// EnsureDirs creates the workspace directory tree.
func (w *Workspace) EnsureDirs() error {
	for _, d := range []string{w.Dir, w.OutDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", d, err)
		}
	}
	return nil
}

// OutDir is where the compiler stage's container deposits the binary.
func (w *Workspace) OutDir() string {
	return filepath.Join(w.Dir, "out")
}

// ContextDir is the staged image build context. The assembler recreates it
// from scratch on every run so it can only ever hold the binary and the
// generated Dockerfile.
func (w *Workspace) ContextDir() string {
	return filepath.Join(w.Dir, "context")
}

// LockPath is where the resolver writes its lock receipt.
func (w *Workspace) LockPath() string {
	return filepath.Join(w.Dir, "skiff.lock.yaml")
}

// ArtifactPath is the host path of the compiled binary.
func (w *Workspace) ArtifactPath(name string) string {
	return filepath.Join(w.OutDir(), name)
}
