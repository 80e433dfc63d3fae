package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skiffworks/skiff/internal/core/lockfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

// Compiler produces exactly one release-mode binary inside a disposable
// container of the builder image. The container runs with networking
// disabled: the resolver already made compilation network-independent, and
// this enforces it. The container is force-removed afterwards, so no
// toolchain state leaks into later stages.
type Compiler struct {
	Docker       docker.Client
	Logger       *slog.Logger
	Source       SourceOpts
	Builder      BuilderOpts
	ArtifactName string
	Workspace    *Workspace
}

func (c *Compiler) Name() pipeline.Stage {
	return pipeline.StageCompile
}

func (c *Compiler) Run(ctx context.Context, st *State) error {
	lock, err := c.currentLock(st)
	if err != nil {
		return err
	}

	sourceDir, err := filepath.Abs(c.Source.Dir)
	if err != nil {
		return pipeline.NewStageError(pipeline.StageCompile, "ResolveSource", err.Error(), pipeline.ErrCompile)
	}

	// A changed manifest invalidates the locked dependency set.
	manifestDigest, err := lockfile.DigestFile(filepath.Join(sourceDir, lock.ManifestPath))
	if err != nil {
		return pipeline.NewStageError(pipeline.StageCompile, "DigestManifest", err.Error(), pipeline.ErrCompile)
	}
	if manifestDigest != lock.ManifestDigest {
		return pipeline.NewStageError(pipeline.StageCompile, "CheckLock",
			"dependency manifest changed since resolution; re-run the resolve stage", pipeline.ErrCompile)
	}

	outDir, err := c.cleanOutputDir()
	if err != nil {
		return pipeline.NewStageError(pipeline.StageCompile, "CleanOutput", err.Error(), pipeline.ErrCompile)
	}

	c.Logger.Info("compiling", "image", c.Builder.Image, "artifact", c.ArtifactName)

	result, err := c.Docker.RunContainer(ctx, docker.RunSpec{
		Image:      c.Builder.Image,
		Command:    []string{"/bin/sh", "-c", c.Builder.CompileCommand},
		WorkingDir: sourceMountPath,
		// No network: every dependency must come from the cache volume.
		NetworkMode: "none",
		Mounts: []docker.Mount{
			{Source: sourceDir, Target: sourceMountPath, ReadOnly: true},
			{Source: lock.CacheVolume, Target: c.Builder.CacheDir},
			{Source: outDir, Target: outputMountPath},
		},
		Labels: map[string]string{docker.LabelManaged: "true", docker.LabelRun: st.RunID, docker.LabelStage: string(pipeline.StageCompile)},
	})
	if err != nil {
		return pipeline.NewStageError(pipeline.StageCompile, "RunContainer", err.Error(), pipeline.ErrCompile)
	}
	if result.ExitCode != 0 {
		return pipeline.NewStageError(pipeline.StageCompile, "RunContainer",
			fmt.Sprintf("compile command exited %d: %s", result.ExitCode, tail(result.Output)), pipeline.ErrCompile)
	}

	artifact, err := c.collectArtifact()
	if err != nil {
		return err
	}

	st.Artifact = artifact
	c.Logger.Info("artifact compiled",
		"path", artifact.Path,
		"size", artifact.Size,
		"digest", artifact.Digest[:12],
	)
	return nil
}

// currentLock returns the in-memory lock from a full run, or reads the
// receipt a previous resolve invocation left in the workspace.
func (c *Compiler) currentLock(st *State) (*lockfile.Lock, error) {
	if st.Lock != nil {
		return st.Lock, nil
	}
	lock, err := lockfile.Read(c.Workspace.LockPath())
	if err != nil {
		if errors.Is(err, lockfile.ErrNotFound) {
			return nil, pipeline.NewStageError(pipeline.StageCompile, "ReadLock",
				"dependencies not resolved; run the resolve stage first", pipeline.ErrCompile)
		}
		return nil, pipeline.NewStageError(pipeline.StageCompile, "ReadLock", err.Error(), pipeline.ErrCompile)
	}
	return lock, nil
}

// cleanOutputDir empties the output directory so stale binaries from earlier
// runs can never be mistaken for this run's artifact.
func (c *Compiler) cleanOutputDir() (string, error) {
	outDir, err := filepath.Abs(c.Workspace.OutDir())
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(outDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	return outDir, nil
}

// collectArtifact enforces the single-binary policy: the output directory
// must contain exactly the named artifact and nothing else.
func (c *Compiler) collectArtifact() (pipeline.Artifact, error) {
	outDir := c.Workspace.OutDir()
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageCompile, "CollectArtifact", err.Error(), pipeline.ErrCompile)
	}
	if len(entries) != 1 || entries[0].Name() != c.ArtifactName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageCompile, "CollectArtifact",
			fmt.Sprintf("expected exactly one binary %q in output, found %v", c.ArtifactName, names), pipeline.ErrCompile)
	}

	path := c.Workspace.ArtifactPath(c.ArtifactName)
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageCompile, "CollectArtifact", err.Error(), pipeline.ErrCompile)
	}
	if info.Size() == 0 {
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageCompile, "CollectArtifact",
			"compiled artifact is empty", pipeline.ErrCompile)
	}

	digest, err := lockfile.DigestFile(path)
	if err != nil {
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageCompile, "CollectArtifact", err.Error(), pipeline.ErrCompile)
	}

	return pipeline.Artifact{
		Name:   c.ArtifactName,
		Path:   path,
		Digest: digest,
		Size:   info.Size(),
	}, nil
}
