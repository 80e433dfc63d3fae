package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/skiffworks/skiff/internal/core/lockfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

// Container paths shared by the resolver and compiler stage containers.
const (
	sourceMountPath = "/src"
	outputMountPath = "/out"
)

// SourceOpts locates the immutable source tree. The pipeline never writes
// into it.
type SourceOpts struct {
	Dir      string // host path of the source tree
	Manifest string // dependency manifest, relative to Dir
}

// BuilderOpts describes the disposable build environment.
type BuilderOpts struct {
	Image          string // toolchain image, e.g. "rust:1.82-slim"
	FetchCommand   string // shell command that resolves and caches dependencies
	CompileCommand string // shell command that writes the binary to /out
	CacheDir       string // toolchain cache path inside the container
	CacheVolume    string // named volume backing the cache across runs
}

// Resolver fetches and locks the artifact's external dependencies so the
// compile stage needs no network. The cache volume is advisory: a cold cache
// still resolves correctly, only slower.
type Resolver struct {
	Docker    docker.Client
	Logger    *slog.Logger
	Source    SourceOpts
	Builder   BuilderOpts
	Workspace *Workspace
}

func (r *Resolver) Name() pipeline.Stage {
	return pipeline.StageResolve
}

func (r *Resolver) Run(ctx context.Context, st *State) error {
	if err := r.Workspace.EnsureDirs(); err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "EnsureDirs", err.Error(), pipeline.ErrResolution)
	}

	if err := ensureImage(ctx, r.Docker, r.Builder.Image); err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "PullImage",
			fmt.Sprintf("builder image %s unavailable: %v", r.Builder.Image, err), pipeline.ErrResolution)
	}

	if err := r.Docker.EnsureVolume(ctx, r.Builder.CacheVolume, map[string]string{docker.LabelManaged: "true"}); err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "EnsureVolume", err.Error(), pipeline.ErrResolution)
	}

	sourceDir, err := filepath.Abs(r.Source.Dir)
	if err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "ResolveSource", err.Error(), pipeline.ErrResolution)
	}

	r.Logger.Info("resolving dependencies", "image", r.Builder.Image, "manifest", r.Source.Manifest)

	result, err := r.Docker.RunContainer(ctx, docker.RunSpec{
		Image:      r.Builder.Image,
		Command:    []string{"/bin/sh", "-c", r.Builder.FetchCommand},
		WorkingDir: sourceMountPath,
		Mounts: []docker.Mount{
			{Source: sourceDir, Target: sourceMountPath, ReadOnly: true},
			{Source: r.Builder.CacheVolume, Target: r.Builder.CacheDir},
		},
		Labels: map[string]string{docker.LabelManaged: "true", docker.LabelRun: st.RunID, docker.LabelStage: string(pipeline.StageResolve)},
	})
	if err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "RunContainer", err.Error(), pipeline.ErrResolution)
	}
	if result.ExitCode != 0 {
		return pipeline.NewStageError(pipeline.StageResolve, "RunContainer",
			fmt.Sprintf("fetch command exited %d: %s", result.ExitCode, tail(result.Output)), pipeline.ErrResolution)
	}

	manifestPath := filepath.Join(sourceDir, r.Source.Manifest)
	manifestDigest, err := lockfile.DigestFile(manifestPath)
	if err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "DigestManifest", err.Error(), pipeline.ErrResolution)
	}

	lock := &lockfile.Lock{
		ResolvedAt:     time.Now().UTC(),
		BuilderImage:   r.Builder.Image,
		ManifestPath:   r.Source.Manifest,
		ManifestDigest: manifestDigest,
		CacheVolume:    r.Builder.CacheVolume,
	}
	if err := lockfile.Write(r.Workspace.LockPath(), lock); err != nil {
		return pipeline.NewStageError(pipeline.StageResolve, "WriteLock", err.Error(), pipeline.ErrResolution)
	}

	st.Lock = lock
	r.Logger.Info("dependencies locked", "manifest_digest", manifestDigest[:12], "cache_volume", r.Builder.CacheVolume)
	return nil
}

// ensureImage pulls the image when it is not present locally.
func ensureImage(ctx context.Context, cli docker.Client, ref string) error {
	exists, err := cli.ImageExists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return cli.PullImage(ctx, ref, docker.RegistryAuth{})
}

// tail trims stage container output to its last few lines for error messages.
func tail(output string) string {
	const max = 800
	if len(output) <= max {
		return output
	}
	return "..." + output[len(output)-max:]
}
