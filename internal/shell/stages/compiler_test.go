package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/internal/core/lockfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

func testSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \"svc\"\n"), 0644))
	return dir
}

func testCompiler(t *testing.T, cli docker.Client, sourceDir string) *Compiler {
	t.Helper()
	return &Compiler{
		Docker: cli,
		Logger: testLogger(),
		Source: SourceOpts{Dir: sourceDir, Manifest: "Cargo.toml"},
		Builder: BuilderOpts{
			Image:          "rust:1.82-slim",
			CompileCommand: "cargo build --release && cp target/release/svc /out/svc",
			CacheDir:       "/usr/local/cargo/registry",
			CacheVolume:    "skiff-cache-svc",
		},
		ArtifactName: "svc",
		Workspace:    NewWorkspace(t.TempDir()),
	}
}

func writeLockFor(t *testing.T, c *Compiler) {
	t.Helper()
	digest, err := lockfile.DigestFile(filepath.Join(c.Source.Dir, c.Source.Manifest))
	require.NoError(t, err)
	require.NoError(t, c.Workspace.EnsureDirs())
	require.NoError(t, lockfile.Write(c.Workspace.LockPath(), &lockfile.Lock{
		ResolvedAt:     time.Now().UTC(),
		BuilderImage:   c.Builder.Image,
		ManifestPath:   c.Source.Manifest,
		ManifestDigest: digest,
		CacheVolume:    c.Builder.CacheVolume,
	}))
}

func TestCompiler_RequiresResolvedDependencies(t *testing.T) {
	c := testCompiler(t, &fakeClient{}, testSourceTree(t))

	err := c.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrCompile)
	assert.Contains(t, err.Error(), "not resolved")
}

func TestCompiler_RejectsStaleLock(t *testing.T) {
	source := testSourceTree(t)
	c := testCompiler(t, &fakeClient{}, source)
	writeLockFor(t, c)

	// Manifest changes after resolution.
	require.NoError(t, os.WriteFile(filepath.Join(source, "Cargo.toml"), []byte("[package]\nname = \"svc2\"\n"), 0644))

	err := c.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrCompile)
	assert.Contains(t, err.Error(), "changed since resolution")
}

func TestCompiler_HappyPath(t *testing.T) {
	source := testSourceTree(t)
	cli := &fakeClient{}
	c := testCompiler(t, cli, source)
	writeLockFor(t, c)

	// The build container deposits the binary into the mounted output dir.
	cli.runFn = func(spec docker.RunSpec) (*docker.RunResult, error) {
		require.NoError(t, os.WriteFile(c.Workspace.ArtifactPath("svc"), []byte("elf-bytes"), 0755))
		return &docker.RunResult{ExitCode: 0}, nil
	}

	st := &State{RunID: "r1"}
	require.NoError(t, c.Run(context.Background(), st))

	assert.Equal(t, "svc", st.Artifact.Name)
	assert.Equal(t, c.Workspace.ArtifactPath("svc"), st.Artifact.Path)
	assert.NotEmpty(t, st.Artifact.Digest)
	assert.Equal(t, int64(len("elf-bytes")), st.Artifact.Size)
}

func TestCompiler_RunsWithoutNetwork(t *testing.T) {
	source := testSourceTree(t)
	cli := &fakeClient{}
	c := testCompiler(t, cli, source)
	writeLockFor(t, c)

	cli.runFn = func(spec docker.RunSpec) (*docker.RunResult, error) {
		require.NoError(t, os.WriteFile(c.Workspace.ArtifactPath("svc"), []byte("elf"), 0755))
		return &docker.RunResult{ExitCode: 0}, nil
	}

	require.NoError(t, c.Run(context.Background(), &State{RunID: "r1"}))

	require.Len(t, cli.runSpecs, 1)
	spec := cli.runSpecs[0]
	assert.Equal(t, "none", spec.NetworkMode)

	// Source is mounted read-only; the pipeline never mutates it.
	var sourceMount *docker.Mount
	for i := range spec.Mounts {
		if spec.Mounts[i].Target == sourceMountPath {
			sourceMount = &spec.Mounts[i]
		}
	}
	require.NotNil(t, sourceMount)
	assert.True(t, sourceMount.ReadOnly)
}

func TestCompiler_NonZeroExit(t *testing.T) {
	source := testSourceTree(t)
	cli := &fakeClient{
		runFn: func(spec docker.RunSpec) (*docker.RunResult, error) {
			return &docker.RunResult{ExitCode: 101, Output: "error[E0432]: unresolved import"}, nil
		},
	}
	c := testCompiler(t, cli, source)
	writeLockFor(t, c)

	err := c.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrCompile)
	assert.Contains(t, err.Error(), "exited 101")
	assert.Contains(t, err.Error(), "unresolved import")
}

func TestCompiler_SingleBinaryPolicy(t *testing.T) {
	source := testSourceTree(t)
	cli := &fakeClient{}
	c := testCompiler(t, cli, source)
	writeLockFor(t, c)

	cli.runFn = func(spec docker.RunSpec) (*docker.RunResult, error) {
		require.NoError(t, os.WriteFile(c.Workspace.ArtifactPath("svc"), []byte("elf"), 0755))
		require.NoError(t, os.WriteFile(c.Workspace.ArtifactPath("svc-helper"), []byte("elf"), 0755))
		return &docker.RunResult{ExitCode: 0}, nil
	}

	err := c.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrCompile)
	assert.Contains(t, err.Error(), "exactly one binary")
}

func TestCompiler_MissingArtifact(t *testing.T) {
	source := testSourceTree(t)
	c := testCompiler(t, &fakeClient{}, source)
	writeLockFor(t, c)

	// Compile "succeeds" but produces nothing.
	err := c.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrCompile)
}

func TestCompiler_ClearsStaleArtifacts(t *testing.T) {
	source := testSourceTree(t)
	cli := &fakeClient{}
	c := testCompiler(t, cli, source)
	writeLockFor(t, c)

	// A stale binary from an earlier run must not satisfy this run.
	require.NoError(t, os.MkdirAll(c.Workspace.OutDir(), 0755))
	require.NoError(t, os.WriteFile(c.Workspace.ArtifactPath("svc"), []byte("stale"), 0755))

	err := c.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrCompile)
}
