package stages

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skiffworks/skiff/internal/core/lockfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

// RuntimeOpts describes the runtime image the artifact is layered onto. The
// base is pinned, not floating, so runtime behavior is reproducible.
type RuntimeOpts struct {
	BaseImage string // e.g. "debian:bookworm-slim"
	Port      int    // the port the service binary listens on
}

// Assembler layers the compiled binary onto the minimal runtime base. The
// build context is recreated from scratch and holds only the binary and a
// generated Dockerfile, so the image can never contain the toolchain or the
// source tree.
type Assembler struct {
	Docker       docker.Client
	Logger       *slog.Logger
	Runtime      RuntimeOpts
	ArtifactName string
	Workspace    *Workspace
}

func (a *Assembler) Name() pipeline.Stage {
	return pipeline.StageAssemble
}

func (a *Assembler) Run(ctx context.Context, st *State) error {
	artifact, err := a.currentArtifact(st)
	if err != nil {
		return err
	}

	contextDir, err := a.stageContext(artifact)
	if err != nil {
		return pipeline.NewStageError(pipeline.StageAssemble, "StageContext", err.Error(), pipeline.ErrAssembly)
	}

	localImage := LocalImageName(a.ArtifactName)
	a.Logger.Info("assembling runtime image",
		"base", a.Runtime.BaseImage,
		"artifact", artifact.Name,
		"tag", localImage,
	)

	imageID, err := a.Docker.BuildImage(ctx, docker.BuildSpec{
		ContextDir: contextDir,
		Tags:       []string{localImage},
	})
	if err != nil {
		return pipeline.NewStageError(pipeline.StageAssemble, "BuildImage", err.Error(), pipeline.ErrAssembly)
	}

	st.Artifact = artifact
	st.ImageID = imageID
	st.LocalImage = localImage
	a.Logger.Info("runtime image assembled", "image_id", shortID(imageID), "tag", localImage)
	return nil
}

// currentArtifact returns the artifact from a full run, or picks up the
// binary a previous compile invocation left in the workspace.
func (a *Assembler) currentArtifact(st *State) (pipeline.Artifact, error) {
	if st.Artifact.Path != "" {
		return st.Artifact, nil
	}

	path := a.Workspace.ArtifactPath(a.ArtifactName)
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageAssemble, "FindArtifact",
			"compiled artifact missing; run the compile stage first", pipeline.ErrAssembly)
	}
	digest, err := lockfile.DigestFile(path)
	if err != nil {
		return pipeline.Artifact{}, pipeline.NewStageError(pipeline.StageAssemble, "FindArtifact", err.Error(), pipeline.ErrAssembly)
	}
	return pipeline.Artifact{
		Name:   a.ArtifactName,
		Path:   path,
		Digest: digest,
		Size:   info.Size(),
	}, nil
}

// stageContext recreates the build context with exactly two entries: the
// binary and the Dockerfile.
func (a *Assembler) stageContext(artifact pipeline.Artifact) (string, error) {
	contextDir := a.Workspace.ContextDir()
	if err := os.RemoveAll(contextDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(contextDir, 0755); err != nil {
		return "", err
	}

	if err := copyFile(artifact.Path, filepath.Join(contextDir, artifact.Name), 0755); err != nil {
		return "", err
	}

	dockerfile := RenderDockerfile(a.Runtime.BaseImage, artifact.Name, a.Runtime.Port)
	if err := os.WriteFile(filepath.Join(contextDir, "Dockerfile"), []byte(dockerfile), 0644); err != nil {
		return "", err
	}

	return contextDir, nil
}

// RenderDockerfile generates the runtime image definition: pinned base, the
// binary, the declared port, nothing else.
func RenderDockerfile(baseImage, artifactName string, port int) string {
	binPath := "/usr/local/bin/" + artifactName
	return fmt.Sprintf("FROM %s\nCOPY %s %s\nEXPOSE %d\nENTRYPOINT [%q]\n",
		baseImage, artifactName, binPath, port, binPath)
}

// LocalImageName is the deterministic local tag the assembler applies, so a
// later publish invocation can find the image without shared in-memory state.
func LocalImageName(artifactName string) string {
	return "skiff.build/" + artifactName + ":current"
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func shortID(id string) string {
	if len(id) > 19 {
		return id[:19]
	}
	return id
}
