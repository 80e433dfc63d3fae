package stages

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/skiffworks/skiff/internal/core/lockfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/core/tagging"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

// RegistryOpts addresses the remote registry and names the tagging policy.
type RegistryOpts struct {
	Host       string // e.g. "registry.example.com"
	Repository string // e.g. "acme/svc"
	Strategy   tagging.Strategy
	Version    string // used by the version strategy
	Auth       docker.RegistryAuth
}

// ImageName returns the registry-qualified image name without a tag.
func (o RegistryOpts) ImageName() string {
	if o.Host == "" {
		return o.Repository
	}
	return o.Host + "/" + o.Repository
}

// Publisher assigns the assembled image its registry reference and pushes
// it. Pushing is idempotent: republishing identical bytes under the same tag
// is safe, and re-running the stage after a network failure is the intended
// retry path.
type Publisher struct {
	Docker       docker.Client
	Logger       *slog.Logger
	Registry     RegistryOpts
	ArtifactName string
	Workspace    *Workspace
}

func (p *Publisher) Name() pipeline.Stage {
	return pipeline.StagePublish
}

func (p *Publisher) Run(ctx context.Context, st *State) error {
	localImage := st.LocalImage
	if localImage == "" {
		localImage = LocalImageName(p.ArtifactName)
	}

	exists, err := p.Docker.ImageExists(ctx, localImage)
	if err != nil {
		return pipeline.NewStageError(pipeline.StagePublish, "ImageExists", err.Error(), pipeline.ErrPublish)
	}
	if !exists {
		return pipeline.NewStageError(pipeline.StagePublish, "ImageExists",
			"no assembled image to publish; run the assemble stage first", pipeline.ErrPublish)
	}

	ref, err := resolveRegistryRef(p.Registry, st, p.Workspace, p.ArtifactName)
	if err != nil {
		return pipeline.NewStageError(pipeline.StagePublish, "ResolveTag", err.Error(), pipeline.ErrPublish)
	}

	if err := p.Docker.TagImage(ctx, localImage, ref.String()); err != nil {
		return pipeline.NewStageError(pipeline.StagePublish, "TagImage", err.Error(), pipeline.ErrPublish)
	}

	p.Logger.Info("publishing image", "ref", ref.String())

	result, err := p.Docker.PushImage(ctx, ref.String(), p.Registry.Auth)
	if err != nil {
		return pipeline.NewStageError(pipeline.StagePublish, "PushImage", err.Error(), pipeline.ErrPublish)
	}

	st.Ref = ref
	st.PushDigest = result.Digest
	p.Logger.Info("image published", "ref", ref.String(), "digest", result.Digest)
	return nil
}

// RegistryRef applies the tagging policy outside a pipeline run, for
// commands that address the published reference directly.
func RegistryRef(reg RegistryOpts, ws *Workspace, artifactName string) (pipeline.ImageRef, error) {
	return resolveRegistryRef(reg, &State{}, ws, artifactName)
}

// resolveRegistryRef applies the tagging policy to produce the registry
// reference. The digest strategy needs the compiled artifact's digest; on a
// standalone invocation it is recomputed from the workspace binary.
func resolveRegistryRef(reg RegistryOpts, st *State, ws *Workspace, artifactName string) (pipeline.ImageRef, error) {
	digest := st.Artifact.Digest
	if digest == "" && reg.Strategy == tagging.StrategyDigest {
		path := ws.ArtifactPath(artifactName)
		if _, statErr := os.Stat(path); statErr != nil {
			return pipeline.ImageRef{}, errors.New("digest strategy requires the compiled artifact in the workspace")
		}
		d, err := lockfile.DigestFile(path)
		if err != nil {
			return pipeline.ImageRef{}, err
		}
		digest = d
	}

	tag, err := tagging.Resolve(reg.Strategy, tagging.Inputs{
		Version:        reg.Version,
		ArtifactDigest: digest,
	})
	if err != nil {
		return pipeline.ImageRef{}, err
	}

	return pipeline.ImageRef{Name: reg.ImageName(), Tag: tag}, nil
}
