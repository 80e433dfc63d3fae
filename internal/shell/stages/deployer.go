package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skiffworks/skiff/internal/core/envfile"
	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

// DeployOpts shapes the running instance.
type DeployOpts struct {
	InstanceName  string
	HostPort      int
	ContainerPort int    // the service's declared listening port
	EnvFile       string // path to the opaque env file; empty for none
	RestartPolicy string // "", "no", "always", "on-failure", "unless-stopped"
}

// Deployer retrieves a published reference and instantiates it as a named,
// detached container. An existing container under the same name is a
// conflict, never a silent replace: teardown is explicit (stop/rm).
type Deployer struct {
	Docker       docker.Client
	Logger       *slog.Logger
	Registry     RegistryOpts
	Deploy       DeployOpts
	ArtifactName string
	Workspace    *Workspace
}

func (d *Deployer) Name() pipeline.Stage {
	return pipeline.StageDeploy
}

func (d *Deployer) Run(ctx context.Context, st *State) error {
	ref := st.Ref
	if ref.IsZero() {
		resolved, err := resolveRegistryRef(d.Registry, st, d.Workspace, d.ArtifactName)
		if err != nil {
			return pipeline.NewStageError(pipeline.StageDeploy, "ResolveRef", err.Error(), pipeline.ErrDeploy)
		}
		ref = resolved
	}

	d.Logger.Info("retrieving image", "ref", ref.String())
	if err := d.Docker.PullImage(ctx, ref.String(), d.Registry.Auth); err != nil {
		return pipeline.NewStageError(pipeline.StageDeploy, "PullImage", err.Error(), pipeline.ErrDeploy)
	}

	var env []string
	if d.Deploy.EnvFile != "" {
		entries, err := envfile.Load(d.Deploy.EnvFile)
		if err != nil {
			return pipeline.NewStageError(pipeline.StageDeploy, "LoadEnvFile", err.Error(), pipeline.ErrDeploy)
		}
		env = entries
	}

	spec := docker.ContainerSpec{
		Name:  d.Deploy.InstanceName,
		Image: ref.String(),
		Env:   env,
		Ports: []docker.PortBinding{
			{ContainerPort: d.Deploy.ContainerPort, HostPort: d.Deploy.HostPort},
		},
		Labels:        map[string]string{docker.LabelManaged: "true", docker.LabelRun: st.RunID},
		RestartPolicy: d.Deploy.RestartPolicy,
	}

	containerID, err := d.Docker.CreateContainer(ctx, spec)
	if err != nil {
		if errors.Is(err, docker.ErrContainerAlreadyExists) {
			return pipeline.NewStageError(pipeline.StageDeploy, "CreateContainer",
				fmt.Sprintf("instance name %q already in use; stop and remove it first", d.Deploy.InstanceName), pipeline.ErrDeploy)
		}
		if errors.Is(err, docker.ErrPortAlreadyAllocated) {
			return pipeline.NewStageError(pipeline.StageDeploy, "CreateContainer",
				fmt.Sprintf("host port %d is already bound", d.Deploy.HostPort), pipeline.ErrDeploy)
		}
		return pipeline.NewStageError(pipeline.StageDeploy, "CreateContainer", err.Error(), pipeline.ErrDeploy)
	}

	if err := d.Docker.StartContainer(ctx, containerID); err != nil {
		// The instance never ran; remove the husk so the name is free for
		// the next attempt. Pre-existing containers are never touched.
		_ = d.Docker.RemoveContainer(context.WithoutCancel(ctx), containerID, docker.RemoveOptions{Force: true})
		if errors.Is(err, docker.ErrPortAlreadyAllocated) {
			return pipeline.NewStageError(pipeline.StageDeploy, "StartContainer",
				fmt.Sprintf("host port %d is already bound", d.Deploy.HostPort), pipeline.ErrDeploy)
		}
		return pipeline.NewStageError(pipeline.StageDeploy, "StartContainer", err.Error(), pipeline.ErrDeploy)
	}

	st.ContainerID = containerID

	// Detached: the instance outlives this process.
	d.Logger.Info("instance running",
		"name", d.Deploy.InstanceName,
		"container_id", shortID(containerID),
		"host_port", d.Deploy.HostPort,
		"container_port", d.Deploy.ContainerPort,
	)
	return nil
}
