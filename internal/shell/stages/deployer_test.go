package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/internal/core/pipeline"
	"github.com/skiffworks/skiff/internal/core/tagging"
	"github.com/skiffworks/skiff/internal/shell/docker"
)

func testDeployer(t *testing.T, cli docker.Client) *Deployer {
	t.Helper()
	return &Deployer{
		Docker: cli,
		Logger: testLogger(),
		Registry: RegistryOpts{
			Host:       "registry.example.com",
			Repository: "acme/svc",
			Strategy:   tagging.StrategyLatest,
		},
		Deploy: DeployOpts{
			InstanceName:  "svc",
			HostPort:      8080,
			ContainerPort: 4000,
		},
		ArtifactName: "svc",
		Workspace:    NewWorkspace(t.TempDir()),
	}
}

func TestDeployer_HappyPath(t *testing.T) {
	cli := &fakeClient{}
	d := testDeployer(t, cli)

	st := &State{RunID: "r1"}
	require.NoError(t, d.Run(context.Background(), st))

	assert.Equal(t, []string{"registry.example.com/acme/svc:latest"}, cli.pulled)
	require.Len(t, cli.created, 1)
	spec := cli.created[0]
	assert.Equal(t, "svc", spec.Name)
	assert.Equal(t, "registry.example.com/acme/svc:latest", spec.Image)
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 8080, spec.Ports[0].HostPort)
	assert.Equal(t, 4000, spec.Ports[0].ContainerPort)
	assert.Equal(t, []string{"container-1"}, cli.started)
	assert.Equal(t, "container-1", st.ContainerID)
}

func TestDeployer_UsesPublishedRef(t *testing.T) {
	cli := &fakeClient{}
	d := testDeployer(t, cli)

	// A full release run hands the deployer the reference the publisher
	// produced rather than re-deriving it.
	st := &State{
		RunID: "r1",
		Ref:   pipeline.ImageRef{Name: "registry.example.com/acme/svc", Tag: "1.4.2"},
	}
	require.NoError(t, d.Run(context.Background(), st))

	assert.Equal(t, []string{"registry.example.com/acme/svc:1.4.2"}, cli.pulled)
}

func TestDeployer_NameConflict(t *testing.T) {
	cli := &fakeClient{
		createFn: func(spec docker.ContainerSpec) (string, error) {
			return "", docker.NewDockerError("CreateContainer", "container", spec.Name,
				"container name already in use", docker.ErrContainerAlreadyExists)
		},
	}
	d := testDeployer(t, cli)

	err := d.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrDeploy)
	assert.Contains(t, err.Error(), `instance name "svc" already in use`)

	// The pre-existing instance is never stopped or removed.
	assert.Empty(t, cli.stopped)
	assert.Empty(t, cli.removed)
	assert.Empty(t, cli.started)
}

func TestDeployer_PortConflictAtCreate(t *testing.T) {
	cli := &fakeClient{
		createFn: func(spec docker.ContainerSpec) (string, error) {
			return "", docker.NewDockerError("CreateContainer", "container", spec.Name,
				"port is already allocated", docker.ErrPortAlreadyAllocated)
		},
	}
	d := testDeployer(t, cli)

	err := d.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrDeploy)
	assert.Contains(t, err.Error(), "host port 8080 is already bound")
}

func TestDeployer_PortConflictAtStart(t *testing.T) {
	cli := &fakeClient{
		startFn: func(containerID string) error {
			return docker.NewDockerError("StartContainer", "container", containerID,
				"port is already allocated", docker.ErrPortAlreadyAllocated)
		},
	}
	d := testDeployer(t, cli)

	err := d.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrDeploy)
	assert.Contains(t, err.Error(), "host port 8080 is already bound")

	// The never-started husk is removed so the name is free again.
	assert.Equal(t, []string{"container-1"}, cli.removed)
}

func TestDeployer_MissingImage(t *testing.T) {
	cli := &fakeClient{
		pullFn: func(ref string, auth docker.RegistryAuth) error {
			return docker.NewDockerError("PullImage", "image", ref, "image not found", docker.ErrImageNotFound)
		},
	}
	d := testDeployer(t, cli)

	err := d.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrDeploy)
	assert.Contains(t, err.Error(), "image not found")
	assert.Empty(t, cli.created)
}

func TestDeployer_InjectsEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "env")
	require.NoError(t, os.WriteFile(envPath, []byte("DATABASE_URL=postgres://db/app\n# comment\nRUST_LOG=info\n"), 0600))

	cli := &fakeClient{}
	d := testDeployer(t, cli)
	d.Deploy.EnvFile = envPath

	require.NoError(t, d.Run(context.Background(), &State{RunID: "r1"}))

	require.Len(t, cli.created, 1)
	assert.Equal(t, []string{"DATABASE_URL=postgres://db/app", "RUST_LOG=info"}, cli.created[0].Env)
}

func TestDeployer_MissingEnvFile(t *testing.T) {
	cli := &fakeClient{}
	d := testDeployer(t, cli)
	d.Deploy.EnvFile = filepath.Join(t.TempDir(), "nope")

	err := d.Run(context.Background(), &State{RunID: "r1"})
	require.ErrorIs(t, err, pipeline.ErrDeploy)
	assert.Empty(t, cli.created)
}
