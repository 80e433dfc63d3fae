package stages

import (
	"context"
	"io"
	"time"

	"github.com/skiffworks/skiff/internal/shell/docker"
)

// fakeClient implements docker.Client with configurable behavior per
// operation. Unset hooks succeed with zero values.
type fakeClient struct {
	createFn func(spec docker.ContainerSpec) (string, error)
	startFn  func(containerID string) error
	runFn    func(spec docker.RunSpec) (*docker.RunResult, error)
	buildFn  func(spec docker.BuildSpec) (string, error)
	pushFn   func(ref string, auth docker.RegistryAuth) (*docker.PushResult, error)
	pullFn   func(ref string, auth docker.RegistryAuth) error
	existsFn func(ref string) (bool, error)

	created  []docker.ContainerSpec
	started  []string
	removed  []string
	stopped  []string
	tagged   [][2]string // {source, target}
	pushed   []string
	pulled   []string
	runSpecs []docker.RunSpec
	volumes  []string
}

func (f *fakeClient) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	f.created = append(f.created, spec)
	if f.createFn != nil {
		return f.createFn(spec)
	}
	return "container-1", nil
}

func (f *fakeClient) StartContainer(ctx context.Context, containerID string) error {
	f.started = append(f.started, containerID)
	if f.startFn != nil {
		return f.startFn(containerID)
	}
	return nil
}

func (f *fakeClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeClient) RemoveContainer(ctx context.Context, containerID string, opts docker.RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeClient) InspectContainer(ctx context.Context, containerID string) (*docker.ContainerInfo, error) {
	return &docker.ContainerInfo{ID: containerID, Status: docker.ContainerStatusRunning}, nil
}

func (f *fakeClient) ListContainers(ctx context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	return nil, nil
}

func (f *fakeClient) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	return 0, nil
}

func (f *fakeClient) ContainerLogs(ctx context.Context, containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeClient) RunContainer(ctx context.Context, spec docker.RunSpec) (*docker.RunResult, error) {
	f.runSpecs = append(f.runSpecs, spec)
	if f.runFn != nil {
		return f.runFn(spec)
	}
	return &docker.RunResult{ExitCode: 0}, nil
}

func (f *fakeClient) BuildImage(ctx context.Context, spec docker.BuildSpec) (string, error) {
	if f.buildFn != nil {
		return f.buildFn(spec)
	}
	return "sha256:fake", nil
}

func (f *fakeClient) TagImage(ctx context.Context, source, target string) error {
	f.tagged = append(f.tagged, [2]string{source, target})
	return nil
}

func (f *fakeClient) PushImage(ctx context.Context, ref string, auth docker.RegistryAuth) (*docker.PushResult, error) {
	f.pushed = append(f.pushed, ref)
	if f.pushFn != nil {
		return f.pushFn(ref, auth)
	}
	return &docker.PushResult{Digest: "sha256:pushed"}, nil
}

func (f *fakeClient) PullImage(ctx context.Context, ref string, auth docker.RegistryAuth) error {
	f.pulled = append(f.pulled, ref)
	if f.pullFn != nil {
		return f.pullFn(ref, auth)
	}
	return nil
}

func (f *fakeClient) ImageExists(ctx context.Context, ref string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ref)
	}
	return true, nil
}

func (f *fakeClient) EnsureVolume(ctx context.Context, name string, labels map[string]string) error {
	f.volumes = append(f.volumes, name)
	return nil
}

func (f *fakeClient) RemoveVolume(ctx context.Context, name string, force bool) error {
	return nil
}

func (f *fakeClient) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeClient) Close() error {
	return nil
}
