// Package docker provides the container runtime adapter the pipeline stages
// run on: disposable build containers, image build/push/pull, and the
// deployed instance's lifecycle.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Env           []string // KEY=VALUE entries, passed through verbatim
	Labels        map[string]string
	Ports         []PortBinding
	Mounts        []Mount
	WorkingDir    string
	NetworkMode   string // "" for default, "none" to disable networking
	RestartPolicy string // "", "no", "always", "on-failure", "unless-stopped"
}

// PortBinding defines a host-port to container-port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp", defaults to tcp
	HostIP        string // "" for 0.0.0.0
}

// Mount defines a bind mount or named volume mount.
type Mount struct {
	Source   string // volume name, or host path when it starts with "/"
	Target   string // container path
	ReadOnly bool
}

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	CreatedAt time.Time
	StartedAt *time.Time
	Ports     []PortBinding
	Labels    map[string]string
	ExitCode  int
}

// =============================================================================
// Stage Execution Types
// =============================================================================

// RunSpec describes a disposable stage container: created, started, waited
// on, and removed in one call. Nothing from it survives except the mounted
// outputs and the captured log tail.
type RunSpec struct {
	Image       string
	Command     []string
	Env         []string
	WorkingDir  string
	Mounts      []Mount
	NetworkMode string // "none" for network-isolated stages
	Labels      map[string]string
}

// RunResult is the outcome of a disposable stage container.
type RunResult struct {
	ExitCode int64
	Output   string // combined stdout/stderr
}

// =============================================================================
// Image Types
// =============================================================================

// BuildSpec describes an image build from a staged context directory.
type BuildSpec struct {
	ContextDir string   // directory tarred and sent as the build context
	Dockerfile string   // file name within the context, e.g. "Dockerfile"
	Tags       []string // names to apply to the built image
	NoCache    bool
}

// RegistryAuth carries registry credentials for push and pull. Zero value
// means anonymous access.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

// PushResult reports the digest the registry assigned to the pushed content.
type PushResult struct {
	Digest string // e.g. "sha256:..."
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g. {"name": "svc"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or a number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the container runtime surface the pipeline uses. Stages depend
// on this interface; tests substitute fakes for it.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	WaitContainer(ctx context.Context, containerID string) (int64, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)

	// Stage execution
	RunContainer(ctx context.Context, spec RunSpec) (*RunResult, error)

	// Image operations
	BuildImage(ctx context.Context, spec BuildSpec) (imageID string, err error)
	TagImage(ctx context.Context, source, target string) error
	PushImage(ctx context.Context, ref string, auth RegistryAuth) (*PushResult, error)
	PullImage(ctx context.Context, ref string, auth RegistryAuth) error
	ImageExists(ctx context.Context, ref string) (bool, error)

	// Volume operations
	EnsureVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string, force bool) error

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.skiff.managed"
	LabelRun     = "com.skiff.run"
	LabelStage   = "com.skiff.stage"
)
