package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/skiffworks/skiff/internal/core/tagging"
	"github.com/skiffworks/skiff/internal/shell/docker"
	"github.com/skiffworks/skiff/internal/shell/stages"
	"github.com/skiffworks/skiff/internal/shell/store"
)

// defaultEnvFile is the conventional env file next to the source tree. It is
// optional; an explicitly configured env file is not.
const defaultEnvFile = "env"

// dispatch routes the command to the appropriate handler.
func dispatch(cmd string, cfg *Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docker connection error: %v\n", err)
		return ExitConfigError
	}
	defer a.Close()

	switch cmd {
	// Pipeline commands
	case "deps":
		return a.execute(ctx, a.resolver())
	case "build":
		return a.execute(ctx, a.resolver(), a.compiler())
	case "image":
		return a.execute(ctx, a.assembler())
	case "publish":
		if code := a.requireRegistry(); code != ExitSuccess {
			return code
		}
		return a.execute(ctx, a.publisher())
	case "run":
		if code := a.requireRegistry(); code != ExitSuccess {
			return code
		}
		return a.execute(ctx, a.deployer())
	case "release":
		if code := a.requireRegistry(); code != ExitSuccess {
			return code
		}
		return a.execute(ctx, a.resolver(), a.compiler(), a.assembler(), a.publisher(), a.deployer())

	// Registry commands
	case "pull":
		if code := a.requireRegistry(); code != ExitSuccess {
			return code
		}
		return a.pullCmd(ctx)

	// Instance lifecycle commands
	case "stop":
		return a.stopCmd(ctx)
	case "rm":
		return a.rmCmd(ctx)
	case "status":
		return a.statusCmd(ctx)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		return ExitUsage
	}
}

// =============================================================================
// App Wiring
// =============================================================================

// app holds the shared dependencies of all commands.
type app struct {
	cfg       *Config
	logger    *slog.Logger
	docker    docker.Client
	ledger    store.Store // nil when the ledger is unavailable
	workspace *stages.Workspace
}

func newApp(cfg *Config, logger *slog.Logger) (*app, error) {
	cli, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		docker:    cli,
		workspace: stages.NewWorkspace(cfg.Workspace.Dir),
	}

	// The ledger is observability, not control flow: an unavailable database
	// degrades to unrecorded runs, never to a failed command.
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.DSN), 0755); err != nil {
		logger.Warn("run ledger unavailable", "dsn", cfg.Ledger.DSN, "error", err)
	} else if ledger, err := store.NewSQLiteStore(cfg.Ledger.DSN); err != nil {
		logger.Warn("run ledger unavailable", "dsn", cfg.Ledger.DSN, "error", err)
	} else {
		a.ledger = ledger
	}

	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	a.docker.Close()
}

func (a *app) recorder() stages.Recorder {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}

func (a *app) requireRegistry() int {
	if a.cfg.Registry.Repository == "" {
		fmt.Fprintln(os.Stderr, "configuration error: registry.repository must be set")
		return ExitConfigError
	}
	return ExitSuccess
}

// =============================================================================
// Stage Construction
// =============================================================================

func (a *app) sourceOpts() stages.SourceOpts {
	return stages.SourceOpts{
		Dir:      a.cfg.Source.Dir,
		Manifest: a.cfg.Source.Manifest,
	}
}

func (a *app) builderOpts() stages.BuilderOpts {
	return stages.BuilderOpts{
		Image:          a.cfg.Builder.Image,
		FetchCommand:   a.cfg.Builder.FetchCommand,
		CompileCommand: a.cfg.Builder.CompileCommand,
		CacheDir:       a.cfg.Builder.CacheDir,
		CacheVolume:    a.cfg.Builder.CacheVolume,
	}
}

func (a *app) registryOpts() stages.RegistryOpts {
	return stages.RegistryOpts{
		Host:       a.cfg.Registry.Host,
		Repository: a.cfg.Registry.Repository,
		Strategy:   tagging.Strategy(a.cfg.Registry.TagStrategy),
		Version:    a.cfg.Registry.Version,
		Auth: docker.RegistryAuth{
			Username:      a.cfg.Registry.Username,
			Password:      a.cfg.Registry.Password,
			ServerAddress: a.cfg.Registry.Host,
		},
	}
}

func (a *app) deployOpts() stages.DeployOpts {
	envFile := a.cfg.Deploy.EnvFile
	if envFile == defaultEnvFile {
		if _, err := os.Stat(envFile); err != nil {
			envFile = ""
		}
	}
	return stages.DeployOpts{
		InstanceName:  a.cfg.Deploy.InstanceName,
		HostPort:      a.cfg.Deploy.HostPort,
		ContainerPort: a.cfg.Runtime.Port,
		EnvFile:       envFile,
		RestartPolicy: a.cfg.Deploy.RestartPolicy,
	}
}

func (a *app) resolver() *stages.Resolver {
	return &stages.Resolver{
		Docker:    a.docker,
		Logger:    a.logger,
		Source:    a.sourceOpts(),
		Builder:   a.builderOpts(),
		Workspace: a.workspace,
	}
}

func (a *app) compiler() *stages.Compiler {
	return &stages.Compiler{
		Docker:       a.docker,
		Logger:       a.logger,
		Source:       a.sourceOpts(),
		Builder:      a.builderOpts(),
		ArtifactName: a.cfg.Project.Name,
		Workspace:    a.workspace,
	}
}

func (a *app) assembler() *stages.Assembler {
	return &stages.Assembler{
		Docker: a.docker,
		Logger: a.logger,
		Runtime: stages.RuntimeOpts{
			BaseImage: a.cfg.Runtime.BaseImage,
			Port:      a.cfg.Runtime.Port,
		},
		ArtifactName: a.cfg.Project.Name,
		Workspace:    a.workspace,
	}
}

func (a *app) publisher() *stages.Publisher {
	return &stages.Publisher{
		Docker:       a.docker,
		Logger:       a.logger,
		Registry:     a.registryOpts(),
		ArtifactName: a.cfg.Project.Name,
		Workspace:    a.workspace,
	}
}

func (a *app) deployer() *stages.Deployer {
	return &stages.Deployer{
		Docker:       a.docker,
		Logger:       a.logger,
		Registry:     a.registryOpts(),
		Deploy:       a.deployOpts(),
		ArtifactName: a.cfg.Project.Name,
		Workspace:    a.workspace,
	}
}

// execute runs the given stages in order through the sequential runner.
func (a *app) execute(ctx context.Context, list ...stages.Stage) int {
	if err := a.workspace.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "workspace error: %v\n", err)
		return ExitConfigError
	}

	runner := stages.NewRunner(list, a.logger, a.recorder())
	if _, err := runner.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitStageFailure
	}
	return ExitSuccess
}

// =============================================================================
// Registry Commands
// =============================================================================

func (a *app) pullCmd(ctx context.Context) int {
	ref, err := stages.RegistryRef(a.registryOpts(), a.workspace, a.cfg.Project.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	if err := a.docker.PullImage(ctx, ref.String(), a.registryOpts().Auth); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitStageFailure
	}

	fmt.Println(ref.String())
	return ExitSuccess
}

// =============================================================================
// Instance Lifecycle Commands
// =============================================================================

func (a *app) stopCmd(ctx context.Context) int {
	name := a.cfg.Deploy.InstanceName
	timeout := a.cfg.Deploy.StopTimeout

	if err := a.docker.StopContainer(ctx, name, &timeout); err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			fmt.Fprintf(os.Stderr, "no instance named %q\n", name)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return ExitStageFailure
	}

	fmt.Printf("%s stopped\n", name)
	return ExitSuccess
}

func (a *app) rmCmd(ctx context.Context) int {
	name := a.cfg.Deploy.InstanceName

	if err := a.docker.RemoveContainer(ctx, name, docker.RemoveOptions{}); err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			fmt.Fprintf(os.Stderr, "no instance named %q\n", name)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return ExitStageFailure
	}

	fmt.Printf("%s removed\n", name)
	return ExitSuccess
}

func (a *app) statusCmd(ctx context.Context) int {
	name := a.cfg.Deploy.InstanceName

	info, err := a.docker.InspectContainer(ctx, name)
	switch {
	case errors.Is(err, docker.ErrContainerNotFound):
		fmt.Printf("instance %s: not deployed\n", name)
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		return ExitStageFailure
	default:
		fmt.Printf("instance %s: %s (image %s)\n", name, info.Status, info.Image)
		for _, p := range info.Ports {
			fmt.Printf("  port %d -> %d\n", p.HostPort, p.ContainerPort)
		}
	}

	if a.ledger == nil {
		return ExitSuccess
	}

	if release, err := a.ledger.LatestRelease(ctx); err == nil {
		fmt.Printf("latest release: %s (%s)\n", release.Reference, release.Digest)
	}

	runs, err := a.ledger.ListRecentRuns(ctx, 5)
	if err != nil {
		a.logger.Warn("ledger read failed", "error", err)
		return ExitSuccess
	}
	if len(runs) > 0 {
		fmt.Println("recent runs:")
		for _, r := range runs {
			line := fmt.Sprintf("  %s  %s  %s", r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Status)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Println(line)
		}
	}
	return ExitSuccess
}
