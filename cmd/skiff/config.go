package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all pipeline configuration. Policy lives here; the commands
// take no arguments beyond flags.
type Config struct {
	Project   ProjectConfig   `mapstructure:"project"`
	Source    SourceConfig    `mapstructure:"source"`
	Builder   BuilderConfig   `mapstructure:"builder"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Log       LogConfig       `mapstructure:"log"`
}

// ProjectConfig names the service. The name doubles as the artifact name and
// the default instance name.
type ProjectConfig struct {
	Name string `mapstructure:"name"`
}

// SourceConfig locates the source tree and its dependency manifest.
type SourceConfig struct {
	Dir      string `mapstructure:"dir"`
	Manifest string `mapstructure:"manifest"`
}

// BuilderConfig describes the disposable build containers.
type BuilderConfig struct {
	Image          string `mapstructure:"image"`
	FetchCommand   string `mapstructure:"fetch_command"`
	CompileCommand string `mapstructure:"compile_command"`
	CacheDir       string `mapstructure:"cache_dir"`    // toolchain cache path inside the container
	CacheVolume    string `mapstructure:"cache_volume"` // named volume; derived from project name when empty
}

// RuntimeConfig describes the assembled runtime image.
type RuntimeConfig struct {
	BaseImage string `mapstructure:"base_image"`
	Port      int    `mapstructure:"port"` // the service's declared listening port
}

// RegistryConfig addresses the remote registry and the tagging policy.
type RegistryConfig struct {
	Host        string `mapstructure:"host"`
	Repository  string `mapstructure:"repository"`
	TagStrategy string `mapstructure:"tag_strategy"` // "latest", "version", "digest"
	Version     string `mapstructure:"version"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// DeployConfig shapes the running instance.
type DeployConfig struct {
	InstanceName  string        `mapstructure:"instance_name"` // derived from project name when empty
	HostPort      int           `mapstructure:"host_port"`     // derived from runtime port when zero
	EnvFile       string        `mapstructure:"env_file"`
	RestartPolicy string        `mapstructure:"restart_policy"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
}

// WorkspaceConfig locates the pipeline's scratch directory.
type WorkspaceConfig struct {
	Dir string `mapstructure:"dir"`
}

// LedgerConfig holds the run ledger database location.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn"` // derived from the workspace dir when empty
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment. With an empty
// path it looks for skiff.yaml in the working directory; a missing file
// means defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("project.name", "app")
	v.SetDefault("source.dir", ".")
	v.SetDefault("source.manifest", "Cargo.toml")
	v.SetDefault("builder.image", "rust:1.82-slim")
	v.SetDefault("builder.fetch_command", "cargo fetch --locked")
	v.SetDefault("builder.compile_command", "")
	v.SetDefault("builder.cache_dir", "/usr/local/cargo/registry")
	v.SetDefault("builder.cache_volume", "")
	v.SetDefault("runtime.base_image", "debian:bookworm-slim")
	v.SetDefault("runtime.port", 4000)
	v.SetDefault("registry.host", "")
	v.SetDefault("registry.repository", "")
	v.SetDefault("registry.tag_strategy", "latest")
	v.SetDefault("registry.version", "")
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("deploy.instance_name", "")
	v.SetDefault("deploy.host_port", 0)
	v.SetDefault("deploy.env_file", "env")
	v.SetDefault("deploy.restart_policy", "unless-stopped")
	v.SetDefault("deploy.stop_timeout", "10s")
	v.SetDefault("workspace.dir", ".skiff")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("skiff")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// Only a malformed file is fatal; a missing one means defaults.
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SKIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDerivedDefaults(&cfg)
	return &cfg, nil
}

// applyDerivedDefaults fills settings whose defaults depend on other
// settings.
func applyDerivedDefaults(cfg *Config) {
	name := cfg.Project.Name
	if cfg.Builder.CacheVolume == "" {
		cfg.Builder.CacheVolume = "skiff-cache-" + name
	}
	if cfg.Builder.CompileCommand == "" {
		cfg.Builder.CompileCommand = fmt.Sprintf(
			"cargo build --release --offline && cp target/release/%s /out/%s", name, name)
	}
	if cfg.Deploy.InstanceName == "" {
		cfg.Deploy.InstanceName = name
	}
	if cfg.Deploy.HostPort == 0 {
		cfg.Deploy.HostPort = cfg.Runtime.Port
	}
	if cfg.Ledger.DSN == "" {
		cfg.Ledger.DSN = filepath.Join(cfg.Workspace.Dir, "ledger.db")
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr; stdout carries command output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
