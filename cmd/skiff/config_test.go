package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)
	chdirTemp(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Project.Name)
	assert.Equal(t, ".", cfg.Source.Dir)
	assert.Equal(t, "Cargo.toml", cfg.Source.Manifest)
	assert.Equal(t, "rust:1.82-slim", cfg.Builder.Image)
	assert.Equal(t, "cargo fetch --locked", cfg.Builder.FetchCommand)
	assert.Equal(t, "debian:bookworm-slim", cfg.Runtime.BaseImage)
	assert.Equal(t, 4000, cfg.Runtime.Port)
	assert.Equal(t, "latest", cfg.Registry.TagStrategy)
	assert.Equal(t, "env", cfg.Deploy.EnvFile)
	assert.Equal(t, "unless-stopped", cfg.Deploy.RestartPolicy)
	assert.Equal(t, 10*time.Second, cfg.Deploy.StopTimeout)
	assert.Equal(t, ".skiff", cfg.Workspace.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_DerivedDefaults(t *testing.T) {
	clearEnv(t)
	chdirTemp(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	// Project name flows into the cache volume, compile command, instance
	// name, and the runtime port into the host port.
	assert.Equal(t, "skiff-cache-app", cfg.Builder.CacheVolume)
	assert.Contains(t, cfg.Builder.CompileCommand, "target/release/app")
	assert.Contains(t, cfg.Builder.CompileCommand, "/out/app")
	assert.Equal(t, "app", cfg.Deploy.InstanceName)
	assert.Equal(t, 4000, cfg.Deploy.HostPort)
	assert.Equal(t, filepath.Join(".skiff", "ledger.db"), cfg.Ledger.DSN)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
project:
  name: "svc"

source:
  dir: "./svc"
  manifest: "Cargo.toml"

builder:
  image: "rust:1.82"
  compile_command: "cargo build --release && cp target/release/svc /out/svc"

runtime:
  base_image: "debian:bookworm-slim"
  port: 4000

registry:
  host: "registry.example.com"
  repository: "acme/svc"
  tag_strategy: "version"
  version: "1.4.2"

deploy:
  host_port: 8080

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "skiff.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "svc", cfg.Project.Name)
	assert.Equal(t, "./svc", cfg.Source.Dir)
	assert.Equal(t, "rust:1.82", cfg.Builder.Image)
	assert.Equal(t, "registry.example.com", cfg.Registry.Host)
	assert.Equal(t, "acme/svc", cfg.Registry.Repository)
	assert.Equal(t, "version", cfg.Registry.TagStrategy)
	assert.Equal(t, "1.4.2", cfg.Registry.Version)
	assert.Equal(t, 8080, cfg.Deploy.HostPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	// Derived from the configured project name.
	assert.Equal(t, "skiff-cache-svc", cfg.Builder.CacheVolume)
	assert.Equal(t, "svc", cfg.Deploy.InstanceName)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)
	chdirTemp(t)

	t.Setenv("SKIFF_PROJECT_NAME", "svc")
	t.Setenv("SKIFF_REGISTRY_REPOSITORY", "acme/svc")
	t.Setenv("SKIFF_REGISTRY_PASSWORD", "hunter2")
	t.Setenv("SKIFF_DEPLOY_HOST_PORT", "9000")
	t.Setenv("SKIFF_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "svc", cfg.Project.Name)
	assert.Equal(t, "acme/svc", cfg.Registry.Repository)
	assert.Equal(t, "hunter2", cfg.Registry.Password)
	assert.Equal(t, 9000, cfg.Deploy.HostPort)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/skiff.yaml")
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Project.Name)
	assert.Equal(t, 4000, cfg.Runtime.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SKIFF_PROJECT_NAME",
		"SKIFF_SOURCE_DIR",
		"SKIFF_BUILDER_IMAGE",
		"SKIFF_RUNTIME_PORT",
		"SKIFF_REGISTRY_HOST",
		"SKIFF_REGISTRY_REPOSITORY",
		"SKIFF_REGISTRY_PASSWORD",
		"SKIFF_DEPLOY_HOST_PORT",
		"SKIFF_WORKSPACE_DIR",
		"SKIFF_LOG_LEVEL",
		"SKIFF_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

// chdirTemp moves the test into an empty directory so a developer's own
// skiff.yaml never leaks into default-value tests.
func chdirTemp(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}
