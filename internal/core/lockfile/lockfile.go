// Package lockfile records the outcome of dependency resolution as a small
// YAML receipt next to the workspace. The receipt is what later stages (and
// later invocations) check to know the locked dependency set exists; the
// resolved packages themselves live in the toolchain's cache volume.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the current receipt format version.
const Version = 1

var (
	// ErrNotFound is returned when no receipt exists at the given path.
	ErrNotFound = errors.New("lock receipt not found")

	// ErrVersionMismatch is returned for a receipt written by an
	// incompatible format version.
	ErrVersionMismatch = errors.New("lock receipt version mismatch")
)

// Lock is the durable record of one dependency resolution. Identical source
// tree and upstream state produce an identical manifest digest, so a stale
// receipt is detectable by comparing digests.
type Lock struct {
	Version        int       `yaml:"version"`
	ResolvedAt     time.Time `yaml:"resolved_at"`
	BuilderImage   string    `yaml:"builder_image"`
	ManifestPath   string    `yaml:"manifest_path"`
	ManifestDigest string    `yaml:"manifest_digest"`
	CacheVolume    string    `yaml:"cache_volume"`
}

// Write marshals the lock to path, creating or truncating it.
func Write(path string, lock *Lock) error {
	lock.Version = Version
	data, err := yaml.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshal lock receipt: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write lock receipt %s: %w", path, err)
	}
	return nil
}

// Read loads the lock receipt at path.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read lock receipt %s: %w", path, err)
	}

	var lock Lock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock receipt %s: %w", path, err)
	}
	if lock.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, lock.Version, Version)
	}
	return &lock, nil
}

// DigestFile returns the hex sha256 of the file at path. Used to fingerprint
// the dependency manifest and the compiled artifact.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
