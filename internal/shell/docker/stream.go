package docker

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// =============================================================================
// Build Context
// =============================================================================

// tarContext tars a staged context directory for ImageBuild. The context is
// always a small flat directory the assembler produced; entries are added in
// sorted order so the archive bytes are stable for identical inputs.
func tarContext(dir string) (io.Reader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read context dir %s: %w", dir, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, entry := range entries {
		if entry.IsDir() {
			return nil, fmt.Errorf("context dir %s contains subdirectory %s", dir, entry.Name())
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		hdr := &tar.Header{
			Name: entry.Name(),
			Mode: int64(info.Mode().Perm()),
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("tar header %s: %w", entry.Name(), err)
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return nil, fmt.Errorf("tar %s: %w", entry.Name(), err)
		}
		f.Close()
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}

	return &buf, nil
}

// =============================================================================
// Stream Decoding
// =============================================================================

// streamMessage is the JSON line format of build/push/pull progress streams.
// Daemon-side failures arrive as messages on the stream, not as call errors.
type streamMessage struct {
	Stream      string          `json:"stream"`
	Status      string          `json:"status"`
	Error       string          `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux json.RawMessage `json:"aux"`
}

type buildResult struct {
	imageID string
}

// decodeBuildStream consumes a build response stream, surfacing daemon errors
// and capturing the built image ID from the aux message.
func decodeBuildStream(r io.Reader) (*buildResult, error) {
	dec := json.NewDecoder(r)
	result := &buildResult{}

	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode build stream: %w", err)
		}
		if msg.Error != "" {
			return nil, errors.New(msg.Error)
		}
		if len(msg.Aux) > 0 {
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(msg.Aux, &aux); err == nil && aux.ID != "" {
				result.imageID = aux.ID
			}
		}
	}

	if result.imageID == "" {
		return nil, errors.New("build stream ended without an image ID")
	}
	return result, nil
}

// decodePushStream consumes a push response stream and returns the digest
// the registry assigned.
func decodePushStream(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	digest := ""

	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("decode push stream: %w", err)
		}
		if msg.Error != "" {
			return "", errors.New(msg.Error)
		}
		if len(msg.Aux) > 0 {
			var aux struct {
				Digest string `json:"Digest"`
			}
			if err := json.Unmarshal(msg.Aux, &aux); err == nil && aux.Digest != "" {
				digest = aux.Digest
			}
		}
	}

	return digest, nil
}

// drainPullStream consumes a pull response stream to completion, surfacing
// daemon errors.
func drainPullStream(r io.Reader) error {
	dec := json.NewDecoder(r)

	for {
		var msg streamMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode pull stream: %w", err)
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
	}
}
