// Package envfile reads a file of KEY=VALUE lines for injection into a
// container at creation time. The contents are opaque to the pipeline:
// values are never inspected, validated, expanded or quoted. Blank lines
// and lines starting with '#' are skipped, matching the container runtime's
// env-file convention.
package envfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNotFound is returned when the env file does not exist.
	ErrNotFound = errors.New("env file not found")

	// ErrEmptyKey is returned for a line whose variable name is empty.
	ErrEmptyKey = errors.New("variable name must not be empty")
)

// Load reads the file at path and returns its entries verbatim, in file
// order, ready to pass to the container runtime.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open env file %s: %w", path, err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "=") {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, ErrEmptyKey)
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	return entries, nil
}
