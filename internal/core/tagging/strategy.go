// Package tagging derives the registry tag a publish run uses. The moving
// "latest" tag is one named policy among several, not an implicit constant,
// so a deployment can switch to version-pinned or content-addressed tags
// without touching pipeline logic.
package tagging

import (
	"errors"
	"fmt"
)

// Strategy names a tagging policy.
type Strategy string

const (
	// StrategyLatest publishes under a fixed moving tag. Each publish
	// overwrites what the tag resolves to.
	StrategyLatest Strategy = "latest"

	// StrategyVersion publishes under an explicit version string.
	StrategyVersion Strategy = "version"

	// StrategyDigest publishes under a tag derived from the compiled
	// artifact's digest. Identical binaries map to identical tags.
	StrategyDigest Strategy = "digest"
)

var (
	ErrUnknownStrategy = errors.New("unknown tag strategy")
	ErrMissingVersion  = errors.New("version strategy requires a version")
	ErrMissingDigest   = errors.New("digest strategy requires an artifact digest")
)

// digestTagLen is how many hex characters of the artifact digest form the tag.
const digestTagLen = 12

// Inputs carries the values a strategy may draw on.
type Inputs struct {
	Version        string // used by StrategyVersion
	ArtifactDigest string // hex sha256 of the binary, used by StrategyDigest
}

// Resolve returns the tag the strategy produces for the given inputs.
func Resolve(s Strategy, in Inputs) (string, error) {
	switch s {
	case StrategyLatest, "":
		return "latest", nil
	case StrategyVersion:
		if in.Version == "" {
			return "", ErrMissingVersion
		}
		return in.Version, nil
	case StrategyDigest:
		if len(in.ArtifactDigest) < digestTagLen {
			return "", ErrMissingDigest
		}
		return in.ArtifactDigest[:digestTagLen], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Moving reports whether the strategy reassigns an existing tag on publish.
// A deploy after a publish under a moving tag picks up the newer content.
func Moving(s Strategy) bool {
	return s == StrategyLatest || s == ""
}
