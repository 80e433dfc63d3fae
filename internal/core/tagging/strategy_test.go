package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Latest(t *testing.T) {
	tag, err := Resolve(StrategyLatest, Inputs{})
	require.NoError(t, err)
	assert.Equal(t, "latest", tag)
}

func TestResolve_EmptyDefaultsToLatest(t *testing.T) {
	tag, err := Resolve("", Inputs{})
	require.NoError(t, err)
	assert.Equal(t, "latest", tag)
}

func TestResolve_Version(t *testing.T) {
	tag, err := Resolve(StrategyVersion, Inputs{Version: "1.4.2"})
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", tag)
}

func TestResolve_Version_Missing(t *testing.T) {
	_, err := Resolve(StrategyVersion, Inputs{})
	assert.ErrorIs(t, err, ErrMissingVersion)
}

func TestResolve_Digest(t *testing.T) {
	digest := "a3f5c9e102bb7d4e8f00112233445566778899aabbccddeeff001122334455"
	tag, err := Resolve(StrategyDigest, Inputs{ArtifactDigest: digest})
	require.NoError(t, err)
	assert.Equal(t, "a3f5c9e102bb", tag)
}

func TestResolve_Digest_SameBinarySameTag(t *testing.T) {
	digest := "deadbeefdeadbeefdeadbeefdeadbeef"
	a, err := Resolve(StrategyDigest, Inputs{ArtifactDigest: digest})
	require.NoError(t, err)
	b, err := Resolve(StrategyDigest, Inputs{ArtifactDigest: digest})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolve_Digest_Missing(t *testing.T) {
	_, err := Resolve(StrategyDigest, Inputs{ArtifactDigest: "abc"})
	assert.ErrorIs(t, err, ErrMissingDigest)
}

func TestResolve_Unknown(t *testing.T) {
	_, err := Resolve("timestamp", Inputs{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestMoving(t *testing.T) {
	assert.True(t, Moving(StrategyLatest))
	assert.True(t, Moving(""))
	assert.False(t, Moving(StrategyVersion))
	assert.False(t, Moving(StrategyDigest))
}
