package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	platform, err := ParsePlatform("linux:arm64")
	require.NoError(t, err)
	assert.Equal(t, PlatformOS{OS: "linux", Arch: "arm64"}, platform)
	assert.Equal(t, "linux:arm64", platform.String())

	for _, tag := range []string{"", "linux", "linux:", ":arm64"} {
		_, err = ParsePlatform(tag)
		assert.Error(t, err, "tag %q", tag)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusRequested.Terminal())
	assert.False(t, StatusProvisioning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}
