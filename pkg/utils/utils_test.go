package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := GenerateSessionID()
		require.NoError(t, err)
		assert.True(t, IsSessionID(id), id)
		assert.NotEqual(t, byte('0'), id[0])
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 90)
}

func TestFormatAndNormalizeSessionID(t *testing.T) {
	assert.Equal(t, "123 456 789", FormatSessionID("123456789"))
	assert.Equal(t, "123 456 789", FormatSessionID("123 456789"))
	assert.Equal(t, "123456789", NormalizeSessionID(" 123 456\t789 "))
	assert.Equal(t, "12", FormatSessionID("12"))
}

func TestIsSessionID(t *testing.T) {
	assert.True(t, IsSessionID("987654321"))
	assert.False(t, IsSessionID("98765432"))
	assert.False(t, IsSessionID("98765432a"))
	assert.False(t, IsSessionID("123 456 789"))
}

func TestSanitizeAlias(t *testing.T) {
	assert.Equal(t, "host", SanitizeAlias("  host\x00\n"))
	assert.Len(t, []rune(SanitizeAlias(strings.Repeat("é", 100))), maxAliasLength)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 5))
	assert.Equal(t, "ab...", TruncateString("abcdefgh", 5))
}

func TestGenerateEndpointID_Unique(t *testing.T) {
	assert.NotEqual(t, GenerateEndpointID(), GenerateEndpointID())
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
}
