package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRandomToken(t *testing.T) {
	a := RandomToken(32)
	b := RandomToken(32)

	assert.NotEqual(t, a, b)
	// 32 bytes of entropy -> 43 chars of unpadded base64url
	assert.Len(t, a, 43)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "=")
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("some-bearer-token")
	h2 := HashToken("some-bearer-token")
	h3 := HashToken("another-token")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestNewKeyID(t *testing.T) {
	now := time.Date(2025, 1, 14, 9, 30, 45, 0, time.UTC)
	id := NewKeyID(now)

	assert.True(t, strings.HasPrefix(id, "key_20250114_093045_"))
	assert.NotEqual(t, id, NewKeyID(now))
}
