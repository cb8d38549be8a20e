package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/logger"
)

func newTestCipher(t *testing.T) *FieldCipher {
	t.Helper()
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)
	return NewFieldCipher(ring)
}

func TestFieldCipher_SealOpen(t *testing.T) {
	c := newTestCipher(t)

	env, err := c.Seal("user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, env.KeyID)
	assert.NotContains(t, env.Ciphertext, "user@example.com")

	value, err := c.Open(env)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", value)
}

func TestFieldCipher_OpenSurvivesRotation(t *testing.T) {
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)
	c := NewFieldCipher(ring)

	env, err := c.Seal("pre-rotation value")
	require.NoError(t, err)

	_, err = ring.Rotate()
	require.NoError(t, err)

	value, err := c.Open(env)
	require.NoError(t, err)
	assert.Equal(t, "pre-rotation value", value)

	// New seals carry the new key id.
	env2, err := c.Seal("post-rotation value")
	require.NoError(t, err)
	assert.NotEqual(t, env.KeyID, env2.KeyID)
}

func TestFieldCipher_SealOpenJSON(t *testing.T) {
	c := newTestCipher(t)

	payload := map[string]interface{}{"username": "carol", "role": "admin"}
	env, err := c.SealJSON(payload)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, c.OpenJSON(env, &out))
	assert.Equal(t, "carol", out["username"])
	assert.Equal(t, "admin", out["role"])
}

func TestFieldCipher_OpenZeroEnvelope(t *testing.T) {
	c := newTestCipher(t)

	value, err := c.Open(models.Envelope{})
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestFieldCipher_OpenTamperedCiphertext(t *testing.T) {
	c := newTestCipher(t)

	env, err := c.Seal("integrity matters")
	require.NoError(t, err)

	env.Ciphertext = "bm90IHJlYWwgY2lwaGVydGV4dA==" // valid base64, wrong bytes
	_, err = c.Open(env)
	assert.Error(t, err)
}
