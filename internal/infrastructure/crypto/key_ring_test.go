package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

func testRingConfig(t *testing.T) config.KeyRingConfig {
	t.Helper()
	return config.KeyRingConfig{
		StorePath:               t.TempDir(),
		RotationDays:            90,
		MaxEncryptionOperations: 1_000_000,
		RetentionDays:           365,
	}
}

func TestNewKeyRing_RequiresMasterPassword(t *testing.T) {
	_, err := NewKeyRing(testRingConfig(t), "", logger.NewNoopLogger())

	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestKeyRing_EncryptDecryptRoundTrip(t *testing.T) {
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	keyID, ct, err := ring.EncryptWithActive([]byte("sensitive value"))
	require.NoError(t, err)
	assert.NotEmpty(t, keyID)
	assert.NotEqual(t, []byte("sensitive value"), ct)

	pt, err := ring.Decrypt(keyID, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("sensitive value"), pt)
}

func TestKeyRing_DecryptUnknownKey(t *testing.T) {
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	_, err = ring.Decrypt("key_20200101_000000_deadbeef", []byte("whatever"))

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestKeyRing_PersistsAndReloads(t *testing.T) {
	cfg := testRingConfig(t)

	ring, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)
	keyID, ct, err := ring.EncryptWithActive([]byte("survives restart"))
	require.NoError(t, err)
	require.NoError(t, ring.Close())

	reloaded, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)
	pt, err := reloaded.Decrypt(keyID, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives restart"), pt)
}

func TestKeyRing_WrongMasterPassword(t *testing.T) {
	cfg := testRingConfig(t)

	ring, err := NewKeyRing(cfg, "correct-password", logger.NewNoopLogger())
	require.NoError(t, err)
	require.NoError(t, ring.Close())

	_, err = NewKeyRing(cfg, "wrong-password", logger.NewNoopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestKeyRing_RotationByAge(t *testing.T) {
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	firstID, firstCT, err := ring.EncryptWithActive([]byte("before rotation"))
	require.NoError(t, err)

	// Advance the clock past the rotation threshold.
	ring.now = func() time.Time { return time.Now().UTC().Add(91 * 24 * time.Hour) }

	secondID, _, err := ring.EncryptWithActive([]byte("after rotation"))
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	// Old ciphertext still opens under the retired key.
	pt, err := ring.Decrypt(firstID, firstCT)
	require.NoError(t, err)
	assert.Equal(t, []byte("before rotation"), pt)
}

func TestKeyRing_RotationByUsage(t *testing.T) {
	cfg := testRingConfig(t)
	cfg.MaxEncryptionOperations = 3

	ring, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, _, err := ring.EncryptWithActive([]byte("payload"))
		require.NoError(t, err)
		ids[id] = true
	}

	// Threshold of 3 forces at least one rotation across 5 operations.
	assert.GreaterOrEqual(t, len(ids), 2)
}

func TestKeyRing_ForcedRotate(t *testing.T) {
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	before := ring.Info().ActiveKeyID
	newID, err := ring.Rotate()
	require.NoError(t, err)

	assert.NotEqual(t, before, newID)
	assert.Equal(t, newID, ring.Info().ActiveKeyID)
	assert.Equal(t, 2, ring.Info().KeyCount)
	assert.True(t, ring.HasKey(before))
}

func TestKeyRing_CleanupKeepsActiveAndRecent(t *testing.T) {
	cfg := testRingConfig(t)
	ring, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	oldID := ring.Info().ActiveKeyID
	_, err = ring.Rotate()
	require.NoError(t, err)

	// Both keys are fresh, nothing is eligible.
	removed, err := ring.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.True(t, ring.HasKey(oldID))

	// Age the retired key past retention.
	ring.mu.Lock()
	ring.keys[oldID].createdAt = time.Now().UTC().AddDate(-2, 0, 0)
	ring.mu.Unlock()

	removed, err = ring.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, ring.HasKey(oldID))
	assert.Equal(t, 1, ring.Info().KeyCount)
}

func readRingFile(t *testing.T, cfg config.KeyRingConfig) ringFile {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(cfg.StorePath, ringFileName))
	require.NoError(t, err)
	var file ringFile
	require.NoError(t, json.Unmarshal(raw, &file))
	return file
}

func TestKeyRing_FreshSaltEverySave(t *testing.T) {
	cfg := testRingConfig(t)
	ring, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	first := readRingFile(t, cfg)

	_, err = ring.Rotate()
	require.NoError(t, err)
	second := readRingFile(t, cfg)
	assert.NotEqual(t, first.Salt, second.Salt)

	require.NoError(t, ring.Close())
	third := readRingFile(t, cfg)
	assert.NotEqual(t, second.Salt, third.Salt)

	// Each generation still opens with the same password.
	reloaded, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)
	assert.Equal(t, ring.Info().ActiveKeyID, reloaded.Info().ActiveKeyID)
}

func TestKeyRing_RotationHook(t *testing.T) {
	ring, err := NewKeyRing(testRingConfig(t), "test-password", logger.NewNoopLogger())
	require.NoError(t, err)

	var rotations []string
	ring.SetRotationHook(func(newKeyID string) {
		rotations = append(rotations, newKeyID)
	})

	newID, err := ring.Rotate()
	require.NoError(t, err)
	require.Len(t, rotations, 1)
	assert.Equal(t, newID, rotations[0])
}

func TestKeyRing_FilePermissions(t *testing.T) {
	cfg := testRingConfig(t)
	ring, err := NewKeyRing(cfg, "test-password", logger.NewNoopLogger())
	require.NoError(t, err)
	require.NoError(t, ring.Close())

	info, err := os.Stat(filepath.Join(cfg.StorePath, ringFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
