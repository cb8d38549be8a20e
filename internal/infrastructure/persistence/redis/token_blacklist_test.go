package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/pkg/utils"
)

func newTestBlacklist(t *testing.T) (*TokenBlacklist, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewTokenBlacklist(client, 24*time.Hour, logger.NewNoopLogger()), mr
}

func TestTokenBlacklist_AddAndContains(t *testing.T) {
	bl, _ := newTestBlacklist(t)
	ctx := context.Background()
	hash := utils.HashToken("some-access-token")

	found, err := bl.Contains(ctx, hash)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, bl.Add(ctx, hash, 10*time.Minute))

	found, err = bl.Contains(ctx, hash)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTokenBlacklist_EntryExpiresWithToken(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()
	hash := utils.HashToken("short-lived-token")

	require.NoError(t, bl.Add(ctx, hash, 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	found, err := bl.Contains(ctx, hash)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTokenBlacklist_ZeroTTLUsesDefaultBound(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()
	hash := utils.HashToken("unknown-lifetime-token")

	require.NoError(t, bl.Add(ctx, hash, 0))

	// Bounded by the default, not persisted forever.
	mr.FastForward(23 * time.Hour)
	found, err := bl.Contains(ctx, hash)
	require.NoError(t, err)
	assert.True(t, found)

	mr.FastForward(2 * time.Hour)
	found, err = bl.Contains(ctx, hash)
	require.NoError(t, err)
	assert.False(t, found)
}
