package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/infrastructure/audit"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/pkg/utils"
)

type testEnv struct {
	svc    *AuthAppService
	mr     *miniredis.Miniredis
	db     *gorm.DB
	users  repository.UserRepository
	cipher *crypto.FieldCipher
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, config.SessionConfig{
		TTL:             time.Hour,
		BlacklistTTL:    24 * time.Hour,
		DeviceMemoryTTL: 30 * 24 * time.Hour,
		RevokeOnReuse:   true,
	}, 10)
}

func newTestEnvWithConfig(t *testing.T, sessionCfg config.SessionConfig, rateLimit int) *testEnv {
	t.Helper()
	log := logger.NewNoopLogger()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ring, err := crypto.NewKeyRing(config.KeyRingConfig{
		StorePath:               t.TempDir(),
		RotationDays:            90,
		MaxEncryptionOperations: 1_000_000,
		RetentionDays:           365,
	}, "test-password", log)
	require.NoError(t, err)
	cipher := crypto.NewFieldCipher(ring)

	signer := crypto.NewTokenSigner(config.TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "credcore",
	})

	users := postgres.NewUserRepository(db, cipher, log)
	svc := NewAuthAppService(
		redisinfra.NewCacheStore(client, cipher, sessionCfg.TTL, sessionCfg.DeviceMemoryTTL, log),
		redisinfra.NewTokenBlacklist(client, sessionCfg.BlacklistTTL, log),
		ratelimit.NewSlidingWindowLimiter(client, rateLimit, time.Minute, log),
		postgres.NewSessionRepository(db, log),
		postgres.NewTokenRepository(db, log),
		users,
		signer,
		cipher,
		audit.NewService(db, nil, log),
		monitoring.NewMetrics(prometheus.NewRegistry()),
		sessionCfg,
		log,
	)

	env := &testEnv{svc: svc, mr: mr, db: db, users: users, cipher: cipher}
	env.seedUser(t, "alice", "user-1")
	env.seedUser(t, "bob", "user-2")
	return env
}

func (e *testEnv) seedUser(t *testing.T, username, userID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.users.Create(context.Background(), &models.User{
		UserID:       userID,
		Username:     username,
		PasswordHash: "x",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func createReq(username, userID string) CreateSessionRequest {
	return CreateSessionRequest{
		Username:          username,
		UserID:            userID,
		IPAddress:         "10.0.0.1",
		UserAgent:         "test-agent",
		DeviceFingerprint: "fp-" + userID,
	}
}

func TestCreateSessionThenVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	identity, err := env.svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, pair.SessionID, identity.SessionID)
}

func TestCreateSessionWritesDurableMirrorAndAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	var row models.UserSession
	require.NoError(t, env.db.Where("session_id = ?", pair.SessionID).First(&row).Error)
	assert.True(t, row.IsActive)
	// The mirrored payload and device context are sealed, not clear.
	assert.NotEmpty(t, row.SessionDataKeyID)
	assert.NotContains(t, row.SessionData, "alice")
	assert.NotEqual(t, "10.0.0.1", row.IPAddress)

	var auditCount int64
	require.NoError(t, env.db.Model(&models.AuditLog{}).
		Where("session_id = ? AND event_type = ?", pair.SessionID, constants.AuditEventSessionCreated).
		Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

func TestRefreshTokenBearerNotRecoverableFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	var row models.RefreshToken
	require.NoError(t, env.db.Where("session_id = ?", pair.SessionID).First(&row).Error)

	// Only the hash of the bearer is stored; lookups go through it.
	assert.Equal(t, utils.HashToken(pair.RefreshToken), row.TokenHash)

	// The sealed column opens to issuance context, never the token.
	opened, err := env.cipher.OpenBytes(models.Envelope{
		KeyID:      row.MetadataKeyID,
		Ciphertext: row.MetadataCiphertext,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(opened), pair.RefreshToken)
	assert.Contains(t, string(opened), "10.0.0.1")
}

func TestVerifyAccess_CacheMissFallsBackToDurable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	// Simulate a cache flush. The durable mirror keeps the session alive.
	env.mr.FlushAll()

	identity, err := env.svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)

	// The fallback repopulated the cache.
	identity, err = env.svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
}

func TestVerifyAccess_GarbageToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.VerifyAccess(context.Background(), "not-a-token")
	assert.True(t, errors.IsUnauthorized(err))
}

func TestRefresh_RotatesAndConsumesOldToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, pair.SessionID, rotated.SessionID)

	// The new access token verifies.
	identity, err := env.svc.VerifyAccess(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)

	// The old refresh token is consumed: the retry is a conflict.
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.True(t, errors.IsConflict(err))
}

func TestRefresh_ReuseRevokesWholeSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Reuse of the consumed token trips the compromise response.
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	require.True(t, errors.IsConflict(err))

	// The whole session is gone, so even the latest refresh token is dead.
	_, err = env.svc.Refresh(ctx, rotated.RefreshToken)
	assert.Error(t, err)

	_, err = env.svc.VerifyAccess(ctx, rotated.AccessToken)
	assert.Error(t, err)
}

func TestRefresh_ReuseRejectOnlyPolicy(t *testing.T) {
	env := newTestEnvWithConfig(t, config.SessionConfig{
		TTL:             time.Hour,
		BlacklistTTL:    24 * time.Hour,
		DeviceMemoryTTL: 30 * 24 * time.Hour,
		RevokeOnReuse:   false,
	}, 10)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	require.True(t, errors.IsConflict(err))

	// With the policy off the session survives reuse.
	_, err = env.svc.VerifyAccess(ctx, rotated.AccessToken)
	assert.NoError(t, err)
}

func TestLogout_InvalidatesAccessAndSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	env.svc.Logout(ctx, pair.AccessToken, pair.RefreshToken)

	// The access token is blacklisted.
	_, err = env.svc.VerifyAccess(ctx, pair.AccessToken)
	assert.True(t, errors.IsUnauthorized(err))

	// The refresh token's session is revoked.
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.Error(t, err)

	// Durable mirror deactivated.
	var row models.UserSession
	require.NoError(t, env.db.Where("session_id = ?", pair.SessionID).First(&row).Error)
	assert.False(t, row.IsActive)
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	env := newTestEnv(t)

	// Garbage input must not panic or error; logout is best effort.
	env.svc.Logout(context.Background(), "garbage", "more-garbage")
}

func TestMassRevoke_DropsEverySession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair1, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)
	pair2, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)
	other, err := env.svc.CreateSession(ctx, createReq("bob", "user-2"))
	require.NoError(t, err)

	dropped, err := env.svc.MassRevoke(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	_, err = env.svc.VerifyAccess(ctx, pair1.AccessToken)
	assert.Error(t, err)
	_, err = env.svc.VerifyAccess(ctx, pair2.AccessToken)
	assert.Error(t, err)
	_, err = env.svc.Refresh(ctx, pair1.RefreshToken)
	assert.Error(t, err)

	// Other users keep their sessions.
	_, err = env.svc.VerifyAccess(ctx, other.AccessToken)
	assert.NoError(t, err)
}

func TestCreateSession_RateLimited(t *testing.T) {
	env := newTestEnvWithConfig(t, config.SessionConfig{
		TTL:             time.Hour,
		BlacklistTTL:    24 * time.Hour,
		DeviceMemoryTTL: 30 * 24 * time.Hour,
		RevokeOnReuse:   true,
	}, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
		require.NoError(t, err)
	}

	_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Metadata(), "retry_after")

	// Other identifiers are unaffected.
	_, err = env.svc.CreateSession(ctx, createReq("bob", "user-2"))
	assert.NoError(t, err)
}

func TestCreateSession_RejectsUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateSession(context.Background(), createReq("ghost", "user-99"))
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateSession_RejectsLockedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lockUntil := time.Now().UTC().Add(15 * time.Minute)
	require.NoError(t, env.users.RecordLoginFailure(ctx, "user-1", &lockUntil))

	_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	assert.True(t, errors.IsUnauthorized(err))
}

func TestCreateSession_RejectsInactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.db.Model(&models.User{}).
		Where("user_id = ?", "user-1").
		Update("is_active", false).Error)

	_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateSession_StampsLastLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	user, err := env.users.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.WithinDuration(t, time.Now().UTC(), *user.LastLoginAt, time.Minute)
}

func TestResetRateLimit_LiftsTheWindow(t *testing.T) {
	env := newTestEnvWithConfig(t, config.SessionConfig{
		TTL:             time.Hour,
		BlacklistTTL:    24 * time.Hour,
		DeviceMemoryTTL: 30 * 24 * time.Hour,
		RevokeOnReuse:   true,
	}, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
		require.NoError(t, err)
	}
	_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.True(t, errors.IsConflict(err))

	require.NoError(t, env.svc.ResetRateLimit(ctx, "user-1"))

	_, err = env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	assert.NoError(t, err)

	// The override is audited.
	var count int64
	require.NoError(t, env.db.Model(&models.AuditLog{}).
		Where("event_type = ?", constants.AuditEventRateLimitReset).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeviceTrackingAcrossSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)
	_, err = env.svc.CreateSession(ctx, createReq("alice", "user-1"))
	require.NoError(t, err)

	devices, err := env.svc.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, int64(2), devices[0].SeenCount)
}
