package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	appservice "github.com/turtacn/credcore/internal/application/service"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/infrastructure/audit"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	"github.com/turtacn/credcore/pkg/logger"
)

func newTestEngine(t *testing.T, rateLimit int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
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
	users := postgres.NewUserRepository(db, cipher, log)
	now := time.Now().UTC()
	require.NoError(t, users.Create(context.Background(), &models.User{
		UserID:       "user-1",
		Username:     "alice",
		PasswordHash: "x",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	sessionCfg := config.SessionConfig{
		TTL:             time.Hour,
		BlacklistTTL:    24 * time.Hour,
		DeviceMemoryTTL: 30 * 24 * time.Hour,
		RevokeOnReuse:   true,
	}
	svc := appservice.NewAuthAppService(
		redisinfra.NewCacheStore(client, cipher, sessionCfg.TTL, sessionCfg.DeviceMemoryTTL, log),
		redisinfra.NewTokenBlacklist(client, sessionCfg.BlacklistTTL, log),
		ratelimit.NewSlidingWindowLimiter(client, rateLimit, time.Minute, log),
		postgres.NewSessionRepository(db, log),
		postgres.NewTokenRepository(db, log),
		users,
		crypto.NewTokenSigner(config.TokenConfig{
			AccessSecret:  "access-secret-for-tests",
			RefreshSecret: "refresh-secret-for-tests",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "credcore",
		}),
		cipher,
		audit.NewService(db, nil, log),
		monitoring.NewMetrics(prometheus.NewRegistry()),
		sessionCfg,
		log,
	)

	h := NewAuthHandler(svc, log)
	engine := gin.New()
	v1 := engine.Group("/api/v1")
	v1.POST("/sessions", h.CreateSession)
	v1.GET("/sessions/verify", h.VerifyAccess)
	v1.POST("/sessions/logout", h.Logout)
	v1.POST("/tokens/refresh", h.Refresh)
	v1.DELETE("/users/:user_id/sessions", h.MassRevoke)
	v1.GET("/users/:user_id/devices", h.ListDevices)
	v1.DELETE("/admin/users/:user_id/ratelimit", h.ResetRateLimit)
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func createTestSession(t *testing.T, engine *gin.Engine, username, userID string) models.TokenPair {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/api/v1/sessions", gin.H{
		"username": username,
		"user_id":  userID,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pair models.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func TestAuthHandler_CreateAndVerify(t *testing.T) {
	engine := newTestEngine(t, 10)

	pair := createTestSession(t, engine, "alice", "user-1")
	assert.NotEmpty(t, pair.AccessToken)

	rec := doJSON(t, engine, http.MethodGet, "/api/v1/sessions/verify", nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var identity appservice.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "alice", identity.Username)
}

func TestAuthHandler_VerifyWithoutToken(t *testing.T) {
	engine := newTestEngine(t, 10)

	rec := doJSON(t, engine, http.MethodGet, "/api/v1/sessions/verify", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandler_CreateSessionValidation(t *testing.T) {
	engine := newTestEngine(t, 10)

	rec := doJSON(t, engine, http.MethodPost, "/api/v1/sessions", gin.H{"username": "alice"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandler_RefreshAndReuse(t *testing.T) {
	engine := newTestEngine(t, 10)
	pair := createTestSession(t, engine, "alice", "user-1")

	rec := doJSON(t, engine, http.MethodPost, "/api/v1/tokens/refresh",
		gin.H{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Reuse of the consumed token maps to 429 (conflict).
	rec = doJSON(t, engine, http.MethodPost, "/api/v1/tokens/refresh",
		gin.H{"refresh_token": pair.RefreshToken}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAuthHandler_LogoutAlwaysOK(t *testing.T) {
	engine := newTestEngine(t, 10)
	pair := createTestSession(t, engine, "alice", "user-1")

	rec := doJSON(t, engine, http.MethodPost, "/api/v1/sessions/logout",
		gin.H{"refresh_token": pair.RefreshToken}, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	// The access token no longer verifies.
	rec = doJSON(t, engine, http.MethodGet, "/api/v1/sessions/verify", nil, pair.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout with garbage input still returns 200.
	rec = doJSON(t, engine, http.MethodPost, "/api/v1/sessions/logout", gin.H{}, "garbage")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandler_RateLimitCarriesRetryAfter(t *testing.T) {
	engine := newTestEngine(t, 2)

	createTestSession(t, engine, "alice", "user-1")
	createTestSession(t, engine, "alice", "user-1")

	rec := doJSON(t, engine, http.MethodPost, "/api/v1/sessions", gin.H{
		"username": "alice",
		"user_id":  "user-1",
	}, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAuthHandler_RateLimitReset(t *testing.T) {
	engine := newTestEngine(t, 1)

	createTestSession(t, engine, "alice", "user-1")

	rec := doJSON(t, engine, http.MethodPost, "/api/v1/sessions", gin.H{
		"username": "alice",
		"user_id":  "user-1",
	}, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doJSON(t, engine, http.MethodDelete, "/api/v1/admin/users/user-1/ratelimit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	createTestSession(t, engine, "alice", "user-1")
}

func TestAuthHandler_MassRevoke(t *testing.T) {
	engine := newTestEngine(t, 10)
	pair := createTestSession(t, engine, "alice", "user-1")

	rec := doJSON(t, engine, http.MethodDelete, "/api/v1/users/user-1/sessions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/api/v1/sessions/verify", nil, pair.AccessToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
