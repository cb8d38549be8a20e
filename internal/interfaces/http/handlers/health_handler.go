package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	redisinfra "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
	"github.com/turtacn/credcore/pkg/logger"
)

// HealthHandler reports process and dependency health.
type HealthHandler struct {
	cache *redisinfra.CacheStore
	db    *gorm.DB
	ring  *crypto.KeyRing
	log   logger.Logger
}

// NewHealthHandler builds the health handler.
func NewHealthHandler(cache *redisinfra.CacheStore, db *gorm.DB, ring *crypto.KeyRing, log logger.Logger) *HealthHandler {
	return &HealthHandler{cache: cache, db: db, ring: ring, log: log.WithComponent("health_handler")}
}

// Liveness handles GET /live: the process is up.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Readiness handles GET /ready: both stores answer and the ring has an
// active key.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = "unreachable"
		healthy = false
	} else {
		checks["cache"] = "ok"
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["database"] = "unreachable"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	info := h.ring.Info()
	if info.ActiveKeyID == "" {
		checks["key_ring"] = "no active key"
		healthy = false
	} else {
		checks["key_ring"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

// KeyRingInfo handles GET /api/v1/admin/keyring: key ids and counters only,
// never material.
func (h *HealthHandler) KeyRingInfo(c *gin.Context) {
	info := h.ring.Info()
	c.JSON(http.StatusOK, gin.H{
		"active_key_id":    info.ActiveKeyID,
		"key_count":        info.KeyCount,
		"encryption_count": info.EncryptionCount,
		"active_key_age":   info.ActiveKeyAge.String(),
	})
}

// RotateKey handles POST /api/v1/admin/keyring/rotate.
func (h *HealthHandler) RotateKey(c *gin.Context) {
	newID, err := h.ring.Rotate()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_key_id": newID})
}
