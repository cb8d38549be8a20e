package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/internal/application/service"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// AuthHandler exposes the token issuer operations over HTTP.
type AuthHandler struct {
	auth *service.AuthAppService
	log  logger.Logger
}

// NewAuthHandler builds the auth handler.
func NewAuthHandler(auth *service.AuthAppService, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log.WithComponent("auth_handler")}
}

type createSessionRequest struct {
	Username          string                 `json:"username" binding:"required"`
	UserID            string                 `json:"user_id" binding:"required"`
	DeviceFingerprint string                 `json:"device_fingerprint"`
	Data              map[string]interface{} `json:"data"`
}

// CreateSession handles POST /api/v1/sessions. The caller is the
// authentication collaborator; identity is already verified.
func (h *AuthHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "bad_request"})
		return
	}

	pair, err := h.auth.CreateSession(c.Request.Context(), service.CreateSessionRequest{
		Username:          req.Username,
		UserID:            req.UserID,
		IPAddress:         c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		DeviceFingerprint: req.DeviceFingerprint,
		Data:              req.Data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

// VerifyAccess handles GET /api/v1/sessions/verify with a bearer token.
func (h *AuthHandler) VerifyAccess(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		respondError(c, errors.ErrTokenInvalid("missing bearer token"))
		return
	}

	identity, err := h.auth.VerifyAccess(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh handles POST /api/v1/tokens/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "bad_request"})
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout handles POST /api/v1/sessions/logout. Always 200: cleanup is best
// effort in the core and the edge mirrors that contract.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	h.auth.Logout(c.Request.Context(), bearerToken(c), req.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// MassRevoke handles DELETE /api/v1/users/:user_id/sessions.
func (h *AuthHandler) MassRevoke(c *gin.Context) {
	userID := c.Param("user_id")
	dropped, err := h.auth.MassRevoke(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked_sessions": dropped})
}

// ResetRateLimit handles DELETE /api/v1/admin/users/:user_id/ratelimit.
func (h *AuthHandler) ResetRateLimit(c *gin.Context) {
	if err := h.auth.ResetRateLimit(c.Request.Context(), c.Param("user_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// ListDevices handles GET /api/v1/users/:user_id/devices.
func (h *AuthHandler) ListDevices(c *gin.Context) {
	devices, err := h.auth.ListDevices(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}
