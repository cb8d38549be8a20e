// Package service orchestrates the session and token lifecycle on top of the
// cache store, durable store, key ring, and token signer.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/infrastructure/audit"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	redisinfra "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
	"github.com/turtacn/credcore/pkg/utils"
)

const rateLimitCategorySessionCreation = "session_creation"

// CreateSessionRequest carries the verified identity and device context from
// the authentication collaborator. Identity verification happened upstream;
// this service trusts the input completely.
type CreateSessionRequest struct {
	Username          string
	UserID            string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Data              map[string]interface{}
}

// Identity is the verified result of an access token check.
type Identity struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
}

// AuthAppService is the token issuer: it composes the cache store, durable
// store, rate limiter, key ring, and signer into the session lifecycle
// operations the HTTP edge exposes.
type AuthAppService struct {
	cache     *redisinfra.CacheStore
	blacklist *redisinfra.TokenBlacklist
	limiter   *ratelimit.SlidingWindowLimiter
	sessions  repository.SessionRepository
	tokens    repository.TokenRepository
	users     repository.UserRepository
	signer    *crypto.TokenSigner
	cipher    *crypto.FieldCipher
	audit     *audit.Service
	metrics   *monitoring.Metrics
	cfg       config.SessionConfig
	log       logger.Logger

	// loads collapses concurrent cache-miss fallbacks for the same session
	// into one durable store read.
	loads singleflight.Group

	now func() time.Time
}

// NewAuthAppService wires the token issuer. All collaborators are required
// except metrics fan-out consumers inside audit.
func NewAuthAppService(
	cache *redisinfra.CacheStore,
	blacklist *redisinfra.TokenBlacklist,
	limiter *ratelimit.SlidingWindowLimiter,
	sessions repository.SessionRepository,
	tokens repository.TokenRepository,
	users repository.UserRepository,
	signer *crypto.TokenSigner,
	cipher *crypto.FieldCipher,
	auditSvc *audit.Service,
	metrics *monitoring.Metrics,
	cfg config.SessionConfig,
	log logger.Logger,
) *AuthAppService {
	return &AuthAppService{
		cache:     cache,
		blacklist: blacklist,
		limiter:   limiter,
		sessions:  sessions,
		tokens:    tokens,
		users:     users,
		signer:    signer,
		cipher:    cipher,
		audit:     auditSvc,
		metrics:   metrics,
		cfg:       cfg,
		log:       log.WithComponent("auth_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession establishes a session for a verified identity and mints the
// first token pair. The durable session row, the refresh token record, and
// their audit entries commit before tokens are returned.
func (s *AuthAppService) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.TokenPair, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "token_issuer.create_session")
	defer span.End()
	defer s.metrics.ObserveOperation("create_session", s.now())

	res, err := s.limiter.Allow(ctx, rateLimitCategorySessionCreation, req.UserID)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		s.metrics.RateLimitDenied.WithLabelValues(rateLimitCategorySessionCreation).Inc()
		entry := s.audit.Entry(constants.AuditEventRateLimitExceeded, constants.AuditCategoryAuth,
			constants.AuditSeverityWarn, map[string]interface{}{"category": rateLimitCategorySessionCreation}).
			WithActor(req.UserID, "").WithClientIP(req.IPAddress)
		if err := s.audit.Record(ctx, entry); err != nil {
			s.log.Warn(ctx, "failed to record rate limit audit entry", logger.String("user_id", req.UserID))
		}
		return nil, errors.ErrRateLimitExceeded(rateLimitCategorySessionCreation, res.ResetAt)
	}

	now := s.now()

	// The identity is verified upstream, but the account must still exist
	// and be in good standing here: disabled or locked accounts get no
	// sessions regardless of what the collaborator believes.
	user, err := s.users.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errors.ErrUserNotFound(req.Username)
	}
	if user.IsLocked(now) {
		return nil, errors.ErrAccountLocked(req.Username)
	}

	sessionID := utils.RandomToken(32)

	data := req.Data
	if data == nil {
		data = make(map[string]interface{})
	}
	data["username"] = req.Username
	session := models.NewSession(sessionID, req.UserID, data)

	if err := s.cache.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	row, err := s.buildSessionRow(session, req, now)
	if err != nil {
		return nil, err
	}
	createAudit := s.audit.Entry(constants.AuditEventSessionCreated, constants.AuditCategorySession,
		constants.AuditSeverityInfo, map[string]interface{}{"device_fingerprint": req.DeviceFingerprint}).
		WithActor(req.UserID, sessionID).WithClientIP(req.IPAddress)
	if err := s.sessions.Create(ctx, row, createAudit); err != nil {
		// Roll back the cache write so the stores do not diverge.
		if cerr := s.cache.DeleteSession(ctx, sessionID, req.UserID); cerr != nil {
			s.log.Warn(ctx, "failed to roll back cache session", logger.String("session_id", sessionID))
		}
		return nil, err
	}
	s.audit.FanOut(ctx, createAudit)

	pair, err := s.issueTokenPair(ctx, req.Username, req.UserID, sessionID, req.IPAddress, req.UserAgent, nil)
	if err != nil {
		return nil, err
	}

	if req.DeviceFingerprint != "" {
		device := models.NewDeviceRecord(req.DeviceFingerprint, req.UserID, req.UserAgent, req.IPAddress)
		if err := s.cache.RememberDevice(ctx, device); err != nil {
			s.log.Warn(ctx, "failed to remember device",
				logger.String("user_id", req.UserID),
				logger.String("fingerprint", req.DeviceFingerprint),
			)
		}
	}

	if err := s.users.RecordLogin(ctx, req.UserID, now); err != nil {
		s.log.Warn(ctx, "failed to stamp last login", logger.String("user_id", req.UserID))
	}

	s.metrics.SessionsCreated.Inc()
	s.log.Info(ctx, "session created",
		logger.String("user_id", req.UserID),
		logger.String("session_id", sessionID),
	)
	return pair, nil
}

// VerifyAccess validates an access token and confirms its session is still
// live. The blacklist is consulted first: it is the cheapest rejection and
// covers tokens whose signature and expiry are otherwise valid.
func (s *AuthAppService) VerifyAccess(ctx context.Context, accessToken string) (*Identity, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "token_issuer.verify_access")
	defer span.End()
	defer s.metrics.ObserveOperation("verify_access", s.now())

	blacklisted, err := s.blacklist.Contains(ctx, utils.HashToken(accessToken))
	if err != nil {
		// Fail closed: an unreachable blacklist must not admit revoked tokens.
		s.metrics.TokenVerifyTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if blacklisted {
		s.metrics.TokenVerifyTotal.WithLabelValues("blacklisted").Inc()
		return nil, errors.ErrTokenBlacklisted()
	}

	claims, err := s.signer.VerifyAccessToken(accessToken)
	if err != nil {
		s.metrics.TokenVerifyTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	session, err := s.loadSession(ctx, claims.SessionID)
	if err != nil {
		s.metrics.TokenVerifyTotal.WithLabelValues("no_session").Inc()
		return nil, err
	}

	if session.UserID != claims.UserID {
		s.metrics.TokenVerifyTotal.WithLabelValues("mismatch").Inc()
		return nil, errors.ErrClaimMismatch("user_id")
	}
	if username := session.Username(); username != "" && username != claims.Username {
		s.metrics.TokenVerifyTotal.WithLabelValues("mismatch").Inc()
		return nil, errors.ErrClaimMismatch("username")
	}

	s.metrics.TokenVerifyTotal.WithLabelValues("ok").Inc()
	return &Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		SessionID: claims.SessionID,
	}, nil
}

// Refresh exchanges a one-time-use refresh token for a new token pair. The
// old token is consumed atomically in the durable store; reuse of an already
// consumed token is treated as a compromise signal and, under the default
// policy, revokes the whole session.
func (s *AuthAppService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "token_issuer.refresh")
	defer span.End()
	defer s.metrics.ObserveOperation("refresh", s.now())

	claims, err := s.signer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	token, err := s.tokens.Consume(ctx, claims.TokenID, now)
	if err != nil {
		if errors.IsConflict(err) {
			s.handleRefreshReuse(ctx, claims)
		}
		return nil, err
	}
	if token.IsRevoked {
		return nil, errors.ErrTokenInvalid("refresh token revoked")
	}
	if token.IsExpired(now) {
		return nil, errors.ErrTokenExpired(string(constants.TokenTypeRefresh))
	}

	// The bound session must still be live; a consumed token for a dead
	// session mints nothing.
	if _, err := s.loadSession(ctx, claims.SessionID); err != nil {
		return nil, err
	}

	if err := s.cache.DeleteRefreshToken(ctx, claims.TokenID); err != nil {
		s.log.Warn(ctx, "failed to drop cached refresh token", logger.String("token_id", claims.TokenID))
	}

	refreshAudit := s.audit.Entry(constants.AuditEventTokenRefreshed, constants.AuditCategoryAuth,
		constants.AuditSeverityInfo, map[string]interface{}{"old_token_id": claims.TokenID}).
		WithActor(claims.UserID, claims.SessionID)
	pair, err := s.issueTokenPair(ctx, claims.Username, claims.UserID, claims.SessionID, "", "", refreshAudit)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "token pair rotated",
		logger.String("user_id", claims.UserID),
		logger.String("session_id", claims.SessionID),
	)
	return pair, nil
}

// Logout tears down a session: blacklists the access token for its remaining
// lifetime, deletes the cache session, and revokes the session's refresh
// tokens and durable row. Cleanup is best effort; failures are logged and
// the caller always sees success, because a logout that errors out leaves
// the user worse off than one that partially completed.
func (s *AuthAppService) Logout(ctx context.Context, accessToken, refreshToken string) {
	ctx, span := monitoring.Tracer().Start(ctx, "token_issuer.logout")
	defer span.End()
	defer s.metrics.ObserveOperation("logout", s.now())

	var userID, sessionID string

	if accessToken != "" {
		if claims, err := s.signer.DecodeAccessToken(accessToken); err == nil {
			userID, sessionID = claims.UserID, claims.SessionID
			ttl := time.Duration(0)
			if claims.ExpiresAt != nil {
				ttl = claims.ExpiresAt.Time.Sub(s.now())
			}
			if err := s.blacklist.Add(ctx, utils.HashToken(accessToken), ttl); err != nil {
				s.log.Warn(ctx, "failed to blacklist access token", logger.String("session_id", sessionID))
			}
		}
	}
	if sessionID == "" && refreshToken != "" {
		if claims, err := s.signer.VerifyRefreshToken(refreshToken); err == nil {
			userID, sessionID = claims.UserID, claims.SessionID
		}
	}
	if sessionID == "" {
		return
	}

	if err := s.cache.DeleteSession(ctx, sessionID, userID); err != nil {
		s.log.Warn(ctx, "failed to delete cache session on logout", logger.String("session_id", sessionID))
	}

	logoutAudit := s.audit.Entry(constants.AuditEventLogout, constants.AuditCategorySession,
		constants.AuditSeverityInfo, nil).WithActor(userID, sessionID)
	if err := s.sessions.Revoke(ctx, sessionID, logoutAudit); err != nil {
		s.log.Warn(ctx, "failed to revoke durable session on logout", logger.String("session_id", sessionID))
	} else {
		s.audit.FanOut(ctx, logoutAudit)
	}

	if _, err := s.tokens.RevokeBySessionID(ctx, sessionID, nil); err != nil {
		s.log.Warn(ctx, "failed to revoke refresh tokens on logout", logger.String("session_id", sessionID))
	}

	s.metrics.SessionsRevoked.Inc()
	s.log.Info(ctx, "session logged out",
		logger.String("user_id", userID),
		logger.String("session_id", sessionID),
	)
}

// MassRevoke invalidates every session and refresh token of a user: cache
// sessions and their index first, then the durable rows. Returns the number
// of sessions dropped from the cache.
func (s *AuthAppService) MassRevoke(ctx context.Context, userID string) (int, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "token_issuer.mass_revoke")
	defer span.End()
	defer s.metrics.ObserveOperation("mass_revoke", s.now())

	dropped, err := s.cache.DeleteAllUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	revokeAudit := s.audit.Entry(constants.AuditEventMassRevoke, constants.AuditCategoryAdmin,
		constants.AuditSeverityWarn, map[string]interface{}{"cached_sessions": dropped}).
		WithActor(userID, "")
	revoked, err := s.sessions.RevokeAllForUser(ctx, userID, revokeAudit)
	if err != nil {
		return dropped, err
	}
	s.audit.FanOut(ctx, revokeAudit)

	if _, err := s.tokens.RevokeAllForUser(ctx, userID, nil); err != nil {
		return dropped, err
	}

	s.metrics.SessionsRevoked.Add(float64(len(revoked)))
	s.log.Info(ctx, "mass revocation completed",
		logger.String("user_id", userID),
		logger.Int("cached_sessions", dropped),
		logger.Int("durable_sessions", len(revoked)),
	)
	return dropped, nil
}

// ListDevices returns the user's remembered devices.
func (s *AuthAppService) ListDevices(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	return s.cache.ListDevices(ctx, userID)
}

// ResetRateLimit clears the session-creation window for a user. Operator
// override for legitimate lockouts; the reset itself is audited.
func (s *AuthAppService) ResetRateLimit(ctx context.Context, userID string) error {
	if err := s.limiter.Reset(ctx, rateLimitCategorySessionCreation, userID); err != nil {
		return err
	}

	entry := s.audit.Entry(constants.AuditEventRateLimitReset, constants.AuditCategoryAdmin,
		constants.AuditSeverityWarn, map[string]interface{}{"category": rateLimitCategorySessionCreation}).
		WithActor(userID, "")
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn(ctx, "failed to record rate limit reset audit entry", logger.String("user_id", userID))
	}

	s.log.Info(ctx, "rate limit reset", logger.String("user_id", userID))
	return nil
}

// ================================================================================
// Internals
// ================================================================================

// loadSession reads the session cache-aside: cache first, durable store on
// miss with cache repopulation. Concurrent misses for one session collapse
// into a single durable read.
func (s *AuthAppService) loadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.cache.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	v, err, _ := s.loads.Do(sessionID, func() (interface{}, error) {
		return s.fallbackLoad(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session), nil
}

func (s *AuthAppService) fallbackLoad(ctx context.Context, sessionID string) (*models.Session, error) {
	row, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !row.IsActive {
		return nil, errors.ErrSessionNotFound(sessionID)
	}
	if row.IsExpired(s.now()) {
		return nil, errors.ErrSessionExpired(sessionID)
	}

	var data map[string]interface{}
	if row.SessionData != "" {
		env := models.Envelope{KeyID: row.SessionDataKeyID, Ciphertext: row.SessionData}
		if err := s.cipher.OpenJSON(env, &data); err != nil {
			// Key loss degrades to absence on read paths, loudly.
			s.log.Error(ctx, "failed to open durable session payload", err,
				logger.String("session_id", sessionID),
				logger.String("key_id", row.SessionDataKeyID),
			)
			return nil, errors.ErrSessionNotFound(sessionID)
		}
	}

	session := &models.Session{
		SessionID:      row.SessionID,
		UserID:         row.UserID,
		CreatedAt:      row.CreatedAt,
		LastAccessedAt: s.now(),
		Data:           data,
	}
	if session.Data == nil {
		session.Data = make(map[string]interface{})
	}

	if err := s.cache.CreateSession(ctx, session); err != nil {
		s.log.Warn(ctx, "failed to repopulate cache session", logger.String("session_id", sessionID))
	}
	s.metrics.CacheFallbacks.Inc()
	return session, nil
}

// refreshTokenMetadata is the sealed issuance context stored beside a
// refresh token record. The bearer value itself is never stored; lookups go
// through the hash column.
type refreshTokenMetadata struct {
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// issueTokenPair mints an access and refresh token for the session and
// persists the refresh token's one-time-use record.
func (s *AuthAppService) issueTokenPair(ctx context.Context, username, userID, sessionID, clientIP, userAgent string, auditEntry *models.AuditLog) (*models.TokenPair, error) {
	now := s.now()
	tokenID := uuid.NewString()

	accessToken, err := s.signer.SignAccessToken(username, userID, sessionID)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.signer.SignRefreshToken(username, userID, sessionID, tokenID)
	if err != nil {
		return nil, err
	}

	sealed, err := s.cipher.SealJSON(refreshTokenMetadata{
		IPAddress: clientIP,
		UserAgent: userAgent,
		IssuedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	row := &models.RefreshToken{
		TokenID:            tokenID,
		SessionID:          sessionID,
		UserID:             userID,
		TokenHash:          utils.HashToken(refreshToken),
		MetadataCiphertext: sealed.Ciphertext,
		MetadataKeyID:      sealed.KeyID,
		IsActive:           true,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.signer.RefreshTTL()),
	}
	if err := s.tokens.Create(ctx, row, auditEntry); err != nil {
		return nil, err
	}
	if auditEntry != nil {
		s.audit.FanOut(ctx, auditEntry)
	}

	if err := s.cache.StoreRefreshToken(ctx, tokenID, sessionID, userID, s.signer.RefreshTTL()); err != nil {
		s.log.Warn(ctx, "failed to cache refresh token", logger.String("token_id", tokenID))
	}

	s.metrics.TokensIssued.WithLabelValues(string(constants.TokenTypeAccess)).Inc()
	s.metrics.TokensIssued.WithLabelValues(string(constants.TokenTypeRefresh)).Inc()

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.signer.AccessTTL().Seconds()),
		SessionID:    sessionID,
	}, nil
}

// buildSessionRow seals the session payload and device context into the
// durable mirror with a fixed expiry.
func (s *AuthAppService) buildSessionRow(session *models.Session, req CreateSessionRequest, now time.Time) (*models.UserSession, error) {
	dataEnv, err := s.cipher.SealJSON(session.Data)
	if err != nil {
		return nil, err
	}
	row := &models.UserSession{
		SessionID:        session.SessionID,
		UserID:           session.UserID,
		SessionData:      dataEnv.Ciphertext,
		SessionDataKeyID: dataEnv.KeyID,
		IsActive:         true,
		CreatedAt:        now,
		LastAccessedAt:   now,
		ExpiresAt:        now.Add(s.cfg.TTL),
	}
	if req.IPAddress != "" {
		env, err := s.cipher.Seal(req.IPAddress)
		if err != nil {
			return nil, err
		}
		row.IPAddress, row.IPAddressKeyID = env.Ciphertext, env.KeyID
	}
	if req.UserAgent != "" {
		env, err := s.cipher.Seal(req.UserAgent)
		if err != nil {
			return nil, err
		}
		row.UserAgent, row.UserAgentKeyID = env.Ciphertext, env.KeyID
	}
	return row, nil
}

// handleRefreshReuse reacts to an already-consumed token id. Under the
// default policy the whole session and its remaining refresh tokens are
// revoked; with the policy off, the retry is just rejected.
func (s *AuthAppService) handleRefreshReuse(ctx context.Context, claims *models.RefreshClaims) {
	s.metrics.RefreshReuseTotal.Inc()

	reuseAudit := s.audit.Entry(constants.AuditEventTokenReuse, constants.AuditCategoryAuth,
		constants.AuditSeverityCritical, map[string]interface{}{
			"token_id":        claims.TokenID,
			"session_revoked": s.cfg.RevokeOnReuse,
		}).WithActor(claims.UserID, claims.SessionID)
	if err := s.audit.Record(ctx, reuseAudit); err != nil {
		s.log.Warn(ctx, "failed to record reuse audit entry", logger.String("token_id", claims.TokenID))
	}

	s.log.Warn(ctx, "refresh token reuse detected",
		logger.String("user_id", claims.UserID),
		logger.String("session_id", claims.SessionID),
		logger.String("token_id", claims.TokenID),
		logger.Bool("revoking_session", s.cfg.RevokeOnReuse),
	)

	if !s.cfg.RevokeOnReuse {
		return
	}

	if err := s.cache.DeleteSession(ctx, claims.SessionID, claims.UserID); err != nil {
		s.log.Warn(ctx, "failed to delete cache session after reuse", logger.String("session_id", claims.SessionID))
	}
	if err := s.sessions.Revoke(ctx, claims.SessionID, nil); err != nil {
		s.log.Warn(ctx, "failed to revoke durable session after reuse", logger.String("session_id", claims.SessionID))
	}
	if _, err := s.tokens.RevokeBySessionID(ctx, claims.SessionID, nil); err != nil {
		s.log.Warn(ctx, "failed to revoke refresh tokens after reuse", logger.String("session_id", claims.SessionID))
	}
	s.metrics.SessionsRevoked.Inc()
}
