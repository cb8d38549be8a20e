// Package constants defines system-wide constants for the credcore service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Token Type Constants
// ================================================================================

// TokenType represents the type of authentication token.
type TokenType string

const (
	// TokenTypeAccess represents a short-lived access token
	TokenTypeAccess TokenType = "access"

	// TokenTypeRefresh represents a long-lived, one-time-use refresh token
	TokenTypeRefresh TokenType = "refresh"
)

// ================================================================================
// Cache Category Constants
// ================================================================================

// CacheCategory namespaces keys in the fast cache store so that subsystems
// sharing one backing store never collide.
type CacheCategory string

const (
	// CategorySession holds live session state
	CategorySession CacheCategory = "session"

	// CategoryUserSessions holds the user -> session-id set index
	CategoryUserSessions CacheCategory = "user_sessions"

	// CategoryRefreshToken holds the cached (non-authoritative) refresh token copy
	CategoryRefreshToken CacheCategory = "refresh_token"

	// CategoryBlacklist holds revoked access token hashes
	CategoryBlacklist CacheCategory = "blacklist"

	// CategoryRateLimit prefixes sliding-window rate limit keys
	CategoryRateLimit CacheCategory = "ratelimit"

	// CategoryDevice holds per-user device records
	CategoryDevice CacheCategory = "device"

	// CategoryUserDevices holds the user -> device-fingerprint set index
	CategoryUserDevices CacheCategory = "user_devices"
)

// CacheKeyPrefix namespaces every key written by this service.
const CacheKeyPrefix = "credcore"

// ================================================================================
// Lifetime Defaults
// ================================================================================

const (
	// AccessTokenDefaultTTL is the default lifetime for access tokens (15 minutes)
	AccessTokenDefaultTTL = 15 * time.Minute

	// RefreshTokenDefaultTTL is the default lifetime for refresh tokens (7 days)
	RefreshTokenDefaultTTL = 7 * 24 * time.Hour

	// SessionDefaultTTL is the default sliding lifetime for cached sessions (1 hour)
	SessionDefaultTTL = time.Hour

	// BlacklistDefaultTTL bounds blacklist entries when the token's remaining
	// lifetime cannot be determined (24 hours)
	BlacklistDefaultTTL = 24 * time.Hour

	// DeviceMemoryDefaultTTL is how long device records are remembered (30 days)
	DeviceMemoryDefaultTTL = 30 * 24 * time.Hour
)

// ================================================================================
// Key Ring Defaults
// ================================================================================

const (
	// KeyRotationDefaultDays is the age after which the active key is rotated
	KeyRotationDefaultDays = 90

	// MaxEncryptionOperationsDefault is the usage count after which the active
	// key is rotated
	MaxEncryptionOperationsDefault = 1_000_000

	// KeyDerivationIterations is the PBKDF2 iteration count for the master key
	KeyDerivationIterations = 100_000

	// KeyRetentionDefaultDays is the default retention window for inactive keys
	KeyRetentionDefaultDays = 365
)

// ================================================================================
// Rate Limit Defaults
// ================================================================================

const (
	// SessionCreationRateLimit is the default number of session creations
	// allowed per identifier per window
	SessionCreationRateLimit = 10

	// SessionCreationRateWindow is the default rate limit window
	SessionCreationRateWindow = time.Minute
)

// ================================================================================
// Audit Constants
// ================================================================================

// AuditEventType identifies what happened in an audit log entry.
type AuditEventType string

const (
	AuditEventSessionCreated    AuditEventType = "session_created"
	AuditEventSessionRevoked    AuditEventType = "session_revoked"
	AuditEventTokenRefreshed    AuditEventType = "token_refreshed"
	AuditEventTokenReuse        AuditEventType = "refresh_token_reuse"
	AuditEventLogout            AuditEventType = "logout"
	AuditEventMassRevoke        AuditEventType = "mass_revoke"
	AuditEventKeyRotated        AuditEventType = "key_rotated"
	AuditEventRateLimitExceeded AuditEventType = "rate_limit_exceeded"
	AuditEventRateLimitReset    AuditEventType = "rate_limit_reset"
)

// AuditCategory groups audit events for compliance reporting.
type AuditCategory string

const (
	AuditCategoryAuth    AuditCategory = "AUTH"
	AuditCategorySession AuditCategory = "SESSION"
	AuditCategoryCrypto  AuditCategory = "CRYPTO"
	AuditCategoryAdmin   AuditCategory = "ADMIN"
)

// AuditSeverity grades audit events.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "INFO"
	AuditSeverityWarn     AuditSeverity = "WARN"
	AuditSeverityError    AuditSeverity = "ERROR"
	AuditSeverityCritical AuditSeverity = "CRITICAL"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type for values stored in a request context.
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request correlation id
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyClientIP carries the originating client address
	ContextKeyClientIP ContextKey = "client_ip"
)
