// Package errors defines the structured error taxonomy for the credcore
// service. Every error crossing a component boundary is an *AppError carrying
// a Kind, an HTTP-equivalent status, and optional metadata such as retry-after
// hints. Cryptographic and storage failures are converted to this coarser
// taxonomy before leaving the core.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers that need to react programmatically.
type Kind string

const (
	// KindConfiguration marks fatal startup misconfiguration (missing master
	// password, unreachable store). The process refuses to start on these.
	KindConfiguration Kind = "configuration"

	// KindNotFound marks an absent session, token, or key on a read path.
	KindNotFound Kind = "not_found"

	// KindExpired marks a token or session past its lifetime. Distinct from
	// KindNotFound so callers can produce a more specific message.
	KindExpired Kind = "expired"

	// KindUnauthorized marks signature failures, claim mismatches, wrong
	// token types, and blacklisted tokens. Always fail closed.
	KindUnauthorized Kind = "unauthorized"

	// KindConflict marks rate limit exhaustion and refresh-token reuse.
	KindConflict Kind = "conflict"

	// KindIntegrity marks decryption failures caused by missing or corrupt
	// keys. Logged loudly, surfaced to callers as NotFound-equivalent.
	KindIntegrity Kind = "integrity"

	// KindUnavailable marks transient store failures that may be retried.
	KindUnavailable Kind = "unavailable"

	// KindInternal marks everything else.
	KindInternal Kind = "internal"
)

// AppError is the structured error type used throughout the service.
type AppError struct {
	kind     Kind
	message  string
	cause    error
	metadata map[string]interface{}
}

// New creates a new AppError with the given kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{kind: kind, message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap converts a generic error into an AppError, preserving the cause chain.
func Wrap(err error, kind Kind, message string) *AppError {
	return &AppError{kind: kind, message: message, cause: err}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Kind returns the error classification.
func (e *AppError) Kind() Kind {
	return e.kind
}

// Unwrap returns the underlying cause for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error.
func (e *AppError) WithCause(cause error) *AppError {
	e.cause = cause
	return e
}

// WithMetadata attaches a key-value pair giving the caller enough context to
// react, e.g. retry_after on rate limit errors.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all attached metadata.
func (e *AppError) Metadata() map[string]interface{} {
	return e.metadata
}

// HTTPStatus maps the error kind to its HTTP-equivalent status. The meaning
// of each status originates here; the HTTP edge only translates.
func (e *AppError) HTTPStatus() int {
	switch e.kind {
	case KindNotFound, KindIntegrity:
		return http.StatusNotFound
	case KindExpired, KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ================================================================================
// Predefined Constructors
// ================================================================================

// ErrMissingMasterPassword is returned when the key ring has no master
// password configured. Fatal at startup.
func ErrMissingMasterPassword() *AppError {
	return New(KindConfiguration, "master encryption password required")
}

// ErrStoreUnreachable marks a store that could not be reached at startup.
func ErrStoreUnreachable(store string, cause error) *AppError {
	return Wrap(cause, KindConfiguration, fmt.Sprintf("%s unreachable", store))
}

// ErrSessionNotFound marks an absent or already deleted session.
func ErrSessionNotFound(sessionID string) *AppError {
	return New(KindNotFound, "session not found").WithMetadata("session_id", sessionID)
}

// ErrSessionExpired marks a session past its lifetime.
func ErrSessionExpired(sessionID string) *AppError {
	return New(KindExpired, "session expired").WithMetadata("session_id", sessionID)
}

// ErrTokenExpired marks an access or refresh token past its lifetime.
func ErrTokenExpired(tokenType string) *AppError {
	return Newf(KindExpired, "%s token expired", tokenType).WithMetadata("token_type", tokenType)
}

// ErrTokenInvalid marks signature failures, malformed tokens, and wrong
// token types.
func ErrTokenInvalid(reason string) *AppError {
	return Newf(KindUnauthorized, "invalid token: %s", reason)
}

// ErrTokenBlacklisted marks a revoked access token.
func ErrTokenBlacklisted() *AppError {
	return New(KindUnauthorized, "token blacklisted")
}

// ErrClaimMismatch marks a token whose claims do not match the bound session.
func ErrClaimMismatch(claim string) *AppError {
	return Newf(KindUnauthorized, "claim mismatch: %s", claim).WithMetadata("claim", claim)
}

// ErrRefreshTokenNotFound marks an unknown refresh token id.
func ErrRefreshTokenNotFound(tokenID string) *AppError {
	return New(KindNotFound, "refresh token not found").WithMetadata("token_id", tokenID)
}

// ErrRefreshTokenConsumed marks reuse of an already exchanged refresh token.
// Treated as a compromise signal by the token issuer.
func ErrRefreshTokenConsumed(tokenID string) *AppError {
	return New(KindConflict, "refresh token already used").WithMetadata("token_id", tokenID)
}

// ErrRateLimitExceeded carries a retry-after hint so edges can tell callers
// when the window reopens.
func ErrRateLimitExceeded(category string, resetAt time.Time) *AppError {
	return Newf(KindConflict, "rate limit exceeded for %s", category).
		WithMetadata("category", category).
		WithMetadata("retry_after", resetAt.UTC().Format(time.RFC3339))
}

// ErrKeyNotFound marks an envelope key id absent from the key ring.
func ErrKeyNotFound(keyID string) *AppError {
	return New(KindIntegrity, "encryption key not found").WithMetadata("key_id", keyID)
}

// ErrDecryptionFailed marks ciphertext that could not be opened. The key id
// is attached for operators; key material never is.
func ErrDecryptionFailed(keyID string, cause error) *AppError {
	return Wrap(cause, KindIntegrity, "decryption failed").WithMetadata("key_id", keyID)
}

// ErrUserNotFound marks an unknown or inactive user at session creation.
func ErrUserNotFound(username string) *AppError {
	return New(KindNotFound, "user not found").WithMetadata("username", username)
}

// ErrAccountLocked marks a temporarily locked account.
func ErrAccountLocked(username string) *AppError {
	return New(KindUnauthorized, "account temporarily locked").WithMetadata("username", username)
}

// ErrCache wraps a cache store failure.
func ErrCache(cause error) *AppError {
	return Wrap(cause, KindUnavailable, "cache operation failed")
}

// ErrDatabase wraps a durable store failure.
func ErrDatabase(cause error) *AppError {
	return Wrap(cause, KindInternal, "database operation failed")
}

// ================================================================================
// Inspection Helpers
// ================================================================================

// AsAppError attempts to cast an error to *AppError.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.kind == kind
	}
	return false
}

// IsNotFound reports whether err represents an absent resource. Integrity
// failures count: key loss degrades to absence on read paths.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound) || IsKind(err, KindIntegrity)
}

// IsExpired reports whether err represents an expired token or session.
func IsExpired(err error) bool {
	return IsKind(err, KindExpired)
}

// IsUnauthorized reports whether err represents an authorization failure.
func IsUnauthorized(err error) bool {
	return IsKind(err, KindUnauthorized)
}

// IsConflict reports whether err represents rate limiting or token reuse.
func IsConflict(err error) bool {
	return IsKind(err, KindConflict)
}

// IsConfiguration reports whether err is fatal startup misconfiguration.
func IsConfiguration(err error) bool {
	return IsKind(err, KindConfiguration)
}

// IsRetryable reports whether the operation may be retried.
func IsRetryable(err error) bool {
	return IsKind(err, KindUnavailable)
}
