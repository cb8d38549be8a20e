package repository

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

// TokenRepository persists refresh tokens. The durable store is the
// authority on one-time-use: Consume must let exactly one of any number of
// concurrent exchanges succeed.
type TokenRepository interface {
	// Create stores a new refresh token row and its audit entry atomically.
	Create(ctx context.Context, token *models.RefreshToken, audit *models.AuditLog) error

	// GetByTokenID returns the token row regardless of state.
	GetByTokenID(ctx context.Context, tokenID string) (*models.RefreshToken, error)

	// Consume marks the token used if and only if it is still active and
	// unrevoked. Returns ErrRefreshTokenConsumed when another exchange won,
	// ErrRefreshTokenNotFound when the id is unknown.
	Consume(ctx context.Context, tokenID string, at time.Time) (*models.RefreshToken, error)

	// RevokeBySessionID revokes every token of a session, returning how many.
	RevokeBySessionID(ctx context.Context, sessionID string, audit *models.AuditLog) (int64, error)

	// RevokeAllForUser revokes every active token of a user, returning how
	// many. The audit entry commits in the same transaction.
	RevokeAllForUser(ctx context.Context, userID string, audit *models.AuditLog) (int64, error)

	// DeleteExpired removes rows past their expiry, returning how many.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
