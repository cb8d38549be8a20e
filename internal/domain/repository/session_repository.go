// Package repository defines the persistence contracts the application layer
// depends on. Implementations live under internal/infrastructure/persistence.
package repository

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

// SessionRepository persists the durable mirror of cache sessions.
type SessionRepository interface {
	// Create stores a new session row and its audit entry atomically.
	Create(ctx context.Context, session *models.UserSession, audit *models.AuditLog) error

	// GetBySessionID returns the session row, active or not.
	GetBySessionID(ctx context.Context, sessionID string) (*models.UserSession, error)

	// TouchLastAccessed updates the last access timestamp.
	TouchLastAccessed(ctx context.Context, sessionID string, at time.Time) error

	// Revoke marks a session inactive and writes the audit entry atomically.
	Revoke(ctx context.Context, sessionID string, audit *models.AuditLog) error

	// RevokeAllForUser deactivates every active session of a user and returns
	// the affected session ids. The audit entry commits in the same
	// transaction.
	RevokeAllForUser(ctx context.Context, userID string, audit *models.AuditLog) ([]string, error)

	// ListActiveForUser returns the user's active, unexpired sessions.
	ListActiveForUser(ctx context.Context, userID string) ([]*models.UserSession, error)

	// DeleteExpired removes rows past their expiry, returning how many.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
