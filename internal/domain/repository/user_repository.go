package repository

import (
	"context"
	"time"

	"github.com/turtacn/credcore/internal/domain/models"
)

// UserRepository persists account records. Sealed columns are opened and
// resealed inside the implementation; callers only see clear values.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *models.User) error

	// GetByUsername returns the user by login name.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// GetByUserID returns the user by stable id.
	GetByUserID(ctx context.Context, userID string) (*models.User, error)

	// RecordLoginFailure increments the failure counter, locking the account
	// until lockUntil when the threshold is crossed.
	RecordLoginFailure(ctx context.Context, userID string, lockUntil *time.Time) error

	// RecordLogin stamps a successful login: clears the failure counter and
	// any lockout, and sets last_login_at.
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}
