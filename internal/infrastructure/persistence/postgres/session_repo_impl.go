package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// SessionRepositoryImpl persists the durable session mirror. Mutations and
// their audit entries commit in one transaction.
type SessionRepositoryImpl struct {
	db  *gorm.DB
	log logger.Logger
}

// NewSessionRepository builds the gorm-backed session repository.
func NewSessionRepository(db *gorm.DB, log logger.Logger) repository.SessionRepository {
	return &SessionRepositoryImpl{db: db, log: log.WithComponent("session_repo")}
}

// Create stores a session row and its audit entry atomically.
func (r *SessionRepositoryImpl) Create(ctx context.Context, session *models.UserSession, audit *models.AuditLog) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.ErrDatabase(err)
	}
	return nil
}

// GetBySessionID returns the session row, active or not.
func (r *SessionRepositoryImpl) GetBySessionID(ctx context.Context, sessionID string) (*models.UserSession, error) {
	var session models.UserSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrSessionNotFound(sessionID)
	}
	if err != nil {
		return nil, errors.ErrDatabase(err)
	}
	return &session, nil
}

// TouchLastAccessed updates the last access timestamp.
func (r *SessionRepositoryImpl) TouchLastAccessed(ctx context.Context, sessionID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.UserSession{}).
		Where("session_id = ?", sessionID).
		Update("last_accessed_at", at).Error
	if err != nil {
		return errors.ErrDatabase(err)
	}
	return nil
}

// Revoke marks a session inactive and writes the audit entry atomically.
// Revoking an already revoked session is a no-op, not an error.
func (r *SessionRepositoryImpl) Revoke(ctx context.Context, sessionID string, audit *models.AuditLog) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserSession{}).
			Where("session_id = ? AND is_active", sessionID).
			Updates(map[string]interface{}{"is_active": false, "revoked_at": now})
		if res.Error != nil {
			return res.Error
		}
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.ErrDatabase(err)
	}
	return nil
}

// RevokeAllForUser deactivates every active session of a user and returns
// the affected session ids.
func (r *SessionRepositoryImpl) RevokeAllForUser(ctx context.Context, userID string, audit *models.AuditLog) ([]string, error) {
	now := time.Now().UTC()
	var sessionIDs []string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserSession{}).
			Where("user_id = ? AND is_active", userID).
			Pluck("session_id", &sessionIDs).Error; err != nil {
			return err
		}
		if len(sessionIDs) > 0 {
			if err := tx.Model(&models.UserSession{}).
				Where("user_id = ? AND is_active", userID).
				Updates(map[string]interface{}{"is_active": false, "revoked_at": now}).Error; err != nil {
				return err
			}
		}
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrDatabase(err)
	}
	return sessionIDs, nil
}

// ListActiveForUser returns the user's active, unexpired sessions.
func (r *SessionRepositoryImpl) ListActiveForUser(ctx context.Context, userID string) ([]*models.UserSession, error) {
	var sessions []*models.UserSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active AND expires_at > ?", userID, time.Now().UTC()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, errors.ErrDatabase(err)
	}
	return sessions, nil
}

// DeleteExpired removes rows past their expiry, returning how many.
func (r *SessionRepositoryImpl) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.UserSession{})
	if res.Error != nil {
		return 0, errors.ErrDatabase(res.Error)
	}
	return res.RowsAffected, nil
}
