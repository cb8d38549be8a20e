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

// TokenRepositoryImpl persists refresh tokens and enforces one-time-use at
// the database, where it holds under concurrency and across instances.
type TokenRepositoryImpl struct {
	db  *gorm.DB
	log logger.Logger
}

// NewTokenRepository builds the gorm-backed token repository.
func NewTokenRepository(db *gorm.DB, log logger.Logger) repository.TokenRepository {
	return &TokenRepositoryImpl{db: db, log: log.WithComponent("token_repo")}
}

// Create stores a refresh token row and its audit entry atomically.
func (r *TokenRepositoryImpl) Create(ctx context.Context, token *models.RefreshToken, audit *models.AuditLog) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(token).Error; err != nil {
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

// GetByTokenID returns the token row regardless of state.
func (r *TokenRepositoryImpl) GetByTokenID(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&token).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrRefreshTokenNotFound(tokenID)
	}
	if err != nil {
		return nil, errors.ErrDatabase(err)
	}
	return &token, nil
}

// Consume marks the token used. The conditional update only matches a row
// that is still active and unrevoked, so of any number of concurrent
// exchanges exactly one observes RowsAffected == 1; the rest learn the token
// was already consumed.
func (r *TokenRepositoryImpl) Consume(ctx context.Context, tokenID string, at time.Time) (*models.RefreshToken, error) {
	res := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_id = ? AND is_active AND NOT is_revoked", tokenID).
		Updates(map[string]interface{}{"is_active": false, "used_at": at})
	if res.Error != nil {
		return nil, errors.ErrDatabase(res.Error)
	}

	if res.RowsAffected == 0 {
		// Lost the race, or the id is unknown. Distinguish for the caller:
		// reuse of a consumed token is a compromise signal.
		token, err := r.GetByTokenID(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		return token, errors.ErrRefreshTokenConsumed(tokenID)
	}

	return r.GetByTokenID(ctx, tokenID)
}

// RevokeBySessionID revokes every token of a session, returning how many.
func (r *TokenRepositoryImpl) RevokeBySessionID(ctx context.Context, sessionID string, audit *models.AuditLog) (int64, error) {
	now := time.Now().UTC()
	var affected int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("session_id = ? AND NOT is_revoked", sessionID).
			Updates(map[string]interface{}{"is_active": false, "is_revoked": true, "revoked_at": now})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.ErrDatabase(err)
	}
	return affected, nil
}

// RevokeAllForUser revokes every active token of a user, returning how many.
func (r *TokenRepositoryImpl) RevokeAllForUser(ctx context.Context, userID string, audit *models.AuditLog) (int64, error) {
	now := time.Now().UTC()
	var affected int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND NOT is_revoked", userID).
			Updates(map[string]interface{}{"is_active": false, "is_revoked": true, "revoked_at": now})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.ErrDatabase(err)
	}
	return affected, nil
}

// DeleteExpired removes rows past their expiry, returning how many.
func (r *TokenRepositoryImpl) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, errors.ErrDatabase(res.Error)
	}
	return res.RowsAffected, nil
}
