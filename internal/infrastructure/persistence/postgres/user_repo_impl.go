package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// UserRepositoryImpl persists account records. The email and TOTP secret
// columns hold envelopes; sealing on write and opening on read happen here,
// so callers only ever see clear values.
type UserRepositoryImpl struct {
	db     *gorm.DB
	cipher *crypto.FieldCipher
	log    logger.Logger
}

// NewUserRepository builds the gorm-backed user repository.
func NewUserRepository(db *gorm.DB, cipher *crypto.FieldCipher, log logger.Logger) repository.UserRepository {
	return &UserRepositoryImpl{db: db, cipher: cipher, log: log.WithComponent("user_repo")}
}

// Create stores a new user, sealing sensitive columns first.
func (r *UserRepositoryImpl) Create(ctx context.Context, user *models.User) error {
	row := *user
	if err := r.sealColumns(&row); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.ErrDatabase(err)
	}
	user.ID = row.ID
	return nil
}

// GetByUsername returns the user by login name with sealed columns opened.
func (r *UserRepositoryImpl) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username = ?", username, username)
}

// GetByUserID returns the user by stable id with sealed columns opened.
func (r *UserRepositoryImpl) GetByUserID(ctx context.Context, userID string) (*models.User, error) {
	return r.getOne(ctx, "user_id = ?", userID, userID)
}

func (r *UserRepositoryImpl) getOne(ctx context.Context, cond, arg, label string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where(cond, arg).First(&user).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrUserNotFound(label)
	}
	if err != nil {
		return nil, errors.ErrDatabase(err)
	}
	r.openColumns(ctx, &user)
	return &user, nil
}

// RecordLoginFailure increments the failure counter and applies a lockout
// when the caller decided the threshold is crossed.
func (r *UserRepositoryImpl) RecordLoginFailure(ctx context.Context, userID string, lockUntil *time.Time) error {
	updates := map[string]interface{}{
		"failed_login_attempts": gorm.Expr("failed_login_attempts + 1"),
	}
	if lockUntil != nil {
		updates["locked_until"] = *lockUntil
	}
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
	if err != nil {
		return errors.ErrDatabase(err)
	}
	return nil
}

// RecordLogin clears the failure counter and any lockout and stamps the
// last login time.
func (r *UserRepositoryImpl) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login_at":         at,
		}).Error
	if err != nil {
		return errors.ErrDatabase(err)
	}
	return nil
}

func (r *UserRepositoryImpl) sealColumns(user *models.User) error {
	if user.Email != "" {
		env, err := r.cipher.Seal(user.Email)
		if err != nil {
			return err
		}
		user.Email, user.EmailKeyID = env.Ciphertext, env.KeyID
	}
	if user.TOTPSecret != "" {
		env, err := r.cipher.Seal(user.TOTPSecret)
		if err != nil {
			return err
		}
		user.TOTPSecret, user.TOTPSecretKeyID = env.Ciphertext, env.KeyID
	}
	return nil
}

// openColumns opens the sealed columns in place. A column that no longer
// decrypts is blanked and logged with its key id: losing a contact field
// must not block the account's sessions.
func (r *UserRepositoryImpl) openColumns(ctx context.Context, user *models.User) {
	if user.Email != "" && user.EmailKeyID != "" {
		value, err := r.cipher.Open(models.Envelope{KeyID: user.EmailKeyID, Ciphertext: user.Email})
		if err != nil {
			r.log.Error(ctx, "failed to open sealed email, treating as absent", err,
				logger.String("user_id", user.UserID),
				logger.String("key_id", user.EmailKeyID),
			)
			value = ""
		}
		user.Email = value
	}
	if user.TOTPSecret != "" && user.TOTPSecretKeyID != "" {
		value, err := r.cipher.Open(models.Envelope{KeyID: user.TOTPSecretKeyID, Ciphertext: user.TOTPSecret})
		if err != nil {
			r.log.Error(ctx, "failed to open sealed totp secret, treating as absent", err,
				logger.String("user_id", user.UserID),
				logger.String("key_id", user.TOTPSecretKeyID),
			)
			value = ""
		}
		user.TOTPSecret = value
	}
}
