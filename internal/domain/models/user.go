package models

import "time"

// User is the durable account record. Contact details and the TOTP secret
// are sealed columns; the password hash is already one-way and stays clear.
type User struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   string `gorm:"uniqueIndex;size:64;not null"`
	Username string `gorm:"uniqueIndex;size:128;not null"`

	PasswordHash string `gorm:"size:255;not null"`

	Email      string `gorm:"type:text"`
	EmailKeyID string `gorm:"size:64"`

	TOTPSecret      string `gorm:"type:text"`
	TOTPSecretKeyID string `gorm:"size:64"`

	IsActive            bool `gorm:"not null;default:true"`
	FailedLoginAttempts int  `gorm:"not null;default:0"`
	LockedUntil         *time.Time
	LastLoginAt         *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName maps the model to its table.
func (User) TableName() string {
	return "users"
}

// IsLocked reports whether the account is under a temporary lockout.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
