package models

import "time"

// RefreshToken is the durable record of an issued refresh token. The bearer
// value never touches the database in any recoverable form: lookup goes
// through TokenHash, and only issuance context is stored sealed.
//
// A refresh token is one-time-use. Consumption is a conditional update on
// (is_active AND NOT is_revoked) so exactly one concurrent exchange wins.
type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"`
	TokenID   string `gorm:"uniqueIndex;size:64;not null"`
	SessionID string `gorm:"index;size:64;not null"`
	UserID    string `gorm:"index;size:64;not null"`

	// TokenHash is the SHA-256 hex digest of the signed token, used for
	// constant-size lookups without storing the token in clear.
	TokenHash string `gorm:"index;size:64;not null"`

	// MetadataCiphertext and MetadataKeyID hold sealed issuance context
	// (client IP, user agent, issue time) — never the token itself. The key
	// id sibling lets reads pick the right ring key after rotations.
	MetadataCiphertext string `gorm:"type:text"`
	MetadataKeyID      string `gorm:"size:64"`

	IsActive  bool `gorm:"not null;default:true"`
	IsRevoked bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
	RevokedAt *time.Time
}

// TableName maps the model to its table.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsExpired reports whether the token is past its lifetime.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsable reports whether the token can still be exchanged: active, not
// revoked, not expired.
func (t *RefreshToken) IsUsable(now time.Time) bool {
	return t.IsActive && !t.IsRevoked && !t.IsExpired(now)
}
