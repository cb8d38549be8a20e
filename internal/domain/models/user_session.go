package models

import "time"

// UserSession is the durable mirror of a cache session. Unlike the cache
// copy its expiry is fixed at creation; the sliding window lives only in the
// cache layer. The session payload is sealed before it reaches this row.
type UserSession struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex;size:64;not null"`
	UserID    string `gorm:"index;size:64;not null"`

	// SessionData and SessionDataKeyID hold the sealed session payload.
	SessionData      string `gorm:"type:text"`
	SessionDataKeyID string `gorm:"size:64"`

	// IPAddress and UserAgent are personal data and stored sealed as well.
	IPAddress      string `gorm:"type:text"`
	IPAddressKeyID string `gorm:"size:64"`
	UserAgent      string `gorm:"type:text"`
	UserAgentKeyID string `gorm:"size:64"`

	IsActive bool `gorm:"not null;default:true"`

	CreatedAt      time.Time `gorm:"not null"`
	LastAccessedAt time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null"`
	RevokedAt      *time.Time
}

// TableName maps the model to its table.
func (UserSession) TableName() string {
	return "user_sessions"
}

// IsExpired reports whether the session is past its fixed expiry.
func (s *UserSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
