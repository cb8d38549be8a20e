package models

import (
	"time"

	"github.com/turtacn/credcore/pkg/constants"
)

// AuditLog records a security-relevant lifecycle event. Audit rows are
// written in the same transaction as the mutation they describe, so a
// mutation without its audit entry cannot exist.
type AuditLog struct {
	ID        uint                     `gorm:"primaryKey"`
	EventType constants.AuditEventType `gorm:"index;size:64;not null"`
	Category  constants.AuditCategory  `gorm:"index;size:32;not null"`
	Severity  constants.AuditSeverity  `gorm:"size:16;not null"`

	UserID    string `gorm:"index;size:64"`
	SessionID string `gorm:"index;size:64"`
	ClientIP  string `gorm:"size:64"`

	// Detail holds event-specific context as a JSON document. Never contains
	// token values or key material.
	Detail string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName maps the model to its table.
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates an audit entry stamped with the current time.
func NewAuditLog(eventType constants.AuditEventType, category constants.AuditCategory, severity constants.AuditSeverity) *AuditLog {
	return &AuditLog{
		EventType: eventType,
		Category:  category,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}
}

// WithActor attaches the user and session the event concerns.
func (a *AuditLog) WithActor(userID, sessionID string) *AuditLog {
	a.UserID = userID
	a.SessionID = sessionID
	return a
}

// WithClientIP attaches the originating client address.
func (a *AuditLog) WithClientIP(ip string) *AuditLog {
	a.ClientIP = ip
	return a
}

// WithDetail attaches the serialized event context.
func (a *AuditLog) WithDetail(detail string) *AuditLog {
	a.Detail = detail
	return a
}
