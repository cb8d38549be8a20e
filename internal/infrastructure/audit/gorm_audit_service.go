package audit

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// Service records audit events. Events tied to a durable mutation are
// written inside that mutation's transaction by the repositories; everything
// else (rate limit hits, reuse detections, key rotations) comes through
// Record. Every event is additionally fanned out to Kafka when configured.
type Service struct {
	db       *gorm.DB
	producer *KafkaProducer
	log      logger.Logger
}

// NewService builds the audit service. producer may be nil when Kafka is
// disabled.
func NewService(db *gorm.DB, producer *KafkaProducer, log logger.Logger) *Service {
	return &Service{
		db:       db,
		producer: producer,
		log:      log.WithComponent("audit"),
	}
}

// Record persists a standalone audit entry and fans it out.
func (s *Service) Record(ctx context.Context, entry *models.AuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.ErrDatabase(err)
	}
	s.FanOut(ctx, entry)
	return nil
}

// FanOut publishes an already persisted entry to Kafka. Failures are logged
// and swallowed: the durable row is the record of truth.
func (s *Service) FanOut(ctx context.Context, entry *models.AuditLog) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, entry); err != nil {
		s.log.Warn(ctx, "audit fan-out failed",
			logger.String("event_type", string(entry.EventType)),
			logger.String("user_id", entry.UserID),
		)
	}
}

// Entry builds an audit log with a JSON detail document. Marshal failures
// degrade to an empty detail rather than losing the event.
func (s *Service) Entry(eventType constants.AuditEventType, category constants.AuditCategory, severity constants.AuditSeverity, detail map[string]interface{}) *models.AuditLog {
	entry := models.NewAuditLog(eventType, category, severity)
	if len(detail) > 0 {
		if raw, err := json.Marshal(detail); err == nil {
			entry.Detail = string(raw)
		}
	}
	return entry
}

// ListRecentForUser returns a user's latest audit entries for review
// endpoints.
func (s *Service) ListRecentForUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []*models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.ErrDatabase(err)
	}
	return entries, nil
}
