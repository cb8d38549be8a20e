// Package audit records security-relevant lifecycle events. Rows written
// alongside a mutation go through the repositories' transactions; this
// package handles standalone events and best-effort fan-out to Kafka.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// KafkaProducer streams audit events to a topic for downstream consumers
// (SIEM, alerting). Delivery is best effort: the durable store already holds
// the authoritative record, so a broker outage never blocks a request.
type KafkaProducer struct {
	writer *kafka.Writer
	log    logger.Logger
}

// NewKafkaProducer builds a producer from config.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
	}
	return &KafkaProducer{
		writer: writer,
		log:    log.WithComponent("audit_kafka"),
	}
}

// Publish sends an audit entry to the topic, keyed by user so one user's
// events stay ordered within a partition.
func (p *KafkaProducer) Publish(ctx context.Context, entry *models.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode audit event")
	}

	msg := kafka.Message{
		Key:   []byte(entry.UserID),
		Value: payload,
		Time:  entry.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to publish audit event")
	}
	return nil
}

// Close flushes buffered messages.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
