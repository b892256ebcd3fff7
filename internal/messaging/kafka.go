// Package messaging streams audit events to the reporting collaborator.
package messaging

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/audit"
)

// AuditPublisher mirrors audit events to a Kafka topic. Publishing is
// best-effort from the log's point of view; failures are logged and the
// append still succeeds.
type AuditPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

var _ audit.Publisher = (*AuditPublisher)(nil)

func NewAuditPublisher(brokers []string, topic string, logger *zap.Logger) *AuditPublisher {
	return &AuditPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

func (p *AuditPublisher) Publish(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SubjectID),
		Value: value,
	})
}

func (p *AuditPublisher) Close() error {
	return p.writer.Close()
}
