package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"donatebot/internal/model"
	"donatebot/internal/repository"
	"donatebot/pkg/idgen"
	"donatebot/pkg/strutil"

	"go.uber.org/zap"
)

// maxMessageKey is the width of outbox_message.message_key.
const maxMessageKey = 64

// OutboxAuditor stores audit events in the outbox table; job.OutboxSender
// delivers them to Kafka.
type OutboxAuditor struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func NewOutboxAuditor(outboxRepo *repository.OutboxRepository, topic string) *OutboxAuditor {
	return &OutboxAuditor{outboxRepo: outboxRepo, topic: topic}
}

func (a *OutboxAuditor) Publish(ctx context.Context, eventType, key string, payload map[string]interface{}) error {
	body := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = eventType
	body["event_id"] = idgen.GenerateAuditKey()
	body["occurred_at"] = time.Now().UTC().Format(time.RFC3339)

	payloadBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: strutil.Truncate(key, maxMessageKey),
		EventType:  eventType,
		Topic:      a.topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := a.outboxRepo.Create(ctx, msg); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// LogAuditor only logs audit events; used when no audit database is configured.
type LogAuditor struct {
	logger *zap.Logger
}

func NewLogAuditor(logger *zap.Logger) *LogAuditor {
	return &LogAuditor{logger: logger.Named("audit")}
}

func (a *LogAuditor) Publish(_ context.Context, eventType, key string, payload map[string]interface{}) error {
	a.logger.Info("audit event",
		zap.String("event", eventType),
		zap.String("key", key),
		zap.Any("payload", payload),
	)
	return nil
}
