package job

import (
	"context"
	"sync"
	"time"

	"donatebot/internal/config"
	"donatebot/internal/model"
	"donatebot/internal/repository"

	"go.uber.org/zap"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender drains PENDING audit events to Kafka. Messages that keep
// failing are parked as FAILED after MaxRetryCount attempts.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	maxRetries int
	interval   time.Duration
	batchSize  int
	stopCh     chan struct{}
	stopOnce   sync.Once
	logger     *zap.Logger
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, publisher Publisher, cfg config.BusinessConfig, logger *zap.Logger) *OutboxSender {
	interval := cfg.OutboxInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxRetries := cfg.MaxRetryCount
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &OutboxSender{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		maxRetries: maxRetries,
		interval:   interval,
		batchSize:  100,
		stopCh:     make(chan struct{}),
		logger:     logger.Named("outbox"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sender stopping: context done")
			return
		case <-s.stopCh:
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPending sends one batch of pending messages.
func (s *OutboxSender) ProcessPending(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load pending messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.send(ctx, msg)
	}
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) {
	log := s.logger.With(zap.Int64("id", msg.ID), zap.String("event", msg.EventType), zap.String("key", msg.MessageKey))

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			log.Error("mark message sent", zap.Error(err))
			return
		}
		log.Debug("message sent", zap.String("topic", msg.Topic))
		return
	}

	log.Warn("send message", zap.Error(err), zap.Int("retry_count", msg.RetryCount))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Error("increment retry count", zap.Error(err))
	}

	if msg.RetryCount+1 >= s.maxRetries {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Error("mark message failed", zap.Error(err))
			return
		}
		log.Error("message exceeded max retries, marked failed", zap.Int("max_retries", s.maxRetries))
	}
}
