package service

import (
	"context"
	"errors"
	"fmt"

	"donatebot/internal/metrics"
	"donatebot/internal/model"
	"donatebot/internal/ports"

	"go.uber.org/zap"
)

var ErrMissingChargeID = errors.New("payment has no transaction id")

// TransactionRecorder turns a completed payment into one ledger entry.
type TransactionRecorder struct {
	ledger         LedgerWriter
	gateway        ports.Gateway
	auditor        Auditor
	supportContact string
	logger         *zap.Logger
}

func NewTransactionRecorder(ledger LedgerWriter, gateway ports.Gateway, auditor Auditor, supportContact string, logger *zap.Logger) *TransactionRecorder {
	return &TransactionRecorder{
		ledger:         ledger,
		gateway:        gateway,
		auditor:        auditor,
		supportContact: supportContact,
		logger:         logger.Named("recorder"),
	}
}

// RecordPayment stores transaction id -> payer id and confirms to the payer.
// A redelivered event overwrites the entry with the same value. The
// confirmation only quotes the id as stored once the ledger write succeeded.
func (r *TransactionRecorder) RecordPayment(ctx context.Context, evt model.PaymentCompleted) error {
	log := r.logger.With(
		zap.String("transaction_id", evt.TransactionID),
		zap.Int64("payer_id", evt.PayerID),
		zap.Int("amount", evt.Amount),
	)
	log.Info("donation received", zap.String("username", evt.Username), zap.String("currency", evt.Currency))

	if evt.TransactionID == "" {
		metrics.LedgerSaveFailures.Inc()
		log.Error("payment without transaction id")
		r.reply(ctx, evt.ChatID, textPaymentNotRecorded("-", r.supportContact))
		return ErrMissingChargeID
	}

	err := r.ledger.Update(func(l model.Ledger) error {
		prev, existed := l.Put(evt.TransactionID, evt.PayerID)
		if existed && prev != evt.PayerID {
			log.Warn("transaction id re-recorded for a different payer", zap.Int64("previous_payer_id", prev))
		} else if existed {
			log.Info("duplicate payment confirmation")
		}
		return nil
	})
	if err != nil {
		metrics.LedgerSaveFailures.Inc()
		log.Error("ledger write failed", zap.Error(err))
		r.reply(ctx, evt.ChatID, textPaymentNotRecorded(evt.TransactionID, r.supportContact))
		return fmt.Errorf("record payment %s: %w", evt.TransactionID, err)
	}
	metrics.PaymentsRecorded.Inc()

	if r.auditor != nil {
		payload := map[string]interface{}{
			"transaction_id": evt.TransactionID,
			"payer_id":       evt.PayerID,
			"amount":         evt.Amount,
			"currency":       evt.Currency,
		}
		if err := r.auditor.Publish(ctx, model.AuditDonationRecorded, evt.TransactionID, payload); err != nil {
			log.Warn("audit publish failed", zap.Error(err))
		}
	}

	r.reply(ctx, evt.ChatID, textPaymentRecorded(evt.TransactionID))
	return nil
}

func (r *TransactionRecorder) reply(ctx context.Context, chatID int64, text string) {
	if err := r.gateway.SendMessage(ctx, chatID, text); err != nil {
		r.logger.Warn("reply not delivered", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
