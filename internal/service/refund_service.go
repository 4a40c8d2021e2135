package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"donatebot/internal/infrastructure/lock"
	"donatebot/internal/metrics"
	"donatebot/internal/model"
	"donatebot/internal/ports"
	"donatebot/pkg/idgen"

	"go.uber.org/zap"
)

var (
	ErrUnauthorized         = errors.New("refund requester is not authorized")
	ErrMissingTransactionID = errors.New("refund command needs exactly one transaction id")
	ErrTransactionNotFound  = errors.New("transaction not found in ledger")
	ErrRefundBusy           = errors.New("refund for this transaction is already in progress")
)

// RefundResult describes where a refund attempt stopped.
type RefundResult struct {
	RefundNo      string
	TransactionID string
	PayerID       int64
	State         string
	FailureKind   string
	PayerNotified bool
}

// RefundService gates refund commands, resolves the transaction against the
// ledger and reverses the payment. Refunds are never retried automatically;
// the operator re-issues the command.
type RefundService struct {
	authorizer     Authorizer
	ledger         LedgerReader
	gateway        ports.Gateway
	locker         lock.Locker
	journal        RefundJournal
	auditor        Auditor
	supportContact string
	logger         *zap.Logger
}

type RefundServiceOptions struct {
	Authorizer     Authorizer
	Ledger         LedgerReader
	Gateway        ports.Gateway
	Locker         lock.Locker
	Journal        RefundJournal
	Auditor        Auditor
	SupportContact string
	Logger         *zap.Logger
}

func NewRefundService(opts RefundServiceOptions) *RefundService {
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundService{
		authorizer:     opts.Authorizer,
		ledger:         opts.Ledger,
		gateway:        opts.Gateway,
		locker:         locker,
		journal:        opts.Journal,
		auditor:        opts.Auditor,
		supportContact: opts.SupportContact,
		logger:         logger.Named("refund"),
	}
}

// Refund handles one refund command end to end and sends exactly one reply
// to the requester. The returned error classifies why the refund did not
// happen; it is nil on success.
func (s *RefundService) Refund(ctx context.Context, req model.RefundRequested) (*RefundResult, error) {
	result := &RefundResult{State: model.RefundStateStart}
	log := s.logger.With(zap.Int64("requested_by", req.RequesterID))

	if s.authorizer == nil || !s.authorizer.IsAuthorized(req.RequesterID) {
		metrics.Refunds.WithLabelValues(metrics.OutcomeUnauthorized).Inc()
		log.Info("refund rejected: not authorized")
		s.reply(ctx, req.ChatID, textRefundUnauthorized(s.supportContact))
		return result, ErrUnauthorized
	}
	result.State = model.RefundStateAuthorized

	args := strings.Fields(req.TransactionID)
	if len(args) != 1 {
		metrics.Refunds.WithLabelValues(metrics.OutcomeInvalid).Inc()
		s.reply(ctx, req.ChatID, textRefundUsage)
		return result, ErrMissingTransactionID
	}
	transactionID := args[0]
	result.TransactionID = transactionID
	log = log.With(zap.String("transaction_id", transactionID))

	payerID, ok := s.ledger.Lookup(transactionID)
	if !ok {
		metrics.Refunds.WithLabelValues(metrics.OutcomeUnknownTx).Inc()
		log.Info("refund rejected: transaction not in ledger")
		s.reply(ctx, req.ChatID, textRefundTxNotFound)
		return result, ErrTransactionNotFound
	}
	result.PayerID = payerID
	result.State = model.RefundStateResolved
	result.RefundNo = idgen.GenerateRefundNo()
	log = log.With(zap.Int64("payer_id", payerID), zap.String("refund_no", result.RefundNo))

	release, err := s.locker.Obtain(ctx, refundLockKey(transactionID), result.RefundNo)
	if err != nil {
		metrics.Refunds.WithLabelValues(metrics.OutcomeBusy).Inc()
		log.Warn("refund lock not acquired", zap.Error(err))
		s.reply(ctx, req.ChatID, textRefundFailed)
		return result, fmt.Errorf("%w: %v", ErrRefundBusy, err)
	}
	defer release()

	journaled := s.journalCreate(ctx, log, req, result)

	s.advance(ctx, log, result, journaled, model.RefundStateRequested, "", "")
	err = s.gateway.IssueRefund(ctx, payerID, transactionID)
	if err != nil {
		return result, s.fail(ctx, log, req, result, journaled, err)
	}

	s.advance(ctx, log, result, journaled, model.RefundStateSuccess, "", "")
	metrics.Refunds.WithLabelValues(metrics.OutcomeSuccess).Inc()
	log.Info("refund completed")
	s.audit(ctx, log, model.AuditRefundSucceeded, result, req)

	// Both notifications are best-effort; the refund is already committed.
	if err := s.gateway.SendMessage(ctx, payerID, textRefundPayerNotice); err != nil {
		log.Warn("payer not notified of refund", zap.Error(err))
	} else {
		result.PayerNotified = true
	}
	if result.PayerNotified {
		s.reply(ctx, req.ChatID, textRefundOperatorDone)
	} else {
		s.reply(ctx, req.ChatID, textRefundOperatorNoNotice)
	}
	return result, nil
}

func (s *RefundService) fail(ctx context.Context, log *zap.Logger, req model.RefundRequested, result *RefundResult, journaled bool, cause error) error {
	var (
		kind    string
		outcome string
		text    string
	)
	switch {
	case errors.Is(cause, ports.ErrChargeNotFound):
		kind, outcome, text = model.RefundFailureChargeNotFound, metrics.OutcomeChargeNotFound, textRefundChargeNotFound
	case errors.Is(cause, ports.ErrChargeAlreadyRefunded):
		kind, outcome, text = model.RefundFailureAlreadyRefunded, metrics.OutcomeAlreadyRefunded, textRefundAlreadyRefunded
	default:
		kind, outcome, text = model.RefundFailureOther, metrics.OutcomeError, textRefundFailed
	}

	result.FailureKind = kind
	s.advance(ctx, log, result, journaled, model.RefundStateFailed, kind, cause.Error())
	metrics.Refunds.WithLabelValues(outcome).Inc()
	log.Warn("refund failed", zap.String("failure_kind", kind), zap.Error(cause))
	s.audit(ctx, log, model.AuditRefundFailed, result, req)

	s.reply(ctx, req.ChatID, text)
	return fmt.Errorf("refund %s: %w", result.TransactionID, cause)
}

func (s *RefundService) advance(ctx context.Context, log *zap.Logger, result *RefundResult, journaled bool, to, kind, detail string) {
	from := result.State
	if !model.CanTransitionTo(from, to) {
		// programming error; keep going so the reply still goes out
		log.Error("invalid refund transition", zap.String("from", from), zap.String("to", to))
	}
	result.State = to
	if !journaled {
		return
	}
	if err := s.journal.UpdateState(ctx, result.RefundNo, from, to, kind, detail); err != nil {
		log.Warn("refund journal update failed", zap.String("to", to), zap.Error(err))
	}
}

func (s *RefundService) journalCreate(ctx context.Context, log *zap.Logger, req model.RefundRequested, result *RefundResult) bool {
	if s.journal == nil {
		return false
	}
	attempt := &model.RefundAttempt{
		RefundNo:      result.RefundNo,
		TransactionID: result.TransactionID,
		PayerID:       result.PayerID,
		RequestedBy:   req.RequesterID,
		State:         result.State,
	}
	if err := s.journal.Create(ctx, attempt); err != nil {
		log.Warn("refund journal create failed", zap.Error(err))
		return false
	}
	return true
}

func (s *RefundService) audit(ctx context.Context, log *zap.Logger, eventType string, result *RefundResult, req model.RefundRequested) {
	if s.auditor == nil {
		return
	}
	payload := map[string]interface{}{
		"refund_no":      result.RefundNo,
		"transaction_id": result.TransactionID,
		"payer_id":       result.PayerID,
		"requested_by":   req.RequesterID,
		"state":          result.State,
	}
	if result.FailureKind != "" {
		payload["failure_kind"] = result.FailureKind
	}
	if err := s.auditor.Publish(ctx, eventType, result.TransactionID, payload); err != nil {
		log.Warn("audit publish failed", zap.Error(err))
	}
}

func (s *RefundService) reply(ctx context.Context, chatID int64, text string) {
	if err := s.gateway.SendMessage(ctx, chatID, text); err != nil {
		s.logger.Warn("reply not delivered", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func refundLockKey(transactionID string) string {
	return "refund:lock:tx:" + transactionID
}
