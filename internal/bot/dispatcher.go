package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"donatebot/internal/gateway/telegram"
	"donatebot/internal/metrics"
	"donatebot/internal/model"
	"donatebot/internal/ports"
	"donatebot/internal/service"

	"go.uber.org/zap"
)

// Update kinds used as the metrics "kind" label.
const (
	KindPreCheckout = "pre_checkout"
	KindCallback    = "callback"
	KindPayment     = "payment"
	KindMessage     = "message"
	KindOther       = "other"
)

// Gateway is the messaging surface the dispatcher drives.
type Gateway interface {
	ports.Gateway
	SendMenu(ctx context.Context, chatID int64, text string, markup telegram.InlineKeyboardMarkup) error
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

type Dispatcher struct {
	gateway   Gateway
	donations *service.DonationService
	recorder  *service.TransactionRecorder
	refunds   *service.RefundService
	logger    *zap.Logger
}

func NewDispatcher(gateway Gateway, donations *service.DonationService, recorder *service.TransactionRecorder, refunds *service.RefundService, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:   gateway,
		donations: donations,
		recorder:  recorder,
		refunds:   refunds,
		logger:    logger.Named("dispatcher"),
	}
}

// Kind classifies an update.
func Kind(u telegram.Update) string {
	switch {
	case u.PreCheckoutQuery != nil:
		return KindPreCheckout
	case u.CallbackQuery != nil:
		return KindCallback
	case u.Message != nil && u.Message.SuccessfulPayment != nil:
		return KindPayment
	case u.Message != nil:
		return KindMessage
	default:
		return KindOther
	}
}

// Dispatch handles one update. Handling is detached from ctx cancellation and
// a panic in a handler is logged and returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, u telegram.Update) (err error) {
	ctx = context.WithoutCancel(ctx)
	kind := Kind(u)
	metrics.Updates.WithLabelValues(kind).Inc()
	log := d.logger.With(zap.Int64("update_id", u.UpdateID), zap.String("kind", kind))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling update", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("update %d: panic: %v", u.UpdateID, r)
		}
	}()

	switch kind {
	case KindPreCheckout:
		err = d.handlePreCheckout(ctx, u.PreCheckoutQuery)
	case KindCallback:
		err = d.handleCallback(ctx, u.CallbackQuery)
	case KindPayment:
		err = d.handlePayment(ctx, u.Message)
	case KindMessage:
		err = d.handleMessage(ctx, u.Message)
	default:
		log.Debug("ignoring update")
	}
	if err != nil {
		log.Warn("update handling failed", zap.Error(err))
	}
	return err
}

func (d *Dispatcher) handlePreCheckout(ctx context.Context, q *telegram.PreCheckoutQuery) error {
	if err := d.donations.CheckPreCheckout(q.InvoicePayload, q.Currency, q.TotalAmount); err != nil {
		d.logger.Info("pre-checkout rejected",
			zap.Int64("user_id", q.From.ID),
			zap.String("payload", q.InvoicePayload),
			zap.Int("total_amount", q.TotalAmount),
			zap.Error(err))
		return d.gateway.AnswerPreCheckoutQuery(ctx, q.ID, false, d.donations.PreCheckoutErrorText())
	}
	return d.gateway.AnswerPreCheckoutQuery(ctx, q.ID, true, "")
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	if cb.Data == service.CallbackBack {
		return d.handleBack(ctx, cb)
	}

	amount, ok := service.ParseDonateCallback(cb.Data)
	if !ok || !d.donations.IsAllowed(amount) || cb.Message == nil {
		d.logger.Info("rejected callback", zap.Int64("user_id", cb.From.ID), zap.String("data", cb.Data))
		return d.gateway.AnswerCallbackQuery(ctx, cb.ID, d.donations.AmountUnavailableText())
	}

	chatID := cb.Message.Chat.ID
	d.deleteMessage(ctx, chatID, cb.Message.MessageID)

	sendErr := d.donations.SendInvoice(ctx, model.DonationAmountSelected{
		ChatID:    chatID,
		MessageID: cb.Message.MessageID,
		Amount:    amount,
	})
	answerErr := d.gateway.AnswerCallbackQuery(ctx, cb.ID, "")
	return errors.Join(sendErr, answerErr)
}

func (d *Dispatcher) handleBack(ctx context.Context, cb *telegram.CallbackQuery) error {
	if cb.Message == nil {
		return d.gateway.AnswerCallbackQuery(ctx, cb.ID, "")
	}
	chatID := cb.Message.Chat.ID
	d.deleteMessage(ctx, chatID, cb.Message.MessageID)
	menuErr := d.sendMenu(ctx, chatID)
	answerErr := d.gateway.AnswerCallbackQuery(ctx, cb.ID, "")
	return errors.Join(menuErr, answerErr)
}

func (d *Dispatcher) handlePayment(ctx context.Context, m *telegram.Message) error {
	sp := m.SuccessfulPayment
	evt := model.PaymentCompleted{
		TransactionID: sp.TelegramPaymentChargeID,
		ChatID:        m.Chat.ID,
		Amount:        sp.TotalAmount,
		Currency:      sp.Currency,
		Payload:       sp.InvoicePayload,
	}
	if m.From != nil {
		evt.PayerID = m.From.ID
		evt.Username = m.From.Username
	}
	if evt.ChatID == 0 {
		evt.ChatID = evt.PayerID
	}
	return d.recorder.RecordPayment(ctx, evt)
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *telegram.Message) error {
	chatID := m.Chat.ID
	name, args, ok := m.Command()
	if !ok {
		return d.unknown(ctx, m)
	}

	switch name {
	case "start", "donate":
		return d.sendMenu(ctx, chatID)
	case "help":
		return d.gateway.SendMessage(ctx, chatID, service.HelpText())
	case "refund":
		var requester int64
		if m.From != nil {
			requester = m.From.ID
		}
		_, err := d.refunds.Refund(ctx, model.RefundRequested{
			RequesterID:   requester,
			ChatID:        chatID,
			TransactionID: args,
		})
		if isRefundRejection(err) {
			// the requester already got the explanation
			return nil
		}
		return err
	default:
		return d.unknown(ctx, m)
	}
}

func isRefundRejection(err error) bool {
	return errors.Is(err, service.ErrUnauthorized) ||
		errors.Is(err, service.ErrMissingTransactionID) ||
		errors.Is(err, service.ErrTransactionNotFound)
}

// unknown answers free text and unknown commands. The message itself is left
// in the chat.
func (d *Dispatcher) unknown(ctx context.Context, m *telegram.Message) error {
	if m.Text == "" {
		return nil
	}
	return d.gateway.SendMessage(ctx, m.Chat.ID, service.UnknownCommandText())
}

func (d *Dispatcher) sendMenu(ctx context.Context, chatID int64) error {
	return d.gateway.SendMenu(ctx, chatID, d.donations.MenuText(), MenuMarkup(d.donations.Menu()))
}

func (d *Dispatcher) deleteMessage(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := d.gateway.DeleteMessage(ctx, chatID, messageID); err != nil {
		d.logger.Debug("delete message", zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID), zap.Error(err))
	}
}

// MenuMarkup renders the donation menu as an inline keyboard.
func MenuMarkup(rows [][]service.MenuButton) telegram.InlineKeyboardMarkup {
	markup := telegram.InlineKeyboardMarkup{InlineKeyboard: make([][]telegram.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telegram.InlineKeyboardButton{Text: b.Text, CallbackData: b.CallbackData})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}
