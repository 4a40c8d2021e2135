package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"donatebot/internal/config"
	"donatebot/internal/metrics"
	"donatebot/internal/model"
	"donatebot/internal/ports"

	"go.uber.org/zap"
)

const (
	payloadSuffix = "_stars"

	// CallbackDonatePrefix prefixes the callback data of amount buttons.
	CallbackDonatePrefix = "donate_"
	// CallbackBack returns from an invoice to the amount menu.
	CallbackBack = "back"
)

var (
	ErrAmountNotAllowed = errors.New("donation amount is not offered")
	ErrInvoiceMismatch  = errors.New("invoice payload does not match the payment")
)

// MenuButton is one amount button of the donation menu.
type MenuButton struct {
	Text         string
	CallbackData string
}

type DonationService struct {
	gateway ports.Gateway
	cfg     config.DonationConfig
	allowed map[int]struct{}
	logger  *zap.Logger
}

func NewDonationService(gateway ports.Gateway, cfg config.DonationConfig, logger *zap.Logger) *DonationService {
	allowed := make(map[int]struct{}, len(cfg.Amounts))
	for _, a := range cfg.Amounts {
		allowed[a] = struct{}{}
	}
	return &DonationService{
		gateway: gateway,
		cfg:     cfg,
		allowed: allowed,
		logger:  logger.Named("donation"),
	}
}

func (s *DonationService) IsAllowed(amount int) bool {
	_, ok := s.allowed[amount]
	return ok
}

// Menu lays the amount buttons out in rows per the configured layout. Buttons
// left over by a short layout go on a final row.
func (s *DonationService) Menu() [][]MenuButton {
	buttons := make([]MenuButton, 0, len(s.cfg.Amounts))
	for _, a := range s.cfg.Amounts {
		buttons = append(buttons, MenuButton{
			Text:         textAmountButton(a),
			CallbackData: CallbackDonatePrefix + strconv.Itoa(a),
		})
	}

	var rows [][]MenuButton
	for _, n := range s.cfg.Layout {
		if len(buttons) == 0 {
			break
		}
		if n <= 0 {
			continue
		}
		if n > len(buttons) {
			n = len(buttons)
		}
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	if len(buttons) > 0 {
		rows = append(rows, buttons)
	}
	return rows
}

func (s *DonationService) MenuText() string {
	return textMenu
}

// SendInvoice issues the invoice for a selected amount.
func (s *DonationService) SendInvoice(ctx context.Context, evt model.DonationAmountSelected) error {
	if !s.IsAllowed(evt.Amount) {
		return fmt.Errorf("%w: %d", ErrAmountNotAllowed, evt.Amount)
	}

	s.logger.Info("sending invoice", zap.Int64("chat_id", evt.ChatID), zap.Int("amount", evt.Amount))
	invoice := ports.Invoice{
		ChatID:        evt.ChatID,
		Title:         s.cfg.Title,
		Description:   s.cfg.Description,
		Payload:       InvoicePayload(evt.Amount),
		Currency:      s.cfg.Currency,
		Prices:        []ports.LabeledPrice{{Label: s.cfg.Currency, Amount: evt.Amount}},
		PayButtonText: textPayButton(evt.Amount),
		BackText:      "Back",
		BackCallback:  CallbackBack,
	}
	if err := s.gateway.SendInvoice(ctx, invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	metrics.InvoicesSent.Inc()
	return nil
}

// CheckPreCheckout validates a pre-checkout query against the invoices this
// bot issues.
func (s *DonationService) CheckPreCheckout(payload, currency string, totalAmount int) error {
	amount, ok := ParseInvoicePayload(payload)
	if !ok || amount != totalAmount || currency != s.cfg.Currency {
		return ErrInvoiceMismatch
	}
	if !s.IsAllowed(amount) {
		return fmt.Errorf("%w: %d", ErrAmountNotAllowed, amount)
	}
	return nil
}

func (s *DonationService) PreCheckoutErrorText() string {
	return textPreCheckoutFailed
}

func (s *DonationService) AmountUnavailableText() string {
	return textAmountUnavailable
}

// InvoicePayload tags an invoice with its amount, e.g. "100_stars".
func InvoicePayload(amount int) string {
	return strconv.Itoa(amount) + payloadSuffix
}

func ParseInvoicePayload(payload string) (int, bool) {
	raw, found := strings.CutSuffix(payload, payloadSuffix)
	if !found {
		return 0, false
	}
	amount, err := strconv.Atoi(raw)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

// ParseDonateCallback extracts the amount from "donate_<n>".
func ParseDonateCallback(data string) (int, bool) {
	raw, found := strings.CutPrefix(data, CallbackDonatePrefix)
	if !found {
		return 0, false
	}
	amount, err := strconv.Atoi(raw)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

func HelpText() string {
	return textHelp
}

func UnknownCommandText() string {
	return textUnknownCommand
}
