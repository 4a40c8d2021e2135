package ports

import (
	"context"
	"errors"
)

// Refund failures the payment processor reports. Any other error returned by
// IssueRefund is an unclassified failure.
var (
	ErrChargeNotFound        = errors.New("charge not found")
	ErrChargeAlreadyRefunded = errors.New("charge already refunded")
)

type LabeledPrice struct {
	Label  string `json:"label"`
	Amount int    `json:"amount"`
}

type Invoice struct {
	ChatID      int64
	Title       string
	Description string
	Payload     string
	Currency    string
	Prices      []LabeledPrice
	// PayButtonText is shown on the pay button; BackCallback adds a second
	// button carrying that callback data when non-empty.
	PayButtonText string
	BackText      string
	BackCallback  string
}

// Gateway is the outbound side of the messaging gateway.
type Gateway interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendInvoice(ctx context.Context, invoice Invoice) error
	IssueRefund(ctx context.Context, payerID int64, transactionID string) error
}
