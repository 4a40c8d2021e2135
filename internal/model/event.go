package model

// Inbound events delivered by the messaging gateway.

type DonationAmountSelected struct {
	ChatID int64
	// MessageID is the menu message the selection came from; zero if unknown.
	MessageID int64
	Amount    int
}

type PaymentCompleted struct {
	TransactionID string
	PayerID       int64
	ChatID        int64
	Amount        int
	Currency      string
	Payload       string
	Username      string
}

// RefundRequested carries the raw command argument. TransactionID is empty
// when the command had no argument.
type RefundRequested struct {
	RequesterID   int64
	ChatID        int64
	TransactionID string
}
