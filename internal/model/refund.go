package model

import (
	"time"
)

// Refund attempt states, in order of progression.
const (
	RefundStateStart      = "START"
	RefundStateAuthorized = "AUTHORIZED"
	RefundStateResolved   = "RESOLVED"
	RefundStateRequested  = "REFUND_REQUESTED"
	RefundStateSuccess    = "SUCCESS"
	RefundStateFailed     = "FAILED"
)

// Failure kinds reported by the payment processor.
const (
	RefundFailureChargeNotFound  = "CHARGE_NOT_FOUND"
	RefundFailureAlreadyRefunded = "ALREADY_REFUNDED"
	RefundFailureOther           = "OTHER"
)

var ValidRefundTransitions = map[string][]string{
	RefundStateStart:      {RefundStateAuthorized},
	RefundStateAuthorized: {RefundStateResolved},
	RefundStateResolved:   {RefundStateRequested},
	RefundStateRequested:  {RefundStateSuccess, RefundStateFailed},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowed, exists := ValidRefundTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetState {
			return true
		}
	}
	return false
}

// RefundAttempt is the journal row of one refund command that got past
// authorization and ledger resolution.
type RefundAttempt struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundNo      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"refund_no"`
	TransactionID string    `gorm:"type:varchar(255);index;not null" json:"transaction_id"`
	PayerID       int64     `gorm:"index;not null" json:"payer_id"`
	RequestedBy   int64     `gorm:"not null" json:"requested_by"`
	State         string    `gorm:"type:varchar(20);index;not null" json:"state"`
	FailureKind   string    `gorm:"type:varchar(32)" json:"failure_kind,omitempty"`
	FailureDetail string    `gorm:"type:varchar(512)" json:"failure_detail,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RefundAttempt) TableName() string {
	return "refund_attempt"
}
