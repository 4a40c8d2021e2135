package service

import (
	"context"

	"donatebot/internal/model"
)

// LedgerWriter serializes load-modify-save cycles on the ledger.
type LedgerWriter interface {
	Update(fn func(l model.Ledger) error) error
}

// LedgerReader resolves a transaction id to its payer.
type LedgerReader interface {
	Lookup(transactionID string) (int64, bool)
}

// Authorizer decides whether an actor may issue refunds.
type Authorizer interface {
	IsAuthorized(actorID int64) bool
}

// AuthorizerFunc adapts a predicate to Authorizer.
type AuthorizerFunc func(actorID int64) bool

func (f AuthorizerFunc) IsAuthorized(actorID int64) bool { return f(actorID) }

// SingleOperator authorizes exactly one actor.
type SingleOperator int64

func (o SingleOperator) IsAuthorized(actorID int64) bool {
	return o != 0 && actorID == int64(o)
}

// RefundJournal records refund attempts past ledger resolution.
type RefundJournal interface {
	Create(ctx context.Context, attempt *model.RefundAttempt) error
	UpdateState(ctx context.Context, refundNo, fromState, toState, failureKind, failureDetail string) error
}

// Auditor publishes audit events. Publishing is best-effort for callers.
type Auditor interface {
	Publish(ctx context.Context, eventType, key string, payload map[string]interface{}) error
}
