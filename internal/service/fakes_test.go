package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"donatebot/internal/model"
	"donatebot/internal/ports"
	"donatebot/internal/repository"

	"go.uber.org/zap/zaptest"
)

type sentMessage struct {
	ChatID int64
	Text   string
}

type refundCall struct {
	PayerID       int64
	TransactionID string
}

type fakeGateway struct {
	mu        sync.Mutex
	messages  []sentMessage
	invoices  []ports.Invoice
	refunds   []refundCall
	refundErr error
	// failSendTo makes SendMessage fail for that chat.
	failSendTo map[int64]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failSendTo: make(map[int64]bool)}
}

func (g *fakeGateway) SendMessage(_ context.Context, chatID int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSendTo[chatID] {
		return errors.New("chat not found")
	}
	g.messages = append(g.messages, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (g *fakeGateway) SendInvoice(_ context.Context, invoice ports.Invoice) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices = append(g.invoices, invoice)
	return nil
}

func (g *fakeGateway) IssueRefund(_ context.Context, payerID int64, transactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, refundCall{PayerID: payerID, TransactionID: transactionID})
	return g.refundErr
}

func (g *fakeGateway) messagesTo(chatID int64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, m := range g.messages {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (g *fakeGateway) refundCalls() []refundCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]refundCall(nil), g.refunds...)
}

// countingLedger wraps a LedgerStore and counts lookups.
type countingLedger struct {
	*repository.LedgerStore
	mu      sync.Mutex
	lookups int
}

func (c *countingLedger) Lookup(transactionID string) (int64, bool) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.LedgerStore.Lookup(transactionID)
}

func (c *countingLedger) lookupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups
}

func newTestLedger(t *testing.T) *countingLedger {
	t.Helper()
	store := repository.NewLedgerStore(filepath.Join(t.TempDir(), "transactions.json"), zaptest.NewLogger(t))
	return &countingLedger{LedgerStore: store}
}

type failingLedger struct{ err error }

func (f failingLedger) Update(func(model.Ledger) error) error { return f.err }

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) Publish(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
	return nil
}

func (a *recordingAuditor) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

type memoryJournal struct {
	mu       sync.Mutex
	attempts map[string]*model.RefundAttempt
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{attempts: make(map[string]*model.RefundAttempt)}
}

func (j *memoryJournal) Create(_ context.Context, a *model.RefundAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *a
	j.attempts[a.RefundNo] = &cp
	return nil
}

func (j *memoryJournal) UpdateState(_ context.Context, refundNo, from, to, kind, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.attempts[refundNo]
	if !ok || a.State != from || !model.CanTransitionTo(from, to) {
		return repository.ErrRefundStateInvalid
	}
	a.State = to
	if kind != "" {
		a.FailureKind = kind
	}
	return nil
}

func (j *memoryJournal) get(refundNo string) *model.RefundAttempt {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts[refundNo]
}
