package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"donatebot/internal/config"
	"donatebot/internal/gateway/telegram"
	"donatebot/internal/infrastructure/lock"
	"donatebot/internal/model"
	"donatebot/internal/ports"
	"donatebot/internal/repository"
	"donatebot/internal/service"

	"go.uber.org/zap/zaptest"
)

const operatorID = 1

type sentMessage struct {
	chatID int64
	text   string
}

type preCheckoutAnswer struct {
	id  string
	ok  bool
	msg string
}

type fakeGateway struct {
	mu        sync.Mutex
	messages  []sentMessage
	menus     []int64
	invoices  []ports.Invoice
	answers   []preCheckoutAnswer
	callbacks []string
	deleted   []int64
	refunds   []string
	refundErr error
	panicOn   string
}

func (g *fakeGateway) SendMessage(_ context.Context, chatID int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicOn != "" && strings.Contains(text, g.panicOn) {
		panic("boom")
	}
	g.messages = append(g.messages, sentMessage{chatID, text})
	return nil
}

func (g *fakeGateway) SendInvoice(_ context.Context, inv ports.Invoice) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices = append(g.invoices, inv)
	return nil
}

func (g *fakeGateway) IssueRefund(_ context.Context, _ int64, transactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, transactionID)
	return g.refundErr
}

func (g *fakeGateway) SendMenu(_ context.Context, chatID int64, _ string, markup telegram.InlineKeyboardMarkup) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(markup.InlineKeyboard) == 0 {
		return errors.New("empty menu")
	}
	g.menus = append(g.menus, chatID)
	return nil
}

func (g *fakeGateway) AnswerPreCheckoutQuery(_ context.Context, id string, ok bool, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answers = append(g.answers, preCheckoutAnswer{id, ok, msg})
	return nil
}

func (g *fakeGateway) AnswerCallbackQuery(_ context.Context, id, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, id)
	return nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, _, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGateway) textsTo(chatID int64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, m := range g.messages {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

func donationConfig() config.DonationConfig {
	return config.DonationConfig{
		Amounts:     []int{15, 25, 50, 75, 100, 150, 250, 500, 1000, 2500},
		Layout:      []int{3, 3, 2, 2},
		Title:       "Support",
		Description: "Donation",
		Currency:    "XTR",
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeGateway, *repository.LedgerStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	gw := &fakeGateway{}
	store := repository.NewLedgerStore(filepath.Join(t.TempDir(), "transactions.json"), logger)
	donations := service.NewDonationService(gw, donationConfig(), logger)
	recorder := service.NewTransactionRecorder(store, gw, nil, "@support", logger)
	refunds := service.NewRefundService(service.RefundServiceOptions{
		Authorizer:     service.SingleOperator(operatorID),
		Ledger:         store,
		Gateway:        gw,
		Locker:         lock.NewLocalLocker(),
		SupportContact: "@support",
		Logger:         logger,
	})
	return NewDispatcher(gw, donations, recorder, refunds, logger), gw, store
}

func textMessage(fromID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 10,
			From:      &telegram.User{ID: fromID},
			Chat:      telegram.Chat{ID: fromID, Type: "private"},
			Text:      text,
		},
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		u    telegram.Update
		want string
	}{
		{telegram.Update{PreCheckoutQuery: &telegram.PreCheckoutQuery{}}, KindPreCheckout},
		{telegram.Update{CallbackQuery: &telegram.CallbackQuery{}}, KindCallback},
		{telegram.Update{Message: &telegram.Message{SuccessfulPayment: &telegram.SuccessfulPayment{}}}, KindPayment},
		{telegram.Update{Message: &telegram.Message{Text: "hi"}}, KindMessage},
		{telegram.Update{}, KindOther},
	}
	for _, tt := range tests {
		if got := Kind(tt.u); got != tt.want {
			t.Errorf("Kind = %s, want %s", got, tt.want)
		}
	}
}

func TestStartAndDonateSendMenu(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	for _, cmd := range []string{"/start", "/donate", "/donate@DonateBot"} {
		if err := d.Dispatch(context.Background(), textMessage(5, cmd)); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	if len(gw.menus) != 3 {
		t.Fatalf("menus sent = %d, want 3", len(gw.menus))
	}
}

func TestMenuMarkupLayout(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	markup := MenuMarkup(d.donations.Menu())
	var sizes []int
	for _, row := range markup.InlineKeyboard {
		sizes = append(sizes, len(row))
	}
	want := []int{3, 3, 2, 2}
	if len(sizes) != len(want) {
		t.Fatalf("rows = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("rows = %v, want %v", sizes, want)
		}
	}
	if markup.InlineKeyboard[0][0].CallbackData != "donate_15" {
		t.Fatalf("first button = %+v", markup.InlineKeyboard[0][0])
	}
}

func TestHelpAndUnknown(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	if err := d.Dispatch(context.Background(), textMessage(5, "/help")); err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), textMessage(5, "what?")); err != nil {
		t.Fatal(err)
	}
	if err := d.Dispatch(context.Background(), textMessage(5, "/nope")); err != nil {
		t.Fatal(err)
	}
	texts := gw.textsTo(5)
	if len(texts) != 3 {
		t.Fatalf("texts = %v", texts)
	}
	if texts[0] != service.HelpText() || texts[1] != service.UnknownCommandText() || texts[2] != service.UnknownCommandText() {
		t.Fatalf("texts = %v", texts)
	}
	if len(gw.deleted) != 0 {
		t.Fatalf("deleted = %v, want user messages left in place", gw.deleted)
	}
}

func TestDonateCallbackSendsInvoice(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	u := telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb1",
		From:    telegram.User{ID: 5},
		Message: &telegram.Message{MessageID: 77, Chat: telegram.Chat{ID: 5}},
		Data:    "donate_100",
	}}
	if err := d.Dispatch(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if len(gw.invoices) != 1 {
		t.Fatalf("invoices = %d", len(gw.invoices))
	}
	inv := gw.invoices[0]
	if inv.Payload != "100_stars" || inv.Currency != "XTR" || inv.Prices[0].Amount != 100 || inv.ChatID != 5 {
		t.Fatalf("invoice = %+v", inv)
	}
	if len(gw.deleted) != 1 || gw.deleted[0] != 77 {
		t.Fatalf("deleted = %v", gw.deleted)
	}
	if len(gw.callbacks) != 1 || gw.callbacks[0] != "cb1" {
		t.Fatalf("callbacks = %v", gw.callbacks)
	}
}

func TestForgedCallbackRejected(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	u := telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb1",
		Message: &telegram.Message{MessageID: 77, Chat: telegram.Chat{ID: 5}},
		Data:    "donate_7",
	}}
	if err := d.Dispatch(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if len(gw.invoices) != 0 || len(gw.deleted) != 0 {
		t.Fatalf("forged amount produced an invoice: %+v", gw.invoices)
	}
	if len(gw.callbacks) != 1 {
		t.Fatal("callback not answered")
	}
}

func TestBackCallbackResendsMenu(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	u := telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb2",
		Message: &telegram.Message{MessageID: 78, Chat: telegram.Chat{ID: 5}},
		Data:    service.CallbackBack,
	}}
	if err := d.Dispatch(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if len(gw.deleted) != 1 || gw.deleted[0] != 78 || len(gw.menus) != 1 {
		t.Fatalf("deleted=%v menus=%v", gw.deleted, gw.menus)
	}
}

func TestPreCheckout(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	valid := telegram.Update{PreCheckoutQuery: &telegram.PreCheckoutQuery{ID: "q1", Currency: "XTR", TotalAmount: 50, InvoicePayload: "50_stars"}}
	mismatch := telegram.Update{PreCheckoutQuery: &telegram.PreCheckoutQuery{ID: "q2", Currency: "XTR", TotalAmount: 1, InvoicePayload: "50_stars"}}
	for _, u := range []telegram.Update{valid, mismatch} {
		if err := d.Dispatch(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	if len(gw.answers) != 2 {
		t.Fatalf("answers = %+v", gw.answers)
	}
	if !gw.answers[0].ok || gw.answers[1].ok || gw.answers[1].msg == "" {
		t.Fatalf("answers = %+v", gw.answers)
	}
}

func paymentUpdate(payerID int64, chargeID string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		MessageID: 11,
		From:      &telegram.User{ID: payerID, Username: "donor"},
		Chat:      telegram.Chat{ID: payerID},
		SuccessfulPayment: &telegram.SuccessfulPayment{
			Currency:                "XTR",
			TotalAmount:             100,
			InvoicePayload:          "100_stars",
			TelegramPaymentChargeID: chargeID,
		},
	}}
}

func TestPaymentThenRefund(t *testing.T) {
	d, gw, store := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, paymentUpdate(42, "ch_abc")); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if payer, ok := store.Lookup("ch_abc"); !ok || payer != 42 {
		t.Fatalf("ledger lookup = %d, %v", payer, ok)
	}
	if texts := gw.textsTo(42); len(texts) != 1 || !strings.Contains(texts[0], "ch_abc") {
		t.Fatalf("payer texts = %v", texts)
	}

	if err := d.Dispatch(ctx, textMessage(operatorID, "/refund ch_abc")); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(gw.refunds) != 1 || gw.refunds[0] != "ch_abc" {
		t.Fatalf("refund calls = %v", gw.refunds)
	}
	if texts := gw.textsTo(42); len(texts) != 2 {
		t.Fatalf("payer not notified: %v", texts)
	}
	if texts := gw.textsTo(operatorID); len(texts) != 1 {
		t.Fatalf("operator replies = %v", texts)
	}
}

func TestRefundRejectionsAreNotErrors(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.Dispatch(ctx, textMessage(99, "/refund ch_abc")); err != nil {
		t.Fatalf("unauthorized: %v", err)
	}
	if err := d.Dispatch(ctx, textMessage(operatorID, "/refund")); err != nil {
		t.Fatalf("missing id: %v", err)
	}
	if err := d.Dispatch(ctx, textMessage(operatorID, "/refund unknown")); err != nil {
		t.Fatalf("unknown tx: %v", err)
	}
	if len(gw.refunds) != 0 {
		t.Fatalf("IssueRefund called: %v", gw.refunds)
	}
	if len(gw.textsTo(99)) != 1 || len(gw.textsTo(operatorID)) != 2 {
		t.Fatalf("messages = %+v", gw.messages)
	}
}

func TestRefundProcessorFailureIsReturned(t *testing.T) {
	d, gw, store := newTestDispatcher(t)
	ctx := context.Background()
	if err := store.Update(func(l model.Ledger) error {
		l.Put("ch_x", 42)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	gw.refundErr = ports.ErrChargeAlreadyRefunded

	err := d.Dispatch(ctx, textMessage(operatorID, "/refund ch_x"))
	if !errors.Is(err, ports.ErrChargeAlreadyRefunded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	d, gw, _ := newTestDispatcher(t)
	gw.panicOn = service.HelpText()
	err := d.Dispatch(context.Background(), textMessage(5, "/help"))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v, want panic error", err)
	}
}

func TestDispatchIgnoresCancellation(t *testing.T) {
	d, _, store := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Dispatch(ctx, paymentUpdate(42, "ch_c")); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Lookup("ch_c"); !ok {
		t.Fatal("payment not recorded after transport cancellation")
	}
}
