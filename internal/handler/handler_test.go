package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"donatebot/internal/config"
	"donatebot/internal/gateway/telegram"
	"donatebot/pkg/response"

	"go.uber.org/zap/zaptest"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	updates []telegram.Update
	err     error
	panics  bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, u telegram.Update) error {
	if d.panics {
		panic("dispatcher exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
	return d.err
}

func newRouter(t *testing.T, d *recordingDispatcher, secret string) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return SetupRouter(NewHandler(d, secret, config.ModeWebhook, logger), logger, true)
}

func postUpdate(r http.Handler, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SecretTokenHeader, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

const startUpdate = `{"update_id":3,"message":{"message_id":1,"from":{"id":5,"is_bot":false,"first_name":"A"},"chat":{"id":5,"type":"private"},"text":"/start"}}`

func TestWebhookDispatchesUpdate(t *testing.T) {
	d := &recordingDispatcher{}
	r := newRouter(t, d, "s3cret")

	w := postUpdate(r, startUpdate, "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp.Code != response.CodeSuccess || resp.RequestID == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	if len(d.updates) != 1 || d.updates[0].UpdateID != 3 || d.updates[0].Message.Text != "/start" {
		t.Fatalf("updates = %+v", d.updates)
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	d := &recordingDispatcher{}
	r := newRouter(t, d, "s3cret")

	for _, secret := range []string{"", "wrong"} {
		w := postUpdate(r, startUpdate, secret)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: status = %d", secret, w.Code)
		}
	}
	if len(d.updates) != 0 {
		t.Fatal("update dispatched without a valid secret")
	}
}

func TestWebhookRefusesEverythingWithoutSecret(t *testing.T) {
	d := &recordingDispatcher{}
	r := newRouter(t, d, "")

	refund := `{"update_id":9,"message":{"message_id":2,"from":{"id":99,"is_bot":false,"first_name":"Op"},"chat":{"id":99,"type":"private"},"text":"/refund tx1"}}`
	for _, secret := range []string{"", "anything"} {
		if w := postUpdate(r, refund, secret); w.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: status = %d, want 401", secret, w.Code)
		}
	}
	if len(d.updates) != 0 {
		t.Fatalf("unauthenticated update dispatched: %+v", d.updates)
	}
}

func TestWebhookBadJSON(t *testing.T) {
	d := &recordingDispatcher{}
	r := newRouter(t, d, "s3cret")
	w := postUpdate(r, "{not json", "s3cret")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp.Code != response.CodeParamError {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWebhookAcknowledgesHandlingErrors(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("gateway down")}
	r := newRouter(t, d, "s3cret")
	if w := postUpdate(r, startUpdate, "s3cret"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	d := &recordingDispatcher{panics: true}
	r := newRouter(t, d, "s3cret")
	w := postUpdate(r, startUpdate, "s3cret")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t, &recordingDispatcher{}, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if resp := decode(t, w); resp.RequestID != "req-1" {
		t.Fatalf("request id not propagated: %+v", resp)
	}

	// one observation so the histogram is exported
	postUpdate(r, startUpdate, "s3cret")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "donatebot_http_request_duration_seconds") {
		t.Fatal("latency histogram missing from /metrics")
	}
}

func TestPollingRouterHasNoWebhook(t *testing.T) {
	logger := zaptest.NewLogger(t)
	d := &recordingDispatcher{}
	r := SetupRouter(NewHandler(d, "", config.ModePolling, logger), logger, false)
	if w := postUpdate(r, startUpdate, ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if len(d.updates) != 0 {
		t.Fatal("update dispatched in polling mode")
	}
}
