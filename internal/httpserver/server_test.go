package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/apikey"
	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/cryptomus"
	"github.com/RankForge/server/internal/eventlog"
	"github.com/RankForge/server/internal/idempotency"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/notify"
	"github.com/RankForge/server/internal/orders"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/internal/signature"
	"github.com/RankForge/server/internal/storage"
)

const (
	paymentKey  = "pay-key"
	adminKey    = "admin-key"
	internalKey = "internal-key"
)

type stubProvider struct {
	err error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) ParseWebhook(context.Context, payments.WebhookRequest) (payments.WebhookEvent, error) {
	return payments.WebhookEvent{}, payments.ErrInvalidSignature
}

func (p *stubProvider) CreateInvoice(_ context.Context, req payments.InvoiceRequest) (payments.Invoice, error) {
	if p.err != nil {
		return payments.Invoice{}, p.err
	}
	return payments.Invoice{
		ProviderInvoiceID: "inv-" + req.OrderID,
		PaymentURL:        "https://pay.example.com/" + req.OrderID,
	}, nil
}

type testEnv struct {
	handler  http.Handler
	store    *storage.MemoryStore
	trail    *bytes.Buffer
	notices  *bytes.Buffer
	logs     *bytes.Buffer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	hub      *realtime.Hub
	stub     *stubProvider
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    storage.NewMemoryStore(),
		trail:    &bytes.Buffer{},
		notices:  &bytes.Buffer{},
		logs:     &bytes.Buffer{},
		registry: prometheus.NewRegistry(),
		stub:     &stubProvider{},
	}
	env.metrics = metrics.New(env.registry)

	cfg := &config.Config{
		Server:    config.ServerConfig{PublicURL: "https://api.example.com"},
		Cryptomus: config.CryptomusConfig{Enabled: true, APIKey: paymentKey},
		Webhook: config.WebhookConfig{
			SynthesizeMissingOrders: true,
			ProcessingTimeout:       config.Duration{Duration: time.Second},
			MaxBodyBytes:            1 << 20,
		},
		APIKeys: config.APIKeysConfig{Admin: []string{adminKey}, Internal: []string{internalKey}},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := cryptomus.NewClient(cfg.Cryptomus, nil, env.metrics)
	if err != nil {
		t.Fatalf("cryptomus client: %v", err)
	}
	env.hub = realtime.NewHub(realtime.Config{}, zerolog.Nop(), env.metrics)
	t.Cleanup(func() { _ = env.hub.Close() })

	dispatcher := notify.NewDispatcher(notify.Config{}, eventlog.New(env.notices), env.store,
		[]notify.Channel{&notify.BroadcastChannel{Broadcaster: env.hub}}, zerolog.Nop(), env.metrics)
	svc := orders.NewService(orders.Config{
		SynthesizeMissingOrders: cfg.Webhook.SynthesizeMissingOrders,
		ProcessingTimeout:       cfg.Webhook.ProcessingTimeout.Duration,
	}, env.store, dispatcher, eventlog.New(env.trail), zerolog.Nop(), env.metrics)

	idem := idempotency.NewMemoryStore(100, time.Minute)
	t.Cleanup(func() { _ = idem.Close() })

	env.handler = New(Deps{
		Config:      cfg,
		Orders:      svc,
		Providers:   payments.NewRegistry(client, env.stub),
		Store:       env.store,
		Hub:         env.hub,
		Keys:        apikey.NewKeyring(apikey.Config{AdminKeys: cfg.APIKeys.Admin, InternalKeys: cfg.APIKeys.Internal}),
		Idempotency: idem,
		Metrics:     env.metrics,
		Gatherer:    env.registry,
		Logger:      zerolog.New(env.logs),
	}).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, key string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(apikey.HeaderName, key)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedSession(t *testing.T, orderID string) {
	t.Helper()
	err := e.store.CreateSession(context.Background(), storage.PaymentSession{
		ID:            "sess-" + orderID,
		OrderID:       orderID,
		UserID:        "u1",
		Amount:        money.MustParse("5.00", "USD"),
		Game:          "Valorant",
		Service:       "Rank Boost",
		CustomerName:  "Ann",
		CustomerEmail: "ann@example.com",
		Provider:      "cryptomus",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func (e *testEnv) adminNotices(t *testing.T) []eventlog.Entry {
	t.Helper()
	entries, _, err := eventlog.Read(bytes.NewReader(e.notices.Bytes()), nil)
	if err != nil {
		t.Fatalf("read notices: %v", err)
	}
	return entries
}

func signedWebhook(t *testing.T, body string) []byte {
	t.Helper()
	out, err := signature.Attach([]byte(body), paymentKey)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return out
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &env)
	return env.Error.Code
}

const paidBody = `{"type":"payment","uuid":"inv-1","order_id":"X","amount":"5.00","currency":"USD","status":"paid","txid":"0xabc"}`

func TestWebhook_PaidSessionBecomesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "X")

	rec := env.do(t, http.MethodPost, "/api/pay/cryptomus/webhook", "", signedWebhook(t, paidBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp webhookResponse
	decode(t, rec, &resp)
	if resp.Status != "ok" || resp.OrderID != "X" {
		t.Fatalf("unexpected response %+v", resp)
	}

	order, err := env.store.GetOrder(context.Background(), "X")
	if err != nil {
		t.Fatalf("order X: %v", err)
	}
	if order.PaymentID != "0xabc" && order.PaymentID != "inv-1" {
		t.Errorf("payment id = %q", order.PaymentID)
	}
	notices := env.adminNotices(t)
	if len(notices) != 1 {
		t.Fatalf("expected one admin notification, got %d", len(notices))
	}
	data, _ := notices[0]["data"].(map[string]any)
	if data["orderId"] != "X" {
		t.Errorf("notification data = %v", notices[0]["data"])
	}
	if got := testutil.ToFloat64(env.metrics.WebhooksTotal.WithLabelValues("cryptomus", "ok")); got != 1 {
		t.Errorf("webhooks ok = %v", got)
	}
}

func TestWebhook_ReplayIsAcknowledgedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "X")
	body := signedWebhook(t, paidBody)

	first := env.do(t, http.MethodPost, "/api/pay/cryptomus/webhook", "", body)
	second := env.do(t, http.MethodPost, "/api/pay/cryptomus/webhook", "", body)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses %d / %d", first.Code, second.Code)
	}
	var resp webhookResponse
	decode(t, second, &resp)
	if resp.Status != string(orders.StateDuplicate) {
		t.Errorf("replay status = %q", resp.Status)
	}
	_, orderCount, _, _ := env.store.Counts()
	if orderCount != 1 {
		t.Errorf("orders = %d", orderCount)
	}
	notices := env.adminNotices(t)
	if len(notices) != 1 || notices[0].String("type") != string(storage.NotificationNewOrder) {
		t.Errorf("admin notifications = %v", notices)
	}
	// The owner's confirmation lives in their inbox only.
	inbox, err := env.store.ListNotifications(context.Background(), storage.NotificationFilter{UserID: "u1"})
	if err != nil || len(inbox) != 1 {
		t.Errorf("user inbox = %v, %v", inbox, err)
	}
}

func TestWebhook_SourceAllowlist(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	allowOnly := func(trust bool) func(*config.Config) {
		return func(cfg *config.Config) {
			cfg.Cryptomus.AllowedIPs = []string{"203.0.113.7"}
			cfg.Server.TrustProxyHeaders = trust
		}
	}

	tests := []struct {
		name     string
		trust    bool
		wantCode int
	}{
		{name: "forwarded header ignored by default", trust: false, wantCode: http.StatusForbidden},
		{name: "forwarded header honoured behind a trusted proxy", trust: true, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, allowOnly(tt.trust))
			env.seedSession(t, "X")

			req := httptest.NewRequest(http.MethodPost, "/api/pay/cryptomus/webhook", bytes.NewReader(signedWebhook(t, paidBody)))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			_, orderCount, _, _ := env.store.Counts()
			if tt.wantCode == http.StatusForbidden && orderCount != 0 {
				t.Errorf("orders = %d after a rejected source", orderCount)
			}
		})
	}
}

func TestWebhook_Rejections(t *testing.T) {
	tampered := bytes.Replace(signedWebhook(t, paidBody), []byte(`"5.00"`), []byte(`"0.01"`), 1)

	tests := []struct {
		name     string
		provider string
		body     []byte
		wantCode int
		wantErr  string
	}{
		{"tampered body", "cryptomus", tampered, http.StatusBadRequest, "invalid_signature"},
		{"missing sign", "cryptomus", []byte(paidBody), http.StatusBadRequest, "invalid_signature"},
		{"not an object", "cryptomus", []byte(`[1,2,3]`), http.StatusBadRequest, "invalid_payload"},
		{"unknown provider", "paypal", signedWebhook(t, paidBody), http.StatusNotFound, "unknown_provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/pay/"+tt.provider+"/webhook", "", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantErr {
				t.Errorf("error code = %q, want %q", code, tt.wantErr)
			}
			sessions, orderCount, notifications, events := env.store.Counts()
			if sessions+orderCount+notifications+events != 0 {
				t.Errorf("rejected webhook wrote state: %d %d %d %d", sessions, orderCount, notifications, events)
			}
			if env.notices.Len() != 0 {
				t.Errorf("rejected webhook logged a notification")
			}
			entries, _, _ := eventlog.Read(bytes.NewReader(env.trail.Bytes()), eventlog.FieldEquals("state", string(orders.StateRejected)))
			if len(entries) != 1 {
				t.Errorf("expected one rejected trail entry, got %d", len(entries))
			}
		})
	}
}

func TestWebhook_SynthesizesFromAdditionalData(t *testing.T) {
	env := newTestEnv(t)
	body := signedWebhook(t, `{"uuid":"inv-9","order_id":"Y","amount":"12.50","currency":"USD","status":"paid",`+
		`"additional_data":"{\"user_id\":\"u7\",\"game\":\"Dota 2\",\"service\":\"Calibration\",\"customer_email\":\"bob@example.com\"}"}`)

	rec := env.do(t, http.MethodPost, "/api/pay/cryptomus/webhook", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	order, err := env.store.GetOrder(context.Background(), "Y")
	if err != nil {
		t.Fatalf("order Y: %v", err)
	}
	if !order.Synthesized || order.Game != "Dota 2" || order.UserID != "u7" {
		t.Errorf("unexpected synthesized order %+v", order)
	}
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"orderId":"C1","userId":"u1","customerEmail":"ann@example.com","game":"Valorant","service":"Rank Boost","amount":"9.99","currency":"USD"}`)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/pay/stub/checkout", bytes.NewReader(body))
		req.Header.Set(idempotency.HeaderKey, "key-1")
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", first.Code, first.Body.String())
	}
	var resp checkoutResponse
	decode(t, first, &resp)
	if resp.PaymentURL != "https://pay.example.com/C1" || resp.Session.Status != string(storage.SessionPending) {
		t.Errorf("unexpected checkout %+v", resp)
	}

	second := send()
	if second.Code != http.StatusCreated || second.Header().Get(idempotency.HeaderReplay) != "true" {
		t.Fatalf("replay = %d, header %q", second.Code, second.Header().Get(idempotency.HeaderReplay))
	}
	if sessions, _, _, _ := env.store.Counts(); sessions != 1 {
		t.Errorf("sessions = %d", sessions)
	}
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		body     string
		provErr  error
		wantCode int
		wantErr  string
	}{
		{"unknown provider", "paypal", `{}`, nil, http.StatusNotFound, "unknown_provider"},
		{"missing game", "stub", `{"userId":"u1","service":"s","amount":"1.00","currency":"USD"}`, nil, http.StatusBadRequest, "invalid_field"},
		{"bad amount", "stub", `{"userId":"u1","game":"g","service":"s","amount":"-1","currency":"USD"}`, nil, http.StatusBadRequest, "invalid_field"},
		{"zero amount", "stub", `{"userId":"u1","game":"g","service":"s","amount":"0","currency":"USD"}`, nil, http.StatusBadRequest, "invalid_field"},
		{"gateway down", "stub", `{"userId":"u1","game":"g","service":"s","amount":"1.00","currency":"USD"}`, errors.New("boom"), http.StatusBadGateway, "provider_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.stub.err = tt.provErr
			rec := env.do(t, http.MethodPost, "/api/pay/"+tt.provider+"/checkout", "", []byte(tt.body))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantErr {
				t.Errorf("code = %q, want %q", code, tt.wantErr)
			}
		})
	}
}

func TestAdminOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "X")
	env.do(t, http.MethodPost, "/api/pay/cryptomus/webhook", "", signedWebhook(t, paidBody))

	t.Run("requires admin key", func(t *testing.T) {
		if rec := env.do(t, http.MethodGet, "/api/admin/orders", "", nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("anonymous = %d", rec.Code)
		}
		if rec := env.do(t, http.MethodGet, "/api/admin/orders", internalKey, nil); rec.Code != http.StatusForbidden {
			t.Errorf("internal = %d", rec.Code)
		}
	})

	t.Run("list and get", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/admin/orders?status=pending", adminKey, nil)
		var list struct {
			Orders []orderResponse `json:"orders"`
		}
		decode(t, rec, &list)
		if len(list.Orders) != 1 || list.Orders[0].ID != "X" {
			t.Fatalf("unexpected list %+v", list)
		}

		rec = env.do(t, http.MethodGet, "/api/admin/orders/X", adminKey, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"session"`) {
			t.Errorf("get = %d: %s", rec.Code, rec.Body.String())
		}
		if rec := env.do(t, http.MethodGet, "/api/admin/orders/nope", adminKey, nil); rec.Code != http.StatusNotFound {
			t.Errorf("missing order = %d", rec.Code)
		}
	})

	t.Run("status transitions", func(t *testing.T) {
		if rec := env.do(t, http.MethodPost, "/api/admin/orders/X/status", adminKey, []byte(`{"status":"completed"}`)); rec.Code != http.StatusConflict {
			t.Errorf("pending->completed = %d", rec.Code)
		}
		if rec := env.do(t, http.MethodPost, "/api/admin/orders/X/status", adminKey, []byte(`{"status":"shipped"}`)); rec.Code != http.StatusBadRequest {
			t.Errorf("unknown status = %d", rec.Code)
		}
		rec := env.do(t, http.MethodPost, "/api/admin/orders/X/status", adminKey, []byte(`{"status":"in-progress"}`))
		var order orderResponse
		decode(t, rec, &order)
		if rec.Code != http.StatusOK || order.Status != "in-progress" {
			t.Errorf("in-progress = %d %+v", rec.Code, order)
		}
	})

	t.Run("manual confirmation", func(t *testing.T) {
		env.seedSession(t, "M")
		rec := env.do(t, http.MethodPost, "/api/admin/orders/M/confirm-payment", adminKey, []byte(`{"reference":"bank-42"}`))
		if rec.Code != http.StatusCreated {
			t.Fatalf("confirm = %d: %s", rec.Code, rec.Body.String())
		}
		rec = env.do(t, http.MethodPost, "/api/admin/orders/M/confirm-payment", adminKey, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("second confirm = %d", rec.Code)
		}
		if rec := env.do(t, http.MethodPost, "/api/admin/orders/ghost/confirm-payment", adminKey, nil); rec.Code != http.StatusNotFound {
			t.Errorf("unknown order = %d", rec.Code)
		}
	})
}

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, "X")
	env.do(t, http.MethodPost, "/api/pay/cryptomus/webhook", "", signedWebhook(t, paidBody))

	if rec := env.do(t, http.MethodGet, "/api/notifications", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/notifications?userId=u1&unread=true", internalKey, nil)
	var list struct {
		Notifications []notificationResponse `json:"notifications"`
	}
	decode(t, rec, &list)
	if len(list.Notifications) != 1 || list.Notifications[0].Type != string(storage.NotificationPaymentConfirmed) {
		t.Fatalf("unexpected user inbox %+v", list)
	}
	id := list.Notifications[0].ID

	if rec := env.do(t, http.MethodPost, "/api/notifications/"+id+"/read?userId=someone-else", internalKey, nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign read = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/notifications/"+id+"/read?userId=u1", internalKey, nil); rec.Code != http.StatusOK {
		t.Errorf("read = %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/notifications?userId=u1&unread=true", internalKey, nil)
	decode(t, rec, &list)
	if len(list.Notifications) != 0 {
		t.Errorf("expected empty unread inbox, got %d", len(list.Notifications))
	}
}

func TestSendNotification(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"admin event", `{"type":"admin","event":"new-order","data":{"orderId":"X"}}`, http.StatusOK},
		{"user event", `{"type":"user","event":"payment-confirmed","data":{},"userId":"u1"}`, http.StatusOK},
		{"user without id", `{"type":"user","event":"payment-confirmed","data":{}}`, http.StatusBadRequest},
		{"unknown type", `{"type":"everyone","event":"x","data":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/notifications/send", internalKey, []byte(tt.body))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp notify.SendResponse
			decode(t, rec, &resp)
			if resp.Delivered || resp.Receivers != 0 {
				t.Errorf("nobody is connected, got %+v", resp)
			}
			if !strings.Contains(env.logs.String(), "notifications.send.no_receivers") {
				t.Errorf("missing no_receivers log line in %q", env.logs.String())
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var health struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}
	decode(t, rec, &health)
	if health.Status != "ok" || len(health.Providers) != 2 {
		t.Errorf("unexpected health %+v", health)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	if rec := env.do(t, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous metrics = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+adminKey)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin metrics = %d", rec.Code)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_DegradedWhenDatabaseDown(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Backend: "postgres"}}
	h := &handlers{cfg: cfg, providers: payments.NewRegistry(), db: failingPinger{}}

	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"degraded"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
