package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/RankForge/server/internal/eventlog"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/internal/storage"
)

type fakeBroadcaster struct {
	receivers int
	err       error
	calls     atomic.Int32
	group     string
	event     string
	payload   any
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, group, event string, payload any) (int, error) {
	f.calls.Add(1)
	f.group, f.event, f.payload = group, event, payload
	return f.receivers, f.err
}

type funcChannel struct {
	name string
	send func(ctx context.Context, msg Message) error
}

func (c funcChannel) Name() string                                { return c.name }
func (c funcChannel) Send(ctx context.Context, msg Message) error { return c.send(ctx, msg) }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func samplePayload() Payload {
	order := storage.Order{
		ID:            "X",
		CustomerName:  "Ann",
		Game:          "G",
		Service:       "S",
		Price:         money.MustParse("5.00", "USD"),
		Status:        storage.OrderPending,
		PaymentMethod: "cryptomus",
	}
	return PayloadFromOrder(order, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func readLog(t *testing.T, buf *bytes.Buffer) []eventlog.Entry {
	t.Helper()
	entries, skipped, err := eventlog.Read(bytes.NewReader(buf.Bytes()), nil)
	if err != nil || skipped != 0 {
		t.Fatalf("read log: %v (skipped %d)", err, skipped)
	}
	return entries
}

func TestNotify_RealtimeDelivery(t *testing.T) {
	var buf bytes.Buffer
	b := &fakeBroadcaster{receivers: 2}
	store := storage.NewMemoryStore()
	d := NewDispatcher(Config{}, eventlog.New(&buf), store, []Channel{&BroadcastChannel{Broadcaster: b}}, zerolog.Nop(), nil)

	res, err := d.Notify(context.Background(), storage.NotificationNewOrder, samplePayload(), "")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !res.Delivered || res.Channel != ChannelRealtime || res.Via != "realtime" {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.group != realtime.GroupAdmin || b.event != "new-order" {
		t.Errorf("broadcast to %q/%q", b.group, b.event)
	}
	data := b.payload.(map[string]any)
	for key, want := range map[string]any{
		"orderId": "X", "customerName": "Ann", "game": "G", "service": "S", "price": "5.00",
		"currency": "USD", "status": "pending", "paymentMethod": "cryptomus", "timestamp": "2026-01-02T03:04:05Z",
	} {
		if data[key] != want {
			t.Errorf("payload[%q] = %v, want %v", key, data[key], want)
		}
	}
	if data["notificationId"] != res.NotificationID {
		t.Errorf("notificationId = %v", data["notificationId"])
	}

	entries := readLog(t, &buf)
	if len(entries) != 1 || entries[0].Event() != "notification.created" {
		t.Fatalf("expected one notification.created line, got %v", entries)
	}
	saved, err := store.ListNotifications(context.Background(), storage.NotificationFilter{})
	if err != nil || len(saved) != 1 || saved[0].ID != res.NotificationID {
		t.Fatalf("store rows = %v, %v", saved, err)
	}
}

func TestNotify_UnreachableRealtimeStillLogs(t *testing.T) {
	var buf bytes.Buffer
	b := &fakeBroadcaster{err: errors.New("socket server down")}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	fallbackURL := down.URL
	down.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	d := NewDispatcher(Config{ChannelTimeout: time.Second}, eventlog.New(&buf), nil, []Channel{
		&BroadcastChannel{Broadcaster: b},
		NewHTTPChannel(fallbackURL, "internal", time.Second, nil),
	}, zerolog.Nop(), m)

	res, err := d.Notify(context.Background(), storage.NotificationNewOrder, samplePayload(), "")
	if err != nil {
		t.Fatalf("notify must not fail when realtime is unreachable: %v", err)
	}
	if res.Delivered || res.Channel != ChannelLogOnly {
		t.Fatalf("unexpected result %+v", res)
	}
	entries := readLog(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected durable log line, got %d", len(entries))
	}
	data, _ := entries[0]["data"].(map[string]any)
	if data["orderId"] != "X" {
		t.Errorf("logged data = %v", entries[0]["data"])
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("new-order", ChannelLogOnly)); got != 1 {
		t.Errorf("log-only metric = %v", got)
	}
}

func TestNotify_FallsBackToHTTP(t *testing.T) {
	var received SendRequest
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(SendResponse{Delivered: true, Receivers: 1})
	}))
	defer server.Close()

	b := &fakeBroadcaster{receivers: 0}
	d := NewDispatcher(Config{UserLog: eventlog.Discard()}, eventlog.Discard(), nil, []Channel{
		&BroadcastChannel{Broadcaster: b},
		NewHTTPChannel(server.URL, "internal-key", time.Second, nil),
	}, zerolog.Nop(), nil)

	res, err := d.Notify(context.Background(), storage.NotificationOrderStatusChanged, samplePayload(), "u1")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !res.Delivered || res.Via != "http_fallback" {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.calls.Load() != 1 || b.group != realtime.UserGroup("u1") {
		t.Errorf("realtime attempt: calls=%d group=%q", b.calls.Load(), b.group)
	}
	if gotKey != "internal-key" {
		t.Errorf("api key = %q", gotKey)
	}
	if received.Type != "user" || received.UserID != "u1" || received.Event != "new-notification" || received.Data["orderId"] != "X" {
		t.Errorf("unexpected fallback body %+v", received)
	}
}

func TestNotify_ChannelTimeoutMovesOn(t *testing.T) {
	slow := funcChannel{name: "slow", send: func(ctx context.Context, _ Message) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	var fastCalled atomic.Bool
	fast := funcChannel{name: "fast", send: func(context.Context, Message) error {
		fastCalled.Store(true)
		return nil
	}}

	d := NewDispatcher(Config{ChannelTimeout: 20 * time.Millisecond}, eventlog.Discard(), nil, []Channel{slow, fast}, zerolog.Nop(), nil)

	start := time.Now()
	res, err := d.Notify(context.Background(), storage.NotificationNewOrder, samplePayload(), "")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !fastCalled.Load() || res.Via != "fast" {
		t.Fatalf("expected fallback to fast channel, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not applied, took %v", elapsed)
	}
}

func TestNotify_PanickingChannelIsContained(t *testing.T) {
	boom := funcChannel{name: "boom", send: func(context.Context, Message) error { panic("nil socket") }}
	d := NewDispatcher(Config{}, eventlog.Discard(), nil, []Channel{boom}, zerolog.Nop(), nil)

	res, err := d.Notify(context.Background(), storage.NotificationNewOrder, samplePayload(), "")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Channel != ChannelLogOnly {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNotify_DurableWrite(t *testing.T) {
	tests := []struct {
		name    string
		log     *eventlog.Log
		store   storage.NotificationStore
		wantErr bool
	}{
		{name: "log only", log: eventlog.Discard()},
		{name: "store only", store: storage.NewMemoryStore()},
		{name: "log fails but store succeeds", log: eventlog.New(failingWriter{}), store: storage.NewMemoryStore()},
		{name: "log fails and no store", log: eventlog.New(failingWriter{}), wantErr: true},
		{name: "nothing configured", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroadcaster{receivers: 1}
			d := NewDispatcher(Config{}, tt.log, tt.store, []Channel{&BroadcastChannel{Broadcaster: b}}, zerolog.Nop(), nil)

			_, err := d.Notify(context.Background(), storage.NotificationNewOrder, samplePayload(), "")
			if tt.wantErr {
				if !errors.Is(err, ErrDurableWriteFailed) {
					t.Fatalf("expected ErrDurableWriteFailed, got %v", err)
				}
				if b.calls.Load() != 0 {
					t.Fatal("channels must not run without a durable record")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNotify_WritesLogBeforeChannels(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.Open(filepath.Join(dir, "admin-notifications.ndjson"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	var linesAtSend int
	probe := funcChannel{name: "probe", send: func(context.Context, Message) error {
		entries, _, _ := eventlog.ReadFile(log.Path(), nil)
		linesAtSend = len(entries)
		return nil
	}}
	d := NewDispatcher(Config{}, log, nil, []Channel{probe}, zerolog.Nop(), nil)

	if _, err := d.Notify(context.Background(), storage.NotificationNewOrder, samplePayload(), ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if linesAtSend != 1 {
		t.Fatalf("log had %d lines when the channel ran, want 1", linesAtSend)
	}
}

func TestNotify_UserNotificationsStayOutOfAdminLog(t *testing.T) {
	var admin, users bytes.Buffer
	d := NewDispatcher(Config{UserLog: eventlog.New(&users)}, eventlog.New(&admin), nil, nil, zerolog.Nop(), nil)
	ctx := context.Background()

	if _, err := d.Notify(ctx, storage.NotificationNewOrder, samplePayload(), ""); err != nil {
		t.Fatalf("admin notify: %v", err)
	}
	if _, err := d.Notify(ctx, storage.NotificationPaymentConfirmed, samplePayload(), "u1"); err != nil {
		t.Fatalf("user notify: %v", err)
	}

	adminEntries := readLog(t, &admin)
	if len(adminEntries) != 1 || adminEntries[0].String("type") != string(storage.NotificationNewOrder) {
		t.Fatalf("admin log = %v", adminEntries)
	}
	userEntries := readLog(t, &users)
	if len(userEntries) != 1 || userEntries[0].String("user_id") != "u1" {
		t.Fatalf("user log = %v", userEntries)
	}

	// Without a user log or inbox there is nowhere durable for it.
	d = NewDispatcher(Config{}, eventlog.New(&admin), nil, nil, zerolog.Nop(), nil)
	if _, err := d.Notify(ctx, storage.NotificationPaymentConfirmed, samplePayload(), "u1"); !errors.Is(err, ErrDurableWriteFailed) {
		t.Fatalf("expected ErrDurableWriteFailed, got %v", err)
	}
	if n := len(readLog(t, &admin)); n != 1 {
		t.Errorf("admin log grew to %d lines", n)
	}
}
