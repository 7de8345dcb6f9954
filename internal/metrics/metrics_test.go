package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveWebhook(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveWebhook("cryptomus", "acknowledged", 20*time.Millisecond)
	m.ObserveWebhook("cryptomus", "acknowledged", 30*time.Millisecond)
	m.ObserveWebhook("cryptomus", "duplicate", 5*time.Millisecond)

	if got := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("cryptomus", "acknowledged")); got != 2 {
		t.Errorf("expected 2 acknowledged webhooks, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("cryptomus", "duplicate")); got != 1 {
		t.Errorf("expected 1 duplicate webhook, got %.0f", got)
	}
	if n := promtest.CollectAndCount(m.WebhookDuration); n != 1 {
		t.Errorf("expected one duration series, got %d", n)
	}
}

func TestObserveOrderPaid(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOrderPaid("cryptomus", "USD", 500, false)
	m.ObserveOrderPaid("cryptomus", "USD", 1500, true)

	if got := promtest.ToFloat64(m.OrdersPaidTotal.WithLabelValues("cryptomus")); got != 2 {
		t.Errorf("orders paid = %.0f", got)
	}
	if got := promtest.ToFloat64(m.OrdersSynthesizedTotal.WithLabelValues("cryptomus")); got != 1 {
		t.Errorf("orders synthesized = %.0f", got)
	}
	if got := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("cryptomus", "USD")); got != 2000 {
		t.Errorf("amount = %.0f", got)
	}
}

func TestObserveProviderCall_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{errors.New("circuit breaker is open"), "circuit_open"},
		{fmt.Errorf("dial: connection refused"), "connection"},
		{errors.New("unexpected status 500"), "bad_status"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m := New(prometheus.NewRegistry())
			m.ObserveProviderCall("cryptomus", "create_invoice", time.Millisecond, tt.err)
			if got := promtest.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("cryptomus", "create_invoice", tt.want)); got != 1 {
				t.Errorf("expected error_type %q to be counted", tt.want)
			}
		})
	}
}

func TestRealtimeGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RealtimeConnected("admin", 1)
	m.RealtimeConnected("admin", 1)
	m.RealtimeConnected("admin", -1)
	m.ObserveBroadcast("new-order", 2)

	if got := promtest.ToFloat64(m.RealtimeConnections.WithLabelValues("admin")); got != 1 {
		t.Errorf("connections = %.0f", got)
	}
	if got := promtest.ToFloat64(m.RealtimeDroppedTotal); got != 2 {
		t.Errorf("dropped = %.0f", got)
	}
}

func TestMeasureDBQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := MeasureDBQuery(m, "claim_event", "postgres")
	done()

	if n := promtest.CollectAndCount(m.DBQueryDuration); n != 1 {
		t.Errorf("expected 1 series, got %d", n)
	}

	// nil collector is a no-op
	MeasureDBQuery(nil, "claim_event", "postgres")()
}

func TestObserveSessionExpiry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveSessionExpiry(3)
	m.ObserveSessionExpiry(0)

	if got := promtest.ToFloat64(m.ExpiryRunsTotal); got != 2 {
		t.Errorf("runs = %.0f", got)
	}
	if got := promtest.ToFloat64(m.SessionsExpiredTotal); got != 3 {
		t.Errorf("expired = %.0f", got)
	}
}
