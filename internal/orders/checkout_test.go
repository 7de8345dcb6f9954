package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/storage"
)

type fakeProvider struct {
	err  error
	last payments.InvoiceRequest
}

func (p *fakeProvider) Name() string { return "cryptomus" }

func (p *fakeProvider) ParseWebhook(context.Context, payments.WebhookRequest) (payments.WebhookEvent, error) {
	return payments.WebhookEvent{}, errors.New("not used")
}

func (p *fakeProvider) CreateInvoice(_ context.Context, req payments.InvoiceRequest) (payments.Invoice, error) {
	p.last = req
	if p.err != nil {
		return payments.Invoice{}, p.err
	}
	return payments.Invoice{
		ProviderInvoiceID: "inv-" + req.OrderID,
		PaymentURL:        "https://pay.example.com/" + req.OrderID,
		ExpiresAt:         time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}, nil
}

func validCheckout() CheckoutRequest {
	return CheckoutRequest{
		OrderID:       "X",
		UserID:        "u1",
		CustomerName:  "Ann",
		CustomerEmail: "ann@example.com",
		Game:          "Valorant",
		Service:       "Rank Boost",
		Amount:        money.MustParse("5.00", "USD"),
		CallbackURL:   "https://api.example.com/api/pay/cryptomus/webhook",
	}
}

func TestCheckoutRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CheckoutRequest)
		valid  bool
	}{
		{name: "valid", mutate: func(*CheckoutRequest) {}, valid: true},
		{name: "generated order id", mutate: func(r *CheckoutRequest) { r.OrderID = "" }, valid: true},
		{name: "missing user", mutate: func(r *CheckoutRequest) { r.UserID = " " }},
		{name: "missing game", mutate: func(r *CheckoutRequest) { r.Game = "" }},
		{name: "missing service", mutate: func(r *CheckoutRequest) { r.Service = "" }},
		{name: "zero amount", mutate: func(r *CheckoutRequest) { r.Amount = money.MustParse("0", "USD") }},
		{name: "bad email", mutate: func(r *CheckoutRequest) { r.CustomerEmail = "not-an-email" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCheckout()
			tt.mutate(&req)
			err := req.Validate()
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidCheckout) {
				t.Fatalf("expected ErrInvalidCheckout, got %v", err)
			}
		})
	}
}

func TestCreateCheckout(t *testing.T) {
	h := newHarness(t, true)
	provider := &fakeProvider{}
	ctx := context.Background()

	res, err := h.svc.CreateCheckout(ctx, provider, validCheckout())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.PaymentURL != "https://pay.example.com/X" || res.Session.ProviderInvoiceID != "inv-X" {
		t.Errorf("unexpected result %+v", res)
	}
	if provider.last.Metadata.UserID != "u1" || provider.last.Metadata.Game != "Valorant" {
		t.Errorf("metadata not forwarded: %+v", provider.last.Metadata)
	}

	session, err := h.store.GetSessionByOrderID(ctx, "X")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if session.Status != storage.SessionPending || session.PaymentURL != res.PaymentURL || session.Provider != "cryptomus" {
		t.Errorf("unexpected session %+v", session)
	}
	if got := testutil.ToFloat64(h.metrics.CheckoutsTotal.WithLabelValues("cryptomus", "created")); got != 1 {
		t.Errorf("checkout metric = %v", got)
	}

	if _, err := h.svc.CreateCheckout(ctx, provider, validCheckout()); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second checkout: %v", err)
	}
}

func TestCreateCheckout_ProviderFailureMarksSessionFailed(t *testing.T) {
	h := newHarness(t, true)
	provider := &fakeProvider{err: errors.New("gateway down")}
	ctx := context.Background()

	_, err := h.svc.CreateCheckout(ctx, provider, validCheckout())
	if !errors.Is(err, ErrProviderFailed) {
		t.Fatalf("expected ErrProviderFailed, got %v", err)
	}
	session, _ := h.store.GetSessionByOrderID(ctx, "X")
	if session.Status != storage.SessionFailed {
		t.Errorf("session = %s, want failed", session.Status)
	}

	// A payment that arrives anyway is still honoured.
	out := h.svc.Process(ctx, paidEvent("X", "inv-X:paid", "5.00"))
	if out.State != StateNotified {
		t.Fatalf("late payment: %+v", out)
	}
}

func TestCreateCheckout_GeneratesOrderID(t *testing.T) {
	h := newHarness(t, true)
	req := validCheckout()
	req.OrderID = ""

	res, err := h.svc.CreateCheckout(context.Background(), &fakeProvider{}, req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.Session.OrderID == "" {
		t.Fatal("order id not generated")
	}
}
