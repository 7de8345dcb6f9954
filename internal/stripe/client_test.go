package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"

	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/payments"
)

const testWebhookSecret = "whsec_test"

func signedHeader(payload []byte, secret string) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	h := http.Header{}
	h.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func eventJSON(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		id, stripeapi.APIVersion, eventType, object))
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{name: "first value non-empty", values: []string{"value1", "value2"}, want: "value1"},
		{name: "first value empty", values: []string{"", "value2"}, want: "value2"},
		{name: "whitespace skipped", values: []string{"   ", "value2"}, want: "value2"},
		{name: "all empty", values: []string{"", ""}, want: ""},
		{name: "empty slice", values: []string{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.values...); got != tt.want {
				t.Errorf("firstNonEmpty() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConvertMetadata(t *testing.T) {
	got := convertMetadata(payments.AdditionalData{UserID: "u1", Game: "G", Service: "S"}, "ord-1")

	want := map[string]string{"order_id": "ord-1", "user_id": "u1", "game": "G", "service": "S"}
	if len(got) != len(want) {
		t.Fatalf("convertMetadata() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("convertMetadata()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseWebhook(t *testing.T) {
	c := NewClient(config.StripeConfig{WebhookSecret: testWebhookSecret}, nil, nil)

	completed := `{"id":"cs_1","object":"checkout.session","client_reference_id":"ord-1","payment_status":"paid",
		"amount_total":500,"currency":"usd","customer_email":"a@b.c","payment_intent":"pi_1",
		"metadata":{"order_id":"ord-1","user_id":"u1","game":"G","service":"S"}}`

	tests := []struct {
		name        string
		eventType   string
		object      string
		wantStatus  payments.Status
		wantOrderID string
		wantTxID    string
	}{
		{
			name:        "completed and paid",
			eventType:   "checkout.session.completed",
			object:      completed,
			wantStatus:  payments.StatusPaid,
			wantOrderID: "ord-1",
			wantTxID:    "pi_1",
		},
		{
			name:        "completed but unpaid",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_2","object":"checkout.session","client_reference_id":"ord-2","payment_status":"unpaid"}`,
			wantStatus:  payments.StatusIgnored,
			wantOrderID: "ord-2",
			wantTxID:    "cs_2",
		},
		{
			name:        "expired",
			eventType:   "checkout.session.expired",
			object:      `{"id":"cs_3","object":"checkout.session","metadata":{"order_id":"ord-3"}}`,
			wantStatus:  payments.StatusFailed,
			wantOrderID: "ord-3",
			wantTxID:    "cs_3",
		},
		{
			name:       "unrelated event",
			eventType:  "customer.created",
			object:     `{"id":"cus_1","object":"customer"}`,
			wantStatus: payments.StatusIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := eventJSON("evt_"+tt.name, tt.eventType, tt.object)
			ev, err := c.ParseWebhook(context.Background(), payments.WebhookRequest{Body: body, Header: signedHeader(body, testWebhookSecret)})
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if ev.EventID != "evt_"+tt.name {
				t.Errorf("event id = %q", ev.EventID)
			}
			if ev.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", ev.Status, tt.wantStatus)
			}
			if ev.OrderID != tt.wantOrderID {
				t.Errorf("order id = %q, want %q", ev.OrderID, tt.wantOrderID)
			}
			if ev.TxID != tt.wantTxID {
				t.Errorf("tx id = %q, want %q", ev.TxID, tt.wantTxID)
			}
		})
	}
}

func TestParseWebhook_CarriesAmountAndMetadata(t *testing.T) {
	c := NewClient(config.StripeConfig{WebhookSecret: testWebhookSecret}, nil, nil)
	body := eventJSON("evt_meta", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","payment_status":"paid","amount_total":1250,"currency":"eur",
		"customer_email":"buyer@example.com","metadata":{"order_id":"ord-9","user_id":"u9","game":"G","service":"S"}}`)

	ev, err := c.ParseWebhook(context.Background(), payments.WebhookRequest{Body: body, Header: signedHeader(body, testWebhookSecret)})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ev.Amount.Equal(money.MustParse("12.50", "EUR")) {
		t.Errorf("amount = %s", ev.Amount)
	}
	meta, err := payments.ParseAdditionalData(ev.AdditionalData)
	if err != nil {
		t.Fatalf("additional data: %v", err)
	}
	if meta.UserID != "u9" || meta.CustomerEmail != "buyer@example.com" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestParseWebhook_Rejections(t *testing.T) {
	body := eventJSON("evt_1", "checkout.session.completed", `{"id":"cs_1","object":"checkout.session"}`)

	tests := []struct {
		name    string
		secret  string
		header  http.Header
		wantErr error
	}{
		{name: "secret not configured", secret: "", header: signedHeader(body, testWebhookSecret), wantErr: payments.ErrInvalidSignature},
		{name: "wrong secret", secret: testWebhookSecret, header: signedHeader(body, "whsec_other"), wantErr: payments.ErrInvalidSignature},
		{name: "missing header", secret: testWebhookSecret, header: http.Header{}, wantErr: payments.ErrInvalidSignature},
		{name: "no order id", secret: testWebhookSecret, header: signedHeader(body, testWebhookSecret), wantErr: payments.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(config.StripeConfig{WebhookSecret: tt.secret}, nil, nil)
			_, err := c.ParseWebhook(context.Background(), payments.WebhookRequest{Body: body, Header: tt.header})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateInvoice(t *testing.T) {
	c := NewClient(config.StripeConfig{SuccessURL: "https://rankforge.example/ok", CancelURL: "https://rankforge.example/cancel"}, nil, nil)

	var got *stripeapi.CheckoutSessionParams
	c.newSession = func(p *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
		got = p
		return &stripeapi.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/c/cs_new", ExpiresAt: 1700000000}, nil
	}

	inv, err := c.CreateInvoice(context.Background(), payments.InvoiceRequest{
		OrderID:  "ord-1",
		Amount:   money.MustParse("5.00", "USD"),
		Metadata: payments.AdditionalData{UserID: "u1", Game: "G", Service: "S"},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.ProviderInvoiceID != "cs_new" || inv.PaymentURL != "https://checkout.stripe.com/c/cs_new" {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if *got.ClientReferenceID != "ord-1" || got.Metadata["order_id"] != "ord-1" {
		t.Errorf("order id not propagated: %+v", got.Metadata)
	}
	if *got.LineItems[0].PriceData.UnitAmount != 500 || *got.LineItems[0].PriceData.Currency != "usd" {
		t.Errorf("unexpected price data %+v", got.LineItems[0].PriceData)
	}
	if *got.LineItems[0].PriceData.ProductData.Name != "G S" {
		t.Errorf("description = %q", *got.LineItems[0].PriceData.ProductData.Name)
	}
}

func TestCreateInvoice_Errors(t *testing.T) {
	c := NewClient(config.StripeConfig{}, nil, nil)
	c.newSession = func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
		return nil, errors.New("card_declined")
	}

	if _, err := c.CreateInvoice(context.Background(), payments.InvoiceRequest{OrderID: "o", Amount: money.MustParse("0", "USD")}); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := c.CreateInvoice(context.Background(), payments.InvoiceRequest{Amount: money.MustParse("1", "USD")}); err == nil {
		t.Error("expected error for missing order id")
	}
	if _, err := c.CreateInvoice(context.Background(), payments.InvoiceRequest{OrderID: "o", Amount: money.MustParse("1", "USD")}); err == nil {
		t.Error("expected upstream error")
	}
}
