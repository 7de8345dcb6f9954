// Package payments defines the gateway-neutral view of inbound payment webhooks
// and outbound invoice creation.
package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/RankForge/server/internal/money"
)

// ProviderManual identifies payments confirmed by an administrator.
const ProviderManual = "manual"

var (
	// ErrUnknownProvider is returned for a provider name with no registered adapter.
	ErrUnknownProvider = errors.New("payments: unknown provider")
	// ErrInvalidSignature is wrapped by adapters when a webhook fails authentication.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrInvalidPayload is wrapped by adapters when a webhook body cannot be decoded.
	ErrInvalidPayload = errors.New("payments: invalid webhook payload")
	// ErrForbiddenSource is returned when a webhook arrives from a disallowed address.
	ErrForbiddenSource = errors.New("payments: webhook source not allowed")
	// ErrMalformedAdditionalData is returned when the metadata side channel cannot be parsed.
	ErrMalformedAdditionalData = errors.New("payments: malformed additional_data")
)

// Status is the normalized outcome a webhook reports.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusIgnored Status = "ignored"
)

// WebhookRequest is the raw inbound callback.
type WebhookRequest struct {
	Body     []byte
	Header   http.Header
	RemoteIP string
}

// WebhookEvent is a verified provider callback.
type WebhookEvent struct {
	Provider  string
	EventID   string // provider uuid, transfer id or event id; the idempotency key
	OrderID   string
	Status    Status
	RawStatus string
	Amount    money.Money // zero when the provider did not report one
	TxID      string
	// AdditionalData is the undecoded metadata side channel, nil when absent.
	AdditionalData []byte
}

// InvoiceRequest asks a provider to open a payment for an order.
type InvoiceRequest struct {
	OrderID       string
	Amount        money.Money
	Description   string
	CustomerEmail string
	CallbackURL   string
	Metadata      AdditionalData
}

// Invoice is the provider's answer to InvoiceRequest.
type Invoice struct {
	ProviderInvoiceID string
	PaymentURL        string
	ExpiresAt         time.Time
}

// Provider is a payment gateway adapter.
type Provider interface {
	Name() string
	// ParseWebhook authenticates and normalizes a callback. It must not touch storage.
	ParseWebhook(ctx context.Context, req WebhookRequest) (WebhookEvent, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
}
