package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/RankForge/server/internal/circuitbreaker"
	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/payments"
)

// ProviderName is the {provider} path segment served by this adapter.
const ProviderName = "stripe"

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// Client wraps stripe-go operations used by the server.
type Client struct {
	cfg      config.StripeConfig
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	// newSession is session.New, swapped in tests.
	newSession func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics) *Client {
	stripeapi.Key = cfg.SecretKey
	return &Client{
		cfg:        cfg,
		breakers:   breakers,
		metrics:    metricsCollector,
		newSession: session.New,
	}
}

// Name implements payments.Provider.
func (c *Client) Name() string { return ProviderName }

// CreateInvoice opens a Checkout session for the order. The order id travels
// back in both client_reference_id and metadata.
func (c *Client) CreateInvoice(ctx context.Context, req payments.InvoiceRequest) (payments.Invoice, error) {
	if req.OrderID == "" {
		return payments.Invoice{}, errors.New("stripe: order id required")
	}
	if req.Amount.Minor() <= 0 {
		return payments.Invoice{}, errors.New("stripe: amount required")
	}

	description := firstNonEmpty(req.Description, strings.TrimSpace(req.Metadata.Game+" "+req.Metadata.Service), "Order "+req.OrderID)
	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(c.cfg.SuccessURL),
		CancelURL:          stripeapi.String(c.cfg.CancelURL),
		ClientReferenceID:  stripeapi.String(req.OrderID),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Quantity: stripeapi.Int64(1),
				PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
					Currency: stripeapi.String(strings.ToLower(req.Amount.Currency)),
					ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripeapi.String(description),
					},
					UnitAmount: stripeapi.Int64(req.Amount.Minor()),
				},
			},
		},
	}
	params.Context = ctx
	params.Metadata = convertMetadata(req.Metadata, req.OrderID)
	if email := firstNonEmpty(req.CustomerEmail, req.Metadata.CustomerEmail); email != "" {
		params.CustomerEmail = stripeapi.String(email)
	}

	start := time.Now()
	s, err := circuitbreaker.Do(c.breakers, circuitbreaker.ServiceStripe, func() (*stripeapi.CheckoutSession, error) {
		return c.newSession(params)
	})
	if c.metrics != nil {
		c.metrics.ObserveProviderCall(ProviderName, "create_checkout_session", time.Since(start), err)
	}
	if err != nil {
		return payments.Invoice{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	inv := payments.Invoice{
		ProviderInvoiceID: s.ID,
		PaymentURL:        s.URL,
	}
	if s.ExpiresAt > 0 {
		inv.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return inv, nil
}

// ParseWebhook validates the Stripe-Signature header and normalizes checkout events.
func (c *Client) ParseWebhook(_ context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return payments.WebhookEvent{}, fmt.Errorf("stripe: %w: webhook secret not configured", payments.ErrInvalidSignature)
	}
	event, err := webhook.ConstructEvent(req.Body, req.Header.Get(SignatureHeader), c.cfg.WebhookSecret)
	if err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("stripe: %w: %v", payments.ErrInvalidSignature, err)
	}

	out := payments.WebhookEvent{
		Provider:  ProviderName,
		EventID:   event.ID,
		RawStatus: event.Type,
		Status:    payments.StatusIgnored,
	}

	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		return out, nil
	}

	var checkout stripeapi.CheckoutSession
	if err := jsonExtract(event.Data.Raw, &checkout); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("stripe: %w: %v", payments.ErrInvalidPayload, err)
	}

	orderID := ""
	if checkout.Metadata != nil {
		orderID = checkout.Metadata["order_id"]
	}
	orderID = firstNonEmpty(orderID, checkout.ClientReferenceID)
	if orderID == "" {
		return payments.WebhookEvent{}, fmt.Errorf("stripe: %w: session %s has no order_id", payments.ErrInvalidPayload, checkout.ID)
	}

	out.OrderID = orderID
	out.Status = checkoutStatus(event.Type, checkout.PaymentStatus)
	out.TxID = checkout.ID
	if checkout.PaymentIntent != nil && checkout.PaymentIntent.ID != "" {
		out.TxID = checkout.PaymentIntent.ID
	}
	if checkout.AmountTotal > 0 && checkout.Currency != "" {
		out.Amount = money.FromMinor(checkout.AmountTotal, string(checkout.Currency))
	}
	out.AdditionalData = additionalDataFromMetadata(checkout.Metadata, checkout.CustomerEmail)
	return out, nil
}

func checkoutStatus(eventType string, paymentStatus stripeapi.CheckoutSessionPaymentStatus) payments.Status {
	switch eventType {
	case "checkout.session.completed":
		// Delayed payment methods complete the session before the money moves.
		if paymentStatus == stripeapi.CheckoutSessionPaymentStatusUnpaid {
			return payments.StatusIgnored
		}
		return payments.StatusPaid
	case "checkout.session.async_payment_succeeded":
		return payments.StatusPaid
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		return payments.StatusFailed
	}
	return payments.StatusIgnored
}

// additionalDataFromMetadata rebuilds the side channel CreateInvoice stored in
// session metadata. It returns nil when no user id was recorded.
func additionalDataFromMetadata(metadata map[string]string, email string) []byte {
	if metadata == nil || metadata["user_id"] == "" {
		return nil
	}
	data := payments.AdditionalData{
		UserID:        metadata["user_id"],
		Game:          metadata["game"],
		Service:       metadata["service"],
		CustomerEmail: firstNonEmpty(metadata["customer_email"], email),
		CustomerName:  metadata["customer_name"],
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func convertMetadata(data payments.AdditionalData, orderID string) map[string]string {
	out := map[string]string{"order_id": orderID}
	for k, v := range map[string]string{
		"user_id":        data.UserID,
		"game":           data.Game,
		"service":        data.Service,
		"customer_email": data.CustomerEmail,
		"customer_name":  data.CustomerName,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stripe: decode webhook payload: %w", err)
	}
	return nil
}
