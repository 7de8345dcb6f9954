// Package cryptomus adapts the Cryptomus crypto invoice gateway.
package cryptomus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/RankForge/server/internal/circuitbreaker"
	"github.com/RankForge/server/internal/config"
	"github.com/RankForge/server/internal/httputil"
	"github.com/RankForge/server/internal/metrics"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/signature"
)

// ProviderName is the {provider} path segment served by this adapter.
const ProviderName = "cryptomus"

// DefaultCurrency applies to webhooks that omit the invoice currency.
const DefaultCurrency = "USD"

// Client creates invoices and verifies webhooks for one merchant.
type Client struct {
	cfg        config.CryptomusConfig
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	allowed    []netip.Prefix
}

// NewClient validates the allowlist and builds a client. breakers and
// metricsCollector may be nil.
func NewClient(cfg config.CryptomusConfig, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics) (*Client, error) {
	allowed, err := parseAllowlist(cfg.AllowedIPs)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: httputil.NewClient(timeout),
		breakers:   breakers,
		metrics:    metricsCollector,
		allowed:    allowed,
	}, nil
}

// Name implements payments.Provider.
func (c *Client) Name() string { return ProviderName }

func parseAllowlist(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("cryptomus: allowed ip %q: %w", raw, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("cryptomus: allowed ip %q: %w", raw, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (c *Client) sourceAllowed(remoteIP string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(remoteIP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// webhookBody is the subset of the payment callback the server reads.
type webhookBody struct {
	Type           string          `json:"type"`
	UUID           string          `json:"uuid"`
	OrderID        flexString      `json:"order_id"`
	Amount         flexString      `json:"amount"`
	PaymentAmount  flexString      `json:"payment_amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	IsFinal        bool            `json:"is_final"`
	TxID           string          `json:"txid"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

// MapStatus normalizes a gateway payment status.
func MapStatus(status string) payments.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "paid_over":
		return payments.StatusPaid
	case "fail", "failed", "cancel", "system_fail", "wrong_amount":
		return payments.StatusFailed
	default:
		return payments.StatusIgnored
	}
}

// ParseWebhook implements payments.Provider. The signature is checked before
// any field is interpreted.
func (c *Client) ParseWebhook(_ context.Context, req payments.WebhookRequest) (payments.WebhookEvent, error) {
	if !c.sourceAllowed(req.RemoteIP) {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %s", payments.ErrForbiddenSource, req.RemoteIP)
	}

	if err := signature.Verify(req.Body, req.Header.Get("sign"), c.cfg.APIKey); err != nil {
		if errors.Is(err, signature.ErrMalformedPayload) {
			return payments.WebhookEvent{}, fmt.Errorf("cryptomus: %w: %w", payments.ErrInvalidPayload, err)
		}
		return payments.WebhookEvent{}, fmt.Errorf("cryptomus: %w: %w", payments.ErrInvalidSignature, err)
	}

	var body webhookBody
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("cryptomus: %w: %v", payments.ErrInvalidPayload, err)
	}
	orderID := strings.TrimSpace(string(body.OrderID))
	if orderID == "" {
		return payments.WebhookEvent{}, fmt.Errorf("cryptomus: %w: order_id is required", payments.ErrInvalidPayload)
	}

	event := payments.WebhookEvent{
		Provider:  ProviderName,
		EventID:   eventID(body, orderID),
		OrderID:   orderID,
		Status:    MapStatus(body.Status),
		RawStatus: body.Status,
		TxID:      firstNonEmpty(body.TxID, body.UUID),
	}
	if len(body.AdditionalData) > 0 {
		event.AdditionalData = []byte(body.AdditionalData)
	}

	amount, err := parseAmount(body)
	if err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("cryptomus: %w: %v", payments.ErrInvalidPayload, err)
	}
	event.Amount = amount
	return event, nil
}

// eventID picks the idempotency key. One invoice uuid reports several statuses
// over its life, so the status is part of the key.
func eventID(body webhookBody, orderID string) string {
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if id := strings.TrimSpace(body.UUID); id != "" {
		return id + ":" + status
	}
	if tx := strings.TrimSpace(body.TxID); tx != "" {
		return "tx:" + tx + ":" + status
	}
	return "order:" + orderID + ":" + status
}

func parseAmount(body webhookBody) (money.Money, error) {
	raw := strings.TrimSpace(string(body.Amount))
	if raw == "" {
		raw = strings.TrimSpace(string(body.PaymentAmount))
	}
	if raw == "" {
		return money.Money{}, nil
	}
	currency := strings.TrimSpace(body.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	return money.Parse(raw, currency)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// unixTime converts the gateway's expired_at seconds.
func unixTime(raw flexString) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
