package cryptomus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RankForge/server/internal/circuitbreaker"
	"github.com/RankForge/server/internal/httputil"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/signature"
)

type createPaymentRequest struct {
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	OrderID        string `json:"order_id"`
	URLCallback    string `json:"url_callback,omitempty"`
	URLReturn      string `json:"url_return,omitempty"`
	URLSuccess     string `json:"url_success,omitempty"`
	Lifetime       int64  `json:"lifetime,omitempty"`
	AdditionalData string `json:"additional_data,omitempty"`
}

type createPaymentResponse struct {
	State   int    `json:"state"`
	Message string `json:"message"`
	Result  struct {
		UUID      string     `json:"uuid"`
		OrderID   string     `json:"order_id"`
		URL       string     `json:"url"`
		ExpiredAt flexString `json:"expired_at"`
	} `json:"result"`
}

// CreateInvoice implements payments.Provider by opening a Cryptomus payment.
// The request body is signed exactly as sent.
func (c *Client) CreateInvoice(ctx context.Context, req payments.InvoiceRequest) (payments.Invoice, error) {
	if c.cfg.MerchantID == "" || c.cfg.APIKey == "" {
		return payments.Invoice{}, errors.New("cryptomus: merchant credentials not configured")
	}
	if req.OrderID == "" {
		return payments.Invoice{}, errors.New("cryptomus: order id required")
	}
	if req.Amount.IsZero() {
		return payments.Invoice{}, errors.New("cryptomus: amount required")
	}

	additional, err := req.Metadata.Encode()
	if err != nil {
		return payments.Invoice{}, err
	}
	payload := createPaymentRequest{
		Amount:         req.Amount.Decimal(),
		Currency:       req.Amount.Currency,
		OrderID:        req.OrderID,
		URLCallback:    req.CallbackURL,
		URLReturn:      c.cfg.ReturnURL,
		URLSuccess:     c.cfg.SuccessURL,
		Lifetime:       int64(c.cfg.Lifetime.Seconds()),
		AdditionalData: additional,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return payments.Invoice{}, fmt.Errorf("cryptomus: marshal payment: %w", err)
	}

	headers := map[string]string{
		"merchant": c.cfg.MerchantID,
		"sign":     signature.Sign(body, c.cfg.APIKey),
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/payment"

	start := time.Now()
	resp, err := circuitbreaker.Do(c.breakers, circuitbreaker.ServiceCryptomus, func() (createPaymentResponse, error) {
		var out createPaymentResponse
		err := httputil.PostRaw(ctx, c.httpClient, url, headers, body, &out)
		return out, err
	})
	if c.metrics != nil {
		c.metrics.ObserveProviderCall(ProviderName, "create_invoice", time.Since(start), err)
	}
	if err != nil {
		return payments.Invoice{}, fmt.Errorf("cryptomus: create payment: %w", err)
	}
	if resp.State != 0 || resp.Result.URL == "" {
		return payments.Invoice{}, fmt.Errorf("cryptomus: create payment rejected (state %d): %s", resp.State, resp.Message)
	}

	return payments.Invoice{
		ProviderInvoiceID: resp.Result.UUID,
		PaymentURL:        resp.Result.URL,
		ExpiresAt:         unixTime(resp.Result.ExpiredAt),
	}, nil
}
