package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/RankForge/server/internal/errors"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/orders"
	"github.com/RankForge/server/pkg/responders"
)

const maxRequestBytes = 64 << 10

type checkoutRequest struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	Game          string `json:"game"`
	Service       string `json:"service"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type checkoutResponse struct {
	Session    sessionResponse `json:"session"`
	PaymentURL string          `json:"paymentUrl"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty"`
}

// createCheckout opens a payment session and the provider invoice.
func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	providerName := chi.URLParam(r, "provider")

	provider, err := h.providers.Get(providerName)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUnknownProvider, "unknown payment provider", "provider", providerName)
		return
	}

	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayload, err.Error())
		return
	}
	if err := validateJSONSchema(checkoutLoader, body); err != nil {
		log.Warn().Err(err).Msg("checkout.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	var req checkoutRequest
	if err := decodeJSON(body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidAmount, err.Error(), "amount", req.Amount)
		return
	}

	res, err := h.orders.CreateCheckout(r.Context(), provider, orders.CheckoutRequest{
		OrderID:       strings.TrimSpace(req.OrderID),
		UserID:        req.UserID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Game:          req.Game,
		Service:       req.Service,
		Amount:        amount,
		CallbackURL:   h.callbackURL(provider.Name()),
	})
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrInvalidCheckout):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	case errors.Is(err, orders.ErrSessionExists):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeSessionExists, "order already has a payment session", "orderId", req.OrderID)
		return
	case errors.Is(err, orders.ErrProviderFailed):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeProviderError, "payment provider unavailable")
		return
	default:
		log.Error().Err(err).Msg("checkout.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "could not create payment session")
		return
	}

	resp := checkoutResponse{Session: toSessionResponse(res.Session), PaymentURL: res.PaymentURL}
	if !res.ExpiresAt.IsZero() {
		resp.ExpiresAt = &res.ExpiresAt
	}
	responders.JSON(w, http.StatusCreated, resp)
}

// callbackURL is where the provider should post webhooks for this server.
func (h *handlers) callbackURL(provider string) string {
	base := strings.TrimRight(h.cfg.Server.PublicURL, "/")
	if base == "" {
		return ""
	}
	return base + "/api/pay/" + provider + "/webhook"
}
