package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/RankForge/server/internal/errors"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/orders"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/pkg/responders"
)

type webhookResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// paymentWebhook authenticates a gateway callback and hands it to the
// reconciler. Anything that fails before verification is rejected with 4xx
// and touches no storage; after verification the gateway always gets 200.
func (h *handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	providerName := chi.URLParam(r, "provider")
	log := logger.FromContext(ctx).With().Str("provider", providerName).Logger()
	tr := orders.Trace{Provider: providerName, RequestID: logger.GetRequestID(ctx)}

	body, err := readBody(r, h.cfg.Webhook.MaxBodyBytes)
	h.orders.Record(ctx, orders.StateReceived, tr, map[string]any{
		"bytes":     len(body),
		"remote_ip": clientIP(r),
	})

	reject := func(code apierrors.ErrorCode, reason string, cause error) {
		log.Warn().Err(cause).Str("reason", reason).Msg("webhook.rejected")
		h.orders.Record(ctx, orders.StateRejected, tr, map[string]any{"reason": reason})
		if h.metrics != nil {
			h.metrics.ObserveWebhook(providerName, string(orders.StateRejected), time.Since(start))
		}
		apierrors.WriteSimpleError(w, code, reason)
	}

	if err != nil {
		reject(apierrors.ErrCodeInvalidPayload, "unreadable or oversized body", err)
		return
	}

	provider, err := h.providers.Get(providerName)
	if err != nil {
		reject(apierrors.ErrCodeUnknownProvider, "unknown payment provider", err)
		return
	}

	ev, err := provider.ParseWebhook(ctx, payments.WebhookRequest{
		Body:     body,
		Header:   r.Header,
		RemoteIP: clientIP(r),
	})
	if err != nil {
		code, reason := classifyWebhookError(err)
		if h.metrics != nil && code == apierrors.ErrCodeInvalidSignature {
			h.metrics.ObserveSignatureFailure(providerName, reason)
		}
		reject(code, reason, err)
		return
	}

	tr.EventID, tr.OrderID = ev.EventID, ev.OrderID
	out := h.orders.Process(ctx, ev)
	if h.metrics != nil {
		h.metrics.ObserveWebhook(providerName, out.Status(), time.Since(start))
	}
	log.Info().
		Str("event_id", ev.EventID).
		Str("order_id", ev.OrderID).
		Str("state", string(out.State)).
		Dur("duration", time.Since(start)).
		Msg("webhook.acknowledged")

	responders.JSON(w, http.StatusOK, webhookResponse{Status: out.Status(), OrderID: ev.OrderID})
}

func classifyWebhookError(err error) (apierrors.ErrorCode, string) {
	switch {
	case errors.Is(err, payments.ErrForbiddenSource):
		return apierrors.ErrCodeForbiddenSourceIP, "webhook source not allowed"
	case errors.Is(err, payments.ErrInvalidPayload):
		return apierrors.ErrCodeInvalidPayload, "invalid webhook payload"
	default:
		return apierrors.ErrCodeInvalidSignature, "invalid signature"
	}
}
