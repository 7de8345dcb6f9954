package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/RankForge/server/internal/errors"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/orders"
	"github.com/RankForge/server/internal/storage"
	"github.com/RankForge/server/pkg/responders"
)

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	status := storage.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidStatus, "unknown order status", "status", status)
		return
	}
	items, err := h.store.ListOrders(r.Context(), storage.OrderFilter{
		UserID: r.URL.Query().Get("userId"),
		Status: status,
		Limit:  queryInt(r, "limit", 100),
	})
	if err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Msg("admin.list_orders_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "could not load orders")
		return
	}
	out := make([]orderResponse, 0, len(items))
	for _, o := range items {
		out = append(out, toOrderResponse(o))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

// getOrder returns the order and its payment session, whichever exist.
func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, err := h.orders.FindSessionOrOrder(r.Context(), id)
	if err != nil {
		h.writeOrderError(w, r, id, err)
		return
	}
	resp := map[string]any{"orderId": id}
	if found.Order != nil {
		resp["order"] = toOrderResponse(*found.Order)
	}
	if found.Session != nil {
		resp["session"] = toSessionResponse(*found.Session)
	}
	responders.JSON(w, http.StatusOK, resp)
}

func (h *handlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayload, err.Error())
		return
	}
	if err := validateJSONSchema(orderStatusLoader, body); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidStatus, err.Error())
		return
	}
	var req struct {
		Status storage.OrderStatus `json:"status"`
	}
	if err := decodeJSON(body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeOrderError(w, r, id, err)
		return
	}
	responders.JSON(w, http.StatusOK, toOrderResponse(order))
}

// confirmPayment marks an order paid without a gateway callback.
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayload, err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := validateJSONSchema(confirmPaymentLoader, body); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	var req struct {
		Reference string `json:"reference"`
	}
	if err := decodeJSON(body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	order, created, err := h.orders.ConfirmManual(r.Context(), id, req.Reference)
	if err != nil {
		h.writeOrderError(w, r, id, err)
		return
	}
	reqLog := logger.FromContext(r.Context())
	reqLog.Info().
		Str("order_id", id).
		Bool("created", created).
		Msg("admin.payment_confirmed")
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	responders.JSON(w, status, map[string]any{"order": toOrderResponse(order), "created": created})
}

func (h *handlers) writeOrderError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeOrderNotFound, "order not found", "orderId", id)
	case errors.Is(err, orders.ErrInvalidTransition):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidTransition, err.Error(), "orderId", id)
	case errors.Is(err, orders.ErrInvalidStatus):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidStatus, err.Error())
	default:
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Str("order_id", id).Msg("admin.order_error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "order operation failed")
	}
}
