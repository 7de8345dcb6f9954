package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/RankForge/server/internal/errors"
	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/notify"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/internal/storage"
	"github.com/RankForge/server/pkg/responders"
)

// sendNotification is the ingest endpoint other instances fall back to: it
// emits the event to the sockets connected here.
func (h *handlers) sendNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := readBody(r, maxRequestBytes)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayload, err.Error())
		return
	}
	if err := validateJSONSchema(notificationSendLoader, body); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	var req notify.SendRequest
	if err := decodeJSON(body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	group := realtime.GroupAdmin
	if req.Type == "user" {
		group = realtime.UserGroup(req.UserID)
	}
	log = log.With().Str("group", group).Str("event", req.Event).Logger()

	var n int
	if h.hub != nil {
		n, err = h.hub.Broadcast(r.Context(), group, req.Event, req.Data)
		if err != nil {
			log.Warn().Err(err).Msg("notifications.send_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "realtime hub unavailable")
			return
		}
	}
	if n == 0 {
		log.Info().Bool("realtime", h.hub != nil).Msg("notifications.send.no_receivers")
	} else {
		log.Debug().Int("receivers", n).Msg("notifications.sent")
	}
	responders.JSON(w, http.StatusOK, notify.SendResponse{Delivered: n > 0, Receivers: n})
}

// listNotifications returns the inbox of ?userId=, or the admin inbox when absent.
func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListNotifications(r.Context(), storage.NotificationFilter{
		UserID:     r.URL.Query().Get("userId"),
		UnreadOnly: queryBool(r, "unread"),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Msg("notifications.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "could not load notifications")
		return
	}
	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, toNotificationResponse(n))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.MarkNotificationRead(r.Context(), id, r.URL.Query().Get("userId"))
	switch {
	case err == nil:
		responders.JSON(w, http.StatusOK, map[string]any{"id": id, "read": true})
	case errors.Is(err, storage.ErrNotFound):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeNotificationNotFound, "notification not found", "id", id)
	default:
		reqLog := logger.FromContext(r.Context())
		reqLog.Error().Err(err).Str("notification_id", id).Msg("notifications.mark_read_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "could not update notification")
	}
}
