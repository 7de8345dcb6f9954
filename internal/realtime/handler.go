package realtime

import (
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apierrors "github.com/RankForge/server/internal/errors"
)

// Handler upgrades authenticated requests and attaches them to the hub.
func (h *Hub) Handler(auth *Authenticator) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(h.cfg.AllowedOrigins),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := auth.Authenticate(r)
		if err != nil {
			h.logger.Debug().Err(err).Msg("realtime.auth_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "valid admin key or user token required")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			h.logger.Debug().Err(err).Msg("realtime.upgrade_failed")
			return
		}

		c := newClient(uuid.NewString(), identity, h.cfg.SendBuffer, conn)
		if err := h.register(c); err != nil {
			c.close()
			return
		}
		log := h.logger.With().
			Str("connection_id", c.id).
			Str("role", identity.Role).
			Str("user_id", identity.UserID).
			Logger()
		log.Info().Msg("realtime.connected")

		go c.writePump(h.cfg)
		c.readPump(h.cfg)

		h.unregister(c)
		log.Info().Msg("realtime.disconnected")
	})
}

// originChecker returns nil for an empty list, which keeps the same-origin default.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimRight(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}
