package httpserver

import (
	"net/http"
	"time"

	"github.com/RankForge/server/internal/logger"
	"github.com/RankForge/server/internal/realtime"
	"github.com/RankForge/server/pkg/responders"
)

// health reports liveness plus what this instance can do. A failing database
// ping downgrades the answer to 503 so load balancers drain the instance.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	status, code := "ok", http.StatusOK
	response := map[string]any{
		"uptime":    now.Sub(serverStartTime).Round(time.Second).String(),
		"timestamp": now.UTC(),
		"providers": h.providers.Names(),
		"storage":   h.cfg.Storage.Backend,
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			reqLog := logger.FromContext(r.Context())
			reqLog.Warn().Err(err).Msg("health.database_unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
			response["database"] = "unreachable"
		} else {
			response["database"] = "ok"
		}
	}
	if h.hub != nil {
		response["realtime"] = map[string]any{
			"adminConnections": h.hub.Connected(realtime.GroupAdmin),
		}
	}
	response["status"] = status
	responders.JSON(w, code, response)
}
