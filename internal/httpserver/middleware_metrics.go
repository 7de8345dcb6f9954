package httpserver

import (
	"net/http"
	"strings"

	"github.com/RankForge/server/internal/apikey"
	apierrors "github.com/RankForge/server/internal/errors"
)

// adminMetricsAuth protects /metrics with an admin key, given either as
// X-API-Key or as "Authorization: Bearer <key>" for Prometheus scrapers.
// With no keys configured the endpoint is open.
func adminMetricsAuth(keys *apikey.Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keys.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(apikey.HeaderName)
			if auth := r.Header.Get("Authorization"); key == "" && strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
			if !keys.IsAdminKey(key) {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
