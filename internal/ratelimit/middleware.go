// Package ratelimit wraps httprate limiters for the checkout, notification and
// admin routes. Payment webhooks are never limited.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/RankForge/server/internal/apikey"
	"github.com/RankForge/server/internal/config"
	apierrors "github.com/RankForge/server/internal/errors"
	"github.com/RankForge/server/internal/metrics"
)

// UserHeader identifies the end user for per-user limits.
const UserHeader = "X-User-ID"

// Config holds rate limiting configuration.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-user limits key on X-User-ID and fall back to the client IP.
	PerUserEnabled bool
	PerUserLimit   int
	PerUserWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

// DefaultConfig stops obvious abuse without getting in the way of dashboards.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled:  true,
		GlobalLimit:    1000,
		GlobalWindow:   time.Minute,
		PerUserEnabled: true,
		PerUserLimit:   30,
		PerUserWindow:  time.Minute,
		PerIPEnabled:   true,
		PerIPLimit:     120,
		PerIPWindow:    time.Minute,
	}
}

// FromConfig maps the rate_limit config section.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled:  cfg.GlobalEnabled,
		GlobalLimit:    cfg.GlobalLimit,
		GlobalWindow:   cfg.GlobalWindow.Duration,
		PerUserEnabled: cfg.PerUserEnabled,
		PerUserLimit:   cfg.PerUserLimit,
		PerUserWindow:  cfg.PerUserWindow.Duration,
		PerIPEnabled:   cfg.PerIPEnabled,
		PerIPLimit:     cfg.PerIPLimit,
		PerIPWindow:    cfg.PerIPWindow.Duration,
		Metrics:        m,
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// limitHandler answers 429 with the standard error envelope.
func limitHandler(limitType string, window time.Duration, identify func(*http.Request) string, m *metrics.Metrics) http.HandlerFunc {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := "all"
		if identify != nil {
			if v := identify(r); v != "" {
				id = v
			}
		}
		if m != nil {
			m.ObserveRateLimit(limitType, id)
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		apierrors.WriteError(w, apierrors.ErrCodeRateLimited, "rate limit exceeded, try again later", map[string]interface{}{
			"limit":               limitType,
			"retry_after_seconds": seconds,
		})
	}
}

// exempt skips the limiter for callers holding an API key.
func exempt(limiter func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// GlobalLimiter caps total request rate. Admin keys bypass it.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled || cfg.GlobalLimit <= 0 {
		return passthrough
	}
	limiter := httprate.Limit(cfg.GlobalLimit, cfg.GlobalWindow,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitHandler("global", cfg.GlobalWindow, nil, cfg.Metrics)),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.GetRole(r) == apikey.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// UserLimiter limits each X-User-ID.
func UserLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerUserEnabled || cfg.PerUserLimit <= 0 {
		return passthrough
	}
	return exempt(httprate.Limit(cfg.PerUserLimit, cfg.PerUserWindow,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(limitHandler("per_user", cfg.PerUserWindow, userID, cfg.Metrics)),
	))
}

// IPLimiter limits each client address.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled || cfg.PerIPLimit <= 0 {
		return passthrough
	}
	return exempt(httprate.Limit(cfg.PerIPLimit, cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", cfg.PerIPWindow, func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics)),
	))
}

func userKey(r *http.Request) (string, error) {
	if id := userID(r); id != "" {
		return "user:" + id, nil
	}
	return httprate.KeyByIP(r)
}

func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}
