package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/RankForge/server/internal/apikey"
	"github.com/RankForge/server/internal/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func send(h http.Handler, user, ip, key string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if key != "" {
		req.Header.Set(apikey.HeaderName, key)
	}
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestDisabledLimitersPassThrough(t *testing.T) {
	cfg := Config{}
	for _, mw := range []func(http.Handler) http.Handler{GlobalLimiter(cfg), UserLimiter(cfg), IPLimiter(cfg)} {
		h := mw(ok)
		for i := 0; i < 50; i++ {
			if code := send(h, "u1", "10.0.0.1", ""); code != http.StatusOK {
				t.Fatalf("request %d: %d", i, code)
			}
		}
	}
}

func TestUserLimiter(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	h := UserLimiter(Config{PerUserEnabled: true, PerUserLimit: 2, PerUserWindow: time.Minute, Metrics: m})(ok)

	for i := 0; i < 2; i++ {
		if code := send(h, "u1", "10.0.0.1", ""); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := send(h, "u1", "10.0.0.2", ""); code != http.StatusTooManyRequests {
		t.Fatalf("third request from u1 = %d, want 429", code)
	}
	if code := send(h, "u2", "10.0.0.1", ""); code != http.StatusOK {
		t.Fatalf("other user limited: %d", code)
	}
	if got := testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_user", "u1")); got != 1 {
		t.Errorf("rate limit metric = %v", got)
	}
}

func TestIPLimiter_ResponseBody(t *testing.T) {
	h := IPLimiter(Config{PerIPEnabled: true, PerIPLimit: 1, PerIPWindow: 30 * time.Second})(ok)
	send(h, "", "10.0.0.9", "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("status %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	var body struct {
		Error struct {
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "rate_limited" || !body.Error.Retryable {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestAPIKeyExemption(t *testing.T) {
	keys := apikey.NewKeyring(apikey.Config{AdminKeys: []string{"admin"}, InternalKeys: []string{"internal"}})
	cfg := Config{
		GlobalEnabled: true, GlobalLimit: 1, GlobalWindow: time.Minute,
		PerIPEnabled: true, PerIPLimit: 1, PerIPWindow: time.Minute,
	}

	tests := []struct {
		name    string
		limiter func(http.Handler) http.Handler
		key     string
		exempt  bool
	}{
		{name: "admin skips global", limiter: GlobalLimiter(cfg), key: "admin", exempt: true},
		{name: "internal does not skip global", limiter: GlobalLimiter(cfg), key: "internal", exempt: false},
		{name: "internal skips per ip", limiter: IPLimiter(cfg), key: "internal", exempt: true},
		{name: "anonymous limited per ip", limiter: IPLimiter(cfg), exempt: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := apikey.Middleware(keys)(tt.limiter(ok))
			send(h, "", "10.1.1.1", tt.key)
			code := send(h, "", "10.1.1.1", tt.key)
			if tt.exempt && code != http.StatusOK {
				t.Fatalf("exempt caller got %d", code)
			}
			if !tt.exempt && code != http.StatusTooManyRequests {
				t.Fatalf("limited caller got %d", code)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GlobalEnabled || !cfg.PerUserEnabled || !cfg.PerIPEnabled {
		t.Fatalf("defaults should enable all limiters: %+v", cfg)
	}
}
