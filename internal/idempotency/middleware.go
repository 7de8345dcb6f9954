// Package idempotency replays checkout responses for a repeated Idempotency-Key.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	apierrors "github.com/RankForge/server/internal/errors"
)

const (
	HeaderKey    = "Idempotency-Key"
	HeaderReplay = "X-Idempotency-Replay"

	DefaultTTL = 24 * time.Hour

	maxBodyBytes = 64 << 10
)

// recorder tees the response so it can be cached.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// inflight tracks keys whose first request is still running.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

// Middleware caches 2xx responses per (method, path, X-User-ID, key). A retry
// with the same key and body gets the cached response; the same key with a
// different body is rejected, as is a retry while the first is still running.
// Requests without the header pass through.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	running := &inflight{keys: make(map[string]struct{})}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + ":" + r.URL.Path + ":" + r.Header.Get("X-User-ID") + ":" + rawKey

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil || len(body) > maxBodyBytes {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "request body too large or unreadable")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			fingerprint := hex.EncodeToString(sum[:])

			if cached, ok := store.Get(r.Context(), key); ok {
				if cached.Fingerprint != fingerprint {
					apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
						"Idempotency-Key reused with a different request body", "field", HeaderKey)
					return
				}
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			if !running.acquire(key) {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeSessionExists, "a request with this Idempotency-Key is in progress")
				return
			}
			defer running.release(key)

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			headers := make(map[string]string, len(w.Header()))
			for k := range w.Header() {
				headers[k] = w.Header().Get(k)
			}
			_ = store.Set(r.Context(), key, &Response{
				StatusCode:  rec.status,
				Headers:     headers,
				Body:        bytes.Clone(rec.body.Bytes()),
				Fingerprint: fingerprint,
				CachedAt:    time.Now(),
			}, ttl)
		})
	}
}
