package idempotency

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func checkoutHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + string(rune('0'+n)) + `,"len":` + string(rune('0'+len(body)%10)) + `}`))
	})
}

func post(h http.Handler, key, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/pay/cryptomus/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ReplaysSuccessfulResponse(t *testing.T) {
	store := NewMemoryStore(0, 0)
	defer store.Close()
	var calls atomic.Int32
	h := Middleware(store, time.Minute)(checkoutHandler(&calls, http.StatusCreated))

	first := post(h, "key-1", "u1", `{"amount":"5.00"}`)
	second := post(h, "key-1", "u1", `{"amount":"5.00"}`)

	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %d %q, first %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(HeaderReplay) != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("replay headers = %v", second.Header())
	}
	if first.Header().Get(HeaderReplay) != "" {
		t.Error("first response marked as replay")
	}
}

func TestMiddleware_DifferentBodyRejected(t *testing.T) {
	store := NewMemoryStore(0, 0)
	defer store.Close()
	var calls atomic.Int32
	h := Middleware(store, time.Minute)(checkoutHandler(&calls, http.StatusCreated))

	post(h, "key-1", "u1", `{"amount":"5.00"}`)
	rec := post(h, "key-1", "u1", `{"amount":"50.00"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
}

func TestMiddleware_Scoping(t *testing.T) {
	tests := []struct {
		name      string
		firstUser string
		nextUser  string
		wantCalls int32
	}{
		{name: "same user", firstUser: "u1", nextUser: "u1", wantCalls: 1},
		{name: "different user", firstUser: "u1", nextUser: "u2", wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore(0, 0)
			defer store.Close()
			var calls atomic.Int32
			h := Middleware(store, time.Minute)(checkoutHandler(&calls, http.StatusCreated))

			post(h, "key-1", tt.firstUser, `{}`)
			post(h, "key-1", tt.nextUser, `{}`)
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestMiddleware_ErrorsAreNotCached(t *testing.T) {
	store := NewMemoryStore(0, 0)
	defer store.Close()
	var calls atomic.Int32
	h := Middleware(store, time.Minute)(checkoutHandler(&calls, http.StatusBadGateway))

	post(h, "key-1", "u1", `{}`)
	post(h, "key-1", "u1", `{}`)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore(0, 0)
	defer store.Close()
	var calls atomic.Int32
	h := Middleware(store, time.Minute)(checkoutHandler(&calls, http.StatusCreated))

	post(h, "", "u1", `{}`)
	post(h, "", "u1", `{}`)
	if calls.Load() != 2 || store.Len() != 0 {
		t.Fatalf("calls = %d, cached = %d", calls.Load(), store.Len())
	}
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	store := NewMemoryStore(0, 0)
	defer store.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
	})
	h := Middleware(store, time.Minute)(slow)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(h, "key-1", "u1", `{}`) }()
	<-started

	rec := post(h, "key-1", "u1", `{}`)
	close(release)
	first := <-done

	if rec.Code != http.StatusConflict {
		t.Fatalf("concurrent retry status = %d, want 409", rec.Code)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
}
