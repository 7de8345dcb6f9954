package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["event"]})
	}))
	defer srv.Close()

	client := NewClient(time.Second)

	var out map[string]string
	err := PostJSON(context.Background(), client, srv.URL, map[string]string{"X-API-Key": "secret"},
		map[string]string{"event": "new-order"}, &out)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if out["echo"] != "new-order" {
		t.Errorf("echo = %q", out["echo"])
	}

	err = PostJSON(context.Background(), client, srv.URL, nil, map[string]string{}, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected StatusError 401, got %v", err)
	}
	if statusErr.Body != `{"error":"nope"}` {
		t.Errorf("body = %q", statusErr.Body)
	}
}

func TestPostJSON_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := PostJSON(ctx, NewClient(5*time.Second), srv.URL, nil, map[string]string{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
