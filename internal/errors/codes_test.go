package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidSignature, http.StatusBadRequest},
		{ErrCodeInvalidPayload, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbiddenSourceIP, http.StatusForbidden},
		{ErrCodeUnknownProvider, http.StatusNotFound},
		{ErrCodeOrderNotFound, http.StatusNotFound},
		{ErrCodeInvalidTransition, http.StatusConflict},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeProviderError, http.StatusBadGateway},
		{ErrCodeDatabaseError, http.StatusInternalServerError},
		{ErrorCode("something_new"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if ErrCodeInvalidSignature.IsRetryable() {
		t.Error("signature failures must not be retryable")
	}
	if !ErrCodeProviderError.IsRetryable() {
		t.Error("provider errors should be retryable")
	}
}

func TestWriteErrorWithDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetail(rec, ErrCodeOrderNotFound, "order not found", "orderId", "X")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != ErrCodeOrderNotFound {
		t.Errorf("code = %q", resp.Error.Code)
	}
	if resp.Error.Details["orderId"] != "X" {
		t.Errorf("details = %v", resp.Error.Details)
	}
}
