// Package responders holds the response writers shared by HTTP handlers.
package responders

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// JSON encodes payload before touching the response so an unencodable value
// becomes a clean 500 rather than a truncated body.
func JSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if payload != nil {
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			http.Error(w, `{"error":{"code":"internal_error","message":"response encoding failed"}}`, http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// NoContent writes a bare 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
