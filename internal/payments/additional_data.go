package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AdditionalData is the order metadata a checkout embeds in the provider
// payload so that a paid order can be rebuilt without its session.
type AdditionalData struct {
	UserID        string `json:"user_id"`
	Game          string `json:"game"`
	Service       string `json:"service"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
}

// ParseAdditionalData decodes the side channel. The gateway delivers it either
// as a JSON object or as a string holding one. A nil result with a nil error
// means the field was absent.
func ParseAdditionalData(raw []byte) (*AdditionalData, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAdditionalData, err)
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return nil, nil
		}
		raw = []byte(inner)
	}

	var data AdditionalData
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAdditionalData, err)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &data, nil
}

// Validate reports the first missing required field.
func (d AdditionalData) Validate() error {
	switch {
	case strings.TrimSpace(d.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrMalformedAdditionalData)
	case strings.TrimSpace(d.Game) == "":
		return fmt.Errorf("%w: game is required", ErrMalformedAdditionalData)
	case strings.TrimSpace(d.Service) == "":
		return fmt.Errorf("%w: service is required", ErrMalformedAdditionalData)
	}
	return nil
}

// Encode renders the metadata as the JSON string a provider carries back.
func (d AdditionalData) Encode() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode additional_data: %w", err)
	}
	return string(b), nil
}
