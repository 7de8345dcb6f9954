// Package signature implements the MD5 request signing scheme used by the
// Cryptomus payment gateway: md5(base64(json body without "sign") + secret).
package signature

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Field is the body member carrying the signature.
const Field = "sign"

var (
	// ErrMissingSignature is returned when neither the header nor the body carries a signature.
	ErrMissingSignature = errors.New("signature: missing sign")
	// ErrSignatureMismatch is returned when the supplied signature does not match the payload.
	ErrSignatureMismatch = errors.New("signature: mismatch")
	// ErrMalformedPayload is returned when the body is not a JSON object.
	ErrMalformedPayload = errors.New("signature: payload is not a JSON object")
)

// Canonical returns the body with its top-level sign member cut out, along
// with the sign value. Every other byte is kept as received, whitespace
// included, since the gateway signs its exact serialization.
func Canonical(body []byte) ([]byte, string, error) {
	var (
		sign             string
		found            bool
		members          int
		prevEnd, signEnd int
		signFirst        bool
	)
	err := jsonparser.ObjectEach(body, func(key, value []byte, dataType jsonparser.ValueType, offset int) error {
		members++
		if string(key) != Field {
			if !found {
				prevEnd = offset
			}
			return nil
		}
		if found {
			return errors.New("duplicate sign member")
		}
		if dataType != jsonparser.String {
			return fmt.Errorf("sign must be a string, got %s", dataType)
		}
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return err
		}
		sign, found, signEnd, signFirst = s, true, offset, members == 1
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !found {
		return body, "", nil
	}

	var cutFrom, cutTo int
	if signFirst {
		open := bytes.IndexByte(body, '{') + 1
		cutFrom = open + bytes.IndexByte(body[open:], '"')
		cutTo = signEnd
		if next := skipSpace(body, signEnd); next < len(body) && body[next] == ',' {
			cutTo = next + 1
		}
	} else {
		cutFrom = prevEnd + bytes.IndexByte(body[prevEnd:signEnd], ',')
		cutTo = signEnd
	}

	out := make([]byte, 0, len(body)-(cutTo-cutFrom))
	out = append(out, body[:cutFrom]...)
	out = append(out, body[cutTo:]...)
	return out, sign, nil
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return i
}

// Sign returns the lowercase hex signature of an already canonical payload.
func Sign(canonical []byte, secret string) string {
	encoded := base64.StdEncoding.EncodeToString(canonical)
	sum := md5.Sum([]byte(encoded + secret))
	return hex.EncodeToString(sum[:])
}

// SignBody canonicalizes body and signs it.
func SignBody(body []byte, secret string) (string, error) {
	canonical, _, err := Canonical(body)
	if err != nil {
		return "", err
	}
	return Sign(canonical, secret), nil
}

// Attach signs body and returns it with a trailing sign member, which is how
// the gateway delivers webhooks.
func Attach(body []byte, secret string) ([]byte, error) {
	canonical, _, err := Canonical(body)
	if err != nil {
		return nil, err
	}
	sign := Sign(canonical, secret)

	closing := bytes.LastIndexByte(canonical, '}')
	open := bytes.IndexByte(canonical, '{')
	out := make([]byte, 0, len(canonical)+len(sign)+10)
	out = append(out, canonical[:closing]...)
	if len(bytes.TrimSpace(canonical[open+1:closing])) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"sign":"`...)
	out = append(out, sign...)
	out = append(out, '"')
	out = append(out, canonical[closing:]...)
	return out, nil
}

// Verify checks body against secret. headerSign takes precedence over the body's
// sign member when non-empty. Comparison is case-insensitive.
func Verify(body []byte, headerSign, secret string) error {
	canonical, bodySign, err := Canonical(body)
	if err != nil {
		return err
	}

	supplied := strings.TrimSpace(headerSign)
	if supplied == "" {
		supplied = strings.TrimSpace(bodySign)
	}
	if supplied == "" {
		return ErrMissingSignature
	}
	supplied = strings.ToLower(supplied)

	for _, candidate := range slashVariants(canonical) {
		expected := Sign(candidate, secret)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1 {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// slashVariants returns the payload as received plus its forms with "/" escaped
// and unescaped. The gateway signs PHP json_encode output, which escapes slashes,
// while some relays forward the body with slashes unescaped.
func slashVariants(canonical []byte) [][]byte {
	variants := [][]byte{canonical}
	if !bytes.Contains(canonical, []byte("/")) {
		return variants
	}
	unescaped := bytes.ReplaceAll(canonical, []byte(`\/`), []byte("/"))
	escaped := bytes.ReplaceAll(unescaped, []byte("/"), []byte(`\/`))
	for _, v := range [][]byte{unescaped, escaped} {
		if !bytes.Equal(v, canonical) {
			variants = append(variants, v)
		}
	}
	return variants
}
