package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// SignatureHeader carries the hex HMAC of the canonical request body
const SignatureHeader = "X-Signature"

// CanonicalJSON re-encodes a JSON document so that signer and verifier hash
// identical bytes: object keys sorted, no insignificant whitespace, numbers
// kept verbatim and no HTML escaping.
func CanonicalJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("invalid JSON: trailing data")
	}

	return encodeCanonical(v)
}

// CanonicalizeValue produces the canonical encoding of an in-memory value
func CanonicalizeValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	return CanonicalJSON(raw)
}

func encodeCanonical(v interface{}) ([]byte, error) {
	// encoding/json writes map keys in sorted order
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns hex(HMAC-SHA256(secret, canonical)) for an already canonical payload
func Sign(secret string, canonical []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBody canonicalizes a raw JSON body and signs it
func SignBody(secret string, body []byte) (string, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	return Sign(secret, canonical), nil
}

// VerifyBody checks signature against the canonical form of body.
// Every failure, including an empty secret, yields ErrAuthentication.
func VerifyBody(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrAuthentication
	}

	canonical, err := CanonicalJSON(body)
	if err != nil {
		return ErrAuthentication
	}

	expected := Sign(secret, canonical)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrAuthentication
	}
	return nil
}
