package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// DefaultMasterKey is used when the coordinator is started without a configured
// master key. Deployments are expected to override it.
const DefaultMasterKey = "burrow-cluster-master-secret"

const tokenBytes = 32

var (
	// ErrAuthentication covers unknown tokens, secret mismatches and bad signatures.
	// Callers must not reveal which check failed.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTokenAlreadyIssued is returned when issuing for a node that has a token
	ErrTokenAlreadyIssued = errors.New("node already has a token")
)

// Issuer hands out node credentials bound to the coordinator master key
type Issuer struct {
	masterKey []byte
}

// NewIssuer creates an issuer for the given master key
func NewIssuer(masterKey string) (*Issuer, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key cannot be empty")
	}
	return &Issuer{masterKey: []byte(masterKey)}, nil
}

// GenerateToken returns 256 bits of secure randomness, hex encoded
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DeriveSecret computes the API secret for a token: hex(HMAC-SHA256(masterKey, token))
func DeriveSecret(masterKey, token string) string {
	mac := hmac.New(sha256.New, []byte(masterKey))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Secret derives the API secret for token under this issuer's master key
func (i *Issuer) Secret(token string) string {
	return DeriveSecret(string(i.masterKey), token)
}

// Issue generates a token for node and stores the derived secret on it.
// A node that already carries a token is left untouched.
func (i *Issuer) Issue(node *types.Node) error {
	if node == nil {
		return fmt.Errorf("node cannot be nil")
	}
	if node.Token != "" {
		return ErrTokenAlreadyIssued
	}

	token, err := GenerateToken()
	if err != nil {
		return err
	}

	node.Token = token
	node.APISecret = i.Secret(token)
	return nil
}

// Verify reports whether secret is the one derived from token
func (i *Issuer) Verify(token, secret string) bool {
	if token == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(i.Secret(token)), []byte(secret))
}

// HiddenPath returns the per-node obscured URL path segment handed out on registration
func HiddenPath(token string) string {
	sum := sha256.Sum256([]byte("hidden-" + token))
	return hex.EncodeToString(sum[:])[:16]
}

// Mask shortens a credential for logging
func Mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
