package security

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if len(token) != 64 {
			t.Fatalf("GenerateToken() length = %d, want 64", len(token))
		}
		if _, err := hex.DecodeString(token); err != nil {
			t.Fatalf("GenerateToken() is not hex: %v", err)
		}
		if seen[token] {
			t.Fatalf("GenerateToken() produced duplicate token %s", token)
		}
		seen[token] = true
	}
}

func TestDeriveSecret(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	got := DeriveSecret("key", "The quick brown fox jumps over the lazy dog")
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("DeriveSecret() = %s, want %s", got, want)
	}

	if DeriveSecret("key", "token-a") == DeriveSecret("key", "token-b") {
		t.Error("different tokens should derive different secrets")
	}
	if DeriveSecret("key-1", "token") == DeriveSecret("key-2", "token") {
		t.Error("different master keys should derive different secrets")
	}
}

func TestNewIssuer(t *testing.T) {
	if _, err := NewIssuer(""); err == nil {
		t.Error("NewIssuer() should reject an empty master key")
	}
	if _, err := NewIssuer("master"); err != nil {
		t.Errorf("NewIssuer() error = %v", err)
	}
}

func TestIssue(t *testing.T) {
	issuer, _ := NewIssuer("master")

	node := &types.Node{Name: "edge-1"}
	if err := issuer.Issue(node); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if node.Token == "" {
		t.Fatal("Issue() did not set a token")
	}
	if node.APISecret != DeriveSecret("master", node.Token) {
		t.Error("Issue() secret is not derived from the token")
	}

	token := node.Token
	err := issuer.Issue(node)
	if !errors.Is(err, ErrTokenAlreadyIssued) {
		t.Errorf("Issue() on issued node error = %v, want ErrTokenAlreadyIssued", err)
	}
	if node.Token != token {
		t.Error("Issue() must not replace an existing token")
	}

	if err := issuer.Issue(nil); err == nil {
		t.Error("Issue(nil) should fail")
	}
}

func TestIssuerVerify(t *testing.T) {
	issuer, _ := NewIssuer("master")
	secret := issuer.Secret("abc123")
	wrong := flipLastHex(secret)

	tests := []struct {
		name   string
		token  string
		secret string
		want   bool
	}{
		{"matching pair", "abc123", secret, true},
		{"wrong secret", "abc123", wrong, false},
		{"other token", "abc124", secret, false},
		{"empty secret", "abc123", "", false},
		{"empty token", "", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := issuer.Verify(tt.token, tt.secret); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHiddenPath(t *testing.T) {
	p := HiddenPath("abc123")
	if len(p) != 16 {
		t.Errorf("HiddenPath() length = %d, want 16", len(p))
	}
	if p != HiddenPath("abc123") {
		t.Error("HiddenPath() should be deterministic")
	}
	if p == HiddenPath("abc124") {
		t.Error("HiddenPath() should differ per token")
	}
}

func TestMask(t *testing.T) {
	if got := Mask("short"); got != "****" {
		t.Errorf("Mask(short) = %s", got)
	}
	if got := Mask("abcdef0123456789"); got != "abcd****" {
		t.Errorf("Mask(long) = %s", got)
	}
}

func flipLastHex(s string) string {
	last := s[len(s)-1]
	if last == '0' {
		return s[:len(s)-1] + "1"
	}
	return s[:len(s)-1] + "0"
}
