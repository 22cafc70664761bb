package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func signHS256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, _ := json.Marshal(claims)
	in := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(in))
	return in + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestDevTokens(t *testing.T) {
	v := NewVerifier("dev", "", "")
	p, err := v.Verify("alice:Analyst")
	if err != nil || p.Subject != "alice" || p.Role != RoleAnalyst || !p.CanWrite() {
		t.Fatalf("dev token: %+v %v", p, err)
	}
	if _, err := v.Verify("alice"); err == nil {
		t.Fatalf("expected error for token without role")
	}
	p, _ = v.Verify("bob:viewer")
	if p.CanWrite() {
		t.Fatalf("viewer must not write")
	}
}

func TestHMACTokens(t *testing.T) {
	v := NewVerifier("hmac", "s3cret", "")
	tok := signHS256(t, "s3cret", map[string]any{"sub": "svc", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	p, err := v.Verify(tok)
	if err != nil || p.Subject != "svc" || p.Role != RoleAdmin {
		t.Fatalf("hmac token: %+v %v", p, err)
	}
	if _, err := v.Verify(signHS256(t, "other", map[string]any{"sub": "svc"})); err == nil {
		t.Fatalf("expected bad signature")
	}
	expired := signHS256(t, "s3cret", map[string]any{"sub": "svc", "exp": time.Now().Add(-time.Minute).Unix()})
	if _, err := v.Verify(expired); err == nil {
		t.Fatalf("expected expiry error")
	}
	p, err = v.Verify(signHS256(t, "s3cret", map[string]any{"sub": "svc"}))
	if err != nil || p.Role != RoleViewer {
		t.Fatalf("default role: %+v %v", p, err)
	}
}

func TestMalformedTokens(t *testing.T) {
	v := NewVerifier("hmac", "s3cret", "")
	for _, tok := range []string{"", "a.b", "a.b.c.d", "!!.e30.AA", signHS256(t, "s3cret", map[string]any{})} {
		if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%q: got %v", tok, err)
		}
	}
	v.now = func() time.Time { return time.Unix(2000, 0) }
	tok := signHS256(t, "s3cret", map[string]any{"sub": "svc", "exp": 1000})
	if _, err := v.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	tok = signHS256(t, "s3cret", map[string]any{"sub": "svc", "nbf": 3000})
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected not-yet-valid error, got %v", err)
	}
}

func TestJWKSTokens(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA", "kid": "k1",
			"n": base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	sign := func(kid string, claims map[string]any) string {
		hdr, _ := json.Marshal(map[string]string{"alg": "RS256", "kid": kid})
		body, _ := json.Marshal(claims)
		in := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(body)
		sum := sha256.Sum256([]byte(in))
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return in + "." + base64.RawURLEncoding.EncodeToString(sig)
	}

	v := NewVerifier("jwks", "", srv.URL)
	p, err := v.Verify(sign("k1", map[string]any{"sub": "ops", "role": "Analyst"}))
	if err != nil || p.Subject != "ops" || p.Role != RoleAnalyst {
		t.Fatalf("rs256 token: %+v %v", p, err)
	}
	if _, err := v.Verify(sign("k1", map[string]any{"sub": "ops"})); err != nil {
		t.Fatalf("second token: %v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("jwks fetched %d times, want 1", n)
	}
	if _, err := v.Verify(sign("k2", map[string]any{"sub": "ops"})); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if _, err := v.Verify(signHS256(t, "x", map[string]any{"sub": "ops"})); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("hs256 accepted in jwks mode: %v", err)
	}
}
