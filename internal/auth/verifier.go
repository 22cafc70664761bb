// Package auth resolves bearer tokens into run-service principals.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Verification modes.
const (
	ModeDev  = "dev"  // subject:role tokens, no signature
	ModeHMAC = "hmac" // HS256 with a shared secret
	ModeJWKS = "jwks" // RS256 against keys served from a JWKS URL
)

// Roles allowed to submit runs and manage subscriptions.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
	ErrUnknownKey   = errors.New("signing key not found")
)

type Principal struct {
	Subject string
	Role    string
}

// CanWrite reports whether the principal may start runs or change
// subscriptions.
func (p Principal) CanWrite() bool { return p.Role == RoleAdmin || p.Role == RoleAnalyst }

// Verifier turns a bearer token into a Principal according to Mode.
type Verifier struct {
	Mode         string
	SubjectClaim string
	RoleClaim    string

	secret []byte
	keys   *keySet
	now    func() time.Time
}

// NewVerifier builds a verifier for mode. Claim names default to sub and
// role and can be overridden with AUTH_SUBJECT_CLAIM and AUTH_ROLE_CLAIM.
func NewVerifier(mode, hmacSecret, jwksURL string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{
		Mode:         mode,
		SubjectClaim: claimName("AUTH_SUBJECT_CLAIM", "sub"),
		RoleClaim:    claimName("AUTH_ROLE_CLAIM", "role"),
		secret:       []byte(hmacSecret),
		keys:         newKeySet(jwksURL, 10*time.Minute),
		now:          time.Now,
	}
}

func claimName(env, def string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return def
}

func (v *Verifier) Verify(raw string) (Principal, error) {
	if v.Mode == ModeDev {
		return devPrincipal(raw)
	}
	tok, err := parseToken(raw)
	if err != nil {
		return Principal{}, err
	}
	switch v.Mode {
	case ModeHMAC:
		err = v.verifyHMAC(tok)
	case ModeJWKS:
		err = v.verifyRS256(tok)
	default:
		err = fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
	if err != nil {
		return Principal{}, err
	}
	return v.principal(tok.claims)
}

// devPrincipal accepts tokens of the form subject:role.
func devPrincipal(raw string) (Principal, error) {
	sub, role, ok := strings.Cut(raw, ":")
	if !ok || role == "" {
		return Principal{}, fmt.Errorf("%w: dev tokens are subject:role", ErrInvalidToken)
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

func (v *Verifier) principal(claims map[string]any) (Principal, error) {
	now := v.now().Unix()
	if exp, ok := claims["exp"].(float64); ok && now > int64(exp) {
		return Principal{}, ErrExpired
	}
	if nbf, ok := claims["nbf"].(float64); ok && now < int64(nbf) {
		return Principal{}, fmt.Errorf("%w: not valid yet", ErrInvalidToken)
	}
	sub, _ := claims[v.SubjectClaim].(string)
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, v.SubjectClaim)
	}
	role, _ := claims[v.RoleClaim].(string)
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

type token struct {
	alg, kid string
	signed   []byte // header.payload as sent
	sig      []byte
	claims   map[string]any
}

func parseToken(raw string) (token, error) {
	head, rest, ok := strings.Cut(raw, ".")
	payload, sig, ok2 := strings.Cut(rest, ".")
	if !ok || !ok2 || strings.Contains(sig, ".") {
		return token{}, fmt.Errorf("%w: expected three segments", ErrInvalidToken)
	}
	var hdr struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := decodeSegment(head, &hdr); err != nil {
		return token{}, err
	}
	tok := token{alg: hdr.Alg, kid: hdr.Kid, signed: []byte(head + "." + payload)}
	if err := decodeSegment(payload, &tok.claims); err != nil {
		return token{}, err
	}
	b, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return token{}, fmt.Errorf("%w: signature: %v", ErrInvalidToken, err)
	}
	tok.sig = b
	return tok, nil
}

func decodeSegment(seg string, into any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

func (v *Verifier) verifyHMAC(tok token) error {
	if tok.alg != "HS256" {
		return fmt.Errorf("%w: alg %q in hmac mode", ErrInvalidToken, tok.alg)
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(tok.signed)
	if !hmac.Equal(mac.Sum(nil), tok.sig) {
		return fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	return nil
}

func (v *Verifier) verifyRS256(tok token) error {
	if tok.alg != "RS256" {
		return fmt.Errorf("%w: alg %q in jwks mode", ErrInvalidToken, tok.alg)
	}
	pub, err := v.keys.lookup(tok.kid)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(tok.signed)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], tok.sig); err != nil {
		return fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	return nil
}

// keySet caches the RSA keys published at a JWKS URL. The set is refetched
// once it is older than ttl or when a kid is missing.
type keySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func newKeySet(url string, ttl time.Duration) *keySet {
	return &keySet{url: url, ttl: ttl, client: &http.Client{Timeout: 5 * time.Second}}
}

func (ks *keySet) lookup(kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	pub, ok := ks.keys[kid]
	fresh := time.Since(ks.fetched) <= ks.ttl
	ks.mu.RUnlock()
	if ok && fresh {
		return pub, nil
	}
	if err := ks.refresh(); err != nil {
		return nil, err
	}
	ks.mu.RLock()
	pub, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	return pub, nil
}

func (ks *keySet) refresh() error {
	if ks.url == "" {
		return errors.New("jwks url not configured")
	}
	resp, err := ks.client.Get(ks.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return fmt.Errorf("jwks key %s: modulus: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return fmt.Errorf("jwks key %s: exponent: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	ks.mu.Lock()
	ks.keys = keys
	ks.fetched = time.Now()
	ks.mu.Unlock()
	return nil
}
