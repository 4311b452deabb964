// Package auth resolves the calling tenant and role from bearer tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad signature")
	ErrExpired        = errors.New("token expired")
	ErrMissingTenant  = errors.New("missing tenant claim")
)

// Roles known to the service.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Principal is the authenticated caller.
type Principal struct {
	Tenant string
	Role   string
}

// IsAdmin reports whether the principal may change tenant solver settings.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Verifier checks bearer tokens. In "dev" mode a token is "tenant:role" and is trusted as is.
// In "hmac" mode it is an HS256 JWT whose tenant and role claims are read after the
// signature and expiry check.
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	TenantClaim string
	RoleClaim   string
	now         func() time.Time
}

func NewVerifier(mode, secret string) *Verifier {
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(secret),
		TenantClaim: "tenant",
		RoleClaim:   "role",
		now:         time.Now,
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "", "dev":
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" {
			return Principal{}, fmt.Errorf("%w: want tenant:role", ErrMalformedToken)
		}
		return principal(tenant, role), nil
	case "hmac":
		return v.verifyHS256(token)
	}
	return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrMalformedToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(segs[0], &hdr); err != nil {
		return Principal{}, err
	}
	if hdr.Alg != "HS256" {
		return Principal{}, fmt.Errorf("%w: alg %q", ErrMalformedToken, hdr.Alg)
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrBadSignature
	}

	var claims map[string]any
	if err := decodeSegment(segs[1], &claims); err != nil {
		return Principal{}, err
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, ErrExpired
	}
	tenant, _ := claims[v.TenantClaim].(string)
	if tenant == "" {
		return Principal{}, ErrMissingTenant
	}
	role, _ := claims[v.RoleClaim].(string)
	return principal(tenant, role), nil
}

// SignHS256 issues a token for claims. Used by tooling and tests.
func SignHS256(secret string, claims map[string]any) (string, error) {
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	input := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return input + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return nil
}

func principal(tenant, role string) Principal {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = RoleUser
	}
	return Principal{Tenant: tenant, Role: role}
}
