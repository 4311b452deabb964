package auth

import (
	"errors"
	"testing"
	"time"
)

func TestVerifyDevToken(t *testing.T) {
	v := NewVerifier("dev", "")
	p, err := v.Verify("acme:Admin")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Tenant != "acme" || !p.IsAdmin() {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p, _ := v.Verify("acme:"); p.Role != RoleUser {
		t.Fatalf("empty role must default to user, got %q", p.Role)
	}
	if _, err := v.Verify("acme"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("want malformed token, got %v", err)
	}
}

func TestVerifyHS256(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	v.now = func() time.Time { return time.Unix(1_000, 0) }

	tok, err := SignHS256("s3cret", map[string]any{"tenant": "acme", "role": "admin", "exp": 2_000})
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil || p.Tenant != "acme" || !p.IsAdmin() {
		t.Fatalf("unexpected verify result %+v %v", p, err)
	}

	forged, _ := SignHS256("other", map[string]any{"tenant": "acme"})
	if _, err := v.Verify(forged); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want bad signature, got %v", err)
	}
	expired, _ := SignHS256("s3cret", map[string]any{"tenant": "acme", "exp": 999})
	if _, err := v.Verify(expired); !errors.Is(err, ErrExpired) {
		t.Fatalf("want expired, got %v", err)
	}
	noTenant, _ := SignHS256("s3cret", map[string]any{"role": "admin"})
	if _, err := v.Verify(noTenant); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("want missing tenant, got %v", err)
	}
	if _, err := v.Verify("a.b"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("want malformed, got %v", err)
	}
}
