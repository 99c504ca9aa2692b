package account

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"user", RoleUser},
		{"premium", RolePremium},
		{"moderator", RoleModerator},
		{"admin", RoleAdmin},
		{"", RoleUser},
		{"superuser", RoleUser},
		{"ADMIN", RoleUser},
	}

	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Fatalf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  A@X.Com "); got != "a@x.com" {
		t.Fatalf("got %q", got)
	}
}

func TestHasValidToken(t *testing.T) {
	now := time.Now()
	var a Account

	if a.HasValidToken(now) {
		t.Fatalf("account without token must not have a valid token")
	}

	a.SetVerificationToken("tok", now.Add(time.Hour))
	if !a.HasValidToken(now) {
		t.Fatalf("expected valid token")
	}

	if a.HasValidToken(now.Add(2 * time.Hour)) {
		t.Fatalf("expired token must be invalid")
	}

	a.SetVerificationToken("tok", now)
	if a.HasValidToken(now) {
		t.Fatalf("token expiring exactly now must be invalid")
	}
}

func TestMarkVerifiedClearsTokenPair(t *testing.T) {
	now := time.Now()
	a := Account{}
	a.SetVerificationToken("tok", now.Add(time.Hour))

	a.MarkVerified(now)

	if !a.IsVerified {
		t.Fatalf("expected verified")
	}
	if a.VerificationToken != nil || a.VerificationTokenExpiry != nil {
		t.Fatalf("expected token pair cleared, got %v %v", a.VerificationToken, a.VerificationTokenExpiry)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrEmailTaken, KindConflict},
		{ErrInvalidCard, KindBadRequest},
		{ErrInvalidToken, KindBadRequest},
		{ErrAlreadyVerified, KindBadRequest},
		{ErrInvalidCredentials, KindUnauthorized},
		{ErrNotVerified, KindForbidden},
		{ErrAdminExists, KindForbidden},
		{ErrNotAdmin, KindForbidden},
		{ErrAdminLogin, KindForbidden},
		{ErrDeliveryFailed, KindInternal},
		{fmt.Errorf("create: %w", ErrEmailTaken), KindConflict},
		{errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Fatalf("KindOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
