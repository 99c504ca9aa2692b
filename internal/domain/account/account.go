package account

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RolePremium   Role = "premium"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RolePremium, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole falls back to RoleUser for anything that is not a recognized role.
func ParseRole(s string) Role {
	r := Role(strings.TrimSpace(s))
	if r.IsValid() {
		return r
	}
	return RoleUser
}

type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // never expose hash in JSON
	Role         Role   `json:"role"`
	IsVerified   bool   `json:"isVerified"`

	// token and expiry are set together and cleared together
	VerificationToken       *string    `json:"-"`
	VerificationTokenExpiry *time.Time `json:"-"`

	PaymentLast4 *string    `json:"paymentLast4,omitempty"`
	PremiumSince *time.Time `json:"premiumSince,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicAccount is the projection returned to clients.
type PublicAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:       a.ID,
		Username: a.Username,
		Email:    a.Email,
		Role:     a.Role,
	}
}

// HasValidToken reports whether the account holds a token that is still usable at now.
func (a Account) HasValidToken(now time.Time) bool {
	if a.VerificationToken == nil || a.VerificationTokenExpiry == nil {
		return false
	}
	return a.VerificationTokenExpiry.After(now)
}

// SetVerificationToken replaces the token pair.
func (a *Account) SetVerificationToken(token string, expiry time.Time) {
	t := token
	e := expiry.UTC()
	a.VerificationToken = &t
	a.VerificationTokenExpiry = &e
}

// MarkVerified flips the verification flag and drops the token pair.
func (a *Account) MarkVerified(now time.Time) {
	a.IsVerified = true
	a.VerificationToken = nil
	a.VerificationTokenExpiry = nil
	a.UpdatedAt = now.UTC()
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
