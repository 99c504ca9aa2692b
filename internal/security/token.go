package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// 32 bytes = 256 bits of entropy, hex encoded to 64 chars.
	verificationTokenBytes = 32

	DefaultVerificationTTL = 24 * time.Hour
)

type VerificationToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenIssuer mints single-use email verification tokens.
// Safe for concurrent use: crypto/rand needs no coordination.
type TokenIssuer struct {
	ttl time.Duration
	now func() time.Time
}

func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	return &TokenIssuer{ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) IssueVerificationToken() (VerificationToken, error) {
	b := make([]byte, verificationTokenBytes)

	if _, err := rand.Read(b); err != nil {
		return VerificationToken{}, fmt.Errorf("generate verification token: %w", err)
	}

	return VerificationToken{
		Token:     hex.EncodeToString(b),
		ExpiresAt: i.now().UTC().Add(i.ttl),
	}, nil
}
