package notifications

import (
	"context"
	"errors"
)

var ErrMissingRecipient = errors.New("verification email requires a recipient")

// VerificationEmailInput carries everything a gateway needs to deliver one verification link.
type VerificationEmailInput struct {
	Email string
	Name  string
	Link  string
}

func (in VerificationEmailInput) validate() error {
	if in.Email == "" {
		return ErrMissingRecipient
	}
	return nil
}

// Notifier delivers verification emails. Any returned error means nothing was delivered.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, input VerificationEmailInput) error
}
