package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/google/uuid"
)

// AdminStore is the subset of the credential store the seed needs.
type AdminStore interface {
	CountByRole(ctx context.Context, role account.Role) (int, error)
	Create(ctx context.Context, a account.Account) error
}

// EnsureAdminAccount creates a verified admin from ADMIN_EMAIL/ADMIN_PASSWORD when no admin exists yet.
// It reports whether an account was created.
func EnsureAdminAccount(ctx context.Context, store AdminStore, cfg config.Config) (bool, error) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return false, nil
	}

	n, err := store.CountByRole(ctx, account.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	hash, err := security.HashPassword(cfg.AdminPassword)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()

	a := account.Account{
		ID:           uuid.NewString(),
		Username:     cfg.AdminName,
		Email:        account.NormalizeEmail(cfg.AdminEmail),
		PasswordHash: hash,
		Role:         account.RoleAdmin,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = store.Create(ctx, a)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, account.ErrAdminExists), errors.Is(err, account.ErrEmailTaken):
		// lost a race with another instance, or the email belongs to a regular account
		return false, nil
	default:
		return false, fmt.Errorf("create admin: %w", err)
	}
}
