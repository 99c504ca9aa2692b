package db

import (
	"context"
	"testing"

	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/repo/memory"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAdminAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAccountsRepo()
	cfg := config.Config{AdminEmail: " Root@Example.com", AdminPassword: "rootpass", AdminName: "root"}

	created, err := EnsureAdminAccount(ctx, store, cfg)
	require.NoError(t, err)
	assert.True(t, created)

	a, err := store.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.RoleAdmin, a.Role)
	assert.True(t, a.IsVerified)
	assert.Nil(t, a.VerificationToken)
	assert.NoError(t, security.CheckPassword(a.PasswordHash, "rootpass"))

	created, err = EnsureAdminAccount(ctx, store, cfg)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := store.CountByRole(ctx, account.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnsureAdminAccountSkippedWithoutCredentials(t *testing.T) {
	store := memory.NewAccountsRepo()

	created, err := EnsureAdminAccount(context.Background(), store, config.Config{AdminEmail: "root@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
}
