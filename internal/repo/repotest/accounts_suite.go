// Package repotest holds the behaviour every account store must share, run against each backend.
package repotest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewStore returns an empty store. Each call must be isolated from the previous one.
type NewStore func(t *testing.T) accounts.Store

func RunAccountStore(t *testing.T, newStore NewStore) {
	t.Helper()

	t.Run("create and fetch", func(t *testing.T) { testCreateAndFetch(t, newStore(t)) })
	t.Run("duplicate email", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("single admin", func(t *testing.T) { testSingleAdmin(t, newStore(t)) })
	t.Run("count by role", func(t *testing.T) { testCountByRole(t, newStore(t)) })
	t.Run("consume token", func(t *testing.T) { testConsumeToken(t, newStore(t)) })
	t.Run("consume expired token", func(t *testing.T) { testConsumeExpired(t, newStore(t)) })
	t.Run("consume unknown token", func(t *testing.T) { testConsumeUnknown(t, newStore(t)) })
	t.Run("replace token", func(t *testing.T) { testReplaceToken(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("concurrent consume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("concurrent admin create", func(t *testing.T) { testConcurrentAdmin(t, newStore(t)) })
}

// base sits ahead of the wall clock so backends that expire keys natively keep the token
// keys alive; expiry decisions are made against the explicit now passed to the store.
var base = time.Now().UTC().Truncate(time.Millisecond).Add(time.Hour)

func newAccount(email string, role account.Role, token string, expiry time.Time) account.Account {
	a := account.Account{
		ID:           uuid.NewString(),
		Username:     "user-" + email,
		Email:        email,
		PasswordHash: "$2a$10$hash",
		Role:         role,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	if token != "" {
		a.SetVerificationToken(token, expiry)
	}
	return a
}

func testCreateAndFetch(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	in := newAccount("a@example.com", account.RoleUser, "tok-a", base.Add(24*time.Hour))
	last4 := "4242"
	in.PaymentLast4 = &last4
	in.PremiumSince = &base
	require.NoError(t, s.Create(ctx, in))

	byID, err := s.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Email, byID.Email)
	assert.Equal(t, in.Username, byID.Username)
	assert.Equal(t, in.PasswordHash, byID.PasswordHash)
	assert.Equal(t, account.RoleUser, byID.Role)
	assert.False(t, byID.IsVerified)
	require.NotNil(t, byID.VerificationToken)
	assert.Equal(t, "tok-a", *byID.VerificationToken)
	require.NotNil(t, byID.VerificationTokenExpiry)
	assert.WithinDuration(t, base.Add(24*time.Hour), *byID.VerificationTokenExpiry, time.Millisecond)
	require.NotNil(t, byID.PaymentLast4)
	assert.Equal(t, "4242", *byID.PaymentLast4)
	require.NotNil(t, byID.PremiumSince)

	byEmail, err := s.GetByEmail(ctx, in.Email)
	require.NoError(t, err)
	assert.Equal(t, in.ID, byEmail.ID)

	_, err = s.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = s.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func testDuplicateEmail(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newAccount("dup@example.com", account.RoleUser, "", time.Time{})))
	err := s.Create(ctx, newAccount("dup@example.com", account.RoleUser, "", time.Time{}))
	assert.ErrorIs(t, err, account.ErrEmailTaken)
}

func testSingleAdmin(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newAccount("admin1@example.com", account.RoleAdmin, "", time.Time{})))
	err := s.Create(ctx, newAccount("admin2@example.com", account.RoleAdmin, "", time.Time{}))
	assert.ErrorIs(t, err, account.ErrAdminExists)

	// the rejected email is still free
	require.NoError(t, s.Create(ctx, newAccount("admin2@example.com", account.RoleUser, "", time.Time{})))
}

func testCountByRole(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	n, err := s.CountByRole(ctx, account.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Create(ctx, newAccount("u1@example.com", account.RoleUser, "", time.Time{})))
	require.NoError(t, s.Create(ctx, newAccount("u2@example.com", account.RoleUser, "", time.Time{})))
	require.NoError(t, s.Create(ctx, newAccount("boss@example.com", account.RoleAdmin, "", time.Time{})))

	n, err = s.CountByRole(ctx, account.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountByRole(ctx, account.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testConsumeToken(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	in := newAccount("v@example.com", account.RoleUser, "tok-v", base.Add(time.Hour))
	require.NoError(t, s.Create(ctx, in))

	got, err := s.ConsumeVerificationToken(ctx, "tok-v", base)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.True(t, got.IsVerified)
	assert.Nil(t, got.VerificationToken)
	assert.Nil(t, got.VerificationTokenExpiry)

	stored, err := s.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.VerificationToken)

	_, err = s.ConsumeVerificationToken(ctx, "tok-v", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)
}

func testConsumeExpired(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	in := newAccount("late@example.com", account.RoleUser, "tok-late", base.Add(-time.Minute))
	require.NoError(t, s.Create(ctx, in))

	_, err := s.ConsumeVerificationToken(ctx, "tok-late", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	// expiry equal to now is already expired
	edge := newAccount("edge@example.com", account.RoleUser, "tok-edge", base)
	require.NoError(t, s.Create(ctx, edge))
	_, err = s.ConsumeVerificationToken(ctx, "tok-edge", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	stored, err := s.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
}

func testConsumeUnknown(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	_, err := s.ConsumeVerificationToken(ctx, "nope", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	_, err = s.ConsumeVerificationToken(ctx, "", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)
}

func testReplaceToken(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	in := newAccount("r@example.com", account.RoleUser, "tok-old", base.Add(time.Hour))
	require.NoError(t, s.Create(ctx, in))

	require.NoError(t, s.ReplaceVerificationToken(ctx, in.ID, "tok-new", base.Add(2*time.Hour)))

	_, err := s.ConsumeVerificationToken(ctx, "tok-old", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	got, err := s.ConsumeVerificationToken(ctx, "tok-new", base)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)

	// a resend that lost the race with verification must not put a token back
	err = s.ReplaceVerificationToken(ctx, in.ID, "tok-late", base.Add(3*time.Hour))
	assert.ErrorIs(t, err, account.ErrAlreadyVerified)

	stored, err := s.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.VerificationToken)
	assert.Nil(t, stored.VerificationTokenExpiry)

	_, err = s.ConsumeVerificationToken(ctx, "tok-late", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	err = s.ReplaceVerificationToken(ctx, uuid.NewString(), "tok-x", base.Add(time.Hour))
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func testDelete(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	in := newAccount("gone@example.com", account.RoleAdmin, "tok-gone", base.Add(time.Hour))
	require.NoError(t, s.Create(ctx, in))
	require.NoError(t, s.Delete(ctx, in.ID))

	_, err := s.GetByID(ctx, in.ID)
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = s.ConsumeVerificationToken(ctx, "tok-gone", base)
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	// email and admin slot are released
	require.NoError(t, s.Create(ctx, newAccount("gone@example.com", account.RoleAdmin, "", time.Time{})))

	assert.ErrorIs(t, s.Delete(ctx, uuid.NewString()), account.ErrNotFound)
}

func testConcurrentConsume(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newAccount("race@example.com", account.RoleUser, "tok-race", base.Add(time.Hour))))

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeVerificationToken(ctx, "tok-race", base); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testConcurrentAdmin(t *testing.T, s accounts.Store) {
	ctx := context.Background()

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := newAccount(uuid.NewString()+"@example.com", account.RoleAdmin, "", time.Time{})
			if err := s.Create(ctx, a); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	n, err := s.CountByRole(ctx, account.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
