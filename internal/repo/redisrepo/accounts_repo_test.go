package redisrepo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/repo/repotest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*AccountsRepo, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := NewClient(Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	prom := observability.NewProm(prometheus.NewRegistry())
	return NewAccountsRepo(rdb, prom), mr
}

func TestAccountsRepo(t *testing.T) {
	repotest.RunAccountStore(t, func(t *testing.T) accounts.Store {
		repo, _ := setupRepo(t)
		return repo
	})
}

func TestCreateWritesKeyLayout(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC()
	a := account.Account{
		ID:           "acc-1",
		Username:     "ann",
		Email:        "ann@example.com",
		PasswordHash: "hash",
		Role:         account.RoleAdmin,
	}
	a.SetVerificationToken("tok-1", expiry)
	require.NoError(t, repo.Create(ctx, a))

	id, err := mr.Get("account:email:ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id)

	id, err = mr.Get("account:admin")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id)

	id, err = mr.Get("account:token:tok-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id)
	assert.Greater(t, mr.TTL("account:token:tok-1"), time.Duration(0))

	raw, err := mr.Get("account:acc-1")
	require.NoError(t, err)
	var rec record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "hash", rec.PasswordHash)
	assert.Equal(t, "admin", rec.Role)
}

func TestConsumeAfterKeyExpiry(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()

	a := account.Account{ID: "acc-2", Email: "bo@example.com", Role: account.RoleUser}
	a.SetVerificationToken("tok-2", time.Now().Add(time.Minute))
	require.NoError(t, repo.Create(ctx, a))

	mr.FastForward(2 * time.Minute)

	_, err := repo.ConsumeVerificationToken(ctx, "tok-2", time.Now())
	assert.ErrorIs(t, err, account.ErrInvalidToken)
}

func TestConsumeKeepsTokenWhenTransactionFails(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()

	a := account.Account{ID: "acc-3", Email: "cy@example.com", Role: account.RoleUser}
	a.SetVerificationToken("tok-3", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, a))

	// a second client rewrites the record on every attempt so EXEC never commits
	other := NewClient(Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	attempts := 0
	repo.beforeCommit = func(ctx context.Context, id string) {
		attempts++
		raw, err := other.Get(ctx, "account:"+id).Result()
		require.NoError(t, err)
		require.NoError(t, other.Set(ctx, "account:"+id, raw, 0).Err())
	}

	_, err := repo.ConsumeVerificationToken(ctx, "tok-3", time.Now())
	require.ErrorIs(t, err, redis.TxFailedErr)
	assert.Equal(t, maxWatchRetries, attempts)

	assert.True(t, mr.Exists("account:token:tok-3"))
	stored, err := repo.GetByID(ctx, "acc-3")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	require.NotNil(t, stored.VerificationToken)
	assert.Equal(t, "tok-3", *stored.VerificationToken)

	repo.beforeCommit = nil

	got, err := repo.ConsumeVerificationToken(ctx, "tok-3", time.Now())
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	assert.False(t, mr.Exists("account:token:tok-3"))
}

func TestConsumeLosesToConcurrentConsumer(t *testing.T) {
	repo, mr := setupRepo(t)
	ctx := context.Background()

	a := account.Account{ID: "acc-4", Email: "di@example.com", Role: account.RoleUser}
	a.SetVerificationToken("tok-4", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, a))

	otherClient := NewClient(Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = otherClient.Close() })
	other := NewAccountsRepo(otherClient, nil)

	// the first attempt is beaten by another caller that verifies the account
	raced := false
	repo.beforeCommit = func(ctx context.Context, id string) {
		if raced {
			return
		}
		raced = true
		_, err := other.ConsumeVerificationToken(ctx, "tok-4", time.Now())
		require.NoError(t, err)
	}

	_, err := repo.ConsumeVerificationToken(ctx, "tok-4", time.Now())
	assert.ErrorIs(t, err, account.ErrInvalidToken)

	stored, err := repo.GetByID(ctx, "acc-4")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.VerificationToken)
}

func TestPingFailsWhenServerDown(t *testing.T) {
	repo, mr := setupRepo(t)
	require.NoError(t, repo.Ping(context.Background()))

	mr.Close()
	assert.Error(t, repo.Ping(context.Background()))
}
