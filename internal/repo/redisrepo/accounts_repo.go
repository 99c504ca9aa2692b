package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	account:<id>            JSON record
//	account:email:<email>   id (SETNX, uniqueness)
//	account:token:<token>   id, expires at the token expiry
//	account:admin           id of the single admin (SETNX)
//	accounts:role:<role>    set of ids
const (
	keyPrefix      = "account:"
	emailKeyPrefix = "account:email:"
	tokenKeyPrefix = "account:token:"
	adminKey       = "account:admin"
	roleSetPrefix  = "accounts:role:"

	maxWatchRetries = 3
)

type record struct {
	ID                      string     `json:"id"`
	Username                string     `json:"username"`
	Email                   string     `json:"email"`
	PasswordHash            string     `json:"passwordHash"`
	Role                    string     `json:"role"`
	IsVerified              bool       `json:"isVerified"`
	VerificationToken       *string    `json:"verificationToken,omitempty"`
	VerificationTokenExpiry *time.Time `json:"verificationTokenExpiry,omitempty"`
	PaymentLast4            *string    `json:"paymentLast4,omitempty"`
	PremiumSince            *time.Time `json:"premiumSince,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

func toRecord(a account.Account) record {
	return record{
		ID:                      a.ID,
		Username:                a.Username,
		Email:                   a.Email,
		PasswordHash:            a.PasswordHash,
		Role:                    string(a.Role),
		IsVerified:              a.IsVerified,
		VerificationToken:       a.VerificationToken,
		VerificationTokenExpiry: a.VerificationTokenExpiry,
		PaymentLast4:            a.PaymentLast4,
		PremiumSince:            a.PremiumSince,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
	}
}

func (r record) toAccount() account.Account {
	return account.Account{
		ID:                      r.ID,
		Username:                r.Username,
		Email:                   r.Email,
		PasswordHash:            r.PasswordHash,
		Role:                    account.Role(r.Role),
		IsVerified:              r.IsVerified,
		VerificationToken:       r.VerificationToken,
		VerificationTokenExpiry: r.VerificationTokenExpiry,
		PaymentLast4:            r.PaymentLast4,
		PremiumSince:            r.PremiumSince,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

type AccountsRepo struct {
	rdb  *redis.Client
	prom *observability.Prom

	// beforeCommit runs inside the WATCH callback just before MULTI/EXEC. Tests use it
	// to interleave writes.
	beforeCommit func(ctx context.Context, id string)
}

func NewAccountsRepo(rdb *redis.Client, prom *observability.Prom) *AccountsRepo {
	return &AccountsRepo{rdb: rdb, prom: prom}
}

func (repo *AccountsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB("redis."+op, fn)
	}
	return fn()
}

func (repo *AccountsRepo) Create(ctx context.Context, a account.Account) error {
	payload, err := json.Marshal(toRecord(a))
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	emailKey := emailKeyPrefix + a.Email

	return repo.observe("accounts.create", func() error {
		ok, err := repo.rdb.SetNX(ctx, emailKey, a.ID, 0).Result()
		if err != nil {
			return err
		}
		if !ok {
			return account.ErrEmailTaken
		}

		if a.Role == account.RoleAdmin {
			ok, err = repo.rdb.SetNX(ctx, adminKey, a.ID, 0).Result()
			if err != nil || !ok {
				repo.rdb.Del(ctx, emailKey)
				if err != nil {
					return err
				}
				return account.ErrAdminExists
			}
		}

		_, err = repo.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyPrefix+a.ID, payload, 0)
			pipe.SAdd(ctx, roleSetPrefix+string(a.Role), a.ID)
			if a.VerificationToken != nil && a.VerificationTokenExpiry != nil {
				setTokenKey(ctx, pipe, *a.VerificationToken, a.ID, *a.VerificationTokenExpiry)
			}
			return nil
		})
		if err != nil {
			// release the slots claimed above
			repo.rdb.Del(ctx, emailKey)
			if a.Role == account.RoleAdmin {
				repo.rdb.Del(ctx, adminKey)
			}
			return err
		}

		return nil
	})
}

func (repo *AccountsRepo) GetByID(ctx context.Context, id string) (account.Account, error) {
	var rec record

	err := repo.observe("accounts.get_by_id", func() error {
		var e error
		rec, e = repo.load(ctx, repo.rdb, id)
		return e
	})
	if err != nil {
		return account.Account{}, mapNil(err, account.ErrNotFound)
	}

	return rec.toAccount(), nil
}

func (repo *AccountsRepo) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	var rec record

	err := repo.observe("accounts.get_by_email", func() error {
		id, e := repo.rdb.Get(ctx, emailKeyPrefix+email).Result()
		if e != nil {
			return e
		}
		rec, e = repo.load(ctx, repo.rdb, id)
		return e
	})
	if err != nil {
		return account.Account{}, mapNil(err, account.ErrNotFound)
	}

	return rec.toAccount(), nil
}

func (repo *AccountsRepo) CountByRole(ctx context.Context, role account.Role) (int, error) {
	var n int64

	err := repo.observe("accounts.count_by_role", func() error {
		var e error
		n, e = repo.rdb.SCard(ctx, roleSetPrefix+string(role)).Result()
		return e
	})

	return int(n), err
}

// ConsumeVerificationToken resolves the token key, then flips the record and deletes the
// token key in one WATCH/MULTI block. A failed transaction leaves both untouched.
func (repo *AccountsRepo) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (account.Account, error) {
	if token == "" {
		return account.Account{}, account.ErrInvalidToken
	}

	tokenKey := tokenKeyPrefix + token
	var out account.Account

	err := repo.observe("accounts.consume_verification_token", func() error {
		id, err := repo.rdb.Get(ctx, tokenKey).Result()
		if err != nil {
			return err
		}

		return repo.update(ctx, id, func(rec *record) error {
			a := rec.toAccount()
			if a.VerificationToken == nil || *a.VerificationToken != token || !a.HasValidToken(now) {
				return account.ErrInvalidToken
			}

			a.MarkVerified(now)
			*rec = toRecord(a)
			out = a
			return nil
		}, func(pipe redis.Pipeliner) {
			pipe.Del(ctx, tokenKey)
		}, tokenKey)
	})

	if err != nil {
		return account.Account{}, mapNil(err, account.ErrInvalidToken)
	}
	return out, nil
}

func (repo *AccountsRepo) ReplaceVerificationToken(ctx context.Context, id, token string, expiry time.Time) error {
	var previous *string

	err := repo.observe("accounts.replace_verification_token", func() error {
		return repo.update(ctx, id, func(rec *record) error {
			if rec.IsVerified {
				return account.ErrAlreadyVerified
			}
			previous = rec.VerificationToken

			a := rec.toAccount()
			a.SetVerificationToken(token, expiry)
			a.UpdatedAt = time.Now().UTC()
			*rec = toRecord(a)
			return nil
		}, func(pipe redis.Pipeliner) {
			if previous != nil {
				pipe.Del(ctx, tokenKeyPrefix+*previous)
			}
			setTokenKey(ctx, pipe, token, id, expiry)
		})
	})

	return mapNil(err, account.ErrNotFound)
}

func (repo *AccountsRepo) Delete(ctx context.Context, id string) error {
	err := repo.observe("accounts.delete", func() error {
		rec, err := repo.load(ctx, repo.rdb, id)
		if err != nil {
			return err
		}

		_, err = repo.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keyPrefix+id, emailKeyPrefix+rec.Email)
			pipe.SRem(ctx, roleSetPrefix+rec.Role, id)
			if rec.VerificationToken != nil {
				pipe.Del(ctx, tokenKeyPrefix+*rec.VerificationToken)
			}
			if rec.Role == string(account.RoleAdmin) {
				pipe.Del(ctx, adminKey)
			}
			return nil
		})
		return err
	})

	return mapNil(err, account.ErrNotFound)
}

func (repo *AccountsRepo) Ping(ctx context.Context) error {
	return repo.rdb.Ping(ctx).Err()
}

func (repo *AccountsRepo) load(ctx context.Context, c redis.Cmdable, id string) (record, error) {
	raw, err := c.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return record{}, err
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("decode account %s: %w", id, err)
	}
	return rec, nil
}

// update applies mutate to the stored record inside an optimistic WATCH transaction.
// extra queues additional commands in the same MULTI block; watch adds keys to WATCH.
func (repo *AccountsRepo) update(ctx context.Context, id string, mutate func(*record) error, extra func(redis.Pipeliner), watch ...string) error {
	key := keyPrefix + id
	keys := append([]string{key}, watch...)

	txf := func(tx *redis.Tx) error {
		rec, err := repo.load(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := mutate(&rec); err != nil {
			return err
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode account: %w", err)
		}

		if repo.beforeCommit != nil {
			repo.beforeCommit(ctx, id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = repo.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func setTokenKey(ctx context.Context, pipe redis.Pipeliner, token, id string, expiry time.Time) {
	k := tokenKeyPrefix + token
	pipe.Set(ctx, k, id, 0)
	pipe.PExpireAt(ctx, k, expiry)
}

func mapNil(err error, target error) error {
	if errors.Is(err, redis.Nil) {
		return target
	}
	return err
}
