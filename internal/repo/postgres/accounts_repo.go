package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	constraintEmail       = "accounts_email_uniq"
	constraintSingleAdmin = "accounts_single_admin_uniq"
)

const accountColumns = `id, username, email, password_hash, role, is_verified,
	verification_token, verification_token_expiry, payment_last4, premium_since,
	created_at, updated_at`

type AccountsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAccountsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AccountsRepo {
	return &AccountsRepo{
		pool: pool,
		prom: prom,
	}
}

func (repo *AccountsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *AccountsRepo) Create(ctx context.Context, a account.Account) error {
	err := repo.observe("accounts.create", func() error {
		_, e := repo.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
			a.ID, a.Username, a.Email, a.PasswordHash, string(a.Role), a.IsVerified,
			a.VerificationToken, a.VerificationTokenExpiry, a.PaymentLast4, a.PremiumSince,
			a.CreatedAt, a.UpdatedAt,
		)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case constraintEmail:
				return account.ErrEmailTaken
			case constraintSingleAdmin:
				return account.ErrAdminExists
			}
		}
		return err
	}

	return nil
}

func (repo *AccountsRepo) GetByID(ctx context.Context, id string) (account.Account, error) {
	var a account.Account

	err := repo.observe("accounts.get_by_id", func() error {
		row := repo.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
		var e error
		a, e = scanAccount(row)
		return e
	})

	return a, mapNoRows(err, account.ErrNotFound)
}

func (repo *AccountsRepo) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	var a account.Account

	err := repo.observe("accounts.get_by_email", func() error {
		row := repo.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
		var e error
		a, e = scanAccount(row)
		return e
	})

	return a, mapNoRows(err, account.ErrNotFound)
}

func (repo *AccountsRepo) CountByRole(ctx context.Context, role account.Role) (int, error) {
	var n int

	err := repo.observe("accounts.count_by_role", func() error {
		return repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE role = $1`, string(role)).Scan(&n)
	})

	return n, err
}

// ConsumeVerificationToken matches and clears the token in one statement, so two
// concurrent requests with the same token cannot both succeed.
func (repo *AccountsRepo) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (account.Account, error) {
	if token == "" {
		return account.Account{}, account.ErrInvalidToken
	}

	var a account.Account

	err := repo.observe("accounts.consume_verification_token", func() error {
		row := repo.pool.QueryRow(ctx, `
		UPDATE accounts
		SET is_verified = TRUE,
			verification_token = NULL,
			verification_token_expiry = NULL,
			updated_at = $2
		WHERE verification_token = $1
		  AND verification_token_expiry > $2
		RETURNING `+accountColumns, token, now.UTC())
		var e error
		a, e = scanAccount(row)
		return e
	})

	return a, mapNoRows(err, account.ErrInvalidToken)
}

func (repo *AccountsRepo) ReplaceVerificationToken(ctx context.Context, id, token string, expiry time.Time) error {
	var tag pgconn.CommandTag

	err := repo.observe("accounts.replace_verification_token", func() error {
		var e error
		tag, e = repo.pool.Exec(ctx, `
		UPDATE accounts
		SET verification_token = $2,
			verification_token_expiry = $3,
			updated_at = NOW()
		WHERE id = $1 AND is_verified = FALSE
	`, id, token, expiry.UTC())
		return e
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return repo.missOrVerified(ctx, id)
	}
	return nil
}

// missOrVerified explains why a guarded update touched no rows.
func (repo *AccountsRepo) missOrVerified(ctx context.Context, id string) error {
	var verified bool
	err := repo.pool.QueryRow(ctx, `SELECT is_verified FROM accounts WHERE id = $1`, id).Scan(&verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.ErrNotFound
	}
	if err != nil {
		return err
	}
	if verified {
		return account.ErrAlreadyVerified
	}
	return account.ErrNotFound
}

func (repo *AccountsRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag

	err := repo.observe("accounts.delete", func() error {
		var e error
		tag, e = repo.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
		return e
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (repo *AccountsRepo) Ping(ctx context.Context) error {
	return repo.pool.Ping(ctx)
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		a    account.Account
		role string
	)

	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&role,
		&a.IsVerified,
		&a.VerificationToken,
		&a.VerificationTokenExpiry,
		&a.PaymentLast4,
		&a.PremiumSince,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return account.Account{}, err
	}

	a.Role = account.Role(role)
	return a, nil
}

func mapNoRows(err error, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}
