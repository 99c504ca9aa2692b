package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/account"
)

// AccountsRepo is an in-process credential store. Uniqueness and the single-admin rule are
// enforced under the write lock, mirroring the constraints of the database-backed stores.
type AccountsRepo struct {
	mu      sync.RWMutex
	items   map[string]account.Account // id -> account
	byEmail map[string]string          // email -> id
}

func NewAccountsRepo() *AccountsRepo {
	return &AccountsRepo{
		items:   make(map[string]account.Account),
		byEmail: make(map[string]string),
	}
}

func (r *AccountsRepo) Create(_ context.Context, a account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[a.Email]; taken {
		return account.ErrEmailTaken
	}

	if a.Role == account.RoleAdmin {
		for _, existing := range r.items {
			if existing.Role == account.RoleAdmin {
				return account.ErrAdminExists
			}
		}
	}

	r.items[a.ID] = clone(a)
	r.byEmail[a.Email] = a.ID
	return nil
}

func (r *AccountsRepo) GetByID(_ context.Context, id string) (account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return clone(a), nil
}

func (r *AccountsRepo) GetByEmail(_ context.Context, email string) (account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return clone(r.items[id]), nil
}

func (r *AccountsRepo) CountByRole(_ context.Context, role account.Role) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.items {
		if a.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *AccountsRepo) ConsumeVerificationToken(_ context.Context, token string, now time.Time) (account.Account, error) {
	if token == "" {
		return account.Account{}, account.ErrInvalidToken
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.items {
		if a.VerificationToken == nil || *a.VerificationToken != token {
			continue
		}
		if !a.HasValidToken(now) {
			return account.Account{}, account.ErrInvalidToken
		}

		a.MarkVerified(now)
		r.items[id] = a
		return clone(a), nil
	}

	return account.Account{}, account.ErrInvalidToken
}

func (r *AccountsRepo) ReplaceVerificationToken(_ context.Context, id, token string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return account.ErrNotFound
	}
	if a.IsVerified {
		return account.ErrAlreadyVerified
	}

	a.SetVerificationToken(token, expiry)
	a.UpdatedAt = time.Now().UTC()
	r.items[id] = a
	return nil
}

func (r *AccountsRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return account.ErrNotFound
	}

	delete(r.items, id)
	delete(r.byEmail, a.Email)
	return nil
}

func (r *AccountsRepo) Ping(context.Context) error { return nil }

// clone copies the pointer fields so callers never share state with the map.
func clone(a account.Account) account.Account {
	out := a
	if a.VerificationToken != nil {
		v := *a.VerificationToken
		out.VerificationToken = &v
	}
	if a.VerificationTokenExpiry != nil {
		v := *a.VerificationTokenExpiry
		out.VerificationTokenExpiry = &v
	}
	if a.PaymentLast4 != nil {
		v := *a.PaymentLast4
		out.PaymentLast4 = &v
	}
	if a.PremiumSince != nil {
		v := *a.PremiumSince
		out.PremiumSince = &v
	}
	return out
}
