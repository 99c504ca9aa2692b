// Package accounts implements the registration, verification, resend and login workflows.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/notifications"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the credential store every backend implements.
type Store interface {
	Create(ctx context.Context, a account.Account) error
	GetByID(ctx context.Context, id string) (account.Account, error)
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	CountByRole(ctx context.Context, role account.Role) (int, error)
	// ConsumeVerificationToken atomically verifies the account holding token if it is unexpired at now.
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (account.Account, error)
	ReplaceVerificationToken(ctx context.Context, id, token string, expiry time.Time) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type VerificationTokens interface {
	IssueVerificationToken() (security.VerificationToken, error)
}

type SessionTokens interface {
	IssueSessionToken(userID, role string) (string, error)
}

type Metrics interface {
	ObserveWorkflow(workflow, result string)
}

const minCardLength = 4

type Service struct {
	store       Store
	notifier    notifications.Notifier
	tokens      VerificationTokens
	sessions    SessionTokens
	frontendURL string

	log     *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
	now     func() time.Time

	hashPassword  func(string) (string, error)
	checkPassword func(hash, plain string) error
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(p *observability.Prom) Option {
	return func(s *Service) {
		if p != nil {
			s.metrics = p
		}
	}
}

// WithClock replaces the time source used for token expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	store Store,
	notifier notifications.Notifier,
	tokens VerificationTokens,
	sessions SessionTokens,
	frontendURL string,
	opts ...Option,
) *Service {
	s := &Service{
		store:         store,
		notifier:      notifier,
		tokens:        tokens,
		sessions:      sessions,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		log:           slog.Default(),
		metrics:       noopMetrics{},
		tracer:        otel.Tracer("github.com/geocoder89/accounthub/internal/accounts"),
		now:           time.Now,
		hashPassword:  security.HashPassword,
		checkPassword: security.CheckPassword,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	Role       string
	CardNumber string
}

type RegisterResult struct {
	ID    string
	Email string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (res RegisterResult, err error) {
	ctx, end := s.start(ctx, "register")
	defer func() { end(err) }()

	email := account.NormalizeEmail(in.Email)

	switch _, err := s.store.GetByEmail(ctx, email); {
	case err == nil:
		return RegisterResult{}, account.ErrEmailTaken
	case !errors.Is(err, account.ErrNotFound):
		return RegisterResult{}, fmt.Errorf("lookup email: %w", err)
	}

	role := account.ParseRole(in.Role)
	if role == account.RoleAdmin {
		n, err := s.store.CountByRole(ctx, account.RoleAdmin)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("count admins: %w", err)
		}
		if n > 0 {
			return RegisterResult{}, account.ErrAdminExists
		}
	}

	now := s.now().UTC()

	a := account.Account{
		ID:        uuid.NewString(),
		Username:  strings.TrimSpace(in.Username),
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if role == account.RolePremium {
		last4, ok := cardLast4(in.CardNumber)
		if !ok {
			return RegisterResult{}, account.ErrInvalidCard
		}
		since := now
		a.PaymentLast4 = &last4
		a.PremiumSince = &since
	}

	a.PasswordHash, err = s.hashPassword(in.Password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	tok, err := s.tokens.IssueVerificationToken()
	if err != nil {
		return RegisterResult{}, err
	}
	a.SetVerificationToken(tok.Token, tok.ExpiresAt)

	if err := s.store.Create(ctx, a); err != nil {
		return RegisterResult{}, fmt.Errorf("create account: %w", err)
	}

	if err := s.sendVerification(ctx, a, tok.Token); err != nil {
		s.log.ErrorContext(ctx, "verification email failed, removing account",
			"account_id", a.ID, "email", a.Email, observability.Err(err))

		if derr := s.store.Delete(context.WithoutCancel(ctx), a.ID); derr != nil {
			s.log.ErrorContext(ctx, "compensating delete failed",
				"account_id", a.ID, observability.Err(derr))
		}
		return RegisterResult{}, fmt.Errorf("%w: %w", account.ErrDeliveryFailed, err)
	}

	s.log.InfoContext(ctx, "account registered", "account_id", a.ID, "email", a.Email, "role", string(a.Role))

	return RegisterResult{ID: a.ID, Email: a.Email}, nil
}

func (s *Service) Verify(ctx context.Context, token string) (a account.Account, err error) {
	ctx, end := s.start(ctx, "verify")
	defer func() { end(err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return account.Account{}, account.ErrTokenRequired
	}

	a, err = s.store.ConsumeVerificationToken(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, account.ErrInvalidToken) {
			return account.Account{}, account.ErrInvalidToken
		}
		return account.Account{}, fmt.Errorf("consume verification token: %w", err)
	}

	s.log.InfoContext(ctx, "email verified", "account_id", a.ID, "email", a.Email)
	return a, nil
}

// Resend issues a fresh token and mails it. An unknown email returns nil without sending
// anything so callers cannot tell whether the account exists.
func (s *Service) Resend(ctx context.Context, email string) (err error) {
	ctx, end := s.start(ctx, "resend")
	defer func() { end(err) }()

	email = account.NormalizeEmail(email)
	if email == "" {
		return account.ErrEmailRequired
	}

	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.log.InfoContext(ctx, "resend requested for unknown email")
			return nil
		}
		return fmt.Errorf("lookup email: %w", err)
	}

	if a.IsVerified {
		return account.ErrAlreadyVerified
	}

	tok, err := s.tokens.IssueVerificationToken()
	if err != nil {
		return err
	}

	if err := s.store.ReplaceVerificationToken(ctx, a.ID, tok.Token, tok.ExpiresAt); err != nil {
		return fmt.Errorf("replace verification token: %w", err)
	}

	// the new token stays in place even if delivery fails
	if err := s.sendVerification(ctx, a, tok.Token); err != nil {
		s.log.ErrorContext(ctx, "verification email resend failed",
			"account_id", a.ID, "email", a.Email, observability.Err(err))
		return fmt.Errorf("%w: %w", account.ErrDeliveryFailed, err)
	}

	s.log.InfoContext(ctx, "verification email resent", "account_id", a.ID, "email", a.Email)
	return nil
}

type LoginInput struct {
	Email    string
	Password string
	Role     string
}

type LoginResult struct {
	Token   string
	Account account.PublicAccount
}

func (s *Service) Login(ctx context.Context, in LoginInput) (res LoginResult, err error) {
	ctx, end := s.start(ctx, "login")
	defer func() { end(err) }()

	email := account.NormalizeEmail(in.Email)

	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return LoginResult{}, account.ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup email: %w", err)
	}

	if !a.IsVerified {
		s.log.InfoContext(ctx, "login denied", "account_id", a.ID, "reason", "unverified")
		return LoginResult{}, account.ErrNotVerified
	}

	if err := s.checkPassword(a.PasswordHash, in.Password); err != nil {
		return LoginResult{}, account.ErrInvalidCredentials
	}

	if err := roleGate(requestedRole(in.Role), a.Role); err != nil {
		s.log.InfoContext(ctx, "login denied", "account_id", a.ID, "reason", "role_mismatch")
		return LoginResult{}, err
	}

	token, err := s.sessions.IssueSessionToken(a.ID, string(a.Role))
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}

	return LoginResult{Token: token, Account: a.Public()}, nil
}

// Profile returns the public projection of an authenticated subject.
func (s *Service) Profile(ctx context.Context, id string) (account.PublicAccount, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return account.PublicAccount{}, err
	}
	return a.Public(), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// VerificationLink builds the front-end URL embedded in verification emails.
func (s *Service) VerificationLink(token, email string) string {
	return fmt.Sprintf("%s/verify.html?token=%s&email=%s",
		s.frontendURL, url.QueryEscape(token), url.QueryEscape(email))
}

func (s *Service) sendVerification(ctx context.Context, a account.Account, token string) error {
	return s.notifier.SendVerificationEmail(ctx, notifications.VerificationEmailInput{
		Email: a.Email,
		Name:  a.Username,
		Link:  s.VerificationLink(token, a.Email),
	})
}

// start opens a span for a workflow and returns a func that records its outcome.
func (s *Service) start(ctx context.Context, workflow string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "accounts."+workflow)

	return ctx, func(err error) {
		result := workflowResult(err)
		span.SetAttributes(attribute.String("accounts.result", result))
		if err != nil && account.KindOf(err) == account.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveWorkflow(workflow, result)
	}
}

func workflowResult(err error) string {
	if err == nil {
		return "ok"
	}
	switch account.KindOf(err) {
	case account.KindConflict:
		return "conflict"
	case account.KindBadRequest:
		return "bad_request"
	case account.KindUnauthorized:
		return "unauthorized"
	case account.KindForbidden:
		return "forbidden"
	case account.KindNotFound:
		return "not_found"
	default:
		return "error"
	}
}

func requestedRole(s string) account.Role {
	s = strings.TrimSpace(s)
	if s == "" {
		return account.RoleUser
	}
	return account.Role(s)
}

// roleGate is strict only around admin: admins must ask for admin, and only admins may.
func roleGate(requested, stored account.Role) error {
	switch {
	case requested == account.RoleAdmin && stored != account.RoleAdmin:
		return account.ErrNotAdmin
	case requested == account.RoleUser && stored == account.RoleAdmin:
		return account.ErrAdminLogin
	default:
		return nil
	}
}

func cardLast4(card string) (string, bool) {
	r := []rune(strings.TrimSpace(card))
	if len(r) < minCardLength {
		return "", false
	}
	return string(r[len(r)-minCardLength:]), true
}

type noopMetrics struct{}

func (noopMetrics) ObserveWorkflow(string, string) {}
