package account

import "errors"

var (
	ErrNotFound = errors.New("account not found")

	// Conflict
	ErrEmailTaken = errors.New("email already registered")

	// BadRequest
	ErrInvalidCard     = errors.New("invalid card info")
	ErrTokenRequired   = errors.New("verification token is required")
	ErrInvalidToken    = errors.New("invalid or expired verification token")
	ErrEmailRequired   = errors.New("email is required")
	ErrAlreadyVerified = errors.New("this email is already verified")

	// Unauthorized
	ErrInvalidCredentials = errors.New("invalid email or password")

	// Forbidden
	ErrAdminExists = errors.New("an admin account already exists")
	ErrNotVerified = errors.New("please verify your email before logging in")
	ErrNotAdmin    = errors.New("this account is not an admin account")
	ErrAdminLogin  = errors.New("admin accounts must login as admin")

	// Internal
	ErrDeliveryFailed = errors.New("failed to send verification email")
)

type Kind int

const (
	KindInternal Kind = iota
	KindConflict
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
)

// KindOf classifies err into the error taxonomy. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrEmailTaken):
		return KindConflict
	case errors.Is(err, ErrInvalidCard),
		errors.Is(err, ErrTokenRequired),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrEmailRequired),
		errors.Is(err, ErrAlreadyVerified):
		return KindBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	case errors.Is(err, ErrAdminExists),
		errors.Is(err, ErrNotVerified),
		errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrAdminLogin):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
