package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
)

type domainError struct {
	err     error
	code    string
	message string
}

// Messages are what the browser client shows. Credential failures share one message on purpose.
var domainErrors = []domainError{
	{account.ErrEmailTaken, "email_taken", "Email already registered"},
	{account.ErrAdminExists, "admin_exists", "An admin account already exists"},
	{account.ErrInvalidCard, "invalid_card", "Invalid card info"},
	{account.ErrTokenRequired, "token_required", "Verification token is required"},
	{account.ErrInvalidToken, "invalid_token", "Invalid or expired verification token"},
	{account.ErrEmailRequired, "email_required", "Email is required"},
	{account.ErrAlreadyVerified, "already_verified", "This email is already verified"},
	{account.ErrInvalidCredentials, "invalid_credentials", "Invalid email or password"},
	{account.ErrNotVerified, "email_not_verified", "Please verify your email before logging in"},
	{account.ErrNotAdmin, "not_admin", "This account is not an admin account"},
	{account.ErrAdminLogin, "admin_login_required", "Admin accounts must login as admin"},
	{account.ErrDeliveryFailed, "email_delivery_failed", "Failed to send verification email"},
	{account.ErrNotFound, "not_found", "Account not found"},
}

func statusForKind(k account.Kind) int {
	switch k {
	case account.KindConflict:
		return http.StatusConflict
	case account.KindBadRequest:
		return http.StatusBadRequest
	case account.KindUnauthorized:
		return http.StatusUnauthorized
	case account.KindForbidden:
		return http.StatusForbidden
	case account.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError maps a workflow error onto the HTTP taxonomy. Anything unrecognized
// is logged and surfaced as a generic 500.
func RespondDomainError(ctx *gin.Context, err error, fallback string) {
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			status := statusForKind(account.KindOf(de.err))
			if status >= http.StatusInternalServerError {
				slog.ErrorContext(ctx.Request.Context(), "request failed", "route", ctx.FullPath(), observability.Err(err))
			}
			RespondError(ctx, status, de.code, de.message, nil)
			return
		}
	}

	slog.ErrorContext(ctx.Request.Context(), "unexpected error", "route", ctx.FullPath(), observability.Err(err))
	RespondInternal(ctx, fallback)
}
