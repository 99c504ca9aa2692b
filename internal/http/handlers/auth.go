package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

const (
	msgRegistered    = "Registered successfully. Please check your email to verify your account."
	msgVerified      = "Email verified successfully. You can now login."
	msgResendGeneric = "If this email exists, a verification email has been sent"
)

// Register and resend include a gateway round trip, so they get a longer budget.
const (
	storeTimeout    = 3 * time.Second
	deliveryTimeout = 10 * time.Second
)

type AccountService interface {
	Register(ctx context.Context, in accounts.RegisterInput) (accounts.RegisterResult, error)
	Verify(ctx context.Context, token string) (account.Account, error)
	Resend(ctx context.Context, email string) error
	Login(ctx context.Context, in accounts.LoginInput) (accounts.LoginResult, error)
	Profile(ctx context.Context, id string) (account.PublicAccount, error)
}

type AuthHandler struct {
	accounts AccountService
}

func NewAuthHandler(svc AccountService) *AuthHandler {
	return &AuthHandler{accounts: svc}
}

type RegisterRequest struct {
	Username   string `json:"username" binding:"required,min=2"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	Role       string `json:"role"`
	CardNumber string `json:"cardNumber"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

type ResendRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), deliveryTimeout)
	defer cancel()

	res, err := h.accounts.Register(cctx, accounts.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		Role:       req.Role,
		CardNumber: req.CardNumber,
	})
	if err != nil {
		RespondDomainError(ctx, err, "Could not register account")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": msgRegistered,
		"userId":  res.ID,
		"email":   res.Email,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), storeTimeout)
	defer cancel()

	res, err := h.accounts.Login(cctx, accounts.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		RespondDomainError(ctx, err, "Could not log in")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token": res.Token,
		"user":  res.Account,
	})
}

// Verify is hit by the front end's verify page with the token from the emailed link.
func (h *AuthHandler) Verify(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), storeTimeout)
	defer cancel()

	if _, err := h.accounts.Verify(cctx, ctx.Query("token")); err != nil {
		RespondDomainError(ctx, err, "Could not verify email")
		return
	}

	RespondMessage(ctx, http.StatusOK, msgVerified)
}

func (h *AuthHandler) ResendVerification(ctx *gin.Context) {
	var req ResendRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), deliveryTimeout)
	defer cancel()

	if err := h.accounts.Resend(cctx, req.Email); err != nil {
		RespondDomainError(ctx, err, "Could not resend verification email")
		return
	}

	// same body whether or not the email matched an account
	RespondMessage(ctx, http.StatusOK, msgResendGeneric)
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok || userID == "" {
		RespondUnauthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), storeTimeout)
	defer cancel()

	p, err := h.accounts.Profile(cctx, userID)
	if err != nil {
		RespondDomainError(ctx, err, "Could not load account")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": p})
}

// AdminPing is a minimal admin-only endpoint for checking role-gated access.
func (h *AuthHandler) AdminPing(ctx *gin.Context) {
	userID, _ := middlewares.UserIDFromContext(ctx)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "adminId": userID})
}
