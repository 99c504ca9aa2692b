package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/auth"
	"github.com/geocoder89/accounthub/internal/domain/account"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

// Make sure Gin does not spam the console during the test
func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAccountService struct {
	registerFn func(ctx context.Context, in accounts.RegisterInput) (accounts.RegisterResult, error)
	verifyFn   func(ctx context.Context, token string) (account.Account, error)
	resendFn   func(ctx context.Context, email string) error
	loginFn    func(ctx context.Context, in accounts.LoginInput) (accounts.LoginResult, error)
	profileFn  func(ctx context.Context, id string) (account.PublicAccount, error)
}

func (f *fakeAccountService) Register(ctx context.Context, in accounts.RegisterInput) (accounts.RegisterResult, error) {
	if f.registerFn != nil {
		return f.registerFn(ctx, in)
	}
	return accounts.RegisterResult{}, nil
}

func (f *fakeAccountService) Verify(ctx context.Context, token string) (account.Account, error) {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, token)
	}
	return account.Account{}, nil
}

func (f *fakeAccountService) Resend(ctx context.Context, email string) error {
	if f.resendFn != nil {
		return f.resendFn(ctx, email)
	}
	return nil
}

func (f *fakeAccountService) Login(ctx context.Context, in accounts.LoginInput) (accounts.LoginResult, error) {
	if f.loginFn != nil {
		return f.loginFn(ctx, in)
	}
	return accounts.LoginResult{}, nil
}

func (f *fakeAccountService) Profile(ctx context.Context, id string) (account.PublicAccount, error) {
	if f.profileFn != nil {
		return f.profileFn(ctx, id)
	}
	return account.PublicAccount{}, nil
}

// small helper which mounts the auth routes on a fresh engine
func setupAuthRouter(svc *fakeAccountService, jwt *auth.Manager) *gin.Engine {
	r := gin.New()
	h := handlers.NewAuthHandler(svc)

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/verify", h.Verify)
	r.POST("/auth/resend-verification", h.ResendVerification)

	if jwt != nil {
		authMw := middlewares.NewAuthMiddleware(jwt)
		r.GET("/auth/me", authMw.RequireAuth(), h.Me)
	}

	return r
}

type messageResponse struct {
	Message string `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) messageResponse {
	t.Helper()

	var resp messageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v body=%s", err, w.Body.String())
	}
	return resp
}

func TestRegisterHandler(t *testing.T) {
	validBody := `{"username":"ann","email":"ann@example.com","password":"secret1","role":"premium","cardNumber":"4111111111111111"}`

	tests := []struct {
		name        string
		body        string
		registerErr error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{name: "success", body: validBody, wantStatus: http.StatusCreated,
			wantMessage: "Registered successfully. Please check your email to verify your account."},
		{name: "validation", body: `{"username":"a","email":"ann@example.com","password":"secret1"}`,
			wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "email taken", body: validBody, registerErr: account.ErrEmailTaken,
			wantStatus: http.StatusConflict, wantCode: "email_taken", wantMessage: "Email already registered"},
		{name: "admin exists", body: validBody, registerErr: account.ErrAdminExists,
			wantStatus: http.StatusForbidden, wantCode: "admin_exists", wantMessage: "An admin account already exists"},
		{name: "invalid card", body: validBody, registerErr: account.ErrInvalidCard,
			wantStatus: http.StatusBadRequest, wantCode: "invalid_card", wantMessage: "Invalid card info"},
		{name: "delivery failure", body: validBody, registerErr: fmt.Errorf("%w: smtp down", account.ErrDeliveryFailed),
			wantStatus: http.StatusInternalServerError, wantCode: "email_delivery_failed", wantMessage: "Failed to send verification email"},
		{name: "store failure", body: validBody, registerErr: errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError, wantCode: "internal_error", wantMessage: "Could not register account"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got accounts.RegisterInput
			svc := &fakeAccountService{
				registerFn: func(_ context.Context, in accounts.RegisterInput) (accounts.RegisterResult, error) {
					got = in
					if tt.registerErr != nil {
						return accounts.RegisterResult{}, tt.registerErr
					}
					return accounts.RegisterResult{ID: "acc-1", Email: "ann@example.com"}, nil
				},
			}

			w := postJSON(setupAuthRouter(svc, nil), "/auth/register", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}

			resp := decodeMessage(t, w)
			if tt.wantCode != "" && resp.Error.Code != tt.wantCode {
				t.Fatalf("got code %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && resp.Message != tt.wantMessage {
				t.Fatalf("got message %q, want %q", resp.Message, tt.wantMessage)
			}

			if tt.wantStatus == http.StatusCreated {
				var body struct {
					UserID string `json:"userId"`
					Email  string `json:"email"`
				}
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body.UserID != "acc-1" || body.Email != "ann@example.com" {
					t.Fatalf("unexpected success body: %s", w.Body.String())
				}
				if got.CardNumber != "4111111111111111" || got.Role != "premium" {
					t.Fatalf("service got wrong input: %+v", got)
				}
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	tests := []struct {
		name       string
		loginErr   error
		wantStatus int
		wantCode   string
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "bad credentials", loginErr: account.ErrInvalidCredentials, wantStatus: http.StatusUnauthorized, wantCode: "invalid_credentials"},
		{name: "unverified", loginErr: account.ErrNotVerified, wantStatus: http.StatusForbidden, wantCode: "email_not_verified"},
		{name: "not admin", loginErr: account.ErrNotAdmin, wantStatus: http.StatusForbidden, wantCode: "not_admin"},
		{name: "admin as user", loginErr: account.ErrAdminLogin, wantStatus: http.StatusForbidden, wantCode: "admin_login_required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeAccountService{
				loginFn: func(_ context.Context, in accounts.LoginInput) (accounts.LoginResult, error) {
					if tt.loginErr != nil {
						return accounts.LoginResult{}, tt.loginErr
					}
					return accounts.LoginResult{
						Token:   "signed",
						Account: account.PublicAccount{ID: "acc-1", Username: "ann", Email: in.Email, Role: account.RolePremium},
					}, nil
				},
			}

			w := postJSON(setupAuthRouter(svc, nil), "/auth/login", `{"email":"ann@example.com","password":"secret1"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantCode != "" {
				if got := decodeMessage(t, w).Error.Code; got != tt.wantCode {
					t.Fatalf("got code %q, want %q", got, tt.wantCode)
				}
				return
			}

			var body struct {
				Token string                 `json:"token"`
				User  map[string]interface{} `json:"user"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Token != "signed" || body.User["role"] != "premium" {
				t.Fatalf("unexpected body: %s", w.Body.String())
			}
			for _, hidden := range []string{"passwordHash", "verificationToken", "isVerified"} {
				if _, ok := body.User[hidden]; ok {
					t.Fatalf("user projection leaks %q: %s", hidden, w.Body.String())
				}
			}
		})
	}
}

func TestLoginHandler_CredentialFailuresShareBody(t *testing.T) {
	svc := &fakeAccountService{
		loginFn: func(context.Context, accounts.LoginInput) (accounts.LoginResult, error) {
			return accounts.LoginResult{}, account.ErrInvalidCredentials
		},
	}
	r := setupAuthRouter(svc, nil)

	a := postJSON(r, "/auth/login", `{"email":"ghost@example.com","password":"secret1"}`)
	b := postJSON(r, "/auth/login", `{"email":"ann@example.com","password":"wrong"}`)

	if decodeMessage(t, a).Message != decodeMessage(t, b).Message {
		t.Fatalf("credential failures must be indistinguishable: %s vs %s", a.Body.String(), b.Body.String())
	}
}

func TestVerifyHandler(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		verifyErr  error
		wantStatus int
		wantMsg    string
	}{
		{name: "success", query: "?token=abc", wantStatus: http.StatusOK, wantMsg: "Email verified successfully. You can now login."},
		{name: "missing", query: "", verifyErr: account.ErrTokenRequired, wantStatus: http.StatusBadRequest, wantMsg: "Verification token is required"},
		{name: "invalid", query: "?token=nope", verifyErr: account.ErrInvalidToken, wantStatus: http.StatusBadRequest, wantMsg: "Invalid or expired verification token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			svc := &fakeAccountService{
				verifyFn: func(_ context.Context, token string) (account.Account, error) {
					gotToken = token
					return account.Account{}, tt.verifyErr
				},
			}

			req := httptest.NewRequest(http.MethodGet, "/auth/verify"+tt.query, nil)
			w := httptest.NewRecorder()
			setupAuthRouter(svc, nil).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeMessage(t, w).Message; got != tt.wantMsg {
				t.Fatalf("got message %q, want %q", got, tt.wantMsg)
			}
			if tt.name == "success" && gotToken != "abc" {
				t.Fatalf("service got token %q", gotToken)
			}
		})
	}
}

func TestResendHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		resendErr  error
		wantStatus int
		wantMsg    string
	}{
		{name: "sent or unknown", body: `{"email":"ann@example.com"}`, wantStatus: http.StatusOK,
			wantMsg: "If this email exists, a verification email has been sent"},
		{name: "missing email", body: `{}`, resendErr: account.ErrEmailRequired, wantStatus: http.StatusBadRequest,
			wantMsg: "Email is required"},
		{name: "already verified", body: `{"email":"ann@example.com"}`, resendErr: account.ErrAlreadyVerified,
			wantStatus: http.StatusBadRequest, wantMsg: "This email is already verified"},
		{name: "delivery failure", body: `{"email":"ann@example.com"}`, resendErr: account.ErrDeliveryFailed,
			wantStatus: http.StatusInternalServerError, wantMsg: "Failed to send verification email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeAccountService{
				resendFn: func(context.Context, string) error { return tt.resendErr },
			}

			w := postJSON(setupAuthRouter(svc, nil), "/auth/resend-verification", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeMessage(t, w).Message; got != tt.wantMsg {
				t.Fatalf("got message %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestMeHandler(t *testing.T) {
	jwt := auth.NewManager("test-secret", 0)
	token, err := jwt.IssueSessionToken("acc-1", "user")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc := &fakeAccountService{
		profileFn: func(_ context.Context, id string) (account.PublicAccount, error) {
			if id != "acc-1" {
				return account.PublicAccount{}, account.ErrNotFound
			}
			return account.PublicAccount{ID: id, Username: "ann", Email: "ann@example.com", Role: account.RoleUser}, nil
		},
	}
	r := setupAuthRouter(svc, jwt)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "ok", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	// subject deleted after the token was issued
	orphan, _ := jwt.IssueSessionToken("acc-gone", "user")
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+orphan)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404, body=%s", w.Code, w.Body.String())
	}
}
