package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour

	tokenTypeSession = "session"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidTokenType = errors.New("invalid token type")
)

// sub and jti live on Claims itself; they shadow the registered claim fields.
type Claims struct {
	UserID    string `json:"sub"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret     []byte
	sessionTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, sessionTTL time.Duration) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	return &Manager{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// IssueSessionToken signs a session token for the subject carrying its stored role.
func (m *Manager) IssueSessionToken(userID, role string) (string, error) {
	now := m.now().UTC()
	jti := uuid.NewString()

	claims := Claims{
		UserID:    userID,
		Role:      role,
		TokenType: tokenTypeSession,
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ParseAndValidate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) VerifySessionToken(tokenStr string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeSession {
		return nil, ErrInvalidTokenType
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) SessionTTL() time.Duration {
	return m.sessionTTL
}
