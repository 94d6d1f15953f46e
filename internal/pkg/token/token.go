package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/magictales/storyforge/internal/pkg/env"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims represents the claims carried in an access token
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens
type Manager struct {
	secretKey []byte
	lifetime  time.Duration
}

// NewManager creates a token manager with an explicit secret and lifetime
func NewManager(secretKey string, lifetime time.Duration) *Manager {
	return &Manager{
		secretKey: []byte(secretKey),
		lifetime:  lifetime,
	}
}

// NewManagerFromEnv builds a manager from JWT_SECRET_KEY / JWT_EXP_TIME_IN_MINUTES
func NewManagerFromEnv() *Manager {
	minutes, err := strconv.Atoi(env.GetEnv("JWT_EXP_TIME_IN_MINUTES", "60"))
	if err != nil || minutes <= 0 {
		minutes = 60
	}
	return NewManager(env.GetEnv("JWT_SECRET_KEY", ""), time.Duration(minutes)*time.Minute)
}

// Generate creates a signed access token for a user
func (m *Manager) Generate(userID uint, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secretKey)
}

// Validate verifies a token string and returns its claims
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Refresh re-issues a token with a fresh expiry for the same claims. Used by
// the response middleware so active clients never hit a hard expiry.
func (m *Manager) Refresh(tokenString string) (string, error) {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return "", err
	}
	return m.Generate(claims.UserID, claims.Email)
}
