// Package auth verifies the identity token presented on the websocket
// upgrade. Credentials and login live elsewhere; this package only turns a
// signed token into a username.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed, signed with
	// the wrong key or carries no username.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Config holds token settings.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims are the custom claims carried by identity tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HMAC-signed identity tokens.
type Manager struct {
	config Config
}

// NewManager creates a Manager. A zero TTL means 24 hours.
func NewManager(config Config) *Manager {
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}
	return &Manager{config: config}
}

// Issue signs a token for username. The server only verifies tokens; Issue
// serves the login service that hands them out.
func (m *Manager) Issue(username string) (string, error) {
	if username == "" {
		return "", ErrInvalidToken
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.Secret))
}

// Verify validates tokenString and returns the username it carries.
func (m *Manager) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(m.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
