// Package auth verifies the bearer tokens clients present on the WebSocket
// handshake. Tokens are issued by the identity service; this package only
// checks them and extracts the user id.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teamchat/chat-app/internal/apperr"
)

var (
	// ErrMissingToken is returned when the request carries no token.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Authenticator resolves a token to a user id.
type Authenticator interface {
	Authenticate(token string) (userID string, err error)
}

// Config holds JWT verification settings.
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration // lifetime of tokens minted by IssueToken
}

// DefaultConfig returns the development configuration.
// In production, the secret must be loaded from JWT_SECRET.
func DefaultConfig() Config {
	return Config{
		Secret:   "dev-secret-change-me",
		Issuer:   "teamchat",
		TokenTTL: 24 * time.Hour,
	}
}

// Claims are the token claims the chat server reads. The user id is the
// registered subject.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens.
type JWTVerifier struct {
	config Config
}

// NewJWTVerifier creates a verifier for cfg.
func NewJWTVerifier(cfg Config) *JWTVerifier {
	return &JWTVerifier{config: cfg}
}

// Authenticate validates token and returns its subject. Every failure is an
// apperr Auth error.
func (v *JWTVerifier) Authenticate(token string) (string, error) {
	const op = "auth.authenticate"

	if token == "" {
		return "", apperr.Auth(op, ErrMissingToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(v.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Auth(op, ErrExpiredToken)
		}
		return "", apperr.Auth(op, ErrInvalidToken)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", apperr.Auth(op, ErrInvalidToken)
	}
	return claims.Subject, nil
}

// IssueToken mints a token for userID. The chat server never calls it; it
// exists for the client tool and tests.
func (v *JWTVerifier) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.config.Secret))
}

// TokenFromRequest extracts the token from the "token" query parameter or
// an "Authorization: Bearer" header. Browsers cannot set headers on a
// WebSocket handshake, hence the query parameter.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
