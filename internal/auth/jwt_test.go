package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/chat-app/internal/apperr"
)

func testVerifier() *JWTVerifier {
	return NewJWTVerifier(Config{Secret: "test-secret", Issuer: "teamchat", TokenTTL: time.Hour})
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := testVerifier()

	token, err := v.IssueToken("alice")
	require.NoError(t, err)

	user, err := v.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "alice", user)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := testVerifier()

	wrongSecret, _ := NewJWTVerifier(Config{Secret: "other", Issuer: "teamchat", TokenTTL: time.Hour}).IssueToken("alice")
	wrongIssuer, _ := NewJWTVerifier(Config{Secret: "test-secret", Issuer: "elsewhere", TokenTTL: time.Hour}).IssueToken("alice")
	expired, _ := NewJWTVerifier(Config{Secret: "test-secret", Issuer: "teamchat", TokenTTL: -time.Minute}).IssueToken("alice")
	noSubject, _ := testVerifier().IssueToken("")
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice", Issuer: "teamchat"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		cause error
	}{
		{"missing", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Authenticate(tt.token)
			require.Error(t, err)
			require.True(t, apperr.Is(err, apperr.KindAuth))
			require.True(t, errors.Is(err, tt.cause), "got %v", err)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	require.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	require.Equal(t, "xyz", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	require.Empty(t, TokenFromRequest(r))
}
