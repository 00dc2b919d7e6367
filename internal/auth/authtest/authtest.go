// Package authtest signs tokens the way the main backend does, for tests.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/auth"
)

const Secret = "test-secret-at-least-32-chars-long-for-hs256"

// Token signs an HS256 token for userID valid for one hour.
func Token(t testing.TB, secret, userID, role string) string {
	t.Helper()
	return sign(t, secret, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	})
}

// Claims signs arbitrary claims.
func Claims(t testing.TB, secret string, claims auth.Claims) string {
	t.Helper()
	return sign(t, secret, claims)
}

func sign(t testing.TB, secret string, claims auth.Claims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
