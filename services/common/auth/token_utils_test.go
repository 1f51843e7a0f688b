package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func TestParseToken_Valid(t *testing.T) {
	tok := sign(t, testSecret, jwt.MapClaims{
		"sub":   "user-1",
		"email": "fan@example.com",
		"role":  "customer",
		"typ":   "access",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := ParseToken(testSecret, tok, "access")
	require.NoError(t, err)
	assert.Equal(t, &Claims{UserID: "user-1", Email: "fan@example.com", Role: "customer"}, claims)
}

func TestParseToken_LegacyUserIDClaim(t *testing.T) {
	tok := sign(t, testSecret, jwt.MapClaims{"user_id": "user-2", "exp": time.Now().Add(time.Hour).Unix()})

	claims, err := ParseToken(testSecret, tok, "")
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims.UserID)
}

func TestParseToken_Rejects(t *testing.T) {
	expired := sign(t, testSecret, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})
	wrongKey := sign(t, []byte("other"), jwt.MapClaims{"sub": "u"})
	refresh := sign(t, testSecret, jwt.MapClaims{"sub": "u", "typ": "refresh"})
	noSub := sign(t, testSecret, jwt.MapClaims{"email": "a@b.c"})

	for name, tok := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"wrong typ": refresh,
		"no sub":    noSub,
		"garbage":   "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(testSecret, tok, "access")
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := ParseToken(nil, expired, "")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}
