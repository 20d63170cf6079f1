package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, claims AdminClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestJWTValidator_AcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTValidator(secret, "knowledgebeast")

	token := signToken(t, secret, AdminClaims{
		Subject: "admin-1",
		Scopes:  []string{"projects:write"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "knowledgebeast",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Validate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.Subject)
	assert.True(t, claims.HasScope("projects:write"))
	assert.False(t, claims.HasScope("projects:read"))
}

func TestJWTValidator_RejectsWrongSecret(t *testing.T) {
	v := NewJWTValidator([]byte("expected-secret"), "")
	token := signToken(t, []byte("wrong-secret"), AdminClaims{Subject: "admin-1"})

	_, err := v.Validate("Bearer " + token)
	require.Error(t, err)
}

func TestJWTValidator_RejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTValidator(secret, "")

	token := signToken(t, secret, AdminClaims{
		Subject: "admin-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.Validate("Bearer " + token)
	require.Error(t, err)
}

func TestJWTValidator_RejectsWrongIssuer(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTValidator(secret, "knowledgebeast")

	token := signToken(t, secret, AdminClaims{
		Subject: "admin-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := v.Validate("Bearer " + token)
	require.Error(t, err)
}

func TestJWTValidator_RejectsMalformedHeader(t *testing.T) {
	v := NewJWTValidator([]byte("secret"), "")

	_, err := v.Validate("not-a-bearer-token")
	require.Error(t, err)

	_, err = v.Validate("")
	require.Error(t, err)
}
