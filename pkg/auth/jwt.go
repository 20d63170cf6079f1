package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// AdminClaims are the claims carried by an admin bearer token: the
// project create/list routes sit outside the per-project API-key
// scheme (no key can exist for a project before it's created), so they
// authenticate against a separately issued admin JWT instead.
type AdminClaims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries scope.
func (c AdminClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// JWTValidator verifies admin bearer tokens signed with a shared HMAC
// secret and, if configured, issued by a specific issuer.
type JWTValidator struct {
	secretKey []byte
	issuer    string
}

// NewJWTValidator builds a JWTValidator. issuer may be empty to skip
// the issuer check.
func NewJWTValidator(secretKey []byte, issuer string) *JWTValidator {
	return &JWTValidator{secretKey: secretKey, issuer: issuer}
}

// Validate parses an "Authorization: Bearer <token>" header value and
// returns its claims, rejecting tokens not signed with the expected
// HMAC key, expired, or from an unexpected issuer.
func (v *JWTValidator) Validate(authHeader string) (*AdminClaims, error) {
	tokenString, err := extractBearerToken(authHeader)
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing admin token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid admin token claims")
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, errors.New("unexpected token issuer")
	}
	return claims, nil
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
