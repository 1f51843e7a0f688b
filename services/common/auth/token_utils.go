package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrSecretNotConfigured = errors.New("JWT secret not configured")
	ErrInvalidToken        = errors.New("invalid or expired token")
)

// Claims is the identity carried by an access token. UserID comes from "sub",
// falling back to the older "user_id" claim.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// ParseToken verifies an HMAC-signed token and extracts its identity claims.
// If expectedType is non-empty, the "typ" claim must match it.
func ParseToken(secret []byte, tokenStr, expectedType string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrSecretNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if expectedType != "" {
		if typ, _ := mc["typ"].(string); typ != expectedType {
			return nil, fmt.Errorf("invalid token type: %w", ErrInvalidToken)
		}
	}

	claims := &Claims{}
	claims.UserID, _ = mc["sub"].(string)
	if claims.UserID == "" {
		claims.UserID, _ = mc["user_id"].(string)
	}
	claims.Email, _ = mc["email"].(string)
	claims.Role, _ = mc["role"].(string)
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no subject: %w", ErrInvalidToken)
	}
	return claims, nil
}
