package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "stockpile"

// IssueToken creates a signed HS256 access token for the given subject. Each
// token carries a unique ID so it can be revoked individually.
func IssueToken(signingKey []byte, subject string, ttl time.Duration) (string, error) {
	if len(signingKey) == 0 {
		return "", errors.New("signing key not provided")
	}

	now := time.Now()
	claims := &jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// ExpiresAt reads the expiry of a token without verifying its signature.
// Used for display only, never for access decisions.
func ExpiresAt(tokenString string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}
