package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates access tokens issued by IssueToken.
type Verifier struct {
	signingKey []byte
	parser     *jwt.Parser
}

// NewVerifier creates a verifier for tokens signed with signingKey.
func NewVerifier(signingKey []byte) (*Verifier, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key not provided")
	}

	return &Verifier{
		signingKey: signingKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify checks the signature, issuer and expiry of tokenString and returns
// its claims.
func (v *Verifier) Verify(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if !parsed.Valid {
		return nil, errors.New("token invalid")
	}

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}
