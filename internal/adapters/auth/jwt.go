// Package auth verifies connection credentials before a session is
// registered. Tokens are HMAC-signed JWTs whose subject is the user id.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

var _ core.IdentityVerifier = (*Verifier)(nil)

// Verify parses and validates the token and returns the verified user
// identity. Every failure maps to ErrUnauthenticated; the caller never
// learns why a token was bad.
func (v *Verifier) Verify(_ context.Context, credentials string) (domain.UserID, error) {
	credentials = strings.TrimPrefix(credentials, "Bearer ")
	if credentials == "" {
		return "", core.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(credentials, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", core.ErrUnauthenticated
	}

	uid, err := domain.NewUserID(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
	}
	return uid, nil
}
