// Package jwtauth resolves bearer credentials to principals. It only
// verifies tokens; issuance belongs to the identity provider.
package jwtauth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: Verifier implements the domain port.
var _ domain.CredentialVerifier = (*Verifier)(nil)

// Verifier validates HS256 bearer tokens and loads the principal they
// reference. The principal is always re-read from storage so permission
// changes take effect without waiting for token expiry.
type Verifier struct {
	secret     []byte
	principals domain.PrincipalRepository
}

// New creates a verifier with the given signing secret.
func New(secret []byte, principals domain.PrincipalRepository) *Verifier {
	return &Verifier{secret: secret, principals: principals}
}

// Verify parses and validates the token, then resolves its subject to a
// principal. Every failure maps to ErrInvalidCredential: callers get no
// oracle for distinguishing a bad signature from a deleted account.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return domain.Principal{}, domain.ErrInvalidCredential
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Principal{}, domain.ErrInvalidCredential
	}

	principal, err := v.principals.GetByID(ctx, subject)
	if err != nil {
		return domain.Principal{}, domain.ErrInvalidCredential
	}
	return principal, nil
}
