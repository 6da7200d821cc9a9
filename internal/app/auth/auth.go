// Package auth validates the bearer token the authentication provider
// attaches to inbound requests. It knows nothing about merchants: it only
// recovers an opaque end-user id and an optional email from the token.
// Mapping that identity onto a merchant record is
// the job of internal/app/services/merchant.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the authentication provider's JWT this service
// reads: Subject is the opaque end-user id, Email is optional.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the boundary-layer result of a successful Validate call.
type Identity struct {
	UserID string
	Email  string
}

// Validator authenticates an inbound bearer token into an Identity.
type Validator interface {
	Validate(tokenString string) (Identity, error)
}

// ErrMissingSecret is returned by Validate when the validator was built
// without a secret; an unconfigured validator rejects every token rather than
// silently accepting unsigned ones.
var ErrMissingSecret = errors.New("auth: provider jwt secret not configured")

// HMACValidator validates HS256 JWTs issued by the authentication
// provider.
type HMACValidator struct {
	secret   []byte
	audience string
}

// NewHMACValidator builds a Validator over secret, optionally enforcing
// audience when non-empty.
func NewHMACValidator(secret, audience string) *HMACValidator {
	return &HMACValidator{secret: []byte(strings.TrimSpace(secret)), audience: strings.TrimSpace(audience)}
}

var _ Validator = (*HMACValidator)(nil)

// Validate implements Validator.
func (v *HMACValidator) Validate(tokenString string) (Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return Identity{}, ErrMissingSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("auth: token missing subject")
	}

	if v.audience != "" && len(claims.Audience) > 0 {
		matched := false
		for _, aud := range claims.Audience {
			if strings.EqualFold(strings.TrimSpace(aud), v.audience) {
				matched = true
				break
			}
		}
		if !matched {
			return Identity{}, errors.New("auth: invalid audience")
		}
	}

	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// ExtractBearerToken strips a "Bearer " prefix from an Authorization header
// value, reporting false when the header is empty or malformed.
func ExtractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
