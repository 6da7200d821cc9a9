package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject, email string, aud []string) string {
	t.Helper()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  aud,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHMACValidator_AcceptsValidToken(t *testing.T) {
	v := NewHMACValidator("s3cret", "")
	token := signToken(t, "s3cret", "user_1", "a@b.com", nil)

	id, err := v.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "user_1", id.UserID)
	require.Equal(t, "a@b.com", id.Email)
}

func TestHMACValidator_RejectsWrongSecret(t *testing.T) {
	v := NewHMACValidator("s3cret", "")
	token := signToken(t, "other-secret", "user_1", "", nil)

	_, err := v.Validate(token)
	require.Error(t, err)
}

func TestHMACValidator_RejectsWrongAudience(t *testing.T) {
	v := NewHMACValidator("s3cret", "engine")
	token := signToken(t, "s3cret", "user_1", "", []string{"other-aud"})

	_, err := v.Validate(token)
	require.Error(t, err)
}

func TestHMACValidator_MissingSecretRejectsEverything(t *testing.T) {
	v := NewHMACValidator("", "")
	_, err := v.Validate("anything")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestExtractBearerToken(t *testing.T) {
	tok, ok := ExtractBearerToken("Bearer abc123")
	require.True(t, ok)
	require.Equal(t, "abc123", tok)

	_, ok = ExtractBearerToken("")
	require.False(t, ok)

	_, ok = ExtractBearerToken("Basic abc123")
	require.False(t, ok)
}
