package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func signHeader(secret []byte, body []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(fmt.Sprintf("%d", ts.Unix())))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature_AcceptsValid(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := signHeader(secret, body, now)

	require.NoError(t, verifySignature(header, body, secret, now))
}

func TestVerifySignature_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := signHeader([]byte("whsec_other"), body, now)

	err := verifySignature(header, body, []byte("whsec_test"), now)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_RejectsStaleTimestamp(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"id":"evt_1"}`)
	signedAt := time.Unix(1700000000, 0)
	header := signHeader(secret, body, signedAt)

	err := verifySignature(header, body, secret, signedAt.Add(time.Hour))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_RejectsMalformedHeader(t *testing.T) {
	err := verifySignature("garbage", []byte("{}"), []byte("whsec_test"), time.Now())
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_RejectsTamperedBody(t *testing.T) {
	secret := []byte("whsec_test")
	now := time.Unix(1700000000, 0)
	header := signHeader(secret, []byte(`{"id":"evt_1"}`), now)

	err := verifySignature(header, []byte(`{"id":"evt_2"}`), secret, now)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
