package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned when the inbound signature header does
// not match the configured shared secret, or is malformed.
var ErrInvalidSignature = errors.New("webhook: invalid signature")

// signatureTolerance bounds how stale a signed timestamp may be, guarding
// against replay of a captured request long after the fact.
const signatureTolerance = 5 * time.Minute

// verifySignature checks PP's documented scheme: the header carries
// "t=<unix timestamp>,v1=<hex hmac-sha256>", where the signed payload is
// "<timestamp>.<raw body>" under the shared webhook secret.
func verifySignature(header string, body []byte, secret []byte, now time.Time) error {
	if len(secret) == 0 {
		return fmt.Errorf("webhook: signing secret not configured")
	}

	var timestamp, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if timestamp == "" || v1 == "" {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.Unix(ts, 0)
	if now.Sub(signedAt).Abs() > signatureTolerance {
		return ErrInvalidSignature
	}

	expected := hmac.New(sha256.New, secret)
	expected.Write([]byte(timestamp))
	expected.Write([]byte("."))
	expected.Write(body)
	expectedHex := hex.EncodeToString(expected.Sum(nil))

	if !hmac.Equal([]byte(expectedHex), []byte(v1)) {
		return ErrInvalidSignature
	}
	return nil
}
