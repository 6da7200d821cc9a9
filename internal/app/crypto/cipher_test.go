package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateRandomBytes(KeySize)
	require.NoError(t, err)
	return key
}

func TestAESGCMCipher_RoundTrip(t *testing.T) {
	c, err := NewAESGCMCipher(testKey(t))
	require.NoError(t, err)

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("sk_live_abc123"),
		bytes.Repeat([]byte{0xff}, 4096),
	} {
		ct, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, plaintext, pt)
	}
}

func TestAESGCMCipher_TamperedCiphertextFailsAuthentication(t *testing.T) {
	c, err := NewAESGCMCipher(testKey(t))
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("refresh-token"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = c.Decrypt(ct)
	require.Error(t, err)
}

func TestAESGCMCipher_WrongKeyFailsAuthentication(t *testing.T) {
	c1, err := NewAESGCMCipher(testKey(t))
	require.NoError(t, err)
	c2, err := NewAESGCMCipher(testKey(t))
	require.NoError(t, err)

	ct, err := c1.Encrypt([]byte("access-token"))
	require.NoError(t, err)
	_, err = c2.Decrypt(ct)
	require.Error(t, err)
}

func TestAESGCMCipher_RejectsShortKey(t *testing.T) {
	_, err := NewAESGCMCipher([]byte("too short"))
	require.Error(t, err)
}

func TestParseEncryptionKey(t *testing.T) {
	raw := testKey(t)
	key, err := ParseEncryptionKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, key)

	_, err = ParseEncryptionKey("not hex at all")
	require.Error(t, err)

	_, err = ParseEncryptionKey(hex.EncodeToString(raw[:16]))
	require.Error(t, err, "a 16-byte key must be rejected")
}

func TestDeriveKey_IsDeterministicAndScopeSeparated(t *testing.T) {
	master := testKey(t)

	a, err := DeriveKey(master, nil, "tracking-links", KeySize)
	require.NoError(t, err)
	b, err := DeriveKey(master, nil, "tracking-links", KeySize)
	require.NoError(t, err)
	require.Equal(t, a, b)

	other, err := DeriveKey(master, nil, "token-encryption", KeySize)
	require.NoError(t, err)
	require.NotEqual(t, a, other)
}

func TestHMACSignAndVerify(t *testing.T) {
	key := testKey(t)
	sig := HMACSign(key, []byte("https://pay.example.com:42"))
	require.True(t, HMACVerify(key, []byte("https://pay.example.com:42"), sig))
	require.False(t, HMACVerify(key, []byte("https://evil.example.com:42"), sig))
}
