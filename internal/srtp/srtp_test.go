package srtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testMasterSecret() []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = byte(i)
	}
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx, err := NewContext(testMasterSecret())
	require.NoError(t, err)

	payload := []byte("hello from the RTP payload")
	ct := ctx.Encrypt(payload, 42)
	pt, err := ctx.Decrypt(ct, 42)
	require.NoError(t, err)
	require.Equal(t, payload, pt)
}

func TestEncryptIsNonceUnique(t *testing.T) {
	ctx, err := NewContext(testMasterSecret())
	require.NoError(t, err)

	payload := []byte("same plaintext")
	a := ctx.Encrypt(payload, 1)
	b := ctx.Encrypt(payload, 2)
	require.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	ctx, err := NewContext(testMasterSecret())
	require.NoError(t, err)

	ct := ctx.Encrypt([]byte("payload"), 7)
	ct[len(ct)-1] ^= 0xFF

	_, err = ctx.Decrypt(ct, 7)
	require.Error(t, err)
}

func TestTwoPeersDeriveSameContextEncryptDecrypt(t *testing.T) {
	secret := testMasterSecret()
	sender, err := NewContext(secret)
	require.NoError(t, err)
	receiver, err := NewContext(secret)
	require.NoError(t, err)

	payload := []byte("video frame bytes")
	ct := sender.Encrypt(payload, 100)
	pt, err := receiver.Decrypt(ct, 100)
	require.NoError(t, err)
	require.Equal(t, payload, pt)
}
