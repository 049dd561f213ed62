package control

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestream/nestream/internal/nesterr"
)

func newTestCiphers(t *testing.T) (*Cipher, *Cipher) {
	t.Helper()
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)
	keyID := make([]byte, 4)
	_, err = rand.Read(keyID)
	require.NoError(t, err)

	sender, err := NewCipher(key, keyID)
	require.NoError(t, err)
	receiver, err := NewCipher(key, keyID)
	require.NoError(t, err)
	return sender, receiver
}

// TestEncryptDecryptRoundTrip is the §8 round-trip property: encrypt
// then decrypt over random buffers is the identity.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 16, 1024, 64 * 1024} {
		sender, receiver := newTestCiphers(t)
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		envelope := sender.Seal(plaintext)
		got, err := receiver.Open(envelope)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

// TestBitFlipRejected is invariant 5: any single bit flip in ciphertext
// or tag causes a decrypt failure.
func TestBitFlipRejected(t *testing.T) {
	sender, receiver := newTestCiphers(t)
	envelope := sender.Seal([]byte("hello control channel"))

	flipped := append([]byte(nil), envelope...)
	flipped[len(flipped)-1] ^= 0x01

	_, err := receiver.Open(flipped)
	require.Error(t, err)
}

// TestS4SequenceEnforcement is spec.md's literal scenario S4: sequence
// 42 after last-seen 41 succeeds; replaying 41 is rejected.
func TestS4SequenceEnforcement(t *testing.T) {
	sender, receiver := newTestCiphers(t)

	sender.sendSeq = 41
	env41 := sender.Seal([]byte("msg-41"))
	_, err := receiver.Open(env41)
	require.NoError(t, err)

	sender.sendSeq = 42
	env42 := sender.Seal([]byte("msg-42"))
	_, err = receiver.Open(env42)
	require.NoError(t, err)

	// Replaying sequence 41 must be rejected as a protocol error.
	_, err = receiver.Open(env41)
	require.Error(t, err)
	kind, ok := nesterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, nesterr.KindProtocol, kind)
}
