package nip04

import (
	"strings"
	"testing"

	"fiatjaf.com/nostrbus"
	"github.com/stretchr/testify/require"
)

func TestSharedKeysAreTheSame(t *testing.T) {
	for range 50 {
		sk1 := nostr.Generate()
		sk2 := nostr.Generate()

		ss1, err := ComputeSharedSecret(nostr.GetPublicKey(sk2), sk1)
		require.NoError(t, err)
		ss2, err := ComputeSharedSecret(nostr.GetPublicKey(sk1), sk2)
		require.NoError(t, err)

		require.Equal(t, ss1, ss2)
	}
}

func TestEncryptionAndDecryptionWithMultipleLengths(t *testing.T) {
	sharedSecret := make([]byte, 32)

	for i := 0; i < 150; i++ {
		message := strings.Repeat("á", i)

		ciphertext, err := Encrypt(message, sharedSecret)
		require.NoError(t, err)
		require.Contains(t, ciphertext, "?iv=")

		plaintext, err := Decrypt(ciphertext, sharedSecret)
		require.NoError(t, err)

		require.Equal(t, message, plaintext, "original '%s' and decrypted '%s' messages differ", message, plaintext)
	}
}

func TestNostrToolsCompatibility(t *testing.T) {
	sk1, err := nostr.SecretKeyFromHex("92996316beebf94171065a714cbf164d1f56d7ad9b35b329d9fc97535bf25352")
	require.NoError(t, err)
	sk2, err := nostr.SecretKeyFromHex("591c0c249adfb9346f8d37dfeed65725e2eea1d7a6e99fa503342f367138de84")
	require.NoError(t, err)

	shared, err := ComputeSharedSecret(nostr.GetPublicKey(sk2), sk1)
	require.NoError(t, err)

	plaintext, err := Decrypt("A+fRnU4aXS4kbTLfowqAww==?iv=QFYUrl5or/n/qamY79ze0A==", shared)
	require.NoError(t, err)
	require.Equal(t, "hello", plaintext, "invalid decryption of nostr-tools payload")
}

func TestDecryptGarbage(t *testing.T) {
	key := make([]byte, 32)
	wrong := make([]byte, 32)
	wrong[0] = 1

	ciphertext, err := Encrypt("some message here", key)
	require.NoError(t, err)

	for _, payload := range []string{
		"no iv at all",
		"!!!?iv=QFYUrl5or/n/qamY79ze0A==",
		"A+fRnU4aXS4kbTLfowqAww==?iv=short",
		"A+fR?iv=QFYUrl5or/n/qamY79ze0A==",
	} {
		_, err := Decrypt(payload, key)
		require.ErrorIs(t, err, ErrInvalidPayload, payload)
	}

	// with the wrong key the padding check almost always fails, when it doesn't
	// the output is garbage
	if plaintext, err := Decrypt(ciphertext, wrong); err == nil {
		require.NotEqual(t, "some message here", plaintext)
	}
}
