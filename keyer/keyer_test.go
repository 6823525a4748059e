package keyer

import (
	"context"
	"strings"
	"testing"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/nip19"
	"github.com/stretchr/testify/require"
)

func TestParseSecretKey(t *testing.T) {
	sk := nostr.Generate()

	fromHex, err := ParseSecretKey(sk.Hex())
	require.NoError(t, err)
	require.Equal(t, sk, fromHex)

	fromUpperHex, err := ParseSecretKey("  " + strings.ToUpper(sk.Hex()) + "\n")
	require.NoError(t, err)
	require.Equal(t, sk, fromUpperHex)

	fromNsec, err := ParseSecretKey(nip19.EncodeNsec(sk))
	require.NoError(t, err)
	require.Equal(t, sk, fromNsec)

	// deterministic
	again, err := ParseSecretKey(sk.Hex())
	require.NoError(t, err)
	require.Equal(t, nostr.GetPublicKey(fromHex), nostr.GetPublicKey(again))
}

func TestParseSecretKeyMnemonic(t *testing.T) {
	// NIP-06 test vector
	sk, err := ParseSecretKey("leader monkey parrot ring guide accident before fence cannon height naive bean")
	require.NoError(t, err)
	require.Equal(t, "7f7ff03d123792d6ac594bfa67bf6d0c0ab55b6b1fdb6249303fe861f1ccba9a", sk.Hex())
	require.Equal(t, "17162c921dc4d2518f9a101db33695df1afb56ab82f5ff3e5da6eec3ca5cd917", nostr.GetPublicKey(sk).Hex())

	_, err = ParseSecretKey("leader monkey parrot ring guide accident before fence cannon height naive notaword")
	require.ErrorIs(t, err, nostr.ErrInvalidKeyFormat)
}

func TestParseSecretKeyFailures(t *testing.T) {
	for _, raw := range []string{
		"",
		"abc",
		"zz" + strings.Repeat("0", 62),
		strings.Repeat("0", 64),
		strings.Repeat("f", 64),
		"nsec1invalid",
		nip19.EncodeNpub(nostr.GetPublicKey(nostr.Generate())),
	} {
		_, err := ParseSecretKey(raw)
		require.ErrorIs(t, err, nostr.ErrInvalidKeyFormat, raw)
	}
}

func TestKeySignerRoundTrips(t *testing.T) {
	ctx := context.Background()

	alice, err := NewPlainKeySigner(nostr.Generate())
	require.NoError(t, err)
	defer alice.Close()
	bob, err := NewPlainKeySigner(nostr.Generate())
	require.NoError(t, err)
	defer bob.Close()

	for _, msg := range []string{"", "hi bob", "multibyte ✓ 日本語"} {
		c44, err := alice.Encrypt(ctx, msg, bob.PublicKey())
		require.NoError(t, err)
		require.False(t, IsNIP04Payload(c44))

		c04, err := alice.EncryptNIP04(ctx, msg, bob.PublicKey())
		require.NoError(t, err)
		require.True(t, IsNIP04Payload(c04))

		// twice so the second time comes from the cache
		for range 2 {
			p44, err := bob.Decrypt(ctx, c44, alice.PublicKey())
			require.NoError(t, err)
			require.Equal(t, msg, p44)

			p04, err := bob.Decrypt(ctx, c04, alice.PublicKey())
			require.NoError(t, err)
			require.Equal(t, msg, p04)
		}
	}

	evt := nostr.Event{Kind: nostr.KindTextNote, Content: "signed"}
	require.NoError(t, alice.SignEvent(ctx, &evt))
	require.True(t, evt.Verify())
	pk, err := alice.GetPublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, pk, evt.PubKey)
}

func TestNewPlainKeySignerRejectsInvalid(t *testing.T) {
	_, err := NewPlainKeySigner(nostr.SecretKey{})
	require.ErrorIs(t, err, nostr.ErrInvalidKeyFormat)
}
