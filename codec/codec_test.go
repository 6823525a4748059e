package codec

import (
	"context"
	"testing"

	"fiatjaf.com/nostrbus"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestBuildProfileEvent(t *testing.T) {
	sk := nostr.Generate()
	c, err := New(sk, SchemeNIP04)
	require.NoError(t, err)
	defer c.Close()
	c.Now = func() nostr.Timestamp { return 1700000000 }

	evt, err := c.BuildProfileEvent(nostr.Profile{Name: strp("bot"), About: strp("")})
	require.NoError(t, err)

	require.Equal(t, nostr.KindProfileMetadata, evt.Kind)
	require.Equal(t, nostr.Timestamp(1700000000), evt.CreatedAt)
	require.Equal(t, `{"name":"bot","about":""}`, evt.Content)
	require.Equal(t, nostr.GetPublicKey(sk), evt.PubKey)
	require.True(t, VerifyEvent(evt))

	evt.Content = `{"name":"evil"}`
	require.False(t, VerifyEvent(evt))
}

func TestDirectMessageRoundTrip(t *testing.T) {
	alice := nostr.Generate()
	bob := nostr.Generate()

	for _, text := range []string{"", "hello", "ünïcødé 🚀 日本語", "line1\nline2"} {
		evt, err := BuildDirectMessageEvent(alice, nostr.GetPublicKey(bob), text)
		require.NoError(t, err)
		require.Equal(t, nostr.KindEncryptedDirectMessage, evt.Kind)
		require.Equal(t, nostr.GetPublicKey(bob), evt.Recipient())
		require.True(t, VerifyEvent(evt))

		plain, err := DecryptDirectMessage(bob, evt)
		require.NoError(t, err)
		require.Equal(t, text, plain)

		// the sender can read its own outbound message
		plain, err = DecryptDirectMessage(alice, evt)
		require.NoError(t, err)
		require.Equal(t, text, plain)
	}
}

func TestDirectMessageNIP44(t *testing.T) {
	alice, err := New(nostr.Generate(), SchemeNIP44)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := New(nostr.Generate(), SchemeNIP04)
	require.NoError(t, err)
	defer bob.Close()

	for _, text := range []string{"", "hi"} {
		evt, err := alice.BuildDirectMessageEvent(context.Background(), bob.PublicKey(), text)
		require.NoError(t, err)
		require.NotContains(t, evt.Content, "?iv=")

		// the receiving side detects the scheme from the payload
		plain, err := bob.DecryptDirectMessage(context.Background(), evt)
		require.NoError(t, err)
		require.Equal(t, text, plain)
	}
}

func TestDecryptDirectMessageFailures(t *testing.T) {
	alice := nostr.Generate()
	bob := nostr.Generate()
	eve := nostr.Generate()

	evt, err := BuildDirectMessageEvent(alice, nostr.GetPublicKey(bob), "secret")
	require.NoError(t, err)

	// not addressed to eve
	_, err = DecryptDirectMessage(eve, evt)
	require.ErrorIs(t, err, nostr.ErrDecryptionFailed)

	// wrong kind
	wrongKind := evt
	wrongKind.Kind = nostr.KindTextNote
	_, err = DecryptDirectMessage(bob, wrongKind)
	require.ErrorIs(t, err, nostr.ErrDecryptionFailed)

	// garbage payload
	garbage := evt
	garbage.Content = "bm90IGVuY3J5cHRlZA==?iv=AAAAAAAAAAAAAAAAAAAAAA=="
	_, err = DecryptDirectMessage(bob, garbage)
	require.ErrorIs(t, err, nostr.ErrDecryptionFailed)

	// addressed to bob but encrypted for someone else
	forEve, err := BuildDirectMessageEvent(alice, nostr.GetPublicKey(eve), "not for bob")
	require.NoError(t, err)
	forEve.Tags = nostr.Tags{{"p", nostr.GetPublicKey(bob).Hex()}}
	plain, err := DecryptDirectMessage(bob, forEve)
	if err == nil {
		require.NotEqual(t, "not for bob", plain)
	} else {
		require.ErrorIs(t, err, nostr.ErrDecryptionFailed)
	}
}

func TestInvalidKey(t *testing.T) {
	_, err := New(nostr.SecretKey{}, SchemeNIP04)
	require.ErrorIs(t, err, nostr.ErrInvalidKeyFormat)

	_, err = BuildProfileEvent(nostr.SecretKey{}, nostr.Profile{})
	require.ErrorIs(t, err, nostr.ErrInvalidKeyFormat)
}

func TestParseScheme(t *testing.T) {
	s, err := ParseScheme("nip44")
	require.NoError(t, err)
	require.Equal(t, SchemeNIP44, s)

	s, err = ParseScheme("")
	require.NoError(t, err)
	require.Equal(t, SchemeNIP04, s)

	_, err = ParseScheme("rot13")
	require.Error(t, err)
}
