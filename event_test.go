package nostr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventParsingAndVerifying(t *testing.T) {
	rawEvents := []string{
		`{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}`,
		`{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524","extrakey":55}`,
	}

	for _, raw := range rawEvents {
		var ev Event
		err := json.Unmarshal([]byte(raw), &ev)
		require.NoError(t, err)

		require.Equal(t, ev.ID, ev.GetID())
		require.True(t, ev.Verify(), "signature verification failed when it should have succeeded")

		asJSON, err := json.Marshal(ev)
		require.NoError(t, err)

		var back Event
		require.NoError(t, json.Unmarshal(asJSON, &back))
		require.Equal(t, ev, back)
	}
}

func TestEventParsingErrors(t *testing.T) {
	for _, raw := range []string{
		`{"id":"dc90","kind":1}`,
		`{"pubkey":"zz90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962"}`,
		`{"kind":1,"tags":"nope"}`,
	} {
		var ev Event
		require.Error(t, json.Unmarshal([]byte(raw), &ev), raw)
	}
}

func TestSignAndVerify(t *testing.T) {
	sk, pk := makeKeyPair(t)

	evt := Event{
		Kind:      KindTextNote,
		CreatedAt: 1700000000,
		Tags:      Tags{{"p", pk.Hex()}},
		Content:   "ünïcødé \"quoted\"\n\ttabbed  ",
	}
	require.NoError(t, evt.Sign(sk))
	require.Equal(t, pk, evt.PubKey)
	require.True(t, evt.Verify())
	require.Equal(t, pk, evt.Recipient())

	// every mutation of a signed field breaks verification
	mutations := []func(e *Event){
		func(e *Event) { e.Content += "!" },
		func(e *Event) { e.CreatedAt++ },
		func(e *Event) { e.Kind = KindEncryptedDirectMessage },
		func(e *Event) { e.Tags = Tags{{"p", "x"}} },
		func(e *Event) { e.Sig[10] ^= 0xff },
		func(e *Event) { e.ID[0] ^= 0xff },
		func(e *Event) { e.PubKey = GetPublicKey(Generate()) },
	}
	for i, mutate := range mutations {
		m := evt
		m.Tags = evt.Tags.CloneDeep()
		mutate(&m)
		require.False(t, m.Verify(), "mutation %d still verifies", i)
	}
}

func TestSignWithInvalidKey(t *testing.T) {
	evt := Event{Kind: KindTextNote}
	require.ErrorIs(t, evt.Sign(SecretKey{}), ErrInvalidKeyFormat)

	var overflow SecretKey
	for i := range overflow {
		overflow[i] = 0xff
	}
	require.ErrorIs(t, evt.Sign(overflow), ErrInvalidKeyFormat)
}

func TestGetPublicKeyIsDeterministic(t *testing.T) {
	sk, err := SecretKeyFromHex("0000000000000000000000000000000000000000000000000000000000000003")
	require.NoError(t, err)

	pk := GetPublicKey(sk)
	require.Equal(t, "f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9", pk.Hex())
	require.Equal(t, pk, GetPublicKey(sk))
	require.True(t, IsValidPublicKey(pk))
}

func TestSerializeEscaping(t *testing.T) {
	evt := Event{
		PubKey:    MustPubKeyFromHex("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"),
		CreatedAt: 1,
		Kind:      KindTextNote,
		Tags:      Tags{{"t", "a\"b"}},
		Content:   "line\nbreak\\ <html>",
	}
	require.Equal(t,
		`[0,"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",1,1,[["t","a\"b"]],"line\nbreak\\ <html>"]`,
		string(evt.Serialize()))
}

func TestFilterMatches(t *testing.T) {
	sk, pk := makeKeyPair(t)
	other := GetPublicKey(Generate())

	evt := Event{Kind: KindEncryptedDirectMessage, CreatedAt: 100, Tags: Tags{{"p", other.Hex()}}}
	require.NoError(t, evt.Sign(sk))

	require.True(t, Filter{Kinds: []Kind{KindEncryptedDirectMessage}}.Matches(evt))
	require.True(t, Filter{Authors: []PubKey{pk}}.Matches(evt))
	require.True(t, Filter{Tags: TagMap{"p": {other.Hex()}}}.Matches(evt))
	require.True(t, Filter{Since: 100, Until: 100}.Matches(evt))

	require.False(t, Filter{Kinds: []Kind{KindTextNote}}.Matches(evt))
	require.False(t, Filter{Authors: []PubKey{other}}.Matches(evt))
	require.False(t, Filter{Tags: TagMap{"p": {pk.Hex()}}}.Matches(evt))
	require.False(t, Filter{Since: 101}.Matches(evt))
	require.False(t, Filter{Until: 99}.Matches(evt))
}

func TestFilterJSON(t *testing.T) {
	pk := MustPubKeyFromHex("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")
	f := Filter{
		Kinds: []Kind{KindEncryptedDirectMessage},
		Tags:  TagMap{"p": {pk.Hex()}},
		Since: 1700000000,
	}
	require.Equal(t,
		`{"kinds":[4],"#p":["3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"],"since":1700000000}`,
		f.String())
}
