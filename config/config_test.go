package config

import (
	"os"
	"path/filepath"
	"testing"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/codec"
	"fiatjaf.com/nostrbus/nip19"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type memSource struct{ data []byte }

func (m *memSource) Load() ([]byte, error)   { return m.data, nil }
func (m *memSource) Write(data []byte) error { m.data = data; return nil }

func strp(s string) *string { return &s }

func TestResolveAccount(t *testing.T) {
	sk := nostr.Generate()
	workSk := nostr.Generate()
	friend := nostr.GetPublicKey(nostr.Generate())

	src := &memSource{data: []byte(`{
		"gateway": {"port": 8080},
		"channels": {
			"nostr": {
				"privateKey": "` + nip19.EncodeNsec(sk) + `",
				"relays": ["relay.example.com/", "wss://nos.lol"],
				"encryption": "nip44",
				"allowFrom": ["` + nip19.EncodeNpub(friend) + `"],
				"profile": {"name": "bot", "about": ""},
				"accounts": {
					"work": {"privateKey": "` + workSk.Hex() + `", "enabled": false}
				}
			}
		}
	}`)}

	acc, err := ResolveAccount(src, "", "")
	require.NoError(t, err)
	require.True(t, acc.Configured)
	require.True(t, acc.Enabled)
	require.Equal(t, "default", acc.ID)
	require.Equal(t, sk, acc.SecretKey)
	require.Equal(t, nostr.GetPublicKey(sk), acc.PublicKey)
	require.Equal(t, []string{"wss://relay.example.com", "wss://nos.lol"}, acc.Relays)
	require.Equal(t, codec.SchemeNIP44, acc.Scheme)
	require.Equal(t, []nostr.PubKey{friend}, acc.AllowFrom)
	require.Equal(t, nostr.Profile{Name: strp("bot"), About: strp("")}, acc.Profile)

	work, err := ResolveAccount(src, "nostr", "work")
	require.NoError(t, err)
	require.Equal(t, workSk, work.SecretKey)
	require.False(t, work.Enabled)
	require.Equal(t, acc.Relays, work.Relays) // inherited
	require.True(t, work.Profile.IsEmpty())    // not inherited

	_, err = ResolveAccount(src, "nostr", "missing")
	require.ErrorIs(t, err, ErrAccountNotFound)

	ids, err := AccountIDs(src, "nostr")
	require.NoError(t, err)
	require.Equal(t, []string{"default", "work"}, ids)
}

func TestResolveAccountDefaults(t *testing.T) {
	acc, err := ResolveAccount(&memSource{data: []byte(`{}`)}, "nostr", "")
	require.NoError(t, err)
	require.False(t, acc.Configured)
	require.Equal(t, DefaultRelays, acc.Relays)
	require.Equal(t, codec.SchemeNIP04, acc.Scheme)
}

func TestResolveAccountInvalid(t *testing.T) {
	for _, doc := range []string{
		`{"channels": {"nostr": {"privateKey": "nope"}}}`,
		`{"channels": {"nostr": {"relays": ["https://example.com/feed", "ftp://x"]}}}`,
		`{"channels": {"nostr": {"encryption": "rot13"}}}`,
		`not json`,
	} {
		_, err := ResolveAccount(&memSource{data: []byte(doc)}, "nostr", "")
		require.Error(t, err, doc)
	}

	_, err := ResolveAccount(&memSource{data: []byte(`{"channels": {"nostr": {"privateKey": "nope"}}}`)}, "nostr", "")
	require.ErrorIs(t, err, nostr.ErrInvalidKeyFormat)
}

func TestWriteProfile(t *testing.T) {
	src := &memSource{data: []byte(`{"gateway":{"port":8080},"channels":{"nostr":{"privateKey":"x","profile":{"name":"old","about":"keep me?"},"accounts":{"work":{}}}}}`)}

	require.NoError(t, WriteProfile(src, "nostr", "", nostr.Profile{Name: strp("new")}))
	require.Equal(t, `{"name":"new"}`, gjson.GetBytes(src.data, "channels.nostr.profile").Raw)
	require.Equal(t, int64(8080), gjson.GetBytes(src.data, "gateway.port").Int())
	require.Equal(t, "x", gjson.GetBytes(src.data, "channels.nostr.privateKey").String())

	require.NoError(t, WriteProfile(src, "nostr", "work", nostr.Profile{About: strp("w")}))
	require.Equal(t, `{"about":"w"}`, gjson.GetBytes(src.data, "channels.nostr.accounts.work.profile").Raw)
	require.Equal(t, `{"name":"new"}`, gjson.GetBytes(src.data, "channels.nostr.profile").Raw)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	f := File{Path: path}

	data, err := f.Load()
	require.NoError(t, err)
	require.Equal(t, "{}", string(data))

	require.NoError(t, WriteProfile(f, "nostr.fixed", "", nostr.Profile{Name: strp("dotted")}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "dotted", gjson.GetBytes(raw, `channels.nostr\.fixed.profile.name`).String())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
