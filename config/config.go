// Package config reads the host's JSON configuration for nostr accounts and writes
// profile changes back into it without touching anything else.
//
//	{"channels": {"nostr": {
//	    "privateKey": "nsec1...",
//	    "relays": ["wss://relay.damus.io"],
//	    "profile": {"name": "bot"},
//	    "accounts": {"work": {"privateKey": "...", "relays": [...], "profile": {...}}}
//	}}}
//
// The top level of a channel is the "default" account. Named accounts inherit the
// channel's relays and settings unless they override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/codec"
	"fiatjaf.com/nostrbus/keyer"
	"fiatjaf.com/nostrbus/nip19"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	DefaultChannel   = "nostr"
	DefaultAccountID = "default"
)

// DefaultRelays are used when an account names none.
var DefaultRelays = []string{"wss://relay.damus.io", "wss://nos.lol"}

var ErrAccountNotFound = errors.New("account not found")

// Source is where the configuration document lives.
type Source interface {
	Load() ([]byte, error)
	Write(data []byte) error
}

// File is a Source backed by a JSON file. A missing file reads as an empty document.
type File struct {
	Path string
}

func (f File) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	return data, err
}

// Write replaces the file through a temporary file in the same directory.
func (f File) Write(data []byte) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Account is one resolved identity with everything needed to run a bus for it.
type Account struct {
	ID string

	// Configured is false when no private key is set; the other fields are then
	// only defaults.
	Configured bool
	Enabled    bool

	SecretKey nostr.SecretKey
	PublicKey nostr.PubKey
	Relays    []string
	Profile   nostr.Profile

	Scheme        codec.Scheme
	PublishQuorum int

	// AllowFrom lists the senders allowed to run commands. Empty allows everyone.
	AllowFrom []nostr.PubKey
}

// ResolveAccount reads the account accountID of channel channelKey.
func ResolveAccount(src Source, channelKey, accountID string) (Account, error) {
	data, err := src.Load()
	if err != nil {
		return Account{}, fmt.Errorf("load config: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return Account{}, errors.New("config is not valid json")
	}
	if channelKey == "" {
		channelKey = DefaultChannel
	}
	if accountID == "" {
		accountID = DefaultAccountID
	}

	channel := gjson.GetBytes(data, "channels."+escape(channelKey))
	section := channel
	if accountID != DefaultAccountID || channel.Get("accounts.default").Exists() {
		section = channel.Get("accounts." + escape(accountID))
		if !section.Exists() {
			return Account{}, fmt.Errorf("%w: '%s' in channel '%s'", ErrAccountNotFound, accountID, channelKey)
		}
	}

	// account fields win over the channel's
	get := func(path string) gjson.Result {
		if v := section.Get(path); v.Exists() {
			return v
		}
		return channel.Get(path)
	}

	acc := Account{ID: accountID, Enabled: true}
	if v := get("enabled"); v.Exists() {
		acc.Enabled = v.Bool()
	}

	for _, r := range get("relays").Array() {
		url := nostr.NormalizeURL(r.String())
		if !nostr.IsValidRelayURL(url) {
			return Account{}, fmt.Errorf("account '%s': invalid relay url '%s'", accountID, r.String())
		}
		acc.Relays = append(acc.Relays, url)
	}
	if len(acc.Relays) == 0 {
		acc.Relays = append([]string(nil), DefaultRelays...)
	}

	if acc.Scheme, err = codec.ParseScheme(get("encryption").String()); err != nil {
		return Account{}, fmt.Errorf("account '%s': %w", accountID, err)
	}
	acc.PublishQuorum = int(get("publishQuorum").Int())

	for _, s := range get("allowFrom").Array() {
		pk, err := parsePubKey(s.String())
		if err != nil {
			return Account{}, fmt.Errorf("account '%s': allowFrom: %w", accountID, err)
		}
		acc.AllowFrom = append(acc.AllowFrom, pk)
	}

	// the profile is never inherited, each identity has its own
	if p := section.Get("profile"); p.IsObject() {
		if err := acc.Profile.UnmarshalJSON([]byte(p.Raw)); err != nil {
			return Account{}, fmt.Errorf("account '%s': profile: %w", accountID, err)
		}
	}

	raw := section.Get("privateKey").String()
	if strings.TrimSpace(raw) == "" {
		return acc, nil
	}
	sk, err := keyer.ParseSecretKey(raw)
	if err != nil {
		return Account{}, fmt.Errorf("account '%s': %w", accountID, err)
	}
	acc.SecretKey = sk
	acc.PublicKey = nostr.GetPublicKey(sk)
	acc.Configured = true
	return acc, nil
}

// AccountIDs lists the accounts of a channel, the default one first when present.
func AccountIDs(src Source, channelKey string) ([]string, error) {
	data, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if channelKey == "" {
		channelKey = DefaultChannel
	}

	channel := gjson.GetBytes(data, "channels."+escape(channelKey))
	var ids []string
	if channel.Get("privateKey").Exists() && !channel.Get("accounts.default").Exists() {
		ids = append(ids, DefaultAccountID)
	}
	channel.Get("accounts").ForEach(func(key, _ gjson.Result) bool {
		ids = append(ids, key.String())
		return true
	})
	return ids, nil
}

// WriteProfile stores p as the profile of the account, leaving the rest of the document
// as it was.
func WriteProfile(src Source, channelKey, accountID string, p nostr.Profile) error {
	data, err := src.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}
	if channelKey == "" {
		channelKey = DefaultChannel
	}
	if accountID == "" {
		accountID = DefaultAccountID
	}

	path := "channels." + escape(channelKey)
	if accountID != DefaultAccountID || gjson.GetBytes(data, path+".accounts.default").Exists() {
		path += ".accounts." + escape(accountID)
	}
	path += ".profile"

	raw, err := p.MarshalJSON()
	if err != nil {
		return err
	}
	updated, err := sjson.SetRawBytes(data, path, raw)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	return src.Write(updated)
}

func parsePubKey(s string) (nostr.PubKey, error) {
	if strings.HasPrefix(s, "npub1") || strings.HasPrefix(s, "nprofile1") {
		return nip19.DecodePublicKey(s)
	}
	return nostr.PubKeyFromHex(s)
}

// escape makes a single key safe to use as a gjson/sjson path component.
func escape(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
