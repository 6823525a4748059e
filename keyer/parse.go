package keyer

import (
	"fmt"
	"strings"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/nip19"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// ParseSecretKey accepts a 64-char hex key, an nsec or a BIP-39 mnemonic (derived with
// the NIP-06 path m/44'/1237'/0'/0/0). Any other input, or a key that is zero or not
// below the curve order, fails with nostr.ErrInvalidKeyFormat.
func ParseSecretKey(raw string) (nostr.SecretKey, error) {
	raw = strings.TrimSpace(raw)

	var sk nostr.SecretKey
	var err error
	switch {
	case raw == "":
		return sk, fmt.Errorf("%w: empty key", nostr.ErrInvalidKeyFormat)
	case strings.HasPrefix(raw, "nsec1"):
		sk, err = nip19.DecodeSecretKey(raw)
		if err != nil {
			return sk, fmt.Errorf("%w: %w", nostr.ErrInvalidKeyFormat, err)
		}
	case len(raw) == 64:
		sk, err = nostr.SecretKeyFromHex(strings.ToLower(raw))
		if err != nil {
			return sk, err
		}
	case strings.Count(raw, " ") >= 11:
		sk, err = SecretKeyFromMnemonic(raw, "")
		if err != nil {
			return sk, err
		}
	default:
		return sk, fmt.Errorf("%w: expected 64 hex chars, nsec or mnemonic", nostr.ErrInvalidKeyFormat)
	}

	if !nostr.IsValidSecretKey(sk) {
		return nostr.SecretKey{}, fmt.Errorf("%w: scalar out of range", nostr.ErrInvalidKeyFormat)
	}
	return sk, nil
}

// SecretKeyFromMnemonic derives the first account key of a BIP-39 mnemonic as in NIP-06.
func SecretKeyFromMnemonic(mnemonic string, password string) (nostr.SecretKey, error) {
	var sk nostr.SecretKey

	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, password)
	if err != nil {
		return sk, fmt.Errorf("%w: %w", nostr.ErrInvalidKeyFormat, err)
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return sk, fmt.Errorf("%w: %w", nostr.ErrInvalidKeyFormat, err)
	}

	// m/44'/1237'/0'/0/0
	for _, idx := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 1237,
		bip32.FirstHardenedChild + 0,
		0,
		0,
	} {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return sk, fmt.Errorf("%w: derivation: %w", nostr.ErrInvalidKeyFormat, err)
		}
	}

	copy(sk[:], key.Key)
	return sk, nil
}
