// Package nip19 encodes and decodes the bech32 key formats (nsec, npub, nprofile).
package nip19

import (
	"bytes"
	"fmt"

	"fiatjaf.com/nostrbus"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// ProfilePointer is a public key plus relays where the profile can be found.
type ProfilePointer struct {
	PublicKey nostr.PubKey
	Relays    []string
}

// Decode returns the prefix and the decoded value: a nostr.SecretKey for nsec, a
// nostr.PubKey for npub and a ProfilePointer for nprofile.
func Decode(bech32string string) (prefix string, value any, err error) {
	prefix, bits5, err := bech32.DecodeNoLimit(bech32string)
	if err != nil {
		return "", nil, err
	}

	data, err := bech32.ConvertBits(bits5, 5, 8, false)
	if err != nil {
		return prefix, nil, fmt.Errorf("failed to translate data into 8 bits: %s", err.Error())
	}

	switch prefix {
	case "nsec":
		if len(data) != 32 {
			return prefix, nil, fmt.Errorf("nsec should be 32 bytes (%d)", len(data))
		}
		return prefix, nostr.SecretKey(data[0:32]), nil
	case "npub":
		if len(data) != 32 {
			return prefix, nil, fmt.Errorf("npub should be 32 bytes (%d)", len(data))
		}
		return prefix, nostr.PubKey(data[0:32]), nil
	case "nprofile":
		var result ProfilePointer
		curr := 0
		for {
			t, v := readTLVEntry(data[curr:])
			if v == nil {
				// end here
				if result.PublicKey == nostr.ZeroPK {
					return prefix, result, fmt.Errorf("no pubkey found for nprofile")
				}
				return prefix, result, nil
			}

			switch t {
			case tlvDefault:
				if len(v) != 32 {
					return prefix, nil, fmt.Errorf("pubkey should be 32 bytes (%d)", len(v))
				}
				result.PublicKey = nostr.PubKey(v)
			case tlvRelay:
				result.Relays = append(result.Relays, string(v))
			}

			curr = curr + 2 + len(v)
		}
	}

	return prefix, data, fmt.Errorf("unknown tag %s", prefix)
}

// DecodeSecretKey decodes an nsec.
func DecodeSecretKey(nsec string) (nostr.SecretKey, error) {
	prefix, value, err := Decode(nsec)
	if err != nil {
		return nostr.SecretKey{}, err
	}
	sk, ok := value.(nostr.SecretKey)
	if !ok {
		return nostr.SecretKey{}, fmt.Errorf("expected nsec, got %s", prefix)
	}
	return sk, nil
}

// DecodePublicKey accepts an npub or an nprofile.
func DecodePublicKey(code string) (nostr.PubKey, error) {
	prefix, value, err := Decode(code)
	if err != nil {
		return nostr.ZeroPK, err
	}
	switch v := value.(type) {
	case nostr.PubKey:
		return v, nil
	case ProfilePointer:
		return v.PublicKey, nil
	}
	return nostr.ZeroPK, fmt.Errorf("expected npub or nprofile, got %s", prefix)
}

func EncodeNsec(sk nostr.SecretKey) string {
	bits5, _ := bech32.ConvertBits(sk[:], 8, 5, true)
	nsec, _ := bech32.Encode("nsec", bits5)
	return nsec
}

func EncodeNpub(pk nostr.PubKey) string {
	bits5, _ := bech32.ConvertBits(pk[:], 8, 5, true)
	npub, _ := bech32.Encode("npub", bits5)
	return npub
}

func EncodeNprofile(pk nostr.PubKey, relays []string) string {
	buf := &bytes.Buffer{}
	writeTLVEntry(buf, tlvDefault, pk[:])

	for _, url := range relays {
		writeTLVEntry(buf, tlvRelay, []byte(url))
	}

	bits5, _ := bech32.ConvertBits(buf.Bytes(), 8, 5, true)
	nprofile, _ := bech32.Encode("nprofile", bits5)
	return nprofile
}
