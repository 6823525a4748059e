package nostr

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

var (
	ZeroID = ID{}
	ZeroPK = PubKey{}
)

// Timestamp is a unix timestamp in seconds.
type Timestamp int64

func Now() Timestamp { return Timestamp(time.Now().Unix()) }

func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0) }

func (t Timestamp) String() string { return strconv.FormatInt(int64(t), 10) }

// ID is the sha256 of a serialized event.
type ID [32]byte

func (id ID) String() string { return "id::" + id.Hex() }
func (id ID) Hex() string    { return hex.EncodeToString(id[:]) }

func (id ID) MarshalJSON() ([]byte, error) { return quotedHex(id[:]), nil }

func (id *ID) UnmarshalJSON(buf []byte) error { return unquoteHex(buf, id[:]) }

func IDFromHex(idh string) (ID, error) {
	id := ID{}
	if err := decodeHex32(idh, id[:]); err != nil {
		return id, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}

func MustIDFromHex(idh string) ID {
	id, err := IDFromHex(idh)
	if err != nil {
		panic(err)
	}
	return id
}

// PubKey is a BIP-340 x-only public key.
type PubKey [32]byte

func (pk PubKey) String() string { return "pk::" + pk.Hex() }
func (pk PubKey) Hex() string    { return hex.EncodeToString(pk[:]) }

func (pk PubKey) MarshalJSON() ([]byte, error) { return quotedHex(pk[:]), nil }

func (pk *PubKey) UnmarshalJSON(buf []byte) error { return unquoteHex(buf, pk[:]) }

// PubKeyFromHex parses a hex pubkey and checks that it is a point on the curve.
func PubKeyFromHex(pkh string) (PubKey, error) {
	pk, err := PubKeyFromHexCheap(pkh)
	if err != nil {
		return pk, err
	}
	if !IsValidPublicKey(pk) {
		return pk, fmt.Errorf("'%s' is not a valid pubkey", pkh)
	}
	return pk, nil
}

// PubKeyFromHexCheap is like PubKeyFromHex but skips the curve check.
func PubKeyFromHexCheap(pkh string) (PubKey, error) {
	pk := PubKey{}
	if err := decodeHex32(pkh, pk[:]); err != nil {
		return pk, fmt.Errorf("invalid pubkey: %w", err)
	}
	return pk, nil
}

func MustPubKeyFromHex(pkh string) PubKey {
	pk, err := PubKeyFromHexCheap(pkh)
	if err != nil {
		panic(err)
	}
	return pk
}

// SecretKey is a secp256k1 scalar. It is never printed.
type SecretKey [32]byte

func (sk SecretKey) String() string { return "sk::<redacted>" }

// Hex returns the raw hex encoding, for writing to an encrypted config store only.
func (sk SecretKey) Hex() string { return hex.EncodeToString(sk[:]) }

func (sk SecretKey) Public() PubKey { return GetPublicKey(sk) }

// SecretKeyFromHex decodes 64 hex chars. It does not check the scalar range, see IsValidSecretKey.
func SecretKeyFromHex(skh string) (SecretKey, error) {
	sk := SecretKey{}
	if err := decodeHex32(skh, sk[:]); err != nil {
		return sk, fmt.Errorf("%w: %w", ErrInvalidKeyFormat, err)
	}
	return sk, nil
}

func decodeHex32(h string, dst []byte) error {
	if len(h) != 64 {
		return fmt.Errorf("should be 64-char hex, got %d chars", len(h))
	}
	if _, err := hex.Decode(dst, []byte(h)); err != nil {
		return fmt.Errorf("'%s' is not valid hex: %w", h, err)
	}
	return nil
}

func quotedHex(b []byte) []byte {
	dst := make([]byte, 2+hex.EncodedLen(len(b)))
	dst[0] = '"'
	hex.Encode(dst[1:], b)
	dst[len(dst)-1] = '"'
	return dst
}

func unquoteHex(buf []byte, dst []byte) error {
	if len(buf) != 2+2*len(dst) || buf[0] != '"' || buf[len(buf)-1] != '"' {
		return fmt.Errorf("must be a hex string of %d characters", 2*len(dst))
	}
	if _, err := hex.Decode(dst, buf[1:len(buf)-1]); err != nil {
		return err
	}
	return nil
}
