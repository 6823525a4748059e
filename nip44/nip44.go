// Package nip44 implements version 2 of the NIP-44 payload encryption.
package nip44

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"fiatjaf.com/nostrbus"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const version byte = 2

const (
	minPayloadLen = 132
	maxPlaintext  = 1<<32 - 1
)

var (
	ErrUnknownVersion = errors.New("unknown nip44 version")
	ErrInvalidMAC     = errors.New("invalid hmac")
	ErrInvalidPadding = errors.New("invalid padding")
)

// ConversationKey is the long-lived key two parties derive from each other's keys.
type ConversationKey [32]byte

// GenerateConversationKey derives the key shared between sk and pub.
func GenerateConversationKey(pub nostr.PubKey, sk nostr.SecretKey) (ConversationKey, error) {
	var ck ConversationKey

	if !nostr.IsValidSecretKey(sk) {
		return ck, fmt.Errorf("%w: secret key out of range", nostr.ErrInvalidKeyFormat)
	}

	shared, err := sharedX(pub, sk)
	if err != nil {
		return ck, err
	}

	copy(ck[:], hkdf.Extract(sha256.New, shared[:], []byte("nip44-v2")))
	return ck, nil
}

// Encrypt seals plaintext with a random nonce.
func Encrypt(plaintext string, key ConversationKey) (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return EncryptWithNonce(plaintext, key, nonce)
}

// EncryptWithNonce is Encrypt with a caller-chosen nonce, for test vectors.
func EncryptWithNonce(plaintext string, key ConversationKey, nonce [32]byte) (string, error) {
	if len(plaintext) > maxPlaintext {
		return "", fmt.Errorf("plaintext too long: %d bytes", len(plaintext))
	}

	streamKey, streamNonce, hmacKey := messageKeys(key, nonce)

	ciphertext := pad(plaintext)
	if err := xor(streamKey, streamNonce, ciphertext); err != nil {
		return "", err
	}

	out := make([]byte, 0, 1+32+len(ciphertext)+32)
	out = append(out, version)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	out = append(out, mac(hmacKey, nonce, ciphertext)...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64 payload produced by Encrypt.
func Decrypt(payload string, key ConversationKey) (string, error) {
	if len(payload) == 0 || payload[0] == '#' {
		return "", ErrUnknownVersion
	}
	if len(payload) < minPayloadLen {
		return "", fmt.Errorf("invalid payload length: %d", len(payload))
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	if raw[0] != version {
		return "", fmt.Errorf("%w: %d", ErrUnknownVersion, raw[0])
	}
	if len(raw) < 99 {
		return "", fmt.Errorf("invalid data length: %d", len(raw))
	}

	nonce := [32]byte(raw[1:33])
	ciphertext := raw[33 : len(raw)-32]
	given := raw[len(raw)-32:]

	streamKey, streamNonce, hmacKey := messageKeys(key, nonce)
	if !hmac.Equal(given, mac(hmacKey, nonce, ciphertext)) {
		return "", ErrInvalidMAC
	}

	padded := make([]byte, len(ciphertext))
	copy(padded, ciphertext)
	if err := xor(streamKey, streamNonce, padded); err != nil {
		return "", err
	}

	return unpad(padded)
}

// pad prefixes the plaintext with its length and fills up to the padded size.
// Lengths that don't fit in 16 bits (and the empty string) use a zero marker
// followed by a 32-bit length.
func pad(plaintext string) []byte {
	size := len(plaintext)
	if size > 0 && size < 1<<16 {
		padded := make([]byte, 2+calcPadding(size))
		binary.BigEndian.PutUint16(padded, uint16(size))
		copy(padded[2:], plaintext)
		return padded
	}

	padded := make([]byte, 6+calcPadding(size))
	binary.BigEndian.PutUint32(padded[2:6], uint32(size))
	copy(padded[6:], plaintext)
	return padded
}

func unpad(padded []byte) (string, error) {
	if len(padded) < 2 {
		return "", ErrInvalidPadding
	}

	size := int(binary.BigEndian.Uint16(padded))
	offset := 2
	if size == 0 {
		if len(padded) < 6 {
			return "", ErrInvalidPadding
		}
		size = int(binary.BigEndian.Uint32(padded[2:6]))
		offset = 6
	}

	if len(padded) != offset+calcPadding(size) {
		return "", ErrInvalidPadding
	}
	return string(padded[offset : offset+size]), nil
}

// calcPadding returns the padded length for a plaintext of sLen bytes.
func calcPadding(sLen int) int {
	if sLen <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(sLen-1))
	chunk := max(32, nextPower/8)
	return chunk * ((sLen-1)/chunk + 1)
}

func messageKeys(key ConversationKey, nonce [32]byte) (streamKey []byte, streamNonce []byte, hmacKey []byte) {
	r := hkdf.Expand(sha256.New, key[:], nonce[:])

	buf := make([]byte, 32+12+32)
	// hkdf can produce up to 255*32 bytes, this never fails
	io.ReadFull(r, buf)

	return buf[0:32], buf[32:44], buf[44:76]
}

func xor(key, nonce, data []byte) error {
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return err
	}
	cipher.XORKeyStream(data, data)
	return nil
}

func mac(key []byte, nonce [32]byte, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce[:])
	h.Write(ciphertext)
	return h.Sum(nil)
}

// sharedX returns the x coordinate of sk*pub.
func sharedX(pub nostr.PubKey, sk nostr.SecretKey) ([32]byte, error) {
	var shared [32]byte

	pubKey, err := secp256k1.ParsePubKey(append([]byte{2}, pub[:]...))
	if err != nil {
		return shared, fmt.Errorf("invalid public key %s: %w", pub.Hex(), err)
	}

	var scalar secp256k1.ModNScalar
	scalar.SetBytes((*[32]byte)(&sk))

	var point, result secp256k1.JacobianPoint
	pubKey.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&scalar, &point, &result)
	result.ToAffine()
	result.X.PutBytesUnchecked(shared[:])

	return shared, nil
}
