// Package nip04 implements the legacy NIP-04 direct message encryption.
package nip04

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"fiatjaf.com/nostrbus"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrInvalidPayload = errors.New("invalid nip04 payload")

// ComputeSharedSecret returns the x coordinate of sk*pub, used directly as the AES key.
func ComputeSharedSecret(pub nostr.PubKey, sk nostr.SecretKey) (sharedSecret []byte, err error) {
	if !nostr.IsValidSecretKey(sk) {
		return nil, fmt.Errorf("%w: secret key out of range", nostr.ErrInvalidKeyFormat)
	}

	pubKey, err := secp256k1.ParsePubKey(append([]byte{2}, pub[:]...))
	if err != nil {
		return nil, fmt.Errorf("error parsing receiver public key '%s': %w", pub.Hex(), err)
	}

	var scalar secp256k1.ModNScalar
	scalar.SetBytes((*[32]byte)(&sk))

	var point, result secp256k1.JacobianPoint
	pubKey.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&scalar, &point, &result)
	result.ToAffine()

	sharedSecret = make([]byte, 32)
	result.X.PutBytesUnchecked(sharedSecret)
	return sharedSecret, nil
}

// Encrypt encrypts message with key using aes-256-cbc.
// key should be the shared secret generated by ComputeSharedSecret.
// Returns: base64(encrypted_bytes) + "?iv=" + base64(initialization_vector).
func Encrypt(message string, key []byte) (string, error) {
	// block size is 16 bytes
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("error creating initialization vector: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating block cipher: %w", err)
	}

	// PKCS#7 padding, a full block when the message is already aligned
	plaintext := []byte(message)
	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	plaintext = append(plaintext, bytes.Repeat([]byte{byte(padding)}, padding)...)

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt decrypts a content string using the shared secret key.
// The inverse operation to message -> Encrypt(message, key).
func Decrypt(content string, key []byte) (string, error) {
	ct, ivs, ok := strings.Cut(content, "?iv=")
	if !ok {
		return "", fmt.Errorf("%w: missing iv", ErrInvalidPayload)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ct)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext base64: %w", ErrInvalidPayload, err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivs)
	if err != nil {
		return "", fmt.Errorf("%w: iv base64: %w", ErrInvalidPayload, err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: iv must be %d bytes", ErrInvalidPayload, aes.BlockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrInvalidPayload)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating block cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	// remove and check padding
	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return "", fmt.Errorf("%w: bad padding", ErrInvalidPayload)
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return "", fmt.Errorf("%w: bad padding", ErrInvalidPayload)
		}
	}

	return string(plaintext[:len(plaintext)-padding]), nil
}
