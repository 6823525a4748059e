package nostr

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Generate returns a new random secret key.
func Generate() SecretKey {
	for {
		var sk SecretKey
		if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
			panic(fmt.Errorf("failed to read random bytes when generating private key"))
		}
		if IsValidSecretKey(sk) {
			return sk
		}
	}
}

// GetPublicKey derives the x-only public key for sk.
func GetPublicKey(sk SecretKey) PubKey {
	_, pk := btcec.PrivKeyFromBytes(sk[:])
	return PubKey(pk.SerializeCompressed()[1:])
}

func IsValidPublicKey(pk PubKey) bool {
	_, err := schnorr.ParsePubKey(pk[:])
	return err == nil
}

// IsValidSecretKey reports whether sk is a non-zero scalar below the curve order.
func IsValidSecretKey(sk SecretKey) bool {
	var s btcec.ModNScalar
	overflow := s.SetByteSlice(sk[:])
	return !overflow && !s.IsZero()
}
