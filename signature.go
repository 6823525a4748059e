package nostr

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// VerifySignature checks the signature against PubKey.
// It won't look at the ID field, instead it recomputes the hash from the event body.
func (evt Event) VerifySignature() bool {
	pubkey, err := schnorr.ParsePubKey(evt.PubKey[:])
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(evt.Sig[:])
	if err != nil {
		return false
	}

	hash := sha256.Sum256(evt.Serialize())
	return sig.Verify(hash[:], pubkey)
}

// Verify is VerifySignature plus a check that the ID field matches the body.
// Events that fail this must never be handed to consumers.
func (evt Event) Verify() bool {
	return evt.CheckID() && evt.VerifySignature()
}

// Sign sets the event's PubKey, ID and Sig fields from secretKey.
// Any later change to a signed field requires signing again.
func (evt *Event) Sign(secretKey SecretKey) error {
	if !IsValidSecretKey(secretKey) {
		return ErrInvalidKeyFormat
	}
	if evt.Tags == nil {
		evt.Tags = make(Tags, 0)
	}

	sk, pk := btcec.PrivKeyFromBytes(secretKey[:])
	evt.PubKey = PubKey(pk.SerializeCompressed()[1:])

	h := sha256.Sum256(evt.Serialize())
	sig, err := schnorr.Sign(sk, h[:], schnorr.FastSign())
	if err != nil {
		return fmt.Errorf("schnorr: %w", err)
	}

	evt.ID = h
	evt.Sig = [64]byte(sig.Serialize())

	return nil
}
