package keyer

import (
	"context"
	"fmt"
	"strings"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/nip04"
	"fiatjaf.com/nostrbus/nip44"
	"github.com/dgraph-io/ristretto/v2"
)

var _ nostr.Keyer = (*KeySigner)(nil)

// DefaultSharedSecretCacheSize bounds how many peers we keep shared secrets for.
const DefaultSharedSecretCacheSize = 1024

// KeySigner is a signer that holds the private key in memory.
// Shared secrets with peers are kept in a bounded cache since deriving them costs a
// scalar multiplication.
type KeySigner struct {
	sk nostr.SecretKey
	pk nostr.PubKey

	secrets *ristretto.Cache[string, []byte]
}

// NewPlainKeySigner creates a new KeySigner from a private key.
// Returns an error if the private key is invalid.
func NewPlainKeySigner(sk nostr.SecretKey) (*KeySigner, error) {
	if !nostr.IsValidSecretKey(sk) {
		return nil, nostr.ErrInvalidKeyFormat
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: DefaultSharedSecretCacheSize * 10,
		MaxCost:     DefaultSharedSecretCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("shared secret cache: %w", err)
	}

	return &KeySigner{sk: sk, pk: nostr.GetPublicKey(sk), secrets: cache}, nil
}

// SignEvent signs the provided event with the signer's private key.
// It sets the event's ID, PubKey, and Sig fields.
func (ks *KeySigner) SignEvent(ctx context.Context, evt *nostr.Event) error { return evt.Sign(ks.sk) }

// GetPublicKey returns the public key associated with this signer.
func (ks *KeySigner) GetPublicKey(ctx context.Context) (nostr.PubKey, error) { return ks.pk, nil }

// PublicKey is GetPublicKey without the ceremony.
func (ks *KeySigner) PublicKey() nostr.PubKey { return ks.pk }

// Encrypt encrypts a plaintext message for a recipient using NIP-44.
func (ks *KeySigner) Encrypt(ctx context.Context, plaintext string, recipient nostr.PubKey) (string, error) {
	ck, err := ks.conversationKey(recipient)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, ck)
}

// Decrypt decrypts a payload from a sender. NIP-04 payloads are recognized by
// their "?iv=" suffix, anything else is taken as NIP-44.
func (ks *KeySigner) Decrypt(ctx context.Context, ciphertext string, sender nostr.PubKey) (string, error) {
	if IsNIP04Payload(ciphertext) {
		return ks.DecryptNIP04(ctx, ciphertext, sender)
	}

	ck, err := ks.conversationKey(sender)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(ciphertext, ck)
}

// EncryptNIP04 encrypts a plaintext message for a recipient using the legacy NIP-04 scheme.
func (ks *KeySigner) EncryptNIP04(ctx context.Context, plaintext string, recipient nostr.PubKey) (string, error) {
	secret, err := ks.sharedSecret(recipient)
	if err != nil {
		return "", err
	}
	return nip04.Encrypt(plaintext, secret)
}

// DecryptNIP04 decrypts a NIP-04 payload.
func (ks *KeySigner) DecryptNIP04(ctx context.Context, ciphertext string, sender nostr.PubKey) (string, error) {
	secret, err := ks.sharedSecret(sender)
	if err != nil {
		return "", err
	}
	return nip04.Decrypt(ciphertext, secret)
}

// Close releases the cache.
func (ks *KeySigner) Close() { ks.secrets.Close() }

// IsNIP04Payload tells a NIP-04 payload apart from a NIP-44 one.
func IsNIP04Payload(ciphertext string) bool {
	return strings.Contains(ciphertext, "?iv=")
}

func (ks *KeySigner) sharedSecret(peer nostr.PubKey) ([]byte, error) {
	key := "04:" + peer.Hex()
	if secret, ok := ks.secrets.Get(key); ok {
		return secret, nil
	}

	secret, err := nip04.ComputeSharedSecret(peer, ks.sk)
	if err != nil {
		return nil, err
	}
	ks.secrets.Set(key, secret, 1)
	return secret, nil
}

func (ks *KeySigner) conversationKey(peer nostr.PubKey) (nip44.ConversationKey, error) {
	key := "44:" + peer.Hex()
	if ck, ok := ks.secrets.Get(key); ok {
		return nip44.ConversationKey(ck), nil
	}

	ck, err := nip44.GenerateConversationKey(peer, ks.sk)
	if err != nil {
		return ck, err
	}
	ks.secrets.Set(key, ck[:], 1)
	return ck, nil
}
