package nostr

import (
	"context"
)

// Publisher is anything an event can be sent to, like a *Relay.
type Publisher interface {
	Publish(context.Context, Event) error
}

var _ Publisher = (*Relay)(nil)

// Signer signs events on behalf of a single identity.
type Signer interface {
	GetPublicKey(context.Context) (PubKey, error)
	SignEvent(context.Context, *Event) error
}

// Cipher encrypts and decrypts direct message payloads between our identity and a peer.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string, recipient PubKey) (ciphertext string, err error)
	Decrypt(ctx context.Context, ciphertext string, sender PubKey) (plaintext string, err error)
}

// Keyer is a Signer that is also a Cipher.
type Keyer interface {
	Signer
	Cipher
}
