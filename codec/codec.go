// Package codec builds and opens the events this bus exchanges: kind 0 profile
// metadata and kind 4 encrypted direct messages.
package codec

import (
	"context"
	"fmt"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/keyer"
)

// Scheme selects the payload encryption for outgoing direct messages.
// Incoming payloads are always recognized regardless of this setting.
type Scheme int

const (
	SchemeNIP04 Scheme = iota
	SchemeNIP44
)

func (s Scheme) String() string {
	switch s {
	case SchemeNIP04:
		return "nip04"
	case SchemeNIP44:
		return "nip44"
	}
	return "unknown"
}

// ParseScheme reads "nip04" or "nip44".
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "", "nip04", "nip-04", "04":
		return SchemeNIP04, nil
	case "nip44", "nip-44", "44":
		return SchemeNIP44, nil
	}
	return SchemeNIP04, fmt.Errorf("unknown encryption scheme '%s'", s)
}

// Codec builds events for a single identity.
type Codec struct {
	Signer *keyer.KeySigner
	Scheme Scheme

	// Now is the clock used for created_at, defaults to nostr.Now.
	Now func() nostr.Timestamp
}

// New returns a Codec for sk.
func New(sk nostr.SecretKey, scheme Scheme) (*Codec, error) {
	signer, err := keyer.NewPlainKeySigner(sk)
	if err != nil {
		return nil, err
	}
	return &Codec{Signer: signer, Scheme: scheme, Now: nostr.Now}, nil
}

// PublicKey of the identity this codec signs for.
func (c *Codec) PublicKey() nostr.PubKey { return c.Signer.PublicKey() }

func (c *Codec) now() nostr.Timestamp {
	if c.Now == nil {
		return nostr.Now()
	}
	return c.Now()
}

// BuildProfileEvent returns a signed kind 0 event with the canonical profile JSON as content.
func (c *Codec) BuildProfileEvent(p nostr.Profile) (nostr.Event, error) {
	content, err := p.MarshalJSON()
	if err != nil {
		return nostr.Event{}, fmt.Errorf("profile json: %w", err)
	}

	evt := nostr.Event{
		Kind:      nostr.KindProfileMetadata,
		CreatedAt: c.now(),
		Tags:      nostr.Tags{},
		Content:   string(content),
	}
	if err := c.Signer.SignEvent(context.Background(), &evt); err != nil {
		return nostr.Event{}, err
	}
	return evt, nil
}

// BuildDirectMessageEvent returns a signed kind 4 event carrying plaintext encrypted for recipient.
func (c *Codec) BuildDirectMessageEvent(ctx context.Context, recipient nostr.PubKey, plaintext string) (nostr.Event, error) {
	var content string
	var err error
	switch c.Scheme {
	case SchemeNIP44:
		content, err = c.Signer.Encrypt(ctx, plaintext, recipient)
	default:
		content, err = c.Signer.EncryptNIP04(ctx, plaintext, recipient)
	}
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt for %s: %w", recipient.Hex(), err)
	}

	evt := nostr.Event{
		Kind:      nostr.KindEncryptedDirectMessage,
		CreatedAt: c.now(),
		Tags:      nostr.Tags{{"p", recipient.Hex()}},
		Content:   content,
	}
	if err := c.Signer.SignEvent(ctx, &evt); err != nil {
		return nostr.Event{}, err
	}
	return evt, nil
}

// DecryptDirectMessage returns the plaintext of a kind 4 event addressed to us, or sent
// by us. Everything else fails with nostr.ErrDecryptionFailed.
func (c *Codec) DecryptDirectMessage(ctx context.Context, evt nostr.Event) (string, error) {
	if evt.Kind != nostr.KindEncryptedDirectMessage {
		return "", fmt.Errorf("%w: kind %d is not a direct message", nostr.ErrDecryptionFailed, evt.Kind)
	}

	us := c.PublicKey()
	var peer nostr.PubKey
	if evt.PubKey == us {
		// our own outbound message, the peer is whoever it was sent to
		peer = evt.Recipient()
		if peer == nostr.ZeroPK {
			return "", fmt.Errorf("%w: outbound message without recipient", nostr.ErrDecryptionFailed)
		}
	} else {
		if evt.Tags.FindWithValue("p", us.Hex()) == nil {
			return "", fmt.Errorf("%w: not addressed to us", nostr.ErrDecryptionFailed)
		}
		peer = evt.PubKey
	}

	plaintext, err := c.Signer.Decrypt(ctx, evt.Content, peer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", nostr.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// Close releases the signer's cache.
func (c *Codec) Close() { c.Signer.Close() }

// VerifyEvent recomputes the id and checks the signature.
func VerifyEvent(evt nostr.Event) bool { return evt.Verify() }

// BuildProfileEvent is Codec.BuildProfileEvent for a one-off key.
func BuildProfileEvent(sk nostr.SecretKey, p nostr.Profile) (nostr.Event, error) {
	c, err := New(sk, SchemeNIP04)
	if err != nil {
		return nostr.Event{}, err
	}
	defer c.Close()
	return c.BuildProfileEvent(p)
}

// BuildDirectMessageEvent is Codec.BuildDirectMessageEvent for a one-off key, using NIP-04.
func BuildDirectMessageEvent(sk nostr.SecretKey, recipient nostr.PubKey, plaintext string) (nostr.Event, error) {
	c, err := New(sk, SchemeNIP04)
	if err != nil {
		return nostr.Event{}, err
	}
	defer c.Close()
	return c.BuildDirectMessageEvent(context.Background(), recipient, plaintext)
}

// DecryptDirectMessage is Codec.DecryptDirectMessage for a one-off key.
func DecryptDirectMessage(sk nostr.SecretKey, evt nostr.Event) (string, error) {
	c, err := New(sk, SchemeNIP04)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.DecryptDirectMessage(context.Background(), evt)
}
