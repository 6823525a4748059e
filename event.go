package nostr

import (
	"crypto/sha256"
)

// Event represents a Nostr event.
type Event struct {
	ID        ID
	PubKey    PubKey
	CreatedAt Timestamp
	Kind      Kind
	Tags      Tags
	Content   string
	Sig       [64]byte
}

// GetID serializes the event and returns its sha256.
func (evt Event) GetID() ID {
	return sha256.Sum256(evt.Serialize())
}

// CheckID checks if the implied ID matches the given ID.
func (evt Event) CheckID() bool {
	return evt.GetID() == evt.ID
}

// Recipient returns the first "p" tag value, or the zero key if there is none or it is malformed.
func (evt Event) Recipient() PubKey {
	if tag := evt.Tags.Find("p"); tag != nil {
		if pk, err := PubKeyFromHexCheap(tag[1]); err == nil {
			return pk
		}
	}
	return ZeroPK
}
