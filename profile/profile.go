// Package profile publishes an identity's kind 0 metadata to a set of relays.
package profile

import (
	"context"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/codec"
)

// DefaultTimeout bounds each relay's part of a publish.
const DefaultTimeout = 5 * time.Second

type Options struct {
	// Timeout for each relay, covering connection and the wait for OK.
	Timeout time.Duration
}

// CreateProfileEvent returns the signed kind 0 event for p.
func CreateProfileEvent(sk nostr.SecretKey, p nostr.Profile) (nostr.Event, error) {
	return codec.BuildProfileEvent(sk, p)
}

// Publish signs p and sends it to every relay in parallel. Relay failures are reported
// in the result; only failing to build the event is an error.
func Publish(ctx context.Context, pool *nostr.Pool, sk nostr.SecretKey, relays []string, p nostr.Profile, opts Options) (nostr.PublishResult, error) {
	evt, err := CreateProfileEvent(sk, p)
	if err != nil {
		return nostr.PublishResult{}, err
	}
	return PublishEvent(ctx, pool, relays, evt, opts), nil
}

// PublishEvent sends an already signed profile event.
func PublishEvent(ctx context.Context, pool *nostr.Pool, relays []string, evt nostr.Event, opts Options) nostr.PublishResult {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return pool.PublishAll(ctx, relays, evt, opts.Timeout)
}
