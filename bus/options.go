package bus

import (
	"context"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/codec"
	"fiatjaf.com/nostrbus/kvstore"
	"fiatjaf.com/nostrbus/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultLookback       = 2 * time.Minute
	DefaultPublishTimeout = 5 * time.Second
	DefaultReconnectMin   = time.Second
	DefaultReconnectMax   = 5 * time.Minute
	DefaultAccountID      = "default"

	metricsQueueSize = 1024
)

// ReplyFunc sends text back to the sender of the message being handled.
type ReplyFunc func(ctx context.Context, text string) error

// MessageHandler receives every decrypted direct message once, no matter how many
// relays delivered it. ctx is canceled when the bus closes.
type MessageHandler func(ctx context.Context, sender nostr.PubKey, text string, reply ReplyFunc)

// Options configure a Bus. Only SecretKey and Relays are required.
type Options struct {
	// SecretKey is hex, nsec or a NIP-06 mnemonic.
	SecretKey string
	Relays    []string
	AccountID string

	OnMessage    MessageHandler
	OnError      func(err error, where string)
	OnConnect    func(relay string)
	OnDisconnect func(relay string)
	OnEose       func(relay string)
	OnMetric     func(metrics.Metric)

	// Lookback is how far back a subscription reaches when the relay has no stored
	// cursor. Resubscriptions after a relay reached EOSE always reach back at least
	// this far. Keep it below DedupTTL.
	Lookback time.Duration

	// PublishTimeout bounds each relay's part of a publish.
	PublishTimeout time.Duration

	// PublishQuorum is how many relays must accept a reply before it returns.
	// Zero sends replies in the background.
	PublishQuorum int

	DedupSize int
	DedupTTL  time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Scheme used to encrypt outgoing messages.
	Scheme codec.Scheme

	// State keeps the per relay subscription cursors between runs. Nil keeps them in
	// memory only.
	State kvstore.KVStore

	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.AccountID == "" {
		o.AccountID = DefaultAccountID
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.PublishQuorum < 0 {
		o.PublishQuorum = 0
	}
	if o.DedupSize <= 0 {
		o.DedupSize = DefaultDedupSize
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = DefaultDedupTTL
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = DefaultReconnectMin
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = DefaultReconnectMax
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = o.ReconnectMin
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}
