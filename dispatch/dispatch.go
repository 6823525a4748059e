// Package dispatch turns bus messages into the host's inbound message shape and
// routes the host's answers back as replies.
package dispatch

import (
	"context"
	"strings"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/bus"
	"github.com/rs/zerolog"
)

const (
	Surface  = "nostr"
	ChatType = "direct"
)

// InboundContext is everything the host needs to handle one direct message.
type InboundContext struct {
	Surface   string
	Provider  string
	AccountID string

	// From, To and SenderID are hex pubkeys.
	From     string
	To       string
	SenderID string

	Body    string
	RawBody string

	ChatType   string
	SessionKey string

	CommandAuthorized bool
	Timestamp         time.Time
}

// Deliver sends one piece of the host's answer back to the sender.
type Deliver func(ctx context.Context, text string) error

// Dispatcher is the host side: it decides what, if anything, to answer.
type Dispatcher interface {
	Dispatch(ctx context.Context, in InboundContext, deliver Deliver) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, in InboundContext, deliver Deliver) error

func (f DispatcherFunc) Dispatch(ctx context.Context, in InboundContext, deliver Deliver) error {
	return f(ctx, in, deliver)
}

// Adapter connects a bus to a Dispatcher. Its Handle method is a bus.MessageHandler.
type Adapter struct {
	AccountID  string
	Self       nostr.PubKey
	Dispatcher Dispatcher

	// Authorized tells whether a sender may run commands. Nil authorizes everyone.
	Authorized func(sender nostr.PubKey) bool

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *zerolog.Logger
}

var _ bus.MessageHandler = (*Adapter)(nil).Handle

// Handle builds the InboundContext for a message and runs the dispatcher. Errors are
// logged, never returned to the bus.
func (a *Adapter) Handle(ctx context.Context, sender nostr.PubKey, text string, reply bus.ReplyFunc) {
	in := a.inbound(sender, text)
	log := a.logger().With().Str("account", in.AccountID).Str("from", in.SenderID).Logger()

	deliver := func(ctx context.Context, text string) error {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		if err := reply(ctx, text); err != nil {
			log.Warn().Err(err).Msg("failed to deliver reply")
			return err
		}
		return nil
	}

	if err := a.Dispatcher.Dispatch(ctx, in, deliver); err != nil {
		log.Error().Err(err).Msg("dispatch failed")
	}
}

func (a *Adapter) inbound(sender nostr.PubKey, text string) InboundContext {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	account := a.AccountID
	if account == "" {
		account = bus.DefaultAccountID
	}
	senderHex := sender.Hex()

	return InboundContext{
		Surface:           Surface,
		Provider:          Surface,
		AccountID:         account,
		From:              senderHex,
		To:                a.Self.Hex(),
		SenderID:          senderHex,
		Body:              text,
		RawBody:           text,
		ChatType:          ChatType,
		SessionKey:        Surface + ":" + senderHex,
		CommandAuthorized: a.Authorized == nil || a.Authorized(sender),
		Timestamp:         now(),
	}
}

func (a *Adapter) logger() *zerolog.Logger {
	if a.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return a.Logger
}
