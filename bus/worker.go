package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/metrics"
)

const (
	maxAuthRetries = 2
	authWait       = 10 * time.Second
)

// runRelay keeps one relay subscribed until the bus closes, reconnecting with capped
// exponential backoff.
func (b *Bus) runRelay(url string, st *relayState) {
	defer b.workers.Done()
	log := b.log.With().Str("relay", url).Logger()

	backoff := b.opts.ReconnectMin
	for attempt := 0; ; attempt++ {
		if b.ctx.Err() != nil {
			st.phase.Store(int32(nostr.StateClosed))
			return
		}
		if attempt > 0 {
			b.emitter.Emit(metrics.Relay(metrics.RelayReconnect, url))
		}
		b.emitter.Emit(metrics.Relay(metrics.RelayConnectAttempt, url))

		st.phase.Store(int32(nostr.StateConnecting))
		relay, err := b.pool.EnsureRelay(b.ctx, url)
		if err != nil {
			if b.ctx.Err() != nil {
				st.phase.Store(int32(nostr.StateClosed))
				return
			}
			st.phase.Store(int32(nostr.StateFailed))
			log.Debug().Err(err).Dur("backoff", backoff).Msg("connect failed")
			b.reportError(err, "connect "+url)
		} else {
			st.relay.Store(relay)
			st.phase.Store(int32(nostr.StateOpen))
			log.Debug().Msg("connected")
			b.relayEvent(b.opts.OnConnect, url)

			// a relay that wants AUTH before serving DMs gets one more REQ once we're in
			for range maxAuthRetries + 1 {
				healthy, retry := b.consume(relay, st)
				if healthy {
					backoff = b.opts.ReconnectMin
					st.caughtUp = true
				}
				if !retry {
					break
				}
			}

			st.phase.Store(int32(nostr.StateClosed))
			if b.ctx.Err() != nil {
				return
			}
			log.Debug().Err(context.Cause(relay.Context())).Msg("disconnected")
			b.emitter.Emit(metrics.Relay(metrics.RelayDisconnect, url))
			b.relayEvent(b.opts.OnDisconnect, url)
		}

		if !b.sleep(backoff) {
			st.phase.Store(int32(nostr.StateClosed))
			return
		}
		backoff = min(backoff*2, b.opts.ReconnectMax)
	}
}

func (b *Bus) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// consume reads the subscription on relay until it ends. healthy is true if the relay
// got as far as EOSE. retry is true when the relay closed the subscription asking for
// AUTH and then accepted ours, so the same connection can be subscribed again.
func (b *Bus) consume(relay *nostr.Relay, st *relayState) (healthy bool, retry bool) {
	url := st.url
	us := b.PublicKey()
	filter := nostr.Filter{
		Kinds: []nostr.Kind{nostr.KindEncryptedDirectMessage},
		Tags:  nostr.TagMap{"p": []string{us.Hex()}},
		Since: b.since(st),
	}

	sub, err := relay.Subscribe(b.ctx, filter, nostr.SubscriptionOptions{Label: "dm"})
	if err != nil {
		b.reportError(err, "subscribe "+url)
		relay.Close()
		return false, false
	}
	defer sub.Unsub()

	eose := sub.EndOfStoredEvents
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				select {
				case reason := <-sub.ClosedReason:
					if strings.HasPrefix(reason, "auth-required:") && b.waitAuth(relay) {
						return healthy, true
					}
					b.reportError(fmt.Errorf("subscription closed by relay: %s", reason), "subscribe "+url)
					// start over on a fresh connection
					relay.Close()
				default:
				}
				return healthy, false
			}
			b.handleEvent(st, evt)
		case <-eose:
			eose = nil
			healthy = true
			b.emitter.Emit(metrics.Relay(metrics.RelayEOSE, url))
			b.relayEvent(b.opts.OnEose, url)
		}
	}
}

func (b *Bus) waitAuth(relay *nostr.Relay) bool {
	t := time.NewTimer(authWait)
	defer t.Stop()
	select {
	case <-relay.Authenticated():
		return true
	case <-relay.Context().Done():
	case <-b.ctx.Done():
	case <-t.C:
	}
	return false
}

// since is where a new subscription on st starts. Until the relay first reached EOSE
// in this process it is the relay's stored cursor. After that it reaches back at
// least Lookback, because events can show up late or with an older created_at and
// the dedup cache covers the replays.
func (b *Bus) since(st *relayState) nostr.Timestamp {
	floor := nostr.Now() - nostr.Timestamp(b.opts.Lookback/time.Second)
	at := st.cursor.since(floor)
	if st.caughtUp {
		at = min(at, floor)
	}
	return at
}

// handleEvent takes an event off a relay subscription. The id is marked as seen only
// here so an event queued on a connection that drops is still delivered from
// another relay or from the replay after reconnecting.
func (b *Bus) handleEvent(st *relayState, evt nostr.Event) {
	url := st.url
	b.emitter.Emit(metrics.Relay(metrics.EventReceived, url))

	us := b.PublicKey()
	if evt.PubKey == us {
		return
	}

	if b.dedup.Seen(evt.ID) {
		b.emitter.Emit(metrics.Relay(metrics.EventDuplicate, url))
		b.advance(st, evt)
		return
	}

	text, err := b.codec.DecryptDirectMessage(b.ctx, evt)
	if err != nil {
		b.emitter.Emit(metrics.Relay(metrics.EventDecryptFailed, url))
		b.reportError(fmt.Errorf("event %s from %s: %w", evt.ID.Hex(), evt.PubKey.Hex(), err), "decrypt "+url)
		b.advance(st, evt)
		return
	}

	sender := evt.PubKey
	reply := func(ctx context.Context, text string) error {
		return b.reply(ctx, sender, text)
	}
	delivered := true
	if b.opts.OnMessage != nil {
		delivered = b.callback(func() { b.opts.OnMessage(b.ctx, sender, text, reply) })
	}
	if !delivered {
		return
	}
	b.advance(st, evt)
	b.emitter.Emit(metrics.Relay(metrics.MessageDelivered, url))
}

func (b *Bus) advance(st *relayState, evt nostr.Event) {
	if err := st.cursor.advance(evt.CreatedAt, evt.ID); err != nil {
		b.log.Warn().Err(err).Str("relay", st.url).Msg("failed to persist cursor")
	}
}
