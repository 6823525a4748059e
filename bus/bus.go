// Package bus keeps one identity subscribed to its direct messages on a set of relays,
// hands every message to the host exactly once and publishes replies to all of them.
package bus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/codec"
	"fiatjaf.com/nostrbus/keyer"
	"fiatjaf.com/nostrbus/metrics"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Bus is a running relay bus. Create it with Start and stop it with Close.
type Bus struct {
	opts   Options
	log    zerolog.Logger
	codec  *codec.Codec
	pool   *nostr.Pool
	relays []string

	dedup   *DedupCache
	emitter *metrics.Emitter

	ctx    context.Context
	cancel context.CancelCauseFunc

	workers   sync.WaitGroup
	states    map[string]*relayState
	closeOnce sync.Once

	// held for reading while a host callback runs, for writing by Close
	cbMu   sync.RWMutex
	closed bool

	// background reply publishes
	bgMu     sync.Mutex
	bgClosed bool
	bg       sync.WaitGroup
}

type relayState struct {
	url    string
	phase  atomic.Int32
	relay  atomic.Pointer[nostr.Relay]
	cursor *cursor

	// only touched by the relay's worker
	caughtUp bool
}

func (s *relayState) get() nostr.RelayState {
	phase := nostr.RelayState(s.phase.Load())
	if phase == nostr.StateOpen {
		if r := s.relay.Load(); r != nil {
			return r.State()
		}
	}
	return phase
}

// Start validates opts, connects to every relay in the background and begins delivering
// messages. It doesn't wait for any relay to connect.
func Start(ctx context.Context, opts Options) (*Bus, error) {
	opts = opts.withDefaults()

	sk, err := keyer.ParseSecretKey(opts.SecretKey)
	if err != nil {
		return nil, err
	}

	relays := make([]string, 0, len(opts.Relays))
	for _, url := range opts.Relays {
		nm := nostr.NormalizeURL(url)
		if !nostr.IsValidRelayURL(nm) {
			return nil, fmt.Errorf("invalid relay url '%s'", url)
		}
		if !slices.Contains(relays, nm) {
			relays = append(relays, nm)
		}
	}
	if len(relays) == 0 {
		return nil, errors.New("no relays configured")
	}

	c, err := codec.New(sk, opts.Scheme)
	if err != nil {
		return nil, err
	}

	states := make(map[string]*relayState, len(relays))
	for _, url := range relays {
		cur, err := loadCursor(opts.State, cursorKey(opts.AccountID, c.PublicKey(), url))
		if err != nil {
			c.Close()
			return nil, err
		}
		states[url] = &relayState{url: url, cursor: cur}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	b := &Bus{
		opts:    opts,
		log:     opts.Logger.With().Str("account", opts.AccountID).Logger(),
		codec:   c,
		relays:  relays,
		dedup:   NewDedupCache(opts.DedupSize, opts.DedupTTL),
		emitter: metrics.NewEmitter(metricsQueueSize, opts.OnMetric),
		ctx:     ctx,
		cancel:  cancel,
		states:  states,
	}

	// ids handled in the last stored second come back when we resubscribe from it
	for _, st := range states {
		for _, id := range st.cursor.seen() {
			b.dedup.Seen(id)
		}
	}

	b.pool = nostr.NewPool(ctx, nostr.PoolOptions{
		RelayOptions: nostr.RelayOptions{
			NoticeHandler: func(notice string) {
				b.log.Info().Str("notice", notice).Msg("relay notice")
				b.emitter.Emit(metrics.Metric{Name: metrics.RelayNotice, Value: 1})
			},
			AuthSigner: c.Signer.SignEvent,
			InvalidEventHandler: func(relay string, evt nostr.Event) {
				b.log.Debug().Err(nostr.ErrVerificationFailed).Str("relay", relay).Str("id", evt.ID.Hex()).Msg("dropped event")
				b.emitter.Emit(metrics.Relay(metrics.EventInvalid, relay))
			},
		},
		OnConnect: func(url string, err error) {
			if err != nil {
				b.emitter.Emit(metrics.Relay(metrics.RelayConnectFailure, url))
			} else {
				b.emitter.Emit(metrics.Relay(metrics.RelayConnectSuccess, url))
			}
		},
	})

	b.log.Info().Str("pubkey", c.PublicKey().Hex()).Strs("relays", relays).Msg("starting bus")

	for _, url := range relays {
		b.workers.Add(1)
		go b.runRelay(url, states[url])
	}

	return b, nil
}

// PublicKey is the identity messages are received for and sent from.
func (b *Bus) PublicKey() nostr.PubKey { return b.codec.PublicKey() }

// Relays returns the normalized relay list.
func (b *Bus) Relays() []string { return append([]string(nil), b.relays...) }

// RelayStates reports the state of every relay.
func (b *Bus) RelayStates() map[string]nostr.RelayState {
	out := make(map[string]nostr.RelayState, len(b.states))
	for url, st := range b.states {
		out[url] = st.get()
	}
	return out
}

// MetricsDropped counts metrics lost because OnMetric couldn't keep up.
func (b *Bus) MetricsDropped() uint64 { return b.emitter.Dropped() }

// Close stops every worker and relay connection, waits for running callbacks to return
// and releases the state. No callback is invoked after Close returns. It must not be
// called from inside a callback.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.log.Info().Msg("closing bus")
		b.cancel(fmt.Errorf("bus: %w", nostr.ErrClosed))

		b.bgMu.Lock()
		b.bgClosed = true
		b.bgMu.Unlock()

		b.cbMu.Lock()
		b.closed = true
		b.cbMu.Unlock()

		b.pool.Close("bus closed")
		b.workers.Wait()
		b.bg.Wait()
		b.emitter.Stop()
		b.codec.Close()
	})
}

// SendDirectMessage encrypts text for to and publishes it to every relay.
func (b *Bus) SendDirectMessage(ctx context.Context, to nostr.PubKey, text string) (nostr.PublishResult, error) {
	if err := context.Cause(b.ctx); err != nil {
		return nostr.PublishResult{}, err
	}
	evt, err := b.codec.BuildDirectMessageEvent(ctx, to, text)
	if err != nil {
		return nostr.PublishResult{}, err
	}
	return b.Publish(ctx, evt), nil
}

// Publish sends an already signed event to every relay and waits for all of them.
func (b *Bus) Publish(ctx context.Context, evt nostr.Event) nostr.PublishResult {
	ctx, cancel := b.bound(ctx)
	defer cancel()

	res := nostr.CollectPublishResult(evt, b.pool.PublishMany(ctx, b.relays, evt, b.opts.PublishTimeout))
	for _, url := range res.Successes {
		b.emitter.Emit(metrics.Relay(metrics.PublishSuccess, url))
	}
	for _, f := range res.Failures {
		b.emitter.Emit(metrics.Relay(metrics.PublishFailure, f.Relay))
		b.log.Debug().Err(f.Err).Str("relay", f.Relay).Str("id", evt.ID.Hex()).Msg("publish failed")
	}
	return res
}

// bound derives a context from ctx that is also canceled when the bus closes.
func (b *Bus) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(b.ctx, func() { cancel(context.Cause(b.ctx)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (b *Bus) reply(ctx context.Context, to nostr.PubKey, text string) error {
	evt, err := b.codec.BuildDirectMessageEvent(ctx, to, text)
	if err != nil {
		return err
	}

	if b.opts.PublishQuorum == 0 {
		started := b.background(func() {
			res := b.Publish(b.ctx, evt)
			if len(res.Successes) == 0 {
				b.reportError(totalFailure(res.Failures), "reply to "+to.Hex())
			}
		})
		if !started {
			return fmt.Errorf("reply: %w", nostr.ErrClosed)
		}
		return nil
	}

	// relays keep going after the quorum is met, only the wait is cut short
	pubCtx, cancel := b.bound(context.Background())
	ch := b.pool.PublishMany(pubCtx, b.relays, evt, b.opts.PublishTimeout)

	accepted := 0
	var failures []nostr.RelayFailure
	for {
		select {
		case o, ok := <-ch:
			if !ok {
				cancel()
				if accepted >= b.opts.PublishQuorum {
					return nil
				}
				b.emitter.Emit(metrics.Metric{Name: metrics.PublishQuorumFailed, Value: 1})
				if accepted == 0 {
					return totalFailure(failures)
				}
				return fmt.Errorf("%w: %d of %d relays accepted, needed %d: %w",
					nostr.ErrQuorumNotMet, accepted, len(b.relays), b.opts.PublishQuorum,
					combine(failures))
			}

			if o.Error == nil {
				accepted++
				b.emitter.Emit(metrics.Relay(metrics.PublishSuccess, o.RelayURL))
			} else {
				failures = append(failures, nostr.RelayFailure{Relay: o.RelayURL, Err: o.Error})
				b.emitter.Emit(metrics.Relay(metrics.PublishFailure, o.RelayURL))
			}

			if accepted == b.opts.PublishQuorum {
				if !b.background(func() { b.drain(ch, cancel) }) {
					cancel()
				}
				return nil
			}
		case <-ctx.Done():
			if !b.background(func() { b.drain(ch, cancel) }) {
				cancel()
			}
			return fmt.Errorf("reply: %w", context.Cause(ctx))
		}
	}
}

// drain accounts for the relays that answer after a reply already returned.
func (b *Bus) drain(ch chan nostr.PublishOutcome, cancel context.CancelFunc) {
	defer cancel()
	for o := range ch {
		if o.Error == nil {
			b.emitter.Emit(metrics.Relay(metrics.PublishSuccess, o.RelayURL))
		} else {
			b.emitter.Emit(metrics.Relay(metrics.PublishFailure, o.RelayURL))
		}
	}
}

func totalFailure(failures []nostr.RelayFailure) error {
	if len(failures) == 0 {
		return nostr.ErrPublishTotalFailure
	}
	return fmt.Errorf("%w: %w", nostr.ErrPublishTotalFailure, combine(failures))
}

func combine(failures []nostr.RelayFailure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Relay, f.Err))
	}
	return err
}

// background runs f on its own goroutine unless the bus is closing.
func (b *Bus) background(f func()) bool {
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	if b.bgClosed {
		return false
	}
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		f()
	}()
	return true
}

// callback runs f unless the bus is closed, reporting whether it did. Close waits for
// it to return.
func (b *Bus) callback(f func()) bool {
	b.cbMu.RLock()
	defer b.cbMu.RUnlock()
	if b.closed {
		return false
	}
	f()
	return true
}

func (b *Bus) reportError(err error, where string) {
	b.log.Warn().Err(err).Str("where", where).Msg("bus error")
	if b.opts.OnError == nil {
		return
	}
	b.callback(func() { b.opts.OnError(err, where) })
}

func (b *Bus) relayEvent(cb func(string), url string) {
	if cb == nil {
		return
	}
	b.callback(func() { cb(url) })
}
