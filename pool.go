package nostr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Pool manages connections to multiple relays, ensures they are reopened when necessary and not duplicated.
type Pool struct {
	Relays  *MapOf[string, *Relay]
	Context context.Context

	cancel       context.CancelCauseFunc
	connecting   singleflight.Group
	relayOptions RelayOptions
	onConnect    func(url string, err error)
}

type PoolOptions struct {
	// RelayOptions are any options that should be passed to Relays instantiated by this pool
	RelayOptions RelayOptions

	// OnConnect is called after every connection attempt made by the pool, with a nil
	// error on success.
	OnConnect func(url string, err error)
}

// NewPool creates a new Pool. ctx, when canceled, closes every relay in the pool.
func NewPool(ctx context.Context, opts PoolOptions) *Pool {
	ctx, cancel := context.WithCancelCause(ctx)

	return &Pool{
		Relays:       NewMapOf[string, *Relay](),
		Context:      ctx,
		cancel:       cancel,
		relayOptions: opts.RelayOptions,
		onConnect:    opts.OnConnect,
	}
}

// EnsureRelay ensures that a relay connection exists and is active.
// If the relay is not connected, it attempts to connect. Concurrent callers
// asking for the same relay share a single connection attempt; ctx only bounds
// how long this caller waits for it.
func (pool *Pool) EnsureRelay(ctx context.Context, url string) (*Relay, error) {
	nm := NormalizeURL(url)
	if !IsValidRelayURL(nm) {
		return nil, fmt.Errorf("%w: invalid relay URL '%s'", ErrConnectionFailed, url)
	}

	if relay, ok := pool.Relays.Load(nm); ok && relay.IsConnected() {
		return relay, nil
	}

	ch := pool.connecting.DoChan(nm, func() (any, error) {
		if relay, ok := pool.Relays.Load(nm); ok && relay.IsConnected() {
			return relay, nil
		}
		if err := context.Cause(pool.Context); err != nil {
			return nil, fmt.Errorf("pool: %w", err)
		}

		relay := NewRelay(pool.Context, nm, pool.relayOptions)
		// the dial is bounded by the default 7 seconds, the pool context kills it too
		err := relay.Connect(pool.Context)
		if pool.onConnect != nil {
			pool.onConnect(nm, err)
		}
		if err != nil {
			return nil, err
		}

		pool.Relays.Store(nm, relay)
		return relay, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Relay), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: connecting to %s", ErrTimeout, nm)
		}
		return nil, fmt.Errorf("connecting to %s: %w", nm, context.Cause(ctx))
	}
}

// PublishOutcome is what happened to a single relay during PublishMany.
type PublishOutcome struct {
	Error    error
	RelayURL string
	Relay    *Relay

	// position of RelayURL in the deduplicated relay list
	index int
}

// PublishMany publishes an event to multiple relays and returns a channel of results emitted
// as they're received. Each relay gets its own timeout (when timeout is not zero) covering
// both the connection and the wait for OK. URLs that are equal after normalization are
// attempted once. The channel is closed after every relay has answered.
func (pool *Pool) PublishMany(ctx context.Context, urls []string, evt Event, timeout time.Duration) chan PublishOutcome {
	targets := normalizeURLs(urls)
	ch := make(chan PublishOutcome, len(targets))

	wg := sync.WaitGroup{}
	wg.Add(len(targets))
	for i, url := range targets {
		go func() {
			defer wg.Done()

			ctx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
				defer cancel()
			}

			relay, err := pool.EnsureRelay(ctx, url)
			if err != nil {
				ch <- PublishOutcome{Error: err, RelayURL: url, index: i}
				return
			}

			err = relay.Publish(ctx, evt)
			ch <- PublishOutcome{Error: err, RelayURL: url, Relay: relay, index: i}
		}()
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	return ch
}

// RelayFailure is a relay that didn't accept a published event.
type RelayFailure struct {
	Relay string
	Err   error
}

// PublishResult is the per-relay account of a fan-out publish, in the caller's relay order.
type PublishResult struct {
	EventID   ID
	CreatedAt Timestamp
	Successes []string
	Failures  []RelayFailure
}

// PublishAll is like PublishMany, but waits for every relay and collects the outcomes.
func (pool *Pool) PublishAll(ctx context.Context, urls []string, evt Event, timeout time.Duration) PublishResult {
	return CollectPublishResult(evt, pool.PublishMany(ctx, urls, evt, timeout))
}

// CollectPublishResult drains ch into a PublishResult ordered by relay position.
func CollectPublishResult(evt Event, ch chan PublishOutcome) PublishResult {
	outcomes := make([]PublishOutcome, 0, 8)
	for o := range ch {
		outcomes = append(outcomes, o)
	}
	slices.SortFunc(outcomes, func(a, b PublishOutcome) int { return a.index - b.index })

	res := PublishResult{
		EventID:   evt.ID,
		CreatedAt: evt.CreatedAt,
		Successes: make([]string, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.Error == nil {
			res.Successes = append(res.Successes, o.RelayURL)
		} else {
			res.Failures = append(res.Failures, RelayFailure{Relay: o.RelayURL, Err: o.Error})
		}
	}
	return res
}

// Close closes the pool with the given reason.
func (pool *Pool) Close(reason string) {
	pool.cancel(fmt.Errorf("pool closed with reason: '%s': %w", reason, ErrClosed))
}

func normalizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		nm := NormalizeURL(url)
		if slices.Contains(out, nm) {
			continue
		}
		out = append(out, nm)
	}
	return out
}
