package nostr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var subscriptionIDCounter atomic.Int64

// RelayState is the lifecycle stage of a Relay.
//
//	Idle -> Connecting -> Open -> (Closing -> Closed | Failed)
//
// A Relay is never reopened: a dropped connection ends in Closed and whoever wants to
// reconnect creates a new Relay, which goes through Connecting -> Open again.
type RelayState int32

const (
	StateIdle RelayState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s RelayState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Relay represents a connection to a Nostr relay.
type Relay struct {
	closeMutex sync.Mutex

	URL           string
	requestHeader http.Header // e.g. for origin header

	Connection    *connection
	Subscriptions *MapOf[int64, *Subscription]

	ConnectionError         error
	connectionContext       context.Context // will be canceled when the connection closes
	connectionContextCancel context.CancelCauseFunc

	state atomic.Int32

	noticeHandler       func(string)
	customHandler       func(string)
	invalidEventHandler func(relay string, evt Event)
	okCallbacks         *MapOf[ID, func(bool, string)]

	opened chan struct{} // closed when the state becomes Open

	authSigner    func(ctx context.Context, evt *Event) error
	challenge     atomic.Pointer[string]
	authenticated chan struct{}
	authOnce      sync.Once

	// AssumeValid skips signature verification for events received from this relay.
	AssumeValid bool
}

type RelayOptions struct {
	// NoticeHandler just takes notices and is expected to do something with them.
	// When not given defaults to logging the notices.
	NoticeHandler func(notice string)

	// CustomHandler, if given, must be a function that handles any relay message
	// that couldn't be parsed as a standard envelope.
	CustomHandler func(data string)

	// InvalidEventHandler is called with every event that fails id or signature verification.
	// Such events are always dropped.
	InvalidEventHandler func(relay string, evt Event)

	// AuthSigner, when given, answers NIP-42 AUTH challenges with an event it signs.
	AuthSigner func(ctx context.Context, evt *Event) error

	// RequestHeader sets the HTTP request header of the websocket preflight request
	RequestHeader http.Header
}

// NewRelay returns a new relay in the Idle state. It takes a context that, when canceled, will close the relay connection.
func NewRelay(ctx context.Context, url string, opts RelayOptions) *Relay {
	ctx, cancel := context.WithCancelCause(ctx)
	r := &Relay{
		URL:                     NormalizeURL(url),
		connectionContext:       ctx,
		connectionContextCancel: cancel,
		Subscriptions:           NewMapOf[int64, *Subscription](),
		okCallbacks:             NewMapOf[ID, func(bool, string)](),
		requestHeader:           opts.RequestHeader,
		noticeHandler:           opts.NoticeHandler,
		customHandler:           opts.CustomHandler,
		invalidEventHandler:     opts.InvalidEventHandler,
		authSigner:              opts.AuthSigner,
		authenticated:           make(chan struct{}),
		opened:                  make(chan struct{}),
	}

	context.AfterFunc(ctx, func() {
		for {
			s := r.State()
			if s == StateFailed || s == StateClosed {
				return
			}
			if r.state.CompareAndSwap(int32(s), int32(StateClosed)) {
				return
			}
		}
	})

	return r
}

// RelayConnect returns a relay object connected to url.
//
// The given context is only used during the connection phase. Once successfully connected, cancelling ctx has no effect.
// To close the connection, call r.Close().
func RelayConnect(ctx context.Context, url string, opts RelayOptions) (*Relay, error) {
	r := NewRelay(context.Background(), url, opts)
	err := r.Connect(ctx)
	return r, err
}

// String just returns the relay URL.
func (r *Relay) String() string {
	return r.URL
}

// Context retrieves the context that is associated with this relay connection.
// It will be canceled when the relay is disconnected; context.Cause tells why.
func (r *Relay) Context() context.Context { return r.connectionContext }

// State returns the current lifecycle state.
func (r *Relay) State() RelayState { return RelayState(r.state.Load()) }

// IsConnected returns true if the connection to this relay seems to be active.
func (r *Relay) IsConnected() bool { return r.State() == StateOpen }

// Connect tries to establish a websocket connection to r.URL.
// If the context expires before the connection is complete, an error is returned.
// Once successfully connected, context expiration has no effect: call r.Close
// to close the connection.
func (r *Relay) Connect(ctx context.Context) error {
	return r.ConnectWithTLS(ctx, nil)
}

// ConnectWithTLS is like Connect(), but takes a special tls.Config if you need that.
func (r *Relay) ConnectWithTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if r.connectionContext == nil || r.Subscriptions == nil {
		return fmt.Errorf("relay must be initialized with a call to NewRelay()")
	}

	if r.URL == "" {
		return fmt.Errorf("%w: invalid relay URL '%s'", ErrConnectionFailed, r.URL)
	}

	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("%w: relay %s is %s", ErrConnectionFailed, r.URL, r.State())
	}

	conn, err := newConnection(r.connectionContext, ctx, r.connectionContextCancel, r.URL, r.handleMessage, r.requestHeader, tlsConfig)
	if err != nil {
		r.ConnectionError = err
		r.state.Store(int32(StateFailed))
		r.connectionContextCancel(err)
		return fmt.Errorf("%w: error opening websocket to '%s': %w", ErrConnectionFailed, r.URL, err)
	}
	r.Connection = conn

	if !r.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// closed while we were dialing
		conn.doClose(1000, "")
		return fmt.Errorf("%w: %s closed while connecting", ErrConnectionFailed, r.URL)
	}
	close(r.opened)

	return nil
}

func (r *Relay) handleMessage(message string) {
	envelope, err := ParseMessage(message)
	if envelope == nil {
		if r.customHandler != nil && err == UnknownLabel {
			r.customHandler(message)
		} else if err != nil {
			debugLogf("{%s} unparseable message: %s", r.URL, err)
		}
		return
	}

	switch env := envelope.(type) {
	case *NoticeEnvelope:
		if r.noticeHandler != nil {
			r.noticeHandler(string(*env))
		} else {
			infoLogf("NOTICE from %s: '%s'", r.URL, string(*env))
		}
	case *AuthEnvelope:
		challenge := env.Challenge
		r.challenge.Store(&challenge)
		if r.authSigner == nil {
			debugLogf("{%s} AUTH challenge ignored", r.URL)
			return
		}
		// answered off the read loop since it waits for an OK
		go func() {
			// a challenge can arrive before Connect has returned
			select {
			case <-r.opened:
			case <-r.connectionContext.Done():
				return
			}
			if err := r.Auth(r.connectionContext); err != nil {
				infoLogf("{%s} auth failed: %s", r.URL, err)
			}
		}()
	case *EventEnvelope:
		if env.SubscriptionID == nil {
			return
		}
		sub, ok := r.Subscriptions.Load(subIdToSerial(*env.SubscriptionID))
		if !ok {
			return
		}

		// check if the event matches the desired filter, ignore otherwise
		if !sub.match(env.Event) {
			debugLogf("{%s} filter does not match: %v ~ %v", r.URL, sub.Filter, env.Event)
			return
		}

		// id and signature are checked before deduplication so a forged copy
		// can't shadow the real event
		if !r.AssumeValid && !env.Event.Verify() {
			debugLogf("{%s} bad id or signature on %s", r.URL, env.Event.ID.Hex())
			if r.invalidEventHandler != nil {
				r.invalidEventHandler(r.URL, env.Event)
			}
			return
		}

		if sub.checkDuplicate != nil && sub.checkDuplicate(env.Event.ID, r.URL) {
			return
		}

		sub.dispatchEvent(env.Event)
	case *EOSEEnvelope:
		if sub, ok := r.Subscriptions.Load(subIdToSerial(string(*env))); ok {
			sub.dispatchEose()
		}
	case *ClosedEnvelope:
		if sub, ok := r.Subscriptions.Load(subIdToSerial(env.SubscriptionID)); ok {
			sub.handleClosed(env.Reason)
		}
	case *OKEnvelope:
		if okCallback, exist := r.okCallbacks.Load(env.EventID); exist {
			okCallback(env.OK, env.Reason)
		} else {
			debugLogf("{%s} got an unexpected OK message for event %s", r.URL, env.EventID.Hex())
		}
	}
}

// Write queues an arbitrary message to be sent to the relay.
func (r *Relay) Write(msg []byte) {
	if r.Connection == nil {
		return
	}
	select {
	case r.Connection.writeQueue <- writeRequest{msg: msg, answer: nil}:
	case <-r.Connection.closedNotify:
	case <-r.connectionContext.Done():
	}
}

// WriteWithError is like Write, but returns an error if the write fails (and the connection gets closed).
func (r *Relay) WriteWithError(ctx context.Context, msg []byte) error {
	if r.Connection == nil {
		return fmt.Errorf("failed to write to %s: %w", r.URL, ErrDisconnected)
	}
	ch := make(chan error, 1)
	select {
	case r.Connection.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-r.Connection.closedNotify:
		return fmt.Errorf("failed to write to %s: %w", r.URL, ErrDisconnected)
	case <-r.connectionContext.Done():
		return fmt.Errorf("failed to write to %s: %w", r.URL, context.Cause(r.connectionContext))
	case <-ctx.Done():
		return fmt.Errorf("failed to write to %s: %w", r.URL, context.Cause(ctx))
	}
	return <-ch
}

// Publish sends an "EVENT" command to the relay r as in NIP-01 and waits for an OK response.
//
// If ctx has no deadline one of 7 seconds is applied. A missing OK is reported as
// ErrTimeout, an "OK false" as ErrRejected with the relay's reason.
func (r *Relay) Publish(ctx context.Context, event Event) error {
	envb, _ := EventEnvelope{Event: event}.MarshalJSON()
	return r.publish(ctx, event.ID, envb)
}

// Auth answers the last AUTH challenge received from the relay with a kind 22242 event
// signed by RelayOptions.AuthSigner, and waits for the relay to accept it.
func (r *Relay) Auth(ctx context.Context) error {
	if r.authSigner == nil {
		return fmt.Errorf("no signer to authenticate to %s", r.URL)
	}
	challenge := r.challenge.Load()
	if challenge == nil {
		return fmt.Errorf("%s didn't send an auth challenge", r.URL)
	}

	authEvent := Event{
		CreatedAt: Now(),
		Kind:      KindClientAuthentication,
		Tags: Tags{
			Tag{"relay", r.URL},
			Tag{"challenge", *challenge},
		},
		Content: "",
	}
	if err := r.authSigner(ctx, &authEvent); err != nil {
		return fmt.Errorf("error signing auth event: %w", err)
	}

	envb, _ := AuthEnvelope{Event: &authEvent}.MarshalJSON()
	if err := r.publish(ctx, authEvent.ID, envb); err != nil {
		return err
	}
	r.authOnce.Do(func() { close(r.authenticated) })
	return nil
}

// Authenticated is closed once the relay has accepted an AUTH event from us.
func (r *Relay) Authenticated() <-chan struct{} { return r.authenticated }

// publish sends envb, an EVENT or AUTH envelope, and waits for the OK for id.
func (r *Relay) publish(ctx context.Context, id ID, envb []byte) error {
	if !r.IsConnected() {
		return fmt.Errorf("publish to %s: %w", r.URL, ErrDisconnected)
	}

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeoutCause(ctx, 7*time.Second, ErrTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	result := make(chan error, 1)
	r.okCallbacks.Store(id, func(ok bool, reason string) {
		var err error
		if !ok {
			err = fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		select {
		case result <- err:
		default:
		}
	})
	defer r.okCallbacks.Delete(id)

	if err := r.WriteWithError(ctx, envb); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no OK from %s", ErrTimeout, r.URL)
		}
		return fmt.Errorf("publish: %w", context.Cause(ctx))
	case <-r.connectionContext.Done():
		// this is caused when we lose connectivity
		return fmt.Errorf("relay: %w", context.Cause(r.connectionContext))
	}
}

// Subscribe sends a "REQ" command to the relay r as in NIP-01.
// Events are returned through the channel sub.Events, which is closed when the
// subscription ends for any reason, including the relay disconnecting.
// The subscription is closed when context ctx is cancelled ("CLOSE" in NIP-01).
func (r *Relay) Subscribe(ctx context.Context, filter Filter, opts SubscriptionOptions) (*Subscription, error) {
	if !r.IsConnected() {
		return nil, fmt.Errorf("not connected to %s", r.URL)
	}

	sub := r.PrepareSubscription(ctx, filter, opts)

	if err := sub.Fire(); err != nil {
		sub.unsub(err)
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w", filter, r.URL, err)
	}

	return sub, nil
}

// PrepareSubscription creates a subscription, but doesn't fire it.
func (r *Relay) PrepareSubscription(ctx context.Context, filter Filter, opts SubscriptionOptions) *Subscription {
	current := subscriptionIDCounter.Add(1)
	ctx, cancel := context.WithCancelCause(ctx)

	sub := &Subscription{
		Relay:             r,
		Context:           ctx,
		cancel:            cancel,
		counter:           current,
		id:                strconv.FormatInt(current, 10) + ":" + opts.Label,
		Events:            make(chan Event),
		EndOfStoredEvents: make(chan struct{}),
		ClosedReason:      make(chan string, 1),
		Filter:            filter,
		match:             filter.Matches,
		checkDuplicate:    opts.CheckDuplicate,
		signal:            make(chan struct{}, 1),
	}

	// the subscription dies with the connection
	stop := context.AfterFunc(r.connectionContext, func() {
		cancel(fmt.Errorf("relay: %w", context.Cause(r.connectionContext)))
	})
	sub.stopWatchingRelay = stop

	// we track subscriptions only by their counter, no need for the full id
	r.Subscriptions.Store(sub.counter, sub)

	go sub.start()

	return sub
}

// Close closes the relay connection. It is safe to call more than once.
func (r *Relay) Close() error {
	return r.close(ErrClosed)
}

func (r *Relay) close(reason error) error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()

	if r.connectionContextCancel == nil {
		return nil
	}

	for {
		s := r.State()
		if s == StateClosed || s == StateFailed {
			break
		}
		if r.state.CompareAndSwap(int32(s), int32(StateClosing)) {
			break
		}
	}

	r.connectionContextCancel(reason)
	r.connectionContextCancel = nil

	return nil
}
