package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Subscription is a single REQ on a single relay.
type Subscription struct {
	counter int64
	id      string

	Relay  *Relay
	Filter Filter

	// the Events channel emits all EVENTs that come in a Subscription, in the order the
	// relay sent them. It is closed when the subscription ends.
	Events chan Event

	// the EndOfStoredEvents channel gets closed when an EOSE comes for that subscription,
	// after all the stored events before it were delivered on Events.
	EndOfStoredEvents chan struct{}

	// the ClosedReason channel emits the reason when a CLOSED message is received
	ClosedReason chan string

	// Context will be .Done() when the subscription ends; context.Cause tells why.
	Context context.Context

	match             func(Event) bool
	checkDuplicate    func(id ID, relay string) bool
	stopWatchingRelay func() bool

	live   atomic.Bool
	eosed  atomic.Bool
	closed atomic.Bool
	cancel context.CancelCauseFunc

	// pending items. the connection goroutine appends here and never blocks,
	// the pump goroutine drains it into Events
	mu     sync.Mutex
	queue  []subItem
	signal chan struct{}
}

type subItem struct {
	event Event
	eose  bool
}

// SubscriptionOptions configures a Subscription.
type SubscriptionOptions struct {
	// Label is appended to the subscription id sent to the relay.
	Label string

	// CheckDuplicate is called with every verified event before it is queued. Events
	// still queued when the subscription ends are discarded, so marking them as seen
	// here can lose them.
	// Returning true drops the event.
	CheckDuplicate func(id ID, relay string) bool
}

var errUnsubscribed = errors.New("unsubscribed")

// GetID returns the subscription id as sent to the relay.
func (sub *Subscription) GetID() string { return sub.id }

func (sub *Subscription) start() {
	defer sub.finish()

	for {
		select {
		case <-sub.Context.Done():
			return
		case <-sub.signal:
		}

		for {
			item, ok := sub.pop()
			if !ok {
				break
			}
			if item.eose {
				close(sub.EndOfStoredEvents)
				continue
			}
			select {
			case sub.Events <- item.event:
			case <-sub.Context.Done():
				return
			}
		}
	}
}

func (sub *Subscription) pop() (subItem, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return subItem{}, false
	}
	item := sub.queue[0]
	sub.queue[0] = subItem{}
	sub.queue = sub.queue[1:]
	return item, true
}

func (sub *Subscription) push(item subItem) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, item)
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *Subscription) finish() {
	sub.Relay.Subscriptions.Delete(sub.counter)
	if sub.stopWatchingRelay != nil {
		sub.stopWatchingRelay()
	}

	// mark subscription as closed and send a CLOSE to the relay
	if sub.live.CompareAndSwap(true, false) {
		sub.sendClose()
	}

	sub.mu.Lock()
	sub.queue = nil
	sub.mu.Unlock()

	close(sub.Events)
}

func (sub *Subscription) dispatchEvent(evt Event) {
	if sub.Context.Err() != nil {
		return
	}
	sub.push(subItem{event: evt})
}

func (sub *Subscription) dispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		sub.push(subItem{eose: true})
	}
}

func (sub *Subscription) handleClosed(reason string) {
	if sub.closed.CompareAndSwap(false, true) {
		select {
		case sub.ClosedReason <- reason:
		default:
		}
	}
	// the relay already considers it closed, no need for a CLOSE
	sub.live.Store(false)
	sub.cancel(fmt.Errorf("CLOSED by relay: %s", reason))
}

// Unsub closes the subscription, sending "CLOSE" to relay as in NIP-01.
// Unsub() also closes the channel sub.Events.
func (sub *Subscription) Unsub() {
	sub.unsub(errUnsubscribed)
}

func (sub *Subscription) unsub(err error) {
	// cancel the context (if it's not canceled already)
	sub.cancel(err)
}

// sendClose just sends a CLOSE message.
func (sub *Subscription) sendClose() {
	if !sub.Relay.IsConnected() {
		return
	}
	closeb, _ := CloseEnvelope(sub.id).MarshalJSON()
	sub.Relay.Write(closeb)
}

// Fire sends the "REQ" command to the relay.
func (sub *Subscription) Fire() error {
	reqb, _ := ReqEnvelope{SubscriptionID: sub.id, Filters: []Filter{sub.Filter}}.MarshalJSON()

	sub.live.Store(true)
	if err := sub.Relay.WriteWithError(sub.Context, reqb); err != nil {
		sub.live.Store(false)
		return fmt.Errorf("failed to write: %w", err)
	}

	return nil
}
