// Package metrics names the counters the bus reports and delivers them off the hot path.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Metric is a single observation. Tags usually carry the relay URL.
type Metric struct {
	Name  string
	Value float64
	Tags  map[string]string
}

const (
	RelayConnectAttempt = "relay.connect.attempt"
	RelayConnectSuccess = "relay.connect.success"
	RelayConnectFailure = "relay.connect.failure"
	RelayDisconnect     = "relay.disconnect"
	RelayReconnect      = "relay.reconnect"
	RelayEOSE           = "relay.eose"
	RelayNotice         = "relay.notice"

	EventReceived      = "event.received"
	EventInvalid       = "event.invalid"
	EventDuplicate     = "event.duplicate"
	EventDecryptFailed = "event.decrypt_failed"
	MessageDelivered   = "message.delivered"

	PublishSuccess      = "publish.success"
	PublishFailure      = "publish.failure"
	PublishQuorumFailed = "publish.quorum_failed"
)

// Names lists every metric name, in a stable order.
var Names = []string{
	RelayConnectAttempt, RelayConnectSuccess, RelayConnectFailure, RelayDisconnect,
	RelayReconnect, RelayEOSE, RelayNotice,
	EventReceived, EventInvalid, EventDuplicate, EventDecryptFailed, MessageDelivered,
	PublishSuccess, PublishFailure, PublishQuorumFailed,
}

// Relay returns a metric with value 1 tagged with the relay URL.
func Relay(name string, url string) Metric {
	return Metric{Name: name, Value: 1, Tags: map[string]string{"relay": url}}
}

// Emitter hands metrics to a sink on its own goroutine through a bounded queue.
// When the queue is full new metrics are dropped, Emit never blocks.
type Emitter struct {
	queue   chan Metric
	sink    func(Metric)
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewEmitter starts the delivery goroutine. A nil sink discards everything.
func NewEmitter(size int, sink func(Metric)) *Emitter {
	if size <= 0 {
		size = 256
	}
	e := &Emitter{
		queue: make(chan Metric, size),
		sink:  sink,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case m := <-e.queue:
			select {
			case <-e.stop:
				return
			default:
			}
			if e.sink != nil {
				e.sink(m)
			}
		}
	}
}

// Emit queues m, or drops it when the queue is full or the emitter is stopped.
func (e *Emitter) Emit(m Metric) {
	if e == nil || e.sink == nil {
		return
	}
	select {
	case <-e.stop:
		return
	default:
	}
	select {
	case e.queue <- m:
	default:
		e.dropped.Add(1)
	}
}

// Dropped counts metrics lost to a full queue.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Stop ends delivery. When it returns the sink is not running and won't be called again.
func (e *Emitter) Stop() {
	e.once.Do(func() { close(e.stop) })
	<-e.done
}
