package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fakeai/fakeai/internal/types"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes a single event on behalf of a subscriber. Handlers are
// invoked synchronously on a dispatch worker and are expected to do small,
// bounded state updates only; expensive aggregation belongs on the read
// path of the tracker, not here. A returned error (or a panic, which the
// bus recovers) counts against the subscriber's circuit breaker.
type Handler func(Event) error

// Bus is the FakeAI event dispatcher: a bounded, sharded publish/subscribe
// pipeline that fans lifecycle events out to the metrics trackers.
//
// Delivery model:
//   - Publish validates the event, then enqueues it without blocking; if
//     the target queue is full the event is dropped and counted.
//   - Events are routed to a worker by hash(correlation id), so all events
//     of one stream are processed by the same worker in publish order.
//     Unrelated streams parallelize across workers.
//   - A worker invokes every subscriber for the event's type in descending
//     priority order before taking the next event.
//
// Failure isolation:
//   - Handler errors and panics are caught, logged, and counted against
//     that subscriber's circuit breaker; they never reach the publisher or
//     other subscribers.
//   - A subscriber whose circuit is open is skipped (not queued, not
//     retried) until its cooldown elapses.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*Subscription
	queues      []chan Event
	closed      bool

	wg      sync.WaitGroup
	options *busOptions

	published  atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	rejected   atomic.Uint64

	nextSubID atomic.Int64
}

// busOptions holds configuration for the Bus.
type busOptions struct {
	workerCount      int
	queueCapacity    int
	failureThreshold int
	failureWindow    time.Duration
	cooldown         time.Duration
	logger           *slog.Logger
}

// Option is a functional option for configuring a Bus.
type Option func(*busOptions)

// WithWorkerCount sets the number of dispatch workers (and therefore queue
// shards). Default: 4.
func WithWorkerCount(n int) Option {
	return func(opts *busOptions) {
		if n > 0 {
			opts.workerCount = n
		}
	}
}

// WithQueueCapacity sets the per-worker queue capacity. The total queued
// event bound is workerCount * queueCapacity. Default: 10000 split evenly
// across workers.
func WithQueueCapacity(n int) Option {
	return func(opts *busOptions) {
		if n > 0 {
			opts.queueCapacity = n
		}
	}
}

// WithCircuitBreaker configures the per-subscriber failure isolation:
// threshold failures within window open the circuit; after cooldown a
// single probe dispatch is attempted. Defaults: 5 failures in 60s, 30s
// cooldown.
func WithCircuitBreaker(threshold int, window, cooldown time.Duration) Option {
	return func(opts *busOptions) {
		if threshold > 0 {
			opts.failureThreshold = threshold
		}
		if window > 0 {
			opts.failureWindow = window
		}
		if cooldown > 0 {
			opts.cooldown = cooldown
		}
	}
}

// WithLogger sets the structured logger used for dropped events, handler
// failures, and circuit transitions. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(opts *busOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// NewBus creates a Bus and starts its dispatch workers.
//
// Example:
//
//	bus := events.NewBus(
//		events.WithWorkerCount(8),
//		events.WithQueueCapacity(2000),
//	)
//	defer bus.Close()
func NewBus(opts ...Option) *Bus {
	options := &busOptions{
		workerCount:      4,
		queueCapacity:    2500,
		failureThreshold: 5,
		failureWindow:    60 * time.Second,
		cooldown:         30 * time.Second,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	b := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		queues:      make([]chan Event, options.workerCount),
		options:     options,
	}

	for i := range b.queues {
		b.queues[i] = make(chan Event, options.queueCapacity)
		b.wg.Add(1)
		go b.worker(b.queues[i])
	}

	return b
}

// Subscription represents a registered handler for one event type. It is
// returned by Subscribe and can be used to remove the handler at teardown.
type Subscription struct {
	id        int64
	name      string
	eventType EventType
	priority  int
	handler   Handler
	breaker   *circuitBreaker
	bus       *Bus

	received atomic.Int64 // handler invocations attempted
	failed   atomic.Int64 // invocations that errored or panicked
	skipped  atomic.Int64 // dispatches skipped while the circuit was open
}

// Name returns the owner name the subscription was registered with.
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe removes the subscription from the bus. It is safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

// Subscribe registers a handler for one event type at the given priority.
// Handlers for the same event type are invoked in descending priority
// order. The name identifies the owning tracker in logs and stats.
//
// Subscriptions are expected to be registered once at startup; their
// lifetime is the process lifetime, with Unsubscribe provided for
// teardown.
func (b *Bus) Subscribe(eventType EventType, priority int, name string, handler Handler) *Subscription {
	sub := &Subscription{
		id:        b.nextSubID.Add(1),
		name:      name,
		eventType: eventType,
		priority:  priority,
		handler:   handler,
		breaker: newCircuitBreaker(
			b.options.failureThreshold,
			b.options.failureWindow,
			b.options.cooldown,
		),
		bus: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Copy-on-write so dispatch can hold the slice without the lock.
	existing := b.subscribers[eventType]
	updated := make([]*Subscription, 0, len(existing)+1)
	updated = append(updated, existing...)
	updated = append(updated, sub)
	sort.SliceStable(updated, func(i, j int) bool {
		return updated[i].priority > updated[j].priority
	})
	b.subscribers[eventType] = updated

	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subscribers[sub.eventType]
	updated := make([]*Subscription, 0, len(existing))
	for _, s := range existing {
		if s.id != sub.id {
			updated = append(updated, s)
		}
	}
	b.subscribers[sub.eventType] = updated
}

// Publish validates the event and enqueues it for asynchronous dispatch.
// It never blocks: if the target queue is full the event is dropped and
// the dropped counter incremented, favoring simulator availability over
// metrics completeness under extreme load.
//
// A zero Timestamp is filled with the current time. If the context carries
// an OpenTelemetry span, its trace and span ids are stamped onto the event
// for correlation.
//
// Returns a validation error for malformed events (never enqueued) or an
// error if the bus is closed. A dropped event is not an error.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := event.Validate(); err != nil {
		b.rejected.Add(1)
		return err
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if event.TraceID == "" {
			event.TraceID = sc.TraceID().String()
		}
		if event.SpanID == "" {
			event.SpanID = sc.SpanID().String()
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return types.NewError(types.EVENT_BUS_CLOSED, "event bus is closed")
	}

	queue := b.queues[b.shard(event.CorrelationID)]

	select {
	case queue <- event:
		b.published.Add(1)
	default:
		// Queue full: drop and count, never block the caller.
		b.published.Add(1)
		b.dropped.Add(1)
		b.options.logger.Warn("event dropped, queue full",
			"event_type", event.Type,
			"correlation_id", event.CorrelationID,
		)
	}

	return nil
}

// shard selects the worker queue for a correlation id so that all events
// of one stream land on the same worker.
func (b *Bus) shard(correlationID types.ID) int {
	h := fnv.New32a()
	h.Write([]byte(correlationID))
	return int(h.Sum32() % uint32(len(b.queues)))
}

// worker drains one queue, dispatching each event fully (all handler
// invocations) before taking the next. It exits when the queue is closed
// and drained, so events accepted before Close are never lost.
func (b *Bus) worker(queue chan Event) {
	defer b.wg.Done()

	for event := range queue {
		b.dispatch(event)
		b.dispatched.Add(1)
	}
}

// dispatch invokes every subscriber for the event's type in descending
// priority order, with panic recovery and circuit breaking per subscriber.
func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.Type]
	b.mu.RUnlock()

	now := time.Now()

	for _, sub := range subs {
		if !sub.breaker.Allow(now) {
			sub.skipped.Add(1)
			continue
		}

		sub.received.Add(1)

		if err := b.invoke(sub, event); err != nil {
			sub.failed.Add(1)
			if opened := sub.breaker.Failure(time.Now()); opened {
				b.options.logger.Warn("subscriber circuit opened",
					"subscriber", sub.name,
					"event_type", sub.eventType,
				)
			}
			b.options.logger.Warn("subscriber handler failed",
				"subscriber", sub.name,
				"event_type", event.Type,
				"error", err,
			)
		} else {
			sub.breaker.Success()
		}
	}
}

// invoke calls the handler with panic recovery so that a faulty subscriber
// can never take down the dispatch worker.
func (b *Bus) invoke(sub *Subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(event)
}

// Stats is a snapshot of bus counters. After Close has drained the queues,
// Published == Dispatched + Dropped holds exactly.
type Stats struct {
	Published   uint64            `json:"published"`
	Dispatched  uint64            `json:"dispatched"`
	Dropped     uint64            `json:"dropped"`
	Rejected    uint64            `json:"rejected"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

// SubscriberStats reports per-subscriber dispatch counters and circuit
// state.
type SubscriberStats struct {
	Name         string    `json:"name"`
	EventType    EventType `json:"event_type"`
	Priority     int       `json:"priority"`
	Received     int64     `json:"received"`
	Failed       int64     `json:"failed"`
	Skipped      int64     `json:"skipped"`
	CircuitState string    `json:"circuit_state"`
}

// Stats returns a snapshot of the bus counters and every subscriber's
// delivery statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Published:  b.published.Load(),
		Dispatched: b.dispatched.Load(),
		Dropped:    b.dropped.Load(),
		Rejected:   b.rejected.Load(),
	}

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			stats.Subscribers = append(stats.Subscribers, SubscriberStats{
				Name:         sub.name,
				EventType:    sub.eventType,
				Priority:     sub.priority,
				Received:     sub.received.Load(),
				Failed:       sub.failed.Load(),
				Skipped:      sub.skipped.Load(),
				CircuitState: sub.breaker.State().String(),
			})
		}
	}

	sort.Slice(stats.Subscribers, func(i, j int) bool {
		if stats.Subscribers[i].Name != stats.Subscribers[j].Name {
			return stats.Subscribers[i].Name < stats.Subscribers[j].Name
		}
		return stats.Subscribers[i].EventType < stats.Subscribers[j].EventType
	})

	return stats
}

// Close stops intake, waits for the workers to drain every queued event,
// and returns. After Close, Publish returns an error. Close is idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// WorkerCount returns the number of dispatch workers. Useful for tests
// asserting the sharding behavior.
func (b *Bus) WorkerCount() int {
	return len(b.queues)
}
