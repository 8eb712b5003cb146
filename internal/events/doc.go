// Package events provides the FakeAI event bus: the pipeline that carries
// simulated request and stream lifecycle events to the metrics trackers.
//
// # Overview
//
// The Bus provides:
//   - Thread-safe concurrent publishing and subscribing
//   - Priority-ordered handler dispatch per event type
//   - Non-blocking publish with drop-on-full backpressure
//   - Per-stream ordering via correlation-id sharded workers
//   - Per-subscriber circuit breaking for failure isolation
//   - Counters for published, dispatched, dropped, and rejected events
//
// # Architecture
//
// Producers (one logical flow per in-flight simulated request or stream)
// publish events; a fixed pool of dispatch workers performs delivery:
//
//	┌─────────────┐         ┌──────────────┐         ┌──────────────┐
//	│  Producer   │────────▶│     Bus      │────────▶│ Subscriber 1 │
//	└─────────────┘         │  (sharded    │────────▶│ Subscriber 2 │
//	                        │   workers)   │────────▶│ Subscriber 3 │
//	                        └──────────────┘         └──────────────┘
//
// Each event is routed to a worker by hash(correlation id), so every event
// of one stream is processed by the same worker and therefore in strict
// publish order relative to the rest of that stream. No ordering is
// promised across different correlation ids.
//
// # Delivery Semantics
//
// A worker processes one event fully, invoking all registered handlers for
// the event's type in descending priority order, before taking the next
// event from its queue. Handler state mutation happens inside the worker's
// call stack; handlers must restrict themselves to bounded-time updates.
//
// # Failure Isolation
//
// A handler error or panic is caught, logged, and counted within a sliding
// window. Crossing the failure threshold opens that subscriber's circuit:
// dispatches to it are skipped until the cooldown elapses, after which a
// single probe is attempted. A failing subscriber can never block or fail
// delivery to other subscribers of the same event.
//
// # Backpressure
//
// If a worker queue is full at publish time the event is dropped and
// counted; Publish never blocks. This favors availability of the simulator
// over completeness of metrics under extreme load. After Close has drained
// the queues, Published == Dispatched + Dropped holds exactly.
//
// # Usage Example
//
//	bus := events.NewBus(
//		events.WithWorkerCount(8),
//		events.WithQueueCapacity(2000),
//	)
//	defer bus.Close()
//
//	sub := bus.Subscribe(events.EventStreamCompleted, 10, "streaming-tracker",
//		func(ev events.Event) error {
//			payload := ev.Payload.(events.StreamCompletedPayload)
//			return tracker.OnStreamCompleted(ev.CorrelationID, payload.TotalTokens)
//		})
//	defer sub.Unsubscribe()
//
//	err := bus.Publish(ctx, events.NewStreamCompleted(streamID, 42))
package events
