package metrics

import (
	"fmt"
	"log/slog"

	"github.com/fakeai/fakeai/internal/events"
)

// Subscriber priorities. Cost accounting runs first so budget state is
// current before error and streaming handlers observe the same event batch.
const (
	PriorityCost      = 30
	PriorityError     = 20
	PriorityStreaming = 10
)

// RegisterTrackers subscribes the three trackers to the bus and returns the
// subscriptions so callers can unsubscribe or inspect per-subscriber stats.
//
// Handlers read the event timestamp rather than the wall clock, so metrics
// stay correct even when dispatch lags publishing. Admission errors from the
// streaming tracker (duplicate stream, concurrency limit) are logged and
// swallowed: they describe the simulated workload, not a handler fault, and
// must not trip the subscriber's circuit breaker.
func RegisterTrackers(bus *events.Bus, streaming *StreamingTracker, errTracker *ErrorTracker, cost *CostTracker, logger *slog.Logger) []*events.Subscription {
	if logger == nil {
		logger = slog.Default()
	}

	subs := []*events.Subscription{
		bus.Subscribe(events.EventStreamStarted, PriorityStreaming, "streaming.started",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.StreamStartedPayload)
				if !ok {
					return payloadError(ev)
				}
				if err := streaming.OnStreamStarted(ev.CorrelationID, p.Model, ev.Timestamp); err != nil {
					logger.Warn("stream not admitted",
						"stream_id", ev.CorrelationID.String(),
						"error", err)
				}
				return nil
			}),
		bus.Subscribe(events.EventTokenGenerated, PriorityStreaming, "streaming.token",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.TokenGeneratedPayload)
				if !ok {
					return payloadError(ev)
				}
				streaming.OnToken(ev.CorrelationID, p.TokenCountDelta, ev.Timestamp)
				return nil
			}),
		bus.Subscribe(events.EventFirstTokenGenerated, PriorityStreaming, "streaming.first_token",
			func(ev events.Event) error {
				streaming.OnFirstToken(ev.CorrelationID, ev.Timestamp)
				return nil
			}),
		bus.Subscribe(events.EventStreamCompleted, PriorityStreaming, "streaming.completed",
			func(ev events.Event) error {
				streaming.OnStreamCompleted(ev.CorrelationID, ev.Timestamp)
				return nil
			}),
		bus.Subscribe(events.EventStreamFailed, PriorityStreaming, "streaming.failed",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.StreamFailedPayload)
				if !ok {
					return payloadError(ev)
				}
				streaming.OnStreamFailed(ev.CorrelationID, p.Reason, ev.Timestamp)
				return nil
			}),

		bus.Subscribe(events.EventErrorOccurred, PriorityError, "errors.occurred",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.ErrorOccurredPayload)
				if !ok {
					return payloadError(ev)
				}
				errTracker.OnError(p.Endpoint, p.ErrorType, p.Message, p.Model, ev.Timestamp)
				return nil
			}),
		bus.Subscribe(events.EventRequestCompleted, PriorityError, "errors.request_completed",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.RequestCompletedPayload)
				if !ok {
					return payloadError(ev)
				}
				errTracker.OnRequestCompleted(p.Endpoint, ev.Timestamp)
				return nil
			}),
		bus.Subscribe(events.EventRequestFailed, PriorityError, "errors.request_failed",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.RequestFailedPayload)
				if !ok {
					return payloadError(ev)
				}
				errTracker.OnRequestFailed(p.Endpoint, p.ErrorType, ev.Timestamp)
				return nil
			}),

		bus.Subscribe(events.EventRequestCompleted, PriorityCost, "cost.request_completed",
			func(ev events.Event) error {
				p, ok := ev.Payload.(events.RequestCompletedPayload)
				if !ok {
					return payloadError(ev)
				}
				_, err := cost.RecordUsage(p.APIKey, p.Model, p.Endpoint,
					int64(p.PromptTokens), int64(p.CompletionTokens), int64(p.CachedTokens),
					ev.Timestamp)
				return err
			}),
	}

	return subs
}

func payloadError(ev events.Event) error {
	return fmt.Errorf("unexpected payload type %T for %s", ev.Payload, ev.Type)
}
