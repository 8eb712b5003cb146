package events

import (
	"fmt"
	"time"

	"github.com/fakeai/fakeai/internal/types"
)

// EventType identifies the category and nature of an event in the FakeAI
// simulator. Each simulated request or stream emits a fixed sequence of
// lifecycle events which the metrics trackers consume.
type EventType string

// Stream Lifecycle Events
// These events track a single simulated streaming response from start to
// terminal state. All of them carry the stream id as the correlation id.
const (
	EventStreamStarted       EventType = "stream.started"
	EventTokenGenerated      EventType = "stream.token"
	EventFirstTokenGenerated EventType = "stream.first_token"
	EventStreamCompleted     EventType = "stream.completed"
	EventStreamFailed        EventType = "stream.failed"
)

// Request Lifecycle Events
// These events track non-streaming request outcomes for SLO and cost
// accounting.
const (
	EventRequestCompleted EventType = "request.completed"
	EventRequestFailed    EventType = "request.failed"
)

// Error Events
// These events report simulated API errors for pattern analysis.
const (
	EventErrorOccurred EventType = "error.occurred"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks if the EventType is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventStreamStarted, EventTokenGenerated, EventFirstTokenGenerated,
		EventStreamCompleted, EventStreamFailed,
		EventRequestCompleted, EventRequestFailed,
		EventErrorOccurred:
		return true
	default:
		return false
	}
}

// Event represents a single observability event in the FakeAI pipeline.
//
// Events are immutable after creation: the transport layer builds one,
// hands it to Bus.Publish, and never touches it again. The correlation id
// is the request or stream id the event belongs to; the bus uses it to
// route all events of one stream to the same dispatch worker so they are
// processed in publish order.
type Event struct {
	// Type identifies the category and nature of the event
	Type EventType `json:"type"`

	// Timestamp records when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID associates the event with a request or stream
	CorrelationID types.ID `json:"correlation_id"`

	// TraceID is the OpenTelemetry trace ID for distributed tracing correlation
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the OpenTelemetry span ID for the specific operation
	SpanID string `json:"span_id,omitempty"`

	// Payload contains event-specific typed data (use type assertion to access)
	Payload any `json:"payload,omitempty"`
}

// Payload Types
// These structs define the typed payload data for each event type.

// StreamStartedPayload contains data for stream.started events.
type StreamStartedPayload struct {
	Model string `json:"model"`
}

// TokenGeneratedPayload contains data for stream.token events.
type TokenGeneratedPayload struct {
	TokenCountDelta int `json:"token_count_delta"`
}

// StreamCompletedPayload contains data for stream.completed events.
type StreamCompletedPayload struct {
	TotalTokens int `json:"total_tokens"`
}

// StreamFailedPayload contains data for stream.failed events.
type StreamFailedPayload struct {
	Reason string `json:"reason"`
}

// ErrorOccurredPayload contains data for error.occurred events.
type ErrorOccurredPayload struct {
	Endpoint   string `json:"endpoint"`
	ErrorType  string `json:"error_type"`
	Message    string `json:"message"`
	Model      string `json:"model,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// RequestCompletedPayload contains data for request.completed events.
type RequestCompletedPayload struct {
	APIKey           string `json:"api_key"`
	Model            string `json:"model"`
	Endpoint         string `json:"endpoint"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	CachedTokens     int    `json:"cached_tokens"`
}

// RequestFailedPayload contains data for request.failed events.
type RequestFailedPayload struct {
	Endpoint  string `json:"endpoint"`
	ErrorType string `json:"error_type"`
}

// Validate checks the event for malformed input before it is admitted to
// the bus. Invalid events are rejected at the publish boundary and never
// enqueued.
func (e *Event) Validate() error {
	if !e.Type.IsValid() {
		return types.NewError(types.EVENT_VALIDATION_FAILED,
			fmt.Sprintf("unknown event type %q", e.Type))
	}
	if e.CorrelationID.IsZero() {
		return types.NewError(types.EVENT_VALIDATION_FAILED,
			"correlation id is required")
	}

	switch e.Type {
	case EventStreamStarted:
		p, ok := e.Payload.(StreamStartedPayload)
		if !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
		if p.Model == "" {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				"stream.started requires a model")
		}
	case EventTokenGenerated:
		p, ok := e.Payload.(TokenGeneratedPayload)
		if !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
		if p.TokenCountDelta <= 0 {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				fmt.Sprintf("token count delta must be positive, got %d", p.TokenCountDelta))
		}
	case EventFirstTokenGenerated:
		if e.Payload != nil {
			return payloadTypeError(e.Type, e.Payload)
		}
	case EventStreamCompleted:
		p, ok := e.Payload.(StreamCompletedPayload)
		if !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
		if p.TotalTokens < 0 {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				fmt.Sprintf("total tokens must be non-negative, got %d", p.TotalTokens))
		}
	case EventStreamFailed:
		if _, ok := e.Payload.(StreamFailedPayload); !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
	case EventErrorOccurred:
		p, ok := e.Payload.(ErrorOccurredPayload)
		if !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
		if p.Endpoint == "" || p.ErrorType == "" {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				"error.occurred requires endpoint and error type")
		}
	case EventRequestCompleted:
		p, ok := e.Payload.(RequestCompletedPayload)
		if !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
		if p.PromptTokens < 0 || p.CompletionTokens < 0 || p.CachedTokens < 0 {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				"token counts must be non-negative")
		}
		if p.Endpoint == "" {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				"request.completed requires an endpoint")
		}
	case EventRequestFailed:
		p, ok := e.Payload.(RequestFailedPayload)
		if !ok {
			return payloadTypeError(e.Type, e.Payload)
		}
		if p.Endpoint == "" {
			return types.NewError(types.EVENT_VALIDATION_FAILED,
				"request.failed requires an endpoint")
		}
	}

	return nil
}

func payloadTypeError(t EventType, payload any) error {
	return types.NewError(types.EVENT_VALIDATION_FAILED,
		fmt.Sprintf("wrong payload type %T for event %s", payload, t))
}

// Constructors
// The transport layer is expected to use these rather than building Event
// literals; they set the timestamp and keep payload types straight.

// NewStreamStarted creates a stream.started event for the given stream.
func NewStreamStarted(streamID types.ID, model string) Event {
	return Event{
		Type:          EventStreamStarted,
		Timestamp:     time.Now(),
		CorrelationID: streamID,
		Payload:       StreamStartedPayload{Model: model},
	}
}

// NewTokenGenerated creates a stream.token event carrying the number of
// tokens produced since the previous token event (usually 1).
func NewTokenGenerated(streamID types.ID, delta int) Event {
	return Event{
		Type:          EventTokenGenerated,
		Timestamp:     time.Now(),
		CorrelationID: streamID,
		Payload:       TokenGeneratedPayload{TokenCountDelta: delta},
	}
}

// NewFirstTokenGenerated creates a stream.first_token event.
func NewFirstTokenGenerated(streamID types.ID) Event {
	return Event{
		Type:          EventFirstTokenGenerated,
		Timestamp:     time.Now(),
		CorrelationID: streamID,
	}
}

// NewStreamCompleted creates a stream.completed event.
func NewStreamCompleted(streamID types.ID, totalTokens int) Event {
	return Event{
		Type:          EventStreamCompleted,
		Timestamp:     time.Now(),
		CorrelationID: streamID,
		Payload:       StreamCompletedPayload{TotalTokens: totalTokens},
	}
}

// NewStreamFailed creates a stream.failed event with the terminal reason.
func NewStreamFailed(streamID types.ID, reason string) Event {
	return Event{
		Type:          EventStreamFailed,
		Timestamp:     time.Now(),
		CorrelationID: streamID,
		Payload:       StreamFailedPayload{Reason: reason},
	}
}

// NewErrorOccurred creates an error.occurred event.
func NewErrorOccurred(requestID types.ID, payload ErrorOccurredPayload) Event {
	return Event{
		Type:          EventErrorOccurred,
		Timestamp:     time.Now(),
		CorrelationID: requestID,
		Payload:       payload,
	}
}

// NewRequestCompleted creates a request.completed event.
func NewRequestCompleted(requestID types.ID, payload RequestCompletedPayload) Event {
	return Event{
		Type:          EventRequestCompleted,
		Timestamp:     time.Now(),
		CorrelationID: requestID,
		Payload:       payload,
	}
}

// NewRequestFailed creates a request.failed event.
func NewRequestFailed(requestID types.ID, endpoint, errorType string) Event {
	return Event{
		Type:          EventRequestFailed,
		Timestamp:     time.Now(),
		CorrelationID: requestID,
		Payload:       RequestFailedPayload{Endpoint: endpoint, ErrorType: errorType},
	}
}
