package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fakeai/fakeai/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_BasicPublishSubscribe(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan Event, 1)

	bus.Subscribe(EventStreamStarted, 0, "test", func(ev Event) error {
		received <- ev
		return nil
	})

	event := NewStreamStarted(types.NewID(), "fake-gpt-4")
	if err := bus.Publish(ctx, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != EventStreamStarted {
			t.Errorf("expected event type %v, got %v", EventStreamStarted, got.Type)
		}
		if got.CorrelationID != event.CorrelationID {
			t.Errorf("expected correlation id %v, got %v", event.CorrelationID, got.CorrelationID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_RejectsInvalidEvents(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()))
	defer bus.Close()

	invoked := atomic.Bool{}
	bus.Subscribe(EventTokenGenerated, 0, "test", func(Event) error {
		invoked.Store(true)
		return nil
	})

	err := bus.Publish(context.Background(), NewTokenGenerated(types.NewID(), -1))
	if err == nil {
		t.Fatal("expected validation error for negative token delta")
	}
	if types.CodeOf(err) != types.EVENT_VALIDATION_FAILED {
		t.Errorf("error code = %v, want EVENT_VALIDATION_FAILED", types.CodeOf(err))
	}

	stats := bus.Stats()
	if stats.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", stats.Rejected)
	}
	if stats.Published != 0 {
		t.Errorf("published = %d, want 0 (invalid events are never enqueued)", stats.Published)
	}
	if invoked.Load() {
		t.Error("handler must not see rejected events")
	}
}

func TestBus_PriorityOrdering(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()), WithWorkerCount(1))

	var mu sync.Mutex
	var order []string

	record := func(name string) Handler {
		return func(Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Register out of priority order on purpose.
	bus.Subscribe(EventRequestCompleted, 5, "mid", record("mid"))
	bus.Subscribe(EventRequestCompleted, 1, "low", record("low"))
	bus.Subscribe(EventRequestCompleted, 10, "high", record("high"))

	ev := NewRequestCompleted(types.NewID(), RequestCompletedPayload{
		APIKey: "sk-test", Model: "fake-gpt-4", Endpoint: "/v1/chat/completions",
	})
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("got %d invocations, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("invocation %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestBus_PerCorrelationOrdering(t *testing.T) {
	// Multiple workers, but all events of one stream must arrive in
	// publish order because they share a shard.
	bus := NewBus(WithLogger(quietLogger()), WithWorkerCount(8))

	var mu sync.Mutex
	var deltas []int

	bus.Subscribe(EventTokenGenerated, 0, "test", func(ev Event) error {
		payload := ev.Payload.(TokenGeneratedPayload)
		mu.Lock()
		deltas = append(deltas, payload.TokenCountDelta)
		mu.Unlock()
		return nil
	})

	streamID := types.NewID()
	const n = 200
	for i := 1; i <= n; i++ {
		if err := bus.Publish(context.Background(), NewTokenGenerated(streamID, i)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(deltas) != n {
		t.Fatalf("received %d events, want %d", len(deltas), n)
	}
	for i, d := range deltas {
		if d != i+1 {
			t.Fatalf("event %d arrived out of order: delta %d", i, d)
		}
	}
}

func TestBus_DropsWhenQueueFull(t *testing.T) {
	bus := NewBus(
		WithLogger(quietLogger()),
		WithWorkerCount(1),
		WithQueueCapacity(1),
	)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	bus.Subscribe(EventStreamFailed, 0, "slow", func(Event) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	streamID := types.NewID()

	// First event occupies the worker; wait until it is being handled.
	if err := bus.Publish(context.Background(), NewStreamFailed(streamID, "x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	<-started

	// Second fills the queue, further publishes must drop without blocking.
	for i := 0; i < 5; i++ {
		if err := bus.Publish(context.Background(), NewStreamFailed(streamID, "x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	close(release)
	bus.Close()

	stats := bus.Stats()
	if stats.Dropped == 0 {
		t.Error("expected dropped events with a full queue")
	}
	if stats.Published != stats.Dispatched+stats.Dropped {
		t.Errorf("published(%d) != dispatched(%d) + dropped(%d)",
			stats.Published, stats.Dispatched, stats.Dropped)
	}
}

func TestBus_FailingSubscriberIsolated(t *testing.T) {
	bus := NewBus(
		WithLogger(quietLogger()),
		WithWorkerCount(1),
		WithCircuitBreaker(3, time.Minute, time.Hour),
	)

	healthy := atomic.Int64{}
	bus.Subscribe(EventErrorOccurred, 10, "failing", func(Event) error {
		return errors.New("always broken")
	})
	bus.Subscribe(EventErrorOccurred, 5, "healthy", func(Event) error {
		healthy.Add(1)
		return nil
	})

	requestID := types.NewID()
	const n = 10
	for i := 0; i < n; i++ {
		ev := NewErrorOccurred(requestID, ErrorOccurredPayload{
			Endpoint:  "/v1/chat/completions",
			ErrorType: "internal_error",
			Message:   "boom",
		})
		if err := bus.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	bus.Close()

	if healthy.Load() != n {
		t.Errorf("healthy subscriber received %d events, want %d", healthy.Load(), n)
	}

	stats := bus.Stats()
	for _, sub := range stats.Subscribers {
		switch sub.Name {
		case "failing":
			if sub.CircuitState != "open" {
				t.Errorf("failing subscriber circuit = %s, want open", sub.CircuitState)
			}
			if sub.Failed != 3 {
				t.Errorf("failing subscriber failures = %d, want 3 (threshold)", sub.Failed)
			}
			if sub.Skipped != n-3 {
				t.Errorf("failing subscriber skipped = %d, want %d", sub.Skipped, n-3)
			}
		case "healthy":
			if sub.CircuitState != "closed" {
				t.Errorf("healthy subscriber circuit = %s, want closed", sub.CircuitState)
			}
			if sub.Received != n {
				t.Errorf("healthy subscriber received = %d, want %d", sub.Received, n)
			}
		}
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()), WithWorkerCount(1))

	after := atomic.Int64{}
	bus.Subscribe(EventStreamCompleted, 10, "panicky", func(Event) error {
		panic("handler bug")
	})
	bus.Subscribe(EventStreamCompleted, 5, "after", func(Event) error {
		after.Add(1)
		return nil
	})

	if err := bus.Publish(context.Background(), NewStreamCompleted(types.NewID(), 1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	bus.Close()

	if after.Load() != 1 {
		t.Error("subscriber after a panicking one did not receive the event")
	}

	for _, sub := range bus.Stats().Subscribers {
		if sub.Name == "panicky" && sub.Failed != 1 {
			t.Errorf("panicking subscriber failed = %d, want 1", sub.Failed)
		}
	}
}

func TestBus_Accounting(t *testing.T) {
	bus := NewBus(
		WithLogger(quietLogger()),
		WithWorkerCount(4),
		WithQueueCapacity(16),
	)

	bus.Subscribe(EventTokenGenerated, 0, "counter", func(Event) error {
		time.Sleep(time.Microsecond) // induce occasional queue pressure
		return nil
	})

	const producers = 8
	const perProducer = 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			streamID := types.NewID()
			for i := 0; i < perProducer; i++ {
				_ = bus.Publish(context.Background(), NewTokenGenerated(streamID, 1))
			}
		}()
	}
	wg.Wait()
	bus.Close()

	stats := bus.Stats()
	if stats.Published != producers*perProducer {
		t.Errorf("published = %d, want %d", stats.Published, producers*perProducer)
	}
	if stats.Published != stats.Dispatched+stats.Dropped {
		t.Errorf("published(%d) != dispatched(%d) + dropped(%d)",
			stats.Published, stats.Dispatched, stats.Dropped)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()))
	bus.Close()

	err := bus.Publish(context.Background(), NewFirstTokenGenerated(types.NewID()))
	if err == nil {
		t.Fatal("expected error publishing to closed bus")
	}
	if types.CodeOf(err) != types.EVENT_BUS_CLOSED {
		t.Errorf("error code = %v, want EVENT_BUS_CLOSED", types.CodeOf(err))
	}
}

func TestBus_CloseIdempotent(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()))
	if err := bus.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(WithLogger(quietLogger()), WithWorkerCount(1))

	count := atomic.Int64{}
	sub := bus.Subscribe(EventStreamStarted, 0, "test", func(Event) error {
		count.Add(1)
		return nil
	})

	id := types.NewID()
	if err := bus.Publish(context.Background(), NewStreamStarted(id, "m")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Ensure delivery before unsubscribing.
	deadline := time.Now().Add(time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	sub.Unsubscribe()
	if err := bus.Publish(context.Background(), NewStreamStarted(id, "m")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	bus.Close()

	if count.Load() != 1 {
		t.Errorf("handler invoked %d times, want 1", count.Load())
	}
}
