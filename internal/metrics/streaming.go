package metrics

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fakeai/fakeai/internal/types"
)

// streamState is the mutable per-stream record owned exclusively by the
// StreamingTracker while the stream is active. It is created on stream
// start, mutated on every token, and converted to an immutable
// CompletedStreamRecord on completion or failure.
type streamState struct {
	id              types.ID
	model           string
	startTime       time.Time
	firstTokenAt    time.Time
	tokenTimestamps []time.Time
	tokensGenerated int
	backpressure    int
}

// CompletedStreamRecord is an immutable snapshot of a finished stream,
// retained in a bounded oldest-evicted history purely for aggregate
// statistics.
type CompletedStreamRecord struct {
	StreamID        types.ID        `json:"stream_id"`
	Model           string          `json:"model"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	TTFT            time.Duration   `json:"ttft"`
	InterTokenGaps  []time.Duration `json:"-"`
	TokensGenerated int             `json:"tokens_generated"`
	TokensPerSecond float64         `json:"tokens_per_second"`
	Backpressure    int             `json:"backpressure"`
	Failed          bool            `json:"failed"`
	FailReason      string          `json:"fail_reason,omitempty"`
}

// StreamingMetrics is the aggregate returned by GetMetrics. Latency
// quantiles are in milliseconds.
type StreamingMetrics struct {
	ActiveStreams     int           `json:"active_streams"`
	CompletedStreams  int           `json:"completed_streams"`
	FailedStreams     int           `json:"failed_streams"`
	SuccessRate       float64       `json:"success_rate"`
	TotalTokens       int64         `json:"total_tokens"`
	TTFT              PercentileSet `json:"ttft_ms"`
	InterTokenLatency PercentileSet `json:"itl_ms"`
	TokensPerSecond   PercentileSet `json:"tokens_per_second"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

// StreamingTracker maintains per-stream state machines and derives
// latency and throughput statistics from their terminal records.
//
// Writes (the On* methods) are O(1) map and slice updates under the
// tracker lock; aggregation happens lazily on GetMetrics over a snapshot
// copied out from under the lock, and the computed result is cached for a
// short TTL so high-rate readers do not re-sort large samples every call.
type StreamingTracker struct {
	mu      sync.Mutex
	active  map[types.ID]*streamState
	history []CompletedStreamRecord
	histIdx int
	histLen int

	maxConcurrent int
	cacheTTL      time.Duration
	logger        *slog.Logger

	cacheMu sync.Mutex
	cache   map[int]cachedStreamingMetrics

	unknownStreamCalls int64
}

type cachedStreamingMetrics struct {
	metrics StreamingMetrics
	expires time.Time
}

// StreamingOption configures a StreamingTracker.
type StreamingOption func(*StreamingTracker)

// WithHistoryCapacity sets the completed-stream history capacity. When
// full, the oldest record is evicted. Default: 1000.
func WithHistoryCapacity(n int) StreamingOption {
	return func(t *StreamingTracker) {
		if n > 0 {
			t.history = make([]CompletedStreamRecord, n)
		}
	}
}

// WithMaxConcurrentStreams bounds the active-stream set. Admission above
// the bound is rejected with an error rather than evicting an in-flight
// stream. Default: 10000.
func WithMaxConcurrentStreams(n int) StreamingOption {
	return func(t *StreamingTracker) {
		if n > 0 {
			t.maxConcurrent = n
		}
	}
}

// WithMetricsCacheTTL sets how long a computed aggregate is served before
// being recomputed. Default: 10s.
func WithMetricsCacheTTL(d time.Duration) StreamingOption {
	return func(t *StreamingTracker) {
		if d > 0 {
			t.cacheTTL = d
		}
	}
}

// WithStreamingLogger sets the logger for unknown-stream warnings.
func WithStreamingLogger(logger *slog.Logger) StreamingOption {
	return func(t *StreamingTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewStreamingTracker creates a StreamingTracker with the given options.
func NewStreamingTracker(opts ...StreamingOption) *StreamingTracker {
	t := &StreamingTracker{
		active:        make(map[types.ID]*streamState),
		history:       make([]CompletedStreamRecord, 1000),
		maxConcurrent: 10000,
		cacheTTL:      10 * time.Second,
		logger:        slog.Default(),
		cache:         make(map[int]cachedStreamingMetrics),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnStreamStarted admits a new active stream. It returns an error when the
// concurrent-stream bound is reached or the stream id is already active;
// the caller must not start the stream in either case.
func (t *StreamingTracker) OnStreamStarted(streamID types.ID, model string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[streamID]; exists {
		return types.NewError(types.STREAM_ALREADY_ACTIVE,
			fmt.Sprintf("stream %s is already active", streamID))
	}
	if len(t.active) >= t.maxConcurrent {
		return types.NewRetryableError(types.STREAM_LIMIT_EXCEEDED,
			fmt.Sprintf("active stream limit %d reached", t.maxConcurrent))
	}

	t.active[streamID] = &streamState{
		id:        streamID,
		model:     model,
		startTime: at,
	}
	return nil
}

// OnToken records tokens generated by an active stream. Unknown stream ids
// are logged no-ops: they indicate an out-of-order or dropped event, not a
// fatal condition.
func (t *StreamingTracker) OnToken(streamID types.ID, delta int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[streamID]
	if !ok {
		t.warnUnknown("stream.token", streamID)
		return
	}
	state.tokenTimestamps = append(state.tokenTimestamps, at)
	state.tokensGenerated += delta
}

// OnFirstToken records the first-token instant for TTFT measurement.
func (t *StreamingTracker) OnFirstToken(streamID types.ID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[streamID]
	if !ok {
		t.warnUnknown("stream.first_token", streamID)
		return
	}
	if state.firstTokenAt.IsZero() {
		state.firstTokenAt = at
	}
}

// OnBackpressure counts a client-slowness signal reported by the transport
// layer for an active stream.
func (t *StreamingTracker) OnBackpressure(streamID types.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[streamID]
	if !ok {
		t.warnUnknown("stream.backpressure", streamID)
		return
	}
	state.backpressure++
}

// OnStreamCompleted moves the stream from the active set to the completed
// history.
func (t *StreamingTracker) OnStreamCompleted(streamID types.ID, at time.Time) {
	t.finalize(streamID, at, false, "")
}

// OnStreamFailed terminates the stream with a failure reason. The record
// still enters the history so failures count against the success rate.
func (t *StreamingTracker) OnStreamFailed(streamID types.ID, reason string, at time.Time) {
	t.finalize(streamID, at, true, reason)
}

func (t *StreamingTracker) finalize(streamID types.ID, at time.Time, failed bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.active[streamID]
	if !ok {
		t.warnUnknown("stream terminal event", streamID)
		return
	}
	delete(t.active, streamID)

	record := CompletedStreamRecord{
		StreamID:        streamID,
		Model:           state.model,
		StartTime:       state.startTime,
		EndTime:         at,
		TokensGenerated: state.tokensGenerated,
		Backpressure:    state.backpressure,
		Failed:          failed,
		FailReason:      reason,
	}

	if !state.firstTokenAt.IsZero() {
		record.TTFT = state.firstTokenAt.Sub(state.startTime)
	}

	if len(state.tokenTimestamps) > 1 {
		gaps := make([]time.Duration, 0, len(state.tokenTimestamps)-1)
		for i := 1; i < len(state.tokenTimestamps); i++ {
			gaps = append(gaps, state.tokenTimestamps[i].Sub(state.tokenTimestamps[i-1]))
		}
		record.InterTokenGaps = gaps
	}

	if elapsed := at.Sub(state.startTime); elapsed > 0 && state.tokensGenerated > 0 {
		record.TokensPerSecond = float64(state.tokensGenerated) / elapsed.Seconds()
	}

	// Fixed-capacity FIFO: insertion past capacity evicts the oldest.
	t.history[t.histIdx] = record
	t.histIdx = (t.histIdx + 1) % len(t.history)
	if t.histLen < len(t.history) {
		t.histLen++
	}
}

func (t *StreamingTracker) warnUnknown(event string, streamID types.ID) {
	t.unknownStreamCalls++
	t.logger.Warn("event references unknown stream",
		"event", event,
		"stream_id", streamID,
	)
}

// ActiveCount returns the current size of the active-stream set.
func (t *StreamingTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// HistoryLen returns how many completed records are currently retained.
func (t *StreamingTracker) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.histLen
}

// historySnapshot copies the retained records oldest-first. Caller must
// not hold t.mu.
func (t *StreamingTracker) historySnapshot() ([]CompletedStreamRecord, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]CompletedStreamRecord, 0, t.histLen)
	if t.histLen == len(t.history) {
		records = append(records, t.history[t.histIdx:]...)
		records = append(records, t.history[:t.histIdx]...)
	} else {
		records = append(records, t.history[:t.histLen]...)
	}
	return records, len(t.active)
}

// GetMetrics computes the aggregate over records whose end time falls
// within the last windowSeconds (0 = entire retained history). Results
// are cached per window for the configured TTL.
func (t *StreamingTracker) GetMetrics(windowSeconds int) StreamingMetrics {
	now := time.Now()

	t.cacheMu.Lock()
	if entry, ok := t.cache[windowSeconds]; ok && now.Before(entry.expires) {
		t.cacheMu.Unlock()
		return entry.metrics
	}
	t.cacheMu.Unlock()

	records, activeCount := t.historySnapshot()

	if windowSeconds > 0 {
		cutoff := now.Add(-time.Duration(windowSeconds) * time.Second)
		filtered := records[:0]
		for _, r := range records {
			if r.EndTime.After(cutoff) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	metrics := StreamingMetrics{
		ActiveStreams: activeCount,
		GeneratedAt:   now,
	}

	var ttfts []time.Duration
	var gaps []time.Duration
	var tps []float64

	for _, r := range records {
		if r.Failed {
			metrics.FailedStreams++
		} else {
			metrics.CompletedStreams++
		}
		metrics.TotalTokens += int64(r.TokensGenerated)
		if r.TTFT > 0 {
			ttfts = append(ttfts, r.TTFT)
		}
		// Aggregate ITL percentiles are over the union of all deltas
		// across streams, not per-stream.
		gaps = append(gaps, r.InterTokenGaps...)
		if r.TokensPerSecond > 0 {
			tps = append(tps, r.TokensPerSecond)
		}
	}

	if total := metrics.CompletedStreams + metrics.FailedStreams; total > 0 {
		metrics.SuccessRate = float64(metrics.CompletedStreams) / float64(total)
	}

	metrics.TTFT = percentiles(durationsToMillis(ttfts))
	metrics.InterTokenLatency = percentiles(durationsToMillis(gaps))
	metrics.TokensPerSecond = percentiles(tps)

	t.cacheMu.Lock()
	t.cache[windowSeconds] = cachedStreamingMetrics{
		metrics: metrics,
		expires: now.Add(t.cacheTTL),
	}
	t.cacheMu.Unlock()

	return metrics
}

// Reset clears all tracker state. Intended for tests and operator resets.
func (t *StreamingTracker) Reset() {
	t.mu.Lock()
	t.active = make(map[types.ID]*streamState)
	t.history = make([]CompletedStreamRecord, len(t.history))
	t.histIdx = 0
	t.histLen = 0
	t.unknownStreamCalls = 0
	t.mu.Unlock()

	t.cacheMu.Lock()
	t.cache = make(map[int]cachedStreamingMetrics)
	t.cacheMu.Unlock()
}

// PrometheusText renders the streaming aggregate in Prometheus exposition
// format.
func (t *StreamingTracker) PrometheusText() string {
	m := t.GetMetrics(0)

	var b promBuilder
	b.header("streaming_active_streams", "Number of currently active simulated streams.", "gauge")
	b.metric("streaming_active_streams", nil, float64(m.ActiveStreams))
	b.header("streaming_completed_total", "Completed streams in the retained history.", "counter")
	b.metric("streaming_completed_total", nil, float64(m.CompletedStreams))
	b.header("streaming_failed_total", "Failed streams in the retained history.", "counter")
	b.metric("streaming_failed_total", nil, float64(m.FailedStreams))
	b.header("streaming_success_rate", "Share of terminal streams that completed.", "gauge")
	b.metric("streaming_success_rate", nil, m.SuccessRate)
	b.header("streaming_ttft_milliseconds", "Time to first token.", "summary")
	b.quantiles("streaming_ttft_milliseconds", m.TTFT)
	b.header("streaming_itl_milliseconds", "Inter-token latency.", "summary")
	b.quantiles("streaming_itl_milliseconds", m.InterTokenLatency)
	b.header("streaming_tokens_per_second", "Per-stream token throughput.", "summary")
	b.quantiles("streaming_tokens_per_second", m.TokensPerSecond)
	return b.String()
}
