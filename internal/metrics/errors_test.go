package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "integers",
			in:   "rate limit: retry after 30 seconds",
			want: "rate limit: retry after <NUM> seconds",
		},
		{
			name: "uuid",
			in:   "request 3f2b8c1a-9d4e-4f6a-8b2c-1d3e5f7a9b0c not found",
			want: "request <UUID> not found",
		},
		{
			name: "hex prefix",
			in:   "invalid token 0xdeadbeef in header",
			want: "invalid token <HEX> in header",
		},
		{
			name: "long hex run",
			in:   "checksum mismatch a3f8b2c491d07e5f66aa01bc",
			want: "checksum mismatch <HEX>",
		},
		{
			name: "mixed",
			in:   "stream 7c9e6679-7425-40de-944b-e07fc1f90ae7 stalled after 120 tokens",
			want: "stream <UUID> stalled after <NUM> tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMessage(tt.in))
		})
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("rate_limit", "/v1/chat/completions", "retry after 30 seconds")
	b := Fingerprint("rate_limit", "/v1/chat/completions", "retry after 99 seconds")
	assert.Equal(t, a, b, "messages differing only in numbers share a fingerprint")
	assert.Len(t, a, 8)
}

func TestFingerprint_VariesByDimension(t *testing.T) {
	base := Fingerprint("rate_limit", "/v1/chat/completions", "retry after 30 seconds")

	otherType := Fingerprint("server_error", "/v1/chat/completions", "retry after 30 seconds")
	otherEndpoint := Fingerprint("rate_limit", "/v1/embeddings", "retry after 30 seconds")
	otherShape := Fingerprint("rate_limit", "/v1/chat/completions", "quota exhausted for model")

	assert.NotEqual(t, base, otherType)
	assert.NotEqual(t, base, otherEndpoint)
	assert.NotEqual(t, base, otherShape)
}

func TestErrorTracker_PatternAggregation(t *testing.T) {
	tracker := NewErrorTracker(WithErrorTrackerLogger(testLogger()))

	t0 := base
	tracker.OnError("/v1/chat/completions", "rate_limit", "retry after 30 seconds", "gpt-4o", t0)
	tracker.OnError("/v1/chat/completions", "rate_limit", "retry after 60 seconds", "gpt-4o-mini", t0.Add(time.Minute))
	tracker.OnError("/v1/embeddings", "server_error", "internal failure", "gpt-4o", t0.Add(2*time.Minute))

	patterns := tracker.GetErrorPatterns()
	require.Len(t, patterns, 2)

	// Sorted by descending count.
	top := patterns[0]
	assert.Equal(t, int64(2), top.Count)
	assert.Equal(t, "rate_limit", top.ErrorType)
	assert.Equal(t, "retry after <NUM> seconds", top.Example)
	assert.Equal(t, t0, top.FirstSeen)
	assert.Equal(t, t0.Add(time.Minute), top.LastSeen)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, top.AffectedModels)

	m := tracker.GetMetrics()
	assert.Equal(t, int64(3), m.TotalErrors)
	assert.Equal(t, int64(2), m.ErrorsByEndpoint["/v1/chat/completions"])
	assert.Equal(t, int64(2), m.ErrorsByType["rate_limit"])
	assert.Equal(t, 2, m.PatternCount)
}

func TestErrorTracker_RecentBufferBounded(t *testing.T) {
	tracker := NewErrorTracker(
		WithRecentCapacity(3),
		WithErrorTrackerLogger(testLogger()),
	)

	for i := 0; i < 5; i++ {
		tracker.OnError("/v1/chat/completions", "server_error", "boom", "gpt-4o",
			base.Add(time.Duration(i)*time.Second))
	}

	records := tracker.RecentErrors()
	require.Len(t, records, 3)
	// Oldest first, holding the 3 most recent.
	assert.Equal(t, base.Add(2*time.Second), records[0].Timestamp)
	assert.Equal(t, base.Add(4*time.Second), records[2].Timestamp)
}

// sloTracker returns a tracker whose window always contains the recorded
// buckets, with the clock pinned for deterministic totals.
func sloTracker(t *testing.T, target float64) (*ErrorTracker, time.Time) {
	t.Helper()
	now := base.Add(time.Hour)
	tracker := NewErrorTracker(
		WithSLOTarget(target),
		WithSLOWindow(300),
		WithErrorTrackerLogger(testLogger()),
	)
	tracker.now = func() time.Time { return now }
	return tracker, now
}

func TestErrorTracker_SLOWithinBudget(t *testing.T) {
	tracker, now := sloTracker(t, 0.999)

	for i := 0; i < 999; i++ {
		tracker.OnRequestCompleted("/v1/chat/completions", now)
	}
	tracker.OnRequestFailed("/v1/chat/completions", "server_error", now)

	slo := tracker.GetSLOStatus()
	assert.Equal(t, int64(1000), slo.TotalRequests)
	assert.Equal(t, int64(1), slo.ErrorBudgetTotal)
	assert.Equal(t, int64(1), slo.ErrorBudgetConsumed)
	assert.Equal(t, int64(0), slo.ErrorBudgetRemaining)
	assert.False(t, slo.SLOViolated, "budget exactly consumed is not violated")
	assert.InDelta(t, 1.0, slo.BurnRate, 1e-6)
}

func TestErrorTracker_SLOViolated(t *testing.T) {
	tracker, now := sloTracker(t, 0.999)

	for i := 0; i < 998; i++ {
		tracker.OnRequestCompleted("/v1/chat/completions", now)
	}
	tracker.OnRequestFailed("/v1/chat/completions", "server_error", now)
	tracker.OnRequestFailed("/v1/chat/completions", "server_error", now)

	slo := tracker.GetSLOStatus()
	assert.Equal(t, int64(1), slo.ErrorBudgetTotal)
	assert.Equal(t, int64(2), slo.ErrorBudgetConsumed)
	assert.Equal(t, int64(-1), slo.ErrorBudgetRemaining)
	assert.True(t, slo.SLOViolated)
	assert.InDelta(t, 2.0, slo.BurnRate, 1e-6)
}

func TestErrorTracker_SLONoTraffic(t *testing.T) {
	tracker, _ := sloTracker(t, 0.999)

	slo := tracker.GetSLOStatus()
	assert.Equal(t, int64(0), slo.TotalRequests)
	assert.False(t, slo.SLOViolated)
	assert.Equal(t, 0.0, slo.BurnRate)
}

func TestErrorTracker_SLOWindowExpiry(t *testing.T) {
	tracker, now := sloTracker(t, 0.999)

	// Outcomes older than the window do not count.
	stale := now.Add(-10 * time.Minute)
	tracker.OnRequestFailed("/v1/chat/completions", "server_error", stale)
	tracker.OnRequestCompleted("/v1/chat/completions", now)

	slo := tracker.GetSLOStatus()
	assert.Equal(t, int64(1), slo.TotalRequests)
	assert.Equal(t, int64(0), slo.ErrorBudgetConsumed)
	assert.InDelta(t, 1.0, slo.CurrentSuccessRate, 1e-9)
}

func TestErrorTracker_Reset(t *testing.T) {
	tracker, now := sloTracker(t, 0.999)
	tracker.OnError("/v1/chat/completions", "server_error", "boom", "gpt-4o", now)
	tracker.OnRequestFailed("/v1/chat/completions", "server_error", now)

	tracker.Reset()

	m := tracker.GetMetrics()
	assert.Equal(t, int64(0), m.TotalErrors)
	assert.Equal(t, 0, m.PatternCount)
	assert.Empty(t, tracker.RecentErrors())
	assert.Equal(t, int64(0), tracker.GetSLOStatus().TotalRequests)
}
