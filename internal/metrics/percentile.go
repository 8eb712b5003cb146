package metrics

import (
	"math"
	"sort"
	"time"
)

// PercentileSet holds the three quantiles every aggregate exposes, in
// milliseconds for latencies and in raw units otherwise.
type PercentileSet struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// percentileOf returns the p-th percentile (0 < p <= 1) of the sorted
// sample using the exact order statistic at index ceil(p*n).
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// percentiles sorts the sample in place and returns the standard quantile
// set. The caller must pass a snapshot it owns; this is the O(n log n)
// work that happens outside any tracker lock.
func percentiles(samples []float64) PercentileSet {
	if len(samples) == 0 {
		return PercentileSet{}
	}
	sort.Float64s(samples)
	return PercentileSet{
		P50: percentileOf(samples, 0.50),
		P95: percentileOf(samples, 0.95),
		P99: percentileOf(samples, 0.99),
	}
}

// durationsToMillis converts a duration sample to float64 milliseconds.
func durationsToMillis(durations []time.Duration) []float64 {
	out := make([]float64, len(durations))
	for i, d := range durations {
		out[i] = float64(d) / float64(time.Millisecond)
	}
	return out
}
