package metrics

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Message normalization patterns, applied in this fixed order. Hex tokens
// must be substituted before UUIDs would otherwise be corrupted piecewise,
// and both before bare integers, so the order is hex, uuid, number.
var (
	hexPattern  = regexp.MustCompile(`0x[0-9a-fA-F]+|\b[0-9a-fA-F]{16,}\b`)
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	numPattern  = regexp.MustCompile(`\d+`)
)

// NormalizeMessage substitutes the variable parts of an error message so
// that structurally identical errors collapse to one pattern: hexadecimal
// addresses/tokens become <HEX>, UUID-shaped substrings become <UUID>,
// bare integers become <NUM>.
func NormalizeMessage(message string) string {
	msg := hexPattern.ReplaceAllString(message, "<HEX>")
	msg = uuidPattern.ReplaceAllString(msg, "<UUID>")
	msg = numPattern.ReplaceAllString(msg, "<NUM>")
	return msg
}

// Fingerprint returns the stable short identifier for a class of
// structurally similar errors. It is a pure function of the error type,
// endpoint, and normalized message: equal inputs always produce the same
// fingerprint.
func Fingerprint(errorType, endpoint, message string) string {
	signature := errorType + ":" + endpoint + ":" + NormalizeMessage(message)
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])[:8]
}

// ErrorRecord is an immutable entry in the bounded recent-error buffer.
type ErrorRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Endpoint    string    `json:"endpoint"`
	ErrorType   string    `json:"error_type"`
	Message     string    `json:"message"`
	Fingerprint string    `json:"fingerprint"`
}

// ErrorPattern aggregates all occurrences sharing one fingerprint.
type ErrorPattern struct {
	Fingerprint    string    `json:"fingerprint"`
	ErrorType      string    `json:"error_type"`
	Endpoint       string    `json:"endpoint"`
	Example        string    `json:"example"`
	Count          int64     `json:"count"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	AffectedModels []string  `json:"affected_models"`
}

// errorPatternState is the mutable pattern entry owned by the tracker.
// Patterns are never deleted within process lifetime; their cardinality is
// bounded by the number of distinct fingerprints.
type errorPatternState struct {
	errorType      string
	endpoint       string
	example        string
	count          int64
	firstSeen      time.Time
	lastSeen       time.Time
	affectedModels map[string]struct{}
}

// SLOStatus is the derived error-budget view computed on demand from the
// rolling window of request outcomes.
type SLOStatus struct {
	TargetSuccessRate    float64 `json:"target_success_rate"`
	CurrentSuccessRate   float64 `json:"current_success_rate"`
	WindowSeconds        int     `json:"window_seconds"`
	TotalRequests        int64   `json:"total_requests"`
	ErrorBudgetTotal     int64   `json:"error_budget_total"`
	ErrorBudgetConsumed  int64   `json:"error_budget_consumed"`
	ErrorBudgetRemaining int64   `json:"error_budget_remaining"`
	SLOViolated          bool    `json:"slo_violated"`
	BurnRate             float64 `json:"burn_rate"`
}

// ErrorMetrics is the aggregate error view returned by GetMetrics.
type ErrorMetrics struct {
	TotalErrors      int64            `json:"total_errors"`
	ErrorsByEndpoint map[string]int64 `json:"errors_by_endpoint"`
	ErrorsByType     map[string]int64 `json:"errors_by_type"`
	PatternCount     int              `json:"pattern_count"`
	RecentCount      int              `json:"recent_count"`
}

// sloBucket is one second of request outcomes in the rolling SLO window.
type sloBucket struct {
	sec      int64
	total    int64
	failures int64
}

// ErrorTracker maintains error patterns and the SLO/error-budget window.
//
// Writes are O(1) counter and map updates under the tracker lock; pattern
// listing and SLO computation snapshot under the lock and do their sorting
// outside it.
type ErrorTracker struct {
	mu       sync.Mutex
	recent   []ErrorRecord
	recIdx   int
	recLen   int
	patterns map[string]*errorPatternState

	totalErrors int64
	byEndpoint  map[string]int64
	byType      map[string]int64

	target  float64
	window  int
	buckets []sloBucket

	logger *slog.Logger
	now    func() time.Time
}

// ErrorTrackerOption configures an ErrorTracker.
type ErrorTrackerOption func(*ErrorTracker)

// WithRecentCapacity sets the recent-error buffer capacity. Default: 500.
func WithRecentCapacity(n int) ErrorTrackerOption {
	return func(t *ErrorTracker) {
		if n > 0 {
			t.recent = make([]ErrorRecord, n)
		}
	}
}

// WithSLOTarget sets the target success rate, e.g. 0.999. Default: 0.999.
func WithSLOTarget(target float64) ErrorTrackerOption {
	return func(t *ErrorTracker) {
		if target > 0 && target < 1 {
			t.target = target
		}
	}
}

// WithSLOWindow sets the rolling window length in seconds over which the
// error budget is computed. Default: 300.
func WithSLOWindow(seconds int) ErrorTrackerOption {
	return func(t *ErrorTracker) {
		if seconds > 0 {
			t.window = seconds
			t.buckets = make([]sloBucket, seconds)
		}
	}
}

// WithErrorTrackerLogger sets the structured logger.
func WithErrorTrackerLogger(logger *slog.Logger) ErrorTrackerOption {
	return func(t *ErrorTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewErrorTracker creates an ErrorTracker with the given options.
func NewErrorTracker(opts ...ErrorTrackerOption) *ErrorTracker {
	t := &ErrorTracker{
		recent:     make([]ErrorRecord, 500),
		patterns:   make(map[string]*errorPatternState),
		byEndpoint: make(map[string]int64),
		byType:     make(map[string]int64),
		target:     0.999,
		window:     300,
		logger:     slog.Default(),
		now:        time.Now,
	}
	t.buckets = make([]sloBucket, t.window)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnError records a simulated API error: it appends to the bounded recent
// buffer and creates or updates the error pattern for its fingerprint.
func (t *ErrorTracker) OnError(endpoint, errorType, message, model string, at time.Time) {
	fp := Fingerprint(errorType, endpoint, message)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalErrors++
	t.byEndpoint[endpoint]++
	t.byType[errorType]++

	t.recent[t.recIdx] = ErrorRecord{
		Timestamp:   at,
		Endpoint:    endpoint,
		ErrorType:   errorType,
		Message:     message,
		Fingerprint: fp,
	}
	t.recIdx = (t.recIdx + 1) % len(t.recent)
	if t.recLen < len(t.recent) {
		t.recLen++
	}

	pattern, ok := t.patterns[fp]
	if !ok {
		pattern = &errorPatternState{
			errorType:      errorType,
			endpoint:       endpoint,
			example:        NormalizeMessage(message),
			firstSeen:      at,
			affectedModels: make(map[string]struct{}),
		}
		t.patterns[fp] = pattern
	}
	pattern.count++
	pattern.lastSeen = at
	if model != "" {
		pattern.affectedModels[model] = struct{}{}
	}
}

// OnRequestCompleted marks a success in the SLO window.
func (t *ErrorTracker) OnRequestCompleted(endpoint string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bucketAt(at).total++
}

// OnRequestFailed marks a failure in the SLO window. Error detail counters
// are updated by OnError, which fires alongside request failures, so this
// only touches the budget accounting.
func (t *ErrorTracker) OnRequestFailed(endpoint, errorType string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketAt(at)
	b.total++
	b.failures++
}

// bucketAt returns the window bucket for the given instant, resetting it
// when it belonged to an earlier revolution of the ring. An instant older
// than the bucket's current occupant gets a discard bucket so late events
// cannot wipe newer data. Caller holds t.mu.
func (t *ErrorTracker) bucketAt(at time.Time) *sloBucket {
	sec := at.Unix()
	b := &t.buckets[int(sec%int64(t.window))]
	if sec < b.sec {
		return &sloBucket{}
	}
	if b.sec != sec {
		b.sec = sec
		b.total = 0
		b.failures = 0
	}
	return b
}

// windowTotals sums the live buckets. Caller holds t.mu.
func (t *ErrorTracker) windowTotals(now time.Time) (total, failures int64) {
	oldest := now.Unix() - int64(t.window) + 1
	for i := range t.buckets {
		if t.buckets[i].sec >= oldest {
			total += t.buckets[i].total
			failures += t.buckets[i].failures
		}
	}
	return total, failures
}

// GetSLOStatus computes the error-budget state over the rolling window.
//
// With zero observed requests the status reports no violation and a zero
// burn rate: no evidence of violation, not a hallucinated one.
func (t *ErrorTracker) GetSLOStatus() SLOStatus {
	t.mu.Lock()
	total, failures := t.windowTotals(t.now())
	target := t.target
	window := t.window
	t.mu.Unlock()

	status := SLOStatus{
		TargetSuccessRate: target,
		WindowSeconds:     window,
		TotalRequests:     total,
	}

	if total == 0 {
		return status
	}

	errorRate := float64(failures) / float64(total)
	status.CurrentSuccessRate = 1 - errorRate

	// The epsilon absorbs binary float error so e.g. (1-0.999)*1000
	// floors to 1, not 0.
	budget := int64(math.Floor((1-target)*float64(total) + 1e-9))
	status.ErrorBudgetTotal = budget
	status.ErrorBudgetConsumed = failures
	status.ErrorBudgetRemaining = budget - failures
	status.SLOViolated = failures > budget
	status.BurnRate = errorRate / (1 - target)

	return status
}

// GetErrorPatterns returns all known patterns sorted by descending count.
func (t *ErrorTracker) GetErrorPatterns() []ErrorPattern {
	t.mu.Lock()
	patterns := make([]ErrorPattern, 0, len(t.patterns))
	for fp, p := range t.patterns {
		models := make([]string, 0, len(p.affectedModels))
		for m := range p.affectedModels {
			models = append(models, m)
		}
		patterns = append(patterns, ErrorPattern{
			Fingerprint:    fp,
			ErrorType:      p.errorType,
			Endpoint:       p.endpoint,
			Example:        p.example,
			Count:          p.count,
			FirstSeen:      p.firstSeen,
			LastSeen:       p.lastSeen,
			AffectedModels: models,
		})
	}
	t.mu.Unlock()

	for i := range patterns {
		sort.Strings(patterns[i].AffectedModels)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Fingerprint < patterns[j].Fingerprint
	})
	return patterns
}

// GetMetrics returns the aggregate error counters.
func (t *ErrorTracker) GetMetrics() ErrorMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	byEndpoint := make(map[string]int64, len(t.byEndpoint))
	for k, v := range t.byEndpoint {
		byEndpoint[k] = v
	}
	byType := make(map[string]int64, len(t.byType))
	for k, v := range t.byType {
		byType[k] = v
	}

	return ErrorMetrics{
		TotalErrors:      t.totalErrors,
		ErrorsByEndpoint: byEndpoint,
		ErrorsByType:     byType,
		PatternCount:     len(t.patterns),
		RecentCount:      t.recLen,
	}
}

// RecentErrors returns the retained error records, oldest first.
func (t *ErrorTracker) RecentErrors() []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]ErrorRecord, 0, t.recLen)
	if t.recLen == len(t.recent) {
		records = append(records, t.recent[t.recIdx:]...)
		records = append(records, t.recent[:t.recIdx]...)
	} else {
		records = append(records, t.recent[:t.recLen]...)
	}
	return records
}

// Reset clears all tracker state. Intended for tests and operator resets.
func (t *ErrorTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recent = make([]ErrorRecord, len(t.recent))
	t.recIdx = 0
	t.recLen = 0
	t.patterns = make(map[string]*errorPatternState)
	t.totalErrors = 0
	t.byEndpoint = make(map[string]int64)
	t.byType = make(map[string]int64)
	t.buckets = make([]sloBucket, t.window)
}

// PrometheusText renders error and SLO metrics in Prometheus exposition
// format.
func (t *ErrorTracker) PrometheusText() string {
	m := t.GetMetrics()
	slo := t.GetSLOStatus()

	var b promBuilder
	b.header("error_total", "Total simulated API errors observed.", "counter")
	b.metric("error_total", nil, float64(m.TotalErrors))
	b.header("error_patterns", "Distinct error fingerprints observed.", "gauge")
	b.metric("error_patterns", nil, float64(m.PatternCount))
	b.header("error_by_endpoint_total", "Errors partitioned by endpoint.", "counter")
	for _, endpoint := range sortedKeys(m.ErrorsByEndpoint) {
		b.metric("error_by_endpoint_total",
			[]promLabel{{"endpoint", endpoint}},
			float64(m.ErrorsByEndpoint[endpoint]))
	}
	b.header("slo_current_success_rate", "Success rate over the rolling window.", "gauge")
	b.metric("slo_current_success_rate", nil, slo.CurrentSuccessRate)
	b.header("error_budget_total", "Failures tolerable within the window at the SLO target.", "gauge")
	b.metric("error_budget_total", nil, float64(slo.ErrorBudgetTotal))
	b.header("error_budget_remaining", "Error budget left in the window.", "gauge")
	b.metric("error_budget_remaining", nil, float64(slo.ErrorBudgetRemaining))
	b.header("slo_burn_rate", "Ratio of actual to sustainable error rate.", "gauge")
	b.metric("slo_burn_rate", nil, slo.BurnRate)
	b.header("slo_violated", "1 when the error budget is exhausted.", "gauge")
	b.metric("slo_violated", nil, boolToFloat(slo.SLOViolated))
	return b.String()
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
