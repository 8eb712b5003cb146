package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakeai/fakeai/internal/types"
)

// BudgetPeriod determines when a budget's spend counter rolls over.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetWeekly  BudgetPeriod = "weekly"
	BudgetMonthly BudgetPeriod = "monthly"
)

// IsValid reports whether p is a known budget period.
func (p BudgetPeriod) IsValid() bool {
	switch p {
	case BudgetDaily, BudgetWeekly, BudgetMonthly:
		return true
	}
	return false
}

// UsageRecord is one billed simulated request in the cost ledger.
type UsageRecord struct {
	Timestamp        time.Time       `json:"timestamp"`
	APIKey           string          `json:"api_key"`
	Model            string          `json:"model"`
	Endpoint         string          `json:"endpoint"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	CachedTokens     int64           `json:"cached_tokens"`
	Cost             decimal.Decimal `json:"cost"`
}

// Budget is a spend limit attached to an API key.
type Budget struct {
	APIKey      string          `json:"api_key"`
	Limit       decimal.Decimal `json:"limit"`
	Period      BudgetPeriod    `json:"period"`
	HardLimit   bool            `json:"hard_limit"`
	Spent       decimal.Decimal `json:"spent"`
	PeriodStart time.Time       `json:"period_start"`
}

// budgetState is the mutable budget entry owned by the tracker. alerted
// records which thresholds have fired in the current period so each fires
// at most once per period.
type budgetState struct {
	limit       decimal.Decimal
	period      BudgetPeriod
	hardLimit   bool
	spent       decimal.Decimal
	periodStart time.Time
	alerted     map[float64]bool
}

// BudgetAlert describes a budget threshold crossing.
type BudgetAlert struct {
	APIKey    string          `json:"api_key"`
	Threshold float64         `json:"threshold"`
	Spent     decimal.Decimal `json:"spent"`
	Limit     decimal.Decimal `json:"limit"`
	At        time.Time       `json:"at"`
}

// budgetThresholds are the fractions of the limit at which alerts fire,
// ascending so one request crossing several fires them in order.
var budgetThresholds = []float64{0.5, 0.8, 0.9, 1.0}

// UsageFilter narrows a GetUsage query. Zero-value fields mean no
// filtering on that dimension; WindowSeconds restricts to records whose
// timestamp falls within the last N seconds.
type UsageFilter struct {
	APIKey        string
	Model         string
	WindowSeconds int
}

func (f UsageFilter) isZero() bool {
	return f.APIKey == "" && f.Model == "" && f.WindowSeconds == 0
}

// UsageSummary is the aggregate spend view returned by GetUsage.
type UsageSummary struct {
	TotalCost        decimal.Decimal            `json:"total_cost"`
	TotalRequests    int64                      `json:"total_requests"`
	PromptTokens     int64                      `json:"prompt_tokens"`
	CompletionTokens int64                      `json:"completion_tokens"`
	CachedTokens     int64                      `json:"cached_tokens"`
	CacheHitRatio    float64                    `json:"cache_hit_ratio"`
	CostByModel      map[string]decimal.Decimal `json:"cost_by_model"`
	CostByKey        map[string]decimal.Decimal `json:"cost_by_key"`
	CostByEndpoint   map[string]decimal.Decimal `json:"cost_by_endpoint"`
}

// Suggestion is one cost-optimization recommendation derived from observed
// usage.
type Suggestion struct {
	Kind             string          `json:"kind"`
	Model            string          `json:"model,omitempty"`
	Description      string          `json:"description"`
	EstimatedSavings decimal.Decimal `json:"estimated_savings"`
}

// modelUsage accumulates the per-model figures the suggestion heuristics
// read. Maintained incrementally so suggestions never scan the ledger.
type modelUsage struct {
	cost             decimal.Decimal
	requests         int64
	promptTokens     int64
	cachedTokens     int64
	batchable        int64
	latencySensitive int64
}

// CostTracker maintains the simulated spend ledger, per-key budgets, and
// aggregate cost counters. All monetary arithmetic is fixed-point.
type CostTracker struct {
	mu      sync.Mutex
	pricing *PricingTable

	ledger []UsageRecord
	ledIdx int
	ledLen int

	totalCost        decimal.Decimal
	totalRequests    int64
	promptTokens     int64
	completionTokens int64
	cachedTokens     int64
	costByModel      map[string]decimal.Decimal
	costByKey        map[string]decimal.Decimal
	costByEndpoint   map[string]decimal.Decimal
	usageByModel     map[string]*modelUsage

	budgets    map[string]*budgetState
	alertCount int64
	onAlert    func(BudgetAlert)

	logger *slog.Logger
	now    func() time.Time
}

// CostTrackerOption configures a CostTracker.
type CostTrackerOption func(*CostTracker)

// WithLedgerCapacity sets the bounded ledger size. Default: 10000.
func WithLedgerCapacity(n int) CostTrackerOption {
	return func(t *CostTracker) {
		if n > 0 {
			t.ledger = make([]UsageRecord, n)
		}
	}
}

// WithBudgetAlertFunc sets the callback invoked when a budget threshold is
// crossed. The callback runs synchronously under the tracker lock and must
// not call back into the tracker.
func WithBudgetAlertFunc(fn func(BudgetAlert)) CostTrackerOption {
	return func(t *CostTracker) {
		if fn != nil {
			t.onAlert = fn
		}
	}
}

// WithCostTrackerLogger sets the structured logger.
func WithCostTrackerLogger(logger *slog.Logger) CostTrackerOption {
	return func(t *CostTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewCostTracker creates a CostTracker billing against the given pricing
// table.
func NewCostTracker(pricing *PricingTable, opts ...CostTrackerOption) *CostTracker {
	t := &CostTracker{
		pricing:        pricing,
		ledger:         make([]UsageRecord, 10000),
		costByModel:    make(map[string]decimal.Decimal),
		costByKey:      make(map[string]decimal.Decimal),
		costByEndpoint: make(map[string]decimal.Decimal),
		usageByModel:   make(map[string]*modelUsage),
		budgets:        make(map[string]*budgetState),
		onAlert:        func(BudgetAlert) {},
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var oneMillion = decimal.NewFromInt(1_000_000)

// costFor prices one request. Cached prompt tokens bill at the cached rate
// when the model has one, otherwise at the full input rate. Multiplication
// precedes the division by one million so intermediate values stay exact.
func costFor(p ModelPricing, promptTokens, completionTokens, cachedTokens int64) decimal.Decimal {
	uncached := promptTokens - cachedTokens
	cost := decimal.NewFromInt(uncached).Mul(p.InputRate).Div(oneMillion)
	cachedRate := p.CachedInputRate
	if cachedRate.IsZero() {
		cachedRate = p.InputRate
	}
	cost = cost.Add(decimal.NewFromInt(cachedTokens).Mul(cachedRate).Div(oneMillion))
	cost = cost.Add(decimal.NewFromInt(completionTokens).Mul(p.OutputRate).Div(oneMillion))
	return cost.Round(6)
}

// RecordUsage bills one simulated request and returns its cost.
//
// Token counts must be non-negative and cached tokens cannot exceed prompt
// tokens; a model without pricing returns PRICING_NOT_FOUND and records
// nothing.
func (t *CostTracker) RecordUsage(apiKey, model, endpoint string, promptTokens, completionTokens, cachedTokens int64, at time.Time) (decimal.Decimal, error) {
	if promptTokens < 0 || completionTokens < 0 || cachedTokens < 0 {
		return decimal.Zero, types.NewError(types.USAGE_INVALID,
			"token counts must be non-negative")
	}
	if cachedTokens > promptTokens {
		return decimal.Zero, types.NewError(types.USAGE_INVALID,
			"cached tokens exceed prompt tokens")
	}
	pricing, ok := t.pricing.Lookup(model)
	if !ok {
		return decimal.Zero, types.NewError(types.PRICING_NOT_FOUND,
			"no pricing configured for model "+model)
	}

	cost := costFor(pricing, promptTokens, completionTokens, cachedTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger[t.ledIdx] = UsageRecord{
		Timestamp:        at,
		APIKey:           apiKey,
		Model:            model,
		Endpoint:         endpoint,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CachedTokens:     cachedTokens,
		Cost:             cost,
	}
	t.ledIdx = (t.ledIdx + 1) % len(t.ledger)
	if t.ledLen < len(t.ledger) {
		t.ledLen++
	}

	t.totalCost = t.totalCost.Add(cost)
	t.totalRequests++
	t.promptTokens += promptTokens
	t.completionTokens += completionTokens
	t.cachedTokens += cachedTokens
	t.costByModel[model] = t.costByModel[model].Add(cost)
	t.costByKey[apiKey] = t.costByKey[apiKey].Add(cost)
	t.costByEndpoint[endpoint] = t.costByEndpoint[endpoint].Add(cost)

	mu, ok := t.usageByModel[model]
	if !ok {
		mu = &modelUsage{}
		t.usageByModel[model] = mu
	}
	mu.cost = mu.cost.Add(cost)
	mu.requests++
	mu.promptTokens += promptTokens
	mu.cachedTokens += cachedTokens
	if isLatencySensitive(endpoint) {
		mu.latencySensitive++
	} else {
		mu.batchable++
	}

	if b, ok := t.budgets[apiKey]; ok {
		t.applySpend(apiKey, b, cost, at)
	}

	return cost, nil
}

// isLatencySensitive classifies endpoints for the batching heuristic.
// Interactive chat and completion traffic is latency sensitive; embeddings,
// moderation, and batch traffic is not.
func isLatencySensitive(endpoint string) bool {
	switch endpoint {
	case "/v1/embeddings", "/v1/moderations", "/v1/batches", "/v1/files":
		return false
	}
	return true
}

// applySpend adds cost to a budget, rolling the period over first, and
// fires any newly crossed threshold alerts. Caller holds t.mu.
func (t *CostTracker) applySpend(apiKey string, b *budgetState, cost decimal.Decimal, at time.Time) {
	start := periodStartFor(b.period, at)
	if !start.Equal(b.periodStart) {
		b.periodStart = start
		b.spent = decimal.Zero
		b.alerted = make(map[float64]bool)
	}
	b.spent = b.spent.Add(cost)

	if b.limit.Sign() <= 0 {
		return
	}
	ratio, _ := b.spent.Div(b.limit).Float64()
	for _, threshold := range budgetThresholds {
		if ratio >= threshold && !b.alerted[threshold] {
			b.alerted[threshold] = true
			t.alertCount++
			t.logger.Warn("budget threshold crossed",
				"api_key", apiKey,
				"threshold", threshold,
				"spent", b.spent.String(),
				"limit", b.limit.String())
			t.onAlert(BudgetAlert{
				APIKey:    apiKey,
				Threshold: threshold,
				Spent:     b.spent,
				Limit:     b.limit,
				At:        at,
			})
		}
	}
}

// periodStartFor returns the UTC start of the budget period containing at.
// Weekly periods start on Monday, monthly on the first of the month.
func periodStartFor(period BudgetPeriod, at time.Time) time.Time {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case BudgetWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BudgetMonthly:
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// SetBudget installs or replaces the budget for an API key. Installing a
// budget resets its period accounting.
func (t *CostTracker) SetBudget(apiKey string, limit decimal.Decimal, period BudgetPeriod, hardLimit bool) error {
	if !period.IsValid() {
		return types.NewError(types.USAGE_INVALID,
			"unknown budget period "+string(period))
	}
	if limit.Sign() <= 0 {
		return types.NewError(types.USAGE_INVALID,
			"budget limit must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets[apiKey] = &budgetState{
		limit:       limit,
		period:      period,
		hardLimit:   hardLimit,
		periodStart: periodStartFor(period, t.now()),
		alerted:     make(map[float64]bool),
	}
	return nil
}

// GetBudget returns the budget for an API key with its current-period
// spend.
func (t *CostTracker) GetBudget(apiKey string) (Budget, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[apiKey]
	if !ok {
		return Budget{}, types.NewError(types.BUDGET_NOT_FOUND,
			"no budget configured for key "+apiKey)
	}
	return Budget{
		APIKey:      apiKey,
		Limit:       b.limit,
		Period:      b.period,
		HardLimit:   b.hardLimit,
		Spent:       b.spent,
		PeriodStart: b.periodStart,
	}, nil
}

// OverBudget reports whether spend in the current period strictly exceeds
// the key's limit. Keys without a budget are never over budget; soft
// budgets still report the boolean, hard enforcement is the caller's job.
func (t *CostTracker) OverBudget(apiKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[apiKey]
	if !ok {
		return false
	}
	if !periodStartFor(b.period, t.now()).Equal(b.periodStart) {
		return false
	}
	return b.spent.GreaterThan(b.limit)
}

// GetUsage returns the aggregate spend summary matching the filter. The
// zero filter returns lifetime totals maintained incrementally, which
// cover every request ever billed; a non-zero filter aggregates over the
// retained ledger, so its reach is bounded by the ledger capacity.
func (t *CostTracker) GetUsage(filter UsageFilter) UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if filter.isZero() {
		return UsageSummary{
			TotalCost:        t.totalCost,
			TotalRequests:    t.totalRequests,
			PromptTokens:     t.promptTokens,
			CompletionTokens: t.completionTokens,
			CachedTokens:     t.cachedTokens,
			CacheHitRatio:    cacheHitRatio(t.cachedTokens, t.promptTokens),
			CostByModel:      copyCosts(t.costByModel),
			CostByKey:        copyCosts(t.costByKey),
			CostByEndpoint:   copyCosts(t.costByEndpoint),
		}
	}

	var cutoff time.Time
	if filter.WindowSeconds > 0 {
		cutoff = t.now().Add(-time.Duration(filter.WindowSeconds) * time.Second)
	}

	summary := UsageSummary{
		CostByModel:    make(map[string]decimal.Decimal),
		CostByKey:      make(map[string]decimal.Decimal),
		CostByEndpoint: make(map[string]decimal.Decimal),
	}
	t.eachLedgerRecord(func(r *UsageRecord) {
		if filter.APIKey != "" && r.APIKey != filter.APIKey {
			return
		}
		if filter.Model != "" && r.Model != filter.Model {
			return
		}
		if !cutoff.IsZero() && r.Timestamp.Before(cutoff) {
			return
		}
		summary.TotalCost = summary.TotalCost.Add(r.Cost)
		summary.TotalRequests++
		summary.PromptTokens += r.PromptTokens
		summary.CompletionTokens += r.CompletionTokens
		summary.CachedTokens += r.CachedTokens
		summary.CostByModel[r.Model] = summary.CostByModel[r.Model].Add(r.Cost)
		summary.CostByKey[r.APIKey] = summary.CostByKey[r.APIKey].Add(r.Cost)
		summary.CostByEndpoint[r.Endpoint] = summary.CostByEndpoint[r.Endpoint].Add(r.Cost)
	})
	summary.CacheHitRatio = cacheHitRatio(summary.CachedTokens, summary.PromptTokens)
	return summary
}

func cacheHitRatio(cached, prompt int64) float64 {
	if prompt == 0 {
		return 0
	}
	return float64(cached) / float64(prompt)
}

func copyCosts(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// eachLedgerRecord visits retained records oldest first. Caller holds t.mu.
func (t *CostTracker) eachLedgerRecord(fn func(*UsageRecord)) {
	if t.ledLen == len(t.ledger) {
		for i := t.ledIdx; i < len(t.ledger); i++ {
			fn(&t.ledger[i])
		}
		for i := 0; i < t.ledIdx; i++ {
			fn(&t.ledger[i])
		}
		return
	}
	for i := 0; i < t.ledLen; i++ {
		fn(&t.ledger[i])
	}
}

// Ledger returns the retained usage records, oldest first.
func (t *CostTracker) Ledger() []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]UsageRecord, 0, t.ledLen)
	if t.ledLen == len(t.ledger) {
		records = append(records, t.ledger[t.ledIdx:]...)
		records = append(records, t.ledger[:t.ledIdx]...)
	} else {
		records = append(records, t.ledger[:t.ledLen]...)
	}
	return records
}

var suggestionSavingsFactor = decimal.NewFromFloat(0.5)

// GetOptimizationSuggestions derives recommendations from accumulated
// usage, sorted by descending estimated savings. An empty apiKey analyzes
// all traffic; a specific key analyzes only its retained ledger records.
func (t *CostTracker) GetOptimizationSuggestions(apiKey string) []Suggestion {
	t.mu.Lock()
	var total decimal.Decimal
	var usage map[string]modelUsage
	if apiKey == "" {
		total = t.totalCost
		usage = make(map[string]modelUsage, len(t.usageByModel))
		for model, u := range t.usageByModel {
			usage[model] = *u
		}
	} else {
		usage = make(map[string]modelUsage)
		t.eachLedgerRecord(func(r *UsageRecord) {
			if r.APIKey != apiKey {
				return
			}
			u := usage[r.Model]
			u.cost = u.cost.Add(r.Cost)
			u.requests++
			u.promptTokens += r.PromptTokens
			u.cachedTokens += r.CachedTokens
			if isLatencySensitive(r.Endpoint) {
				u.latencySensitive++
			} else {
				u.batchable++
			}
			usage[r.Model] = u
			total = total.Add(r.Cost)
		})
	}
	t.mu.Unlock()

	var suggestions []Suggestion
	if total.Sign() <= 0 {
		return suggestions
	}
	half := total.Mul(suggestionSavingsFactor)

	for model, u := range usage {
		pricing, ok := t.pricing.Lookup(model)
		if !ok {
			continue
		}

		// Prompt caching: the model dominates spend, sees enough
		// traffic to matter, barely uses its cached rate, and has one.
		if u.requests >= 10 &&
			u.cost.GreaterThanOrEqual(half) &&
			!pricing.CachedInputRate.IsZero() &&
			u.promptTokens > 0 &&
			u.cachedTokens*10 < u.promptTokens {
			discount := pricing.InputRate.Sub(pricing.CachedInputRate)
			savings := decimal.NewFromInt(u.promptTokens).Mul(discount).Div(oneMillion).Round(6)
			suggestions = append(suggestions, Suggestion{
				Kind:             "prompt_caching",
				Model:            model,
				Description:      "enable prompt caching for " + model + "; under 10% of prompt tokens currently hit the cached rate",
				EstimatedSavings: savings,
			})
		}

		// Batching: mostly non-interactive traffic on a premium model.
		if u.requests >= 10 &&
			u.batchable*10 >= (u.batchable+u.latencySensitive)*7 &&
			pricing.InputRate.GreaterThanOrEqual(decimal.NewFromInt(5)) {
			savings := u.cost.Mul(suggestionSavingsFactor).Round(6)
			suggestions = append(suggestions, Suggestion{
				Kind:             "batch_or_downgrade",
				Model:            model,
				Description:      "route non-interactive " + model + " traffic through batch processing or a cheaper model",
				EstimatedSavings: savings,
			})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if !suggestions[i].EstimatedSavings.Equal(suggestions[j].EstimatedSavings) {
			return suggestions[i].EstimatedSavings.GreaterThan(suggestions[j].EstimatedSavings)
		}
		return suggestions[i].Model < suggestions[j].Model
	})
	return suggestions
}

// AlertCount returns the number of budget alerts fired since startup.
func (t *CostTracker) AlertCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alertCount
}

// Reset clears the ledger, counters, and budget spend. Budget definitions
// survive with fresh period accounting.
func (t *CostTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger = make([]UsageRecord, len(t.ledger))
	t.ledIdx = 0
	t.ledLen = 0
	t.totalCost = decimal.Zero
	t.totalRequests = 0
	t.promptTokens = 0
	t.completionTokens = 0
	t.cachedTokens = 0
	t.costByModel = make(map[string]decimal.Decimal)
	t.costByKey = make(map[string]decimal.Decimal)
	t.costByEndpoint = make(map[string]decimal.Decimal)
	t.usageByModel = make(map[string]*modelUsage)
	t.alertCount = 0
	now := t.now()
	for _, b := range t.budgets {
		b.spent = decimal.Zero
		b.periodStart = periodStartFor(b.period, now)
		b.alerted = make(map[float64]bool)
	}
}

// PrometheusText renders cost metrics in Prometheus exposition format.
func (t *CostTracker) PrometheusText() string {
	u := t.GetUsage(UsageFilter{})
	alerts := t.AlertCount()

	var b promBuilder
	b.header("cost_total_usd", "Total simulated spend in USD.", "counter")
	totalCost, _ := u.TotalCost.Float64()
	b.metric("cost_total_usd", nil, totalCost)
	b.header("cost_requests_total", "Billed simulated requests.", "counter")
	b.metric("cost_requests_total", nil, float64(u.TotalRequests))
	b.header("cost_tokens_total", "Billed tokens by kind.", "counter")
	b.metric("cost_tokens_total", []promLabel{{"kind", "prompt"}}, float64(u.PromptTokens))
	b.metric("cost_tokens_total", []promLabel{{"kind", "completion"}}, float64(u.CompletionTokens))
	b.metric("cost_tokens_total", []promLabel{{"kind", "cached"}}, float64(u.CachedTokens))
	b.header("cost_by_model_usd", "Simulated spend partitioned by model.", "counter")
	models := make([]string, 0, len(u.CostByModel))
	for m := range u.CostByModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		v, _ := u.CostByModel[m].Float64()
		b.metric("cost_by_model_usd", []promLabel{{"model", m}}, v)
	}
	b.header("cost_budget_alerts_total", "Budget threshold alerts fired.", "counter")
	b.metric("cost_budget_alerts_total", nil, float64(alerts))
	return b.String()
}
