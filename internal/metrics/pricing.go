package metrics

import (
	"sync"

	"github.com/shopspring/decimal"
)

// ModelPricing holds per-million-token USD rates for one model. A zero
// CachedInputRate means the model has no prompt-caching discount.
type ModelPricing struct {
	InputRate       decimal.Decimal `json:"input_rate"`
	OutputRate      decimal.Decimal `json:"output_rate"`
	CachedInputRate decimal.Decimal `json:"cached_input_rate"`
}

// PricingTable maps model names to their token rates. Lookups and updates
// are safe for concurrent use.
type PricingTable struct {
	mu    sync.RWMutex
	rates map[string]ModelPricing
}

// NewPricingTable creates an empty pricing table.
func NewPricingTable() *PricingTable {
	return &PricingTable{rates: make(map[string]ModelPricing)}
}

// DefaultPricingTable returns a table seeded with rates for the models the
// simulator ships with. Rates are USD per one million tokens.
func DefaultPricingTable() *PricingTable {
	t := NewPricingTable()
	for model, p := range map[string]ModelPricing{
		"gpt-4o": {
			InputRate:       decimal.NewFromFloat(2.50),
			OutputRate:      decimal.NewFromFloat(10.00),
			CachedInputRate: decimal.NewFromFloat(1.25),
		},
		"gpt-4o-mini": {
			InputRate:       decimal.NewFromFloat(0.15),
			OutputRate:      decimal.NewFromFloat(0.60),
			CachedInputRate: decimal.NewFromFloat(0.075),
		},
		"gpt-4-turbo": {
			InputRate:  decimal.NewFromFloat(10.00),
			OutputRate: decimal.NewFromFloat(30.00),
		},
		"gpt-3.5-turbo": {
			InputRate:  decimal.NewFromFloat(0.50),
			OutputRate: decimal.NewFromFloat(1.50),
		},
		"meta-llama/Llama-3.1-8B-Instruct": {
			InputRate:  decimal.NewFromFloat(0.10),
			OutputRate: decimal.NewFromFloat(0.20),
		},
		"meta-llama/Llama-3.1-70B-Instruct": {
			InputRate:  decimal.NewFromFloat(0.90),
			OutputRate: decimal.NewFromFloat(0.90),
		},
		"deepseek-ai/DeepSeek-R1": {
			InputRate:       decimal.NewFromFloat(0.55),
			OutputRate:      decimal.NewFromFloat(2.19),
			CachedInputRate: decimal.NewFromFloat(0.14),
		},
		"mistralai/Mixtral-8x7B-Instruct-v0.1": {
			InputRate:  decimal.NewFromFloat(0.60),
			OutputRate: decimal.NewFromFloat(0.60),
		},
	} {
		t.rates[model] = p
	}
	return t
}

// Lookup returns the pricing for a model, or false when the model has no
// configured rates.
func (t *PricingTable) Lookup(model string) (ModelPricing, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.rates[model]
	return p, ok
}

// Set installs or overrides the pricing for a model.
func (t *PricingTable) Set(model string, pricing ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[model] = pricing
}

// Models returns the configured model names in unspecified order.
func (t *PricingTable) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	models := make([]string, 0, len(t.rates))
	for m := range t.rates {
		models = append(models, m)
	}
	return models
}
