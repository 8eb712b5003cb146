package config

import (
	"fmt"
	"time"

	"github.com/fakeai/fakeai/internal/types"
)

// Config is the root configuration for the FakeAI metrics pipeline.
//
// Durations are expressed as integer seconds in the file so that a config
// written by hand never hits unit-suffix parsing surprises.
type Config struct {
	Bus       BusConfig       `yaml:"bus"`
	Streaming StreamingConfig `yaml:"streaming"`
	SLO       SLOConfig       `yaml:"slo"`
	Cost      CostConfig      `yaml:"cost"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	WorkerCount     int `yaml:"worker_count"`
	QueueCapacity   int `yaml:"queue_capacity"`
	BreakerFailures int `yaml:"breaker_failures"`
	BreakerWindow   int `yaml:"breaker_window_seconds"`
	BreakerCooldown int `yaml:"breaker_cooldown_seconds"`
}

// StreamingConfig tunes the streaming tracker.
type StreamingConfig struct {
	HistoryCapacity      int `yaml:"history_capacity"`
	MaxConcurrentStreams int `yaml:"max_concurrent_streams"`
	MetricsCacheTTL      int `yaml:"metrics_cache_ttl_seconds"`
}

// SLOConfig tunes the error tracker and its error budget.
type SLOConfig struct {
	TargetSuccessRate float64 `yaml:"target_success_rate"`
	WindowSeconds     int     `yaml:"window_seconds"`
	RecentErrors      int     `yaml:"recent_errors"`
}

// CostConfig tunes the cost tracker. PricingOverrides lets a deployment
// re-rate or add models without a rebuild; rates are decimal strings in
// USD per million tokens.
type CostConfig struct {
	LedgerCapacity   int                      `yaml:"ledger_capacity"`
	PricingOverrides map[string]PricingConfig `yaml:"pricing_overrides"`
	Budgets          []BudgetConfig           `yaml:"budgets"`
}

// PricingConfig is one model's rates as they appear in the config file.
type PricingConfig struct {
	InputRate       string `yaml:"input_rate"`
	OutputRate      string `yaml:"output_rate"`
	CachedInputRate string `yaml:"cached_input_rate,omitempty"`
}

// BudgetConfig is one API key budget as it appears in the config file.
type BudgetConfig struct {
	APIKey    string `yaml:"api_key"`
	Limit     string `yaml:"limit"`
	Period    string `yaml:"period"`
	HardLimit bool   `yaml:"hard_limit"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			WorkerCount:     4,
			QueueCapacity:   2500,
			BreakerFailures: 5,
			BreakerWindow:   60,
			BreakerCooldown: 30,
		},
		Streaming: StreamingConfig{
			HistoryCapacity:      1000,
			MaxConcurrentStreams: 10000,
			MetricsCacheTTL:      10,
		},
		SLO: SLOConfig{
			TargetSuccessRate: 0.999,
			WindowSeconds:     300,
			RecentErrors:      500,
		},
		Cost: CostConfig{
			LedgerCapacity: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Validate checks the configuration for values that would misbehave at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf(format, args...))
	}

	if c.Bus.WorkerCount < 1 {
		return fail("bus.worker_count must be at least 1, got %d", c.Bus.WorkerCount)
	}
	if c.Bus.QueueCapacity < 1 {
		return fail("bus.queue_capacity must be at least 1, got %d", c.Bus.QueueCapacity)
	}
	if c.Bus.BreakerFailures < 1 {
		return fail("bus.breaker_failures must be at least 1, got %d", c.Bus.BreakerFailures)
	}
	if c.Bus.BreakerWindow < 1 || c.Bus.BreakerCooldown < 1 {
		return fail("bus breaker window and cooldown must be positive")
	}

	if c.Streaming.HistoryCapacity < 1 {
		return fail("streaming.history_capacity must be at least 1, got %d", c.Streaming.HistoryCapacity)
	}
	if c.Streaming.MaxConcurrentStreams < 1 {
		return fail("streaming.max_concurrent_streams must be at least 1, got %d", c.Streaming.MaxConcurrentStreams)
	}
	if c.Streaming.MetricsCacheTTL < 1 {
		return fail("streaming.metrics_cache_ttl_seconds must be at least 1, got %d", c.Streaming.MetricsCacheTTL)
	}

	if c.SLO.TargetSuccessRate <= 0 || c.SLO.TargetSuccessRate >= 1 {
		return fail("slo.target_success_rate must be in (0, 1), got %g", c.SLO.TargetSuccessRate)
	}
	if c.SLO.WindowSeconds < 1 {
		return fail("slo.window_seconds must be at least 1, got %d", c.SLO.WindowSeconds)
	}
	if c.SLO.RecentErrors < 1 {
		return fail("slo.recent_errors must be at least 1, got %d", c.SLO.RecentErrors)
	}

	if c.Cost.LedgerCapacity < 1 {
		return fail("cost.ledger_capacity must be at least 1, got %d", c.Cost.LedgerCapacity)
	}
	for model, p := range c.Cost.PricingOverrides {
		if p.InputRate == "" || p.OutputRate == "" {
			return fail("pricing override for %s needs input_rate and output_rate", model)
		}
	}
	for _, b := range c.Cost.Budgets {
		if b.APIKey == "" {
			return fail("budget entries require an api_key")
		}
		switch b.Period {
		case "daily", "weekly", "monthly":
		default:
			return fail("budget for %s has unknown period %q", b.APIKey, b.Period)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fail("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// MetricsCacheTTLDuration converts the configured TTL to a duration.
func (c *StreamingConfig) MetricsCacheTTLDuration() time.Duration {
	return time.Duration(c.MetricsCacheTTL) * time.Second
}

// BreakerWindowDuration converts the breaker window to a duration.
func (c *BusConfig) BreakerWindowDuration() time.Duration {
	return time.Duration(c.BreakerWindow) * time.Second
}

// BreakerCooldownDuration converts the breaker cooldown to a duration.
func (c *BusConfig) BreakerCooldownDuration() time.Duration {
	return time.Duration(c.BreakerCooldown) * time.Second
}
