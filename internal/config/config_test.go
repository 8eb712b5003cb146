package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fakeai/fakeai/internal/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestParse_PartialOverride(t *testing.T) {
	cfg, err := Parse([]byte(`
bus:
  worker_count: 8
slo:
  target_success_rate: 0.99
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Bus.WorkerCount != 8 {
		t.Errorf("worker_count = %d, want 8", cfg.Bus.WorkerCount)
	}
	if cfg.SLO.TargetSuccessRate != 0.99 {
		t.Errorf("target_success_rate = %g, want 0.99", cfg.SLO.TargetSuccessRate)
	}
	// Untouched sections keep defaults.
	if cfg.Bus.QueueCapacity != 2500 {
		t.Errorf("queue_capacity = %d, want default 2500", cfg.Bus.QueueCapacity)
	}
	if cfg.Streaming.HistoryCapacity != 1000 {
		t.Errorf("history_capacity = %d, want default 1000", cfg.Streaming.HistoryCapacity)
	}
}

func TestParse_PricingAndBudgets(t *testing.T) {
	cfg, err := Parse([]byte(`
cost:
  pricing_overrides:
    my-model:
      input_rate: "1.25"
      output_rate: "5.00"
  budgets:
    - api_key: key-1
      limit: "100.00"
      period: monthly
      hard_limit: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	p, ok := cfg.Cost.PricingOverrides["my-model"]
	if !ok {
		t.Fatal("pricing override missing")
	}
	if p.InputRate != "1.25" {
		t.Errorf("input_rate = %q, want 1.25", p.InputRate)
	}
	if len(cfg.Cost.Budgets) != 1 || !cfg.Cost.Budgets[0].HardLimit {
		t.Errorf("budgets = %+v", cfg.Cost.Budgets)
	}
	// Pricing overrides must not clobber ledger default.
	if cfg.Cost.LedgerCapacity != 10000 {
		t.Errorf("ledger_capacity = %d, want default 10000", cfg.Cost.LedgerCapacity)
	}
}

func TestParse_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero workers", "bus:\n  worker_count: 0\n"},
		{"bad slo target", "slo:\n  target_success_rate: 1.5\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad budget period", "cost:\n  budgets:\n    - api_key: k\n      limit: \"1\"\n      period: hourly\n"},
		{"budget without key", "cost:\n  budgets:\n    - limit: \"1\"\n      period: daily\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if types.CodeOf(err) != types.CONFIG_VALIDATION_FAILED {
				t.Errorf("expected CONFIG_VALIDATION_FAILED, got %v", err)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("bus: [not a map"))
	if types.CodeOf(err) != types.CONFIG_PARSE_FAILED {
		t.Errorf("expected CONFIG_PARSE_FAILED, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if types.CodeOf(err) != types.CONFIG_LOAD_FAILED {
		t.Errorf("expected CONFIG_LOAD_FAILED, got %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "streaming:\n  max_concurrent_streams: 50\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Streaming.MaxConcurrentStreams != 50 {
		t.Errorf("max_concurrent_streams = %d, want 50", cfg.Streaming.MaxConcurrentStreams)
	}
}
