package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fakeai/fakeai/internal/config"
	"github.com/fakeai/fakeai/internal/events"
	"github.com/fakeai/fakeai/internal/metrics"
	"github.com/fakeai/fakeai/internal/types"
)

var (
	simStreams    int
	simRequests   int
	simErrorRate  float64
	simSeed       int64
	simPrometheus bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a synthetic workload through the metrics pipeline",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simStreams, "streams", 50, "number of simulated streams")
	simulateCmd.Flags().IntVar(&simRequests, "requests", 200, "number of simulated non-streaming requests")
	simulateCmd.Flags().Float64Var(&simErrorRate, "error-rate", 0.02, "fraction of requests that fail")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 1, "workload random seed")
	simulateCmd.Flags().BoolVar(&simPrometheus, "prometheus", false, "print Prometheus exposition text instead of JSON")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := config.NewLogger(cfg.Logging)

	bus := events.NewBus(
		events.WithWorkerCount(cfg.Bus.WorkerCount),
		events.WithQueueCapacity(cfg.Bus.QueueCapacity),
		events.WithCircuitBreaker(cfg.Bus.BreakerFailures,
			cfg.Bus.BreakerWindowDuration(), cfg.Bus.BreakerCooldownDuration()),
		events.WithLogger(logger),
	)

	streaming := metrics.NewStreamingTracker(
		metrics.WithHistoryCapacity(cfg.Streaming.HistoryCapacity),
		metrics.WithMaxConcurrentStreams(cfg.Streaming.MaxConcurrentStreams),
		metrics.WithMetricsCacheTTL(cfg.Streaming.MetricsCacheTTLDuration()),
		metrics.WithStreamingLogger(logger),
	)
	errTracker := metrics.NewErrorTracker(
		metrics.WithSLOTarget(cfg.SLO.TargetSuccessRate),
		metrics.WithSLOWindow(cfg.SLO.WindowSeconds),
		metrics.WithRecentCapacity(cfg.SLO.RecentErrors),
		metrics.WithErrorTrackerLogger(logger),
	)

	pricing, err := buildPricing(cfg.Cost)
	if err != nil {
		return err
	}
	cost := metrics.NewCostTracker(pricing,
		metrics.WithLedgerCapacity(cfg.Cost.LedgerCapacity),
		metrics.WithCostTrackerLogger(logger),
	)
	if err := applyBudgets(cost, cfg.Cost.Budgets); err != nil {
		return err
	}

	metrics.RegisterTrackers(bus, streaming, errTracker, cost, logger)

	drive(cmd.Context(), bus, rand.New(rand.NewSource(simSeed)))
	bus.Close()

	if simPrometheus {
		fmt.Fprint(cmd.OutOrStdout(), streaming.PrometheusText())
		fmt.Fprint(cmd.OutOrStdout(), errTracker.PrometheusText())
		fmt.Fprint(cmd.OutOrStdout(), cost.PrometheusText())
		return nil
	}

	snapshot := map[string]any{
		"bus":       bus.Stats(),
		"streaming": streaming.GetMetrics(0),
		"slo":       errTracker.GetSLOStatus(),
		"errors":    errTracker.GetMetrics(),
		"patterns":  errTracker.GetErrorPatterns(),
		"usage":     cost.GetUsage(metrics.UsageFilter{}),
		"advice":    cost.GetOptimizationSuggestions(""),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

// buildPricing applies config overrides on top of the default table.
func buildPricing(cfg config.CostConfig) (*metrics.PricingTable, error) {
	table := metrics.DefaultPricingTable()
	for model, p := range cfg.PricingOverrides {
		input, err := decimal.NewFromString(p.InputRate)
		if err != nil {
			return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED,
				"bad input_rate for "+model, err)
		}
		output, err := decimal.NewFromString(p.OutputRate)
		if err != nil {
			return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED,
				"bad output_rate for "+model, err)
		}
		pricing := metrics.ModelPricing{InputRate: input, OutputRate: output}
		if p.CachedInputRate != "" {
			cached, err := decimal.NewFromString(p.CachedInputRate)
			if err != nil {
				return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED,
					"bad cached_input_rate for "+model, err)
			}
			pricing.CachedInputRate = cached
		}
		table.Set(model, pricing)
	}
	return table, nil
}

func applyBudgets(cost *metrics.CostTracker, budgets []config.BudgetConfig) error {
	for _, b := range budgets {
		limit, err := decimal.NewFromString(b.Limit)
		if err != nil {
			return types.WrapError(types.CONFIG_VALIDATION_FAILED,
				"bad budget limit for "+b.APIKey, err)
		}
		if err := cost.SetBudget(b.APIKey, limit, metrics.BudgetPeriod(b.Period), b.HardLimit); err != nil {
			return err
		}
	}
	return nil
}

var workloadModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}
var workloadKeys = []string{"key-alpha", "key-beta", "key-gamma"}
var workloadErrors = []struct {
	errType string
	message string
}{
	{"rate_limit", "rate limit exceeded, retry after 30 seconds"},
	{"server_error", "upstream worker 7 crashed"},
	{"context_length", "prompt of 131072 tokens exceeds limit"},
}

// drive publishes the synthetic workload. Event timestamps are synthesized
// so latency metrics come out plausible regardless of how fast publishing
// actually runs.
func drive(ctx context.Context, bus *events.Bus, rng *rand.Rand) {
	now := time.Now()

	for i := 0; i < simStreams; i++ {
		streamID := types.NewID()
		model := workloadModels[rng.Intn(len(workloadModels))]
		start := now.Add(-time.Duration(rng.Intn(60)) * time.Second)

		publishAt(ctx, bus, events.NewStreamStarted(streamID, model), start)

		at := start.Add(time.Duration(50+rng.Intn(400)) * time.Millisecond)
		publishAt(ctx, bus, events.NewFirstTokenGenerated(streamID), at)

		tokens := 20 + rng.Intn(200)
		for j := 0; j < tokens; j++ {
			at = at.Add(time.Duration(10+rng.Intn(40)) * time.Millisecond)
			publishAt(ctx, bus, events.NewTokenGenerated(streamID, 1), at)
		}

		if rng.Float64() < simErrorRate {
			publishAt(ctx, bus, events.NewStreamFailed(streamID, "client disconnected"), at)
		} else {
			publishAt(ctx, bus, events.NewStreamCompleted(streamID, tokens), at)
		}
	}

	for i := 0; i < simRequests; i++ {
		reqID := types.NewID()
		model := workloadModels[rng.Intn(len(workloadModels))]
		endpoint := "/v1/chat/completions"
		if rng.Intn(4) == 0 {
			endpoint = "/v1/embeddings"
		}
		at := now.Add(-time.Duration(rng.Intn(60)) * time.Second)

		if rng.Float64() < simErrorRate {
			e := workloadErrors[rng.Intn(len(workloadErrors))]
			publishAt(ctx, bus, events.NewRequestFailed(reqID, endpoint, e.errType), at)
			publishAt(ctx, bus, events.NewErrorOccurred(reqID, events.ErrorOccurredPayload{
				Endpoint:  endpoint,
				ErrorType: e.errType,
				Message:   e.message,
				Model:     model,
			}), at)
			continue
		}

		prompt := 200 + rng.Intn(4000)
		publishAt(ctx, bus, events.NewRequestCompleted(reqID, events.RequestCompletedPayload{
			APIKey:           workloadKeys[rng.Intn(len(workloadKeys))],
			Model:            model,
			Endpoint:         endpoint,
			PromptTokens:     prompt,
			CompletionTokens: 50 + rng.Intn(1000),
			CachedTokens:     rng.Intn(prompt / 4),
		}), at)
	}
}

func publishAt(ctx context.Context, bus *events.Bus, ev events.Event, at time.Time) {
	ev.Timestamp = at
	// Drops and post-close publishes are counted by the bus; the workload
	// generator does not care.
	_ = bus.Publish(ctx, ev)
}
