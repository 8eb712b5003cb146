// Package metrics implements the FakeAI observability trackers: streaming
// latency and throughput statistics, error pattern analysis with SLO
// error-budget accounting, and a fixed-point cost ledger with per-key
// budgets.
//
// The trackers are plain structs with no background goroutines. They are
// driven by the event bus through RegisterTrackers, which subscribes one
// handler per lifecycle event type; handlers read the event's timestamp so
// derived latencies reflect when things happened, not when dispatch caught
// up. Every tracker is also usable directly, which is how the tests
// exercise them.
//
// All write paths are O(1) under a per-tracker mutex. Aggregation happens
// on read over a snapshot copied out from under the lock, with sorting and
// percentile selection done outside it. Monetary values never touch binary
// floating point; the cost tracker computes and accumulates in
// decimal.Decimal and rounds to six places only at the per-request
// boundary.
package metrics
