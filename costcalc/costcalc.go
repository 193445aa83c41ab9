// Package costcalc implements the Cost Calculator: given a model's price
// and a usage reading, it produces a CostEvent that the execution pipeline
// accumulates onto the current model_call span across retries (spec
// §3.1, §4.1 step 5).
package costcalc

import (
	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/runtime/agent/model"
)

// Event mirrors spec §3.1's CostEvent: the cost of one provider attempt,
// plus the per-token prices used to compute it, so downstream consumers
// (span attributes, billing exports) do not need to re-look-up pricing.
type Event struct {
	Cost                     float64
	PerInputToken            float64
	PerOutputToken           float64
	PerCachedInputToken      *float64
	PerCachedInputWriteToken *float64
	IsCacheUsed              bool
}

// Calculate computes a CostEvent from a model's price and one usage
// reading. Cost computation on a nil/zero usage emits cost=0 (spec §8
// boundary: "Cost computation on usage = None emits cost = 0.0").
func Calculate(md *catalog.ModelMetadata, usage model.TokenUsage) Event {
	if md == nil || md.Price.Kind != catalog.PriceKindCompletion || md.Price.Completion == nil {
		return Event{}
	}
	price := md.Price.Completion
	ev := Event{
		PerInputToken:            price.PerInputToken,
		PerOutputToken:           price.PerOutputToken,
		PerCachedInputToken:      price.PerCachedInputToken,
		PerCachedInputWriteToken: price.PerCachedInputWriteToken,
		IsCacheUsed:              usage.CacheReadTokens > 0 || usage.CacheWriteTokens > 0,
	}

	billableInput := usage.InputTokens
	if usage.CacheReadTokens > 0 && price.PerCachedInputToken != nil {
		billableInput -= usage.CacheReadTokens
		ev.Cost += float64(usage.CacheReadTokens) * *price.PerCachedInputToken
	}
	if usage.CacheWriteTokens > 0 && price.PerCachedInputWriteToken != nil {
		ev.Cost += float64(usage.CacheWriteTokens) * *price.PerCachedInputWriteToken
	}
	if billableInput > 0 {
		ev.Cost += float64(billableInput) * price.PerInputToken
	}
	ev.Cost += float64(usage.OutputTokens) * price.PerOutputToken
	return ev
}

// Accumulator sums CostEvents across retries within one model_call span
// (spec §4.1 step 5: "accumulates into a running total_cost").
type Accumulator struct {
	total Event
}

// Add folds ev into the running total, summing cost and retaining the
// most recent per-token prices (which do not change across retries of the
// same model).
func (a *Accumulator) Add(ev Event) {
	a.total.Cost += ev.Cost
	a.total.PerInputToken = ev.PerInputToken
	a.total.PerOutputToken = ev.PerOutputToken
	a.total.PerCachedInputToken = ev.PerCachedInputToken
	a.total.PerCachedInputWriteToken = ev.PerCachedInputWriteToken
	a.total.IsCacheUsed = a.total.IsCacheUsed || ev.IsCacheUsed
}

// Total returns the accumulated CostEvent.
func (a *Accumulator) Total() Event { return a.total }
