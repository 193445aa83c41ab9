package costcalc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/runtime/agent/model"
)

func completionModel(perInput, perOutput float64, perCachedInput *float64) *catalog.ModelMetadata {
	return &catalog.ModelMetadata{
		Model: "gpt-4o-mini",
		Price: catalog.Price{
			Kind: catalog.PriceKindCompletion,
			Completion: &catalog.CompletionPrice{
				PerInputToken:       perInput,
				PerOutputToken:      perOutput,
				PerCachedInputToken: perCachedInput,
			},
		},
	}
}

func TestCalculateBasic(t *testing.T) {
	md := completionModel(0.001, 0.002, nil)
	ev := Calculate(md, model.TokenUsage{InputTokens: 100, OutputTokens: 50})
	require.InDelta(t, 0.1+0.1, ev.Cost, 1e-9)
	require.False(t, ev.IsCacheUsed)
}

func TestCalculateWithCachedInput(t *testing.T) {
	cached := 0.0005
	md := completionModel(0.001, 0.002, &cached)
	ev := Calculate(md, model.TokenUsage{InputTokens: 100, CacheReadTokens: 40, OutputTokens: 0})
	// 60 billable at full price + 40 at cached price
	want := 60*0.001 + 40*0.0005
	require.InDelta(t, want, ev.Cost, 1e-9)
	require.True(t, ev.IsCacheUsed)
}

func TestCalculateZeroUsage(t *testing.T) {
	md := completionModel(0.001, 0.002, nil)
	ev := Calculate(md, model.TokenUsage{})
	require.Zero(t, ev.Cost)
}

func TestCalculateNilModel(t *testing.T) {
	ev := Calculate(nil, model.TokenUsage{InputTokens: 10})
	require.Zero(t, ev.Cost)
}

func TestAccumulatorSumsAcrossRetries(t *testing.T) {
	md := completionModel(0.001, 0.002, nil)
	var acc Accumulator
	acc.Add(Calculate(md, model.TokenUsage{InputTokens: 100, OutputTokens: 10}))
	acc.Add(Calculate(md, model.TokenUsage{InputTokens: 100, OutputTokens: 20}))
	total := acc.Total()
	require.InDelta(t, 0.1+0.02+0.1+0.04, total.Cost, 1e-9)
}
