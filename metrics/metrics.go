// Package metrics implements the built-in metric instruments of spec §4.8:
// request count/latency/ttft/tps/tokens/cost/errors, always on, every
// recording automatically inheriting baggage attributes (project_id,
// thread_id, run_id) alongside caller-supplied tags. Grounded on
// runtime/agent/telemetry/clue.go's ClueMetrics, generalized from a
// generic IncCounter/RecordTimer pair into the fixed named instrument set
// the gateway needs.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/metric"
)

const (
	instRequestCount   = "llm.request.count"
	instRequestLatency = "llm.request.latency"
	instRequestTTFT    = "llm.request.ttft"
	instRequestTPS     = "llm.request.tps"
	instTokensInput    = "llm.request.tokens.input"
	instTokensOutput   = "llm.request.tokens.output"
	instTokensTotal    = "llm.request.tokens.total"
	instRequestCost    = "llm.request.cost"
	instRequestErrors  = "llm.request.errors"
)

// Recorder records the built-in instrument set onto an OTEL meter.
type Recorder struct {
	requestCount   metric.Float64Counter
	requestLatency metric.Float64Histogram
	requestTTFT    metric.Float64Histogram
	requestTPS     metric.Float64Histogram
	tokensInput    metric.Float64Counter
	tokensOutput   metric.Float64Counter
	tokensTotal    metric.Float64Counter
	requestCost    metric.Float64Counter
	requestErrors  metric.Float64Counter
}

// NewRecorder constructs a Recorder backed by meter. Instrument creation
// errors are treated as permanent: a nil instrument silently drops that
// metric's recordings, matching ClueMetrics's best-effort stance.
func NewRecorder(meter metric.Meter) *Recorder {
	r := &Recorder{}
	r.requestCount, _ = meter.Float64Counter(instRequestCount, metric.WithUnit("{request}"))
	r.requestLatency, _ = meter.Float64Histogram(instRequestLatency, metric.WithUnit("ms"))
	r.requestTTFT, _ = meter.Float64Histogram(instRequestTTFT, metric.WithUnit("ms"))
	r.requestTPS, _ = meter.Float64Histogram(instRequestTPS, metric.WithUnit("{token}/s"))
	r.tokensInput, _ = meter.Float64Counter(instTokensInput, metric.WithUnit("{token}"))
	r.tokensOutput, _ = meter.Float64Counter(instTokensOutput, metric.WithUnit("{token}"))
	r.tokensTotal, _ = meter.Float64Counter(instTokensTotal, metric.WithUnit("{token}"))
	r.requestCost, _ = meter.Float64Counter(instRequestCost, metric.WithUnit("USD"))
	r.requestErrors, _ = meter.Float64Counter(instRequestErrors, metric.WithUnit("{error}"))
	return r
}

// Tags are caller-supplied dimensions (model, provider, ...) merged with
// the ambient baggage attributes on every recording.
type Tags map[string]string

// RequestFinished records one completed request: count, latency, and
// (when present) TTFT and tokens-per-second.
func (r *Recorder) RequestFinished(ctx context.Context, latencyMS float64, ttftMS *float64, tps *float64, tags Tags) {
	attrs := attrsFor(ctx, tags)
	if r.requestCount != nil {
		r.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if r.requestLatency != nil {
		r.requestLatency.Record(ctx, latencyMS, metric.WithAttributes(attrs...))
	}
	if ttftMS != nil && r.requestTTFT != nil {
		r.requestTTFT.Record(ctx, *ttftMS, metric.WithAttributes(attrs...))
	}
	if tps != nil && r.requestTPS != nil {
		r.requestTPS.Record(ctx, *tps, metric.WithAttributes(attrs...))
	}
}

// Tokens records input/output/total token counters for one attempt.
func (r *Recorder) Tokens(ctx context.Context, input, output int64, tags Tags) {
	attrs := attrsFor(ctx, tags)
	if r.tokensInput != nil {
		r.tokensInput.Add(ctx, float64(input), metric.WithAttributes(attrs...))
	}
	if r.tokensOutput != nil {
		r.tokensOutput.Add(ctx, float64(output), metric.WithAttributes(attrs...))
	}
	if r.tokensTotal != nil {
		r.tokensTotal.Add(ctx, float64(input+output), metric.WithAttributes(attrs...))
	}
}

// Cost records an accumulated USD cost for one attempt.
func (r *Recorder) Cost(ctx context.Context, usd float64, tags Tags) {
	if r.requestCost == nil {
		return
	}
	r.requestCost.Add(ctx, usd, metric.WithAttributes(attrsFor(ctx, tags)...))
}

// Error increments the error counter for a failed attempt.
func (r *Recorder) Error(ctx context.Context, tags Tags) {
	if r.requestErrors == nil {
		return
	}
	r.requestErrors.Add(ctx, 1, metric.WithAttributes(attrsFor(ctx, tags)...))
}

// attrsFor merges ambient baggage (project_id, thread_id, run_id) with
// caller tags into a single OTEL attribute set.
func attrsFor(ctx context.Context, tags Tags) []attribute.KeyValue {
	bag := baggage.FromContext(ctx)
	attrs := make([]attribute.KeyValue, 0, len(tags)+3)
	for _, key := range []string{"project_id", "thread_id", "run_id"} {
		if m := bag.Member(key); m.Key() != "" {
			attrs = append(attrs, attribute.String(key, m.Value()))
		}
	}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
