package span

import (
	"context"
	"encoding/json"

	bag "go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"

	"github.com/vllora/gateway/runtime/agent/telemetry"
)

// maxOutputBytes bounds the "output" attribute recorded at span close; spec
// §4.1 step 9 calls for truncation of huge outputs rather than refusing to
// record them.
const maxOutputBytes = 32 * 1024

// Handle is the explicit SpanHandle the pipeline threads down call sites
// that need to attach cost/usage/ttft attributes to the current model_call
// span without the ambient current-span lookup the source relies on (spec
// §9's explicit redesign note). It wraps a telemetry.Span and accumulates
// the standard attributes in place.
type Handle struct {
	raw           telemetry.Span
	operationName string
}

// Start begins a new span named name, injects run_id/thread_id/tenant/
// project_id/label as baggage so the BaggageProcessor promotes them onto
// every descendant span, and returns the handle plus the derived context.
func Start(ctx context.Context, tracer telemetry.Tracer, operationName string, baggageFields map[string]string) (context.Context, *Handle) {
	ctx = withBaggage(ctx, baggageFields)
	ctx, raw := tracer.Start(ctx, operationName)
	return ctx, &Handle{raw: raw, operationName: operationName}
}

func withBaggage(ctx context.Context, fields map[string]string) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	existing := bag.FromContext(ctx)
	for k, v := range fields {
		if v == "" {
			continue
		}
		m, err := bag.NewMember(k, v)
		if err != nil {
			continue
		}
		updated, err := existing.SetMember(m)
		if err != nil {
			continue
		}
		existing = updated
	}
	return bag.ContextWithBaggage(ctx, existing)
}

// OperationName returns the operation this handle's span was started with.
func (h *Handle) OperationName() string { return h.operationName }

// RecordInput records the sanitized request as the span's input attribute.
func (h *Handle) RecordInput(v any) { h.recordJSON(AttrInput, v) }

// RecordModel records the sanitized model definition.
func (h *Handle) RecordModel(v any) { h.recordJSON(AttrModel, v) }

// RecordOutput records the final response, truncating if it serializes
// larger than maxOutputBytes.
func (h *Handle) RecordOutput(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if len(data) > maxOutputBytes {
		data = append(data[:maxOutputBytes], []byte("...(truncated)")...)
	}
	h.raw.AddEvent("output", "output", string(data))
}

// RecordUsage records token usage for the current attempt.
func (h *Handle) RecordUsage(v any) { h.recordJSON(AttrUsage, v) }

// RecordCost records the accumulated cost for the current attempt.
func (h *Handle) RecordCost(cost float64) {
	h.raw.AddEvent("cost", AttrCost, cost)
}

// RecordTTFT records time-to-first-token in milliseconds. Called at most
// once: the first LlmContent or LlmFirstToken observed.
func (h *Handle) RecordTTFT(ms float64) {
	h.raw.AddEvent("ttft", AttrTTFT, ms)
}

// RecordCache records whether the response was served from the Response
// Cache ("HIT") or not ("MISS").
func (h *Handle) RecordCache(state string) {
	h.raw.AddEvent("cache", AttrCache, state)
}

// RecordRetriesLeft records the remaining retry budget; the invoker calls it
// before every attempt.
func (h *Handle) RecordRetriesLeft(n int) {
	h.raw.AddEvent("retry", AttrRetriesLeft, n)
}

// RecordError records a failed attempt's error without necessarily ending
// the span (used on the per-attempt path inside the retry loop).
func (h *Handle) RecordError(err error) {
	if err == nil {
		return
	}
	h.raw.RecordError(err)
}

// Tag attaches an arbitrary key/value to the span's tags attribute.
func (h *Handle) Tag(key string, value any) {
	h.raw.AddEvent("tag", key, value)
}

func (h *Handle) recordJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.raw.AddEvent(key, key, string(data))
}

// End closes the span, setting an error status when err is non-nil.
func (h *Handle) End(err error) {
	if err != nil {
		h.raw.RecordError(err)
		h.raw.SetStatus(codes.Error, err.Error())
	} else {
		h.raw.SetStatus(codes.Ok, "")
	}
	h.raw.End()
}

