package span

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sink receives finished spans for a project. BroadcastChannelManager
// implements it; span does not import the broadcast package to avoid a
// cycle (broadcast in turn depends on span's Span type only as a value).
type Sink interface {
	Publish(projectID string, s Span)
}

// BaggageProcessor is the "baggage span processor" of spec §4.8: on start it
// copies run_id, thread_id, tenant, project_id, and label baggage members
// onto the span as attributes; on end it converts the finished span into the
// Span model and forwards it to Sink, keyed by project_id. A nil Sink is
// legal and makes OnEnd a no-op, matching collector-less local runs.
type BaggageProcessor struct {
	sink Sink
}

// NewBaggageProcessor constructs a BaggageProcessor publishing finished
// spans to sink.
func NewBaggageProcessor(sink Sink) *BaggageProcessor {
	return &BaggageProcessor{sink: sink}
}

var _ sdktrace.SpanProcessor = (*BaggageProcessor)(nil)

// OnStart promotes the ambient baggage members onto the new span.
func (p *BaggageProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	bag := baggage.FromContext(ctx)
	for _, key := range []string{BaggageRunID, BaggageThreadID, BaggageTenant, BaggageProjectID, BaggageLabel} {
		if m := bag.Member(key); m.Key() != "" {
			s.SetAttributes(attribute.String(key, m.Value()))
		}
	}
}

// OnEnd converts the finished span to the Span model and publishes it.
func (p *BaggageProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if p.sink == nil {
		return
	}
	model := fromReadOnlySpan(s)
	if model.ProjectID == "" {
		return
	}
	p.sink.Publish(model.ProjectID, model)
}

// Shutdown implements sdktrace.SpanProcessor.
func (p *BaggageProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (p *BaggageProcessor) ForceFlush(context.Context) error { return nil }

func fromReadOnlySpan(s sdktrace.ReadOnlySpan) Span {
	attrs := make(map[string]any, len(s.Attributes()))
	var threadID, runID, projectID, tenant string
	for _, kv := range s.Attributes() {
		key := string(kv.Key)
		val := attrValue(kv.Value)
		attrs[key] = val
		switch key {
		case BaggageThreadID:
			threadID, _ = val.(string)
		case BaggageRunID:
			runID, _ = val.(string)
		case BaggageProjectID:
			projectID, _ = val.(string)
		case BaggageTenant:
			tenant, _ = val.(string)
		}
	}
	sc := s.SpanContext()
	var parent string
	if p := s.Parent(); p.IsValid() {
		parent = p.SpanID().String()
	}
	return Span{
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		ParentSpanID:  parent,
		OperationName: s.Name(),
		StartTimeUS:   s.StartTime().UnixMicro(),
		FinishTimeUS:  s.EndTime().UnixMicro(),
		Attributes:    attrs,
		ThreadID:      threadID,
		RunID:         runID,
		ProjectID:     projectID,
		Tenant:        tenant,
	}
}

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.BOOL:
		return v.AsBool()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.STRING:
		return v.AsString()
	default:
		return v.Emit()
	}
}
