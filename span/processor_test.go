package span

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	bag "go.opentelemetry.io/otel/baggage"
)

type fakeSink struct {
	published []Span
}

func (s *fakeSink) Publish(projectID string, sp Span) {
	s.published = append(s.published, sp)
}

func TestBaggageProcessorPromotesFieldsAndPublishes(t *testing.T) {
	sink := &fakeSink{}
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewBaggageProcessor(sink)))
	tracer := provider.Tracer("test")

	ctx := withBaggage(context.Background(), map[string]string{
		BaggageProjectID: "proj-1",
		BaggageRunID:     "run-1",
		BaggageThreadID:  "thread-1",
	})

	_, otelSpan := tracer.Start(ctx, OpModelCall)
	otelSpan.End()

	require.NoError(t, provider.Shutdown(context.Background()))
	require.Len(t, sink.published, 1)

	got := sink.published[0]
	require.Equal(t, "proj-1", got.ProjectID)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "thread-1", got.ThreadID)
	require.Equal(t, OpModelCall, got.OperationName)
	require.NotEmpty(t, got.TraceID)
	require.NotEmpty(t, got.SpanID)
}

func TestBaggageProcessorSkipsSpansWithoutProjectID(t *testing.T) {
	sink := &fakeSink{}
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewBaggageProcessor(sink)))
	tracer := provider.Tracer("test")

	_, otelSpan := tracer.Start(context.Background(), OpAgent)
	otelSpan.End()

	require.NoError(t, provider.Shutdown(context.Background()))
	require.Empty(t, sink.published)
}

func TestWithBaggageIgnoresEmptyValues(t *testing.T) {
	ctx := withBaggage(context.Background(), map[string]string{BaggageTenant: ""})
	require.Equal(t, 0, bag.FromContext(ctx).Len())
}
