package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
)

func TestBuilderCounterHistogramUpDownGauge(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	b := NewBuilder(provider.Meter("test"))

	counter, err := b.Counter(InstrumentSpec{Name: "queue.depth.delta", Value: ValueInt64})
	require.NoError(t, err)
	counter.RecordInt64(context.Background(), 1, attribute.String("queue", "q1"))

	hist, err := b.Histogram(InstrumentSpec{Name: "guard.latency", Value: ValueFloat64})
	require.NoError(t, err)
	hist.RecordFloat64(context.Background(), 3.5)

	ud, err := b.UpDownCounter(InstrumentSpec{Name: "inflight.requests", Value: ValueInt64})
	require.NoError(t, err)
	ud.RecordInt64(context.Background(), 1)
	ud.RecordInt64(context.Background(), -1)

	gauge, err := b.Gauge(InstrumentSpec{Name: "pool.size", Value: ValueFloat64})
	require.NoError(t, err)
	gauge.RecordFloat64(context.Background(), 5)

	names := instrumentNames(t, reader)
	require.Contains(t, names, "queue.depth.delta")
	require.Contains(t, names, "guard.latency")
	require.Contains(t, names, "inflight.requests")
	require.Contains(t, names, "pool.size_gauge")
}
