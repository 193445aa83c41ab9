package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	bag "go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/sdk/metric"
	sdkmetricdata "go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func withTestBaggage(t *testing.T, fields map[string]string) context.Context {
	t.Helper()
	ctx := context.Background()
	existing := bag.FromContext(ctx)
	for k, v := range fields {
		m, err := bag.NewMember(k, v)
		require.NoError(t, err)
		existing, err = existing.SetMember(m)
		require.NoError(t, err)
	}
	return bag.ContextWithBaggage(ctx, existing)
}

func instrumentNames(t *testing.T, reader *metric.ManualReader) []string {
	t.Helper()
	var rm sdkmetricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	return names
}

func TestRecorderRecordsBuiltinInstruments(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	r := NewRecorder(provider.Meter("test"))

	ttft := 42.0
	tps := 10.5
	ctx := withTestBaggage(t, map[string]string{"project_id": "proj-1"})
	r.RequestFinished(ctx, 123.0, &ttft, &tps, Tags{"model": "gpt-4o-mini"})
	r.Tokens(ctx, 10, 20, Tags{"model": "gpt-4o-mini"})
	r.Cost(ctx, 0.01, Tags{"model": "gpt-4o-mini"})
	r.Error(ctx, Tags{"model": "gpt-4o-mini"})

	names := instrumentNames(t, reader)
	require.Contains(t, names, instRequestCount)
	require.Contains(t, names, instRequestLatency)
	require.Contains(t, names, instRequestTTFT)
	require.Contains(t, names, instRequestTPS)
	require.Contains(t, names, instTokensInput)
	require.Contains(t, names, instTokensOutput)
	require.Contains(t, names, instTokensTotal)
	require.Contains(t, names, instRequestCost)
	require.Contains(t, names, instRequestErrors)
}

func TestRecorderOptionalFieldsSkippedWhenNil(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	r := NewRecorder(provider.Meter("test"))

	r.RequestFinished(context.Background(), 10.0, nil, nil, nil)

	names := instrumentNames(t, reader)
	require.Contains(t, names, instRequestCount)
	require.NotContains(t, names, instRequestTTFT)
}
