package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertMetricIsIdempotentPerSpan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := MetricRow{
		MetricName: "llm.request.count", MetricType: MetricCounter, Value: 1,
		TimestampUS: 1000, ProjectID: "p1", TraceID: "t1", SpanID: "s1",
	}
	require.NoError(t, s.InsertMetric(ctx, m))
	require.NoError(t, s.InsertMetric(ctx, m))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestInsertMetricsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []MetricRow{
		{MetricName: "llm.tokens.input", MetricType: MetricCounter, Value: 10, TimestampUS: 1, TraceID: "t1", SpanID: "s1"},
		{MetricName: "llm.tokens.output", MetricType: MetricCounter, Value: 20, TimestampUS: 2, TraceID: "t1", SpanID: "s2"},
	}
	require.NoError(t, s.InsertMetrics(ctx, rows))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics`).Scan(&count))
	require.Equal(t, 2, count)
}
