package otlpingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/vllora/gateway/storage"
)

type fakeWriter struct {
	spans   []storage.Span
	metrics []storage.Metric
}

func (w *fakeWriter) InsertSpans(ctx context.Context, spans []storage.Span) error {
	w.spans = append(w.spans, spans...)
	return nil
}

func (w *fakeWriter) InsertMetrics(ctx context.Context, metrics []storage.Metric) error {
	w.metrics = append(w.metrics, metrics...)
	return nil
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func TestExportTraceConvertsAndResolvesProject(t *testing.T) {
	w := &fakeWriter{}
	in := NewIngest(w, nil, nil)

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{strAttr("project_id", "p1")}},
			ScopeSpans: []*tracepb.ScopeSpans{{
				Spans: []*tracepb.Span{{
					TraceId:           []byte{1, 2, 3, 4},
					SpanId:            []byte{5, 6, 7, 8},
					Name:              "model_call",
					StartTimeUnixNano: 1_000_000_000,
					EndTimeUnixNano:   2_000_000_000,
					Attributes:        []*commonpb.KeyValue{strAttr("run_id", "r1")},
				}},
			}},
		}},
	}

	resp, err := in.traceServer.Export(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.PartialSuccess)
	require.Len(t, w.spans, 1)
	require.Equal(t, "01020304", w.spans[0].TraceID)
	require.Equal(t, "p1", w.spans[0].ProjectID)
	require.Equal(t, "r1", w.spans[0].RunID)
	require.Equal(t, int64(1_000_000), w.spans[0].StartTimeUS)
}

func TestExportTraceRejectsSpanMissingIDs(t *testing.T) {
	w := &fakeWriter{}
	in := NewIngest(w, nil, nil)

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			ScopeSpans: []*tracepb.ScopeSpans{{
				Spans: []*tracepb.Span{{Name: "bad"}},
			}},
		}},
	}

	resp, err := in.traceServer.Export(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.PartialSuccess)
	require.Equal(t, int64(1), resp.PartialSuccess.RejectedSpans)
	require.Empty(t, w.spans)
}

func TestExportMetricsFlattensGaugeAndSum(t *testing.T) {
	w := &fakeWriter{}
	in := NewIngest(w, nil, nil)

	req := &colmetricpb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricpb.ResourceMetrics{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{strAttr("project_id", "p1")}},
			ScopeMetrics: []*metricpb.ScopeMetrics{{
				Metrics: []*metricpb.Metric{
					{
						Name: "queue.depth",
						Data: &metricpb.Metric_Gauge{Gauge: &metricpb.Gauge{
							DataPoints: []*metricpb.NumberDataPoint{{
								Value: &metricpb.NumberDataPoint_AsDouble{AsDouble: 3.5},
							}},
						}},
					},
					{
						Name: "llm.request.count",
						Data: &metricpb.Metric_Sum{Sum: &metricpb.Sum{
							DataPoints: []*metricpb.NumberDataPoint{{
								Value: &metricpb.NumberDataPoint_AsInt{AsInt: 7},
							}},
						}},
					},
				},
			}},
		}},
	}

	resp, err := in.metricsServer.Export(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.PartialSuccess)
	require.Len(t, w.metrics, 2)

	var gauge, sum *storage.Metric
	for i := range w.metrics {
		switch w.metrics[i].MetricName {
		case "queue.depth":
			gauge = &w.metrics[i]
		case "llm.request.count":
			sum = &w.metrics[i]
		}
	}
	require.NotNil(t, gauge)
	require.Equal(t, storage.MetricGauge, gauge.MetricType)
	require.InDelta(t, 3.5, gauge.Value, 1e-9)

	require.NotNil(t, sum)
	require.Equal(t, storage.MetricCounter, sum.MetricType)
	require.Equal(t, float64(7), sum.Value)
}

func TestExportMetricsFlattensHistogramIntoCountAndSumRows(t *testing.T) {
	w := &fakeWriter{}
	in := NewIngest(w, nil, nil)

	req := &colmetricpb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricpb.ResourceMetrics{{
			ScopeMetrics: []*metricpb.ScopeMetrics{{
				Metrics: []*metricpb.Metric{{
					Name: "llm.request.latency",
					Data: &metricpb.Metric_Histogram{Histogram: &metricpb.Histogram{
						DataPoints: []*metricpb.HistogramDataPoint{{
							Count: 10,
							Sum:   func() *float64 { v := 123.0; return &v }(),
						}},
					}},
				}},
			}},
		}},
	}

	resp, err := in.metricsServer.Export(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.PartialSuccess)
	require.Len(t, w.metrics, 2)

	var count, sum *storage.Metric
	for i := range w.metrics {
		switch w.metrics[i].MetricType {
		case storage.MetricHistogram:
			count = &w.metrics[i]
		case storage.MetricHistogramSum:
			sum = &w.metrics[i]
		}
	}
	require.NotNil(t, count)
	require.Equal(t, float64(10), count.Value)
	require.NotNil(t, sum)
	require.Equal(t, float64(123), sum.Value)
}

func TestDefaultTenantResolverReadsProjectAndTenant(t *testing.T) {
	tenant, project, err := DefaultTenantResolver{}.ResolveTenant(map[string]any{
		"tenant": "acme", "project_id": "p1",
	})
	require.NoError(t, err)
	require.Equal(t, "acme", tenant)
	require.Equal(t, "p1", project)
}
