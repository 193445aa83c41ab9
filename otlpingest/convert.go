package otlpingest

import (
	"encoding/hex"
	"fmt"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/vllora/gateway/storage"
)

// anyValueToGo converts one OTLP AnyValue into a plain Go value suitable
// for json-marshaling into attributes_json.
func anyValueToGo(v *commonpb.AnyValue) any {
	if v == nil {
		return nil
	}
	switch x := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return x.BytesValue
	case *commonpb.AnyValue_ArrayValue:
		vals := make([]any, len(x.ArrayValue.GetValues()))
		for i, e := range x.ArrayValue.GetValues() {
			vals[i] = anyValueToGo(e)
		}
		return vals
	case *commonpb.AnyValue_KvlistValue:
		m := make(map[string]any, len(x.KvlistValue.GetValues()))
		for _, kv := range x.KvlistValue.GetValues() {
			m[kv.GetKey()] = anyValueToGo(kv.GetValue())
		}
		return m
	default:
		return nil
	}
}

func kvsToMap(kvs []*commonpb.KeyValue) map[string]any {
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[kv.GetKey()] = anyValueToGo(kv.GetValue())
	}
	return m
}

// mergeAttrs merges resource, scope, and signal-level attributes in that
// precedence order (signal-level wins), per spec §4.9 step 2/3.
func mergeAttrs(resource *resourcepb.Resource, scope *commonpb.InstrumentationScope, own []*commonpb.KeyValue) map[string]any {
	merged := make(map[string]any)
	for k, v := range kvsToMap(resource.GetAttributes()) {
		merged[k] = v
	}
	if scope != nil {
		for k, v := range kvsToMap(scope.GetAttributes()) {
			merged[k] = v
		}
	}
	for k, v := range kvsToMap(own) {
		merged[k] = v
	}
	return merged
}

func stringAttr(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// convertSpan flattens one OTLP span into the row shape spec §4.9 step 3
// describes. trace_id/span_id are rendered as hex-lowercase.
func convertSpan(resource *resourcepb.Resource, scope *commonpb.InstrumentationScope, projectID string, s *tracepb.Span) (storage.Span, error) {
	if len(s.GetTraceId()) == 0 || len(s.GetSpanId()) == 0 {
		return storage.Span{}, fmt.Errorf("span missing trace_id or span_id")
	}
	attrs := mergeAttrs(resource, scope, s.GetAttributes())

	row := storage.Span{
		TraceID:       hex.EncodeToString(s.GetTraceId()),
		SpanID:        hex.EncodeToString(s.GetSpanId()),
		OperationName: s.GetName(),
		StartTimeUS:   int64(s.GetStartTimeUnixNano() / 1000),
		FinishTimeUS:  int64(s.GetEndTimeUnixNano() / 1000),
		Attributes:    attrs,
		ThreadID:      stringAttr(attrs, "thread_id"),
		RunID:         stringAttr(attrs, "run_id"),
		ProjectID:     projectID,
	}
	if len(s.GetParentSpanId()) > 0 {
		row.ParentSpanID = hex.EncodeToString(s.GetParentSpanId())
	}
	return row, nil
}

// convertMetric flattens one OTLP metric into a uniform MetricsDataPoint
// row per data point, keyed by metric kind (spec §4.9 step 4).
func convertMetric(resource *resourcepb.Resource, scope *commonpb.InstrumentationScope, projectID string, m *metricpb.Metric) ([]storage.Metric, []error) {
	var rows []storage.Metric
	var errs []error

	switch data := m.GetData().(type) {
	case *metricpb.Metric_Gauge:
		for _, dp := range data.Gauge.GetDataPoints() {
			rows = append(rows, numberDataPointRow(resource, scope, projectID, m.GetName(), storage.MetricGauge, dp))
		}
	case *metricpb.Metric_Sum:
		for _, dp := range data.Sum.GetDataPoints() {
			rows = append(rows, numberDataPointRow(resource, scope, projectID, m.GetName(), storage.MetricCounter, dp))
		}
	case *metricpb.Metric_Histogram:
		for _, dp := range data.Histogram.GetDataPoints() {
			attrs := mergeAttrs(resource, scope, dp.GetAttributes())
			base := storage.Metric{
				MetricName:  m.GetName(),
				TimestampUS: int64(dp.GetTimeUnixNano() / 1000),
				Attributes:  attrs,
				ProjectID:   projectID,
				ThreadID:    stringAttr(attrs, "thread_id"),
				RunID:       stringAttr(attrs, "run_id"),
			}
			count := base
			count.MetricType = storage.MetricHistogram
			count.Value = float64(dp.GetCount())
			rows = append(rows, count)

			sum := base
			sum.MetricType = storage.MetricHistogramSum
			sum.Value = dp.GetSum()
			rows = append(rows, sum)
		}
	case *metricpb.Metric_Summary:
		for _, dp := range data.Summary.GetDataPoints() {
			attrs := mergeAttrs(resource, scope, dp.GetAttributes())
			rows = append(rows, storage.Metric{
				MetricName:  m.GetName(),
				MetricType:  storage.MetricSummary,
				Value:       dp.GetSum(),
				TimestampUS: int64(dp.GetTimeUnixNano() / 1000),
				Attributes:  attrs,
				ProjectID:   projectID,
				ThreadID:    stringAttr(attrs, "thread_id"),
				RunID:       stringAttr(attrs, "run_id"),
			})
		}
	default:
		errs = append(errs, fmt.Errorf("metric %q: unsupported data type %T", m.GetName(), data))
	}
	return rows, errs
}

func numberDataPointRow(resource *resourcepb.Resource, scope *commonpb.InstrumentationScope, projectID, name string, kind storage.MetricType, dp *metricpb.NumberDataPoint) storage.Metric {
	attrs := mergeAttrs(resource, scope, dp.GetAttributes())
	var value float64
	switch v := dp.GetValue().(type) {
	case *metricpb.NumberDataPoint_AsDouble:
		value = v.AsDouble
	case *metricpb.NumberDataPoint_AsInt:
		value = float64(v.AsInt)
	}
	return storage.Metric{
		MetricName:  name,
		MetricType:  kind,
		Value:       value,
		TimestampUS: int64(dp.GetTimeUnixNano() / 1000),
		Attributes:  attrs,
		ProjectID:   projectID,
		ThreadID:    stringAttr(attrs, "thread_id"),
		RunID:       stringAttr(attrs, "run_id"),
	}
}
