package clickhouse

import (
	"encoding/json"

	"github.com/vllora/gateway/storage"
)

// spanRow is the JSONEachRow wire shape for the spans table (spec §6):
// attributes are flattened to a JSON string column since ClickHouse's
// JSONEachRow format does not accept an arbitrary nested object for a
// String-typed column directly from a Go map.
type spanRow struct {
	TraceID       string `json:"trace_id"`
	SpanID        string `json:"span_id"`
	ParentSpanID  string `json:"parent_span_id"`
	OperationName string `json:"operation_name"`
	StartTimeUS   int64  `json:"start_time_us"`
	FinishTimeUS  int64  `json:"finish_time_us"`
	Attributes    string `json:"attributes_json"`
	ThreadID      string `json:"thread_id"`
	RunID         string `json:"run_id"`
	ProjectID     string `json:"project_id"`
}

func toSpanRow(sp storage.Span) spanRow {
	return spanRow{
		TraceID:       sp.TraceID,
		SpanID:        sp.SpanID,
		ParentSpanID:  sp.ParentSpanID,
		OperationName: sp.OperationName,
		StartTimeUS:   sp.StartTimeUS,
		FinishTimeUS:  sp.FinishTimeUS,
		Attributes:    marshalAttributes(sp.Attributes),
		ThreadID:      sp.ThreadID,
		RunID:         sp.RunID,
		ProjectID:     sp.ProjectID,
	}
}

// metricRow is the JSONEachRow wire shape for the metrics table (spec §6).
type metricRow struct {
	MetricName  string  `json:"metric_name"`
	MetricType  string  `json:"metric_type"`
	Value       float64 `json:"value"`
	TimestampUS int64   `json:"timestamp_us"`
	Attributes  string  `json:"attributes_json"`
	ProjectID   string  `json:"project_id"`
	ThreadID    string  `json:"thread_id"`
	RunID       string  `json:"run_id"`
	TraceID     string  `json:"trace_id"`
	SpanID      string  `json:"span_id"`
}

func toMetricRow(m storage.Metric) metricRow {
	return metricRow{
		MetricName:  m.MetricName,
		MetricType:  string(m.MetricType),
		Value:       m.Value,
		TimestampUS: m.TimestampUS,
		Attributes:  marshalAttributes(m.Attributes),
		ProjectID:   m.ProjectID,
		ThreadID:    m.ThreadID,
		RunID:       m.RunID,
		TraceID:     m.TraceID,
		SpanID:      m.SpanID,
	}
}

func marshalAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return "{}"
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "{}"
	}
	return string(b)
}
