// Package storage declares the Trace/Metrics Writer capability (spec
// §4.10): a sink for finished spans and metric data points, implemented by
// storage/sqlite (single-node) and storage/clickhouse (cluster column
// store). span.StorageSink and otlpingest depend on this interface, not on
// either concrete backend.
package storage

import "context"

// Span is the row shape the writer persists, matching the gateway's
// in-process span model (span.Span) structurally without importing it, so
// this package stays a leaf dependency for both backends.
type Span struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	OperationName string
	StartTimeUS   int64
	FinishTimeUS  int64
	Attributes    map[string]any
	ThreadID      string
	RunID         string
	ProjectID     string
}

// MetricType enumerates the metric kinds the writer accepts (spec §6).
type MetricType string

const (
	MetricCounter      MetricType = "counter"
	MetricGauge        MetricType = "gauge"
	MetricHistogram    MetricType = "histogram"
	MetricSummary      MetricType = "summary"
	MetricHistogramSum MetricType = "histogram.sum"
)

// Metric is one persisted metric data point (spec §4.9/§6).
type Metric struct {
	MetricName  string
	MetricType  MetricType
	Value       float64
	TimestampUS int64
	Attributes  map[string]any
	ProjectID   string
	ThreadID    string
	RunID       string
	TraceID     string
	SpanID      string
}

// Writer persists spans and metrics. Writes must be idempotent on
// (trace_id, span_id) (spec §4.10): a re-ingested identical row must not
// double-count.
type Writer interface {
	InsertSpans(ctx context.Context, spans []Span) error
	InsertMetrics(ctx context.Context, metrics []Metric) error
}
