package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vllora/gateway/storage"
)

// MetricRow is an alias kept for call-site readability; the wire shape is
// storage.Metric so Store satisfies storage.Writer directly.
type MetricRow = storage.Metric

// Metric type aliases, matching the persisted state layout (spec §6).
const (
	MetricCounter      = storage.MetricCounter
	MetricGauge        = storage.MetricGauge
	MetricHistogram    = storage.MetricHistogram
	MetricSummary      = storage.MetricSummary
	MetricHistogramSum = storage.MetricHistogramSum
)

// MetricType is an alias for storage.MetricType.
type MetricType = storage.MetricType

// InsertMetric persists one metric data point. Idempotent on
// (metric_name, trace_id, span_id, timestamp_us): an OTLP metric batch
// re-ingested after a partial failure does not double-count points already
// committed.
func (s *Store) InsertMetric(ctx context.Context, m storage.Metric) error {
	return s.InsertMetrics(ctx, []storage.Metric{m})
}

// InsertMetrics implements storage.Writer, persisting a batch of metric
// data points in one transaction.
func (s *Store) InsertMetrics(ctx context.Context, rows []storage.Metric) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin metrics batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO metrics
			(metric_name, metric_type, value, timestamp_us, attributes_json,
			 project_id, thread_id, run_id, trace_id, span_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare metrics batch: %w", err)
	}
	defer stmt.Close()

	for _, m := range rows {
		attrs, err := json.Marshal(m.Attributes)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metric attributes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.MetricName, string(m.MetricType), m.Value, m.TimestampUS, string(attrs),
			nullIfEmpty(m.ProjectID), nullIfEmpty(m.ThreadID), nullIfEmpty(m.RunID),
			nullIfEmpty(m.TraceID), nullIfEmpty(m.SpanID),
		); err != nil {
			return fmt.Errorf("sqlite: insert metric in batch: %w", err)
		}
	}
	return tx.Commit()
}
