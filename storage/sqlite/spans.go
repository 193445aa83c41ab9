package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vllora/gateway/storage"
)

// Compile-time assertion that Store satisfies storage.Writer.
var _ storage.Writer = (*Store)(nil)

// InsertSpan persists a finished span. Idempotent on (trace_id, span_id): a
// re-ingested identical row is silently dropped rather than double-counted
// (spec §4.10).
func (s *Store) InsertSpan(ctx context.Context, sp storage.Span) error {
	return s.InsertSpans(ctx, []storage.Span{sp})
}

// InsertSpans implements storage.Writer, persisting a batch of spans in one
// transaction. Each row is written with INSERT OR IGNORE, so a span whose
// (trace_id, span_id) is already stored is skipped.
func (s *Store) InsertSpans(ctx context.Context, spans []storage.Span) error {
	if len(spans) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin spans batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO spans
			(trace_id, span_id, parent_span_id, operation_name, start_time_us,
			 finish_time_us, attributes_json, thread_id, run_id, project_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare spans batch: %w", err)
	}
	defer stmt.Close()

	for _, sp := range spans {
		attrs, err := json.Marshal(sp.Attributes)
		if err != nil {
			return fmt.Errorf("sqlite: marshal span attributes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			sp.TraceID, sp.SpanID, nullIfEmpty(sp.ParentSpanID), sp.OperationName,
			sp.StartTimeUS, sp.FinishTimeUS, string(attrs),
			nullIfEmpty(sp.ThreadID), nullIfEmpty(sp.RunID), nullIfEmpty(sp.ProjectID),
		); err != nil {
			return fmt.Errorf("sqlite: insert span in batch: %w", err)
		}
	}
	return tx.Commit()
}

// QuerySpansByProject returns spans for projectID ordered oldest-first,
// used by the UI's historical-trace view (the broadcast channel only
// carries live spans).
func (s *Store) QuerySpansByProject(ctx context.Context, projectID string, limit int) ([]storage.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, span_id, COALESCE(parent_span_id, ''), operation_name,
		       start_time_us, finish_time_us, attributes_json,
		       COALESCE(thread_id, ''), COALESCE(run_id, ''), COALESCE(project_id, '')
		FROM spans WHERE project_id = ? ORDER BY start_time_us ASC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query spans: %w", err)
	}
	defer rows.Close()

	var out []storage.Span
	for rows.Next() {
		var sp storage.Span
		var attrs string
		if err := rows.Scan(&sp.TraceID, &sp.SpanID, &sp.ParentSpanID, &sp.OperationName,
			&sp.StartTimeUS, &sp.FinishTimeUS, &attrs,
			&sp.ThreadID, &sp.RunID, &sp.ProjectID); err != nil {
			return nil, fmt.Errorf("sqlite: scan span: %w", err)
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &sp.Attributes); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal span attributes: %w", err)
			}
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
