package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/storage"
)

func TestInsertSpanIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp := storage.Span{
		TraceID: "t1", SpanID: "s1", OperationName: "model_call",
		StartTimeUS: 100, FinishTimeUS: 200, ProjectID: "p1",
		Attributes: map[string]any{"model": "gpt-4"},
	}
	require.NoError(t, s.InsertSpan(ctx, sp))
	require.NoError(t, s.InsertSpan(ctx, sp)) // re-ingest, must not duplicate

	got, err := s.QuerySpansByProject(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "gpt-4", got[0].Attributes["model"])
}

func TestInsertSpansBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	spans := []storage.Span{
		{TraceID: "t1", SpanID: "s1", OperationName: "run", ProjectID: "p1"},
		{TraceID: "t1", SpanID: "s2", OperationName: "model_call", ProjectID: "p1", ParentSpanID: "s1"},
	}
	require.NoError(t, s.InsertSpans(ctx, spans))

	got, err := s.QuerySpansByProject(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestQuerySpansByProjectFiltersByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertSpan(ctx, storage.Span{TraceID: "t1", SpanID: "s1", ProjectID: "p1"}))
	require.NoError(t, s.InsertSpan(ctx, storage.Span{TraceID: "t2", SpanID: "s1", ProjectID: "p2"}))

	got, err := s.QuerySpansByProject(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "t1", got[0].TraceID)
}
