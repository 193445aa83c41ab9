package clickhouse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/storage"
)

type recordingServer struct {
	mu       sync.Mutex
	queries  []string
	rowCount int
}

func newRecordingServer(t *testing.T) (*httptest.Server, *recordingServer) {
	rs := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		rs.queries = append(rs.queries, r.URL.Query().Get("query"))

		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var v map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &v); err == nil {
				rs.rowCount++
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, rs
}

func TestInsertSpansFlushesOnBatchSize(t *testing.T) {
	srv, rs := newRecordingServer(t)
	w := NewWriter(srv.URL, WithBatchSize(2), WithFlushInterval(time.Hour))
	defer w.Close(context.Background())

	spans := []storage.Span{
		{TraceID: "t1", SpanID: "s1", ProjectID: "p1"},
		{TraceID: "t1", SpanID: "s2", ProjectID: "p1"},
	}
	require.NoError(t, w.InsertSpans(context.Background(), spans))

	require.Eventually(t, func() bool {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return rs.rowCount == 2
	}, time.Second, 5*time.Millisecond)

	rs.mu.Lock()
	require.Contains(t, rs.queries[0], "INSERT INTO spans FORMAT JSONEachRow")
	rs.mu.Unlock()
}

func TestFlushPostsBufferedMetricsImmediately(t *testing.T) {
	srv, rs := newRecordingServer(t)
	w := NewWriter(srv.URL, WithBatchSize(1000), WithFlushInterval(time.Hour))
	defer w.Close(context.Background())

	require.NoError(t, w.InsertMetrics(context.Background(), []storage.Metric{
		{MetricName: "llm.request.count", MetricType: storage.MetricCounter, Value: 1, TimestampUS: 1},
	}))
	require.NoError(t, w.Flush(context.Background()))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Equal(t, 1, rs.rowCount)
	require.Contains(t, rs.queries[0], "INSERT INTO metrics FORMAT JSONEachRow")
}

func TestCloseFlushesRemainingBufferedRows(t *testing.T) {
	srv, rs := newRecordingServer(t)
	w := NewWriter(srv.URL, WithBatchSize(1000), WithFlushInterval(time.Hour))

	require.NoError(t, w.InsertSpans(context.Background(), []storage.Span{{TraceID: "t1", SpanID: "s1"}}))
	require.NoError(t, w.Close(context.Background()))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Equal(t, 1, rs.rowCount)
}

func TestFlushIsNoopWhenBuffersEmpty(t *testing.T) {
	srv, rs := newRecordingServer(t)
	w := NewWriter(srv.URL, WithBatchSize(1000), WithFlushInterval(time.Hour))
	defer w.Close(context.Background())

	require.NoError(t, w.Flush(context.Background()))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Empty(t, rs.queries)
}
