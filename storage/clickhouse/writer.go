// Package clickhouse implements the Column store (spec §4.10): a cluster
// writer that posts batches of spans and metrics to a ClickHouse server
// over its native HTTP interface, flushing on batch size or interval.
//
// No example repo in the pack imports a ClickHouse client and the wire
// protocol itself is plain HTTP (an INSERT query string plus a
// newline-delimited JSON body) — this package is deliberately net/http and
// encoding/json only; see DESIGN.md for the justification.
package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vllora/gateway/storage"
)

// DefaultBatchSize and DefaultFlushInterval match the size/interval flush
// described by spec §4.10 when the caller does not override them.
const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = 5 * time.Second
)

// Writer batches spans and metrics in memory and flushes them to a
// ClickHouse server's HTTP interface. It implements storage.Writer.
type Writer struct {
	httpClient *http.Client
	baseURL    string

	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	spanBuf   []storage.Span
	metricBuf []storage.Metric

	flushNow chan struct{}
	closeCh  chan struct{}
	wg       sync.WaitGroup

	onFlushError func(error) // optional, for tests/observability
}

var _ storage.Writer = (*Writer)(nil)

// Option configures a Writer at construction.
type Option func(*Writer)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(w *Writer) { w.batchSize = n }
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(w *Writer) { w.flushInterval = d }
}

// WithHTTPClient overrides the default http.Client (e.g. for TLS config or
// a shorter request timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(w *Writer) { w.httpClient = c }
}

// WithFlushErrorHandler installs a callback invoked when a background
// flush fails, whether the interval or a full batch triggered it
// (InsertSpans/InsertMetrics only buffer rows and never return flush errors).
func WithFlushErrorHandler(f func(error)) Option {
	return func(w *Writer) { w.onFlushError = f }
}

// NewWriter constructs a Writer posting to baseURL (e.g.
// "http://localhost:8123") and starts its background interval-flush loop.
// Callers must call Close to stop the loop and flush any remaining rows.
func NewWriter(baseURL string, opts ...Option) *Writer {
	w := &Writer{
		httpClient:    http.DefaultClient,
		baseURL:       baseURL,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		flushNow:      make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(context.Background()); err != nil && w.onFlushError != nil {
				w.onFlushError(err)
			}
		case <-w.flushNow:
			if err := w.Flush(context.Background()); err != nil && w.onFlushError != nil {
				w.onFlushError(err)
			}
		case <-w.closeCh:
			return
		}
	}
}

// InsertSpans implements storage.Writer: appends to the in-memory buffer
// and signals an immediate flush once batchSize is reached.
func (w *Writer) InsertSpans(ctx context.Context, spans []storage.Span) error {
	w.mu.Lock()
	w.spanBuf = append(w.spanBuf, spans...)
	full := len(w.spanBuf) >= w.batchSize
	w.mu.Unlock()

	if full {
		w.signalFlush()
	}
	return nil
}

// InsertMetrics implements storage.Writer, mirroring InsertSpans.
func (w *Writer) InsertMetrics(ctx context.Context, metrics []storage.Metric) error {
	w.mu.Lock()
	w.metricBuf = append(w.metricBuf, metrics...)
	full := len(w.metricBuf) >= w.batchSize
	w.mu.Unlock()

	if full {
		w.signalFlush()
	}
	return nil
}

func (w *Writer) signalFlush() {
	select {
	case w.flushNow <- struct{}{}:
	default:
		// a flush is already pending; this batch rides along with it.
	}
}

// Flush posts any buffered spans and metrics to ClickHouse immediately,
// regardless of batch size or interval.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	spans := w.spanBuf
	w.spanBuf = nil
	metrics := w.metricBuf
	w.metricBuf = nil
	w.mu.Unlock()

	if len(spans) > 0 {
		if err := w.postSpans(ctx, spans); err != nil {
			return fmt.Errorf("clickhouse: flush spans: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := w.postMetrics(ctx, metrics); err != nil {
			return fmt.Errorf("clickhouse: flush metrics: %w", err)
		}
	}
	return nil
}

// Close stops the background flush loop and flushes any remaining rows.
func (w *Writer) Close(ctx context.Context) error {
	close(w.closeCh)
	w.wg.Wait()
	return w.Flush(ctx)
}

func (w *Writer) postSpans(ctx context.Context, spans []storage.Span) error {
	rows := make([]spanRow, len(spans))
	for i, sp := range spans {
		rows[i] = toSpanRow(sp)
	}
	return postJSONEachRow(ctx, w.httpClient, w.baseURL, "spans", rows)
}

func (w *Writer) postMetrics(ctx context.Context, metrics []storage.Metric) error {
	rows := make([]metricRow, len(metrics))
	for i, m := range metrics {
		rows[i] = toMetricRow(m)
	}
	return postJSONEachRow(ctx, w.httpClient, w.baseURL, "metrics", rows)
}

// postJSONEachRow POSTs rows to ClickHouse's HTTP interface using the
// INSERT ... FORMAT JSONEachRow idiom: one JSON object per line.
func postJSONEachRow[T any](ctx context.Context, client *http.Client, baseURL, table string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
	}

	q := url.Values{}
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", table))
	reqURL := baseURL + "/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse returned status %d", resp.StatusCode)
	}
	return nil
}
