package span

import (
	"context"
	"sync"
	"time"

	"github.com/vllora/gateway/storage"
)

// DefaultStorageSinkBatchSize and DefaultStorageSinkFlushInterval match the
// size/interval flush shape storage/clickhouse.Writer uses for its own
// buffered writes.
const (
	DefaultStorageSinkBatchSize     = 500
	DefaultStorageSinkFlushInterval = 5 * time.Second
)

// StorageSink adapts a storage.Writer into a Sink so NewProvider's
// BaggageProcessor can publish every finished span to durable storage in
// addition to (or instead of) the broadcast exporter; see MultiSink to
// combine both. Spans are buffered and flushed on batch size or interval,
// mirroring storage/clickhouse.Writer's own buffering so the writer never
// sees one INSERT per span.
type StorageSink struct {
	writer        storage.Writer
	batchSize     int
	flushInterval time.Duration

	mu  sync.Mutex
	buf []storage.Span

	flushNow chan struct{}
	closeCh  chan struct{}
	wg       sync.WaitGroup

	onFlushError func(error)
}

// StorageSinkOption configures a StorageSink at construction.
type StorageSinkOption func(*StorageSink)

// WithStorageSinkBatchSize overrides DefaultStorageSinkBatchSize.
func WithStorageSinkBatchSize(n int) StorageSinkOption {
	return func(s *StorageSink) { s.batchSize = n }
}

// WithStorageSinkFlushInterval overrides DefaultStorageSinkFlushInterval.
func WithStorageSinkFlushInterval(d time.Duration) StorageSinkOption {
	return func(s *StorageSink) { s.flushInterval = d }
}

// WithStorageSinkFlushErrorHandler installs a callback invoked when a
// background interval flush fails.
func WithStorageSinkFlushErrorHandler(f func(error)) StorageSinkOption {
	return func(s *StorageSink) { s.onFlushError = f }
}

// NewStorageSink constructs a StorageSink writing to writer and starts its
// background flush loop. Callers must call Close to stop the loop and
// flush any remaining rows.
func NewStorageSink(writer storage.Writer, opts ...StorageSinkOption) *StorageSink {
	s := &StorageSink{
		writer:        writer,
		batchSize:     DefaultStorageSinkBatchSize,
		flushInterval: DefaultStorageSinkFlushInterval,
		flushNow:      make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Publish implements Sink: it buffers s for the project and signals an
// immediate flush once batchSize is reached. projectID is also carried on
// the converted storage.Span, so it is not otherwise used here.
func (s *StorageSink) Publish(projectID string, sp Span) {
	s.mu.Lock()
	s.buf = append(s.buf, toStorageSpan(sp))
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.signalFlush()
	}
}

func (s *StorageSink) signalFlush() {
	select {
	case s.flushNow <- struct{}{}:
	default:
		// a flush is already pending; this span rides along with it.
	}
}

func (s *StorageSink) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.flushNow:
			s.flush()
		case <-s.closeCh:
			return
		}
	}
}

func (s *StorageSink) flush() {
	s.mu.Lock()
	spans := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(spans) == 0 {
		return
	}
	if err := s.writer.InsertSpans(context.Background(), spans); err != nil && s.onFlushError != nil {
		s.onFlushError(err)
	}
}

// Close stops the background flush loop and flushes any remaining rows.
func (s *StorageSink) Close(ctx context.Context) error {
	close(s.closeCh)
	s.wg.Wait()

	s.mu.Lock()
	spans := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(spans) == 0 {
		return nil
	}
	return s.writer.InsertSpans(ctx, spans)
}

func toStorageSpan(sp Span) storage.Span {
	return storage.Span{
		TraceID:       sp.TraceID,
		SpanID:        sp.SpanID,
		ParentSpanID:  sp.ParentSpanID,
		OperationName: sp.OperationName,
		StartTimeUS:   sp.StartTimeUS,
		FinishTimeUS:  sp.FinishTimeUS,
		Attributes:    sp.Attributes,
		ThreadID:      sp.ThreadID,
		RunID:         sp.RunID,
		ProjectID:     sp.ProjectID,
	}
}

// MultiSink fans one finished span out to every wrapped Sink, in order.
// Used to publish the same span to both the broadcast exporter (live UI)
// and a StorageSink (durable write), matching spec §4.8's "two exporters
// in parallel" framing at the Sink level rather than the processor level.
type MultiSink []Sink

// Publish implements Sink by publishing to every wrapped sink.
func (m MultiSink) Publish(projectID string, s Span) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(projectID, s)
		}
	}
}
