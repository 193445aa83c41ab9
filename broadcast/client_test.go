package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/runtime/agent/stream"
	"github.com/vllora/gateway/span"
)

type recordingSink struct {
	mu     sync.Mutex
	events []stream.Event
	closed bool
	failOn func(stream.Event) bool
}

func (s *recordingSink) Send(ctx context.Context, event stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil && s.failOn(event) {
		return errors.New("sink send failed")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAddClientIDFormat(t *testing.T) {
	m := NewManager()
	b := NewUIBroadcaster(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{}
	id, stop := b.AddClient(ctx, "proj-slug", "p1", sink)
	defer stop()

	require.True(t, strings.HasPrefix(id, "proj-slug:"))
}

func TestForwarderConvertsRunSpanToRunFinished(t *testing.T) {
	m := NewManager()
	b := NewUIBroadcaster(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{}
	_, stop := b.AddClient(ctx, "proj-slug", "p1", sink)
	defer stop()

	m.Publish("p1", span.Span{OperationName: span.OpRun, ProjectID: "p1", RunID: "r1"})

	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, stream.EventRunFinished, sink.events[0].Type())
}

func TestForwarderStopsOnSinkError(t *testing.T) {
	m := NewManager()
	b := NewUIBroadcaster(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{failOn: func(stream.Event) bool { return true }}
	_, stop := b.AddClient(ctx, "proj-slug", "p1", sink)
	defer stop()

	m.Publish("p1", span.Span{OperationName: span.OpAgent, ProjectID: "p1"})

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.closed
	}, time.Second, 5*time.Millisecond)
}
