package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vllora/gateway/runtime/agent/stream"
	"github.com/vllora/gateway/span"
)

// pingInterval is the UI broadcaster's keepalive cadence (spec §4.7).
const pingInterval = 5 * time.Second

// UIBroadcaster adds per-client senders to a Manager's project channels and
// converts finished spans into user-facing stream.Events.
type UIBroadcaster struct {
	manager *Manager
}

// NewUIBroadcaster constructs a UIBroadcaster fanning spans out of manager.
func NewUIBroadcaster(manager *Manager) *UIBroadcaster {
	return &UIBroadcaster{manager: manager}
}

// AddClient registers a new client identified as "<projectSlug>:<uuid>",
// subscribes it to projectID's broadcast channel, and spawns its forwarder
// and pinger tasks. The returned stop function unregisters the client; it
// is also invoked automatically when the forwarder errors, the sink fails,
// or ctx is cancelled.
func (b *UIBroadcaster) AddClient(ctx context.Context, projectSlug, projectID string, sink stream.Sink) (clientID string, stop func()) {
	clientID = fmt.Sprintf("%s:%s", projectSlug, uuid.NewString())
	sub := b.manager.Subscribe(projectID)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			sub.Close()
			close(done)
			_ = sink.Close(context.Background())
		})
	}

	go b.forward(ctx, projectID, sub, sink, cleanup)
	go ping(ctx, projectID, sink, done, cleanup)

	return clientID, cleanup
}

func (b *UIBroadcaster) forward(ctx context.Context, projectID string, sub *subscription, sink stream.Sink, cleanup func()) {
	defer cleanup()
	for {
		select {
		case s, ok := <-sub.Receive():
			if !ok {
				return
			}
			if err := sink.Send(ctx, spanToEvent(s)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func ping(ctx context.Context, projectID string, sink stream.Sink, done <-chan struct{}, cleanup func()) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sink.Send(ctx, stream.NewPing("", projectID)); err != nil {
				cleanup()
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// spanToEvent converts a finished Span into the UI-facing event its
// operation_name calls for (spec §4.7).
func spanToEvent(s span.Span) stream.Event {
	switch s.OperationName {
	case span.OpRun:
		return stream.NewRunFinished(s.RunID, s.ProjectID, stream.RunFinishedPayload{
			Status:       statusOf(s),
			Error:        stringAttr(s, span.AttrError),
			DurationMS:   (s.FinishTimeUS - s.StartTimeUS) / 1000,
			PromptTokens: intAttr(s, "prompt_tokens"),
			OutputTokens: intAttr(s, "output_tokens"),
			CostUSD:      floatAttr(s, span.AttrCost),
		})
	case span.OpAgent:
		return stream.NewAgentFinished(s.RunID, s.ProjectID, spanFinishedPayload(s))
	case span.OpTask:
		return stream.NewTaskFinished(s.RunID, s.ProjectID, spanFinishedPayload(s))
	default:
		return stream.NewSpanEnd(s.RunID, s.ProjectID, stream.SpanEndPayload{
			Start:      s.StartTimeUS,
			End:        s.FinishTimeUS,
			Attributes: s.Attributes,
		})
	}
}

func spanFinishedPayload(s span.Span) stream.SpanFinishedPayload {
	return stream.SpanFinishedPayload{
		StartTimeUS:   s.StartTimeUS,
		FinishTimeUS:  s.FinishTimeUS,
		Attributes:    s.Attributes,
		OperationName: s.OperationName,
	}
}

func statusOf(s span.Span) string {
	if stringAttr(s, span.AttrError) != "" {
		return "error"
	}
	return "ok"
}

func stringAttr(s span.Span, key string) string {
	v, _ := s.Attributes[key].(string)
	return v
}

func intAttr(s span.Span, key string) int {
	switch v := s.Attributes[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatAttr(s span.Span, key string) float64 {
	switch v := s.Attributes[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
