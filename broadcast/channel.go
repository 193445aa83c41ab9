// Package broadcast implements the Broadcast Fan-out (spec §4.7): a
// BroadcastChannelManager owning one bounded, lossy, multi-subscriber
// channel per project (the ProjectTraceMap), plus a UI broadcaster that
// forwards finished spans to per-client SSE-style consumers. The
// subscriber-registry shape is grounded on runtime/agent/hooks/bus.go's
// Bus (map of subscription handles to subscribers, guarded by a mutex,
// idempotent Close via sync.Once); the channel semantics themselves are a
// hand-rolled concurrency primitive (no pack example imports a pub-sub
// library for in-process fan-out — see DESIGN.md).
package broadcast

import (
	"sync"

	"github.com/vllora/gateway/span"
)

// channelCapacity bounds each subscriber's buffered channel (spec §4.7): a
// slow subscriber drops spans rather than blocking the publisher.
const channelCapacity = 128

// subscription is an active registration on a projectChannel.
type subscription struct {
	ch   chan span.Span
	ch2  *projectChannel
	once sync.Once
}

// Close unregisters the subscription; idempotent.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.ch2.remove(s)
		close(s.ch)
	})
}

// Receive returns the channel this subscription delivers spans on.
func (s *subscription) Receive() <-chan span.Span { return s.ch }

// projectChannel is the bounded broadcast sender for one project: every
// subscriber gets its own buffered channel; Send is non-blocking per
// subscriber (drop on full, matching tokio::broadcast's lossy semantics).
type projectChannel struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func newProjectChannel() *projectChannel {
	return &projectChannel{subs: make(map[*subscription]struct{})}
}

func (p *projectChannel) subscribe() *subscription {
	s := &subscription{ch: make(chan span.Span, channelCapacity)}
	s.ch2 = p
	p.mu.Lock()
	p.subs[s] = struct{}{}
	p.mu.Unlock()
	return s
}

func (p *projectChannel) remove(s *subscription) {
	p.mu.Lock()
	delete(p.subs, s)
	p.mu.Unlock()
}

func (p *projectChannel) receiverCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

func (p *projectChannel) send(s span.Span) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for sub := range p.subs {
		select {
		case sub.ch <- s:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Manager is the BroadcastChannelManager: it owns the ProjectTraceMap and
// implements span.Sink so it can be wired directly as the span package's
// broadcast exporter.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*projectChannel
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]*projectChannel)}
}

// GetOrCreateChannel returns the project's channel, creating one if absent
// or if the stored channel has zero receivers (spec §4.7).
func (m *Manager) GetOrCreateChannel(projectID string) *projectChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[projectID]; ok && ch.receiverCount() > 0 {
		return ch
	}
	ch := newProjectChannel()
	m.channels[projectID] = ch
	return ch
}

// Subscribe registers a new subscriber for projectID and returns a
// subscription the caller must Close when done.
func (m *Manager) Subscribe(projectID string) *subscription {
	return m.GetOrCreateChannel(projectID).subscribe()
}

// Publish implements span.Sink: it fans s out to every current subscriber
// of projectID, dropping the span silently if the project has no
// channel yet (no one listening).
func (m *Manager) Publish(projectID string, s span.Span) {
	m.mu.Lock()
	ch, ok := m.channels[projectID]
	m.mu.Unlock()
	if !ok {
		return
	}
	ch.send(s)
}

// TryCleanupChannel removes projectID's entry if it currently has zero
// receivers.
func (m *Manager) TryCleanupChannel(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[projectID]; ok && ch.receiverCount() == 0 {
		delete(m.channels, projectID)
	}
}

// CleanupAllEmptyChannels removes every project entry with zero receivers
// and returns the count removed. Two-pass: the candidate set is collected
// under one lock acquisition, then each candidate is re-checked and deleted
// under its own acquisition, so a receiver that subscribes mid-sweep is not
// evicted.
func (m *Manager) CleanupAllEmptyChannels() int {
	m.mu.Lock()
	var candidates []string
	for id, ch := range m.channels {
		if ch.receiverCount() == 0 {
			candidates = append(candidates, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range candidates {
		m.mu.Lock()
		if ch, ok := m.channels[id]; ok && ch.receiverCount() == 0 {
			delete(m.channels, id)
			removed++
		}
		m.mu.Unlock()
	}
	return removed
}
