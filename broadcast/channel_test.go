package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/span"
)

func TestGetOrCreateChannelReusesWhileReceiversExist(t *testing.T) {
	m := NewManager()
	sub := m.Subscribe("p1")
	defer sub.Close()

	ch := m.GetOrCreateChannel("p1")
	require.Equal(t, 1, ch.receiverCount())
}

func TestGetOrCreateChannelReplacesWhenEmpty(t *testing.T) {
	m := NewManager()
	sub := m.Subscribe("p1")
	sub.Close()

	ch := m.GetOrCreateChannel("p1")
	require.Equal(t, 0, ch.receiverCount())
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	m := NewManager()
	sub1 := m.Subscribe("p1")
	sub2 := m.Subscribe("p1")
	defer sub1.Close()
	defer sub2.Close()

	m.Publish("p1", span.Span{OperationName: span.OpModelCall, ProjectID: "p1"})

	got1 := <-sub1.Receive()
	got2 := <-sub2.Receive()
	require.Equal(t, span.OpModelCall, got1.OperationName)
	require.Equal(t, span.OpModelCall, got2.OperationName)
}

func TestPublishToUnknownProjectIsNoop(t *testing.T) {
	m := NewManager()
	m.Publish("unknown", span.Span{})
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	m := NewManager()
	sub := m.Subscribe("p1")
	defer sub.Close()

	for i := 0; i < channelCapacity+10; i++ {
		m.Publish("p1", span.Span{OperationName: span.OpModelCall})
	}
	require.Len(t, sub.ch, channelCapacity)
}

func TestTryCleanupChannelRemovesEmptyEntry(t *testing.T) {
	m := NewManager()
	sub := m.Subscribe("p1")
	sub.Close()

	m.TryCleanupChannel("p1")
	_, ok := m.channels["p1"]
	require.False(t, ok)
}

func TestCleanupAllEmptyChannelsTwoPass(t *testing.T) {
	m := NewManager()
	subEmpty := m.Subscribe("empty")
	subEmpty.Close()
	subActive := m.Subscribe("active")
	defer subActive.Close()

	removed := m.CleanupAllEmptyChannels()
	require.Equal(t, 1, removed)

	_, emptyExists := m.channels["empty"]
	_, activeExists := m.channels["active"]
	require.False(t, emptyExists)
	require.True(t, activeExists)
}
