package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/runtime/agent/model"
)

type fakeStore struct {
	threads  map[string]*Thread
	messages map[string][]Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{threads: map[string]*Thread{}, messages: map[string][]Message{}}
}

func (s *fakeStore) LoadThread(ctx context.Context, threadID string) (*Thread, bool, error) {
	t, ok := s.threads[threadID]
	return t, ok, nil
}

func (s *fakeStore) CreateThread(ctx context.Context, thread *Thread) error {
	s.threads[thread.ID] = thread
	return nil
}

func (s *fakeStore) LoadMessages(ctx context.Context, threadID string) ([]Message, error) {
	return s.messages[threadID], nil
}

func (s *fakeStore) InsertMessages(ctx context.Context, threadID string, msgs []Message) error {
	s.messages[threadID] = append(s.messages[threadID], msgs...)
	return nil
}

type fakeSink struct {
	events []MessageCreated
}

func (s *fakeSink) Publish(projectID string, evt MessageCreated) {
	s.events = append(s.events, evt)
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return "id-" + string(rune('a'+s.n-1))
}

func TestEnsureThreadCreatesOnFirstUse(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, nil, &seqIDs{}, nil)

	thread, err := m.EnsureThread(context.Background(), "t1", "gpt-4o-mini", "u1", "p1")
	require.NoError(t, err)
	require.Equal(t, "t1", thread.ID)
	require.Len(t, store.threads, 1)

	again, err := m.EnsureThread(context.Background(), "t1", "gpt-4o-mini", "u1", "p1")
	require.NoError(t, err)
	require.Same(t, thread, again)
}

func TestRecordTurnNewThreadInsertsAllExceptSystem(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	m := NewManager(store, sink, &seqIDs{}, nil)
	thread := &Thread{ID: "t1", ProjectID: "p1"}
	store.threads["t1"] = thread

	reqMsgs := []model.ChatCompletionMessage{
		{Role: model.ChatRoleSystem, Content: "be nice"},
		{Role: model.ChatRoleUser, Content: "hello"},
	}
	assistant := model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "hi there"}

	result, err := m.RecordTurn(context.Background(), thread, reqMsgs, assistant)
	require.NoError(t, err)
	require.Equal(t, 1, result.InsertedUserCount)
	require.Empty(t, result.DedupedMessageID)
	require.Len(t, store.messages["t1"], 2)
	require.Equal(t, "hello", store.messages["t1"][0].Content)
	require.Equal(t, "hi there", store.messages["t1"][1].Content)
	require.Len(t, sink.events, 1)
	require.Equal(t, "hi there", sink.events[0].Message.Content)
}

func TestRecordTurnExistingThreadInsertsOnlyLast(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, nil, &seqIDs{}, nil)
	thread := &Thread{ID: "t1", ProjectID: "p1"}
	store.threads["t1"] = thread
	store.messages["t1"] = []Message{{ID: "m0", Content: "earlier"}}

	reqMsgs := []model.ChatCompletionMessage{
		{Role: model.ChatRoleUser, Content: "earlier"},
		{Role: model.ChatRoleUser, Content: "newest"},
	}
	assistant := model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "reply"}

	result, err := m.RecordTurn(context.Background(), thread, reqMsgs, assistant)
	require.NoError(t, err)
	require.Equal(t, 1, result.InsertedUserCount)
	require.Len(t, store.messages["t1"], 3)
	require.Equal(t, "newest", store.messages["t1"][1].Content)
}

func TestRecordTurnDedupsAgainstPriorLastMessage(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, nil, &seqIDs{}, nil)
	thread := &Thread{ID: "t1", ProjectID: "p1"}
	store.threads["t1"] = thread
	store.messages["t1"] = []Message{{ID: "m0", Content: "same"}}

	reqMsgs := []model.ChatCompletionMessage{{Role: model.ChatRoleUser, Content: "same"}}
	assistant := model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "reply"}

	result, err := m.RecordTurn(context.Background(), thread, reqMsgs, assistant)
	require.NoError(t, err)
	require.Equal(t, "m0", result.DedupedMessageID)
	require.Equal(t, 0, result.InsertedUserCount)
	require.Len(t, store.messages["t1"], 2)
}
