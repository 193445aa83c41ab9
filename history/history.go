// Package history implements the History Manager (spec §4.11): thread
// lifecycle, bulk message insertion with system-message filtering,
// dedup-vs-prior-last-message, and assistant-message upsert with a
// MessageCreated broadcast. All operations are best-effort: a Store
// failure is reported to the caller but never blocks or fails the
// execution pipeline, per spec §4.11's closing invariant. Sink.Publish
// reports no errors.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/telemetry"
)

// Thread groups MessageWithId rows ordered by created_at.
type Thread struct {
	ID          string
	ModelName   string
	UserID      string
	ProjectID   string
	IsPublic    bool
	Title       string
	Description string
	Keywords    []string
}

// Message is a persisted MessageWithId.
type Message struct {
	ID        string
	ThreadID  string
	Role      model.ChatRole
	Content   string
	ToolCalls []model.ChatToolCall
	CreatedAt time.Time
}

// Store persists threads and messages. storage/sqlite implements it.
type Store interface {
	LoadThread(ctx context.Context, threadID string) (*Thread, bool, error)
	CreateThread(ctx context.Context, thread *Thread) error
	LoadMessages(ctx context.Context, threadID string) ([]Message, error)
	InsertMessages(ctx context.Context, threadID string, msgs []Message) error
}

// MessageCreated is broadcast to a project's channel whenever a message is
// durably inserted.
type MessageCreated struct {
	ThreadID string
	Message  Message
}

// Sink receives MessageCreated events, keyed by project_id. No type in this
// module implements it (broadcast.Manager publishes spans, not
// MessageCreated events); history does not import broadcast to avoid a cycle.
type Sink interface {
	Publish(projectID string, evt MessageCreated)
}

// IDGenerator produces new message/thread identifiers. Kept as an interface
// so tests can supply deterministic ids; production wiring uses
// google/uuid.
type IDGenerator interface {
	NewID() string
}

// Manager is the History Manager.
type Manager struct {
	store  Store
	sink   Sink
	ids    IDGenerator
	logger telemetry.Logger
}

// NewManager constructs a Manager. sink and logger may be nil (broadcasting
// and logging become no-ops); a nil ids falls back to random UUIDs.
func NewManager(store Store, sink Sink, ids IDGenerator, logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Manager{store: store, sink: sink, ids: ids, logger: logger}
}

// TurnResult reports what RecordTurn did, including the message id to
// attach to the current model_call span (spec §4.11 step 2).
type TurnResult struct {
	Thread            *Thread
	DedupedMessageID  string
	InsertedUserCount int
	AssistantMessage  *Message
}

// EnsureThread loads the thread for threadID, creating it on first use.
func (m *Manager) EnsureThread(ctx context.Context, threadID, modelName, userID, projectID string) (*Thread, error) {
	thread, found, err := m.store.LoadThread(ctx, threadID)
	if err != nil {
		m.logger.Error(ctx, "history: load thread failed", "thread_id", threadID, "error", err)
		return nil, err
	}
	if found {
		return thread, nil
	}
	thread = &Thread{ID: threadID, ModelName: modelName, UserID: userID, ProjectID: projectID}
	if err := m.store.CreateThread(ctx, thread); err != nil {
		m.logger.Error(ctx, "history: create thread failed", "thread_id", threadID, "error", err)
		return nil, err
	}
	return thread, nil
}

// RecordTurn implements spec §4.11 steps 1-4 for one request/response turn.
// Errors are logged and returned to the caller, who per spec §4.11 must
// treat them as non-fatal to the pipeline.
func (m *Manager) RecordTurn(ctx context.Context, thread *Thread, requestMessages []model.ChatCompletionMessage, assistant model.ChatCompletionMessage) (*TurnResult, error) {
	prior, err := m.store.LoadMessages(ctx, thread.ID)
	if err != nil {
		m.logger.Error(ctx, "history: load messages failed", "thread_id", thread.ID, "error", err)
		return nil, err
	}

	result := &TurnResult{Thread: thread}
	isNewThread := len(prior) == 0

	lastRequest := lastMessage(requestMessages)
	if lastRequest != nil && len(prior) > 0 {
		lastPrior := prior[len(prior)-1]
		if lastPrior.Content == lastRequest.Content {
			result.DedupedMessageID = lastPrior.ID
		}
	}

	if result.DedupedMessageID == "" {
		toInsert := requestMessages
		if !isNewThread {
			if lastRequest == nil {
				toInsert = nil
			} else {
				toInsert = []model.ChatCompletionMessage{*lastRequest}
			}
		}
		filtered := filterSystem(toInsert)
		if len(filtered) > 0 {
			rows := make([]Message, len(filtered))
			for i, msg := range filtered {
				rows[i] = Message{ID: m.newID(), ThreadID: thread.ID, Role: msg.Role, Content: msg.Content, CreatedAt: time.Now()}
			}
			if err := m.store.InsertMessages(ctx, thread.ID, rows); err != nil {
				m.logger.Error(ctx, "history: insert user messages failed", "thread_id", thread.ID, "error", err)
				return nil, err
			}
			result.InsertedUserCount = len(rows)
		}
	}

	assistantRow := Message{
		ID:        m.newID(),
		ThreadID:  thread.ID,
		Role:      model.ChatRoleAssistant,
		Content:   assistant.Content,
		ToolCalls: assistant.ToolCalls,
		CreatedAt: time.Now(),
	}
	if err := m.store.InsertMessages(ctx, thread.ID, []Message{assistantRow}); err != nil {
		m.logger.Error(ctx, "history: insert assistant message failed", "thread_id", thread.ID, "error", err)
		return nil, err
	}
	result.AssistantMessage = &assistantRow

	if m.sink != nil {
		m.sink.Publish(thread.ProjectID, MessageCreated{ThreadID: thread.ID, Message: assistantRow})
	}

	return result, nil
}

func (m *Manager) newID() string {
	if m.ids != nil {
		return m.ids.NewID()
	}
	return uuid.NewString()
}

func lastMessage(msgs []model.ChatCompletionMessage) *model.ChatCompletionMessage {
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}

func filterSystem(msgs []model.ChatCompletionMessage) []model.ChatCompletionMessage {
	out := make([]model.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == model.ChatRoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}
