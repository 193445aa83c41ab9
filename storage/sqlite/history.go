package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vllora/gateway/history"
	"github.com/vllora/gateway/runtime/agent/model"
)

// Compile-time assertion that Store satisfies history.Store.
var _ history.Store = (*Store)(nil)

// LoadThread implements history.Store.
func (s *Store) LoadThread(ctx context.Context, threadID string) (*history.Thread, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, model_name, user_id, project_id, is_public, COALESCE(title, '')
		FROM threads WHERE id = ?`, threadID)

	var t history.Thread
	var isPublic int
	if err := row.Scan(&t.ID, &t.ModelName, &t.UserID, &t.ProjectID, &isPublic, &t.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlite: load thread: %w", err)
	}
	t.IsPublic = isPublic != 0
	return &t, true, nil
}

// CreateThread implements history.Store.
func (s *Store) CreateThread(ctx context.Context, thread *history.Thread) error {
	now := time.Now().UnixMicro()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, model_name, user_id, project_id, is_public, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		thread.ID, thread.ModelName, thread.UserID, thread.ProjectID,
		boolToInt(thread.IsPublic), nullIfEmpty(thread.Title), now, now)
	if err != nil {
		return fmt.Errorf("sqlite: create thread: %w", err)
	}
	return nil
}

// LoadMessages implements history.Store, ordered oldest-first.
func (s *Store) LoadMessages(ctx context.Context, threadID string) ([]history.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, COALESCE(tool_calls_json, ''), created_at
		FROM messages WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load messages: %w", err)
	}
	defer rows.Close()

	var out []history.Message
	for rows.Next() {
		var msg history.Message
		var role, toolCalls string
		var createdUS int64
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &role, &msg.Content, &toolCalls, &createdUS); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msg.Role = model.ChatRole(role)
		msg.CreatedAt = time.UnixMicro(createdUS)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal tool_calls_json: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// InsertMessages implements history.Store, persisting msgs in one
// transaction. content_type is always recorded as "Text": history.Message
// carries only the flattened Content field, the execution pipeline's
// typed content parts are not retained past the turn they were received in.
func (s *Store) InsertMessages(ctx context.Context, threadID string, msgs []history.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	thread, found, err := s.LoadThread(ctx, threadID)
	if err != nil {
		return err
	}
	var userID, projectID string
	if found {
		userID, projectID = thread.UserID, thread.ProjectID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin messages batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages
			(id, thread_id, role, content_type, content, tool_calls_json, user_id, project_id, created_at)
		VALUES (?, ?, ?, 'Text', ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare messages batch: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		var toolCalls string
		if len(msg.ToolCalls) > 0 {
			b, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("sqlite: marshal tool_calls: %w", err)
			}
			toolCalls = string(b)
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			msg.ID, threadID, string(msg.Role), msg.Content,
			nullIfEmpty(toolCalls), userID, projectID, createdAt.UnixMicro(),
		); err != nil {
			return fmt.Errorf("sqlite: insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMicro(), threadID); err != nil {
		return fmt.Errorf("sqlite: touch thread updated_at: %w", err)
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
