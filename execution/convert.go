package execution

import (
	"encoding/json"
	"fmt"

	"github.com/vllora/gateway/runtime/agent/model"
)

// toModelRequest translates the OpenAI-compatible wire request into the
// provider-agnostic model.Request the provider clients accept (spec §4.2:
// "maps the canonical ChatCompletionMessage array into provider-native
// shape").
func toModelRequest(req *model.ChatCompletionRequest, msgs []model.ChatCompletionMessage, runID string) (*model.Request, error) {
	out := &model.Request{
		RunID:    runID,
		Model:    req.Model,
		Messages: make([]*model.Message, 0, len(msgs)),
		Stream:   req.Stream,
	}
	for i := range msgs {
		mm, err := toModelMessage(&msgs[i])
		if err != nil {
			return nil, err
		}
		if mm == nil {
			continue
		}
		out.Messages = append(out.Messages, mm)
	}
	for i := range req.Tools {
		t := req.Tools[i]
		out.Tools = append(out.Tools, &model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out, nil
}

func toModelMessage(m *model.ChatCompletionMessage) (*model.Message, error) {
	role, err := toConversationRole(m.Role)
	if err != nil {
		return nil, err
	}
	var parts []model.Part
	if m.Content != "" {
		parts = append(parts, model.TextPart{Text: m.Content})
	}
	for _, p := range m.Parts {
		if p.Type == model.ChatContentText && p.Text != "" {
			parts = append(parts, model.TextPart{Text: p.Text})
		}
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, model.ToolUsePart{
			ID:    tc.ID,
			Name:  tc.Name,
			Input: decodeArgs(tc.Arguments),
		})
	}
	if m.Role == model.ChatRoleTool {
		parts = append(parts, model.ToolResultPart{
			ToolUseID: m.ToolCallID,
			Content:   m.Content,
		})
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &model.Message{Role: role, Parts: parts}, nil
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func toConversationRole(r model.ChatRole) (model.ConversationRole, error) {
	switch r {
	case model.ChatRoleSystem, model.ChatRoleDeveloper:
		return model.ConversationRoleSystem, nil
	case model.ChatRoleUser, model.ChatRoleFunction:
		return model.ConversationRoleUser, nil
	case model.ChatRoleAssistant:
		return model.ConversationRoleAssistant, nil
	case model.ChatRoleTool:
		return model.ConversationRoleUser, nil
	default:
		return "", fmt.Errorf("execution: unsupported chat role %q", r)
	}
}

// fromModelResponse folds a non-streaming model.Response into the
// OpenAI-compatible wire message the caller (and the History Manager,
// the Response Cache) expects.
func fromModelResponse(resp *model.Response) model.ChatCompletionMessageWithFinishReason {
	var content string
	var toolCalls []model.ChatToolCall
	for _, msg := range resp.Content {
		for _, p := range msg.Parts {
			if tp, ok := p.(model.TextPart); ok {
				content += tp.Text
			}
		}
	}
	for _, tc := range resp.ToolCalls {
		args, _ := json.Marshal(tc.Payload)
		toolCalls = append(toolCalls, model.ChatToolCall{
			ID:        tc.ID,
			Name:      tc.Name.String(),
			Arguments: args,
		})
	}
	return model.ChatCompletionMessageWithFinishReason{
		Message: model.ChatCompletionMessage{
			Role:      model.ChatRoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		},
		FinishReason: finishReasonFromStop(resp.StopReason),
	}
}

func finishReasonFromStop(stop string) model.FinishReason {
	switch stop {
	case "", "stop", "end_turn":
		return model.FinishReasonStop
	case "tool_calls", "tool_use":
		return model.FinishReasonToolCalls
	case "length", "max_tokens":
		return model.FinishReasonLength
	case "content_filter":
		return model.FinishReasonContentFilter
	case "guardrail":
		return model.FinishReasonGuardrail
	default:
		return model.FinishReasonOther(stop)
	}
}
