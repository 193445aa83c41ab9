package openai

import (
	"context"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/runtime/agent/model"
)

type mockChatClient struct {
	response *oai.ChatCompletion
	captured oai.ChatCompletionNewParams
}

func (m *mockChatClient) New(_ context.Context, body oai.ChatCompletionNewParams, _ ...option.RequestOption) (*oai.ChatCompletion, error) {
	m.captured = body
	return m.response, nil
}

func (m *mockChatClient) NewStreaming(_ context.Context, body oai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk] {
	m.captured = body
	return ssestream.NewStream[oai.ChatCompletionChunk](nil, nil)
}

func basicCompletion(content string) *oai.ChatCompletion {
	return &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{
				Message:      oai.ChatCompletionMessage{Content: content},
				FinishReason: "stop",
			},
		},
		Usage: oai.CompletionUsage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
	}
}

func basicOpenAIRequest() *model.Request {
	return &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{response: basicCompletion("pong")}
	c, err := New(Options{Client: mock, DefaultModel: "gpt-4o-mini"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), basicOpenAIRequest())
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, 16, resp.Usage.TotalTokens)
	require.Equal(t, "gpt-4o-mini", string(mock.captured.Model))
}

func TestClientCompleteWithToolChoiceTool(t *testing.T) {
	resp := basicCompletion("")
	resp.Choices[0].Message.ToolCalls = []oai.ChatCompletionMessageToolCall{
		{
			ID: "call_1",
			Function: oai.ChatCompletionMessageToolCallFunction{
				Name:      "lookup",
				Arguments: `{"query":"docs"}`,
			},
		},
	}
	mock := &mockChatClient{response: resp}
	c, err := New(Options{Client: mock, DefaultModel: "gpt-4o-mini"})
	require.NoError(t, err)

	req := basicOpenAIRequest()
	req.Tools = []*model.ToolDefinition{{Name: "lookup", Description: "looks things up", InputSchema: map[string]any{"type": "object"}}}
	req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: "lookup"}

	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, "call_1", out.ToolCalls[0].ID)
	require.JSONEq(t, `{"query":"docs"}`, string(out.ToolCalls[0].Payload))

	require.NotNil(t, mock.captured.ToolChoice.OfChatCompletionNamedToolChoice)
	require.Equal(t, "lookup", mock.captured.ToolChoice.OfChatCompletionNamedToolChoice.Function.Name)
}

func TestClientCompleteWithToolChoiceNone(t *testing.T) {
	mock := &mockChatClient{response: basicCompletion("no tools for you")}
	c, err := New(Options{Client: mock, DefaultModel: "gpt-4o-mini"})
	require.NoError(t, err)

	req := basicOpenAIRequest()
	req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeNone}

	_, err = c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "none", mock.captured.ToolChoice.OfAuto.Value)
}

func TestClientRequiresDefaultModel(t *testing.T) {
	_, err := New(Options{Client: &mockChatClient{}, DefaultModel: ""})
	require.Error(t, err)
}

func TestClientCompleteEmptyMessagesRejected(t *testing.T) {
	mock := &mockChatClient{response: basicCompletion("x")}
	c, err := New(Options{Client: mock, DefaultModel: "gpt-4o-mini"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}
