package gemini

import (
	"context"
	"io"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/vllora/gateway/runtime/agent/model"
)

type mockModelsClient struct {
	resp       *genai.GenerateContentResponse
	err        error
	streamSeq  []*genai.GenerateContentResponse
	streamErr  error
	capturedModel string
	capturedCfg   *genai.GenerateContentConfig
}

func (m *mockModelsClient) GenerateContent(_ context.Context, modelName string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.capturedModel = modelName
	m.capturedCfg = cfg
	return m.resp, m.err
}

func (m *mockModelsClient) GenerateContentStream(_ context.Context, modelName string, _ []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	m.capturedModel = modelName
	m.capturedCfg = cfg
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range m.streamSeq {
			if !yield(r, nil) {
				return
			}
		}
		if m.streamErr != nil {
			yield(nil, m.streamErr)
		}
	}
}

func textResponse(text, finish string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content:      genai.NewContentFromText(text, genai.RoleModel),
				FinishReason: genai.FinishReason(finish),
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}
}

func basicGeminiRequest() *model.Request {
	return &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "ping"}}},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := &mockModelsClient{resp: textResponse("pong", "STOP")}
	c, err := New(Options{Models: mock, DefaultModel: "gemini-2.5-flash"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), basicGeminiRequest())
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "STOP", resp.StopReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, "gemini-2.5-flash", mock.capturedModel)
}

func TestClientCompleteWithSystemMessage(t *testing.T) {
	mock := &mockModelsClient{resp: textResponse("ok", "STOP")}
	c, err := New(Options{Models: mock, DefaultModel: "gemini-2.5-flash"})
	require.NoError(t, err)

	req := &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "be terse"}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
	}
	_, err = c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, mock.capturedCfg.SystemInstruction)
}

func TestClientCompleteWithToolChoiceTool(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content:      genai.NewContentFromParts([]*genai.Part{genai.NewPartFromFunctionCall("lookup", map[string]any{"query": "docs"})}, genai.RoleModel),
				FinishReason: genai.FinishReason("STOP"),
			},
		},
	}
	mock := &mockModelsClient{resp: resp}
	c, err := New(Options{Models: mock, DefaultModel: "gemini-2.5-flash"})
	require.NoError(t, err)

	req := basicGeminiRequest()
	req.Tools = []*model.ToolDefinition{{Name: "lookup", Description: "looks things up", InputSchema: map[string]any{"type": "object"}}}
	req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: "lookup"}

	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, "lookup", out.ToolCalls[0].Name.String())
	require.JSONEq(t, `{"query":"docs"}`, string(out.ToolCalls[0].Payload))

	require.NotNil(t, mock.capturedCfg.ToolConfig)
	require.Equal(t, genai.FunctionCallingConfigModeAny, mock.capturedCfg.ToolConfig.FunctionCallingConfig.Mode)
	require.Equal(t, []string{"lookup"}, mock.capturedCfg.ToolConfig.FunctionCallingConfig.AllowedFunctionNames)
}

func TestClientStream(t *testing.T) {
	mock := &mockModelsClient{
		streamSeq: []*genai.GenerateContentResponse{
			textResponse("hel", ""),
			textResponse("lo", "STOP"),
		},
	}
	c, err := New(Options{Models: mock, DefaultModel: "gemini-2.5-flash"})
	require.NoError(t, err)

	s, err := c.Stream(context.Background(), basicGeminiRequest())
	require.NoError(t, err)

	var texts []string
	for {
		chunk, err := s.Recv()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		if chunk.Type == model.ChunkTypeText {
			texts = append(texts, chunk.Message.Parts[0].(model.TextPart).Text)
		}
	}
	require.Equal(t, []string{"hel", "lo"}, texts)
	require.NoError(t, s.Close())
}

func TestClientRequiresDefaultModel(t *testing.T) {
	_, err := New(Options{Models: &mockModelsClient{}, DefaultModel: ""})
	require.Error(t, err)
}
