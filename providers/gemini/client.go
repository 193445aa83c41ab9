// Package gemini provides a model.Client implementation backed by Google's
// Gemini API, reachable either directly (API key) or through Vertex AI
// (project/location), using the single google.golang.org/genai SDK for both
// modes. Request/response shaping follows the same prepareRequest/
// encodeMessages/translateResponse split established by providers/anthropic
// and providers/openai.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/toolident"
)

type (
	// ModelsClient captures the subset of the genai SDK used by the adapter.
	// It is satisfied by *genai.Models so callers can pass either a real
	// client or a mock in tests.
	ModelsClient interface {
		GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
		GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	}

	// Options configures the Gemini adapter.
	Options struct {
		Models       ModelsClient
		DefaultModel string
		HighModel    string
		SmallModel   string
		MaxTokens    int
		Temperature  float64
	}

	// Client implements model.Client via the Gemini/Vertex AI Models API.
	Client struct {
		models       ModelsClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTok       int
		temp         float64
	}
)

// New builds a Gemini-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Models == nil {
		return nil, errors.New("gemini models client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{
		models:       opts.Models,
		defaultModel: modelID,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromEngineParams constructs a genai.Client for either the direct Gemini
// API (apiKey only) or Vertex AI (useVertex, with project/location) and
// wraps its Models service. Both modes share the same SDK and response
// shapes, so a single adapter serves both catalog.GeminiEngineParams variants.
func NewFromEngineParams(ctx context.Context, apiKey string, useVertex bool, project, location, defaultModel string) (*Client, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if useVertex {
		if project == "" || location == "" {
			return nil, errors.New("gemini: vertex backend requires project and location")
		}
		cfg = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  project,
			Location: location,
		}
	} else {
		if strings.TrimSpace(apiKey) == "" {
			return nil, errors.New("gemini: api key is required for the direct API backend")
		}
		cfg.APIKey = apiKey
	}
	sdkClient, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return New(Options{Models: sdkClient.Models, DefaultModel: defaultModel})
}

// Complete issues a non-streaming GenerateContent call and translates the
// response into planner-friendly structures (assistant messages + tool calls).
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	modelID, contents, cfg, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.models.GenerateContent(ctx, modelID, contents, cfg)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return translateResponse(resp)
}

// Stream invokes GenerateContentStream and adapts incremental responses into
// model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	modelID, contents, cfg, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	seq := c.models.GenerateContentStream(ctx, modelID, contents, cfg)
	return newGeminiStreamer(seq), nil
}

func (c *Client) prepareRequest(req *model.Request) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Messages) == 0 {
		return "", nil, nil, errors.New("gemini: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return "", nil, nil, errors.New("gemini: model identifier is required")
	}
	contents, systemText, err := encodeMessages(req.Messages)
	if err != nil {
		return "", nil, nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if systemText != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	if t := c.effectiveTemperature(float64(req.Temperature)); t > 0 {
		temp := float32(t)
		cfg.Temperature = &temp
	}
	if maxTokens := c.effectiveMaxTokens(req.MaxTokens); maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = encodeTools(req.Tools)
		cfg.ToolConfig = encodeToolConfig(req.ToolChoice)
	}
	return modelID, contents, cfg, nil
}

func (c *Client) resolveModelID(req *model.Request) string {
	if s := req.Model; s != "" {
		return s
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return c.temp
}

// encodeMessages converts the transcript into Gemini contents. System
// messages are pulled out and concatenated for GenerateContentConfig.
// SystemInstruction since Gemini has no system role in the Contents array.
func encodeMessages(msgs []*model.Message) ([]*genai.Content, string, error) {
	var system strings.Builder
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			system.WriteString(textOf(m.Parts))
		case model.ConversationRoleAssistant:
			content, err := encodeAssistantMessage(m)
			if err != nil {
				return nil, "", err
			}
			contents = append(contents, content)
		default:
			userContents, err := encodeUserMessage(m)
			if err != nil {
				return nil, "", err
			}
			contents = append(contents, userContents...)
		}
	}
	return contents, system.String(), nil
}

func encodeAssistantMessage(m *model.Message) (*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(m.Parts)+1)
	if text := textOf(m.Parts); text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, p := range m.Parts {
		tu, ok := p.(model.ToolUsePart)
		if !ok {
			continue
		}
		args, ok := tu.Input.(map[string]any)
		if !ok {
			converted, err := toArgsMap(tu.Input)
			if err != nil {
				return nil, err
			}
			args = converted
		}
		part := genai.NewPartFromFunctionCall(tu.Name, args)
		part.FunctionCall.ID = tu.ID
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(""))
	}
	return genai.NewContentFromParts(parts, genai.RoleModel), nil
}

func encodeUserMessage(m *model.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, p := range m.Parts {
		tr, ok := p.(model.ToolResultPart)
		if !ok {
			continue
		}
		payload, err := toArgsMap(tr.Content)
		if err != nil {
			return nil, err
		}
		part := genai.NewPartFromFunctionResponse(tr.ToolUseID, payload)
		part.FunctionResponse.ID = tr.ToolUseID
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
	}
	if text := textOf(m.Parts); text != "" {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("", genai.RoleUser))
	}
	return contents, nil
}

func toArgsMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("gemini: payload is not a JSON object: %w", err)
	}
	return m, nil
}

func textOf(parts []model.Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if tp, ok := p.(model.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

func encodeTools(defs []*model.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		decl := &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
		}
		if m, ok := def.InputSchema.(map[string]any); ok {
			decl.ParametersJsonSchema = m
		}
		decls = append(decls, decl)
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func encodeToolConfig(tc *model.ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string
	if tc != nil {
		switch tc.Mode {
		case model.ToolChoiceModeNone:
			mode = genai.FunctionCallingConfigModeNone
		case model.ToolChoiceModeAny:
			mode = genai.FunctionCallingConfigModeAny
		case model.ToolChoiceModeTool:
			mode = genai.FunctionCallingConfigModeAny
			allowed = []string{tc.Name}
		}
	}
	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 mode,
			AllowedFunctionNames: allowed,
		},
	}
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "RESOURCE_EXHAUSTED")
}

func translateResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		stop := ""
		if resp != nil && resp.PromptFeedback != nil {
			stop = string(resp.PromptFeedback.BlockReason)
		}
		return &model.Response{StopReason: stop}, nil
	}
	candidate := resp.Candidates[0]
	var content []model.Message
	var toolCalls []model.ToolCall
	if candidate.Content != nil {
		if text := collectText(candidate.Content); text != "" {
			content = append(content, model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: text}},
			})
		}
		toolCalls = collectToolCalls(candidate.Content)
	}
	stopReason := string(candidate.FinishReason)
	if stopReason == "" {
		stopReason = candidate.FinishMessage
	}
	usage := model.TokenUsage{}
	if resp.UsageMetadata != nil {
		usage = model.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return &model.Response{
		Content:    content,
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

func collectText(content *genai.Content) string {
	var sb strings.Builder
	for _, p := range content.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func collectToolCalls(content *genai.Content) []model.ToolCall {
	var calls []model.ToolCall
	for _, p := range content.Parts {
		if p == nil || p.FunctionCall == nil {
			continue
		}
		args, err := json.Marshal(p.FunctionCall.Args)
		if err != nil {
			args = []byte("{}")
		}
		calls = append(calls, model.ToolCall{
			Name:    toolident.Ident(p.FunctionCall.Name),
			Payload: decodeToolPayload(string(args)),
			ID:      p.FunctionCall.ID,
		})
	}
	return calls
}

func decodeToolPayload(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	return json.RawMessage(trimmed)
}

// geminiStreamer adapts the genai SDK's iter.Seq2[*GenerateContentResponse,
// error] stream to the model.Streamer interface via iter.Pull2, since
// Streamer.Recv() is a pull-based API while the SDK exposes a push iterator.
type geminiStreamer struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	usage model.TokenUsage
	done  bool
}

func newGeminiStreamer(seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStreamer {
	next, stop := iter.Pull2(seq)
	return &geminiStreamer{next: next, stop: stop}
}

func (s *geminiStreamer) Recv() (model.Chunk, error) {
	if s.done {
		return model.Chunk{}, io.EOF
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			usage := s.usage
			return model.Chunk{Type: model.ChunkTypeStop, UsageDelta: &usage}, nil
		}
		if err != nil {
			s.done = true
			return model.Chunk{}, err
		}
		if resp.UsageMetadata != nil {
			s.usage = model.TokenUsage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		candidate := resp.Candidates[0]
		if toolCalls := collectToolCalls(candidate.Content); len(toolCalls) > 0 {
			tc := toolCalls[0]
			return model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &tc}, nil
		}
		if text := collectText(candidate.Content); text != "" {
			return model.Chunk{
				Type:    model.ChunkTypeText,
				Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}},
			}, nil
		}
	}
}

func (s *geminiStreamer) Close() error {
	s.stop()
	return nil
}

func (s *geminiStreamer) Metadata() map[string]any { return nil }
