// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates gateway requests into
// ChatCompletionNewParams calls using github.com/openai/openai-go and maps
// responses (text, tool calls, usage) back into the generic planner
// structures, mirroring the request/response shaping already established by
// providers/anthropic and providers/bedrock.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/toolident"
)

type (
	// CompletionsClient captures the subset of the OpenAI SDK client used by
	// the adapter. It is satisfied by *oai.ChatCompletionService so callers
	// can pass either a real client or a mock in tests.
	CompletionsClient interface {
		New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
		NewStreaming(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk]
	}

	// Options configures the OpenAI adapter. It also covers
	// OpenAI-compatible proxies (TogetherAI, Groq, local gateways) that speak
	// the Chat Completions wire format, when the proxy's base URL is passed
	// to NewFromAPIKey or NewFromAPIKeyWithOptions.
	Options struct {
		Client       CompletionsClient
		DefaultModel string
		HighModel    string
		SmallModel   string
		MaxTokens    int
		Temperature  float64
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat         CompletionsClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTok       int
		temp         float64
	}
)

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{
		chat:         opts.Client,
		defaultModel: modelID,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client and
// only a default model identifier. baseURL is optional and lets callers
// target an OpenAI-compatible proxy (TogetherAI, Groq, ...) instead of the
// public API.
func NewFromAPIKey(apiKey, baseURL, defaultModel string) (*Client, error) {
	return NewFromAPIKeyWithOptions(apiKey, baseURL, Options{DefaultModel: defaultModel})
}

// NewFromAPIKeyWithOptions is NewFromAPIKey plus the full Options set
// (high/small model ids, max tokens, temperature), so a deployment's
// per-provider ModelDefaults config reaches the client instead of only its
// Default model id. opts.Client is overwritten with a client built from
// apiKey/baseURL.
func NewFromAPIKeyWithOptions(apiKey, baseURL string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	sdkClient := oai.NewClient(reqOpts...)
	opts.Client = &sdkClient.Chat.Completions
	return New(opts)
}

// Complete issues a non-streaming chat completion and translates the
// response into planner-friendly structures (assistant messages + tool calls).
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completions.new: %w", err)
	}
	return translateResponse(resp)
}

// Stream invokes Chat Completions streaming and adapts incremental chunks
// into model.Chunks so planners can surface partial responses.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	raw := c.chat.NewStreaming(ctx, *params)
	if err := raw.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat completions.new streaming: %w", err)
	}
	return newOpenAIStreamer(ctx, raw), nil
}

func (c *Client) prepareRequest(req *model.Request) (*oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := c.resolveModelID(req)
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if t := c.effectiveTemperature(float64(req.Temperature)); t > 0 {
		params.Temperature = oai.Float(t)
	}
	if maxTokens := c.effectiveMaxTokens(req.MaxTokens); maxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(maxTokens))
	}
	if req.ToolChoice != nil {
		params.ToolChoice = encodeToolChoice(req.ToolChoice)
	}
	return &params, nil
}

// resolveModelID decides which concrete model ID to use based on
// Request.Model and Request.ModelClass, falling back to the configured
// default model.
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

func encodeMessages(msgs []*model.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.ConversationRoleSystem:
			if text := textOf(m.Parts); text != "" {
				out = append(out, oai.SystemMessage(text))
			}
		case model.ConversationRoleAssistant:
			msg, err := encodeAssistantMessage(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		default:
			toolResults, text, err := encodeUserParts(m.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, toolResults...)
			if text != "" || len(toolResults) == 0 {
				out = append(out, oai.UserMessage(text))
			}
		}
	}
	return out, nil
}

func encodeAssistantMessage(m *model.Message) (oai.ChatCompletionMessageParamUnion, error) {
	asst := oai.ChatCompletionAssistantMessageParam{}
	if text := textOf(m.Parts); text != "" {
		asst.Content.OfString = oai.String(text)
	}
	for _, p := range m.Parts {
		tu, ok := p.(model.ToolUsePart)
		if !ok {
			continue
		}
		args, err := json.Marshal(tu.Input)
		if err != nil {
			return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: marshal tool_use input: %w", err)
		}
		asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: tu.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tu.Name,
				Arguments: string(args),
			},
		})
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
}

// encodeUserParts splits a user-role message into its tool-result messages
// (OpenAI requires one "tool" role message per tool_call_id) and the
// remaining plain text.
func encodeUserParts(parts []model.Part) ([]oai.ChatCompletionMessageParamUnion, string, error) {
	var toolResults []oai.ChatCompletionMessageParamUnion
	for _, p := range parts {
		tr, ok := p.(model.ToolResultPart)
		if !ok {
			continue
		}
		content, err := toolResultContent(tr.Content)
		if err != nil {
			return nil, "", err
		}
		toolResults = append(toolResults, oai.ToolMessage(content, tr.ToolUseID))
	}
	return toolResults, textOf(parts), nil
}

func toolResultContent(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("openai: marshal tool_result content: %w", err)
		}
		return string(b), nil
	}
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

func encodeTools(defs []*model.ToolDefinition) []oai.ChatCompletionToolParam {
	tools := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		tools = append(tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: oai.String(def.Description),
				Parameters:  toFunctionParameters(def.InputSchema),
			},
		})
	}
	return tools
}

func toFunctionParameters(schema any) shared.FunctionParameters {
	if m, ok := schema.(map[string]any); ok {
		return shared.FunctionParameters(m)
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return shared.FunctionParameters{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return shared.FunctionParameters{}
	}
	return shared.FunctionParameters(m)
}

func encodeToolChoice(tc *model.ToolChoice) oai.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Mode {
	case model.ToolChoiceModeNone:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("none")}
	case model.ToolChoiceModeAny:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("required")}
	case model.ToolChoiceModeTool:
		return oai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
				Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			},
		}
	default:
		return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("auto")}
	}
}

// isRateLimited reports whether err represents a 429 Too Many Requests
// response from the OpenAI API (or an OpenAI-compatible proxy).
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return errors.Is(err, model.ErrRateLimited)
}

func translateResponse(resp *oai.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return &model.Response{}, nil
	}
	choice := resp.Choices[0]
	var content []model.Message
	if choice.Message.Content != "" {
		content = append(content, model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: choice.Message.Content}},
		})
	}
	toolCalls := make([]model.ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, model.ToolCall{
			Name:    toolident.Ident(tc.Function.Name),
			Payload: decodeToolPayload(tc.Function.Arguments),
			ID:      tc.ID,
		})
	}
	return &model.Response{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(choice.FinishReason),
	}, nil
}

func decodeToolPayload(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	return json.RawMessage(trimmed)
}

// openaiStreamer adapts an OpenAI Chat Completions streaming response to the
// model.Streamer interface, accumulating tool-call argument fragments by
// index the way the Chat Completions streaming wire format requires.
type openaiStreamer struct {
	ctx context.Context
	raw *ssestream.Stream[oai.ChatCompletionChunk]

	toolOrder []int64
	toolAccum map[int64]*toolCallAccum
	usage     model.TokenUsage
	finish    string

	pending []model.Chunk
	done    bool

	mu sync.Mutex
}

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

func newOpenAIStreamer(ctx context.Context, raw *ssestream.Stream[oai.ChatCompletionChunk]) model.Streamer {
	return &openaiStreamer{
		ctx:       ctx,
		raw:       raw,
		toolAccum: make(map[int64]*toolCallAccum),
	}
}

func (s *openaiStreamer) Recv() (model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		return c, nil
	}
	if s.done {
		return model.Chunk{}, io.EOF
	}

	for s.raw.Next() {
		select {
		case <-s.ctx.Done():
			return model.Chunk{}, s.ctx.Err()
		default:
		}

		chunk := s.raw.Current()
		if chunk.Usage.TotalTokens > 0 {
			s.usage = model.TokenUsage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			s.finish = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			return model.Chunk{
				Type:    model.ChunkTypeText,
				Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: choice.Delta.Content}}},
			}, nil
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := s.toolAccum[tc.Index]
			if !ok {
				acc = &toolCallAccum{}
				s.toolAccum[tc.Index] = acc
				s.toolOrder = append(s.toolOrder, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
			return model.Chunk{
				Type: model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{
					Name:  toolident.Ident(acc.name),
					ID:    acc.id,
					Delta: tc.Function.Arguments,
				},
			}, nil
		}
	}
	if err := s.raw.Err(); err != nil {
		return model.Chunk{}, err
	}

	for _, idx := range s.toolOrder {
		acc := s.toolAccum[idx]
		s.pending = append(s.pending, model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				Name:    toolident.Ident(acc.name),
				Payload: decodeToolPayload(acc.args.String()),
				ID:      acc.id,
			},
		})
	}
	usage := s.usage
	s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeStop, StopReason: s.finish, UsageDelta: &usage})
	s.done = true

	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *openaiStreamer) Close() error {
	return s.raw.Close()
}

func (s *openaiStreamer) Metadata() map[string]any {
	return nil
}
