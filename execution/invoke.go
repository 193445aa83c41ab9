package execution

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/vllora/gateway/costcalc"
	"github.com/vllora/gateway/credentials"
	"github.com/vllora/gateway/errkind"
	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/span"
)

// invokeWithRetry resolves a provider client and drains its stream,
// retrying transient failures up to maxRetries times (spec §4.3). Both
// Invoke and Stream funnel through here so ttft/usage/cost recording is
// written exactly once: a unary call is a streamed call whose chunks are
// buffered instead of forwarded (spec §4.2: "unary providers still emit
// LlmFirstToken immediately before LlmStop").
func (p *Pipeline) invokeWithRetry(
	ctx context.Context,
	md *boundModel,
	cred *credentials.Resolution,
	req *model.ChatCompletionRequest,
	runID string,
	handle *span.Handle,
	accum *costcalc.Accumulator,
	maxRetries int,
	send func(model.Chunk) error,
) (*model.ChatCompletionMessageWithFinishReason, error) {
	client, err := p.providers.Resolve(ctx, md.Model, cred)
	if err != nil {
		return nil, newPipelineError(errkind.ProviderTerminal, "resolve provider client", err)
	}

	mreq, err := toModelRequest(req, req.Messages, runID)
	if err != nil {
		return nil, newPipelineError(errkind.Validation, "translate request", err)
	}

	retriesLeft := maxRetries
	var lastErr error
	for attempt := 0; ; attempt++ {
		handle.RecordRetriesLeft(retriesLeft)
		result, ttft, usage, err := p.invokeOnce(ctx, client, mreq, send)
		if err == nil {
			accum.Add(costcalc.Calculate(md.Model, usage))
			handle.RecordUsage(usage)
			handle.RecordCost(accum.Total().Cost)
			if ttft > 0 {
				handle.RecordTTFT(float64(ttft.Microseconds()) / 1000)
			}
			return result, nil
		}

		lastErr = err
		handle.RecordError(err)
		if retriesLeft <= 0 || !isRetryable(err) {
			break
		}
		retriesLeft--
	}
	if !isRetryable(lastErr) {
		return nil, newPipelineError(errkind.Of(lastErr), "provider invocation failed", lastErr)
	}
	return nil, newPipelineError(errkind.ProviderTransient, "provider invocation exhausted retries", lastErr)
}

// invokeOnce performs one provider attempt, draining the stream to
// completion. It always uses Stream so the recorder path is unified; a
// provider whose Streamer immediately closes after one chunk (a
// Complete-backed adapter) behaves identically to a truly streaming one.
func (p *Pipeline) invokeOnce(ctx context.Context, client model.Client, req *model.Request, send func(model.Chunk) error) (*model.ChatCompletionMessageWithFinishReason, time.Duration, model.TokenUsage, error) {
	start := time.Now()
	streamer, err := client.Stream(ctx, req)
	if errors.Is(err, model.ErrStreamingUnsupported) {
		return p.invokeUnary(ctx, client, req, start)
	}
	if err != nil {
		return nil, 0, model.TokenUsage{}, err
	}
	defer streamer.Close()

	var (
		text      string
		toolCalls []model.ToolCall
		usage     model.TokenUsage
		stopReason string
		ttft      time.Duration
		gotFirst  bool
	)
	for {
		chunk, err := streamer.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, usage, err
		}
		if !gotFirst && (chunk.Type == model.ChunkTypeText || chunk.Type == model.ChunkTypeToolCall) {
			ttft = time.Since(start)
			gotFirst = true
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			if chunk.Message != nil {
				for _, part := range chunk.Message.Parts {
					if tp, ok := part.(model.TextPart); ok {
						text += tp.Text
					}
				}
			}
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				usage = addUsage(usage, *chunk.UsageDelta)
			}
		case model.ChunkTypeStop:
			stopReason = chunk.StopReason
			if chunk.UsageDelta != nil {
				usage = addUsage(usage, *chunk.UsageDelta)
			}
		}
		if send != nil {
			if err := send(chunk); err != nil {
				return nil, 0, usage, err
			}
		}
	}

	resp := &model.Response{
		Content:    []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}},
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: stopReason,
	}
	final := fromModelResponse(resp)
	return &final, ttft, usage, nil
}

// invokeUnary falls back to Complete for clients that do not implement
// streaming (model.ErrStreamingUnsupported), still synthesizing a ttft
// recorded at the point the full response becomes available (spec
// §4.2's unary contract).
func (p *Pipeline) invokeUnary(ctx context.Context, client model.Client, req *model.Request, start time.Time) (*model.ChatCompletionMessageWithFinishReason, time.Duration, model.TokenUsage, error) {
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, 0, model.TokenUsage{}, err
	}
	ttft := time.Since(start)
	final := fromModelResponse(resp)
	return &final, ttft, resp.Usage, nil
}

func addUsage(a, b model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.InputTokens + b.InputTokens,
		OutputTokens:     a.OutputTokens + b.OutputTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		CacheWriteTokens: a.CacheWriteTokens + b.CacheWriteTokens,
	}
}

// isRetryable classifies an error as worth a retry attempt (spec §4.3:
// rate limits and other provider-transient failures; never a guard
// failure or a validation error).
func isRetryable(err error) bool {
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var classified errkind.Classified
	if errors.As(err, &classified) {
		return classified.Kind() == errkind.ProviderTransient
	}
	return false
}
