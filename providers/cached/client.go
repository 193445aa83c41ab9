// Package cached implements the CachedModel provider client (spec §4.2):
// bound by the Execution Pipeline in place of the real provider on a
// Response Cache hit, it replays the stored event sequence, marking the
// hit with a non-zero CacheReadTokens in the stop chunk's usage (which
// costcalc reports as IsCacheUsed), and returns the stored final message
// unchanged. Grounded on the model.Client/
// model.Streamer shape every real provider client (providers/anthropic,
// providers/bedrock, providers/openai) already implements, so the
// execution pipeline's recorder path does not special-case a cache hit.
package cached

import (
	"context"
	"encoding/json"
	"io"

	"github.com/vllora/gateway/cache"
	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/stream"
)

// Client replays one cache.Entry as a model.Client invocation.
type Client struct {
	entry *cache.Entry
}

// New constructs a Client bound to entry. Callers resolve a Client for
// exactly one cache hit; it is not reused across requests.
func New(entry *cache.Entry) *Client {
	return &Client{entry: entry}
}

// Complete replays the stored entry as a single non-streaming Response.
func (c *Client) Complete(context.Context, *model.Request) (*model.Response, error) {
	msg := c.entry.Response.Message
	return &model.Response{
		Content:    []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: msg.Content}}}},
		StopReason: string(c.entry.Response.FinishReason),
	}, nil
}

// Stream replays the stored event sequence as a Streamer. When the entry
// carries no recorded events (a write-through that only stored the final
// Response), it synthesizes an equivalent two-chunk stream from the
// Response alone.
func (c *Client) Stream(context.Context, *model.Request) (model.Streamer, error) {
	if len(c.entry.Events) > 0 {
		return newEventReplayStreamer(c.entry.Events)
	}
	return newResponseReplayStreamer(c.entry.Response), nil
}

type responseReplayStreamer struct {
	chunks []model.Chunk
	i      int
}

func newResponseReplayStreamer(resp model.ChatCompletionMessageWithFinishReason) *responseReplayStreamer {
	chunks := []model.Chunk{
		{
			Type:    model.ChunkTypeText,
			Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: resp.Message.Content}}},
		},
		{
			Type:       model.ChunkTypeStop,
			StopReason: string(resp.FinishReason),
			UsageDelta: &model.TokenUsage{CacheReadTokens: 1},
		},
	}
	return &responseReplayStreamer{chunks: chunks}
}

func (s *responseReplayStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *responseReplayStreamer) Close() error             { return nil }
func (s *responseReplayStreamer) Metadata() map[string]any { return map[string]any{"cache_replay": true} }

// eventReplayStreamer decodes the stored stream.RawEvent sequence back
// into model.Chunks, preserving ordering and setting CacheReadTokens to
// the recorded prompt plus output tokens on each stop chunk (spec §4.2).
type eventReplayStreamer struct {
	events []*stream.RawEvent
	i      int
}

func newEventReplayStreamer(raw [][]byte) (*eventReplayStreamer, error) {
	events := make([]*stream.RawEvent, 0, len(raw))
	for _, b := range raw {
		ev, err := stream.UnmarshalEvent(b)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return &eventReplayStreamer{events: events}, nil
}

func (s *eventReplayStreamer) Recv() (model.Chunk, error) {
	for {
		if s.i >= len(s.events) {
			return model.Chunk{}, io.EOF
		}
		ev := s.events[s.i]
		s.i++

		switch ev.Type() {
		case stream.EventLlmContent:
			var payload stream.LlmContentPayload
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return model.Chunk{}, err
			}
			return model.Chunk{
				Type:    model.ChunkTypeText,
				Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: payload.Delta}}},
			}, nil
		case stream.EventLlmStop:
			var payload stream.LlmStopPayload
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return model.Chunk{}, err
			}
			return model.Chunk{
				Type:       model.ChunkTypeStop,
				StopReason: payload.FinishReason,
				UsageDelta: &model.TokenUsage{
					InputTokens:     payload.PromptTokens,
					OutputTokens:    payload.OutputTokens,
					CacheReadTokens: payload.PromptTokens + payload.OutputTokens,
				},
			}, nil
		default:
			// LlmStart/LlmFirstToken/ToolStart and any other recorded
			// event carries no content the pipeline's drain loop needs;
			// skip to the next event.
			continue
		}
	}
}

func (s *eventReplayStreamer) Close() error { return nil }
func (s *eventReplayStreamer) Metadata() map[string]any {
	return map[string]any{"cache_replay": true}
}
