package cached

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/cache"
	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/stream"
)

func TestComplete_ReplaysStoredResponse(t *testing.T) {
	entry := &cache.Entry{
		Response: model.ChatCompletionMessageWithFinishReason{
			Message:      model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "cached answer"},
			FinishReason: model.FinishReasonStop,
		},
	}
	c := New(entry)

	resp, err := c.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "cached answer", resp.Content[0].Parts[0].(model.TextPart).Text)
	require.Equal(t, "stop", resp.StopReason)
}

func TestStream_SynthesizesFromResponseWhenNoEvents(t *testing.T) {
	entry := &cache.Entry{
		Response: model.ChatCompletionMessageWithFinishReason{
			Message:      model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "hello"},
			FinishReason: model.FinishReasonStop,
		},
	}
	c := New(entry)

	streamer, err := c.Stream(context.Background(), &model.Request{})
	require.NoError(t, err)
	defer streamer.Close()

	var chunks []model.Chunk
	for {
		chunk, err := streamer.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 2)
	require.Equal(t, model.ChunkTypeText, chunks[0].Type)
	require.Equal(t, "hello", chunks[0].Message.Parts[0].(model.TextPart).Text)
	require.Equal(t, model.ChunkTypeStop, chunks[1].Type)
	require.Equal(t, "stop", chunks[1].StopReason)
	require.Equal(t, 1, chunks[1].UsageDelta.CacheReadTokens)

	require.Equal(t, map[string]any{"cache_replay": true}, streamer.Metadata())
}

func TestStream_ReplaysRecordedEventSequence(t *testing.T) {
	contentEvent, err := stream.MarshalEvent(stream.NewLlmContent("run-1", "proj-1", stream.LlmContentPayload{Delta: "Hi there"}))
	require.NoError(t, err)
	stopEvent, err := stream.MarshalEvent(stream.NewLlmStop("run-1", "proj-1", stream.LlmStopPayload{
		FinishReason: "stop",
		PromptTokens: 10,
		OutputTokens: 3,
	}))
	require.NoError(t, err)
	startEvent, err := stream.MarshalEvent(stream.NewLlmFirstToken("run-1", "proj-1", stream.LlmFirstTokenPayload{TTFTMS: 42}))
	require.NoError(t, err)

	entry := &cache.Entry{Events: [][]byte{startEvent, contentEvent, stopEvent}}
	c := New(entry)

	streamer, err := c.Stream(context.Background(), &model.Request{})
	require.NoError(t, err)
	defer streamer.Close()

	var chunks []model.Chunk
	for {
		chunk, err := streamer.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	// The first-token event carries no content the replay needs and is skipped.
	require.Len(t, chunks, 2)
	require.Equal(t, model.ChunkTypeText, chunks[0].Type)
	require.Equal(t, "Hi there", chunks[0].Message.Parts[0].(model.TextPart).Text)
	require.Equal(t, model.ChunkTypeStop, chunks[1].Type)
	require.Equal(t, "stop", chunks[1].StopReason)
	require.Equal(t, 10, chunks[1].UsageDelta.InputTokens)
	require.Equal(t, 3, chunks[1].UsageDelta.OutputTokens)
	require.Equal(t, 13, chunks[1].UsageDelta.CacheReadTokens)
}

func TestStream_RejectsMalformedEvent(t *testing.T) {
	entry := &cache.Entry{Events: [][]byte{[]byte("not json")}}
	c := New(entry)

	_, err := c.Stream(context.Background(), &model.Request{})
	require.Error(t, err)
}
