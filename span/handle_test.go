package span

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/runtime/agent/telemetry"
)

func TestStartInjectsBaggage(t *testing.T) {
	tracer := telemetry.NewNoopTracer()
	ctx, h := Start(context.Background(), tracer, OpModelCall, map[string]string{
		BaggageProjectID: "proj-1",
		BaggageRunID:     "run-1",
	})
	require.Equal(t, OpModelCall, h.OperationName())
	require.NotNil(t, ctx)
}

func TestHandleRecordAndEndDoesNotPanic(t *testing.T) {
	tracer := telemetry.NewNoopTracer()
	_, h := Start(context.Background(), tracer, OpModelCall, nil)

	h.RecordInput(map[string]any{"model": "gpt-4o-mini"})
	h.RecordModel(map[string]any{"name": "gpt-4o-mini"})
	h.RecordOutput(map[string]any{"content": "hi"})
	h.RecordUsage(map[string]any{"input_tokens": 10})
	h.RecordCost(0.002)
	h.RecordTTFT(123.4)
	h.RecordCache("MISS")
	h.RecordRetriesLeft(2)
	h.Tag("label", "test")
	h.RecordError(errors.New("boom"))
	h.End(nil)
}

func TestHandleEndWithError(t *testing.T) {
	tracer := telemetry.NewNoopTracer()
	_, h := Start(context.Background(), tracer, OpModelCall, nil)
	h.End(errors.New("terminal"))
}
