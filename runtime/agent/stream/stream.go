// Package stream defines the wire event types delivered to UI clients over
// the per-project broadcast feed (see broadcast.Manager). These are distinct
// from the provider-facing model.Chunk stream emitted by model.Streamer. In
// this module broadcast's UI broadcaster builds these events from finished
// spans (plus periodic pings) before handing them to a Sink; the execution
// pipeline does not produce them.
//
// All event types implement the Event interface and can be sent concurrently
// through a Sink. Implementations are responsible for marshaling events into
// their wire format (SSE, WebSocket frames, ...).
package stream

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// Sink delivers streaming updates to a client over a transport (SSE,
	// WebSocket). Implementations must be safe for concurrent use: the
	// broadcaster may fan out events to many sinks from its own goroutine
	// while a per-connection writer goroutine drains them.
	Sink interface {
		// Send publishes an event to the sink's underlying transport.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. Close is idempotent.
		Close(ctx context.Context) error
	}

	// Event describes a streaming event delivered to clients. Concrete event
	// types embed Base for the common envelope fields and carry a
	// JSON-serializable Data payload specific to their EventType.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// RunID returns the execution run that produced this event. All
		// events for a single chat completion request share a run ID.
		RunID() string
		// ProjectID returns the owning project, used to route the event to
		// the correct broadcast channel.
		ProjectID() string
		// Timestamp returns when the event was constructed, in Unix millis.
		Timestamp() int64
		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// Base implements the common Event fields. Concrete event structs embed
	// Base and set Data to their typed payload.
	Base struct {
		t   EventType
		run string
		pr  string
		ts  int64
		p   any
	}

	// RunStarted is emitted once, immediately after the router resolves a
	// model instance and before the provider call begins.
	RunStarted struct {
		Base
		Data RunStartedPayload
	}

	// RunStartedPayload carries the resolved routing decision.
	RunStartedPayload struct {
		ModelName string `json:"model_name"`
		Provider  string `json:"provider"`
		ThreadID  string `json:"thread_id,omitempty"`
	}

	// RunFinished is emitted once per run, on both success and failure.
	RunFinished struct {
		Base
		Data RunFinishedPayload
	}

	// RunFinishedPayload carries the terminal outcome of a run.
	RunFinishedPayload struct {
		Status       string  `json:"status"` // "ok", "error", "cancelled"
		Error        string  `json:"error,omitempty"`
		DurationMS   int64   `json:"duration_ms"`
		PromptTokens int     `json:"prompt_tokens,omitempty"`
		OutputTokens int     `json:"output_tokens,omitempty"`
		CostUSD      float64 `json:"cost_usd,omitempty"`
	}

	// LlmStart mirrors model.EventLlmStart: the provider accepted the
	// request and begins producing output.
	LlmStart struct {
		Base
		Data LlmStartPayload
	}

	// LlmStartPayload carries the request shape handed to the provider.
	LlmStartPayload struct {
		Model      string `json:"model"`
		MessageLen int    `json:"message_len"`
	}

	// LlmFirstToken marks time-to-first-token for the run.
	LlmFirstToken struct {
		Base
		Data LlmFirstTokenPayload
	}

	// LlmFirstTokenPayload carries the TTFT measurement.
	LlmFirstTokenPayload struct {
		TTFTMS int64 `json:"ttft_ms"`
	}

	// LlmContent streams an incremental content fragment.
	LlmContent struct {
		Base
		Data LlmContentPayload
	}

	// LlmContentPayload carries a text delta.
	LlmContentPayload struct {
		Delta string `json:"delta"`
	}

	// LlmStop marks normal completion of model output for the run.
	LlmStop struct {
		Base
		Data LlmStopPayload
	}

	// LlmStopPayload carries the finish reason and usage totals.
	LlmStopPayload struct {
		FinishReason string `json:"finish_reason"`
		PromptTokens int    `json:"prompt_tokens"`
		OutputTokens int    `json:"output_tokens"`
		IsCacheUsed  bool   `json:"is_cache_used,omitempty"`
	}

	// ToolStart is emitted when the model requests a tool call.
	ToolStart struct {
		Base
		Data ToolStartPayload
	}

	// ToolStartPayload carries the pending tool invocation.
	ToolStartPayload struct {
		ToolCallID string          `json:"tool_call_id"`
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments,omitempty"`
	}

	// ToolResult is emitted when a tool call result is appended to the
	// transcript and sent back to the provider.
	ToolResult struct {
		Base
		Data ToolResultPayload
	}

	// ToolResultPayload carries the tool call outcome.
	ToolResultPayload struct {
		ToolCallID string `json:"tool_call_id"`
		IsError    bool   `json:"is_error"`
		Content    string `json:"content,omitempty"`
	}

	// ImageGenerationFinish is emitted when an image-generation request
	// completes.
	ImageGenerationFinish struct {
		Base
		Data ImageGenerationFinishPayload
	}

	// ImageGenerationFinishPayload carries the generated image references.
	ImageGenerationFinishPayload struct {
		ImageCount int      `json:"image_count"`
		URLs       []string `json:"urls,omitempty"`
	}

	// Custom carries an application-defined payload injected directly into
	// the run's event stream (see the custom event injection API in §6).
	Custom struct {
		Base
		Data json.RawMessage
	}

	// AgentFinished is forwarded by the UI broadcaster when a finished Span's
	// operation_name is "agent".
	AgentFinished struct {
		Base
		Data SpanFinishedPayload
	}

	// TaskFinished is forwarded by the UI broadcaster when a finished Span's
	// operation_name is "task".
	TaskFinished struct {
		Base
		Data SpanFinishedPayload
	}

	// SpanEnd is forwarded by the UI broadcaster for any finished Span whose
	// operation_name is none of "run", "agent", "task".
	SpanEnd struct {
		Base
		Data SpanEndPayload
	}

	// SpanFinishedPayload mirrors the subset of Span fields a run/agent/task
	// lifecycle event surfaces to a UI client.
	SpanFinishedPayload struct {
		StartTimeUS   int64          `json:"start_time_us"`
		FinishTimeUS  int64          `json:"finish_time_us"`
		Attributes    map[string]any `json:"attributes,omitempty"`
		OperationName string         `json:"operation_name"`
	}

	// SpanEndPayload carries a generic span's timing and attributes.
	SpanEndPayload struct {
		Start      int64          `json:"start"`
		End        int64          `json:"end"`
		Attributes map[string]any `json:"attributes,omitempty"`
	}

	// Ping keeps a client's connection alive; emitted every 5 seconds by the
	// UI broadcaster's pinger task.
	Ping struct {
		Base
	}

	// EventType enumerates stream payload flavors.
	EventType string
)

const (
	EventRunStarted            EventType = "run_started"
	EventRunFinished           EventType = "run_finished"
	EventLlmStart              EventType = "llm_start"
	EventLlmFirstToken         EventType = "llm_first_token"
	EventLlmContent            EventType = "llm_content"
	EventLlmStop               EventType = "llm_stop"
	EventToolStart             EventType = "tool_start"
	EventToolResult            EventType = "tool_result"
	EventImageGenerationFinish EventType = "image_generation_finish"
	EventCustom                EventType = "custom"
	EventAgentFinished         EventType = "agent_finished"
	EventTaskFinished          EventType = "task_finished"
	EventSpanEnd               EventType = "span_end"
	EventPing                  EventType = "ping"
)

// NewBase constructs a Base event envelope with the current time.
func NewBase(t EventType, runID, projectID string, payload any) Base {
	return Base{t: t, run: runID, pr: projectID, ts: time.Now().UnixMilli(), p: payload}
}

func (e Base) Type() EventType     { return e.t }
func (e Base) RunID() string       { return e.run }
func (e Base) ProjectID() string   { return e.pr }
func (e Base) Timestamp() int64    { return e.ts }
func (e Base) Payload() any        { return e.p }

// NewRunStarted constructs a RunStarted event.
func NewRunStarted(runID, projectID string, data RunStartedPayload) *RunStarted {
	return &RunStarted{Base: NewBase(EventRunStarted, runID, projectID, data), Data: data}
}

// NewRunFinished constructs a RunFinished event.
func NewRunFinished(runID, projectID string, data RunFinishedPayload) *RunFinished {
	return &RunFinished{Base: NewBase(EventRunFinished, runID, projectID, data), Data: data}
}

// NewLlmStart constructs an LlmStart event.
func NewLlmStart(runID, projectID string, data LlmStartPayload) *LlmStart {
	return &LlmStart{Base: NewBase(EventLlmStart, runID, projectID, data), Data: data}
}

// NewLlmFirstToken constructs an LlmFirstToken event.
func NewLlmFirstToken(runID, projectID string, data LlmFirstTokenPayload) *LlmFirstToken {
	return &LlmFirstToken{Base: NewBase(EventLlmFirstToken, runID, projectID, data), Data: data}
}

// NewLlmContent constructs an LlmContent event.
func NewLlmContent(runID, projectID string, data LlmContentPayload) *LlmContent {
	return &LlmContent{Base: NewBase(EventLlmContent, runID, projectID, data), Data: data}
}

// NewLlmStop constructs an LlmStop event.
func NewLlmStop(runID, projectID string, data LlmStopPayload) *LlmStop {
	return &LlmStop{Base: NewBase(EventLlmStop, runID, projectID, data), Data: data}
}

// NewToolStart constructs a ToolStart event.
func NewToolStart(runID, projectID string, data ToolStartPayload) *ToolStart {
	return &ToolStart{Base: NewBase(EventToolStart, runID, projectID, data), Data: data}
}

// NewToolResult constructs a ToolResult event.
func NewToolResult(runID, projectID string, data ToolResultPayload) *ToolResult {
	return &ToolResult{Base: NewBase(EventToolResult, runID, projectID, data), Data: data}
}

// NewImageGenerationFinish constructs an ImageGenerationFinish event.
func NewImageGenerationFinish(runID, projectID string, data ImageGenerationFinishPayload) *ImageGenerationFinish {
	return &ImageGenerationFinish{Base: NewBase(EventImageGenerationFinish, runID, projectID, data), Data: data}
}

// NewCustom constructs a Custom event from an arbitrary JSON payload injected
// through the custom event API.
func NewCustom(runID, projectID string, data json.RawMessage) *Custom {
	return &Custom{Base: NewBase(EventCustom, runID, projectID, data), Data: data}
}

// NewAgentFinished constructs an AgentFinished event.
func NewAgentFinished(runID, projectID string, data SpanFinishedPayload) *AgentFinished {
	return &AgentFinished{Base: NewBase(EventAgentFinished, runID, projectID, data), Data: data}
}

// NewTaskFinished constructs a TaskFinished event.
func NewTaskFinished(runID, projectID string, data SpanFinishedPayload) *TaskFinished {
	return &TaskFinished{Base: NewBase(EventTaskFinished, runID, projectID, data), Data: data}
}

// NewSpanEnd constructs a SpanEnd event.
func NewSpanEnd(runID, projectID string, data SpanEndPayload) *SpanEnd {
	return &SpanEnd{Base: NewBase(EventSpanEnd, runID, projectID, data), Data: data}
}

// NewPing constructs a Ping event for the given project's keepalive stream.
func NewPing(runID, projectID string) *Ping {
	return &Ping{Base: NewBase(EventPing, runID, projectID, struct{}{})}
}
