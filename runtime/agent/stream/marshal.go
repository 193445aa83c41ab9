package stream

import "encoding/json"

// wireEvent is the JSON envelope for any Event, used both for SSE framing
// and for the Response Cache's stored event sequence (spec §2).
type wireEvent struct {
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	ProjectID string          `json:"project_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalEvent encodes any Event into its wire JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		Type:      e.Type(),
		RunID:     e.RunID(),
		ProjectID: e.ProjectID(),
		Timestamp: e.Timestamp(),
		Data:      data,
	})
}

// RawEvent is a decoded wire envelope whose Data has not been unmarshaled
// into a typed payload. It implements Event so it can flow through a Sink
// unchanged (used when replaying stored/cached events).
type RawEvent struct {
	Base
	Data json.RawMessage
}

// UnmarshalEvent decodes a wire JSON envelope into a RawEvent.
func UnmarshalEvent(raw []byte) (*RawEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &RawEvent{
		Base: Base{t: w.Type, run: w.RunID, pr: w.ProjectID, ts: w.Timestamp, p: w.Data},
		Data: w.Data,
	}, nil
}
