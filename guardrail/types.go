// Package guardrail implements the Guardrail Engine: it evaluates named
// guards at the input or output stage, with action validate (block on
// fail) or observe (record only) (spec §4.6).
package guardrail

import "encoding/json"

// Stage is when a guard runs relative to the provider call.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

// Action controls whether a failed guard blocks the request.
type Action string

const (
	ActionValidate Action = "validate" // block on fail
	ActionObserve  Action = "observe"  // record only
)

// Kind discriminates the six guard evaluator variants.
type Kind string

const (
	KindSchema   Kind = "schema"
	KindLlmJudge Kind = "llm_judge"
	KindDataset  Kind = "dataset"
	KindRegex    Kind = "regex"
	KindWordCount Kind = "word_count"
	KindPartner  Kind = "partner"
)

// Guard is a project-declared guard instance: a kind bound to a template's
// parameter schema, with runtime parameters merged over guard-config
// parameters merged over template defaults (spec §4.6).
type Guard struct {
	ID         string
	Stage      Stage
	Action     Action
	Kind       Kind
	TemplateID string
	Parameters map[string]any
}

// MergeParameters merges runtime-provided params over guard-config params
// over template defaults, per spec §4.6's precedence order.
func MergeParameters(templateDefaults, guardConfig, runtime map[string]any) map[string]any {
	out := make(map[string]any, len(templateDefaults)+len(guardConfig)+len(runtime))
	for k, v := range templateDefaults {
		out[k] = v
	}
	for k, v := range guardConfig {
		out[k] = v
	}
	for k, v := range runtime {
		out[k] = v
	}
	return out
}

// Result is the sum type GuardResult (spec §3.1): exactly one of Boolean,
// Text, or Json is populated, selected by Kind.
type Result struct {
	Kind   ResultKind
	Boolean *BooleanResult
	Text    *TextResult
	Json    *JSONResult
}

// ResultKind discriminates the Result union.
type ResultKind string

const (
	ResultKindBoolean ResultKind = "boolean"
	ResultKindText    ResultKind = "text"
	ResultKindJSON    ResultKind = "json"
)

// BooleanResult is a pass/fail guard outcome with optional confidence.
type BooleanResult struct {
	Passed     bool
	Confidence *float64
}

// TextResult carries guard-generated text (e.g. an LlmJudge explanation)
// alongside a pass/fail verdict.
type TextResult struct {
	Text       string
	Passed     bool
	Confidence *float64
}

// JSONResult carries a schema-kind guard's structured outcome.
type JSONResult struct {
	Schema json.RawMessage
	Passed bool
}

// Passed reports the pass/fail verdict regardless of which Result variant
// is populated.
func (r Result) Passed() bool {
	switch r.Kind {
	case ResultKindBoolean:
		return r.Boolean != nil && r.Boolean.Passed
	case ResultKindText:
		return r.Text != nil && r.Text.Passed
	case ResultKindJSON:
		return r.Json != nil && r.Json.Passed
	default:
		return false
	}
}

func boolResult(passed bool) Result {
	return Result{Kind: ResultKindBoolean, Boolean: &BooleanResult{Passed: passed}}
}
