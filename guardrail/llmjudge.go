package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
)

// Judge runs a secondary model invocation and returns its raw JSON reply.
// No package in this module implements it; an LlmJudgeEvaluator works
// only with a Judge supplied by its caller.
type Judge interface {
	Judge(ctx context.Context, systemPrompt, parameters string, text string) (json.RawMessage, error)
}

// LlmJudgeEvaluator interprets a judge model's structured JSON reply into
// a GuardResult. Recognized reply shapes (spec §4.6):
//
//	{passed, confidence?, details?}
//	{toxic, confidence?}                          (toxicity)
//	{mentions_competitor, competitors_found[]}     (competitors)
//	{contains_pii, pii_types[]}                    (PII)
type LlmJudgeEvaluator struct {
	Judge Judge
}

// Evaluate implements Evaluator.
func (j LlmJudgeEvaluator) Evaluate(ctx context.Context, guard Guard, in Input) (Result, error) {
	if j.Judge == nil {
		return Result{}, fmt.Errorf("guardrail: llm_judge guard %q has no Judge configured", guard.ID)
	}
	systemPrompt, _ := guard.Parameters["system_prompt"].(string)
	paramsJSON, err := json.Marshal(guard.Parameters)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: marshaling judge parameters: %w", err)
	}

	raw, err := j.Judge.Judge(ctx, systemPrompt, string(paramsJSON), in.Text)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: judge invocation failed: %w", err)
	}

	return interpretJudgeReply(raw)
}

func interpretJudgeReply(raw json.RawMessage) (Result, error) {
	var generic struct {
		Passed              *bool     `json:"passed"`
		Confidence          *float64  `json:"confidence"`
		Details             string    `json:"details"`
		Toxic               *bool     `json:"toxic"`
		MentionsCompetitor  *bool     `json:"mentions_competitor"`
		CompetitorsFound    []string  `json:"competitors_found"`
		ContainsPII         *bool     `json:"contains_pii"`
		PIITypes            []string  `json:"pii_types"`
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Result{}, fmt.Errorf("guardrail: parsing judge reply: %w", err)
	}

	switch {
	case generic.Passed != nil:
		return Result{Kind: ResultKindText, Text: &TextResult{Text: generic.Details, Passed: *generic.Passed, Confidence: generic.Confidence}}, nil
	case generic.Toxic != nil:
		return Result{Kind: ResultKindBoolean, Boolean: &BooleanResult{Passed: !*generic.Toxic, Confidence: generic.Confidence}}, nil
	case generic.MentionsCompetitor != nil:
		return boolResult(!*generic.MentionsCompetitor), nil
	case generic.ContainsPII != nil:
		return boolResult(!*generic.ContainsPII), nil
	default:
		return Result{}, fmt.Errorf("guardrail: unrecognized judge reply shape: %s", raw)
	}
}
