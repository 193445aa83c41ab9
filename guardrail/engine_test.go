package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedEvaluator struct {
	result Result
	err    error
}

func (f fixedEvaluator) Evaluate(context.Context, Guard, Input) (Result, error) {
	return f.result, f.err
}

func TestEvaluateAllPassesThrough(t *testing.T) {
	e := New()
	e.Register(KindRegex, fixedEvaluator{result: boolResult(true)})
	guards := []Guard{{ID: "g1", Stage: StageInput, Action: ActionValidate, Kind: KindRegex}}
	err := e.EvaluateAll(context.Background(), guards, StageInput, Input{Text: "hi"})
	require.NoError(t, err)
}

func TestEvaluateAllValidateBlocksOnFailure(t *testing.T) {
	e := New()
	e.Register(KindRegex, fixedEvaluator{result: boolResult(false)})
	guards := []Guard{{ID: "pii", Stage: StageInput, Action: ActionValidate, Kind: KindRegex}}
	err := e.EvaluateAll(context.Background(), guards, StageInput, Input{Text: "email@example.com"})
	require.Error(t, err)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, "pii", failed.GuardID)
}

func TestEvaluateAllObserveDoesNotBlock(t *testing.T) {
	recorded := false
	e := New()
	e.Register(KindRegex, fixedEvaluator{result: boolResult(false)})
	e.OnEvaluate(func(_ context.Context, _ Guard, result Result, _ error) {
		recorded = !result.Passed()
	})
	guards := []Guard{{ID: "g1", Stage: StageInput, Action: ActionObserve, Kind: KindRegex}}
	err := e.EvaluateAll(context.Background(), guards, StageInput, Input{Text: "x"})
	require.NoError(t, err)
	require.True(t, recorded)
}

func TestEvaluateAllSkipsOtherStage(t *testing.T) {
	e := New()
	e.Register(KindRegex, fixedEvaluator{result: boolResult(false)})
	guards := []Guard{{ID: "g1", Stage: StageOutput, Action: ActionValidate, Kind: KindRegex}}
	err := e.EvaluateAll(context.Background(), guards, StageInput, Input{Text: "x"})
	require.NoError(t, err)
}

func TestEvaluateAllEvaluatorErrorIsTerminal(t *testing.T) {
	e := New()
	guards := []Guard{{ID: "g1", Stage: StageInput, Action: ActionObserve, Kind: KindRegex}}
	err := e.EvaluateAll(context.Background(), guards, StageInput, Input{Text: "x"})
	require.Error(t, err)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
}

func TestRegexEvaluatorMatch(t *testing.T) {
	ev := RegexEvaluator{}
	guard := Guard{ID: "pii", Kind: KindRegex, Parameters: map[string]any{"pattern": `\w+@\w+\.\w+`}}
	result, err := ev.Evaluate(context.Background(), guard, Input{Text: "reach me at email@example.com"})
	require.NoError(t, err)
	require.True(t, result.Passed())
}

func TestRegexEvaluatorInvert(t *testing.T) {
	ev := RegexEvaluator{}
	guard := Guard{ID: "pii", Kind: KindRegex, Parameters: map[string]any{
		"pattern": `\w+@\w+\.\w+`,
		"invert":  true,
	}}
	result, err := ev.Evaluate(context.Background(), guard, Input{Text: "email@example.com"})
	require.NoError(t, err)
	require.False(t, result.Passed())
}

func TestWordCountEvaluatorBounds(t *testing.T) {
	ev := WordCountEvaluator{}
	guard := Guard{Parameters: map[string]any{"min": float64(2), "max": float64(5)}}

	result, err := ev.Evaluate(context.Background(), guard, Input{Text: "one two three"})
	require.NoError(t, err)
	require.True(t, result.Passed())

	result, err = ev.Evaluate(context.Background(), guard, Input{Text: "one"})
	require.NoError(t, err)
	require.False(t, result.Passed())
}

func TestDatasetEvaluatorThreshold(t *testing.T) {
	ev := DatasetEvaluator{
		Examples: map[string][]LabeledExample{
			"tmpl1": {{Embedding: []float64{1, 0, 0}, Label: "bad"}},
		},
	}
	guard := Guard{TemplateID: "tmpl1", Parameters: map[string]any{"threshold": 0.9}}

	result, err := ev.Evaluate(context.Background(), guard, Input{Embedding: []float64{1, 0, 0}})
	require.NoError(t, err)
	require.True(t, result.Passed())

	result, err = ev.Evaluate(context.Background(), guard, Input{Embedding: []float64{0, 1, 0}})
	require.NoError(t, err)
	require.False(t, result.Passed())
}

func TestSchemaEvaluator(t *testing.T) {
	ev := SchemaEvaluator{}
	guard := Guard{Parameters: map[string]any{
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"answer"},
		},
	}}

	result, err := ev.Evaluate(context.Background(), guard, Input{Text: `{"answer": "42"}`})
	require.NoError(t, err)
	require.True(t, result.Passed())

	result, err = ev.Evaluate(context.Background(), guard, Input{Text: `{}`})
	require.NoError(t, err)
	require.False(t, result.Passed())
}
