package guardrail

import (
	"context"
	"strings"
)

// WordCountEvaluator passes when the guarded text's word count falls
// within ["min", "max"] (either bound optional, parameters are float64 per
// JSON decoding convention).
type WordCountEvaluator struct{}

// Evaluate implements Evaluator.
func (WordCountEvaluator) Evaluate(_ context.Context, guard Guard, in Input) (Result, error) {
	count := len(strings.Fields(in.Text))

	passed := true
	if min, ok := numberParam(guard.Parameters, "min"); ok && count < min {
		passed = false
	}
	if max, ok := numberParam(guard.Parameters, "max"); ok && count > max {
		passed = false
	}
	return boolResult(passed), nil
}

func numberParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
