package guardrail

import (
	"context"
	"fmt"

	"github.com/dlclark/regexp2"
)

// RegexEvaluator applies a .NET-style regex (lookaround support, useful for
// PII-style patterns) to the guarded text. Parameters:
//   - "pattern": the regexp2 pattern (required)
//   - "invert": when true, a match means fail instead of pass (optional)
type RegexEvaluator struct{}

// Evaluate implements Evaluator.
func (RegexEvaluator) Evaluate(_ context.Context, guard Guard, in Input) (Result, error) {
	pattern, ok := guard.Parameters["pattern"].(string)
	if !ok || pattern == "" {
		return Result{}, fmt.Errorf("guardrail: regex guard %q missing \"pattern\" parameter", guard.ID)
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: compiling regex: %w", err)
	}
	matched, err := re.MatchString(in.Text)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: evaluating regex: %w", err)
	}

	invert, _ := guard.Parameters["invert"].(bool)
	passed := matched
	if invert {
		passed = !matched
	}
	return boolResult(passed), nil
}
