package guardrail

import (
	"context"
	"fmt"
)

// PartnerClient delegates guard evaluation to an external provider-specific
// safety API (e.g. a content-moderation endpoint).
type PartnerClient interface {
	Evaluate(ctx context.Context, provider string, text string, parameters map[string]any) (passed bool, err error)
}

// PartnerEvaluator delegates to an external safety API named by the
// guard's "provider" parameter.
type PartnerEvaluator struct {
	Client PartnerClient
}

// Evaluate implements Evaluator.
func (p PartnerEvaluator) Evaluate(ctx context.Context, guard Guard, in Input) (Result, error) {
	if p.Client == nil {
		return Result{}, fmt.Errorf("guardrail: partner guard %q has no PartnerClient configured", guard.ID)
	}
	provider, _ := guard.Parameters["provider"].(string)
	if provider == "" {
		return Result{}, fmt.Errorf("guardrail: partner guard %q missing \"provider\" parameter", guard.ID)
	}
	passed, err := p.Client.Evaluate(ctx, provider, in.Text, guard.Parameters)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: partner provider %q: %w", provider, err)
	}
	return boolResult(passed), nil
}
