package guardrail

import (
	"context"
	"fmt"

	"github.com/vllora/gateway/errkind"
)

// Input is what an Evaluator inspects: the text of either the last input
// message (Stage input) or the final assistant message (Stage output).
type Input struct {
	Text      string
	Embedding []float64 // populated only when the Dataset evaluator needs it
}

// Evaluator implements one Kind's evaluation logic.
type Evaluator interface {
	Evaluate(ctx context.Context, guard Guard, in Input) (Result, error)
}

// Engine evaluates guards declared per project, dispatching to the
// registered Evaluator for each guard's Kind. Every evaluation is traced
// as a child span of the model_call span (spec §4.6); callers pass a
// tracing hook via OnEvaluate.
type Engine struct {
	evaluators map[Kind]Evaluator
	onEvaluate func(ctx context.Context, guard Guard, result Result, err error)
}

// New constructs an Engine with the three evaluators that require no
// external service (Regex, Schema, WordCount) already registered.
// Dataset needs an Embedder, and LlmJudge/Partner need a model invoker /
// external API client — callers wire those three in via Register once
// the dependency is available.
func New() *Engine {
	e := &Engine{evaluators: make(map[Kind]Evaluator)}
	e.Register(KindRegex, RegexEvaluator{})
	e.Register(KindSchema, SchemaEvaluator{})
	e.Register(KindWordCount, WordCountEvaluator{})
	return e
}

// Register installs (or overrides) the Evaluator for kind.
func (e *Engine) Register(kind Kind, ev Evaluator) {
	e.evaluators[kind] = ev
}

// OnEvaluate installs a hook invoked after every guard evaluation,
// regardless of outcome, used by the execution pipeline to open the child
// span named in spec §4.6.
func (e *Engine) OnEvaluate(fn func(ctx context.Context, guard Guard, result Result, err error)) {
	e.onEvaluate = fn
}

// FailedError reports that a Validate-action guard failed. It carries the
// guard id and the GuardResult so callers can surface both to the user
// (spec §7: "Surfaced with the guard_id and the GuardResult").
type FailedError struct {
	GuardID string
	Result  Result
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("guardrail: guard %q failed", e.GuardID)
}
func (e *FailedError) Kind() errkind.Kind { return errkind.GuardFailed }

// EvaluationError reports that the evaluator itself errored (as opposed to
// the guard failing its check).
type EvaluationError struct {
	GuardID string
	cause   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("guardrail: guard %q evaluator error: %v", e.GuardID, e.cause)
}
func (e *EvaluationError) Unwrap() error      { return e.cause }
func (e *EvaluationError) Kind() errkind.Kind { return errkind.GuardFailed }

// EvaluateAll runs every guard in guards whose Stage matches stage, in
// order. The first Validate-action failure returns a *FailedError
// immediately; Observe-action failures are recorded (via OnEvaluate) but
// do not stop evaluation. Evaluator errors always produce
// *EvaluationError, even for Observe-action guards, since an evaluator
// error means the guard's pass/fail could not be determined at all.
func (e *Engine) EvaluateAll(ctx context.Context, guards []Guard, stage Stage, in Input) error {
	for _, g := range guards {
		if g.Stage != stage {
			continue
		}
		result, err := e.evaluateOne(ctx, g, in)
		if e.onEvaluate != nil {
			e.onEvaluate(ctx, g, result, err)
		}
		if err != nil {
			return &EvaluationError{GuardID: g.ID, cause: err}
		}
		if !result.Passed() && g.Action == ActionValidate {
			return &FailedError{GuardID: g.ID, Result: result}
		}
	}
	return nil
}

func (e *Engine) evaluateOne(ctx context.Context, g Guard, in Input) (Result, error) {
	ev, ok := e.evaluators[g.Kind]
	if !ok {
		return Result{}, fmt.Errorf("guardrail: no evaluator registered for kind %q", g.Kind)
	}
	return ev.Evaluate(ctx, g, in)
}
