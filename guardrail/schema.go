package guardrail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaEvaluator validates the guarded text (expected to be a JSON
// document) against the guard's "schema" parameter, a JSON Schema object.
type SchemaEvaluator struct{}

// Evaluate implements Evaluator.
func (SchemaEvaluator) Evaluate(_ context.Context, guard Guard, in Input) (Result, error) {
	raw, ok := guard.Parameters["schema"]
	if !ok {
		return Result{}, fmt.Errorf("guardrail: schema guard %q missing \"schema\" parameter", guard.ID)
	}
	schemaBytes, err := json.Marshal(raw)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: marshaling schema parameter: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return Result{}, fmt.Errorf("guardrail: parsing schema parameter: %w", err)
	}
	const resourceURL = "guard://schema"
	if err := compiler.AddResource(resourceURL, schemaDoc); err != nil {
		return Result{}, fmt.Errorf("guardrail: compiling schema: %w", err)
	}
	sch, err := compiler.Compile(resourceURL)
	if err != nil {
		return Result{}, fmt.Errorf("guardrail: compiling schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal([]byte(in.Text), &instance); err != nil {
		// Not valid JSON at all: treat as a failed validation rather than an
		// evaluator error, since the guard is answering "does this conform".
		return Result{Kind: ResultKindJSON, Json: &JSONResult{Schema: schemaBytes, Passed: false}}, nil
	}

	passed := sch.Validate(instance) == nil
	return Result{Kind: ResultKindJSON, Json: &JSONResult{Schema: schemaBytes, Passed: passed}}, nil
}
