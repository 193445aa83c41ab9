package guardrail

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LabeledExample is one entry in a Dataset guard's reference set.
type LabeledExample struct {
	Embedding []float64
	Label     string
}

// Embedder computes the embedding vector for a piece of text. The
// execution package wires this to the project's configured embedding
// model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// DatasetEvaluator passes when the guarded text's embedding is within a
// cosine-similarity threshold of any labeled example. Parameters:
//   - "threshold": float64, default 0.85
//   - "examples": handled out-of-band via Examples, keyed by TemplateID
type DatasetEvaluator struct {
	Embedder Embedder
	Examples map[string][]LabeledExample // keyed by Guard.TemplateID
}

// Evaluate implements Evaluator.
func (d DatasetEvaluator) Evaluate(ctx context.Context, guard Guard, in Input) (Result, error) {
	examples := d.Examples[guard.TemplateID]
	if len(examples) == 0 {
		return Result{}, fmt.Errorf("guardrail: dataset guard %q has no labeled examples for template %q", guard.ID, guard.TemplateID)
	}

	embedding := in.Embedding
	if embedding == nil {
		if d.Embedder == nil {
			return Result{}, fmt.Errorf("guardrail: dataset guard %q requires an embedding and no Embedder is configured", guard.ID)
		}
		var err error
		embedding, err = d.Embedder.Embed(ctx, in.Text)
		if err != nil {
			return Result{}, fmt.Errorf("guardrail: embedding guarded text: %w", err)
		}
	}

	threshold := 0.85
	if t, ok := numberParamF(guard.Parameters, "threshold"); ok {
		threshold = t
	}

	best := 0.0
	for _, ex := range examples {
		if sim := cosineSimilarity(embedding, ex.Embedding); sim > best {
			best = sim
		}
	}

	confidence := best
	passed := best >= threshold
	return Result{Kind: ResultKindBoolean, Boolean: &BooleanResult{Passed: passed, Confidence: &confidence}}, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	va, vb := mat.NewVecDense(len(a), a), mat.NewVecDense(len(b), b)
	dot := mat.Dot(va, vb)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func numberParamF(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
