// Package router implements the Router: it maps a ChatCompletionRequest to
// one catalog.ModelMetadata via a Static, DynamicRouter, or Conditional
// strategy (spec §4.4). Selection is deterministic for identical inputs,
// tie-broken by lexicographic model id, so fingerprints stay stable.
package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"

	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/errkind"
)

// Request is the subset of ChatCompletionRequest fields the router needs:
// either a static model name or a Spec describing a strategy.
type Request struct {
	Model     string // used by Static when Spec is nil
	ProjectID string
	Metadata  Metadata
	Spec      *Spec
}

// Metadata is the set of fields the Conditional strategy may reference,
// matching spec §4.4's extraction keys (user.id, user.tier(s),
// variables.<name>, guards.<id>).
type Metadata struct {
	UserID    string
	UserName  string
	UserEmail string
	UserTiers []string
	Variables map[string]string
	Guards    map[string]bool
}

// Strategy discriminates a Spec.
type Strategy string

const (
	StrategyStatic      Strategy = "static"
	StrategyDynamic     Strategy = "dynamic"
	StrategyConditional Strategy = "conditional"
)

// Spec describes a non-static routing strategy.
type Spec struct {
	Strategy Strategy

	// Dynamic strategy fields.
	Candidates []string
	Selection  SelectionMode

	// Conditional strategy fields, evaluated in order; the first matching
	// rule's Target is used (a model name or the name of another router
	// spec registered with the Router).
	Rules []Rule
	// Default is used when no rule matches.
	Default string
}

// SelectionMode picks among DynamicRouter candidates.
type SelectionMode string

const (
	SelectionCheapest SelectionMode = "cheapest"
	SelectionFallback SelectionMode = "fallback"
)

// Rule is one Conditional branch: if Predicate evaluates truthy against
// the request's extracted Metadata, Target is selected.
type Rule struct {
	Predicate string // govaluate expression, e.g. `user_tier_enterprise == true`
	Target    string
}

// Catalog is the subset of catalog.Manager the router needs.
type Catalog interface {
	Resolve(ctx context.Context, projectID, name string) (*catalog.ModelMetadata, error)
}

// Router selects one catalog.ModelMetadata per request.
type Router struct {
	catalog Catalog
	named   map[string]*Spec // named router specs, for Conditional targets that name another router
}

// New constructs a Router backed by catalog.
func New(cat Catalog) *Router {
	return &Router{catalog: cat, named: make(map[string]*Spec)}
}

// Register names a Spec so Conditional rules can target it by name.
func (r *Router) Register(name string, spec *Spec) {
	r.named[name] = spec
}

// ErrModelNotFound is returned when no strategy resolves a model.
type ErrModelNotFound struct{ Model string }

func (e *ErrModelNotFound) Error() string {
	return fmt.Sprintf("router: model %q not found", e.Model)
}
func (e *ErrModelNotFound) Kind() errkind.Kind { return errkind.Validation }

// Resolve applies req's strategy and returns the chosen ModelMetadata.
func (r *Router) Resolve(ctx context.Context, req Request) (*catalog.ModelMetadata, error) {
	if req.Spec == nil {
		return r.resolveStatic(ctx, req.ProjectID, req.Model)
	}
	return r.resolveSpec(ctx, req.ProjectID, req.Metadata, req.Spec, 0)
}

func (r *Router) resolveStatic(ctx context.Context, projectID, name string) (*catalog.ModelMetadata, error) {
	md, err := r.catalog.Resolve(ctx, projectID, name)
	if err != nil {
		return nil, &ErrModelNotFound{Model: name}
	}
	return md, nil
}

// resolveSpec recurses at most a fixed depth to guard against a cycle of
// named Conditional targets pointing at each other.
func (r *Router) resolveSpec(ctx context.Context, projectID string, md Metadata, spec *Spec, depth int) (*catalog.ModelMetadata, error) {
	const maxDepth = 8
	if depth > maxDepth {
		return nil, fmt.Errorf("router: exceeded max routing depth (%d)", maxDepth)
	}

	switch spec.Strategy {
	case StrategyDynamic:
		return r.resolveDynamic(ctx, projectID, spec)
	case StrategyConditional:
		return r.resolveConditional(ctx, projectID, md, spec, depth)
	default:
		return nil, fmt.Errorf("router: unknown strategy %q", spec.Strategy)
	}
}

func (r *Router) resolveDynamic(ctx context.Context, projectID string, spec *Spec) (*catalog.ModelMetadata, error) {
	candidates := make([]string, len(spec.Candidates))
	copy(candidates, spec.Candidates)
	sort.Strings(candidates) // deterministic tie-break (spec §4.4)

	var resolved []*catalog.ModelMetadata
	for _, name := range candidates {
		md, err := r.catalog.Resolve(ctx, projectID, name)
		if err != nil {
			continue // fallback/cheapest strategies skip unresolvable candidates
		}
		resolved = append(resolved, md)
	}
	if len(resolved) == 0 {
		return nil, &ErrModelNotFound{Model: fmt.Sprintf("%v", spec.Candidates)}
	}

	switch spec.Selection {
	case SelectionCheapest:
		best := resolved[0]
		for _, md := range resolved[1:] {
			if md.PerInputToken() < best.PerInputToken() {
				best = md
			}
		}
		return best, nil
	case SelectionFallback:
		return resolved[0], nil
	default:
		return resolved[0], nil
	}
}

func (r *Router) resolveConditional(ctx context.Context, projectID string, md Metadata, spec *Spec, depth int) (*catalog.ModelMetadata, error) {
	params := buildParams(md)
	for _, rule := range spec.Rules {
		matched, err := evaluate(rule.Predicate, params)
		if err != nil {
			return nil, fmt.Errorf("router: evaluating predicate %q: %w", rule.Predicate, err)
		}
		if !matched {
			continue
		}
		return r.resolveTarget(ctx, projectID, md, rule.Target, depth)
	}
	if spec.Default == "" {
		return nil, &ErrModelNotFound{Model: "<no conditional rule matched>"}
	}
	return r.resolveTarget(ctx, projectID, md, spec.Default, depth)
}

func (r *Router) resolveTarget(ctx context.Context, projectID string, md Metadata, target string, depth int) (*catalog.ModelMetadata, error) {
	if named, ok := r.named[target]; ok {
		return r.resolveSpec(ctx, projectID, md, named, depth+1)
	}
	return r.resolveStatic(ctx, projectID, target)
}

// evaluate compiles and runs a govaluate predicate over params. A
// compilation error is reported to the caller; govaluate's own
// non-boolean-result case is also reported rather than silently treated as
// false.
func evaluate(predicate string, params map[string]any) (bool, error) {
	expr, err := govaluate.NewEvaluableExpression(predicate)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("predicate did not evaluate to a boolean (got %T)", result)
	}
	return b, nil
}

func buildParams(md Metadata) map[string]any {
	params := map[string]any{
		"user_id":    md.UserID,
		"user_name":  md.UserName,
		"user_email": md.UserEmail,
	}
	for _, tier := range md.UserTiers {
		params["user_tier_"+tier] = true
	}
	for k, v := range md.Variables {
		params["variables_"+k] = v
	}
	for id, passed := range md.Guards {
		params["guards_"+id] = passed
	}
	return params
}
