package resolver

import (
	"context"
	"sync"

	"goa.design/pulse/rmap"

	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/credentials"
	"github.com/vllora/gateway/providers/middleware"
	"github.com/vllora/gateway/runtime/agent/model"
)

// ProviderResolver is the subset of execution.ProviderResolver this package
// decorates. Declared locally so this package does not import execution.
type ProviderResolver interface {
	Resolve(ctx context.Context, md *catalog.ModelMetadata, cred *credentials.Resolution) (model.Client, error)
}

// RateLimitConfig names the per-provider static budget RateLimited derives a
// tokens-per-minute cap from: requestsPerSecond multiplied by a model's max
// token count approximates a token throughput, burst multiplied by the same
// gives the ceiling the adaptive limiter probes back up to after a backoff.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimited wraps next so every resolved model.Client is throttled by a
// provider-keyed AdaptiveRateLimiter. limits is keyed the same way cfg.Models
// is addressed: catalog.InferenceProviderKind values ("openai", "anthropic",
// ...) and, for InferenceProviderProxy, the proxy name. A provider key absent
// from limits (or with RequestsPerSecond <= 0) resolves unthrottled.
//
// cluster is optional: when non-nil (the deployment has Redis configured),
// every provider's budget is coordinated across gateway processes through
// it, the same rmap.Map-backed mechanism the deleted tool registry used for
// its health/toolset maps. When nil, each limiter is process-local.
func RateLimited(ctx context.Context, next ProviderResolver, limits map[string]RateLimitConfig, defaults map[string]ModelDefaults, cluster *rmap.Map) *RateLimitedResolver {
	return &RateLimitedResolver{
		ctx:      ctx,
		next:     next,
		limiters: make(map[string]*middleware.AdaptiveRateLimiter),
		limits:   limits,
		defaults: defaults,
		cluster:  cluster,
	}
}

// RateLimitedResolver decorates a ProviderResolver with per-provider adaptive
// rate limiting.
type RateLimitedResolver struct {
	ctx     context.Context
	next    ProviderResolver
	cluster *rmap.Map

	mu       sync.Mutex
	limiters map[string]*middleware.AdaptiveRateLimiter
	limits   map[string]RateLimitConfig
	defaults map[string]ModelDefaults
}

// Resolve implements execution.ProviderResolver.
func (r *RateLimitedResolver) Resolve(ctx context.Context, md *catalog.ModelMetadata, cred *credentials.Resolution) (model.Client, error) {
	client, err := r.next.Resolve(ctx, md, cred)
	if err != nil {
		return nil, err
	}
	key := providerKey(md)
	lim := r.limiterFor(key)
	if lim == nil {
		return client, nil
	}
	return lim.Middleware()(client), nil
}

func (r *RateLimitedResolver) limiterFor(key string) *middleware.AdaptiveRateLimiter {
	cfg, ok := r.limits[key]
	if !ok || cfg.RequestsPerSecond <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if lim, ok := r.limiters[key]; ok {
		return lim
	}

	maxTokens := r.defaults[key].MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	initialTPM := cfg.RequestsPerSecond * 60 * float64(maxTokens)
	maxTPM := initialTPM
	if cfg.Burst > 0 {
		maxTPM = float64(cfg.Burst) * float64(maxTokens)
	}

	lim := middleware.NewAdaptiveRateLimiter(r.ctx, r.cluster, "ratelimit:"+key, initialTPM, maxTPM)
	r.limiters[key] = lim
	return lim
}

func providerKey(md *catalog.ModelMetadata) string {
	if md.InferenceProvider.Kind == catalog.InferenceProviderProxy {
		return md.InferenceProvider.Proxy
	}
	return string(md.InferenceProvider.Kind)
}
