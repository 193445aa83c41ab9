package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"goa.design/pulse/rmap"

	"github.com/vllora/gateway/broadcast"
	"github.com/vllora/gateway/cache"
	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/config"
	"github.com/vllora/gateway/credentials"
	"github.com/vllora/gateway/execution"
	"github.com/vllora/gateway/guardrail"
	"github.com/vllora/gateway/history"
	"github.com/vllora/gateway/metrics"
	"github.com/vllora/gateway/otlpingest"
	"github.com/vllora/gateway/providers/resolver"
	"github.com/vllora/gateway/router"
	"github.com/vllora/gateway/runtime/agent/telemetry"
	"github.com/vllora/gateway/span"
	"github.com/vllora/gateway/storage"
	"github.com/vllora/gateway/storage/clickhouse"
	"github.com/vllora/gateway/storage/sqlite"
)

// dependencies bundles every component the composition root constructs,
// plus what Close needs to shut them down in reverse order.
type dependencies struct {
	pipeline *execution.Pipeline
	ingest   *otlpingest.Ingest

	catalogMgr     *catalog.Manager
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	storageSink    *span.StorageSink
	historyStore   *sqlite.Store
	clickhouseW    *clickhouse.Writer
	redisClient    *redis.Client
	rateLimitMap   *rmap.Map
}

// idGenerator adapts google/uuid to history.IDGenerator, matching the
// uuid.NewString() idiom broadcast.UIBroadcaster already uses for client ids.
type idGenerator struct{}

func (idGenerator) NewID() string { return uuid.NewString() }

// wire constructs every collaborator named in cfg and assembles the
// Execution Pipeline and the OTLP Ingest service. It performs the
// composition-root work execution.Options's doc comment describes: one
// sdktrace.TracerProvider built via span.NewProvider with a span.MultiSink
// fanning out to the broadcast manager and a span.StorageSink, registered
// globally so telemetry.NewClueTracer reads from it.
func wire(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	credStore, err := buildCredentialStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway: credentials: %w", err)
	}

	catalogSource := catalog.NewHTTPSource(cfg.Catalog.SourceURL, nil)
	catalogMgr := catalog.NewManager(catalogSource, cfg.Catalog.RefreshInterval)
	if err := catalogMgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("gateway: starting catalog manager: %w", err)
	}

	var redisClient *redis.Client
	var respCache *cache.Cache
	var rateLimitMap *rmap.Map
	if cfg.Cache.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		respCache = cache.New(cache.NewRedisStore(redisClient, "vllora"), cache.Options{TTL: cfg.Cache.DefaultTTL})

		rateLimitMap, err = rmap.Join(ctx, "gateway:ratelimits", redisClient)
		if err != nil {
			catalogMgr.Stop()
			return nil, fmt.Errorf("gateway: joining rate limit map: %w", err)
		}
	}

	rt := router.New(catalogMgr)
	guardEngine := guardrail.New()

	historyStore, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		catalogMgr.Stop()
		return nil, fmt.Errorf("gateway: opening history store: %w", err)
	}

	var writer storage.Writer
	var chWriter *clickhouse.Writer
	switch cfg.Storage.Backend {
	case config.StorageBackendClickHouse:
		chWriter = clickhouse.NewWriter(cfg.Storage.ClickHouseURL,
			clickhouse.WithBatchSize(cfg.Storage.ClickHouseBatchSize),
			clickhouse.WithFlushInterval(cfg.Storage.ClickHouseFlushInterval))
		writer = chWriter
	default:
		writer = historyStore
	}

	broadcastMgr := broadcast.NewManager()
	storageSink := span.NewStorageSink(writer)

	// history.Manager's sink fans out MessageCreated events to a live
	// subscriber; no implementation exists yet in this deployment (no
	// project has asked for conversation-level live updates, unlike spans,
	// which broadcast.Manager already serves), so Manager runs with a nil
	// sink — explicitly supported, a documented no-op (see DESIGN.md).
	historyMgr := history.NewManager(historyStore, nil, idGenerator{}, telemetry.NewClueLogger())

	tracerProvider, err := span.NewProvider(ctx, span.ProviderConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Sink:         span.MultiSink{broadcastMgr, storageSink},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: building tracer provider: %w", err)
	}
	otel.SetTracerProvider(tracerProvider)

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	meter := otel.Meter("github.com/vllora/gateway")

	resolverCfg := resolverConfigFrom(cfg.Models)
	applyEndpointOverrides(&resolverCfg, cfg.Providers)
	var providerResolver execution.ProviderResolver = resolver.New(resolverCfg)
	if len(cfg.Providers) > 0 {
		providerResolver = resolver.RateLimited(ctx, providerResolver, rateLimitsFrom(cfg.Providers), modelDefaultsByKey(cfg.Models), rateLimitMap)
	}

	pipeline, err := execution.New(execution.Options{
		Router:            rt,
		Cache:             respCache,
		Guardrails:        guardEngine,
		Tracer:            telemetry.NewClueTracer(),
		Metrics:           metrics.NewRecorder(meter),
		History:           historyMgr,
		Credentials:       credStore,
		Providers:         providerResolver,
		Logger:            telemetry.NewClueLogger(),
		DefaultMaxRetries: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: building execution pipeline: %w", err)
	}

	ingest := otlpingest.NewIngest(writer, nil, telemetry.NewClueLogger())

	return &dependencies{
		pipeline:       pipeline,
		ingest:         ingest,
		catalogMgr:     catalogMgr,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		storageSink:    storageSink,
		historyStore:   historyStore,
		clickhouseW:    chWriter,
		redisClient:    redisClient,
		rateLimitMap:   rateLimitMap,
	}, nil
}

// buildCredentialStore decodes the configured master key and seeds the
// operator-shared ("vllora") fallback credentials. Per-project credentials
// are loaded separately (providers table, spec §6), not from static config.
func buildCredentialStore(cfg *config.Config) (*credentials.Store, error) {
	raw, err := hex.DecodeString(cfg.Credentials.MasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding master_key_hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("master_key_hex must decode to 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)

	store := credentials.NewStore(key)
	for provider, apiKey := range cfg.Credentials.Vllora {
		store.PutVllora(provider, []byte(apiKey))
	}
	return store, nil
}

func resolverConfigFrom(m config.ModelsConfig) resolver.Config {
	proxies := make(map[string]resolver.ProxyConfig, len(m.Proxies))
	for name, p := range m.Proxies {
		proxies[name] = resolver.ProxyConfig{
			BaseURL:       p.BaseURL,
			ModelDefaults: modelDefaultsFrom(p.ModelDefaultsConfig),
		}
	}
	return resolver.Config{
		OpenAI:    modelDefaultsFrom(m.OpenAI),
		OpenAIURL: m.OpenAIURL,
		Anthropic: modelDefaultsFrom(m.Anthropic),
		Bedrock: resolver.BedrockConfig{
			ModelDefaults: modelDefaultsFrom(m.Bedrock.ModelDefaultsConfig),
			Region:        m.Bedrock.Region,
		},
		Gemini: resolver.GeminiConfig{
			ModelDefaults:  modelDefaultsFrom(m.Gemini.ModelDefaultsConfig),
			VertexProject:  m.Gemini.VertexProject,
			VertexLocation: m.Gemini.VertexLocation,
		},
		Proxies: proxies,
	}
}

// applyEndpointOverrides lets an operator redirect one provider's traffic
// (for example a self-hosted OpenAI-compatible gateway in front of the real
// API) without touching the Models section.
// Only OpenAI and proxies take a caller-supplied base URL today; Bedrock,
// Gemini, and Vertex AI resolve their endpoint from the AWS/GCP SDK
// configuration instead (region, project, location), so an Endpoint
// override for them has nowhere to go.
func applyEndpointOverrides(cfg *resolver.Config, providers map[string]config.ProviderConfig) {
	if p, ok := providers["openai"]; ok && p.Endpoint != "" {
		cfg.OpenAIURL = p.Endpoint
	}
	for name, proxy := range cfg.Proxies {
		if p, ok := providers[name]; ok && p.Endpoint != "" {
			proxy.BaseURL = p.Endpoint
			cfg.Proxies[name] = proxy
		}
	}
}

// rateLimitsFrom adapts the operator-facing cfg.Providers map (keyed by
// catalog.InferenceProviderKind value or proxy name, same as cfg.Models) into
// resolver.RateLimitConfig entries.
func rateLimitsFrom(providers map[string]config.ProviderConfig) map[string]resolver.RateLimitConfig {
	limits := make(map[string]resolver.RateLimitConfig, len(providers))
	for name, p := range providers {
		limits[name] = resolver.RateLimitConfig{RequestsPerSecond: p.RequestsPerSecond, Burst: p.Burst}
	}
	return limits
}

// modelDefaultsByKey re-keys cfg.Models the same way rateLimitsFrom re-keys
// cfg.Providers, so RateLimited can look up a provider's MaxTokens default
// to convert its requests-per-second budget into a tokens-per-minute one.
func modelDefaultsByKey(m config.ModelsConfig) map[string]resolver.ModelDefaults {
	defaults := map[string]resolver.ModelDefaults{
		"openai":    modelDefaultsFrom(m.OpenAI),
		"anthropic": modelDefaultsFrom(m.Anthropic),
		"bedrock":   modelDefaultsFrom(m.Bedrock.ModelDefaultsConfig),
		"gemini":    modelDefaultsFrom(m.Gemini.ModelDefaultsConfig),
	}
	for name, p := range m.Proxies {
		defaults[name] = modelDefaultsFrom(p.ModelDefaultsConfig)
	}
	return defaults
}

func modelDefaultsFrom(m config.ModelDefaultsConfig) resolver.ModelDefaults {
	return resolver.ModelDefaults{
		Default:     m.Default,
		High:        m.High,
		Small:       m.Small,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
	}
}

// Close stops the background loops, then closes the sinks, writers,
// telemetry providers and Redis client in turn. It logs nothing itself (the
// caller already has a log context) and returns at the first error, leaving
// the resources after it unclosed.
func (d *dependencies) Close(ctx context.Context) error {
	d.catalogMgr.Stop()
	if d.rateLimitMap != nil {
		d.rateLimitMap.Close()
	}
	if err := d.storageSink.Close(ctx); err != nil {
		return err
	}
	if d.clickhouseW != nil {
		if err := d.clickhouseW.Close(ctx); err != nil {
			return err
		}
	}
	if err := d.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	if err := d.meterProvider.Shutdown(ctx); err != nil {
		return err
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			return err
		}
	}
	return d.historyStore.Close()
}
