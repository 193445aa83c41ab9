// Package config loads the gateway's static configuration: provider
// endpoints, cache/eviction policy, the catalog sync source, and storage
// backend selection. One struct, decoded once at startup from YAML with
// ${VAR}-style environment expansion, and passed by shared reference the
// way the teacher's example configs were loaded (teacher: deleted
// example/ configs; idiom kept from haasonsaas-nexus/internal/config).
package config

import "time"

// Config is the gateway's top-level static configuration.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Catalog     CatalogConfig             `yaml:"catalog"`
	Cache       CacheConfig               `yaml:"cache"`
	Storage     StorageConfig             `yaml:"storage"`
	Telemetry   TelemetryConfig           `yaml:"telemetry"`
	OTLP        OTLPConfig                `yaml:"otlp"`
	Credentials CredentialsConfig         `yaml:"credentials"`
	Models      ModelsConfig              `yaml:"models"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
}

// CredentialsConfig configures the Credential Store's at-rest cipher and
// the operator-shared fallback credentials seeded at startup (spec §6,
// IdentifierVllora). MasterKeyHex must decode to exactly 32 bytes.
type CredentialsConfig struct {
	MasterKeyHex string            `yaml:"master_key_hex"`
	Vllora       map[string]string `yaml:"vllora"` // provider -> shared API key
}

// ModelsConfig carries the deployment-wide default model ids, region, and
// Vertex project/location each provider client falls back to when a
// catalog entry does not name its own upstream model id. Kept distinct
// from ProviderConfig (endpoint/rate-limit middleware concerns) because
// providers/resolver.Config's shape (per-provider defaults plus keyed
// Proxies) does not map onto ProviderConfig's flat per-name struct.
type ModelsConfig struct {
	OpenAI    ModelDefaultsConfig `yaml:"openai"`
	OpenAIURL string              `yaml:"openai_url"`

	Anthropic ModelDefaultsConfig `yaml:"anthropic"`

	Bedrock BedrockModelsConfig `yaml:"bedrock"`

	Gemini GeminiModelsConfig `yaml:"gemini"`

	Proxies map[string]ProxyModelsConfig `yaml:"proxies"`
}

// ModelDefaultsConfig names the default/high/small model identifiers and
// sampling defaults a provider client falls back to.
type ModelDefaultsConfig struct {
	Default     string  `yaml:"default"`
	High        string  `yaml:"high"`
	Small       string  `yaml:"small"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// BedrockModelsConfig configures the AWS Bedrock Converse backend.
type BedrockModelsConfig struct {
	ModelDefaultsConfig `yaml:",inline"`
	Region              string `yaml:"region"`
}

// GeminiModelsConfig configures the Gemini/Vertex AI backend.
type GeminiModelsConfig struct {
	ModelDefaultsConfig `yaml:",inline"`
	VertexProject       string `yaml:"vertex_project"`
	VertexLocation      string `yaml:"vertex_location"`
}

// ProxyModelsConfig configures one OpenAI-compatible proxy, keyed by
// catalog.InferenceProvider.Proxy in the Proxies map.
type ProxyModelsConfig struct {
	ModelDefaultsConfig `yaml:",inline"`
	BaseURL             string `yaml:"base_url"`
}

// ServerConfig configures the gateway's own listen address (the HTTP/gRPC
// surface itself is an external collaborator, spec §1 Non-goals — this
// struct only carries the address it's expected to bind).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CatalogConfig configures the Model Catalog's remote sync source and
// refresh cadence (spec §2).
type CatalogConfig struct {
	SourceURL       string        `yaml:"source_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// CacheConfig configures the Response Cache backing store and default TTL
// (spec §4.5).
type CacheConfig struct {
	RedisAddr  string        `yaml:"redis_addr"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// StorageBackend selects which Trace/Metrics Writer implementation is
// active (spec §4.10).
type StorageBackend string

const (
	StorageBackendSQLite     StorageBackend = "sqlite"
	StorageBackendClickHouse StorageBackend = "clickhouse"
)

// StorageConfig configures the Trace/Metrics Writer backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	SQLitePath string `yaml:"sqlite_path"`

	ClickHouseURL           string        `yaml:"clickhouse_url"`
	ClickHouseBatchSize     int           `yaml:"clickhouse_batch_size"`
	ClickHouseFlushInterval time.Duration `yaml:"clickhouse_flush_interval"`
}

// TelemetryConfig configures the in-process span/metric emission and the
// client side of the OTLP batch exporter (spec §4.8).
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// OTLPConfig configures the OTLP Ingest gRPC listener (spec §4.9).
type OTLPConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
}

// ProviderConfig configures one upstream model provider's endpoint
// override and adaptive rate limit (requests_per_second/burst feed
// providers/resolver.RateLimited's tokens-per-minute conversion).
type ProviderConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a Config with the defaults a fresh deployment starts
// from: a local SQLite store and a 5 minute catalog refresh.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Catalog: CatalogConfig{RefreshInterval: 5 * time.Minute},
		Cache:   CacheConfig{DefaultTTL: time.Hour},
		Storage: StorageConfig{
			Backend:                 StorageBackendSQLite,
			SQLitePath:              "gateway.db",
			ClickHouseBatchSize:     500,
			ClickHouseFlushInterval: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{ServiceName: "vllora-gateway"},
		OTLP:      OTLPConfig{GRPCAddr: "0.0.0.0:4317"},
	}
}
