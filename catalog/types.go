// Package catalog implements the Model Catalog: it maps a user-facing model
// name to ModelMetadata (provider, pricing, capabilities, limits), seeded
// from a remote source with project-scoped overrides. Manager runs its own
// sync loop over the ModelMetadata/CompletionModelDefinition vocabulary
// defined here.
package catalog

import "time"

// InferenceProvider identifies the upstream wire protocol a model speaks.
// Proxy carries the proxy's own name (e.g. "togetherai") for
// OpenAI-compatible third parties.
type InferenceProvider struct {
	Kind  InferenceProviderKind
	Proxy string // set only when Kind == InferenceProviderProxy
}

// InferenceProviderKind enumerates the upstream wire protocols.
type InferenceProviderKind string

const (
	InferenceProviderOpenAI   InferenceProviderKind = "openai"
	InferenceProviderAnthropic InferenceProviderKind = "anthropic"
	InferenceProviderBedrock  InferenceProviderKind = "bedrock"
	InferenceProviderGemini   InferenceProviderKind = "gemini"
	InferenceProviderVertexAI InferenceProviderKind = "vertexai"
	InferenceProviderProxy    InferenceProviderKind = "proxy"
)

// Capability names a feature a model supports.
type Capability string

const (
	CapabilityTools        Capability = "tools"
	CapabilityVision       Capability = "vision"
	CapabilityAudio        Capability = "audio"
	CapabilityThinking     Capability = "thinking"
	CapabilityCaching      Capability = "caching"
	CapabilityJSONMode     Capability = "json_mode"
	CapabilityDocuments    Capability = "documents"
)

// Modality is a unit of input/output format support.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// ModelType classifies the kind of completion a model performs.
type ModelType string

const (
	ModelTypeCompletions ModelType = "completions"
	ModelTypeEmbeddings  ModelType = "embeddings"
	ModelTypeImage       ModelType = "image"
)

// PriceKind discriminates the Price union.
type PriceKind string

const (
	PriceKindCompletion     PriceKind = "completion"
	PriceKindEmbedding      PriceKind = "embedding"
	PriceKindImageGeneration PriceKind = "image_generation"
)

// Price is a tagged union over the pricing model for a ModelMetadata.
// Exactly one of the typed fields is populated, selected by Kind.
type Price struct {
	Kind       PriceKind
	Completion *CompletionPrice
	Embedding  *EmbeddingPrice
	Image      *ImagePrice

	// ValidFrom, when set, is the time this price took effect. Invariant:
	// ValidFrom must not be in the future relative to use.
	ValidFrom *time.Time
}

// CompletionPrice carries per-token pricing for chat completion models.
type CompletionPrice struct {
	PerInputToken           float64
	PerOutputToken          float64
	PerCachedInputToken     *float64
	PerCachedInputWriteToken *float64
}

// EmbeddingPrice carries per-token pricing for embedding models.
type EmbeddingPrice struct {
	PerInputToken float64
}

// ImagePrice carries per-image pricing for image generation models.
type ImagePrice struct {
	PerImage float64
}

// Limits bounds a model's usable context.
type Limits struct {
	MaxContextSize int
}

// ModelMetadata is a read-only catalog entry: provider, pricing,
// capabilities, and limits for one user-facing model name. Shared by
// reference across requests once loaded; never mutated after load (§3.2).
type ModelMetadata struct {
	Model             string            `json:"model"`          // display name, the catalog key
	ModelProvider     string            `json:"model_provider"` // e.g. "openai", "anthropic-direct"
	InferenceProvider InferenceProvider `json:"inference_provider"`
	ModelName         string            `json:"model_name"` // upstream model id
	Endpoint          string            `json:"endpoint"`   // optional override endpoint

	Price        Price
	Capabilities map[Capability]struct{}
	InputFormats map[Modality]struct{}
	OutputFormats map[Modality]struct{}
	Type         ModelType
	Limits       Limits

	ReleaseDate *time.Time
	CutoffDate  *time.Time

	ProjectID string // non-empty for a project-scoped override
	IsDeleted bool
}

// HasCapability reports whether the model supports cap.
func (m *ModelMetadata) HasCapability(cap Capability) bool {
	if m == nil || m.Capabilities == nil {
		return false
	}
	_, ok := m.Capabilities[cap]
	return ok
}

// PerInputToken returns the per-input-token price for completion/embedding
// models, or 0 if the model is not priced per input token.
func (m *ModelMetadata) PerInputToken() float64 {
	switch m.Price.Kind {
	case PriceKindCompletion:
		if m.Price.Completion != nil {
			return m.Price.Completion.PerInputToken
		}
	case PriceKindEmbedding:
		if m.Price.Embedding != nil {
			return m.Price.Embedding.PerInputToken
		}
	}
	return 0
}

// EngineParams is a tagged union over provider-specific invocation
// parameters, carrying optional resolved credentials (never persisted, see
// credentials.Resolution).
type EngineParams struct {
	Provider InferenceProviderKind

	OpenAI    *OpenAIEngineParams
	Anthropic *AnthropicEngineParams
	Bedrock   *BedrockEngineParams
	Gemini    *GeminiEngineParams
	Cached    *CachedEngineParams
}

type OpenAIEngineParams struct {
	APIKey  string
	BaseURL string
}

type AnthropicEngineParams struct {
	APIKey string
}

type BedrockEngineParams struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type GeminiEngineParams struct {
	APIKey    string
	UseVertex bool
	Project   string
	Location  string
}

// CachedEngineParams names the fingerprint of the response-cache entry a
// CachedModel provider client replays.
type CachedEngineParams struct {
	Fingerprint string
}

// ModelTools carries the tool definitions and tool-execution policy bound
// to one invocation.
type ModelTools struct {
	Definitions []ToolDefinition
	StopAtCall  bool
	MaxRetries  int
}

// ToolDefinition mirrors model.ToolDefinition with a catalog-facing name so
// callers of this package are not required to import runtime/agent/model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// CompletionModelDefinition is a bound, ready-to-invoke model. It is
// created per request and never stored (§3.1).
type CompletionModelDefinition struct {
	Name        string
	Model       *ModelMetadata
	EngineParams EngineParams
	ProviderName string
	Tools       ModelTools
}

// SanitizeJSON strips credentials from the definition before it is recorded
// on a span, matching the source's TraceModelDefinition::sanitize_json
// (spec §9 Sanitization).
func (d *CompletionModelDefinition) SanitizeJSON() map[string]any {
	out := map[string]any{
		"name":          d.Name,
		"provider_name": d.ProviderName,
	}
	if d.Model != nil {
		out["model"] = d.Model.Model
		out["model_name"] = d.Model.ModelName
		out["inference_provider"] = d.Model.InferenceProvider.Kind
	}
	// Engine params are intentionally omitted: they are the only field that
	// may carry credentials.
	return out
}
