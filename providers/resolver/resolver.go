// Package resolver implements execution.ProviderResolver: given a bound
// model's InferenceProvider kind and a resolved per-request credential, it
// constructs the matching provider client (providers/anthropic,
// providers/bedrock, providers/openai, providers/gemini), reusing the
// deployment-wide defaults (model IDs, region, Vertex project/location)
// configured once at startup.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/credentials"
	"github.com/vllora/gateway/providers/anthropic"
	"github.com/vllora/gateway/providers/bedrock"
	"github.com/vllora/gateway/providers/gemini"
	"github.com/vllora/gateway/providers/openai"
	"github.com/vllora/gateway/runtime/agent/model"
)

// ModelDefaults names the default/high/small model identifiers and sampling
// defaults used when a catalog entry does not override them.
type ModelDefaults struct {
	Default     string
	High        string
	Small       string
	MaxTokens   int
	Temperature float64
}

// ProxyConfig configures one OpenAI-compatible proxy
// (catalog.InferenceProvider.Proxy names the map key).
type ProxyConfig struct {
	BaseURL string
	ModelDefaults
}

// BedrockConfig configures the AWS Bedrock Converse backend.
type BedrockConfig struct {
	ModelDefaults
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// GeminiConfig configures the Gemini/Vertex AI backend.
type GeminiConfig struct {
	ModelDefaults
	VertexProject  string
	VertexLocation string
}

// Config is the static, deployment-wide resolver configuration. Per-request
// credentials come from credentials.Resolution, never from this struct.
type Config struct {
	OpenAI    ModelDefaults
	OpenAIURL string

	Anthropic ModelDefaults

	Bedrock BedrockConfig

	Gemini GeminiConfig

	// Proxies configures OpenAI-compatible third parties (TogetherAI, Groq,
	// ...), keyed by catalog.InferenceProvider.Proxy.
	Proxies map[string]ProxyConfig
}

// Resolver implements execution.ProviderResolver over the four upstream
// providers plus OpenAI-compatible proxies. It is safe for concurrent use.
type Resolver struct {
	cfg Config

	bedrockOnce sync.Once
	bedrockRT   *bedrockruntime.Client
	bedrockErr  error
}

// New constructs a Resolver bound to cfg.
func New(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve constructs a model.Client for md's upstream provider, using cred's
// secret as the provider API key when the provider requires one.
func (r *Resolver) Resolve(ctx context.Context, md *catalog.ModelMetadata, cred *credentials.Resolution) (model.Client, error) {
	if md == nil {
		return nil, fmt.Errorf("resolver: model metadata is required")
	}
	apiKey := apiKeyOf(cred)

	switch md.InferenceProvider.Kind {
	case catalog.InferenceProviderOpenAI:
		return openai.NewFromAPIKeyWithOptions(apiKey, r.cfg.OpenAIURL, openai.Options{
			DefaultModel: firstNonEmpty(md.ModelName, r.cfg.OpenAI.Default),
			HighModel:    r.cfg.OpenAI.High,
			SmallModel:   r.cfg.OpenAI.Small,
			MaxTokens:    r.cfg.OpenAI.MaxTokens,
			Temperature:  r.cfg.OpenAI.Temperature,
		})

	case catalog.InferenceProviderAnthropic:
		return anthropic.NewFromAPIKeyWithOptions(apiKey, anthropic.Options{
			DefaultModel: firstNonEmpty(md.ModelName, r.cfg.Anthropic.Default),
			HighModel:    r.cfg.Anthropic.High,
			SmallModel:   r.cfg.Anthropic.Small,
			MaxTokens:    r.cfg.Anthropic.MaxTokens,
			Temperature:  r.cfg.Anthropic.Temperature,
		})

	case catalog.InferenceProviderBedrock:
		rt, err := r.bedrockRuntime(ctx)
		if err != nil {
			return nil, err
		}
		return bedrock.New(rt, bedrock.Options{
			DefaultModel: firstNonEmpty(md.ModelName, r.cfg.Bedrock.Default),
			HighModel:    r.cfg.Bedrock.High,
			SmallModel:   r.cfg.Bedrock.Small,
			MaxTokens:    r.cfg.Bedrock.MaxTokens,
			Temperature:  float32(r.cfg.Bedrock.Temperature),
		}, nil)

	case catalog.InferenceProviderGemini:
		c, err := gemini.NewFromEngineParams(ctx, apiKey, false, "", "", firstNonEmpty(md.ModelName, r.cfg.Gemini.Default))
		if err != nil {
			return nil, err
		}
		return c, nil

	case catalog.InferenceProviderVertexAI:
		c, err := gemini.NewFromEngineParams(ctx, "", true, r.cfg.Gemini.VertexProject, r.cfg.Gemini.VertexLocation, firstNonEmpty(md.ModelName, r.cfg.Gemini.Default))
		if err != nil {
			return nil, err
		}
		return c, nil

	case catalog.InferenceProviderProxy:
		proxy, ok := r.cfg.Proxies[md.InferenceProvider.Proxy]
		if !ok {
			return nil, fmt.Errorf("resolver: no proxy configured for %q", md.InferenceProvider.Proxy)
		}
		modelName := firstNonEmpty(md.ModelName, proxy.Default)
		maxTokens := proxy.MaxTokens
		// TogetherAI's google/gemma-2 models get max_tokens 4096 when none is configured.
		if maxTokens <= 0 && md.InferenceProvider.Proxy == "togetherai" && strings.HasPrefix(modelName, "google/gemma-2") {
			maxTokens = 4096
		}
		return openai.NewFromAPIKeyWithOptions(apiKey, proxy.BaseURL, openai.Options{
			DefaultModel: modelName,
			HighModel:    proxy.High,
			SmallModel:   proxy.Small,
			MaxTokens:    maxTokens,
			Temperature:  proxy.Temperature,
		})

	default:
		return nil, fmt.Errorf("resolver: unsupported inference provider %q", md.InferenceProvider.Kind)
	}
}

// bedrockRuntime lazily builds the shared *bedrockruntime.Client. AWS
// credentials and region are deployment-wide (IAM role, env, or the
// explicit keys in BedrockConfig), unlike the per-request API keys used by
// the other providers.
func (r *Resolver) bedrockRuntime(ctx context.Context) (*bedrockruntime.Client, error) {
	r.bedrockOnce.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{}
		if r.cfg.Bedrock.Region != "" {
			opts = append(opts, awsconfig.WithRegion(r.cfg.Bedrock.Region))
		}
		if r.cfg.Bedrock.AccessKeyID != "" && r.cfg.Bedrock.SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
				r.cfg.Bedrock.AccessKeyID, r.cfg.Bedrock.SecretAccessKey, "",
			)))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			r.bedrockErr = fmt.Errorf("resolver: load aws config: %w", err)
			return
		}
		r.bedrockRT = bedrockruntime.NewFromConfig(awsCfg)
	})
	return r.bedrockRT, r.bedrockErr
}

func apiKeyOf(cred *credentials.Resolution) string {
	if cred == nil {
		return ""
	}
	return string(cred.Secret())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
