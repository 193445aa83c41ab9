// Package execution implements the Execution Pipeline (spec §4.1): the
// nine-step algorithm that resolves a model, probes the Response Cache,
// opens a model_call span, runs input/output guardrails around a provider
// invocation, records cost/usage/ttft, appends to History, and closes the
// span so exporters and the per-project broadcast fire. Grounded on the
// middleware-onion shape of features/model/gateway/server.go, generalized
// from "provider client wrapped in middleware" to "provider call wrapped in
// the full pipeline".
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/vllora/gateway/cache"
	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/costcalc"
	"github.com/vllora/gateway/credentials"
	"github.com/vllora/gateway/errkind"
	"github.com/vllora/gateway/guardrail"
	"github.com/vllora/gateway/history"
	"github.com/vllora/gateway/metrics"
	"github.com/vllora/gateway/providers/cached"
	"github.com/vllora/gateway/router"
	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/telemetry"
	"github.com/vllora/gateway/span"
)

// ProviderResolver constructs a model.Client for a bound model definition.
// Implementations own credential resolution and per-provider SDK
// construction (providers/anthropic, providers/bedrock, providers/openai,
// providers/gemini, providers/cached); execution only depends on the
// capability, matching spec §4.2's "one uniform capability" framing.
type ProviderResolver interface {
	Resolve(ctx context.Context, md *catalog.ModelMetadata, cred *credentials.Resolution) (model.Client, error)
}

// RequestContext carries the caller-scoped fields the pipeline needs beyond
// the wire request: identity, project/tenant scoping, and the run/thread
// baggage propagated onto the span.
type RequestContext struct {
	ProjectID string
	Tenant    string
	RunID     string
	ThreadID  string
	UserID    string

	// ChatTracingEnabled gates step 8 (History); some projects disable
	// persistence of conversation content.
	ChatTracingEnabled bool

	// Guards lists the guards requested for this request (request.extra.guards).
	Guards []guardrail.Guard

	// RouterMetadata feeds the Conditional router strategy, when RouterSpec
	// names one.
	RouterMetadata router.Metadata
	RouterSpec     *router.Spec

	// MaxRetries overrides Options.DefaultMaxRetries for this request.
	MaxRetries *int
}

// Options configures a Pipeline at construction. Span publication to the
// broadcast fan-out and the Trace/Metrics Writer both happen upstream of
// Tracer, not inside the pipeline: the composition root builds one
// sdktrace.TracerProvider via span.NewProvider with a span.MultiSink
// combining the broadcast.Manager and a span.StorageSink wrapping
// storage.Writer, registers it with otel.SetTracerProvider, and hands the
// pipeline a telemetry.Tracer (telemetry.NewClueTracer) reading from that
// global provider. The pipeline only ever sees the Tracer abstraction.
type Options struct {
	Router            *router.Router
	Cache             *cache.Cache
	Guardrails        *guardrail.Engine
	Tracer            telemetry.Tracer
	Metrics           *metrics.Recorder
	History           *history.Manager
	Credentials       *credentials.Store
	Providers         ProviderResolver
	Logger            telemetry.Logger
	DefaultMaxRetries int
}

// Pipeline is the Execution Pipeline: one instance serves every request
// for the process, holding only read-mostly shared dependencies (spec §9
// "Shared immutable config").
type Pipeline struct {
	router      *router.Router
	cache       *cache.Cache
	guardrails  *guardrail.Engine
	tracer      telemetry.Tracer
	metrics     *metrics.Recorder
	history     *history.Manager
	credentials *credentials.Store
	providers   ProviderResolver
	logger      telemetry.Logger
	maxRetries  int
}

// New constructs a Pipeline. Router and Providers are required; every
// other dependency degrades gracefully to a no-op when nil, so tests can
// exercise a subset of the pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("execution: router is required")
	}
	if opts.Providers == nil {
		return nil, fmt.Errorf("execution: a ProviderResolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Pipeline{
		router:      opts.Router,
		cache:       opts.Cache,
		guardrails:  opts.Guardrails,
		tracer:      tracer,
		metrics:     opts.Metrics,
		history:     opts.History,
		credentials: opts.Credentials,
		providers:   opts.Providers,
		logger:      logger,
		maxRetries:  opts.DefaultMaxRetries,
	}, nil
}

// PipelineError reports a terminal failure classified per spec §7, with
// enough structure for the HTTP layer's JSON error body.
type PipelineError struct {
	kind    errkind.Kind
	message string
	GuardID string
	cause   error
}

func (e *PipelineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("execution: %s: %v", e.message, e.cause)
	}
	return "execution: " + e.message
}
func (e *PipelineError) Kind() errkind.Kind { return e.kind }
func (e *PipelineError) Unwrap() error       { return e.cause }

func newPipelineError(kind errkind.Kind, message string, cause error) *PipelineError {
	return &PipelineError{kind: kind, message: message, cause: cause}
}

// Invoke runs the full nine-step pipeline for a unary request and returns
// the final assistant message.
func (p *Pipeline) Invoke(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext) (*model.ChatCompletionMessageWithFinishReason, error) {
	var final *model.ChatCompletionMessageWithFinishReason
	err := p.run(ctx, req, rc, nil, func(msg model.ChatCompletionMessageWithFinishReason) {
		final = &msg
	})
	return final, err
}

// Stream runs the full pipeline in streaming mode, invoking send for every
// chunk produced by the provider (spec §4.1's public `stream` contract).
// send is also the point at which an SSE handler would forward frames to
// the client; errors from send abort the call.
func (p *Pipeline) Stream(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext, send func(model.Chunk) error) error {
	return p.run(ctx, req, rc, send, nil)
}

func (p *Pipeline) run(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext, send func(model.Chunk) error, onFinal func(model.ChatCompletionMessageWithFinishReason)) error {
	start := time.Now()

	// Step 1: resolve model.
	md, err := p.resolveModel(ctx, req, rc)
	if err != nil {
		p.recordErrorMetric(ctx, rc)
		return err
	}

	// Step 2: fingerprint & cache probe.
	fingerprint := ""
	cacheState := "MISS"
	var cachedEntry *cache.Entry
	if req.Extra.Cache != nil && req.Extra.Cache.Enabled && p.cache != nil {
		fingerprint = cache.Fingerprint(req)
		if entry, found, lookupErr := p.cache.Lookup(ctx, fingerprint); lookupErr == nil && found {
			cachedEntry = entry
			cacheState = "HIT"
		}
	}

	// Step 3: create model_call span.
	baggage := map[string]string{
		span.BaggageRunID:     rc.RunID,
		span.BaggageThreadID:  rc.ThreadID,
		span.BaggageTenant:    rc.Tenant,
		span.BaggageProjectID: rc.ProjectID,
	}
	ctx, handle := span.Start(ctx, p.tracer, span.OpModelCall, baggage)
	handle.RecordInput(sanitizeRequest(req))
	handle.RecordModel(md.SanitizeJSON())
	handle.RecordCache(cacheState)
	handle.Tag(span.AttrProviderName, md.Model.ModelProvider)
	handle.Tag(span.AttrModelName, md.Model.ModelName)
	handle.Tag(span.AttrInferenceModelName, md.Model.ModelName)

	var pipelineErr error
	defer func() {
		handle.End(pipelineErr)
		p.recordLatencyMetric(ctx, rc, start, pipelineErr)
	}()

	// Step 4: input-stage guardrails.
	if guardErr := p.evaluateGuards(ctx, rc, guardrail.StageInput, lastUserText(req.Messages)); guardErr != nil {
		pipelineErr = guardErr
		return guardErr
	}

	maxRetries := p.maxRetries
	if rc.MaxRetries != nil {
		maxRetries = *rc.MaxRetries
	}

	cred := p.resolveCredential(rc.ProjectID, md.Model.ModelProvider)
	if cred != nil {
		defer cred.Close()
	}
	md.CredentialsIdent = string(credIdentifier(cred))
	handle.Tag(span.AttrCredentialsIdentifier, md.CredentialsIdent)

	// Step 5/6: invoke the provider (with the internal tool-calling loop)
	// under the retry budget, emitting events as they arrive. A cache hit
	// binds the CachedModel replay client instead of resolving the real
	// provider (spec §4.5: "the pipeline swaps in a CachedModel provider
	// client").
	accum := &costcalc.Accumulator{}
	var result *model.ChatCompletionMessageWithFinishReason
	var attemptErr error
	if cachedEntry != nil {
		mreq, convErr := toModelRequest(req, req.Messages, rc.RunID)
		if convErr != nil {
			pipelineErr = newPipelineError(errkind.Validation, "translate cached request", convErr)
			return pipelineErr
		}
		result, _, _, attemptErr = p.invokeOnce(ctx, cached.New(cachedEntry), mreq, send)
	} else {
		result, attemptErr = p.invokeWithRetry(ctx, md, cred, req, rc.RunID, handle, accum, maxRetries, send)
	}
	if attemptErr != nil {
		pipelineErr = p.classifyProviderError(attemptErr)
		return pipelineErr
	}

	// Step 7: output-stage guardrails.
	if guardErr := p.evaluateGuards(ctx, rc, guardrail.StageOutput, result.Message.Content); guardErr != nil {
		pipelineErr = guardErr
		return guardErr
	}

	// Write-through: a successful, guardrail-passing, non-cached
	// invocation with caching enabled populates the Response Cache.
	if fingerprint != "" && cacheState != "HIT" && p.cache != nil {
		entry := cache.Entry{Response: *result}
		_, _ = p.cache.GetOrBuild(ctx, fingerprint, func(context.Context) (*cache.Entry, error) {
			return &entry, nil
		})
	}

	// Step 8: History.
	if rc.ThreadID != "" && rc.ChatTracingEnabled && p.history != nil {
		p.recordHistory(ctx, rc, md, req.Messages, result.Message, handle)
	}

	// Step 9: span close (input/output, deferred End above) and metrics.
	handle.RecordOutput(result)
	total := accum.Total()
	p.recordCostMetrics(ctx, rc, total.Cost)

	if onFinal != nil {
		onFinal(*result)
	}
	return nil
}

func (p *Pipeline) resolveModel(ctx context.Context, req *model.ChatCompletionRequest, rc RequestContext) (*boundModel, error) {
	rreq := router.Request{
		Model:     req.Model,
		ProjectID: rc.ProjectID,
		Metadata:  rc.RouterMetadata,
		Spec:      rc.RouterSpec,
	}
	md, err := p.router.Resolve(ctx, rreq)
	if err != nil {
		return nil, newPipelineError(errkind.Validation, "resolve model", err)
	}
	return &boundModel{Model: md}, nil
}

// boundModel pairs the resolved catalog metadata with per-request fields
// (credentials identifier) filled in later in the pipeline.
type boundModel struct {
	Model            *catalog.ModelMetadata
	CredentialsIdent string
}

func (b *boundModel) SanitizeJSON() map[string]any {
	return map[string]any{
		"model":               b.Model.Model,
		"model_name":          b.Model.ModelName,
		"model_provider":      b.Model.ModelProvider,
		"inference_provider":  b.Model.InferenceProvider.Kind,
		"credentials_identifier": b.CredentialsIdent,
	}
}

func sanitizeRequest(req *model.ChatCompletionRequest) map[string]any {
	return map[string]any{
		"model":         req.Model,
		"message_count": len(req.Messages),
		"stream":        req.Stream,
		"tool_count":    len(req.Tools),
	}
}

func lastUserText(msgs []model.ChatCompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.ChatRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func (p *Pipeline) evaluateGuards(ctx context.Context, rc RequestContext, stage guardrail.Stage, text string) error {
	if p.guardrails == nil || len(rc.Guards) == 0 {
		return nil
	}
	err := p.guardrails.EvaluateAll(ctx, rc.Guards, stage, guardrail.Input{Text: text})
	if err == nil {
		return nil
	}
	if failed, ok := err.(*guardrail.FailedError); ok {
		return newPipelineError(errkind.GuardFailed, fmt.Sprintf("guard %q failed", failed.GuardID), failed)
	}
	return newPipelineError(errkind.GuardFailed, "guard evaluation error", err)
}

func (p *Pipeline) resolveCredential(projectID, provider string) *credentials.Resolution {
	if p.credentials == nil {
		return nil
	}
	res, err := p.credentials.Resolve(projectID, provider)
	if err != nil {
		return nil
	}
	return res
}

func credIdentifier(res *credentials.Resolution) credentials.Identifier {
	if res == nil {
		return credentials.IdentifierVllora
	}
	return res.Identifier
}

func (p *Pipeline) classifyProviderError(err error) error {
	if classified, ok := err.(errkind.Classified); ok {
		return classified
	}
	return newPipelineError(errkind.ProviderTransient, "provider invocation failed", err)
}

func (p *Pipeline) recordHistory(ctx context.Context, rc RequestContext, md *boundModel, reqMsgs []model.ChatCompletionMessage, assistant model.ChatCompletionMessage, handle *span.Handle) {
	thread, err := p.history.EnsureThread(ctx, rc.ThreadID, md.Model.Model, rc.UserID, rc.ProjectID)
	if err != nil {
		p.logger.Warn(ctx, "execution: ensure thread failed", "thread_id", rc.ThreadID, "error", err)
		return
	}
	result, err := p.history.RecordTurn(ctx, thread, reqMsgs, assistant)
	if err != nil {
		p.logger.Warn(ctx, "execution: record turn failed", "thread_id", rc.ThreadID, "error", err)
		return
	}
	if result.DedupedMessageID != "" {
		handle.Tag("message_id", result.DedupedMessageID)
	}
}

func (p *Pipeline) recordErrorMetric(ctx context.Context, rc RequestContext) {
	if p.metrics == nil {
		return
	}
	p.metrics.Error(ctx, metrics.Tags{"project_id": rc.ProjectID})
}

func (p *Pipeline) recordLatencyMetric(ctx context.Context, rc RequestContext, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	latencyMS := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		p.metrics.Error(ctx, metrics.Tags{"project_id": rc.ProjectID})
	}
	p.metrics.RequestFinished(ctx, latencyMS, nil, nil, metrics.Tags{"project_id": rc.ProjectID})
}

func (p *Pipeline) recordCostMetrics(ctx context.Context, rc RequestContext, cost float64) {
	if p.metrics == nil {
		return
	}
	p.metrics.Cost(ctx, cost, metrics.Tags{"project_id": rc.ProjectID})
}
