package execution

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/cache"
	"github.com/vllora/gateway/catalog"
	"github.com/vllora/gateway/credentials"
	"github.com/vllora/gateway/errkind"
	"github.com/vllora/gateway/guardrail"
	"github.com/vllora/gateway/router"
	"github.com/vllora/gateway/runtime/agent/model"
	"github.com/vllora/gateway/runtime/agent/telemetry"
)

type memCacheStore struct {
	entries map[string]*cache.Entry
}

func newMemCacheStore() *memCacheStore { return &memCacheStore{entries: map[string]*cache.Entry{}} }

func (m *memCacheStore) Get(_ context.Context, fingerprint string) (*cache.Entry, bool, error) {
	e, ok := m.entries[fingerprint]
	return e, ok, nil
}

func (m *memCacheStore) Set(_ context.Context, fingerprint string, entry *cache.Entry, _ time.Duration) error {
	m.entries[fingerprint] = entry
	return nil
}

type fakeCatalog struct{ md *catalog.ModelMetadata }

func (f fakeCatalog) Resolve(_ context.Context, _, _ string) (*catalog.ModelMetadata, error) {
	if f.md == nil {
		return nil, errors.New("not found")
	}
	return f.md, nil
}

type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *fakeStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *fakeStreamer) Close() error             { return nil }
func (s *fakeStreamer) Metadata() map[string]any { return nil }

type fakeClient struct {
	chunks []model.Chunk
	err    error

	// failFirstN, when non-zero, makes the first N Stream calls fail with
	// err before the chunks are served on the following call.
	failFirstN int
	calls      int
}

func (c *fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, model.ErrStreamingUnsupported
}
func (c *fakeClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	c.calls++
	if c.calls <= c.failFirstN {
		return nil, c.err
	}
	return &fakeStreamer{chunks: c.chunks}, nil
}

type fakeResolver struct {
	client model.Client
	err    error
	calls  int
}

func (r *fakeResolver) Resolve(context.Context, *catalog.ModelMetadata, *credentials.Resolution) (model.Client, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

func testModelMetadata() *catalog.ModelMetadata {
	return &catalog.ModelMetadata{
		Model:             "gpt-test",
		ModelProvider:     "openai",
		InferenceProvider: catalog.InferenceProvider{Kind: catalog.InferenceProviderOpenAI},
		ModelName:         "gpt-test-upstream",
	}
}

func textChunks(text, stop string) []model.Chunk {
	return []model.Chunk{
		{Type: model.ChunkTypeText, Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}},
		{Type: model.ChunkTypeStop, StopReason: stop, UsageDelta: &model.TokenUsage{InputTokens: 10, OutputTokens: 5}},
	}
}

func basicRequest() *model.ChatCompletionRequest {
	return &model.ChatCompletionRequest{
		Model:    "gpt-test",
		Messages: []model.ChatCompletionMessage{{Role: model.ChatRoleUser, Content: "hello"}},
	}
}

func TestInvoke_HappyPath(t *testing.T) {
	resolver := &fakeResolver{client: &fakeClient{chunks: textChunks("hi there", "stop")}}
	p, err := New(Options{
		Router:    router.New(fakeCatalog{md: testModelMetadata()}),
		Providers: resolver,
		Logger:    telemetry.NewNoopLogger(),
	})
	require.NoError(t, err)

	msg, err := p.Invoke(context.Background(), basicRequest(), RequestContext{ProjectID: "proj1"})
	require.NoError(t, err)
	require.Equal(t, "hi there", msg.Message.Content)
	require.Equal(t, model.FinishReasonStop, msg.FinishReason)
	require.Equal(t, 1, resolver.calls)
}

func TestInvoke_InputGuardBlocksBeforeProviderCall(t *testing.T) {
	resolver := &fakeResolver{client: &fakeClient{chunks: textChunks("hi", "stop")}}
	engine := guardrail.New()
	engine.Register(guardrail.KindWordCount, alwaysFailEvaluator{})

	p, err := New(Options{
		Router:     router.New(fakeCatalog{md: testModelMetadata()}),
		Providers:  resolver,
		Guardrails: engine,
		Logger:     telemetry.NewNoopLogger(),
	})
	require.NoError(t, err)

	rc := RequestContext{
		ProjectID: "proj1",
		Guards: []guardrail.Guard{
			{ID: "g1", Stage: guardrail.StageInput, Action: guardrail.ActionValidate, Kind: guardrail.KindWordCount},
		},
	}
	_, err = p.Invoke(context.Background(), basicRequest(), rc)
	require.Error(t, err)

	var classified errkind.Classified
	require.ErrorAs(t, err, &classified)
	require.Equal(t, errkind.GuardFailed, classified.Kind())
	require.Equal(t, 0, resolver.calls, "provider must not be invoked once an input guard fails")
}

type alwaysFailEvaluator struct{}

func (alwaysFailEvaluator) Evaluate(context.Context, guardrail.Guard, guardrail.Input) (guardrail.Result, error) {
	return guardrail.Result{Kind: guardrail.ResultKindBoolean, Boolean: &guardrail.BooleanResult{Passed: false}}, nil
}

func TestInvoke_ModelNotFound(t *testing.T) {
	resolver := &fakeResolver{client: &fakeClient{chunks: textChunks("hi", "stop")}}
	p, err := New(Options{
		Router:    router.New(fakeCatalog{}),
		Providers: resolver,
		Logger:    telemetry.NewNoopLogger(),
	})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), basicRequest(), RequestContext{ProjectID: "proj1"})
	require.Error(t, err)
	require.Equal(t, 0, resolver.calls)
}

func TestInvoke_RetriesTransientFailureThenSucceeds(t *testing.T) {
	client := &fakeClient{
		chunks:     textChunks("recovered", "stop"),
		err:        &retryableErr{},
		failFirstN: 1,
	}
	resolver := &fakeResolver{client: client}
	p, err := New(Options{
		Router:            router.New(fakeCatalog{md: testModelMetadata()}),
		Providers:         resolver,
		Logger:            telemetry.NewNoopLogger(),
		DefaultMaxRetries: 1,
	})
	require.NoError(t, err)

	msg, err := p.Invoke(context.Background(), basicRequest(), RequestContext{ProjectID: "proj1"})
	require.NoError(t, err)
	require.Equal(t, "recovered", msg.Message.Content)
	require.Equal(t, 2, client.calls)
}

type retryableErr struct{}

func (*retryableErr) Error() string      { return "transient" }
func (*retryableErr) Kind() errkind.Kind { return errkind.ProviderTransient }

func TestInvoke_CacheHitSkipsProviderAndReplaysStoredResponse(t *testing.T) {
	store := newMemCacheStore()
	c := cache.New(store, cache.Options{TTL: time.Minute})

	req := basicRequest()
	req.Extra.Cache = &model.CacheSpec{Enabled: true}
	fingerprint := cache.Fingerprint(req)
	require.NoError(t, store.Set(context.Background(), fingerprint, &cache.Entry{
		Response: model.ChatCompletionMessageWithFinishReason{
			Message:      model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "from cache"},
			FinishReason: model.FinishReasonStop,
		},
	}, time.Minute))

	resolver := &fakeResolver{client: &fakeClient{chunks: textChunks("should not be called", "stop")}}
	p, err := New(Options{
		Router:    router.New(fakeCatalog{md: testModelMetadata()}),
		Providers: resolver,
		Cache:     c,
		Logger:    telemetry.NewNoopLogger(),
	})
	require.NoError(t, err)

	msg, err := p.Invoke(context.Background(), req, RequestContext{ProjectID: "proj1"})
	require.NoError(t, err)
	require.Equal(t, "from cache", msg.Message.Content)
	require.Equal(t, 0, resolver.calls, "a cache hit must not resolve the real provider")
}
