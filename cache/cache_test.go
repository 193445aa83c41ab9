package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vllora/gateway/runtime/agent/model"
)

var errBoom = errors.New("build failed")

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test-cache")
	return New(store, Options{TTL: time.Minute})
}

func TestFingerprintStableUnderCanonicalEquality(t *testing.T) {
	req1 := &model.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []model.ChatCompletionMessage{
			{Role: model.ChatRoleUser, Content: "hello"},
		},
	}
	req2 := &model.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []model.ChatCompletionMessage{
			{Role: model.ChatRoleUser, Content: "hello"},
		},
	}
	require.Equal(t, Fingerprint(req1), Fingerprint(req2))
}

func TestFingerprintDiffersOnContent(t *testing.T) {
	req1 := &model.ChatCompletionRequest{Model: "m", Messages: []model.ChatCompletionMessage{{Role: model.ChatRoleUser, Content: "a"}}}
	req2 := &model.ChatCompletionRequest{Model: "m", Messages: []model.ChatCompletionMessage{{Role: model.ChatRoleUser, Content: "b"}}}
	require.NotEqual(t, Fingerprint(req1), Fingerprint(req2))
}

func TestGetOrBuildCachesResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	var calls int32

	build := func(ctx context.Context) (*Entry, error) {
		atomic.AddInt32(&calls, 1)
		return &Entry{Response: model.ChatCompletionMessageWithFinishReason{
			Message: model.ChatCompletionMessage{Role: model.ChatRoleAssistant, Content: "hi"},
		}}, nil
	}

	entry1, err := c.GetOrBuild(ctx, "fp1", build)
	require.NoError(t, err)
	entry2, err := c.GetOrBuild(ctx, "fp1", build)
	require.NoError(t, err)
	require.Equal(t, entry1.Response.Message.Content, entry2.Response.Message.Content)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetOrBuildSingleFlightsConcurrentCallers(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	build := func(ctx context.Context) (*Entry, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return &Entry{Response: model.ChatCompletionMessageWithFinishReason{
			Message: model.ChatCompletionMessage{Content: "built"},
		}}, nil
	}

	var wg sync.WaitGroup
	results := make([]*Entry, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-started
			entry, err := c.GetOrBuild(ctx, "shared-fp", build)
			require.NoError(t, err)
			results[i] = entry
		}(i)
	}
	// Kick off the first build and let the waiters line up behind it.
	go func() {
		entry, err := c.GetOrBuild(ctx, "shared-fp", build)
		require.NoError(t, err)
		results[0] = entry
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetOrBuildDoesNotCacheErrors(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetOrBuild(ctx, "fp-err", func(ctx context.Context) (*Entry, error) {
		return nil, errBoom
	})
	require.ErrorIs(t, err, errBoom)

	entry, err := c.GetOrBuild(ctx, "fp-err", func(ctx context.Context) (*Entry, error) {
		return &Entry{}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
}
