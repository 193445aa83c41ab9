package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vllora/gateway/runtime/agent/model"
)

// Entry is the stored unit: the captured ModelEvent sequence (as wire
// envelopes, see stream.MarshalEvent) plus the final response, replayed
// deterministically on a cache hit (spec §2, §4.2 CachedModel).
type Entry struct {
	Events   [][]byte                                    `json:"events"`
	Response model.ChatCompletionMessageWithFinishReason `json:"response"`
}

// Store is the backing key/value store for cache entries (a Redis
// instance in production, an in-memory map or miniredis in tests).
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Set(ctx context.Context, fingerprint string, entry *Entry, ttl time.Duration) error
}

// Options configures Cache eviction behavior.
type Options struct {
	TTL time.Duration
	// MaxEntries is a future-work hook for a bounded-size eviction policy
	// (spec §9: "mark as future work"); zero means unbounded and is the
	// only value currently enforced.
	MaxEntries int
}

// Cache is the Response Cache. Builds for the same fingerprint are
// collapsed via singleflight so concurrent requests share one outcome
// (spec §4.5's at-most-one-concurrent-build guarantee).
type Cache struct {
	store   Store
	options Options
	group   singleflight.Group
}

// New constructs a Cache backed by store.
func New(store Store, options Options) *Cache {
	return &Cache{store: store, options: options}
}

// Lookup returns the stored Entry for fingerprint, or found=false on a
// miss. It does not participate in single-flight: reads are always
// immediate.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	if fingerprint == "" {
		return nil, false, nil
	}
	return c.store.Get(ctx, fingerprint)
}

// GetOrBuild returns the cached Entry for fingerprint if present;
// otherwise it invokes build exactly once even under concurrent callers
// for the same fingerprint, stores the result, and returns it to every
// waiter.
//
// build's error is not cached: a failed build should not poison the
// fingerprint for the next caller.
func (c *Cache) GetOrBuild(ctx context.Context, fingerprint string, build func(ctx context.Context) (*Entry, error)) (*Entry, error) {
	if fingerprint == "" {
		return build(ctx)
	}

	if entry, ok, err := c.store.Get(ctx, fingerprint); err != nil {
		return nil, fmt.Errorf("cache: reading fingerprint %q: %w", fingerprint, err)
	} else if ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		entry, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if setErr := c.store.Set(ctx, fingerprint, entry, c.options.TTL); setErr != nil {
			return nil, fmt.Errorf("cache: storing fingerprint %q: %w", fingerprint, setErr)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Marshal encodes an Entry to bytes for a Store implementation backed by a
// byte-oriented KV store (e.g. Redis).
func Marshal(entry *Entry) ([]byte, error) { return json.Marshal(entry) }

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
