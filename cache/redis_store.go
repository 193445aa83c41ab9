package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the Response Cache with a Redis instance (or, in
// tests, a miniredis server speaking the same protocol).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore. prefix namespaces keys so the
// cache can share a Redis instance with other subsystems.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(fingerprint string) string { return s.prefix + ":" + fingerprint }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entry, err := Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Set implements Store. A zero ttl stores the entry without expiration,
// matching spec §4.5's "default is TTL-only, no hard cap" when TTL is
// configured to zero by an operator who wants unbounded retention.
func (s *RedisStore) Set(ctx context.Context, fingerprint string, entry *Entry, ttl time.Duration) error {
	data, err := Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(fingerprint), data, ttl).Err()
}
