package claimcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists offloaded payloads in Redis with an optional TTL, for
// deployments where multiple nodes need to resolve each other's references.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisStoreOptions configures a RedisStore. Client is required.
type RedisStoreOptions struct {
	Client *redis.Client

	// Prefix namespaces claim check keys in Redis. Defaults to
	// "baton:claimcheck:".
	Prefix string

	// TTL bounds how long offloaded payloads are kept. Zero keeps them until
	// explicitly released; set it at least as long as the longest execution
	// plus caller settlement.
	TTL time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("baton claimcheck: redis client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "baton:claimcheck:"
	}
	return &RedisStore{client: opts.Client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Put stores data under a fresh key and returns it.
func (s *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	key := uuid.NewString()
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("baton claimcheck: redis set %s: %w", key, err)
	}
	return key, nil
}

// Get returns the data stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("baton claimcheck: payload %s not found", key)
		}
		return nil, fmt.Errorf("baton claimcheck: redis get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the data stored under key. An absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("baton claimcheck: redis del %s: %w", key, err)
	}
	return nil
}

// Health verifies Redis connectivity.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ListKeys returns the keys of all stored payloads.
func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("baton claimcheck: redis scan: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
