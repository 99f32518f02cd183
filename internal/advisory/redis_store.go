package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "modelpilot:advisory:"

// RedisStore is a Redis-backed advisory cache shared across processes. Redis
// expiry mirrors the entry TTL so the server reclaims stale keys on its own.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed advisory cache.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the cached entry for key if present and unexpired.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to get advisory cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal advisory cache entry: %w", err)
	}
	if entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores entry under key with server-side expiry matching the entry TTL.
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal advisory cache entry: %w", err)
	}
	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set advisory cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
