// Package redis backs the kill-switch KV port with a shared Redis
// instance, so kill switches are visible across gateway replicas.
package redis

import (
	"context"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
	goredis "github.com/redis/go-redis/v9"
)

// KVStore implements killswitch.KV over a *redis.Client. Client errors are
// returned as they are; nothing here reconnects or recreates the
// connection pool. The killswitch.Switch layer above owns the retry count.
type KVStore struct {
	client *goredis.Client
}

var _ killswitch.KV = (*KVStore)(nil)

// New wraps an existing *redis.Client.
func New(client *goredis.Client) *KVStore {
	return &KVStore{client: client}
}

// NewFromURL builds a client from a redis:// URL (AGENTGATE_REDIS_URL).
func NewFromURL(rawURL string) (*KVStore, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &KVStore{client: goredis.NewClient(opts)}, nil
}

func (s *KVStore) Set(ctx context.Context, key, reason string) error {
	return s.client.Set(ctx, key, reason, 0).Err()
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *KVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *KVStore) Close() error {
	return s.client.Close()
}
