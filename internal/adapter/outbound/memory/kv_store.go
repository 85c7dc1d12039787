package memory

import (
	"context"
	"sync"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/killswitch"
)

// KVStore is an in-memory implementation of killswitch.KV, for local
// development, tests, and single-replica deployments without Redis.
type KVStore struct {
	mu      sync.Mutex
	reasons map[string]string
}

var _ killswitch.KV = (*KVStore)(nil)

// NewKVStore returns an empty in-memory KV.
func NewKVStore() *KVStore {
	return &KVStore{reasons: make(map[string]string)}
}

func (s *KVStore) Set(_ context.Context, key, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons[key] = reason
	return nil
}

func (s *KVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.reasons[key]
	return reason, ok, nil
}

func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reasons, key)
	return nil
}

func (s *KVStore) Ping(_ context.Context) error {
	return nil
}
