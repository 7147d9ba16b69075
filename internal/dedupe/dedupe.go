// Package dedupe provides bounded "seen" sets used to make side effects
// idempotent. Sets are constructed by their owner and passed explicitly;
// there is no package-level state.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Set records keys. MarkOnce returns true the first time a key is marked
// within the set's retention window and false afterwards.
type Set interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// MemorySet is a Set bounded by capacity and TTL. When full, the oldest
// key is evicted.
type MemorySet struct {
	// mu makes the peek-then-add in MarkOnce atomic.
	mu   sync.Mutex
	keys *expirable.LRU[string, struct{}]
}

// NewMemorySet returns a set holding at most capacity keys for ttl each.
// A non-positive ttl keeps keys until evicted by capacity.
func NewMemorySet(capacity int, ttl time.Duration) *MemorySet {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemorySet{keys: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (s *MemorySet) MarkOnce(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Peek ignores expired entries and leaves recency alone.
	if _, ok := s.keys.Peek(key); ok {
		return false, nil
	}
	s.keys.Add(key, struct{}{})
	return true, nil
}

// Len returns the number of retained keys. Expired keys may linger until
// the cache's background sweep removes them.
func (s *MemorySet) Len() int {
	return s.keys.Len()
}

var _ Set = (*MemorySet)(nil)
