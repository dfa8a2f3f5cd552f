package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ashureev/contextqa/internal/domain"
)

// DefaultMaxEntries bounds the in-memory registry when no size is configured.
const DefaultMaxEntries = 10000

// MemoryRegistry is a bounded in-process registry. The least recently used
// session is dropped when full and entries expire after ttl (0 disables expiry).
type MemoryRegistry struct {
	cache *expirable.LRU[string, *domain.Session]

	// deleting marks ids removed through Delete so onEvict only reports
	// capacity and TTL evictions.
	mu       sync.Mutex
	deleting map[string]struct{}
	closed   bool
}

// NewMemory creates an in-memory registry. onEvict may be nil.
func NewMemory(maxEntries int, ttl time.Duration, onEvict EvictFunc) *MemoryRegistry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	r := &MemoryRegistry{deleting: make(map[string]struct{})}
	r.cache = expirable.NewLRU[string, *domain.Session](maxEntries, func(id string, _ *domain.Session) {
		r.mu.Lock()
		_, explicit := r.deleting[id]
		closed := r.closed
		r.mu.Unlock()
		if !explicit && !closed && onEvict != nil {
			onEvict(id)
		}
	}, ttl)
	return r
}

func (r *MemoryRegistry) Put(_ context.Context, s *domain.Session) error {
	r.cache.Add(s.ID, s)
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*domain.Session, error) {
	s, ok := r.cache.Get(id)
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	r.deleting[id] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.deleting, id)
		r.mu.Unlock()
	}()
	return r.cache.Remove(id), nil
}

func (r *MemoryRegistry) Len(_ context.Context) (int, error) {
	return r.cache.Len(), nil
}

// Close drops every entry without reporting evictions.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cache.Purge()
	return nil
}
