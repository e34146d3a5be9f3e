package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/seiflotfy/stash"
)

// DefaultCacheSize is the number of decoded containers Cached keeps when no
// size is given.
const DefaultCacheSize = 128

// Cached keeps recently used decoded containers in memory in front of another
// Store. Containers are read-only once built, so cached values are shared
// between callers.
type Cached struct {
	next  Store
	cache *lru.Cache[string, *stash.Container]
}

// NewCached wraps next with an LRU of the given size (0 = DefaultCacheSize).
func NewCached(next Store, size int) (*Cached, error) {
	if size == 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *stash.Container](size)
	if err != nil {
		return nil, fmt.Errorf("create container cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Put writes through to the wrapped store and caches c on success.
func (s *Cached) Put(ctx context.Context, key string, c *stash.Container) error {
	if err := s.next.Put(ctx, key, c); err != nil {
		s.cache.Remove(key)
		return err
	}
	s.add(key, c)
	return nil
}

// Get serves key from the cache, loading it from the wrapped store on a miss.
func (s *Cached) Get(ctx context.Context, key string) (*stash.Container, error) {
	if c, ok := s.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return c, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	c, err := s.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.add(key, c)
	return c, nil
}

func (s *Cached) add(key string, c *stash.Container) {
	if evicted := s.cache.Add(key, c); evicted {
		cacheEvictions.Inc()
	}
}

// Delete removes key from the cache and the wrapped store.
func (s *Cached) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return s.next.Delete(ctx, key)
}

// Keys lists the wrapped store's keys.
func (s *Cached) Keys(ctx context.Context) ([]string, error) {
	lister, ok := s.next.(Lister)
	if !ok {
		return nil, fmt.Errorf("wrapped %T cannot list keys", s.next)
	}
	return lister.Keys(ctx)
}

// Len reports the number of cached containers.
func (s *Cached) Len() int {
	return s.cache.Len()
}

// Close purges the cache and closes the wrapped store.
func (s *Cached) Close() error {
	s.cache.Purge()
	return s.next.Close()
}
