package project

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedCatalog keeps recently read listings for ttl. Misses, including
// not-found answers, always go to the underlying catalog.
type CachedCatalog struct {
	mu    sync.Mutex
	next  Catalog
	ttl   time.Duration
	cache *lru.Cache[string, *cacheEntry]
	now   func() time.Time
}

type cacheEntry struct {
	project   Project
	expiresAt time.Time
}

func NewCachedCatalog(next Catalog, size int, ttl time.Duration) (*CachedCatalog, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedCatalog{next: next, ttl: ttl, cache: cache, now: time.Now}, nil
}

func (c *CachedCatalog) Get(ctx context.Context, id string) (*Project, error) {
	c.mu.Lock()
	entry, ok := c.cache.Get(id)
	c.mu.Unlock()
	if ok && c.now().Before(entry.expiresAt) {
		p := entry.project
		return &p, nil
	}

	p, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(id, &cacheEntry{project: *p, expiresAt: c.now().Add(c.ttl)})
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops id so the next Get reads through.
func (c *CachedCatalog) Invalidate(id string) {
	c.mu.Lock()
	c.cache.Remove(id)
	c.mu.Unlock()
}

// Upsert writes through to the underlying catalog and drops the cached copy.
func (c *CachedCatalog) Upsert(ctx context.Context, p *Project) error {
	w, ok := c.next.(Listings)
	if !ok {
		return ErrReadOnly
	}
	if err := w.Upsert(ctx, p); err != nil {
		return err
	}
	c.Invalidate(p.ID)
	return nil
}
