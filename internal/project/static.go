package project

import (
	"context"
	"fmt"
	"sync"
)

// StaticCatalog serves a fixed set of listings. Used with the in-memory
// store and in tests.
type StaticCatalog struct {
	mu       sync.RWMutex
	projects map[string]Project
}

func NewStaticCatalog(projects ...Project) *StaticCatalog {
	c := &StaticCatalog{projects: make(map[string]Project, len(projects))}
	for _, p := range projects {
		c.projects[p.ID] = p
	}
	return c
}

func (c *StaticCatalog) Get(_ context.Context, id string) (*Project, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &p, nil
}

func (c *StaticCatalog) Upsert(_ context.Context, p *Project) error {
	c.mu.Lock()
	c.projects[p.ID] = *p
	c.mu.Unlock()
	return nil
}
