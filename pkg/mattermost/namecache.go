// Copyright 2024-2026 Aiku AI

package mattermost

import "sync"

// nameCache is a bounded user id to display name map. When it fills up the
// whole cache is dropped; names are cheap to re-fetch and this keeps the
// implementation trivial.
type nameCache struct {
	mu    sync.Mutex
	limit int
	names map[string]string
}

func newNameCache(limit int) *nameCache {
	return &nameCache{
		limit: limit,
		names: make(map[string]string),
	}
}

func (c *nameCache) get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.names[id]
	return name, ok
}

func (c *nameCache) put(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.names) >= c.limit {
		c.names = make(map[string]string)
	}
	c.names[id] = name
}
