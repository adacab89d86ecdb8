// Package viewers resolves connected viewers by name.
package viewers

import (
	"sync"

	"signlink.ai/internal/signlink/model"
)

// Viewer is a connected client that can be sent sign text. The connection
// layer owns its lifetime; the cache only remembers it.
type Viewer interface {
	Name() string
	SendSign(loc model.Location, side model.Side, lines model.Lines) error
}

// Source lists the viewers online right now.
type Source interface {
	Online() []Viewer
}

type SourceFunc func() []Viewer

func (f SourceFunc) Online() []Viewer { return f() }

// Cache looks viewers up case-insensitively. Interaction callbacks may reach
// it from goroutines other than the world loop, so every access is locked.
type Cache struct {
	mu     sync.Mutex
	src    Source
	byName map[string]Viewer

	hits   uint64
	misses uint64
}

func NewCache(src Source) *Cache {
	return &Cache{src: src, byName: map[string]Viewer{}}
}

// Fill caches every viewer currently online.
func (c *Cache) Fill() {
	if c.src == nil {
		return
	}
	online := c.src.Online()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range online {
		c.byName[model.FoldName(v.Name())] = v
	}
}

// Lookup returns the viewer with the given name in any letter case. On a
// miss the online list is scanned once and the result cached.
func (c *Cache) Lookup(name string) (Viewer, bool) {
	key := model.FoldName(name)
	if key == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.byName[key]; ok {
		c.hits++
		return v, true
	}
	c.misses++
	if c.src == nil {
		return nil, false
	}
	for _, v := range c.src.Online() {
		if model.FoldName(v.Name()) == key {
			c.byName[key] = v
			return v, true
		}
	}
	return nil, false
}

func (c *Cache) Put(v Viewer) {
	c.mu.Lock()
	c.byName[model.FoldName(v.Name())] = v
	c.mu.Unlock()
}

// Forget drops a viewer, typically on disconnect.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	delete(c.byName, model.FoldName(name))
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}

func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
