package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CachedNotebook is a notebook as last fetched from or saved to the backend.
type CachedNotebook struct {
	Title     string
	Content   string
	Key       string
	Timestamp time.Time
}

// ContentKey generates a cache key from a notebook's title and content.
func ContentKey(title, content string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// NotebookCache holds notebooks by id.
type NotebookCache struct {
	mu    sync.RWMutex
	items map[string]CachedNotebook
	ttl   time.Duration
	now   func() time.Time
}

// NewNotebookCache creates a cache. Entries older than ttl are ignored by
// Load; a zero ttl keeps them until invalidated.
func NewNotebookCache(ttl time.Duration) *NotebookCache {
	return &NotebookCache{
		items: make(map[string]CachedNotebook),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Load returns the cached notebook for id.
func (c *NotebookCache) Load(id string) (CachedNotebook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.items[id]
	if !ok {
		return CachedNotebook{}, false
	}
	if c.ttl > 0 && c.now().Sub(n.Timestamp) > c.ttl {
		return CachedNotebook{}, false
	}
	return n, true
}

// Store records the notebook's current title and content.
func (c *NotebookCache) Store(id, title, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[id] = CachedNotebook{
		Title:     title,
		Content:   content,
		Key:       ContentKey(title, content),
		Timestamp: c.now(),
	}
}

// Invalidate drops id.
func (c *NotebookCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

// Unchanged reports whether title and content match what was last stored
// for id, regardless of age.
func (c *NotebookCache) Unchanged(id, title, content string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.items[id]
	return ok && n.Key == ContentKey(title, content)
}
