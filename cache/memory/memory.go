// Package memory provides an in-process LRU cache implementation.
package memory

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meigma/casc/cache"
)

// Cache implements cache.Cache with a bounded least-recently-used map.
// Eviction is by entry count and, optionally, by total content bytes.
type Cache struct {
	lru      *lru.Cache[string, []byte]
	maxBytes int64

	mu    sync.Mutex // guards bytes and eviction by size
	bytes int64
}

// Interface compliance.
var _ cache.Cache = (*Cache)(nil)

// Option configures a memory cache.
type Option func(*Cache)

// WithMaxBytes bounds the total size of cached content. Use 0 to disable
// the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// New creates a cache holding at most maxEntries files.
func New(maxEntries int, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, errors.New("max entries must be > 0")
	}
	c := &Cache{}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	l, err := lru.NewWithEvict[string, []byte](maxEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get retrieves content by its content hash.
func (c *Cache) Get(hash []byte) ([]byte, bool) {
	return c.lru.Get(string(hash))
}

// Put stores content indexed by its content hash.
// Content larger than the byte limit is not stored.
func (c *Cache) Put(hash, content []byte) error {
	if len(hash) == 0 {
		return errors.New("hash is empty")
	}
	size := int64(len(content))
	if c.maxBytes > 0 && size > c.maxBytes {
		return nil
	}
	if present, _ := c.lru.ContainsOrAdd(string(hash), content); present {
		return nil
	}
	c.mu.Lock()
	c.bytes += size
	c.mu.Unlock()

	for c.maxBytes > 0 && c.SizeBytes() > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}

// Delete removes cached content for the given hash.
func (c *Cache) Delete(hash []byte) error {
	c.lru.Remove(string(hash))
	return nil
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// SizeBytes returns the total size of cached content.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) onEvict(_ string, content []byte) {
	c.mu.Lock()
	c.bytes -= int64(len(content))
	c.mu.Unlock()
}
