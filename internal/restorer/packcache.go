package restorer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arkiveio/arkive/internal/model"
)

type packCacheKey struct {
	packID model.ID
	offset uint
	length uint
}

// packCache holds recently read pack ciphertext ranges, evicting the least
// recently used entries once the total bytes held exceeds budget rather
// than once a fixed entry count is reached: one giant range and a thousand
// tiny ones cost the same to track, but very different amounts to keep.
type packCache struct {
	mu      sync.Mutex
	entries *lru.Cache[packCacheKey, []byte]
	budget  int64
	used    int64
}

func newPackCache(budget int64) *packCache {
	c := &packCache{budget: budget}
	// The LRU's own entry-count capacity is set effectively unbounded; byte
	// eviction in Put does the real capacity enforcement.
	entries, _ := lru.NewWithEvict[packCacheKey, []byte](1<<30, c.onEvict)
	c.entries = entries
	return c
}

func (c *packCache) onEvict(_ packCacheKey, value []byte) {
	c.used -= int64(len(value))
}

func (c *packCache) Get(packID model.ID, offset, length uint) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(packCacheKey{packID, offset, length})
}

func (c *packCache) Put(packID model.ID, offset, length uint, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(len(data)) > c.budget {
		return
	}

	key := packCacheKey{packID, offset, length}
	if _, ok := c.entries.Peek(key); ok {
		return
	}

	c.entries.Add(key, data)
	c.used += int64(len(data))

	for c.used > c.budget {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
}
