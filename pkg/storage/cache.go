package storage

import (
	"container/list"
	"context"
	"sync"
)

// Cached wraps a DocumentStore with an in-memory LRU of recently read
// documents. Writes go to the backing store first and then refresh the cache.
type Cached struct {
	backend DocumentStore

	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	eviction *list.List
	hits     int64
	misses   int64
}

type cacheItem struct {
	key string
	doc *Document
}

// NewCached wraps backend with an LRU of at most maxSize documents.
// A non-positive maxSize returns backend unchanged.
func NewCached(backend DocumentStore, maxSize int) DocumentStore {
	if maxSize <= 0 {
		return backend
	}
	return &Cached{
		backend:  backend,
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

// Put writes through to the backend.
func (c *Cached) Put(ctx context.Context, doc *Document) error {
	if err := c.backend.Put(ctx, doc); err != nil {
		return err
	}
	c.put(doc.ID, doc.Clone())
	return nil
}

// Get serves from the cache when possible.
func (c *Cached) Get(ctx context.Context, id string) (*Document, error) {
	if doc, ok := c.get(id); ok {
		return doc.Clone(), nil
	}
	doc, err := c.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(id, doc.Clone())
	return doc, nil
}

// Delete removes from the backend and the cache.
func (c *Cached) Delete(ctx context.Context, id string) error {
	c.remove(id)
	return c.backend.Delete(ctx, id)
}

// List always reads the backend.
func (c *Cached) List(ctx context.Context, filter *DocumentFilter) ([]*Document, int, error) {
	return c.backend.List(ctx, filter)
}

// Close closes the backend.
func (c *Cached) Close() error {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.mu.Unlock()
	return c.backend.Close()
}

// HitRate returns the cache hit rate (0.0-1.0) and total accesses.
func (c *Cached) HitRate() (rate float64, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total = c.hits + c.misses
	if total == 0 {
		return 0, 0
	}
	return float64(c.hits) / float64(total), total
}

// Len returns the number of cached documents.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cached) get(key string) (*Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheItem).doc, true
	}
	c.misses++
	return nil, false
}

func (c *Cached) put(key string, doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value.(*cacheItem).doc = doc
		return
	}
	if c.eviction.Len() >= c.maxSize {
		if back := c.eviction.Back(); back != nil {
			c.eviction.Remove(back)
			delete(c.items, back.Value.(*cacheItem).key)
		}
	}
	c.items[key] = c.eviction.PushFront(&cacheItem{key: key, doc: doc})
}

func (c *Cached) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.Remove(elem)
		delete(c.items, key)
	}
}
