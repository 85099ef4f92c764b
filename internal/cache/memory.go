package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a MemoryProvider after Close.
var ErrClosed = errors.New("cache closed")

// MemoryProvider is an in-process Provider with per-entry TTL and
// least-recently-used eviction once maxEntries is reached.
type MemoryProvider struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	closed     bool
	now        func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates a cache holding at most maxEntries values. A
// non-positive maxEntries leaves the cache unbounded.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	return &MemoryProvider{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the cached bytes, or ErrCacheMiss when absent or expired.
func (c *MemoryProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	el, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	it := el.Value.(*entry)
	if !it.expiresAt.IsZero() && c.now().After(it.expiresAt) {
		c.remove(el)
		return nil, ErrCacheMiss
	}
	c.order.MoveToFront(el)
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (c *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	stored := &entry{key: key, value: append([]byte(nil), value...), expiresAt: expires}

	if el, ok := c.entries[key]; ok {
		el.Value = stored
		c.order.MoveToFront(el)
		return nil
	}
	c.entries[key] = c.order.PushFront(stored)
	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.remove(c.order.Back())
	}
	return nil
}

// Del removes an entry if present.
func (c *MemoryProvider) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close drops every entry. Later calls fail with ErrClosed.
func (c *MemoryProvider) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

func (c *MemoryProvider) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}
