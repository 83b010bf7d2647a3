package feed

import (
	"errors"
	"fmt"
)

// ErrInvariant reports a broken cache invariant. It indicates a bug in the
// caller's key function or in the cache itself.
var ErrInvariant = errors.New("cache invariant violation")

// State is the lifecycle state of a cache.
type State int

const (
	Empty State = iota
	Populated
)

func (s State) String() string {
	if s == Populated {
		return "populated"
	}
	return "empty"
}

// PushResult describes what a Push did.
type PushResult struct {
	Inserted   bool
	Duplicate  bool
	Evicted    bool
	EvictedKey string
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	strict bool
}

// WithStrict makes invariant violations panic instead of returning
// ErrInvariant.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// Cache is a fixed-capacity ring of items ordered newest first. Items are
// identified by a key; pushing a key that is already present is a no-op.
// When full, a push evicts the oldest item.
//
// Cache is not safe for concurrent use.
type Cache[T any] struct {
	key      func(T) string
	strict   bool
	capacity int

	items []T
	keys  []string
	index map[string]struct{}
	head  int // next write position; the oldest item when full
	size  int
}

// New creates a cache holding at most capacity items.
func New[T any](capacity int, key func(T) string, opts ...Option) (*Cache[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvariant, capacity)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: nil key func", ErrInvariant)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		key:      key,
		strict:   o.strict,
		capacity: capacity,
		items:    make([]T, capacity),
		keys:     make([]string, capacity),
		index:    make(map[string]struct{}, capacity),
	}, nil
}

// Push prepends item, evicting the oldest entry if the cache is full.
func (c *Cache[T]) Push(item T) (PushResult, error) {
	if err := c.check(); err != nil {
		return PushResult{}, err
	}

	k := c.key(item)
	if _, ok := c.index[k]; ok {
		return PushResult{Duplicate: true}, nil
	}

	res := PushResult{Inserted: true}
	if c.size == c.capacity {
		res.Evicted = true
		res.EvictedKey = c.keys[c.head]
		delete(c.index, c.keys[c.head])
	}

	c.items[c.head] = item
	c.keys[c.head] = k
	c.index[k] = struct{}{}
	c.head = (c.head + 1) % c.capacity
	if c.size < c.capacity {
		c.size++
	}
	return res, c.check()
}

// FindFirst returns the newest item matching pred.
func (c *Cache[T]) FindFirst(pred func(T) bool) (T, bool) {
	for i := 0; i < c.size; i++ {
		item := c.items[c.pos(i)]
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Snapshot returns a copy of the items, newest first.
func (c *Cache[T]) Snapshot() []T {
	out := make([]T, 0, c.size)
	for i := 0; i < c.size; i++ {
		out = append(out, c.items[c.pos(i)])
	}
	return out
}

// Contains reports whether key is present.
func (c *Cache[T]) Contains(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Remove deletes the item with key, keeping the order of the rest.
func (c *Cache[T]) Remove(key string) bool {
	if _, ok := c.index[key]; !ok {
		return false
	}
	kept := c.Snapshot()
	c.reset()
	for i := len(kept) - 1; i >= 0; i-- {
		if c.key(kept[i]) == key {
			continue
		}
		c.insert(kept[i])
	}
	return true
}

func (c *Cache[T]) Len() int { return c.size }

func (c *Cache[T]) Cap() int { return c.capacity }

func (c *Cache[T]) State() State {
	if c.size == 0 {
		return Empty
	}
	return Populated
}

// pos maps the i-th newest item to its slot.
func (c *Cache[T]) pos(i int) int {
	return (c.head - 1 - i + 2*c.capacity) % c.capacity
}

func (c *Cache[T]) insert(item T) {
	k := c.key(item)
	c.items[c.head] = item
	c.keys[c.head] = k
	c.index[k] = struct{}{}
	c.head = (c.head + 1) % c.capacity
	c.size++
}

func (c *Cache[T]) reset() {
	var zero T
	for i := range c.items {
		c.items[i] = zero
		c.keys[i] = ""
	}
	c.index = make(map[string]struct{}, c.capacity)
	c.head = 0
	c.size = 0
}

// check verifies that the key index and the ring agree. Outside strict mode
// a violation rebuilds the index from the ring and is reported to the caller.
func (c *Cache[T]) check() error {
	if len(c.index) == c.size && c.size <= c.capacity {
		return nil
	}
	err := fmt.Errorf("%w: index=%d size=%d capacity=%d", ErrInvariant, len(c.index), c.size, c.capacity)
	if c.strict {
		panic(err)
	}
	kept := c.Snapshot()
	c.reset()
	for i := len(kept) - 1; i >= 0; i-- {
		if _, dup := c.index[c.key(kept[i])]; dup {
			continue
		}
		c.insert(kept[i])
	}
	return err
}
