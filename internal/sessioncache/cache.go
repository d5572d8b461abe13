// Package sessioncache provides a generic, thread-safe LRU+TTL cache keyed
// by session id, with a pluggable persistence hook for the backing store.
package sessioncache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a session cannot be found in the cache or
// loaded from the persistence hook.
var ErrNotFound = errors.New("sessioncache: not found")

// Persistence is the hook a cache specialization implements against its
// backing store. A zero-value NoPersistence satisfies it for pure
// in-memory use.
type Persistence[V any] interface {
	Load(ctx context.Context, sessionID, contextID string) (*V, error)
	Save(ctx context.Context, sessionID, contextID string, value *V) error
	Delete(ctx context.Context, sessionID, contextID string) error
	OnEvict(ctx context.Context, sessionID, contextID string)
}

// NoPersistence is a Persistence implementation that never finds anything
// and no-ops on every write, for pure in-memory use.
type NoPersistence[V any] struct{}

func (NoPersistence[V]) Load(ctx context.Context, sessionID, contextID string) (*V, error) {
	return nil, ErrNotFound
}
func (NoPersistence[V]) Save(ctx context.Context, sessionID, contextID string, value *V) error {
	return nil
}
func (NoPersistence[V]) Delete(ctx context.Context, sessionID, contextID string) error { return nil }
func (NoPersistence[V]) OnEvict(ctx context.Context, sessionID, contextID string)      {}

// entry is the cached value plus its bookkeeping.
type entry[V any] struct {
	sessionID string
	contextID string
	value     *V
	touched   time.Time
	dirty     bool
	elem      *list.Element
}

// Config configures a Cache. MaxSessions has a silent floor of 1; TTL of
// zero means entries never expire on their own.
type Config struct {
	MaxSessions int
	TTL         time.Duration
}

// Cache is a generic LRU cache over session-scoped values, backed by an
// optional persistence hook. All operations are safe for concurrent use.
type Cache[V any] struct {
	mu          sync.Mutex
	entries     map[string]*entry[V]
	order       *list.List // front = most recently used
	maxSessions int
	ttl         time.Duration
	persist     Persistence[V]
	now         func() time.Time
}

// New creates a Cache with the given config and persistence hook. A nil
// hook defaults to NoPersistence.
func New[V any](cfg Config, persist Persistence[V]) *Cache[V] {
	maxSessions := cfg.MaxSessions
	if maxSessions < 1 {
		maxSessions = 1
	}
	if persist == nil {
		persist = NoPersistence[V]{}
	}
	return &Cache[V]{
		entries:     make(map[string]*entry[V]),
		order:       list.New(),
		maxSessions: maxSessions,
		ttl:         cfg.TTL,
		persist:     persist,
		now:         time.Now,
	}
}

func (c *Cache[V]) expired(e *entry[V], at time.Time) bool {
	return c.ttl > 0 && at.Sub(e.touched) > c.ttl
}

func (c *Cache[V]) touch(e *entry[V], at time.Time) {
	e.touched = at
	c.order.MoveToFront(e.elem)
}

// evictLRU drops the least-recently-used entry if the cache is at
// capacity. Must be called with mu held. Returns the evicted entry, if any.
func (c *Cache[V]) evictLRULocked(ctx context.Context) {
	for len(c.entries) > c.maxSessions {
		back := c.order.Back()
		if back == nil {
			return
		}
		victim := back.Value.(*entry[V])
		c.removeLocked(victim)
		c.persist.OnEvict(ctx, victim.sessionID, victim.contextID)
	}
}

func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.entries, e.sessionID)
}

// GetOrLoad returns the cached value for sessionID, refreshing its LRU
// position and TTL. If the cached entry is expired it is evicted first. If
// absent (or evicted), it is loaded via the persistence hook; if still
// absent, ErrNotFound is returned.
func (c *Cache[V]) GetOrLoad(ctx context.Context, sessionID, contextID string) (*V, error) {
	c.mu.Lock()
	now := c.now()
	if e, ok := c.entries[sessionID]; ok {
		if c.expired(e, now) {
			c.removeLocked(e)
			c.persist.OnEvict(ctx, e.sessionID, e.contextID)
		} else {
			c.touch(e, now)
			c.mu.Unlock()
			return e.value, nil
		}
	}
	c.mu.Unlock()

	value, err := c.persist.Load(ctx, sessionID, contextID)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(ctx, sessionID, contextID, value, now)
	return value, nil
}

// Insert stores value for sessionID, evicting the LRU victim if the cache
// is at capacity.
func (c *Cache[V]) Insert(ctx context.Context, sessionID, contextID string, value *V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(ctx, sessionID, contextID, value, c.now())
}

func (c *Cache[V]) insertLocked(ctx context.Context, sessionID, contextID string, value *V, at time.Time) {
	if e, ok := c.entries[sessionID]; ok {
		e.value = value
		e.contextID = contextID
		c.touch(e, at)
		return
	}
	e := &entry[V]{sessionID: sessionID, contextID: contextID, value: value, touched: at}
	e.elem = c.order.PushFront(e)
	c.entries[sessionID] = e
	c.evictLRULocked(ctx)
}

// Update replaces the value in place for an already-cached session. If
// persist is true, the hook's Save is called and the entry is marked
// clean; otherwise it is marked dirty. Returns ErrNotFound if the session
// isn't cached.
func (c *Cache[V]) Update(ctx context.Context, sessionID string, value *V, persist bool) error {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	e.value = value
	c.touch(e, c.now())
	contextID := e.contextID
	c.mu.Unlock()

	if persist {
		if err := c.persist.Save(ctx, sessionID, contextID, value); err != nil {
			return err
		}
		c.mu.Lock()
		e.dirty = false
		c.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	e.dirty = true
	c.mu.Unlock()
	return nil
}

// Save persists the currently cached value via the hook and marks the
// entry clean, without touching LRU order or TTL. Returns ErrNotFound if
// the session isn't cached.
func (c *Cache[V]) Save(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	value, contextID := e.value, e.contextID
	c.mu.Unlock()

	if err := c.persist.Save(ctx, sessionID, contextID, value); err != nil {
		return err
	}
	c.mu.Lock()
	if e, ok := c.entries[sessionID]; ok {
		e.dirty = false
	}
	c.mu.Unlock()
	return nil
}

// Contains reports whether sessionID is present and not expired, without
// affecting LRU order or TTL.
func (c *Cache[V]) Contains(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return false
	}
	return !c.expired(e, c.now())
}

// Peek returns the cached value without affecting LRU order or TTL.
// Expired entries are treated as absent.
func (c *Cache[V]) Peek(sessionID string) (*V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok || c.expired(e, c.now()) {
		return nil, false
	}
	return e.value, true
}

// PeekContextID returns the context id associated with a cached session,
// without affecting LRU order or TTL.
func (c *Cache[V]) PeekContextID(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok || c.expired(e, c.now()) {
		return "", false
	}
	return e.contextID, true
}

// Remove deletes the cached entry and calls the hook's Delete, returning
// the prior value if any.
func (c *Cache[V]) Remove(ctx context.Context, sessionID string) (*V, error) {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, nil
	}
	c.removeLocked(e)
	c.mu.Unlock()

	if err := c.persist.Delete(ctx, sessionID, e.contextID); err != nil {
		return e.value, err
	}
	return e.value, nil
}

// Invalidate removes the entry from the cache only, calling OnEvict but
// never Delete — the backing record survives.
func (c *Cache[V]) Invalidate(ctx context.Context, sessionID string) {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()
	if ok {
		c.persist.OnEvict(ctx, e.sessionID, e.contextID)
	}
}

// CleanupExpired drains every expired entry, calling OnEvict for each, and
// returns the count removed.
func (c *Cache[V]) CleanupExpired(ctx context.Context) int {
	c.mu.Lock()
	now := c.now()
	var victims []*entry[V]
	for _, e := range c.entries {
		if c.expired(e, now) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	for _, e := range victims {
		c.persist.OnEvict(ctx, e.sessionID, e.contextID)
	}
	return len(victims)
}

// WithMut provides scoped mutable access to a cached value, refreshing LRU
// order and TTL and marking the entry dirty. Returns ErrNotFound if the
// session isn't cached.
func (c *Cache[V]) WithMut(sessionID string, f func(*V)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	f(e.value)
	c.touch(e, c.now())
	e.dirty = true
	return nil
}

// WithRef provides scoped read-only access to a cached value without
// affecting LRU order or TTL. Returns ErrNotFound if the session isn't
// cached.
func (c *Cache[V]) WithRef(sessionID string, f func(*V)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	f(e.value)
	return nil
}

// ForEach applies f to every non-expired entry's value, without affecting
// LRU order or TTL.
func (c *Cache[V]) ForEach(f func(sessionID string, value *V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, e := range c.entries {
		if c.expired(e, now) {
			continue
		}
		f(id, e.value)
	}
}

// Len returns the current number of cached entries, including expired ones
// not yet reaped.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
