package engine

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultEventCacheSize = 512
	defaultEventCacheTTL  = 30 * time.Second
	sharedReadTimeout     = 5 * time.Second
)

// EventCacheConfig configures CachedEventStore.
type EventCacheConfig struct {
	// MaxSize is the maximum number of events held.
	MaxSize int
	// TTL is how long a cached event stays valid.
	TTL time.Duration
}

type cachedEvent struct {
	event    Event
	storedAt time.Time
}

// CachedEventStore is a read-through EventStore decorator. GetEvent is served
// from an LRU; concurrent misses for one id share a single store read.
// UpdateEvent writes through and drops the entry. Lists are never cached.
//
// Every UpdateEvent bumps a per-id version. A store read only fills the cache
// when the version it started under is still current, so a read racing an
// update cannot put the old document back.
type CachedEventStore struct {
	EventStore
	cache *lru.Cache[ID, cachedEvent]
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	versions map[ID]uint64
}

// NewCachedEventStore wraps inner. Zero config values fall back to defaults.
func NewCachedEventStore(inner EventStore, config EventCacheConfig) *CachedEventStore {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultEventCacheSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultEventCacheTTL
	}
	// lru.New only errors on non-positive size, guarded above.
	cache, _ := lru.New[ID, cachedEvent](config.MaxSize)
	return &CachedEventStore{
		EventStore: inner,
		cache:      cache,
		ttl:        config.TTL,
		now:        time.Now,
		versions:   make(map[ID]uint64),
	}
}

func (c *CachedEventStore) GetEvent(ctx context.Context, id ID) (*Event, error) {
	if entry, ok := c.cache.Get(id); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			event := entry.event
			return &event, nil
		}
		c.cache.Remove(id)
	}

	// The shared read must not die with whichever caller started it.
	ch := c.group.DoChan(string(id), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		return c.load(rctx, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		event := res.Val.(Event)
		return &event, nil
	}
}

// GetEventFresh always reads the underlying store and refreshes the entry.
// Eligibility checks use it so they never act on a cached status.
func (c *CachedEventStore) GetEventFresh(ctx context.Context, id ID) (*Event, error) {
	event, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// load reads id from the store and caches it unless an update happened
// while the read was in flight.
func (c *CachedEventStore) load(ctx context.Context, id ID) (Event, error) {
	version := c.version(id)
	event, err := c.EventStore.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	c.mu.Lock()
	if c.versions[id] == version {
		c.cache.Add(id, cachedEvent{event: *event, storedAt: c.now()})
	}
	c.mu.Unlock()
	return *event, nil
}

func (c *CachedEventStore) version(id ID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[id]
}

// invalidate drops id and makes every read already in flight stale.
func (c *CachedEventStore) invalidate(id ID) {
	c.mu.Lock()
	c.versions[id]++
	c.cache.Remove(id)
	c.mu.Unlock()
	c.group.Forget(string(id))
}

func (c *CachedEventStore) UpdateEvent(ctx context.Context, event Event) error {
	c.invalidate(event.ID)
	if err := c.EventStore.UpdateEvent(ctx, event); err != nil {
		return err
	}
	c.invalidate(event.ID)
	return nil
}

// Len reports the number of cached events, expired or not.
func (c *CachedEventStore) Len() int {
	return c.cache.Len()
}
