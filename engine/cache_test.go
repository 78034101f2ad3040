package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEventStore counts GetEvent calls and can hold them until released.
// With pauseNext set, the next GetEvent reads the event, signals read and
// then waits on resume before returning it.
type countingEventStore struct {
	mu      sync.Mutex
	events  map[ID]Event
	gets    atomic.Int32
	release chan struct{}

	pauseNext atomic.Bool
	read      chan struct{}
	resume    chan struct{}
}

func (s *countingEventStore) pauseAfterRead() {
	s.read = make(chan struct{})
	s.resume = make(chan struct{})
	s.pauseNext.Store(true)
}

func newCountingEventStore() *countingEventStore {
	return &countingEventStore{events: make(map[ID]Event)}
}

func (s *countingEventStore) InsertEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	return nil
}

func (s *countingEventStore) GetEvent(_ context.Context, id ID) (*Event, error) {
	s.gets.Add(1)
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	e, ok := s.events[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrRecordNotFound
	}
	if s.pauseNext.CompareAndSwap(true, false) {
		close(s.read)
		<-s.resume
	}
	return &e, nil
}

func (s *countingEventStore) ListEvents(context.Context, EventFilter) ([]Event, error) {
	return nil, nil
}

func (s *countingEventStore) UpdateEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return ErrRecordNotFound
	}
	s.events[e.ID] = e
	return nil
}

func newTestCache(inner EventStore, clock *FixedClock) *CachedEventStore {
	c := NewCachedEventStore(inner, EventCacheConfig{MaxSize: 4, TTL: time.Minute})
	c.now = clock.Now
	return c
}

func TestCachedEventStore_ServesRepeatReadsFromCache(t *testing.T) {
	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ctx := context.Background()
	ev := Event{ID: NewID(), Title: "Cached"}
	require.NoError(t, cache.InsertEvent(ctx, ev))

	for i := 0; i < 3; i++ {
		got, err := cache.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, "Cached", got.Title)
	}

	assert.Equal(t, int32(1), inner.gets.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestCachedEventStore_ExpiresAfterTTL(t *testing.T) {
	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ctx := context.Background()
	ev := Event{ID: NewID(), Title: "Cached"}
	require.NoError(t, cache.InsertEvent(ctx, ev))

	_, err := cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.gets.Load())
}

func TestCachedEventStore_UpdateInvalidates(t *testing.T) {
	// GIVEN: A cached ACTIVE event
	// WHEN: It is updated to INACTIVE through the cache
	// THEN: The next read sees INACTIVE

	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ctx := context.Background()
	ev := Event{ID: NewID(), Status: EventActive}
	require.NoError(t, cache.InsertEvent(ctx, ev))
	_, err := cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)

	ev.Status = EventInactive
	require.NoError(t, cache.UpdateEvent(ctx, ev))

	got, err := cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, EventInactive, got.Status)
}

func TestCachedEventStore_MissesAreNotCached(t *testing.T) {
	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	id := NewID()

	_, err := cache.GetEvent(context.Background(), id)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = cache.GetEvent(context.Background(), id)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.Equal(t, int32(2), inner.gets.Load())
	assert.Zero(t, cache.Len())
}

func TestCachedEventStore_ConcurrentMissesShareOneRead(t *testing.T) {
	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ctx := context.Background()
	ev := Event{ID: NewID(), Title: "Hot"}
	require.NoError(t, inner.InsertEvent(ctx, ev))
	inner.release = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.GetEvent(ctx, ev.ID)
			assert.NoError(t, err)
			assert.Equal(t, "Hot", got.Title)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.gets.Load())
}

func TestCachedEventStore_UpdateDuringPendingReadIsNotLost(t *testing.T) {
	// GIVEN: A cache miss whose store read returned ACTIVE but has not
	//        filled the cache yet
	// WHEN: The event is updated to INACTIVE, then the read completes
	// THEN: The stale read does not fill the cache and the next read sees
	//       INACTIVE

	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ctx := context.Background()
	ev := Event{ID: NewID(), Status: EventActive}
	require.NoError(t, inner.InsertEvent(ctx, ev))
	inner.pauseAfterRead()

	pending := make(chan *Event, 1)
	go func() {
		got, err := cache.GetEvent(ctx, ev.ID)
		assert.NoError(t, err)
		pending <- got
	}()
	<-inner.read

	ev.Status = EventInactive
	require.NoError(t, cache.UpdateEvent(ctx, ev))
	close(inner.resume)
	assert.Equal(t, EventActive, (<-pending).Status, "the racing read returns what it read")

	got, err := cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, EventInactive, got.Status)
	assert.Equal(t, int32(2), inner.gets.Load())
}

func TestCachedEventStore_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	// GIVEN: Two callers sharing one in-flight store read
	// WHEN: The caller that started the read cancels
	// THEN: It returns context.Canceled and the other caller still gets the event

	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ev := Event{ID: NewID(), Title: "Shared"}
	require.NoError(t, inner.InsertEvent(context.Background(), ev))
	inner.release = make(chan struct{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.GetEvent(first, ev.ID)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return inner.gets.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *Event, 1)
	go func() {
		got, err := cache.GetEvent(context.Background(), ev.ID)
		assert.NoError(t, err)
		second <- got
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(inner.release)
	got := <-second
	require.NotNil(t, got)
	assert.Equal(t, "Shared", got.Title)
	assert.Equal(t, int32(1), inner.gets.Load())
}

func TestCachedEventStore_GetEventFreshBypassesCache(t *testing.T) {
	inner := newCountingEventStore()
	clock := NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	cache := newTestCache(inner, clock)
	ctx := context.Background()
	ev := Event{ID: NewID(), Status: EventActive}
	require.NoError(t, inner.InsertEvent(ctx, ev))
	_, err := cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)

	// Written behind the cache's back, as another instance would.
	ev.Status = EventInactive
	require.NoError(t, inner.UpdateEvent(ctx, ev))

	got, err := cache.GetEventFresh(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, EventInactive, got.Status)

	got, err = cache.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, EventInactive, got.Status, "the fresh read refreshed the entry")
	assert.Equal(t, int32(2), inner.gets.Load())
}
