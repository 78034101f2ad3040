package engine_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

const conditionSlow engine.ConditionType = "SLOW"

// loginDays is a LOGIN_DAYS strategy backed by a settable map.
type loginDays struct {
	mu    sync.Mutex
	days  map[engine.ID]int64
	err   error
	calls int
}

func (l *loginDays) set(userID engine.ID, days int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.days[userID] = days
}

func (l *loginDays) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *loginDays) Validate(_ context.Context, userID engine.ID, threshold decimal.Decimal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return decimal.NewFromInt(l.days[userID]).GreaterThanOrEqual(threshold), nil
}

// flakyStore fails InsertHistory for one reward a set number of times.
type flakyStore struct {
	*store.Memory
	mu         sync.Mutex
	failReward engine.ID
	failures   int
}

func (s *flakyStore) failNext(rewardID engine.ID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReward, s.failures = rewardID, n
}

func (s *flakyStore) InsertHistory(ctx context.Context, entry engine.HistoryEntry) error {
	s.mu.Lock()
	if entry.RewardID == s.failReward && s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.Memory.InsertHistory(ctx, entry)
}

type fixture struct {
	store  engine.Store
	clock  *engine.FixedClock
	logins *loginDays
	eng    *engine.Engine
	admin  string
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t *testing.T, st engine.Store) *fixture {
	t.Helper()
	return newFixtureWithCache(t, st, engine.EventCacheConfig{})
}

// newFixtureWithCache builds a fixture whose engine reads events through the
// LRU cache when cache.MaxSize > 0.
func newFixtureWithCache(t *testing.T, st engine.Store, cache engine.EventCacheConfig) *fixture {
	t.Helper()

	clock := engine.NewFixedClock(testNow)
	logins := &loginDays{days: make(map[engine.ID]int64)}

	registry := engine.NewRegistry()
	registry.Register(engine.ConditionLoginDays, logins)
	registry.Register(engine.ConditionInviteFriends, engine.ValidatorFunc(
		func(context.Context, engine.ID, decimal.Decimal) (bool, error) { return true, nil }))
	registry.Register(conditionSlow, engine.ValidatorFunc(
		func(ctx context.Context, _ engine.ID, _ decimal.Decimal) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	eng := engine.New(st, registry, engine.Options{
		Clock:            clock,
		Logger:           logger,
		ValidatorTimeout: 50 * time.Millisecond,
		LedgerTimeout:    time.Second,
		EventCache:       cache,
	})
	return &fixture{
		store:  st,
		clock:  clock,
		logins: logins,
		eng:    eng,
		admin:  engine.NewID().String(),
	}
}

func (f *fixture) event(t *testing.T, verification engine.VerificationType, condition engine.ConditionType, threshold int64) *engine.Event {
	t.Helper()
	ev, err := f.eng.Events.Create(context.Background(), engine.EventDefinition{
		Title:            "Spring login week",
		StartDate:        testNow.Add(-24 * time.Hour),
		EndDate:          testNow.Add(24 * time.Hour),
		ConditionType:    condition,
		ConditionValue:   decimal.NewFromInt(threshold),
		VerificationType: verification,
		CreatedBy:        f.admin,
	})
	require.NoError(t, err)
	return ev
}

func (f *fixture) reward(t *testing.T, eventID engine.ID, rewardType engine.RewardType, name string, quantity int64) *engine.Reward {
	t.Helper()
	r, err := f.eng.Rewards.Create(context.Background(), eventID.String(), rewardType, name, decimal.NewFromInt(quantity))
	require.NoError(t, err)
	return r
}

func (f *fixture) user(days int64) engine.ID {
	id := engine.NewID()
	f.logins.set(id, days)
	return id
}

func (f *fixture) requestsOf(t *testing.T, userID engine.ID) []engine.RewardRequest {
	t.Helper()
	reqs, err := f.eng.Requests.ListByUser(context.Background(), userID.String())
	require.NoError(t, err)
	return reqs
}

func (f *fixture) historyOf(t *testing.T, requestID engine.ID) []engine.HistoryEntry {
	t.Helper()
	entries, err := f.eng.Ledger.ListByRequest(context.Background(), requestID.String())
	require.NoError(t, err)
	return entries
}
