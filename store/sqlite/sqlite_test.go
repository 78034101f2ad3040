package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/engine/store/storetest"
	"github.com/warp/reward-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.Store { return newTestStore(t) })
}

// =============================================================================
// SQLITE-SPECIFIC BEHAVIOUR
// =============================================================================

func TestSQLite_FileDatabaseSurvivesReopen(t *testing.T) {
	// GIVEN: An event written to a file database
	// WHEN: The store is closed and reopened (migrations run again)
	// THEN: The event is still there with full precision

	path := filepath.Join(t.TempDir(), "rewards.db")
	ctx := context.Background()
	start := time.Date(2025, time.March, 10, 12, 0, 0, 123456789, time.UTC)
	ev := engine.Event{
		ID:               engine.NewID(),
		Title:            "Persisted",
		StartDate:        start,
		EndDate:          start.Add(time.Hour),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionInviteFriends,
		ConditionValue:   decimal.RequireFromString("3.5"),
		VerificationType: engine.VerificationManual,
		CreatedBy:        engine.NewID(),
		CreatedAt:        start,
		UpdatedAt:        start,
	}

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.InsertEvent(ctx, ev))
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, got.StartDate.Equal(start), "nanoseconds are kept")
	assert.True(t, decimal.RequireFromString("3.5").Equal(got.ConditionValue))
	assert.Equal(t, "", got.Description)
}

func TestSQLite_RewardRequiresExistingEvent(t *testing.T) {
	store := newTestStore(t)

	err := store.InsertReward(context.Background(), engine.Reward{
		ID:        engine.NewID(),
		EventID:   engine.NewID(),
		Type:      engine.RewardPoint,
		Name:      "Orphan",
		Quantity:  decimal.NewFromInt(1),
		CreatedAt: time.Now(),
	})

	assert.Error(t, err, "foreign keys are enforced")
}

func TestSQLite_CorruptColumnsAreReported(t *testing.T) {
	// GIVEN: An event and a reward whose stored text no longer parses
	// WHEN: They are read back
	// THEN: The read fails naming the column instead of returning zero values

	path := filepath.Join(t.TempDir(), "rewards.db")
	ctx := context.Background()
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	ev := engine.Event{
		ID:               engine.NewID(),
		Title:            "Corrupted",
		StartDate:        now,
		EndDate:          now.Add(time.Hour),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionLoginDays,
		ConditionValue:   decimal.NewFromInt(7),
		VerificationType: engine.VerificationAuto,
		CreatedBy:        engine.NewID(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.InsertEvent(ctx, ev))
	reward := engine.Reward{
		ID:        engine.NewID(),
		EventID:   ev.ID,
		Type:      engine.RewardPoint,
		Name:      "Points",
		Quantity:  decimal.NewFromInt(100),
		CreatedAt: now,
	}
	require.NoError(t, store.InsertReward(ctx, reward))

	// A second connection writes what the store itself never would.
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE events SET condition_value = 'seven' WHERE id = ?`, ev.ID)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE rewards SET created_at = 'yesterday' WHERE id = ?`, reward.ID)
	require.NoError(t, err)

	_, err = store.GetEvent(ctx, ev.ID)
	assert.ErrorContains(t, err, "condition_value")
	assert.NotErrorIs(t, err, engine.ErrRecordNotFound)

	_, err = store.GetReward(ctx, reward.ID)
	assert.ErrorContains(t, err, "created_at")

	_, err = store.ListRewards(ctx, engine.RewardFilter{EventID: &ev.ID})
	assert.Error(t, err)
}

func TestSQLite_ResetAndPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.InsertEvent(ctx, engine.Event{
		ID:               engine.NewID(),
		Title:            "Temp",
		StartDate:        time.Now(),
		EndDate:          time.Now(),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionLoginDays,
		ConditionValue:   decimal.NewFromInt(1),
		VerificationType: engine.VerificationAuto,
		CreatedBy:        engine.NewID(),
	}))

	require.NoError(t, store.Reset(ctx))

	events, err := store.ListEvents(ctx, engine.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLite_EngineEndToEnd(t *testing.T) {
	// GIVEN: The engine wired over SQLite with an AUTO event and two rewards
	// WHEN: An eligible user submits a request
	// THEN: It completes and both ledger rows are readable back

	store := newTestStore(t)
	registry := engine.NewRegistry()
	registry.Register(engine.ConditionLoginDays, engine.ValidatorFunc(
		func(context.Context, engine.ID, decimal.Decimal) (bool, error) { return true, nil }))
	eng := engine.New(store, registry, engine.Options{})
	ctx := context.Background()
	now := time.Now().UTC()

	ev, err := eng.Events.Create(ctx, engine.EventDefinition{
		Title:          "SQLite login week",
		StartDate:      now.Add(-time.Hour),
		EndDate:        now.Add(time.Hour),
		ConditionType:  engine.ConditionLoginDays,
		ConditionValue: decimal.NewFromInt(7),
		CreatedBy:      engine.NewID().String(),
	})
	require.NoError(t, err)
	_, err = eng.Rewards.Create(ctx, ev.ID.String(), engine.RewardPoint, "Points", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = eng.Rewards.Create(ctx, ev.ID.String(), engine.RewardCoupon, "Coupon", decimal.NewFromInt(1))
	require.NoError(t, err)

	userID := engine.NewID().String()
	req, err := eng.Requests.Create(ctx, userID, ev.ID.String())
	require.NoError(t, err)
	assert.Equal(t, engine.RequestCompleted, req.Status)

	entries, err := eng.Ledger.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = eng.Requests.Create(ctx, userID, ev.ID.String())
	assert.ErrorIs(t, err, engine.ErrConflict)
}
