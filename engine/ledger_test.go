package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/engine/store"
)

// stuckHistory never completes a write before the context ends.
type stuckHistory struct{}

func (stuckHistory) InsertHistory(ctx context.Context, _ engine.HistoryEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckHistory) GetHistory(context.Context, engine.ID, engine.ID) (*engine.HistoryEntry, error) {
	return nil, engine.ErrRecordNotFound
}

func (stuckHistory) ListHistory(context.Context, engine.HistoryFilter) ([]engine.HistoryEntry, error) {
	return nil, nil
}

func newTestLedger() *engine.IssuanceLedger {
	return engine.NewIssuanceLedger(store.NewMemory(), engine.NewFixedClock(testNow), nil, 0)
}

// =============================================================================
// IDEMPOTENCY INVARIANT TESTS
// =============================================================================

func TestLedger_Record_SamePairTwice_ReturnsExistingEntry(t *testing.T) {
	// GIVEN: Reward A already recorded for request 1
	// WHEN: Recording reward A for request 1 again
	// THEN: The original entry comes back and nothing new is written

	ledger := newTestLedger()
	ctx := context.Background()
	requestID, userID, eventID, rewardID := engine.NewID(), engine.NewID(), engine.NewID(), engine.NewID()

	first, err := ledger.Record(ctx, requestID, userID, eventID, rewardID, decimal.NewFromInt(100))
	require.NoError(t, err)

	second, err := ledger.Record(ctx, requestID, userID, eventID, rewardID, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	entries, err := ledger.ListByRequest(ctx, requestID.String())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_Record_DifferentRewardsSameRequest(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()
	requestID, userID, eventID := engine.NewID(), engine.NewID(), engine.NewID()

	_, err := ledger.Record(ctx, requestID, userID, eventID, engine.NewID(), decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = ledger.Record(ctx, requestID, userID, eventID, engine.NewID(), decimal.NewFromInt(1))
	require.NoError(t, err)

	issued, err := ledger.HasIssued(ctx, requestID)
	require.NoError(t, err)
	assert.True(t, issued)

	entries, err := ledger.ListByEvent(ctx, eventID.String())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedger_Record_StorageTimeout_IsTransient(t *testing.T) {
	// GIVEN: A history store that hangs
	// WHEN: Recording with a short ledger timeout
	// THEN: The write is abandoned as Transient within the timeout

	ledger := engine.NewIssuanceLedger(stuckHistory{}, nil, nil, 20*time.Millisecond)

	start := time.Now()
	_, err := ledger.Record(context.Background(), engine.NewID(), engine.NewID(), engine.NewID(), engine.NewID(), decimal.NewFromInt(1))

	assert.ErrorIs(t, err, engine.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestLedger_HasIssued_FalseForUnknownRequest(t *testing.T) {
	issued, err := newTestLedger().HasIssued(context.Background(), engine.NewID())
	require.NoError(t, err)
	assert.False(t, issued)
}

func TestLedger_Totals_SumsPerReward(t *testing.T) {
	// GIVEN: A user granted the same reward on two requests and another reward once
	// WHEN: Computing totals
	// THEN: Quantities are summed per reward

	ledger := newTestLedger()
	ctx := context.Background()
	userID, eventID := engine.NewID(), engine.NewID()
	points, coupon := engine.NewID(), engine.NewID()

	_, err := ledger.Record(ctx, engine.NewID(), userID, eventID, points, decimal.RequireFromString("100.5"))
	require.NoError(t, err)
	_, err = ledger.Record(ctx, engine.NewID(), userID, eventID, points, decimal.NewFromInt(50))
	require.NoError(t, err)
	_, err = ledger.Record(ctx, engine.NewID(), userID, eventID, coupon, decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = ledger.Record(ctx, engine.NewID(), engine.NewID(), eventID, points, decimal.NewFromInt(999))
	require.NoError(t, err)

	totals, err := ledger.Totals(ctx, userID.String())
	require.NoError(t, err)

	assert.Len(t, totals, 2)
	assert.True(t, decimal.RequireFromString("150.5").Equal(totals[points]))
	assert.True(t, decimal.NewFromInt(1).Equal(totals[coupon]))
}

func TestLedger_Queries_RejectMalformedIDs(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	_, err := ledger.ListByUser(ctx, "alice")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	_, err = ledger.ListByEvent(ctx, "")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	_, err = ledger.Totals(ctx, "123")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}
