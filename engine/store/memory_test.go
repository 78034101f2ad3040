package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/engine/store"
	"github.com/warp/reward-engine/engine/store/storetest"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func pendingRequest(userID, eventID engine.ID) engine.RewardRequest {
	return engine.RewardRequest{
		ID:          engine.NewID(),
		UserID:      userID,
		EventID:     eventID,
		Status:      engine.RequestPending,
		RequestedAt: now,
	}
}

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) engine.Store { return store.NewMemory() })
}

func TestMemory_ReturnedRequestsAreCopies(t *testing.T) {
	// GIVEN: An APPROVED request with a processedAt
	// WHEN: A caller mutates the returned pointer fields
	// THEN: The stored request is unaffected

	m := store.NewMemory()
	ctx := context.Background()
	req := pendingRequest(engine.NewID(), engine.NewID())
	require.NoError(t, m.InsertRequest(ctx, req))
	at := now
	_, err := m.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: req.ID, From: engine.RequestPending, To: engine.RequestApproved, ProcessedAt: &at})
	require.NoError(t, err)

	got, err := m.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	*got.ProcessedAt = now.Add(24 * time.Hour)

	again, err := m.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, again.ProcessedAt.Equal(now))
}

func TestMemory_InsertHistory_HonoursCancelledContext(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.InsertHistory(ctx, engine.HistoryEntry{ID: engine.NewID(), RequestID: engine.NewID(), RewardID: engine.NewID()})

	assert.ErrorIs(t, err, context.Canceled)
	entries, err := m.ListHistory(context.Background(), engine.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemory_AppendAudit_StampsMissingTimestamp(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	requestID := engine.NewID()
	require.NoError(t, m.AppendAudit(ctx, engine.AuditEntry{ID: "1", Action: engine.AuditRequestCreated, RequestID: requestID}))

	got, err := m.QueryAudit(ctx, engine.AuditFilter{RequestID: &requestID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestMemory_Reset(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	req := pendingRequest(engine.NewID(), engine.NewID())
	require.NoError(t, m.InsertRequest(ctx, req))
	require.NoError(t, m.InsertEvent(ctx, engine.Event{ID: engine.NewID()}))

	require.NoError(t, m.Reset(ctx))

	events, err := m.ListEvents(ctx, engine.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, m.InsertRequest(ctx, pendingRequest(req.UserID, req.EventID)), "live slot is released")
}
