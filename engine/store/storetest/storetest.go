// Package storetest is a conformance suite for engine.Store implementations.
// Every backend runs the same cases so the memory store and the SQL stores
// give the engine identical guarantees.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
)

// Factory returns an empty store. It is called once per case.
type Factory func(t *testing.T) engine.Store

var base = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// Run executes every conformance case against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EventRoundTrip", func(t *testing.T) { testEventRoundTrip(t, newStore(t)) })
	t.Run("EventFilters", func(t *testing.T) { testEventFilters(t, newStore(t)) })
	t.Run("RewardsByEvent", func(t *testing.T) { testRewardsByEvent(t, newStore(t)) })
	t.Run("LiveRequestUniqueness", func(t *testing.T) { testLiveRequestUniqueness(t, newStore(t)) })
	t.Run("ConcurrentInsertSingleWinner", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("CompareAndSwapStatus", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
	t.Run("ConcurrentSwapSingleWinner", func(t *testing.T) { testConcurrentSwap(t, newStore(t)) })
	t.Run("RequestFilters", func(t *testing.T) { testRequestFilters(t, newStore(t)) })
	t.Run("HistoryUniqueness", func(t *testing.T) { testHistoryUniqueness(t, newStore(t)) })
	t.Run("AuditRoundTrip", func(t *testing.T) { testAuditRoundTrip(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func newEvent() engine.Event {
	return engine.Event{
		ID:               engine.NewID(),
		Title:            "Login streak",
		Description:      "Log in seven days in a row",
		StartDate:        base.Add(-24 * time.Hour),
		EndDate:          base.Add(24 * time.Hour),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionLoginDays,
		ConditionValue:   decimal.NewFromInt(7),
		VerificationType: engine.VerificationAuto,
		CreatedBy:        engine.NewID(),
		CreatedAt:        base,
		UpdatedAt:        base,
	}
}

func newRequest(userID, eventID engine.ID) engine.RewardRequest {
	return engine.RewardRequest{
		ID:          engine.NewID(),
		UserID:      userID,
		EventID:     eventID,
		Status:      engine.RequestPending,
		RequestedAt: base,
	}
}

func newHistory(req engine.RewardRequest, reward engine.Reward) engine.HistoryEntry {
	return engine.HistoryEntry{
		ID:        engine.NewID(),
		RequestID: req.ID,
		UserID:    req.UserID,
		EventID:   req.EventID,
		RewardID:  reward.ID,
		Quantity:  reward.Quantity,
		IssuedAt:  base,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func testEventRoundTrip(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := newEvent()
	ev.ConditionValue = decimal.RequireFromString("2.75")
	require.NoError(t, s.InsertEvent(ctx, ev))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, ev.Description, got.Description)
	assert.True(t, ev.StartDate.Equal(got.StartDate))
	assert.True(t, ev.EndDate.Equal(got.EndDate))
	assert.True(t, ev.ConditionValue.Equal(got.ConditionValue), "got %s", got.ConditionValue)
	assert.Equal(t, ev.VerificationType, got.VerificationType)
	assert.Equal(t, ev.CreatedBy, got.CreatedBy)

	got.Status = engine.EventInactive
	got.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateEvent(ctx, *got))
	again, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.EventInactive, again.Status)

	_, err = s.GetEvent(ctx, engine.NewID())
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)
	missing := newEvent()
	assert.ErrorIs(t, s.UpdateEvent(ctx, missing), engine.ErrRecordNotFound)
}

func testEventFilters(t *testing.T, s engine.Store) {
	ctx := context.Background()
	active := newEvent()
	inactive := newEvent()
	inactive.Status = engine.EventInactive
	inactive.CreatedAt = base.Add(time.Second)
	require.NoError(t, s.InsertEvent(ctx, active))
	require.NoError(t, s.InsertEvent(ctx, inactive))

	all, err := s.ListEvents(ctx, engine.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	status := engine.EventInactive
	filtered, err := s.ListEvents(ctx, engine.EventFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, inactive.ID, filtered[0].ID)

	byCreator, err := s.ListEvents(ctx, engine.EventFilter{CreatedBy: &active.CreatedBy})
	require.NoError(t, err)
	require.Len(t, byCreator, 1)
	assert.Equal(t, active.ID, byCreator[0].ID)
}

func testRewardsByEvent(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := newEvent()
	require.NoError(t, s.InsertEvent(ctx, ev))

	points := engine.Reward{ID: engine.NewID(), EventID: ev.ID, Type: engine.RewardPoint, Name: "Points", Quantity: decimal.NewFromInt(100), CreatedAt: base}
	coupon := engine.Reward{ID: engine.NewID(), EventID: ev.ID, Type: engine.RewardCoupon, Name: "Coupon", Quantity: decimal.NewFromInt(1), CreatedAt: base.Add(time.Second)}
	require.NoError(t, s.InsertReward(ctx, points))
	require.NoError(t, s.InsertReward(ctx, coupon))

	rewards, err := s.ListRewards(ctx, engine.RewardFilter{EventID: &ev.ID})
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, points.ID, rewards[0].ID)
	assert.Equal(t, coupon.ID, rewards[1].ID)
	assert.True(t, decimal.NewFromInt(100).Equal(rewards[0].Quantity))

	couponType := engine.RewardCoupon
	coupons, err := s.ListRewards(ctx, engine.RewardFilter{Type: &couponType})
	require.NoError(t, err)
	require.Len(t, coupons, 1)

	got, err := s.GetReward(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coupon", got.Name)
	_, err = s.GetReward(ctx, engine.NewID())
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)
}

// =============================================================================
// REQUESTS
// =============================================================================

func seedEvent(t *testing.T, s engine.Store) engine.Event {
	t.Helper()
	ev := newEvent()
	require.NoError(t, s.InsertEvent(context.Background(), ev))
	return ev
}

func testLiveRequestUniqueness(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	userID := engine.NewID()

	first := newRequest(userID, ev.ID)
	require.NoError(t, s.InsertRequest(ctx, first))
	assert.ErrorIs(t, s.InsertRequest(ctx, newRequest(userID, ev.ID)), engine.ErrDuplicateLiveRequest)

	live, err := s.FindLiveRequest(ctx, userID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)

	// COMPLETED still blocks.
	_, err = s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: first.ID, From: engine.RequestPending, To: engine.RequestApproved})
	require.NoError(t, err)
	_, err = s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: first.ID, From: engine.RequestApproved, To: engine.RequestCompleted})
	require.NoError(t, err)
	assert.ErrorIs(t, s.InsertRequest(ctx, newRequest(userID, ev.ID)), engine.ErrDuplicateLiveRequest)

	// REJECTED does not.
	other := engine.NewID()
	rejected := newRequest(other, ev.ID)
	require.NoError(t, s.InsertRequest(ctx, rejected))
	_, err = s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: rejected.ID, From: engine.RequestPending, To: engine.RequestRejected})
	require.NoError(t, err)
	_, err = s.FindLiveRequest(ctx, other, ev.ID)
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)
	assert.NoError(t, s.InsertRequest(ctx, newRequest(other, ev.ID)))
}

func testConcurrentInsert(t *testing.T, s engine.Store) {
	ev := seedEvent(t, s)
	userID := engine.NewID()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
		dups atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertRequest(context.Background(), newRequest(userID, ev.ID))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, engine.ErrDuplicateLiveRequest):
				dups.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), dups.Load())
}

func testCompareAndSwap(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	req := newRequest(engine.NewID(), ev.ID)
	require.NoError(t, s.InsertRequest(ctx, req))

	at := base.Add(time.Hour)
	by := engine.NewID()
	approved, err := s.CompareAndSwapStatus(ctx, engine.RequestTransition{
		ID:          req.ID,
		From:        engine.RequestPending,
		To:          engine.RequestApproved,
		ProcessedAt: &at,
		ProcessedBy: &by,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.RequestApproved, approved.Status)
	require.NotNil(t, approved.ProcessedAt)
	assert.True(t, at.Equal(*approved.ProcessedAt))
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, by, *approved.ProcessedBy)

	_, err = s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: req.ID, From: engine.RequestPending, To: engine.RequestRejected})
	assert.ErrorIs(t, err, engine.ErrStatusMismatch)

	completed, err := s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: req.ID, From: engine.RequestApproved, To: engine.RequestCompleted})
	require.NoError(t, err)
	assert.Equal(t, engine.RequestCompleted, completed.Status)
	require.NotNil(t, completed.ProcessedAt, "processedAt is kept when not given")
	assert.True(t, at.Equal(*completed.ProcessedAt))

	_, err = s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: engine.NewID(), From: engine.RequestPending, To: engine.RequestApproved})
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)
}

func testConcurrentSwap(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	req := newRequest(engine.NewID(), ev.ID)
	require.NoError(t, s.InsertRequest(ctx, req))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		to := engine.RequestApproved
		if i%2 == 1 {
			to = engine.RequestRejected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwapStatus(context.Background(), engine.RequestTransition{ID: req.ID, From: engine.RequestPending, To: to})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, engine.ErrStatusMismatch)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testRequestFilters(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	alice, bob := engine.NewID(), engine.NewID()
	stale := newRequest(alice, ev.ID)
	recent := newRequest(bob, ev.ID)
	recent.RequestedAt = base.Add(time.Second)
	require.NoError(t, s.InsertRequest(ctx, stale))
	require.NoError(t, s.InsertRequest(ctx, recent))

	staleAt, recentAt := base.Add(-time.Hour), base
	_, err := s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: stale.ID, From: engine.RequestPending, To: engine.RequestApproved, ProcessedAt: &staleAt})
	require.NoError(t, err)
	_, err = s.CompareAndSwapStatus(ctx, engine.RequestTransition{ID: recent.ID, From: engine.RequestPending, To: engine.RequestApproved, ProcessedAt: &recentAt})
	require.NoError(t, err)

	byUser, err := s.ListRequests(ctx, engine.RequestFilter{UserID: &alice})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, stale.ID, byUser[0].ID)

	byEvent, err := s.ListRequests(ctx, engine.RequestFilter{EventID: &ev.ID})
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	approved := engine.RequestApproved
	cutoff := base.Add(-time.Minute)
	stalled, err := s.ListRequests(ctx, engine.RequestFilter{Status: &approved, ProcessedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, stale.ID, stalled[0].ID)
}

// =============================================================================
// HISTORY & AUDIT
// =============================================================================

func testHistoryUniqueness(t *testing.T, s engine.Store) {
	ctx := context.Background()
	ev := seedEvent(t, s)
	points := engine.Reward{ID: engine.NewID(), EventID: ev.ID, Type: engine.RewardPoint, Name: "Points", Quantity: decimal.RequireFromString("12.5"), CreatedAt: base}
	coupon := engine.Reward{ID: engine.NewID(), EventID: ev.ID, Type: engine.RewardCoupon, Name: "Coupon", Quantity: decimal.NewFromInt(1), CreatedAt: base}
	require.NoError(t, s.InsertReward(ctx, points))
	require.NoError(t, s.InsertReward(ctx, coupon))
	req := newRequest(engine.NewID(), ev.ID)
	require.NoError(t, s.InsertRequest(ctx, req))

	entry := newHistory(req, points)
	require.NoError(t, s.InsertHistory(ctx, entry))
	assert.ErrorIs(t, s.InsertHistory(ctx, newHistory(req, points)), engine.ErrDuplicateIssuance)
	require.NoError(t, s.InsertHistory(ctx, newHistory(req, coupon)))

	got, err := s.GetHistory(ctx, req.ID, points.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.True(t, entry.Quantity.Equal(got.Quantity), "got %s", got.Quantity)
	assert.True(t, entry.IssuedAt.Equal(got.IssuedAt))

	_, err = s.GetHistory(ctx, req.ID, engine.NewID())
	assert.ErrorIs(t, err, engine.ErrRecordNotFound)

	byRequest, err := s.ListHistory(ctx, engine.HistoryFilter{RequestID: &req.ID})
	require.NoError(t, err)
	assert.Len(t, byRequest, 2)

	otherUser := engine.NewID()
	none, err := s.ListHistory(ctx, engine.HistoryFilter{UserID: &otherUser})
	require.NoError(t, err)
	assert.Empty(t, none)

	byEvent, err := s.ListHistory(ctx, engine.HistoryFilter{EventID: &ev.ID, UserID: &req.UserID})
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)
}

func testAuditRoundTrip(t *testing.T, s engine.Store) {
	ctx := context.Background()
	requestID, userID := engine.NewID(), engine.NewID()
	require.NoError(t, s.AppendAudit(ctx, engine.AuditEntry{
		ID:        "a-1",
		Timestamp: base,
		ActorID:   userID.String(),
		Action:    engine.AuditRequestCreated,
		RequestID: requestID,
		EventID:   engine.NewID(),
		UserID:    userID,
		Payload:   map[string]any{"verification": "AUTO"},
	}))
	require.NoError(t, s.AppendAudit(ctx, engine.AuditEntry{
		ID:        "a-2",
		Timestamp: base.Add(time.Second),
		ActorID:   engine.SystemActor,
		Action:    engine.AuditIssuanceFailed,
		RequestID: requestID,
		UserID:    userID,
	}))

	trail, err := s.QueryAudit(ctx, engine.AuditFilter{RequestID: &requestID})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "a-1", trail[0].ID)
	assert.Equal(t, engine.AuditRequestCreated, trail[0].Action)
	assert.Equal(t, "AUTO", trail[0].Payload["verification"])
	assert.True(t, base.Equal(trail[0].Timestamp))

	failures, err := s.QueryAudit(ctx, engine.AuditFilter{UserID: &userID, Actions: []engine.AuditAction{engine.AuditIssuanceFailed}})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "a-2", failures[0].ID)
}
