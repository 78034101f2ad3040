package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
)

func TestRewardCatalog_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.event(t, engine.VerificationManual, engine.ConditionInviteFriends, 1)

	reward, err := f.eng.Rewards.Create(ctx, ev.ID.String(), engine.RewardPoint, " Welcome points ", decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.Equal(t, ev.ID, reward.EventID)
	assert.Equal(t, "Welcome points", reward.Name)
	assert.True(t, reward.CreatedAt.Equal(testNow))

	got, err := f.eng.Rewards.Get(ctx, reward.ID.String())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Quantity))
}

func TestRewardCatalog_Create_Validation(t *testing.T) {
	tests := []struct {
		name       string
		eventID    func(ev *engine.Event) string
		rewardType engine.RewardType
		rewardName string
		quantity   decimal.Decimal
		wantErr    error
	}{
		{
			name:       "quantity below one",
			eventID:    func(ev *engine.Event) string { return ev.ID.String() },
			rewardType: engine.RewardPoint,
			rewardName: "Points",
			quantity:   decimal.RequireFromString("0.5"),
			wantErr:    engine.ErrInvalidArgument,
		},
		{
			name:       "unknown type",
			eventID:    func(ev *engine.Event) string { return ev.ID.String() },
			rewardType: "BADGE",
			rewardName: "Badge",
			quantity:   decimal.NewFromInt(1),
			wantErr:    engine.ErrInvalidArgument,
		},
		{
			name:       "empty name",
			eventID:    func(ev *engine.Event) string { return ev.ID.String() },
			rewardType: engine.RewardItem,
			rewardName: "  ",
			quantity:   decimal.NewFromInt(1),
			wantErr:    engine.ErrInvalidArgument,
		},
		{
			name:       "malformed event id",
			eventID:    func(*engine.Event) string { return "summer-event" },
			rewardType: engine.RewardItem,
			rewardName: "Hat",
			quantity:   decimal.NewFromInt(1),
			wantErr:    engine.ErrInvalidArgument,
		},
		{
			name:       "missing event",
			eventID:    func(*engine.Event) string { return engine.NewID().String() },
			rewardType: engine.RewardItem,
			rewardName: "Hat",
			quantity:   decimal.NewFromInt(1),
			wantErr:    engine.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ev := f.event(t, engine.VerificationManual, engine.ConditionInviteFriends, 1)

			_, err := f.eng.Rewards.Create(context.Background(), tt.eventID(ev), tt.rewardType, tt.rewardName, tt.quantity)

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRewardCatalog_ListByEventAndType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.event(t, engine.VerificationManual, engine.ConditionInviteFriends, 1)
	other := f.event(t, engine.VerificationManual, engine.ConditionInviteFriends, 1)
	points := f.reward(t, ev.ID, engine.RewardPoint, "Points", 10)
	coupon := f.reward(t, ev.ID, engine.RewardCoupon, "Coupon", 1)
	f.reward(t, other.ID, engine.RewardPoint, "Other points", 5)

	rewards, err := f.eng.Rewards.ListByEvent(ctx, ev.ID.String())
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, points.ID, rewards[0].ID)
	assert.Equal(t, coupon.ID, rewards[1].ID)

	pointType := engine.RewardPoint
	all, err := f.eng.Rewards.List(ctx, engine.RewardFilter{Type: &pointType})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	bad := engine.RewardType("CASH")
	_, err = f.eng.Rewards.List(ctx, engine.RewardFilter{Type: &bad})
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	none, err := f.eng.Rewards.ListByEvent(ctx, engine.NewID().String())
	require.NoError(t, err)
	assert.Empty(t, none)
}
