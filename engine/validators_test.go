package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/engine"
)

func always(result bool) engine.ValidatorFunc {
	return func(context.Context, engine.ID, decimal.Decimal) (bool, error) { return result, nil }
}

func TestRegistry_ResolveRegistered(t *testing.T) {
	r := engine.NewRegistry()
	r.Register(engine.ConditionLoginDays, always(true))

	v, err := r.Resolve(engine.ConditionLoginDays)
	require.NoError(t, err)

	ok, err := v.Validate(context.Background(), engine.NewID(), decimal.NewFromInt(7))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := engine.NewRegistry()

	_, err := r.Resolve("PURCHASES")

	assert.ErrorIs(t, err, engine.ErrUnsupportedCondition)
	assert.ErrorIs(t, err, engine.ErrFailedPrecondition)
	assert.Contains(t, err.Error(), "PURCHASES")
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := engine.NewRegistry()
	r.Register(engine.ConditionInviteFriends, always(true))
	r.Register(engine.ConditionInviteFriends, always(false))

	v, err := r.Resolve(engine.ConditionInviteFriends)
	require.NoError(t, err)
	ok, err := v.Validate(context.Background(), engine.NewID(), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_TypesSorted(t *testing.T) {
	r := engine.NewRegistry()
	r.Register(engine.ConditionLoginDays, always(true))
	r.Register(engine.ConditionInviteFriends, always(true))

	assert.Equal(t, []engine.ConditionType{engine.ConditionInviteFriends, engine.ConditionLoginDays}, r.Types())
}
