//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/engine/store/storetest"
	"github.com/warp/reward-engine/store/postgres"
)

// newContainerStore starts PostgreSQL, applies the schema and returns the store.
func newContainerStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("rewards"),
		tcpostgres.WithUsername("rewards"),
		tcpostgres.WithPassword("rewards"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.EnsureSchema(ctx))
	// Applying twice must be harmless.
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Ping(ctx))
	return store
}

func TestPostgres_Conformance(t *testing.T) {
	store := newContainerStore(t)

	storetest.Run(t, func(t *testing.T) engine.Store {
		require.NoError(t, store.Reset(context.Background()))
		return store
	})
}

func TestPostgres_PartialIssuanceRecovery(t *testing.T) {
	// GIVEN: A request APPROVED with one of two rewards already in the ledger
	// WHEN: Issue is re-run through the engine
	// THEN: Only the missing reward is written and the request completes

	store := newContainerStore(t)
	ctx := context.Background()
	eng := engine.New(store, engine.NewRegistry(), engine.Options{})
	now := time.Now().UTC()

	ev, err := eng.Events.Create(ctx, engine.EventDefinition{
		Title:            "Referral drive",
		StartDate:        now.Add(-time.Hour),
		EndDate:          now.Add(time.Hour),
		ConditionType:    engine.ConditionInviteFriends,
		ConditionValue:   decimal.NewFromInt(3),
		VerificationType: engine.VerificationManual,
		CreatedBy:        engine.NewID().String(),
	})
	require.NoError(t, err)
	hoodie, err := eng.Rewards.Create(ctx, ev.ID.String(), engine.RewardItem, "Hoodie", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = eng.Rewards.Create(ctx, ev.ID.String(), engine.RewardPoint, "Points", decimal.RequireFromString("250.25"))
	require.NoError(t, err)

	req, err := eng.Requests.Create(ctx, engine.NewID().String(), ev.ID.String())
	require.NoError(t, err)

	// Simulate a crash after the first ledger write.
	at := now
	approved, err := store.CompareAndSwapStatus(ctx, engine.RequestTransition{
		ID:          req.ID,
		From:        engine.RequestPending,
		To:          engine.RequestApproved,
		ProcessedAt: &at,
	})
	require.NoError(t, err)
	_, err = eng.Ledger.Record(ctx, approved.ID, approved.UserID, approved.EventID, hoodie.ID, hoodie.Quantity)
	require.NoError(t, err)

	done, err := eng.Requests.Issue(ctx, req.ID.String())
	require.NoError(t, err)
	assert.Equal(t, engine.RequestCompleted, done.Status)

	entries, err := eng.Ledger.ListByRequest(ctx, req.ID.String())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, decimal.RequireFromString("250.25").Equal(entries[1].Quantity))
}
