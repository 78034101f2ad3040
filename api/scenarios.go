/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with events and
	rewards demonstrating the request lifecycle.

AVAILABLE SCENARIOS:

	auto-reward:   ACTIVE AUTO event open now, 100 POINT + 1 COUPON
	manual-review: ACTIVE MANUAL event with one ITEM reward and a PENDING
	               request from the demo user
	closed-event:  Event whose window ended yesterday (requests fail with 422)

HOW SCENARIOS WORK:
 1. Reset the store (when it supports Reset)
 2. Create events through the Event Catalog
 3. Attach rewards through the Reward Catalog
 4. Optionally submit requests as the demo user

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "auto-reward"}

	then, as the demo user:
	POST /api/reward-requests  X-User-ID: <userId>  {"eventId": "<eventIds[0]>"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: request handlers the scenarios exercise
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/engine"
)

const (
	DemoUserID  = "64b7f0c2a1e4d3b2c1a09f01"
	DemoAdminID = "64b7f0c2a1e4d3b2c1a09fad"
)

// Resetter is implemented by stores that can wipe all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "auto-reward",
		Name:        "Auto Reward",
		Description: "AUTO login-days event open now with a 100 POINT and a 1 COUPON reward",
	},
	{
		ID:          "manual-review",
		Name:        "Manual Review",
		Description: "MANUAL invite-friends event with a PENDING request awaiting an operator",
	},
	{
		ID:          "closed-event",
		Name:        "Closed Event",
		Description: "Event whose window has ended; new requests are refused",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var loader func(context.Context) (*ScenarioResultDTO, error)
	switch req.ScenarioID {
	case "auto-reward":
		loader = h.loadAutoRewardScenario
	case "manual-review":
		loader = h.loadManualReviewScenario
	case "closed-event":
		loader = h.loadClosedEventScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if rs, ok := h.Store.(Resetter); ok {
		if err := rs.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
			return
		}
	}

	result, err := loader(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	result.ScenarioID = req.ScenarioID

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// LOADERS
// =============================================================================

type scenarioReward struct {
	Type     engine.RewardType
	Name     string
	Quantity int64
}

func (h *Handler) createEventWithRewards(ctx context.Context, def engine.EventDefinition, rewards []scenarioReward, result *ScenarioResultDTO) (*engine.Event, error) {
	event, err := h.Engine.Events.Create(ctx, def)
	if err != nil {
		return nil, err
	}
	result.EventIDs = append(result.EventIDs, event.ID.String())
	for _, rw := range rewards {
		reward, err := h.Engine.Rewards.Create(ctx, event.ID.String(), rw.Type, rw.Name, decimal.NewFromInt(rw.Quantity))
		if err != nil {
			return nil, err
		}
		result.RewardIDs = append(result.RewardIDs, reward.ID.String())
	}
	return event, nil
}

func newScenarioResult() *ScenarioResultDTO {
	return &ScenarioResultDTO{
		UserID:    DemoUserID,
		AdminID:   DemoAdminID,
		EventIDs:  []string{},
		RewardIDs: []string{},
	}
}

func (h *Handler) loadAutoRewardScenario(ctx context.Context) (*ScenarioResultDTO, error) {
	now := time.Now().UTC()
	result := newScenarioResult()
	_, err := h.createEventWithRewards(ctx, engine.EventDefinition{
		Title:            "7-Day Login Streak",
		Description:      "Log in seven days in a row to earn points and a coupon",
		StartDate:        now.Add(-24 * time.Hour),
		EndDate:          now.Add(24 * time.Hour),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionLoginDays,
		ConditionValue:   decimal.NewFromInt(7),
		VerificationType: engine.VerificationAuto,
		CreatedBy:        DemoAdminID,
	}, []scenarioReward{
		{Type: engine.RewardPoint, Name: "Streak Points", Quantity: 100},
		{Type: engine.RewardCoupon, Name: "10% Off Coupon", Quantity: 1},
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Handler) loadManualReviewScenario(ctx context.Context) (*ScenarioResultDTO, error) {
	now := time.Now().UTC()
	result := newScenarioResult()
	event, err := h.createEventWithRewards(ctx, engine.EventDefinition{
		Title:            "Invite 3 Friends",
		Description:      "Invitations are checked by the community team",
		StartDate:        now.Add(-7 * 24 * time.Hour),
		EndDate:          now.Add(7 * 24 * time.Hour),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionInviteFriends,
		ConditionValue:   decimal.NewFromInt(3),
		VerificationType: engine.VerificationManual,
		CreatedBy:        DemoAdminID,
	}, []scenarioReward{
		{Type: engine.RewardItem, Name: "Community Badge", Quantity: 1},
	}, result)
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.Requests.Create(ctx, DemoUserID, event.ID.String()); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Handler) loadClosedEventScenario(ctx context.Context) (*ScenarioResultDTO, error) {
	now := time.Now().UTC()
	result := newScenarioResult()
	_, err := h.createEventWithRewards(ctx, engine.EventDefinition{
		Title:            "Last Week's Login Challenge",
		StartDate:        now.Add(-8 * 24 * time.Hour),
		EndDate:          now.Add(-24 * time.Hour),
		Status:           engine.EventActive,
		ConditionType:    engine.ConditionLoginDays,
		ConditionValue:   decimal.NewFromInt(5),
		VerificationType: engine.VerificationAuto,
		CreatedBy:        DemoAdminID,
	}, []scenarioReward{
		{Type: engine.RewardPoint, Name: "Challenge Points", Quantity: 50},
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}
