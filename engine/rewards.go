package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var minQuantity = decimal.NewFromInt(1)

// RewardCatalog owns reward definitions. It reads the event catalog only to
// check that the owning event exists at creation time.
type RewardCatalog struct {
	store  RewardStore
	events *EventCatalog
	clock  Clock
}

func NewRewardCatalog(store RewardStore, events *EventCatalog, clock Clock) *RewardCatalog {
	if clock == nil {
		clock = SystemClock{}
	}
	return &RewardCatalog{store: store, events: events, clock: clock}
}

// Create attaches a reward to an existing event.
func (c *RewardCatalog) Create(ctx context.Context, rawEventID string, rewardType RewardType, name string, quantity decimal.Decimal) (*Reward, error) {
	eventID, err := ParseID("eventId", rawEventID)
	if err != nil {
		return nil, err
	}
	if !rewardType.Valid() {
		return nil, invalidArgument("create_reward", "reward type must be one of POINT, ITEM, COUPON, got %q", rewardType)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidArgument("create_reward", "name is required")
	}
	if quantity.LessThan(minQuantity) {
		return nil, invalidArgument("create_reward", "quantity must be at least 1, got %s", quantity)
	}
	if _, err := c.events.get(ctx, eventID); err != nil {
		return nil, err
	}

	reward := Reward{
		ID:        NewID(),
		EventID:   eventID,
		Type:      rewardType,
		Name:      name,
		Quantity:  quantity,
		CreatedAt: c.clock.Now(),
	}
	if err := c.store.InsertReward(ctx, reward); err != nil {
		return nil, storeError("create_reward", err)
	}
	return &reward, nil
}

func (c *RewardCatalog) Get(ctx context.Context, rawID string) (*Reward, error) {
	id, err := ParseID("reward ID", rawID)
	if err != nil {
		return nil, err
	}
	reward, err := c.store.GetReward(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("get_reward", "reward with ID %s not found", id)
	}
	if err != nil {
		return nil, storeError("get_reward", err)
	}
	return reward, nil
}

func (c *RewardCatalog) ListByEvent(ctx context.Context, rawEventID string) ([]Reward, error) {
	eventID, err := ParseID("eventId", rawEventID)
	if err != nil {
		return nil, err
	}
	return c.listByEvent(ctx, eventID)
}

func (c *RewardCatalog) listByEvent(ctx context.Context, eventID ID) ([]Reward, error) {
	rewards, err := c.store.ListRewards(ctx, RewardFilter{EventID: &eventID})
	if err != nil {
		return nil, storeError("list_rewards", err)
	}
	return rewards, nil
}

func (c *RewardCatalog) List(ctx context.Context, filter RewardFilter) ([]Reward, error) {
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, invalidArgument("list_rewards", "unknown reward type %q", *filter.Type)
	}
	rewards, err := c.store.ListRewards(ctx, filter)
	if err != nil {
		return nil, storeError("list_rewards", err)
	}
	return rewards, nil
}
