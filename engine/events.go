package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENT CATALOG
// =============================================================================

// EventDefinition is the input to EventCatalog.Create. Ids arrive as raw
// strings from the transport and are parsed here.
type EventDefinition struct {
	Title            string
	Description      string
	StartDate        time.Time
	EndDate          time.Time
	Status           EventStatus // defaults to ACTIVE
	ConditionType    ConditionType
	ConditionValue   decimal.Decimal
	VerificationType VerificationType // defaults to AUTO
	CreatedBy        string
}

// EventPatch carries the fields to change; nil means "keep".
type EventPatch struct {
	Title            *string
	Description      *string
	StartDate        *time.Time
	EndDate          *time.Time
	Status           *EventStatus
	ConditionType    *ConditionType
	ConditionValue   *decimal.Decimal
	VerificationType *VerificationType
}

// EventCatalog owns event definitions.
type EventCatalog struct {
	store EventStore
	clock Clock
}

func NewEventCatalog(store EventStore, clock Clock) *EventCatalog {
	if clock == nil {
		clock = SystemClock{}
	}
	return &EventCatalog{store: store, clock: clock}
}

// Create validates def and persists a new event.
func (c *EventCatalog) Create(ctx context.Context, def EventDefinition) (*Event, error) {
	createdBy, err := ParseID("createdBy", def.CreatedBy)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	event := Event{
		ID:               NewID(),
		Title:            strings.TrimSpace(def.Title),
		Description:      def.Description,
		StartDate:        def.StartDate.UTC(),
		EndDate:          def.EndDate.UTC(),
		Status:           def.Status,
		ConditionType:    def.ConditionType,
		ConditionValue:   def.ConditionValue,
		VerificationType: def.VerificationType,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if event.Status == "" {
		event.Status = EventActive
	}
	if event.VerificationType == "" {
		event.VerificationType = VerificationAuto
	}
	if err := validateEvent("create_event", event); err != nil {
		return nil, err
	}
	if err := c.store.InsertEvent(ctx, event); err != nil {
		return nil, storeError("create_event", err)
	}
	return &event, nil
}

// Get fails with ErrInvalidArgument for malformed ids and ErrNotFound for
// well-formed ids that match nothing.
func (c *EventCatalog) Get(ctx context.Context, rawID string) (*Event, error) {
	id, err := ParseID("event ID", rawID)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, id)
}

func (c *EventCatalog) get(ctx context.Context, id ID) (*Event, error) {
	event, err := c.store.GetEvent(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("get_event", "event with ID %s not found", id)
	}
	if err != nil {
		return nil, storeError("get_event", err)
	}
	return event, nil
}

// freshEventReader is implemented by event stores that can bypass a cache.
type freshEventReader interface {
	GetEventFresh(ctx context.Context, id ID) (*Event, error)
}

// getFresh is get for decisions that depend on the event's current status
// or window. It skips any cache in front of the store.
func (c *EventCatalog) getFresh(ctx context.Context, id ID) (*Event, error) {
	fr, ok := c.store.(freshEventReader)
	if !ok {
		return c.get(ctx, id)
	}
	event, err := fr.GetEventFresh(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("get_event", "event with ID %s not found", id)
	}
	if err != nil {
		return nil, storeError("get_event", err)
	}
	return event, nil
}

func (c *EventCatalog) List(ctx context.Context, filter EventFilter) ([]Event, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalidArgument("list_events", "unknown event status %q", *filter.Status)
	}
	events, err := c.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, storeError("list_events", err)
	}
	return events, nil
}

// Update applies patch onto the stored event and writes back the full document.
func (c *EventCatalog) Update(ctx context.Context, rawID string, patch EventPatch) (*Event, error) {
	id, err := ParseID("event ID", rawID)
	if err != nil {
		return nil, err
	}
	event, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *event
	if patch.Title != nil {
		updated.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.StartDate != nil {
		updated.StartDate = patch.StartDate.UTC()
	}
	if patch.EndDate != nil {
		updated.EndDate = patch.EndDate.UTC()
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.ConditionType != nil {
		updated.ConditionType = *patch.ConditionType
	}
	if patch.ConditionValue != nil {
		updated.ConditionValue = *patch.ConditionValue
	}
	if patch.VerificationType != nil {
		updated.VerificationType = *patch.VerificationType
	}
	updated.UpdatedAt = c.clock.Now()

	if err := validateEvent("update_event", updated); err != nil {
		return nil, err
	}
	err = c.store.UpdateEvent(ctx, updated)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("update_event", "event with ID %s not found", id)
	}
	if err != nil {
		return nil, storeError("update_event", err)
	}
	return &updated, nil
}

// IsEligibleWindow reports whether requests may currently be made against
// event: it must be ACTIVE and now must fall within [StartDate, EndDate].
func (c *EventCatalog) IsEligibleWindow(event *Event, now time.Time) bool {
	return event.Status == EventActive && within(now, event.StartDate, event.EndDate)
}

func validateEvent(op string, e Event) error {
	switch {
	case e.Title == "":
		return invalidArgument(op, "title is required")
	case e.StartDate.IsZero() || e.EndDate.IsZero():
		return invalidArgument(op, "startDate and endDate are required")
	case e.EndDate.Before(e.StartDate):
		return invalidArgument(op, "endDate %s is before startDate %s",
			e.EndDate.Format(time.RFC3339), e.StartDate.Format(time.RFC3339))
	case !e.Status.Valid():
		return invalidArgument(op, "status must be either ACTIVE or INACTIVE, got %q", e.Status)
	case !e.VerificationType.Valid():
		return invalidArgument(op, "verification type must be either AUTO or MANUAL, got %q", e.VerificationType)
	case strings.TrimSpace(string(e.ConditionType)) == "":
		return invalidArgument(op, "conditionType is required")
	case !e.ConditionValue.IsPositive():
		return invalidArgument(op, "conditionValue must be positive, got %s", e.ConditionValue)
	}
	return nil
}
