/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  engine types. Field names follow the public API (camelCase, "_id" style
  ids are plain "id").

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  conditionValue and quantity are decimal.Decimal. They accept a JSON number
  or string on input and are written as strings on output.

VALIDATION:
  Validation is done by the engine, not here. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/engine"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventDTO struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	StartDate        time.Time       `json:"startDate"`
	EndDate          time.Time       `json:"endDate"`
	Status           string          `json:"status"`
	ConditionType    string          `json:"conditionType"`
	ConditionValue   decimal.Decimal `json:"conditionValue"`
	VerificationType string          `json:"verificationType"`
	CreatedBy        string          `json:"createdBy"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CreateEventRequest is the body of POST /api/events. CreatedBy falls back
// to the X-User-ID header when empty.
type CreateEventRequest struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	StartDate        time.Time       `json:"startDate"`
	EndDate          time.Time       `json:"endDate"`
	Status           string          `json:"status"`
	ConditionType    string          `json:"conditionType"`
	ConditionValue   decimal.Decimal `json:"conditionValue"`
	VerificationType string          `json:"verificationType"`
	CreatedBy        string          `json:"createdBy"`
}

// UpdateEventRequest is the body of PUT /api/events/{id}. Omitted fields
// keep their stored value.
type UpdateEventRequest struct {
	Title            *string          `json:"title"`
	Description      *string          `json:"description"`
	StartDate        *time.Time       `json:"startDate"`
	EndDate          *time.Time       `json:"endDate"`
	Status           *string          `json:"status"`
	ConditionType    *string          `json:"conditionType"`
	ConditionValue   *decimal.Decimal `json:"conditionValue"`
	VerificationType *string          `json:"verificationType"`
}

// ConditionCheckDTO answers GET /api/events/{id}/check-condition/{userId}.
type ConditionCheckDTO struct {
	IsConditionMet bool `json:"isConditionMet"`
}

func toEventDTO(e engine.Event) EventDTO {
	return EventDTO{
		ID:               e.ID.String(),
		Title:            e.Title,
		Description:      e.Description,
		StartDate:        e.StartDate,
		EndDate:          e.EndDate,
		Status:           string(e.Status),
		ConditionType:    string(e.ConditionType),
		ConditionValue:   e.ConditionValue,
		VerificationType: string(e.VerificationType),
		CreatedBy:        e.CreatedBy.String(),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (r UpdateEventRequest) toPatch() engine.EventPatch {
	p := engine.EventPatch{
		Title:          r.Title,
		Description:    r.Description,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		ConditionValue: r.ConditionValue,
	}
	if r.Status != nil {
		s := engine.EventStatus(*r.Status)
		p.Status = &s
	}
	if r.ConditionType != nil {
		c := engine.ConditionType(*r.ConditionType)
		p.ConditionType = &c
	}
	if r.VerificationType != nil {
		v := engine.VerificationType(*r.VerificationType)
		p.VerificationType = &v
	}
	return p
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardDTO struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"createdAt"`
}

type CreateRewardRequest struct {
	EventID  string          `json:"eventId"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
}

func toRewardDTO(r engine.Reward) RewardDTO {
	return RewardDTO{
		ID:        r.ID.String(),
		EventID:   r.EventID.String(),
		Type:      string(r.Type),
		Name:      r.Name,
		Quantity:  r.Quantity,
		CreatedAt: r.CreatedAt,
	}
}

// =============================================================================
// REWARD REQUESTS
// =============================================================================

type RewardRequestDTO struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	EventID     string     `json:"eventId"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	ProcessedBy *string    `json:"processedBy,omitempty"`
}

// SubmitRewardRequest is the body of POST /api/reward-requests. The user is
// taken from the X-User-ID header.
type SubmitRewardRequest struct {
	EventID string `json:"eventId"`
}

// ProcessRewardRequest is the body of POST /api/reward-requests/{id}/process.
type ProcessRewardRequest struct {
	Status string `json:"status"`
}

func toRewardRequestDTO(r engine.RewardRequest) RewardRequestDTO {
	dto := RewardRequestDTO{
		ID:          r.ID.String(),
		UserID:      r.UserID.String(),
		EventID:     r.EventID.String(),
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		ProcessedAt: r.ProcessedAt,
	}
	if r.ProcessedBy != nil {
		by := r.ProcessedBy.String()
		dto.ProcessedBy = &by
	}
	return dto
}

// =============================================================================
// HISTORY
// =============================================================================

type HistoryDTO struct {
	ID        string          `json:"id"`
	RequestID string          `json:"requestId"`
	UserID    string          `json:"userId"`
	EventID   string          `json:"eventId"`
	RewardID  string          `json:"rewardId"`
	Quantity  decimal.Decimal `json:"quantity"`
	IssuedAt  time.Time       `json:"issuedAt"`
}

// RewardTotalDTO is one line of GET /api/reward-history/user/{userId}/totals.
type RewardTotalDTO struct {
	RewardID string          `json:"rewardId"`
	Total    decimal.Decimal `json:"total"`
}

func toHistoryDTO(h engine.HistoryEntry) HistoryDTO {
	return HistoryDTO{
		ID:        h.ID.String(),
		RequestID: h.RequestID.String(),
		UserID:    h.UserID.String(),
		EventID:   h.EventID.String(),
		RewardID:  h.RewardID.String(),
		Quantity:  h.Quantity,
		IssuedAt:  h.IssuedAt,
	}
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId"`
	Action    string         `json:"action"`
	RequestID string         `json:"requestId,omitempty"`
	EventID   string         `json:"eventId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toAuditDTO(a engine.AuditEntry) AuditDTO {
	return AuditDTO{
		ID:        a.ID,
		Timestamp: a.Timestamp,
		ActorID:   a.ActorID,
		Action:    string(a.Action),
		RequestID: a.RequestID.String(),
		EventID:   a.EventID.String(),
		UserID:    a.UserID.String(),
		Payload:   a.Payload,
	}
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ScenarioResultDTO lists the ids created by a scenario loader.
type ScenarioResultDTO struct {
	ScenarioID string   `json:"scenarioId"`
	UserID     string   `json:"userId"`
	AdminID    string   `json:"adminId"`
	EventIDs   []string `json:"eventIds"`
	RewardIDs  []string `json:"rewardIds"`
}

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func mapSlice[T, D any](items []T, fn func(T) D) []D {
	out := make([]D, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}
