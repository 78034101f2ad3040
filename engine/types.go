/*
Package engine provides the reward request lifecycle engine.

PURPOSE:
  Manages time-boxed promotional events, the rewards attached to them, and
  the workflow through which a user's claim is validated, approved or
  rejected, and fulfilled exactly once.

KEY CONCEPTS IN THIS FILE (types.go):
  - Event:         A promotion with an eligibility window and condition
  - Reward:        A grant attached to an event (points, items, coupons)
  - RewardRequest: A user's claim against an event
  - HistoryEntry:  An issuance ledger record, one per (request, reward)

STATE MACHINE:
  PENDING ──▶ APPROVED ──▶ COMPLETED
     │
     └──────▶ REJECTED

  REJECTED and COMPLETED are terminal. PENDING, APPROVED and COMPLETED are
  "live": at most one live request may exist per (user, event).

DESIGN PRINCIPLES:
  1. Precision: quantities and thresholds use decimal.Decimal
  2. Opaque ids: every reference is a 24-hex ObjectID (see ids.go)
  3. Storage owns invariants: uniqueness and status CAS live in the Store

SEE ALSO:
  - request.go: lifecycle orchestration
  - store.go:   persistence contract
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type EventStatus string

const (
	EventActive   EventStatus = "ACTIVE"
	EventInactive EventStatus = "INACTIVE"
)

func (s EventStatus) Valid() bool {
	return s == EventActive || s == EventInactive
}

// VerificationType decides whether eligibility is checked programmatically
// (AUTO) or deferred to an operator (MANUAL).
type VerificationType string

const (
	VerificationAuto   VerificationType = "AUTO"
	VerificationManual VerificationType = "MANUAL"
)

func (v VerificationType) Valid() bool {
	return v == VerificationAuto || v == VerificationManual
}

// ConditionType is an open tag resolved through the Registry.
type ConditionType string

const (
	ConditionLoginDays     ConditionType = "LOGIN_DAYS"
	ConditionInviteFriends ConditionType = "INVITE_FRIENDS"
)

type RewardType string

const (
	RewardPoint  RewardType = "POINT"
	RewardItem   RewardType = "ITEM"
	RewardCoupon RewardType = "COUPON"
)

func (t RewardType) Valid() bool {
	switch t {
	case RewardPoint, RewardItem, RewardCoupon:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCompleted RequestStatus = "COMPLETED"
)

// LiveStatuses block a new request for the same (user, event).
var LiveStatuses = []RequestStatus{RequestPending, RequestApproved, RequestCompleted}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected, RequestCompleted:
		return true
	}
	return false
}

// Live reports whether s counts against the one-live-request invariant.
func (s RequestStatus) Live() bool {
	return s == RequestPending || s == RequestApproved || s == RequestCompleted
}

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestCompleted
}

// =============================================================================
// ENTITIES
// =============================================================================

// Event is a time-boxed promotion.
type Event struct {
	ID               ID
	Title            string
	Description      string
	StartDate        time.Time
	EndDate          time.Time
	Status           EventStatus
	ConditionType    ConditionType
	ConditionValue   decimal.Decimal
	VerificationType VerificationType
	CreatedBy        ID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reward is immutable after creation.
type Reward struct {
	ID        ID
	EventID   ID
	Type      RewardType
	Name      string
	Quantity  decimal.Decimal
	CreatedAt time.Time
}

// RewardRequest is a user's claim against an event.
type RewardRequest struct {
	ID          ID
	UserID      ID
	EventID     ID
	Status      RequestStatus
	RequestedAt time.Time
	ProcessedAt *time.Time
	ProcessedBy *ID
}

// HistoryEntry records that one reward was granted for one request.
type HistoryEntry struct {
	ID        ID
	RequestID ID
	UserID    ID
	EventID   ID
	RewardID  ID
	Quantity  decimal.Decimal
	IssuedAt  time.Time
}

// =============================================================================
// FILTERS
// =============================================================================

type EventFilter struct {
	Status    *EventStatus
	CreatedBy *ID
}

type RewardFilter struct {
	EventID *ID
	Type    *RewardType
}

type RequestFilter struct {
	UserID  *ID
	EventID *ID
	Status  *RequestStatus
	// ProcessedBefore restricts to requests processed strictly before the instant.
	ProcessedBefore *time.Time
}

type HistoryFilter struct {
	UserID    *ID
	EventID   *ID
	RequestID *ID
}
