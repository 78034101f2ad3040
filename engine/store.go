/*
store.go - Persistence contract for the reward engine

PURPOSE:
  Defines the interface between the domain logic and the database. The
  invariants that matter under concurrency are pushed INTO this contract
  rather than re-derived with read-then-write sequences in the engine.

STORAGE GUARANTEES:
  RequestStore.InsertRequest:
    Atomic "no live request exists" check + insert. A racing loser gets
    ErrDuplicateLiveRequest. SQL stores implement this with a partial
    unique index on (user_id, event_id) WHERE status is live.

  RequestStore.CompareAndSwapStatus:
    Single conditional write (UPDATE ... WHERE status = from). Exactly one
    of N concurrent callers wins; the rest get ErrStatusMismatch.

  HistoryStore.InsertHistory:
    Append-only, unique per (request_id, reward_id). A duplicate returns
    ErrDuplicateIssuance and writes nothing.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres:         PostgreSQL (pgx)

SEE ALSO:
  - errors.go: storage sentinels
  - ledger.go: idempotent issuance on top of HistoryStore
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG STORES
// =============================================================================

type EventStore interface {
	InsertEvent(ctx context.Context, event Event) error
	// GetEvent returns ErrRecordNotFound when no event matches.
	GetEvent(ctx context.Context, id ID) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	// UpdateEvent replaces the stored document. ErrRecordNotFound if absent.
	UpdateEvent(ctx context.Context, event Event) error
}

type RewardStore interface {
	InsertReward(ctx context.Context, reward Reward) error
	GetReward(ctx context.Context, id ID) (*Reward, error)
	ListRewards(ctx context.Context, filter RewardFilter) ([]Reward, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

// RequestTransition is a compare-and-swap on a request's status.
// ProcessedAt and ProcessedBy are written only when non-nil.
type RequestTransition struct {
	ID          ID
	From        RequestStatus
	To          RequestStatus
	ProcessedAt *time.Time
	ProcessedBy *ID
}

type RequestStore interface {
	// InsertRequest persists a new request. Returns ErrDuplicateLiveRequest
	// if a live request exists for the same (UserID, EventID).
	InsertRequest(ctx context.Context, req RewardRequest) error
	GetRequest(ctx context.Context, id ID) (*RewardRequest, error)
	// FindLiveRequest returns the live request for (user, event), or
	// ErrRecordNotFound.
	FindLiveRequest(ctx context.Context, userID, eventID ID) (*RewardRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]RewardRequest, error)
	// CompareAndSwapStatus applies t iff the stored status equals t.From.
	// Returns ErrStatusMismatch otherwise, ErrRecordNotFound if absent.
	CompareAndSwapStatus(ctx context.Context, t RequestTransition) (*RewardRequest, error)
}

// =============================================================================
// HISTORY STORE - Append-only
// =============================================================================

// HistoryStore is APPEND-ONLY. No Update, No Delete.
type HistoryStore interface {
	// InsertHistory returns ErrDuplicateIssuance if (RequestID, RewardID) exists.
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	// GetHistory returns the entry for (request, reward), or ErrRecordNotFound.
	GetHistory(ctx context.Context, requestID, rewardID ID) (*HistoryEntry, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
}

// =============================================================================
// AUDIT LOG - Separate from the ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string // "system" for automatic transitions
	Action    AuditAction
	RequestID ID
	EventID   ID
	UserID    ID
	Payload   map[string]any
}

type AuditAction string

const (
	AuditRequestCreated   AuditAction = "request_created"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCompleted AuditAction = "request_completed"
	AuditIssuanceFailed   AuditAction = "issuance_failed"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	RequestID *ID
	UserID    *ID
	Actions   []AuditAction
}

// =============================================================================
// STORE - Everything a backend provides
// =============================================================================

type Store interface {
	EventStore
	RewardStore
	RequestStore
	HistoryStore
	AuditLog
}
