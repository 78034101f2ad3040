/*
ledger.go - Append-only issuance ledger

PURPOSE:
  The Ledger is the source of truth for "has this reward been granted".
  Every issuance for an approved request is one HistoryEntry, keyed by
  (request, reward).

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IDEMPOTENT: Record with the same (request, reward) returns the existing
     entry instead of writing a second one.

  Idempotency is what makes issuance safe to re-run from the top after a
  partial failure: a crash after reward 1 of 3 followed by a retry writes
  only rewards 2 and 3.

EXAMPLE FLOW:
  1. Record(req-1, reward-A, 100)  -> new entry
  2. Record(req-1, reward-B, 1)    -> storage timeout (Transient)
  3. retry: Record(req-1, reward-A) -> existing entry, no write
            Record(req-1, reward-B) -> new entry

SEE ALSO:
  - store.go:   HistoryStore contract
  - request.go: issue step
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLedgerTimeout bounds a single ledger write.
const DefaultLedgerTimeout = 5 * time.Second

// IssuanceLedger exclusively owns HistoryEntry creation.
type IssuanceLedger struct {
	store   HistoryStore
	clock   Clock
	metrics *Metrics
	timeout time.Duration
}

func NewIssuanceLedger(store HistoryStore, clock Clock, metrics *Metrics, timeout time.Duration) *IssuanceLedger {
	if clock == nil {
		clock = SystemClock{}
	}
	if timeout <= 0 {
		timeout = DefaultLedgerTimeout
	}
	return &IssuanceLedger{store: store, clock: clock, metrics: metrics, timeout: timeout}
}

// Record appends the issuance of rewardID for requestID. A second call with
// the same pair is a no-op returning the entry already recorded.
func (l *IssuanceLedger) Record(ctx context.Context, requestID, userID, eventID, rewardID ID, quantity decimal.Decimal) (*HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	entry := HistoryEntry{
		ID:        NewID(),
		RequestID: requestID,
		UserID:    userID,
		EventID:   eventID,
		RewardID:  rewardID,
		Quantity:  quantity,
		IssuedAt:  l.clock.Now(),
	}
	err := l.store.InsertHistory(ctx, entry)
	if err == nil {
		l.metrics.incLedger("issued")
		return &entry, nil
	}
	if !errors.Is(err, ErrDuplicateIssuance) {
		l.metrics.incLedger("failed")
		return nil, transient("record_issuance", err)
	}

	existing, err := l.store.GetHistory(ctx, requestID, rewardID)
	if err != nil {
		l.metrics.incLedger("failed")
		return nil, transient("record_issuance", err)
	}
	l.metrics.incLedger("duplicate")
	return existing, nil
}

// HasIssued is true iff at least one entry exists for the request.
func (l *IssuanceLedger) HasIssued(ctx context.Context, requestID ID) (bool, error) {
	entries, err := l.listByRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (l *IssuanceLedger) ListByUser(ctx context.Context, rawUserID string) ([]HistoryEntry, error) {
	userID, err := ParseID("userId", rawUserID)
	if err != nil {
		return nil, err
	}
	return l.list(ctx, HistoryFilter{UserID: &userID})
}

func (l *IssuanceLedger) ListByEvent(ctx context.Context, rawEventID string) ([]HistoryEntry, error) {
	eventID, err := ParseID("eventId", rawEventID)
	if err != nil {
		return nil, err
	}
	return l.list(ctx, HistoryFilter{EventID: &eventID})
}

func (l *IssuanceLedger) ListByRequest(ctx context.Context, rawRequestID string) ([]HistoryEntry, error) {
	requestID, err := ParseID("requestId", rawRequestID)
	if err != nil {
		return nil, err
	}
	return l.listByRequest(ctx, requestID)
}

func (l *IssuanceLedger) listByRequest(ctx context.Context, requestID ID) ([]HistoryEntry, error) {
	return l.list(ctx, HistoryFilter{RequestID: &requestID})
}

// List returns entries matching filter, in issuance order.
func (l *IssuanceLedger) List(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	return l.list(ctx, filter)
}

func (l *IssuanceLedger) list(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	entries, err := l.store.ListHistory(ctx, filter)
	if err != nil {
		return nil, storeError("list_history", err)
	}
	return entries, nil
}

// Totals sums issued quantities per reward for a user.
func (l *IssuanceLedger) Totals(ctx context.Context, rawUserID string) (map[ID]decimal.Decimal, error) {
	entries, err := l.ListByUser(ctx, rawUserID)
	if err != nil {
		return nil, err
	}
	totals := make(map[ID]decimal.Decimal)
	for _, e := range entries {
		totals[e.RewardID] = totals[e.RewardID].Add(e.Quantity)
	}
	return totals, nil
}
