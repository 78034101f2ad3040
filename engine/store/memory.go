// Package store provides in-process engine.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/reward-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps behind one RWMutex. Every check-then-write
// (live-request uniqueness, status CAS, issuance uniqueness) happens under the
// write lock, which gives the same guarantees the SQL constraints give.
type Memory struct {
	mu sync.RWMutex

	events      map[engine.ID]engine.Event
	eventOrder  []engine.ID
	rewards     map[engine.ID]engine.Reward
	rewardOrder []engine.ID

	requests     map[engine.ID]engine.RewardRequest
	requestOrder []engine.ID
	live         map[liveKey]engine.ID

	history  []engine.HistoryEntry
	issuance map[issuanceKey]int // index into history

	audit []engine.AuditEntry
}

type liveKey struct {
	UserID  engine.ID
	EventID engine.ID
}

type issuanceKey struct {
	RequestID engine.ID
	RewardID  engine.ID
}

func NewMemory() *Memory {
	return &Memory{
		events:   make(map[engine.ID]engine.Event),
		rewards:  make(map[engine.ID]engine.Reward),
		requests: make(map[engine.ID]engine.RewardRequest),
		live:     make(map[liveKey]engine.ID),
		issuance: make(map[issuanceKey]int),
	}
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) InsertEvent(_ context.Context, event engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; !ok {
		m.eventOrder = append(m.eventOrder, event.ID)
	}
	m.events[event.ID] = event
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id engine.ID) (*engine.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	return &event, nil
}

func (m *Memory) ListEvents(_ context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Event
	for _, id := range m.eventOrder {
		e := m.events[id]
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != nil && e.CreatedBy != *filter.CreatedBy {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) UpdateEvent(_ context.Context, event engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; !ok {
		return engine.ErrRecordNotFound
	}
	m.events[event.ID] = event
	return nil
}

// =============================================================================
// REWARDS
// =============================================================================

func (m *Memory) InsertReward(_ context.Context, reward engine.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rewards[reward.ID]; !ok {
		m.rewardOrder = append(m.rewardOrder, reward.ID)
	}
	m.rewards[reward.ID] = reward
	return nil
}

func (m *Memory) GetReward(_ context.Context, id engine.ID) (*engine.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reward, ok := m.rewards[id]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	return &reward, nil
}

func (m *Memory) ListRewards(_ context.Context, filter engine.RewardFilter) ([]engine.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Reward
	for _, id := range m.rewardOrder {
		r := m.rewards[id]
		if filter.EventID != nil && r.EventID != *filter.EventID {
			continue
		}
		if filter.Type != nil && r.Type != *filter.Type {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

// InsertRequest enforces one live request per (user, event).
func (m *Memory) InsertRequest(_ context.Context, req engine.RewardRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := liveKey{UserID: req.UserID, EventID: req.EventID}
	if req.Status.Live() {
		if _, taken := m.live[k]; taken {
			return engine.ErrDuplicateLiveRequest
		}
		m.live[k] = req.ID
	}
	m.requests[req.ID] = req
	m.requestOrder = append(m.requestOrder, req.ID)
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id engine.ID) (*engine.RewardRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	return cloneRequest(req), nil
}

func (m *Memory) FindLiveRequest(_ context.Context, userID, eventID engine.ID) (*engine.RewardRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.live[liveKey{UserID: userID, EventID: eventID}]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	return cloneRequest(m.requests[id]), nil
}

func (m *Memory) ListRequests(_ context.Context, filter engine.RequestFilter) ([]engine.RewardRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.RewardRequest
	for _, id := range m.requestOrder {
		r := m.requests[id]
		if filter.UserID != nil && r.UserID != *filter.UserID {
			continue
		}
		if filter.EventID != nil && r.EventID != *filter.EventID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.ProcessedBefore != nil && (r.ProcessedAt == nil || !r.ProcessedAt.Before(*filter.ProcessedBefore)) {
			continue
		}
		out = append(out, *cloneRequest(r))
	}
	return out, nil
}

// CompareAndSwapStatus applies t only if the stored status equals t.From.
func (m *Memory) CompareAndSwapStatus(_ context.Context, t engine.RequestTransition) (*engine.RewardRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[t.ID]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	if req.Status != t.From {
		return nil, engine.ErrStatusMismatch
	}

	req.Status = t.To
	if t.ProcessedAt != nil {
		at := *t.ProcessedAt
		req.ProcessedAt = &at
	}
	if t.ProcessedBy != nil {
		by := *t.ProcessedBy
		req.ProcessedBy = &by
	}
	m.requests[t.ID] = req

	k := liveKey{UserID: req.UserID, EventID: req.EventID}
	if !t.To.Live() && m.live[k] == req.ID {
		delete(m.live, k)
	}
	return cloneRequest(req), nil
}

func cloneRequest(r engine.RewardRequest) *engine.RewardRequest {
	if r.ProcessedAt != nil {
		at := *r.ProcessedAt
		r.ProcessedAt = &at
	}
	if r.ProcessedBy != nil {
		by := *r.ProcessedBy
		r.ProcessedBy = &by
	}
	return &r
}

// =============================================================================
// HISTORY - Append-only
// =============================================================================

func (m *Memory) InsertHistory(ctx context.Context, entry engine.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := issuanceKey{RequestID: entry.RequestID, RewardID: entry.RewardID}
	if _, ok := m.issuance[k]; ok {
		return engine.ErrDuplicateIssuance
	}
	m.issuance[k] = len(m.history)
	m.history = append(m.history, entry)
	return nil
}

func (m *Memory) GetHistory(_ context.Context, requestID, rewardID engine.ID) (*engine.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.issuance[issuanceKey{RequestID: requestID, RewardID: rewardID}]
	if !ok {
		return nil, engine.ErrRecordNotFound
	}
	entry := m.history[i]
	return &entry, nil
}

func (m *Memory) ListHistory(_ context.Context, filter engine.HistoryFilter) ([]engine.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.HistoryEntry
	for _, e := range m.history {
		if filter.UserID != nil && e.UserID != *filter.UserID {
			continue
		}
		if filter.EventID != nil && e.EventID != *filter.EventID {
			continue
		}
		if filter.RequestID != nil && e.RequestID != *filter.RequestID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.AuditEntry
	for _, e := range m.audit {
		if filter.RequestID != nil && e.RequestID != *filter.RequestID {
			continue
		}
		if filter.UserID != nil && e.UserID != *filter.UserID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	fresh := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events, m.eventOrder = fresh.events, nil
	m.rewards, m.rewardOrder = fresh.rewards, nil
	m.requests, m.requestOrder, m.live = fresh.requests, nil, fresh.live
	m.history, m.issuance = nil, fresh.issuance
	m.audit = nil
	return nil
}

func containsAction(actions []engine.AuditAction, a engine.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

var _ engine.Store = (*Memory)(nil)
