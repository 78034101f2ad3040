// Package postgres provides a PostgreSQL-backed engine.Store on pgx.
//
// The schema mirrors store/sqlite. The same three constraints carry the
// engine's concurrency invariants:
//
//	idx_requests_live_unique       one live request per (user, event)
//	reward_history_request_reward  one ledger entry per (request, reward)
//	UPDATE ... WHERE status = $n   status compare-and-swap
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/engine"
)

const uniqueViolation = "23505"

// Store implements engine.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool for dsn and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership of it.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store not initialized")
	}
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL,
    condition_type TEXT NOT NULL,
    condition_value NUMERIC NOT NULL,
    verification_type TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_status ON events (status);

CREATE TABLE IF NOT EXISTS rewards (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL REFERENCES events (id),
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    quantity NUMERIC NOT NULL CHECK (quantity >= 1),
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rewards_event ON rewards (event_id);

CREATE TABLE IF NOT EXISTS reward_requests (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_id TEXT NOT NULL REFERENCES events (id),
    status TEXT NOT NULL,
    requested_at TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ,
    processed_by TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_live_unique
    ON reward_requests (user_id, event_id)
    WHERE status IN ('PENDING', 'APPROVED', 'COMPLETED');
CREATE INDEX IF NOT EXISTS idx_requests_user ON reward_requests (user_id);
CREATE INDEX IF NOT EXISTS idx_requests_status_processed ON reward_requests (status, processed_at);

CREATE TABLE IF NOT EXISTS reward_history (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL REFERENCES reward_requests (id),
    user_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    reward_id TEXT NOT NULL REFERENCES rewards (id),
    quantity NUMERIC NOT NULL,
    issued_at TIMESTAMPTZ NOT NULL,
    CONSTRAINT reward_history_request_reward UNIQUE (request_id, reward_id)
);
CREATE INDEX IF NOT EXISTS idx_history_user ON reward_history (user_id);
CREATE INDEX IF NOT EXISTS idx_history_event ON reward_history (event_id);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    ts TIMESTAMPTZ NOT NULL,
    actor_id TEXT NOT NULL,
    action TEXT NOT NULL,
    request_id TEXT,
    event_id TEXT,
    user_id TEXT,
    payload JSONB
);
CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_log (request_id);
`

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `id, title, description, start_date, end_date, status,
    condition_type, condition_value::text, verification_type, created_by, created_at, updated_at`

func (s *Store) InsertEvent(ctx context.Context, e engine.Event) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO events (id, title, description, start_date, end_date, status,
    condition_type, condition_value, verification_type, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)`,
		string(e.ID), e.Title, e.Description, e.StartDate, e.EndDate, string(e.Status),
		string(e.ConditionType), e.ConditionValue.String(), string(e.VerificationType),
		string(e.CreatedBy), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id engine.ID) (*engine.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	var w where
	if filter.Status != nil {
		w.add("status = ?", string(*filter.Status))
	}
	if filter.CreatedBy != nil {
		w.add("created_by = ?", string(*filter.CreatedBy))
	}
	rows, err := s.pool.Query(ctx, "SELECT "+eventColumns+" FROM events"+w.sql()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collect(rows, scanEvent)
}

func (s *Store) UpdateEvent(ctx context.Context, e engine.Event) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE events SET title = $1, description = $2, start_date = $3, end_date = $4, status = $5,
    condition_type = $6, condition_value = $7::numeric, verification_type = $8, updated_at = $9
WHERE id = $10`,
		e.Title, e.Description, e.StartDate, e.EndDate, string(e.Status),
		string(e.ConditionType), e.ConditionValue.String(), string(e.VerificationType), e.UpdatedAt,
		string(e.ID),
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrRecordNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (engine.Event, error) {
	var e engine.Event
	var id, status, conditionType, verification, creator, conditionValue string
	err := row.Scan(&id, &e.Title, &e.Description, &e.StartDate, &e.EndDate, &status,
		&conditionType, &conditionValue, &verification, &creator, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.ID = engine.ID(id)
	e.Status = engine.EventStatus(status)
	e.ConditionType = engine.ConditionType(conditionType)
	if e.ConditionValue, err = parseDecimal("condition_value", conditionValue); err != nil {
		return e, err
	}
	e.VerificationType = engine.VerificationType(verification)
	e.CreatedBy = engine.ID(creator)
	e.StartDate = e.StartDate.UTC()
	e.EndDate = e.EndDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// =============================================================================
// REWARDS
// =============================================================================

const rewardColumns = `id, event_id, type, name, quantity::text, created_at`

func (s *Store) InsertReward(ctx context.Context, r engine.Reward) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO rewards (id, event_id, type, name, quantity, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		string(r.ID), string(r.EventID), string(r.Type), r.Name, r.Quantity.String(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

func (s *Store) GetReward(ctx context.Context, id engine.ID) (*engine.Reward, error) {
	r, err := scanReward(s.pool.QueryRow(ctx, "SELECT "+rewardColumns+" FROM rewards WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRewards(ctx context.Context, filter engine.RewardFilter) ([]engine.Reward, error) {
	var w where
	if filter.EventID != nil {
		w.add("event_id = ?", string(*filter.EventID))
	}
	if filter.Type != nil {
		w.add("type = ?", string(*filter.Type))
	}
	rows, err := s.pool.Query(ctx, "SELECT "+rewardColumns+" FROM rewards"+w.sql()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query rewards: %w", err)
	}
	return collect(rows, scanReward)
}

func scanReward(row pgx.Row) (engine.Reward, error) {
	var r engine.Reward
	var id, eventID, rtype, quantity string
	if err := row.Scan(&id, &eventID, &rtype, &r.Name, &quantity, &r.CreatedAt); err != nil {
		return r, err
	}
	r.ID = engine.ID(id)
	r.EventID = engine.ID(eventID)
	r.Type = engine.RewardType(rtype)
	var err error
	if r.Quantity, err = parseDecimal("quantity", quantity); err != nil {
		return r, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, user_id, event_id, status, requested_at, processed_at, processed_by`

func (s *Store) InsertRequest(ctx context.Context, r engine.RewardRequest) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO reward_requests (id, user_id, event_id, status, requested_at, processed_at, processed_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(r.ID), string(r.UserID), string(r.EventID), string(r.Status), r.RequestedAt,
		r.ProcessedAt, idPtr(r.ProcessedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.ErrDuplicateLiveRequest
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id engine.ID) (*engine.RewardRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx, "SELECT "+requestColumns+" FROM reward_requests WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) FindLiveRequest(ctx context.Context, userID, eventID engine.ID) (*engine.RewardRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx, `
SELECT `+requestColumns+` FROM reward_requests
WHERE user_id = $1 AND event_id = $2 AND status IN ('PENDING', 'APPROVED', 'COMPLETED')`,
		string(userID), string(eventID),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, filter engine.RequestFilter) ([]engine.RewardRequest, error) {
	var w where
	if filter.UserID != nil {
		w.add("user_id = ?", string(*filter.UserID))
	}
	if filter.EventID != nil {
		w.add("event_id = ?", string(*filter.EventID))
	}
	if filter.Status != nil {
		w.add("status = ?", string(*filter.Status))
	}
	if filter.ProcessedBefore != nil {
		w.add("processed_at < ?", *filter.ProcessedBefore)
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+requestColumns+" FROM reward_requests"+w.sql()+" ORDER BY requested_at, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	return collect(rows, scanRequest)
}

// CompareAndSwapStatus is a single conditional UPDATE ... RETURNING.
func (s *Store) CompareAndSwapStatus(ctx context.Context, t engine.RequestTransition) (*engine.RewardRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx, `
UPDATE reward_requests
SET status = $1,
    processed_at = COALESCE($2, processed_at),
    processed_by = COALESCE($3, processed_by)
WHERE id = $4 AND status = $5
RETURNING `+requestColumns,
		string(t.To), t.ProcessedAt, idPtr(t.ProcessedBy), string(t.ID), string(t.From),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetRequest(ctx, t.ID); getErr != nil {
			return nil, getErr
		}
		return nil, engine.ErrStatusMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}
	return &r, nil
}

func scanRequest(row pgx.Row) (engine.RewardRequest, error) {
	var (
		r                           engine.RewardRequest
		id, userID, eventID, status string
		processedAt                 *time.Time
		processedBy                 *string
	)
	if err := row.Scan(&id, &userID, &eventID, &status, &r.RequestedAt, &processedAt, &processedBy); err != nil {
		return r, err
	}
	r.ID = engine.ID(id)
	r.UserID = engine.ID(userID)
	r.EventID = engine.ID(eventID)
	r.Status = engine.RequestStatus(status)
	r.RequestedAt = r.RequestedAt.UTC()
	if processedAt != nil {
		at := processedAt.UTC()
		r.ProcessedAt = &at
	}
	if processedBy != nil {
		by := engine.ID(*processedBy)
		r.ProcessedBy = &by
	}
	return r, nil
}

// =============================================================================
// HISTORY - Append-only
// =============================================================================

const historyColumns = `id, request_id, user_id, event_id, reward_id, quantity::text, issued_at`

func (s *Store) InsertHistory(ctx context.Context, h engine.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO reward_history (id, request_id, user_id, event_id, reward_id, quantity, issued_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)`,
		string(h.ID), string(h.RequestID), string(h.UserID), string(h.EventID), string(h.RewardID),
		h.Quantity.String(), h.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.ErrDuplicateIssuance
		}
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *Store) GetHistory(ctx context.Context, requestID, rewardID engine.ID) (*engine.HistoryEntry, error) {
	h, err := scanHistory(s.pool.QueryRow(ctx,
		"SELECT "+historyColumns+" FROM reward_history WHERE request_id = $1 AND reward_id = $2",
		string(requestID), string(rewardID),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) ListHistory(ctx context.Context, filter engine.HistoryFilter) ([]engine.HistoryEntry, error) {
	var w where
	if filter.UserID != nil {
		w.add("user_id = ?", string(*filter.UserID))
	}
	if filter.EventID != nil {
		w.add("event_id = ?", string(*filter.EventID))
	}
	if filter.RequestID != nil {
		w.add("request_id = ?", string(*filter.RequestID))
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+historyColumns+" FROM reward_history"+w.sql()+" ORDER BY issued_at, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collect(rows, scanHistory)
}

func scanHistory(row pgx.Row) (engine.HistoryEntry, error) {
	var h engine.HistoryEntry
	var id, requestID, userID, eventID, rewardID, qty string
	if err := row.Scan(&id, &requestID, &userID, &eventID, &rewardID, &qty, &h.IssuedAt); err != nil {
		return h, err
	}
	h.ID = engine.ID(id)
	h.RequestID = engine.ID(requestID)
	h.UserID = engine.ID(userID)
	h.EventID = engine.ID(eventID)
	h.RewardID = engine.ID(rewardID)
	var err error
	if h.Quantity, err = parseDecimal("quantity", qty); err != nil {
		return h, err
	}
	h.IssuedAt = h.IssuedAt.UTC()
	return h, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, a engine.AuditEntry) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO audit_log (id, ts, actor_id, action, request_id, event_id, user_id, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Timestamp, a.ActorID, string(a.Action),
		optional(string(a.RequestID)), optional(string(a.EventID)), optional(string(a.UserID)),
		payload,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	var w where
	if filter.RequestID != nil {
		w.add("request_id = ?", string(*filter.RequestID))
	}
	if filter.UserID != nil {
		w.add("user_id = ?", string(*filter.UserID))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		w.add("action = ANY(?)", actions)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, ts, actor_id, action, request_id, event_id, user_id, payload
FROM audit_log`+w.sql()+` ORDER BY ts, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return collect(rows, func(row pgx.Row) (engine.AuditEntry, error) {
		var (
			a                          engine.AuditEntry
			action                     string
			requestID, eventID, userID *string
			payload                    []byte
		)
		if err := row.Scan(&a.ID, &a.Timestamp, &a.ActorID, &action, &requestID, &eventID, &userID, &payload); err != nil {
			return a, err
		}
		a.Timestamp = a.Timestamp.UTC()
		a.Action = engine.AuditAction(action)
		a.RequestID = engine.ID(deref(requestID))
		a.EventID = engine.ID(deref(eventID))
		a.UserID = engine.ID(deref(userID))
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &a.Payload); err != nil {
				return a, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		return a, nil
	})
}

// Reset deletes all data. Used by the demo scenario loader only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE audit_log, reward_history, reward_requests, rewards, events")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed conditions. Clauses use "?" and are rewritten to
// $n placeholders in order.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return d, nil
}

func idPtr(id *engine.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ engine.Store = (*Store)(nil)
