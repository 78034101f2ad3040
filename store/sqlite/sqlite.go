/*
Package sqlite provides a SQLite-backed implementation of engine.Store.

PURPOSE:
  Persists events, rewards, reward requests, the issuance ledger and the
  audit log in SQLite. The PostgreSQL store (store/postgres) uses the same
  schema shape; only dialect details differ.

KEY TABLES:
  events:          Event definitions (full-document update, never deleted)
  rewards:         Rewards attached to events (immutable)
  reward_requests: Request lifecycle rows
  reward_history:  Issuance ledger (append-only)
  audit_log:       Who did what when (append-only)

CONSTRAINTS THAT CARRY ENGINE INVARIANTS:
  - idx_requests_live_unique: partial UNIQUE on (user_id, event_id) WHERE
    status is live. A second live insert fails -> ErrDuplicateLiveRequest.
  - UNIQUE(request_id, reward_id) on reward_history -> ErrDuplicateIssuance.
  - Status CAS: UPDATE ... WHERE id = ? AND status = ?; zero rows affected
    means the status moved -> ErrStatusMismatch.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches reward_history or audit_log.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, on top of the constraints above.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so string comparison in SQL
  matches chronological order.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(store, conditions.DefaultRegistry(log), engine.Options{})

SEE ALSO:
  - engine/store.go:        Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/reward-engine/engine"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		condition_type TEXT NOT NULL,
		condition_value TEXT NOT NULL,
		verification_type TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
	CREATE INDEX IF NOT EXISTS idx_events_created_by ON events(created_by);

	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES events(id),
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_event ON rewards(event_id);

	CREATE TABLE IF NOT EXISTS reward_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		event_id TEXT NOT NULL REFERENCES events(id),
		status TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		processed_at TEXT,
		processed_by TEXT
	);

	-- CRITICAL: at most one live request per (user, event).
	-- REJECTED rows fall out of the index so the user can resubmit.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_live_unique
		ON reward_requests(user_id, event_id)
		WHERE status IN ('PENDING', 'APPROVED', 'COMPLETED');

	CREATE INDEX IF NOT EXISTS idx_requests_user ON reward_requests(user_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status_processed
		ON reward_requests(status, processed_at);

	-- Issuance ledger (append-only)
	CREATE TABLE IF NOT EXISTS reward_history (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES reward_requests(id),
		user_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		reward_id TEXT NOT NULL REFERENCES rewards(id),
		quantity TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		UNIQUE (request_id, reward_id)
	);

	CREATE INDEX IF NOT EXISTS idx_history_user ON reward_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_history_event ON reward_history(event_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		request_id TEXT,
		event_id TEXT,
		user_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_log(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Store) InsertEvent(ctx context.Context, e engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO events (id, title, description, start_date, end_date, status,
			condition_type, condition_value, verification_type, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Title, nullString(e.Description), formatTime(e.StartDate), formatTime(e.EndDate),
		e.Status, e.ConditionType, e.ConditionValue.String(), e.VerificationType,
		e.CreatedBy, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

const eventColumns = `id, title, description, start_date, end_date, status,
	condition_type, condition_value, verification_type, created_by, created_at, updated_at`

func (s *Store) GetEvent(ctx context.Context, id engine.ID) (*engine.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if filter.Status != nil {
		w.add("status = ?", *filter.Status)
	}
	if filter.CreatedBy != nil {
		w.add("created_by = ?", *filter.CreatedBy)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+eventColumns+" FROM events"+w.sql()+" ORDER BY created_at, rowid", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []engine.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) UpdateEvent(ctx context.Context, e engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE events SET title = ?, description = ?, start_date = ?, end_date = ?, status = ?,
			condition_type = ?, condition_value = ?, verification_type = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		e.Title, nullString(e.Description), formatTime(e.StartDate), formatTime(e.EndDate), e.Status,
		e.ConditionType, e.ConditionValue.String(), e.VerificationType, formatTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrRecordNotFound
	}
	return nil
}

func scanEvent(row scanner) (engine.Event, error) {
	var (
		e           engine.Event
		description sql.NullString
	)
	var start, end, conditionValue, created, updated string
	err := row.Scan(&e.ID, &e.Title, &description, &start, &end, &e.Status,
		&e.ConditionType, &conditionValue, &e.VerificationType, &e.CreatedBy, &created, &updated)
	if err != nil {
		return e, err
	}
	e.Description = description.String
	var c columns
	e.StartDate = c.time("start_date", start)
	e.EndDate = c.time("end_date", end)
	e.ConditionValue = c.decimal("condition_value", conditionValue)
	e.CreatedAt = c.time("created_at", created)
	e.UpdatedAt = c.time("updated_at", updated)
	return e, c.err
}

// =============================================================================
// REWARDS
// =============================================================================

func (s *Store) InsertReward(ctx context.Context, r engine.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (id, event_id, type, name, quantity, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.Type, r.Name, r.Quantity.String(), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

const rewardColumns = `id, event_id, type, name, quantity, created_at`

func (s *Store) GetReward(ctx context.Context, id engine.ID) (*engine.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanReward(s.db.QueryRowContext(ctx, "SELECT "+rewardColumns+" FROM rewards WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRewards(ctx context.Context, filter engine.RewardFilter) ([]engine.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if filter.EventID != nil {
		w.add("event_id = ?", *filter.EventID)
	}
	if filter.Type != nil {
		w.add("type = ?", *filter.Type)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+rewardColumns+" FROM rewards"+w.sql()+" ORDER BY created_at, rowid", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []engine.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

func scanReward(row scanner) (engine.Reward, error) {
	var (
		r                 engine.Reward
		quantity, created string
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.Type, &r.Name, &quantity, &created); err != nil {
		return r, err
	}
	var c columns
	r.Quantity = c.decimal("quantity", quantity)
	r.CreatedAt = c.time("created_at", created)
	return r, c.err
}

// =============================================================================
// REQUESTS
// =============================================================================

// InsertRequest relies on idx_requests_live_unique for the one-live-request rule.
func (s *Store) InsertRequest(ctx context.Context, r engine.RewardRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_requests (id, user_id, event_id, status, requested_at, processed_at, processed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.EventID, r.Status, formatTime(r.RequestedAt),
		nullTime(r.ProcessedAt), nullID(r.ProcessedBy),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateLiveRequest
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

const requestColumns = `id, user_id, event_id, status, requested_at, processed_at, processed_by`

func (s *Store) GetRequest(ctx context.Context, id engine.ID) (*engine.RewardRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRequest(ctx, id)
}

func (s *Store) getRequest(ctx context.Context, id engine.ID) (*engine.RewardRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM reward_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) FindLiveRequest(ctx context.Context, userID, eventID engine.ID) (*engine.RewardRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanRequest(s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM reward_requests
		WHERE user_id = ? AND event_id = ? AND status IN ('PENDING', 'APPROVED', 'COMPLETED')`,
		userID, eventID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, filter engine.RequestFilter) ([]engine.RewardRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if filter.UserID != nil {
		w.add("user_id = ?", *filter.UserID)
	}
	if filter.EventID != nil {
		w.add("event_id = ?", *filter.EventID)
	}
	if filter.Status != nil {
		w.add("status = ?", *filter.Status)
	}
	if filter.ProcessedBefore != nil {
		w.add("processed_at IS NOT NULL AND processed_at < ?", formatTime(*filter.ProcessedBefore))
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM reward_requests"+w.sql()+" ORDER BY requested_at, rowid", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var reqs []engine.RewardRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// CompareAndSwapStatus is a single conditional UPDATE.
func (s *Store) CompareAndSwapStatus(ctx context.Context, t engine.RequestTransition) (*engine.RewardRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reward_requests
		SET status = ?,
			processed_at = COALESCE(?, processed_at),
			processed_by = COALESCE(?, processed_by)
		WHERE id = ? AND status = ?`,
		t.To, nullTime(t.ProcessedAt), nullID(t.ProcessedBy), t.ID, t.From,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.getRequest(ctx, t.ID); err != nil {
			return nil, err
		}
		return nil, engine.ErrStatusMismatch
	}
	return s.getRequest(ctx, t.ID)
}

func scanRequest(row scanner) (engine.RewardRequest, error) {
	var (
		r                        engine.RewardRequest
		requestedAt              string
		processedAt, processedBy sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.EventID, &r.Status, &requestedAt, &processedAt, &processedBy); err != nil {
		return r, err
	}
	var c columns
	r.RequestedAt = c.time("requested_at", requestedAt)
	if processedAt.Valid {
		t := c.time("processed_at", processedAt.String)
		r.ProcessedAt = &t
	}
	if processedBy.Valid {
		id := engine.ID(processedBy.String)
		r.ProcessedBy = &id
	}
	return r, c.err
}

// =============================================================================
// HISTORY - Append-only
// =============================================================================

func (s *Store) InsertHistory(ctx context.Context, h engine.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_history (id, request_id, user_id, event_id, reward_id, quantity, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.RequestID, h.UserID, h.EventID, h.RewardID, h.Quantity.String(), formatTime(h.IssuedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIssuance
		}
		return fmt.Errorf("failed to insert history: %w", err)
	}
	return nil
}

const historyColumns = `id, request_id, user_id, event_id, reward_id, quantity, issued_at`

func (s *Store) GetHistory(ctx context.Context, requestID, rewardID engine.ID) (*engine.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, err := scanHistory(s.db.QueryRowContext(ctx,
		"SELECT "+historyColumns+" FROM reward_history WHERE request_id = ? AND reward_id = ?",
		requestID, rewardID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) ListHistory(ctx context.Context, filter engine.HistoryFilter) ([]engine.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if filter.UserID != nil {
		w.add("user_id = ?", *filter.UserID)
	}
	if filter.EventID != nil {
		w.add("event_id = ?", *filter.EventID)
	}
	if filter.RequestID != nil {
		w.add("request_id = ?", *filter.RequestID)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM reward_history"+w.sql()+" ORDER BY issued_at, rowid", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []engine.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func scanHistory(row scanner) (engine.HistoryEntry, error) {
	var (
		h                  engine.HistoryEntry
		quantity, issuedAt string
	)
	if err := row.Scan(&h.ID, &h.RequestID, &h.UserID, &h.EventID, &h.RewardID, &quantity, &issuedAt); err != nil {
		return h, err
	}
	var c columns
	h.Quantity = c.decimal("quantity", quantity)
	h.IssuedAt = c.time("issued_at", issuedAt)
	return h, c.err
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, a engine.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, request_id, event_id, user_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, formatTime(a.Timestamp), a.ActorID, a.Action,
		nullString(string(a.RequestID)), nullString(string(a.EventID)), nullString(string(a.UserID)),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if filter.RequestID != nil {
		w.add("request_id = ?", *filter.RequestID)
	}
	if filter.UserID != nil {
		w.add("user_id = ?", *filter.UserID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		args := make([]any, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args[i] = a
		}
		w.add("action IN ("+strings.Join(placeholders, ", ")+")", args...)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, actor_id, action, request_id, event_id, user_id, payload_json
		FROM audit_log`+w.sql()+` ORDER BY timestamp, rowid`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []engine.AuditEntry
	for rows.Next() {
		var (
			a                          engine.AuditEntry
			ts                         string
			requestID, eventID, userID sql.NullString
			payload                    sql.NullString
		)
		if err := rows.Scan(&a.ID, &ts, &a.ActorID, &a.Action, &requestID, &eventID, &userID, &payload); err != nil {
			return nil, err
		}
		var c columns
		a.Timestamp = c.time("timestamp", ts)
		if c.err != nil {
			return nil, c.err
		}
		a.RequestID = engine.ID(requestID.String)
		a.EventID = engine.ID(eventID.String)
		a.UserID = engine.ID(userID.String)
		if payload.Valid && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &a.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all data. Used by the demo scenario loader only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"audit_log", "reward_history", "reward_requests", "rewards", "events"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// columns decodes text columns and keeps the first failure, so a scan
// helper can convert every field and report once.
type columns struct {
	err error
}

func (c *columns) time(column, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		var rfcErr error
		if t, rfcErr = time.Parse(time.RFC3339Nano, s); rfcErr != nil {
			c.fail(column, s, err)
			return time.Time{}
		}
	}
	return t.UTC()
}

func (c *columns) decimal(column, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		c.fail(column, s, err)
		return decimal.Zero
	}
	return d
}

func (c *columns) fail(column, value string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("invalid %s %q: %w", column, value, err)
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullID(id *engine.ID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var _ engine.Store = (*Store)(nil)
