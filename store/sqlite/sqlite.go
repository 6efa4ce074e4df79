/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (engine.Store, engine.TxStore)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  engine.Store:   Users, events, ledger, attendance, waitlist persistence
  engine.TxStore: WithTx for the atomic attend/leave workflows

KEY TABLES:
  users:         Accounts with membership and standing flags
  events:        Scheduled activities with capacity, price, cutoff
  tags:          View/join policies attached to events
  event_tags:    Event-to-tag links
  tag_whitelist: Per-tag user whitelist
  tag_roles:     Per-tag role grants
  transactions:  Signed ledger entries; balance is derived by summation
  attendance:    Join/leave episodes; closed on leave, never deleted
  waitlist:      FIFO queue per event

INDEXES:
  Critical indexes for correctness and performance:
  - idx_attendance_active: At most one open episode per (event, user)
  - idx_waitlist_order: FIFO promotion order (hot path)
  - idx_transactions_user: Balance summation
  - idx_transactions_event: Payment lookups and held charges

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate) so the
  write lock is taken up front: two concurrent attend workflows cannot both
  count seats against the same snapshot. Lock waits are bounded by
  _busy_timeout; when the wait expires the error surfaces as engine.ErrBusy
  and the caller may retry. The connection pool is capped at one connection,
  which keeps ":memory:" databases coherent and avoids pool self-deadlock
  under the single-writer model.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

TIMESTAMPS:
  All times are stored as fixed-width UTC text (see timeFormat) so that
  string comparison in SQL equals time comparison in Go. time.RFC3339Nano
  would trim trailing zeros and break lexicographic ordering.

MONEY:
  Ledger amounts are stored as decimal strings and summed in Go with
  shopspring/decimal. Summing in SQL would coerce to REAL and drift.

USAGE:
  store, err := sqlite.New("./data/club.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(store, nil, engine.Rules{}, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions and the transaction contract
  - engine/participation.go: The workflows calling WithTx
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/participation-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ engine.Store   = (*Store)(nil)
	_ engine.TxStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: keeps ":memory:" databases coherent and prevents a
	// transaction from deadlocking against its own pool.
	db.SetMaxOpenConns(1)

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		member BOOLEAN NOT NULL DEFAULT FALSE,
		free_sessions INTEGER NOT NULL DEFAULT 0,
		instructor BOOLEAN NOT NULL DEFAULT FALSE,
		legal_info_complete BOOLEAN NOT NULL DEFAULT FALSE,
		difficulty INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Events
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		difficulty INTEGER NOT NULL DEFAULT 0,
		max_attendees INTEGER NOT NULL DEFAULT 0,
		upfront_cost TEXT NOT NULL DEFAULT '0',
		refund_cutoff TEXT,
		canceled BOOLEAN NOT NULL DEFAULT FALSE,
		signup_required BOOLEAN NOT NULL DEFAULT TRUE,
		waitlist_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);

	-- Tags (restrictive view/join policies)
	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		min_difficulty INTEGER,
		view_policy TEXT NOT NULL DEFAULT 'open',
		join_policy TEXT NOT NULL DEFAULT 'open'
	);

	CREATE TABLE IF NOT EXISTS event_tags (
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (event_id, tag_id)
	);

	CREATE TABLE IF NOT EXISTS tag_whitelist (
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (tag_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS tag_roles (
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (tag_id, user_id)
	);

	-- Ledger (balance = sum of amounts, computed in Go)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		event_id TEXT REFERENCES events(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_event
		ON transactions(event_id) WHERE event_id IS NOT NULL;

	-- Attendance episodes. Deleting a payment transaction clears the link
	-- but keeps the episode.
	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES events(id),
		user_id TEXT NOT NULL,
		is_attending BOOLEAN NOT NULL DEFAULT TRUE,
		joined_at TEXT NOT NULL,
		left_at TEXT,
		payment_transaction_id TEXT REFERENCES transactions(id) ON DELETE SET NULL
	);

	-- CRITICAL: At most one open episode per (event, user). Closed episodes
	-- accumulate as history.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_active
		ON attendance(event_id, user_id) WHERE is_attending = 1;

	CREATE INDEX IF NOT EXISTS idx_attendance_event
		ON attendance(event_id, joined_at);

	-- Waitlist (FIFO per event)
	CREATE TABLE IF NOT EXISTS waitlist (
		event_id TEXT NOT NULL REFERENCES events(id),
		user_id TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (event_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_waitlist_order
		ON waitlist(event_id, joined_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// timeFormat is RFC 3339 with a fixed nanosecond width. All stored times
// are UTC, so the suffix is always "Z" and string order equals time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullEventID(id *engine.EventID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullTransactionID(id *engine.TransactionID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func parseAmount(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked"))
}

// wrapBusy converts lock-wait timeouts into the retryable category.
// All other errors pass through unchanged.
func wrapBusy(err error) error {
	if isBusyError(err) {
		return fmt.Errorf("%w: %v", engine.ErrBusy, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// dbtx is satisfied by both *sql.DB and *sql.Tx. Every query helper takes
// it so the same code serves the plain store and the transactional view.
// Reads inside WithTx must run on the transaction's connection: the pool
// holds a single connection and it belongs to the open transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USER STORE
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u engine.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveUser(ctx, s.db, u)
}

func (s *Store) saveUser(ctx context.Context, q dbtx, u engine.User) error {
	query := `
		INSERT INTO users (id, name, email, member, free_sessions, instructor, legal_info_complete, difficulty, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			member = excluded.member,
			free_sessions = excluded.free_sessions,
			instructor = excluded.instructor,
			legal_info_complete = excluded.legal_info_complete,
			difficulty = excluded.difficulty
	`

	_, err := q.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.Member, u.FreeSessions,
		u.Instructor, u.LegalInfoComplete, u.Difficulty,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id engine.UserID) (*engine.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getUser(ctx, s.db, id)
}

func (s *Store) getUser(ctx context.Context, q dbtx, id engine.UserID) (*engine.User, error) {
	var u engine.User
	err := q.QueryRowContext(ctx,
		"SELECT id, name, email, member, free_sessions, instructor, legal_info_complete, difficulty FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Member, &u.FreeSessions, &u.Instructor, &u.LegalInfoComplete, &u.Difficulty)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]engine.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listUsers(ctx, s.db)
}

func (s *Store) listUsers(ctx context.Context, q dbtx) ([]engine.User, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, email, member, free_sessions, instructor, legal_info_complete, difficulty FROM users ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []engine.User
	for rows.Next() {
		var u engine.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Member, &u.FreeSessions, &u.Instructor, &u.LegalInfoComplete, &u.Difficulty); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) AdjustFreeSessions(ctx context.Context, id engine.UserID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustFreeSessions(ctx, s.db, id, delta)
}

func (s *Store) adjustFreeSessions(ctx context.Context, q dbtx, id engine.UserID, delta int) error {
	res, err := q.ExecContext(ctx,
		"UPDATE users SET free_sessions = free_sessions + ? WHERE id = ?",
		delta, id,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust free sessions: %w", wrapBusy(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &engine.NotFoundError{Kind: "user", ID: string(id)}
	}
	return nil
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (s *Store) SaveEvent(ctx context.Context, e engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveEvent(ctx, s.db, e)
}

func (s *Store) saveEvent(ctx context.Context, q dbtx, e engine.Event) error {
	query := `
		INSERT INTO events (id, name, start_at, end_at, difficulty, max_attendees,
			upfront_cost, refund_cutoff, canceled, signup_required, waitlist_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			difficulty = excluded.difficulty,
			max_attendees = excluded.max_attendees,
			upfront_cost = excluded.upfront_cost,
			refund_cutoff = excluded.refund_cutoff,
			canceled = excluded.canceled,
			signup_required = excluded.signup_required,
			waitlist_enabled = excluded.waitlist_enabled
	`

	_, err := q.ExecContext(ctx, query,
		e.ID, e.Name, formatTime(e.Start), formatTime(e.End),
		e.Difficulty, e.MaxAttendees, e.UpfrontCost.String(),
		nullTime(e.RefundCutoff), e.Canceled, e.SignupRequired, e.WaitlistEnabled,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id engine.EventID) (*engine.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getEvent(ctx, s.db, id)
}

func (s *Store) getEvent(ctx context.Context, q dbtx, id engine.EventID) (*engine.Event, error) {
	var (
		e            engine.Event
		startAt      string
		endAt        string
		upfrontCost  string
		refundCutoff sql.NullString
	)

	err := q.QueryRowContext(ctx,
		`SELECT id, name, start_at, end_at, difficulty, max_attendees,
			upfront_cost, refund_cutoff, canceled, signup_required, waitlist_enabled
		 FROM events WHERE id = ?`,
		id,
	).Scan(&e.ID, &e.Name, &startAt, &endAt, &e.Difficulty, &e.MaxAttendees,
		&upfrontCost, &refundCutoff, &e.Canceled, &e.SignupRequired, &e.WaitlistEnabled)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.Start = parseTime(startAt)
	e.End = parseTime(endAt)
	e.UpfrontCost = parseAmount(upfrontCost)
	if refundCutoff.Valid {
		t := parseTime(refundCutoff.String)
		e.RefundCutoff = &t
	}

	tags, err := s.eventTags(ctx, q, id)
	if err != nil {
		return nil, err
	}
	e.Tags = tags

	return &e, nil
}

// eventTags returns the event's tags in link order.
func (s *Store) eventTags(ctx context.Context, q dbtx, eventID engine.EventID) ([]engine.Tag, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT t.id, t.name, t.min_difficulty, t.view_policy, t.join_policy
		 FROM tags t
		 JOIN event_tags et ON et.tag_id = t.id
		 WHERE et.event_id = ?
		 ORDER BY et.rowid ASC`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []engine.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanTag(rows *sql.Rows) (engine.Tag, error) {
	var (
		t             engine.Tag
		minDifficulty sql.NullInt64
	)
	if err := rows.Scan(&t.ID, &t.Name, &minDifficulty, &t.ViewPolicy, &t.JoinPolicy); err != nil {
		return t, fmt.Errorf("failed to scan tag: %w", err)
	}
	if minDifficulty.Valid {
		v := int(minDifficulty.Int64)
		t.MinDifficulty = &v
	}
	return t, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]engine.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listEvents(ctx, s.db)
}

func (s *Store) listEvents(ctx context.Context, q dbtx) ([]engine.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, start_at, end_at, difficulty, max_attendees,
			upfront_cost, refund_cutoff, canceled, signup_required, waitlist_enabled
		 FROM events ORDER BY start_at ASC`,
	)
	if err != nil {
		return nil, err
	}

	var events []engine.Event
	for rows.Next() {
		var (
			e            engine.Event
			startAt      string
			endAt        string
			upfrontCost  string
			refundCutoff sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Name, &startAt, &endAt, &e.Difficulty, &e.MaxAttendees,
			&upfrontCost, &refundCutoff, &e.Canceled, &e.SignupRequired, &e.WaitlistEnabled); err != nil {
			rows.Close()
			return nil, err
		}
		e.Start = parseTime(startAt)
		e.End = parseTime(endAt)
		e.UpfrontCost = parseAmount(upfrontCost)
		if refundCutoff.Valid {
			t := parseTime(refundCutoff.String)
			e.RefundCutoff = &t
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The single pooled connection cannot run the tag queries while this
	// result set is open.
	rows.Close()

	for i := range events {
		tags, err := s.eventTags(ctx, q, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Tags = tags
	}
	return events, nil
}

func (s *Store) SetEventCanceled(ctx context.Context, id engine.EventID, canceled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setEventCanceled(ctx, s.db, id, canceled)
}

func (s *Store) setEventCanceled(ctx context.Context, q dbtx, id engine.EventID, canceled bool) error {
	res, err := q.ExecContext(ctx, "UPDATE events SET canceled = ? WHERE id = ?", canceled, id)
	if err != nil {
		return fmt.Errorf("failed to set event canceled: %w", wrapBusy(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &engine.NotFoundError{Kind: "event", ID: string(id)}
	}
	return nil
}

func (s *Store) SaveTag(ctx context.Context, t engine.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveTag(ctx, s.db, t)
}

func (s *Store) saveTag(ctx context.Context, q dbtx, t engine.Tag) error {
	query := `
		INSERT INTO tags (id, name, min_difficulty, view_policy, join_policy)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			min_difficulty = excluded.min_difficulty,
			view_policy = excluded.view_policy,
			join_policy = excluded.join_policy
	`

	_, err := q.ExecContext(ctx, query,
		t.ID, t.Name, nullInt(t.MinDifficulty), t.ViewPolicy, t.JoinPolicy,
	)
	if err != nil {
		return fmt.Errorf("failed to save tag: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) GetTag(ctx context.Context, id engine.TagID) (*engine.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getTag(ctx, s.db, id)
}

func (s *Store) getTag(ctx context.Context, q dbtx, id engine.TagID) (*engine.Tag, error) {
	var (
		t             engine.Tag
		minDifficulty sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, min_difficulty, view_policy, join_policy FROM tags WHERE id = ?",
		id,
	).Scan(&t.ID, &t.Name, &minDifficulty, &t.ViewPolicy, &t.JoinPolicy)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if minDifficulty.Valid {
		v := int(minDifficulty.Int64)
		t.MinDifficulty = &v
	}
	return &t, nil
}

func (s *Store) LinkTag(ctx context.Context, eventID engine.EventID, tagID engine.TagID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.linkTag(ctx, s.db, eventID, tagID)
}

func (s *Store) linkTag(ctx context.Context, q dbtx, eventID engine.EventID, tagID engine.TagID) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO event_tags (event_id, tag_id) VALUES (?, ?) ON CONFLICT(event_id, tag_id) DO NOTHING",
		eventID, tagID,
	)
	if err != nil {
		return fmt.Errorf("failed to link tag: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) AddToWhitelist(ctx context.Context, tagID engine.TagID, userID engine.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addToWhitelist(ctx, s.db, tagID, userID)
}

func (s *Store) addToWhitelist(ctx context.Context, q dbtx, tagID engine.TagID, userID engine.UserID) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO tag_whitelist (tag_id, user_id) VALUES (?, ?) ON CONFLICT(tag_id, user_id) DO NOTHING",
		tagID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to add to whitelist: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) IsWhitelisted(ctx context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.isWhitelisted(ctx, s.db, tagID, userID)
}

func (s *Store) isWhitelisted(ctx context.Context, q dbtx, tagID engine.TagID, userID engine.UserID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tag_whitelist WHERE tag_id = ? AND user_id = ?",
		tagID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) GrantTagRole(ctx context.Context, tagID engine.TagID, userID engine.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.grantTagRole(ctx, s.db, tagID, userID)
}

func (s *Store) grantTagRole(ctx context.Context, q dbtx, tagID engine.TagID, userID engine.UserID) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO tag_roles (tag_id, user_id) VALUES (?, ?) ON CONFLICT(tag_id, user_id) DO NOTHING",
		tagID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant tag role: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) HasTagRole(ctx context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasTagRole(ctx, s.db, tagID, userID)
}

func (s *Store) hasTagRole(ctx context.Context, q dbtx, tagID engine.TagID, userID engine.UserID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tag_roles WHERE tag_id = ? AND user_id = ?",
		tagID, userID,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTransaction(ctx, s.db, tx)
}

func (s *Store) appendTransaction(ctx context.Context, q dbtx, tx engine.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, amount, description, event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.Amount.String(), tx.Description,
		nullEventID(tx.EventID), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getTransaction(ctx, s.db, id)
}

func (s *Store) getTransaction(ctx context.Context, q dbtx, id engine.TransactionID) (*engine.Transaction, error) {
	query := `
		SELECT id, user_id, amount, description, event_id, created_at
		FROM transactions
		WHERE id = ?
	`

	txs, err := s.queryTransactions(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) UpdateTransaction(ctx context.Context, id engine.TransactionID, amount decimal.Decimal, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateTransaction(ctx, s.db, id, amount, description)
}

func (s *Store) updateTransaction(ctx context.Context, q dbtx, id engine.TransactionID, amount decimal.Decimal, description string) error {
	res, err := q.ExecContext(ctx,
		"UPDATE transactions SET amount = ?, description = ? WHERE id = ?",
		amount.String(), description, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", wrapBusy(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &engine.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id engine.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteTransaction(ctx, s.db, id)
}

// deleteTransaction removes a ledger entry. The attendance payment link
// clears via ON DELETE SET NULL; the episode itself survives.
func (s *Store) deleteTransaction(ctx context.Context, q dbtx, id engine.TransactionID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", wrapBusy(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &engine.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return nil
}

func (s *Store) TransactionsForUser(ctx context.Context, userID engine.UserID) ([]engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.transactionsForUser(ctx, s.db, userID)
}

func (s *Store) transactionsForUser(ctx context.Context, q dbtx, userID engine.UserID) ([]engine.Transaction, error) {
	query := `
		SELECT id, user_id, amount, description, event_id, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	return s.queryTransactions(ctx, q, query, userID)
}

func (s *Store) Balance(ctx context.Context, userID engine.UserID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balance(ctx, s.db, userID)
}

// balance sums the amounts in Go. SUM() in SQL would coerce the decimal
// strings to REAL.
func (s *Store) balance(ctx context.Context, q dbtx, userID engine.UserID) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT amount FROM transactions WHERE user_id = ?", userID,
	)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(parseAmount(amount))
	}
	return total, rows.Err()
}

func (s *Store) TransactionForEvent(ctx context.Context, eventID engine.EventID, userID engine.UserID) (*engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.transactionForEvent(ctx, s.db, eventID, userID)
}

func (s *Store) transactionForEvent(ctx context.Context, q dbtx, eventID engine.EventID, userID engine.UserID) (*engine.Transaction, error) {
	query := `
		SELECT id, user_id, amount, description, event_id, created_at
		FROM transactions
		WHERE event_id = ? AND user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	txs, err := s.queryTransactions(ctx, q, query, eventID, userID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) HeldCharges(ctx context.Context, eventID engine.EventID) ([]engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.heldCharges(ctx, s.db, eventID)
}

// heldCharges returns event-linked transactions whose payer holds no open
// seat, oldest first.
func (s *Store) heldCharges(ctx context.Context, q dbtx, eventID engine.EventID) ([]engine.Transaction, error) {
	query := `
		SELECT id, user_id, amount, description, event_id, created_at
		FROM transactions
		WHERE event_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM attendance
			WHERE attendance.event_id = transactions.event_id
			  AND attendance.user_id = transactions.user_id
			  AND attendance.is_attending = 1
		  )
		ORDER BY created_at ASC, rowid ASC
	`

	return s.queryTransactions(ctx, q, query, eventID)
}

func (s *Store) queryTransactions(ctx context.Context, q dbtx, query string, args ...any) ([]engine.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []engine.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (engine.Transaction, error) {
	var (
		tx        engine.Transaction
		amount    string
		eventID   sql.NullString
		createdAt string
	)

	err := rows.Scan(&tx.ID, &tx.UserID, &amount, &tx.Description, &eventID, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = parseAmount(amount)
	tx.CreatedAt = parseTime(createdAt)
	if eventID.Valid {
		id := engine.EventID(eventID.String)
		tx.EventID = &id
	}
	return tx, nil
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

func (s *Store) InsertAttendance(ctx context.Context, r engine.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertAttendance(ctx, s.db, r)
}

func (s *Store) insertAttendance(ctx context.Context, q dbtx, r engine.AttendanceRecord) error {
	query := `
		INSERT INTO attendance (id, event_id, user_id, is_attending, joined_at, left_at, payment_transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.EventID, r.UserID, r.IsAttending,
		formatTime(r.JoinedAt), nullTime(r.LeftAt), nullTransactionID(r.PaymentTransactionID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &engine.ConflictError{Op: "attend", EventID: r.EventID, UserID: r.UserID}
		}
		return fmt.Errorf("failed to insert attendance: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) ActiveAttendance(ctx context.Context, eventID engine.EventID, userID engine.UserID) (*engine.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeAttendance(ctx, s.db, eventID, userID)
}

func (s *Store) activeAttendance(ctx context.Context, q dbtx, eventID engine.EventID, userID engine.UserID) (*engine.AttendanceRecord, error) {
	query := `
		SELECT id, event_id, user_id, is_attending, joined_at, left_at, payment_transaction_id
		FROM attendance
		WHERE event_id = ? AND user_id = ? AND is_attending = 1
	`

	records, err := s.queryAttendance(ctx, q, query, eventID, userID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *Store) CloseAttendance(ctx context.Context, id engine.RecordID, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeAttendance(ctx, s.db, id, leftAt)
}

func (s *Store) closeAttendance(ctx context.Context, q dbtx, id engine.RecordID, leftAt time.Time) error {
	res, err := q.ExecContext(ctx,
		"UPDATE attendance SET is_attending = 0, left_at = ? WHERE id = ?",
		formatTime(leftAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close attendance: %w", wrapBusy(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &engine.NotFoundError{Kind: "attendance record", ID: string(id)}
	}
	return nil
}

func (s *Store) ActiveCount(ctx context.Context, eventID engine.EventID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeCount(ctx, s.db, eventID)
}

func (s *Store) activeCount(ctx context.Context, q dbtx, eventID engine.EventID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attendance WHERE event_id = ? AND is_attending = 1",
		eventID,
	).Scan(&count)
	return count, err
}

func (s *Store) InstructorActiveCount(ctx context.Context, eventID engine.EventID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.instructorActiveCount(ctx, s.db, eventID)
}

func (s *Store) instructorActiveCount(ctx context.Context, q dbtx, eventID engine.EventID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM attendance a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.event_id = ? AND a.is_attending = 1 AND u.instructor = 1`,
		eventID,
	).Scan(&count)
	return count, err
}

func (s *Store) ActiveAttendees(ctx context.Context, eventID engine.EventID) ([]engine.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeAttendees(ctx, s.db, eventID)
}

func (s *Store) activeAttendees(ctx context.Context, q dbtx, eventID engine.EventID) ([]engine.RosterEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT a.user_id, u.name, u.instructor, a.joined_at
		 FROM attendance a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.event_id = ? AND a.is_attending = 1
		 ORDER BY u.name ASC`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roster []engine.RosterEntry
	for rows.Next() {
		var (
			entry    engine.RosterEntry
			joinedAt string
		)
		if err := rows.Scan(&entry.UserID, &entry.Name, &entry.Instructor, &joinedAt); err != nil {
			return nil, err
		}
		entry.JoinedAt = parseTime(joinedAt)
		roster = append(roster, entry)
	}
	return roster, rows.Err()
}

func (s *Store) AttendanceRecords(ctx context.Context, eventID engine.EventID) ([]engine.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.attendanceRecords(ctx, s.db, eventID)
}

func (s *Store) attendanceRecords(ctx context.Context, q dbtx, eventID engine.EventID) ([]engine.AttendanceRecord, error) {
	query := `
		SELECT id, event_id, user_id, is_attending, joined_at, left_at, payment_transaction_id
		FROM attendance
		WHERE event_id = ?
		ORDER BY joined_at ASC, rowid ASC
	`

	return s.queryAttendance(ctx, q, query, eventID)
}

func (s *Store) HasPaidRecord(ctx context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasPaidRecord(ctx, s.db, eventID, userID)
}

func (s *Store) hasPaidRecord(ctx context.Context, q dbtx, eventID engine.EventID, userID engine.UserID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attendance WHERE event_id = ? AND user_id = ? AND payment_transaction_id IS NOT NULL",
		eventID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryAttendance(ctx context.Context, q dbtx, query string, args ...any) ([]engine.AttendanceRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var records []engine.AttendanceRecord
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanAttendance(rows *sql.Rows) (engine.AttendanceRecord, error) {
	var (
		r         engine.AttendanceRecord
		joinedAt  string
		leftAt    sql.NullString
		paymentID sql.NullString
	)

	err := rows.Scan(&r.ID, &r.EventID, &r.UserID, &r.IsAttending, &joinedAt, &leftAt, &paymentID)
	if err != nil {
		return r, fmt.Errorf("failed to scan attendance: %w", err)
	}

	r.JoinedAt = parseTime(joinedAt)
	if leftAt.Valid {
		t := parseTime(leftAt.String)
		r.LeftAt = &t
	}
	if paymentID.Valid {
		id := engine.TransactionID(paymentID.String)
		r.PaymentTransactionID = &id
	}
	return r, nil
}

// =============================================================================
// WAITLIST STORE
// =============================================================================

func (s *Store) AddWaitlistEntry(ctx context.Context, e engine.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addWaitlistEntry(ctx, s.db, e)
}

func (s *Store) addWaitlistEntry(ctx context.Context, q dbtx, e engine.WaitlistEntry) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO waitlist (event_id, user_id, joined_at) VALUES (?, ?, ?)",
		e.EventID, e.UserID, formatTime(e.JoinedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &engine.ConflictError{Op: "waitlist_join", EventID: e.EventID, UserID: e.UserID}
		}
		return fmt.Errorf("failed to add waitlist entry: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) RemoveWaitlistEntry(ctx context.Context, eventID engine.EventID, userID engine.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeWaitlistEntry(ctx, s.db, eventID, userID)
}

// removeWaitlistEntry is a no-op when the user is not queued.
func (s *Store) removeWaitlistEntry(ctx context.Context, q dbtx, eventID engine.EventID, userID engine.UserID) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM waitlist WHERE event_id = ? AND user_id = ?",
		eventID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove waitlist entry: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) IsOnWaitlist(ctx context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.isOnWaitlist(ctx, s.db, eventID, userID)
}

func (s *Store) isOnWaitlist(ctx context.Context, q dbtx, eventID engine.EventID, userID engine.UserID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM waitlist WHERE event_id = ? AND user_id = ?",
		eventID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) NextWaitlisted(ctx context.Context, eventID engine.EventID) (*engine.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nextWaitlisted(ctx, s.db, eventID)
}

func (s *Store) nextWaitlisted(ctx context.Context, q dbtx, eventID engine.EventID) (*engine.WaitlistEntry, error) {
	var (
		e        engine.WaitlistEntry
		joinedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT event_id, user_id, joined_at FROM waitlist
		 WHERE event_id = ?
		 ORDER BY joined_at ASC, rowid ASC
		 LIMIT 1`,
		eventID,
	).Scan(&e.EventID, &e.UserID, &joinedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.JoinedAt = parseTime(joinedAt)
	return &e, nil
}

func (s *Store) WaitlistPosition(ctx context.Context, eventID engine.EventID, userID engine.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.waitlistPosition(ctx, s.db, eventID, userID)
}

func (s *Store) waitlistPosition(ctx context.Context, q dbtx, eventID engine.EventID, userID engine.UserID) (int, error) {
	var joinedAt string
	err := q.QueryRowContext(ctx,
		"SELECT joined_at FROM waitlist WHERE event_id = ? AND user_id = ?",
		eventID, userID,
	).Scan(&joinedAt)

	if err == sql.ErrNoRows {
		return 0, &engine.NotFoundError{Kind: "waitlist entry", ID: string(userID)}
	}
	if err != nil {
		return 0, err
	}

	var earlier int
	err = q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM waitlist WHERE event_id = ? AND joined_at < ?",
		eventID, joinedAt,
	).Scan(&earlier)
	if err != nil {
		return 0, err
	}
	return earlier + 1, nil
}

func (s *Store) ListWaitlist(ctx context.Context, eventID engine.EventID) ([]engine.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listWaitlist(ctx, s.db, eventID)
}

func (s *Store) listWaitlist(ctx context.Context, q dbtx, eventID engine.EventID) ([]engine.WaitlistEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT event_id, user_id, joined_at FROM waitlist
		 WHERE event_id = ?
		 ORDER BY joined_at ASC, rowid ASC`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []engine.WaitlistEntry
	for rows.Next() {
		var (
			e        engine.WaitlistEntry
			joinedAt string
		)
		if err := rows.Scan(&e.EventID, &e.UserID, &joinedAt); err != nil {
			return nil, err
		}
		e.JoinedAt = parseTime(joinedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) WaitlistCount(ctx context.Context, eventID engine.EventID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.waitlistCount(ctx, s.db, eventID)
}

func (s *Store) waitlistCount(ctx context.Context, q dbtx, eventID engine.EventID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM waitlist WHERE event_id = ?", eventID,
	).Scan(&count)
	return count, err
}

func (s *Store) EventsWithWaitlisted(ctx context.Context) ([]engine.EventID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.eventsWithWaitlisted(ctx, s.db)
}

func (s *Store) eventsWithWaitlisted(ctx context.Context, q dbtx) ([]engine.EventID, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT event_id FROM waitlist ORDER BY event_id ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []engine.EventID
	for rows.Next() {
		var id engine.EventID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The DSN's
// _txlock=immediate makes BeginTx take the write lock up front, so the
// checks fn performs cannot interleave with another writer.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapBusy(err))
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", wrapBusy(err))
	}
	return nil
}

// WithSavepoint outside an open transaction is just a transaction.
func (s *Store) WithSavepoint(ctx context.Context, fn func(store engine.Store) error) error {
	return s.WithTx(ctx, fn)
}

// txStore routes every call through the open transaction. Reads included:
// the pool's single connection belongs to the transaction, and fn must see
// its own uncommitted writes.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

var _ engine.Store = (*txStore)(nil)

func (ts *txStore) SaveUser(ctx context.Context, u engine.User) error {
	return ts.parent.saveUser(ctx, ts.tx, u)
}

func (ts *txStore) GetUser(ctx context.Context, id engine.UserID) (*engine.User, error) {
	return ts.parent.getUser(ctx, ts.tx, id)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]engine.User, error) {
	return ts.parent.listUsers(ctx, ts.tx)
}

func (ts *txStore) AdjustFreeSessions(ctx context.Context, id engine.UserID, delta int) error {
	return ts.parent.adjustFreeSessions(ctx, ts.tx, id, delta)
}

func (ts *txStore) SaveEvent(ctx context.Context, e engine.Event) error {
	return ts.parent.saveEvent(ctx, ts.tx, e)
}

func (ts *txStore) GetEvent(ctx context.Context, id engine.EventID) (*engine.Event, error) {
	return ts.parent.getEvent(ctx, ts.tx, id)
}

func (ts *txStore) ListEvents(ctx context.Context) ([]engine.Event, error) {
	return ts.parent.listEvents(ctx, ts.tx)
}

func (ts *txStore) SetEventCanceled(ctx context.Context, id engine.EventID, canceled bool) error {
	return ts.parent.setEventCanceled(ctx, ts.tx, id, canceled)
}

func (ts *txStore) SaveTag(ctx context.Context, t engine.Tag) error {
	return ts.parent.saveTag(ctx, ts.tx, t)
}

func (ts *txStore) GetTag(ctx context.Context, id engine.TagID) (*engine.Tag, error) {
	return ts.parent.getTag(ctx, ts.tx, id)
}

func (ts *txStore) LinkTag(ctx context.Context, eventID engine.EventID, tagID engine.TagID) error {
	return ts.parent.linkTag(ctx, ts.tx, eventID, tagID)
}

func (ts *txStore) AddToWhitelist(ctx context.Context, tagID engine.TagID, userID engine.UserID) error {
	return ts.parent.addToWhitelist(ctx, ts.tx, tagID, userID)
}

func (ts *txStore) IsWhitelisted(ctx context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	return ts.parent.isWhitelisted(ctx, ts.tx, tagID, userID)
}

func (ts *txStore) GrantTagRole(ctx context.Context, tagID engine.TagID, userID engine.UserID) error {
	return ts.parent.grantTagRole(ctx, ts.tx, tagID, userID)
}

func (ts *txStore) HasTagRole(ctx context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	return ts.parent.hasTagRole(ctx, ts.tx, tagID, userID)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	return ts.parent.appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return ts.parent.getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, id engine.TransactionID, amount decimal.Decimal, description string) error {
	return ts.parent.updateTransaction(ctx, ts.tx, id, amount, description)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id engine.TransactionID) error {
	return ts.parent.deleteTransaction(ctx, ts.tx, id)
}

func (ts *txStore) TransactionsForUser(ctx context.Context, userID engine.UserID) ([]engine.Transaction, error) {
	return ts.parent.transactionsForUser(ctx, ts.tx, userID)
}

func (ts *txStore) Balance(ctx context.Context, userID engine.UserID) (decimal.Decimal, error) {
	return ts.parent.balance(ctx, ts.tx, userID)
}

func (ts *txStore) TransactionForEvent(ctx context.Context, eventID engine.EventID, userID engine.UserID) (*engine.Transaction, error) {
	return ts.parent.transactionForEvent(ctx, ts.tx, eventID, userID)
}

func (ts *txStore) HeldCharges(ctx context.Context, eventID engine.EventID) ([]engine.Transaction, error) {
	return ts.parent.heldCharges(ctx, ts.tx, eventID)
}

func (ts *txStore) InsertAttendance(ctx context.Context, r engine.AttendanceRecord) error {
	return ts.parent.insertAttendance(ctx, ts.tx, r)
}

func (ts *txStore) ActiveAttendance(ctx context.Context, eventID engine.EventID, userID engine.UserID) (*engine.AttendanceRecord, error) {
	return ts.parent.activeAttendance(ctx, ts.tx, eventID, userID)
}

func (ts *txStore) CloseAttendance(ctx context.Context, id engine.RecordID, leftAt time.Time) error {
	return ts.parent.closeAttendance(ctx, ts.tx, id, leftAt)
}

func (ts *txStore) ActiveCount(ctx context.Context, eventID engine.EventID) (int, error) {
	return ts.parent.activeCount(ctx, ts.tx, eventID)
}

func (ts *txStore) InstructorActiveCount(ctx context.Context, eventID engine.EventID) (int, error) {
	return ts.parent.instructorActiveCount(ctx, ts.tx, eventID)
}

func (ts *txStore) ActiveAttendees(ctx context.Context, eventID engine.EventID) ([]engine.RosterEntry, error) {
	return ts.parent.activeAttendees(ctx, ts.tx, eventID)
}

func (ts *txStore) AttendanceRecords(ctx context.Context, eventID engine.EventID) ([]engine.AttendanceRecord, error) {
	return ts.parent.attendanceRecords(ctx, ts.tx, eventID)
}

func (ts *txStore) HasPaidRecord(ctx context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	return ts.parent.hasPaidRecord(ctx, ts.tx, eventID, userID)
}

func (ts *txStore) AddWaitlistEntry(ctx context.Context, e engine.WaitlistEntry) error {
	return ts.parent.addWaitlistEntry(ctx, ts.tx, e)
}

func (ts *txStore) RemoveWaitlistEntry(ctx context.Context, eventID engine.EventID, userID engine.UserID) error {
	return ts.parent.removeWaitlistEntry(ctx, ts.tx, eventID, userID)
}

func (ts *txStore) IsOnWaitlist(ctx context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	return ts.parent.isOnWaitlist(ctx, ts.tx, eventID, userID)
}

func (ts *txStore) NextWaitlisted(ctx context.Context, eventID engine.EventID) (*engine.WaitlistEntry, error) {
	return ts.parent.nextWaitlisted(ctx, ts.tx, eventID)
}

func (ts *txStore) WaitlistPosition(ctx context.Context, eventID engine.EventID, userID engine.UserID) (int, error) {
	return ts.parent.waitlistPosition(ctx, ts.tx, eventID, userID)
}

func (ts *txStore) ListWaitlist(ctx context.Context, eventID engine.EventID) ([]engine.WaitlistEntry, error) {
	return ts.parent.listWaitlist(ctx, ts.tx, eventID)
}

func (ts *txStore) WaitlistCount(ctx context.Context, eventID engine.EventID) (int, error) {
	return ts.parent.waitlistCount(ctx, ts.tx, eventID)
}

func (ts *txStore) EventsWithWaitlisted(ctx context.Context) ([]engine.EventID, error) {
	return ts.parent.eventsWithWaitlisted(ctx, ts.tx)
}

// WithSavepoint runs fn under a savepoint on the open transaction. An
// error from fn rolls the savepoint back, undoing fn's writes while the
// transaction's earlier writes stand, then releases it so the
// transaction can still commit.
func (ts *txStore) WithSavepoint(ctx context.Context, fn func(store engine.Store) error) error {
	if _, err := ts.tx.ExecContext(ctx, "SAVEPOINT nested"); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", wrapBusy(err))
	}
	if err := fn(ts); err != nil {
		if _, rbErr := ts.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT nested"); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint: %w", wrapBusy(rbErr))
		}
		if _, relErr := ts.tx.ExecContext(ctx, "RELEASE SAVEPOINT nested"); relErr != nil {
			return fmt.Errorf("failed to release savepoint: %w", wrapBusy(relErr))
		}
		return err
	}
	if _, err := ts.tx.ExecContext(ctx, "RELEASE SAVEPOINT nested"); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", wrapBusy(err))
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). Delete order respects the
// foreign keys.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"attendance", "waitlist", "transactions",
		"event_tags", "tag_whitelist", "tag_roles",
		"tags", "events", "users",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
