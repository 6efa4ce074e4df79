/*
store.go - Persistence interfaces for participation state

PURPOSE:
  Defines the boundary between the domain workflows and the database.
  Different implementations can use SQLite or in-memory storage; the
  workflows in participation.go only ever talk to these interfaces.

KEY INTERFACES:
  UserStore:       Accounts and session-credit mutation
  EventStore:      Events, tags, whitelist/role membership
  LedgerStore:     Account transactions and derived balances
  AttendanceStore: Join/leave episodes and roster queries
  WaitlistStore:   FIFO queue per event
  Store:           All of the above, one storage backend
  TxStore:         Store plus WithTx for atomic workflows

TRANSACTION CONTRACT:
  Attend and leave mutate the ledger, attendance, session credits and the
  waitlist together. WithTx must give fn a Store whose writes commit
  atomically and roll back in full when fn errors. Implementations must
  take a write-intent lock up front so that counting active attendees and
  inserting a record cannot interleave with a concurrent writer, and must
  bound lock waits, surfacing ErrBusy instead of blocking forever.
  WithSavepoint nests inside WithTx: the leave workflow promotes the
  waitlist head under a savepoint so a failed promotion unwinds alone
  while the leave's own writes commit.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (immediate transactions, busy timeout)
  - engine/store: In-memory for tests and development

SEE ALSO:
  - participation.go: The only caller of WithTx
  - store/sqlite/sqlite.go: Concrete implementation
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// USER STORE
// =============================================================================

// UserStore persists accounts. Get returns (nil, nil) when the id is
// unknown; callers decide whether that is an error.
type UserStore interface {
	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// AdjustFreeSessions adds delta (may be negative) to the user's
	// session-credit balance. Fails with ErrNotFound for unknown users.
	AdjustFreeSessions(ctx context.Context, id UserID, delta int) error
}

// =============================================================================
// EVENT STORE
// =============================================================================

// EventStore persists events and tags. GetEvent loads the event's tags.
type EventStore interface {
	SaveEvent(ctx context.Context, e Event) error
	GetEvent(ctx context.Context, id EventID) (*Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
	SetEventCanceled(ctx context.Context, id EventID, canceled bool) error

	SaveTag(ctx context.Context, t Tag) error
	GetTag(ctx context.Context, id TagID) (*Tag, error)
	LinkTag(ctx context.Context, eventID EventID, tagID TagID) error

	AddToWhitelist(ctx context.Context, tagID TagID, userID UserID) error
	IsWhitelisted(ctx context.Context, tagID TagID, userID UserID) (bool, error)
	GrantTagRole(ctx context.Context, tagID TagID, userID UserID) error
	HasTagRole(ctx context.Context, tagID TagID, userID UserID) (bool, error)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore persists account transactions. The balance is always derived
// by summation, never cached.
type LedgerStore interface {
	AppendTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	UpdateTransaction(ctx context.Context, id TransactionID, amount decimal.Decimal, description string) error
	DeleteTransaction(ctx context.Context, id TransactionID) error
	TransactionsForUser(ctx context.Context, userID UserID) ([]Transaction, error)
	Balance(ctx context.Context, userID UserID) (decimal.Decimal, error)

	// TransactionForEvent returns the most recent transaction linking
	// userID to eventID, or (nil, nil) when the user never paid for it.
	TransactionForEvent(ctx context.Context, eventID EventID, userID UserID) (*Transaction, error)

	// HeldCharges returns event-linked transactions whose payer no longer
	// holds an active seat, oldest first. These fund vacated paid seats
	// until a promotion or late join settles them.
	HeldCharges(ctx context.Context, eventID EventID) ([]Transaction, error)
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

// AttendanceStore persists join/leave episodes. Rows are inserted on join
// and closed on leave; nothing is deleted.
type AttendanceStore interface {
	InsertAttendance(ctx context.Context, r AttendanceRecord) error

	// ActiveAttendance returns the single open episode for (event, user),
	// or (nil, nil) when the user is not attending.
	ActiveAttendance(ctx context.Context, eventID EventID, userID UserID) (*AttendanceRecord, error)

	// CloseAttendance flips IsAttending off and stamps LeftAt.
	CloseAttendance(ctx context.Context, id RecordID, leftAt time.Time) error

	ActiveCount(ctx context.Context, eventID EventID) (int, error)
	InstructorActiveCount(ctx context.Context, eventID EventID) (int, error)

	// ActiveAttendees returns the public roster: identity fields of the
	// currently attending users.
	ActiveAttendees(ctx context.Context, eventID EventID) ([]RosterEntry, error)

	// AttendanceRecords returns every episode for the event, ordered by
	// JoinedAt ascending. The privileged history view is derived from
	// this in the engine.
	AttendanceRecords(ctx context.Context, eventID EventID) ([]AttendanceRecord, error)

	// HasPaidRecord reports whether any episode, active or closed, links
	// a payment transaction for (event, user).
	HasPaidRecord(ctx context.Context, eventID EventID, userID UserID) (bool, error)
}

// =============================================================================
// WAITLIST STORE
// =============================================================================

// WaitlistStore persists the FIFO queue. Entries are unique per
// (event, user) and ordered strictly by JoinedAt.
type WaitlistStore interface {
	AddWaitlistEntry(ctx context.Context, e WaitlistEntry) error
	RemoveWaitlistEntry(ctx context.Context, eventID EventID, userID UserID) error
	IsOnWaitlist(ctx context.Context, eventID EventID, userID UserID) (bool, error)

	// NextWaitlisted returns the entry with the oldest JoinedAt, or
	// (nil, nil) when the queue is empty.
	NextWaitlisted(ctx context.Context, eventID EventID) (*WaitlistEntry, error)

	// WaitlistPosition returns the 1-based rank: the count of
	// earlier-joined entries plus one. Fails with ErrNotFound when the
	// user is not queued.
	WaitlistPosition(ctx context.Context, eventID EventID, userID UserID) (int, error)

	ListWaitlist(ctx context.Context, eventID EventID) ([]WaitlistEntry, error)
	WaitlistCount(ctx context.Context, eventID EventID) (int, error)

	// EventsWithWaitlisted returns the ids of events that currently have
	// at least one queued user. Used by the promotion sweeper.
	EventsWithWaitlisted(ctx context.Context) ([]EventID, error)
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is one storage backend holding all participation state.
type Store interface {
	UserStore
	EventStore
	LedgerStore
	AttendanceStore
	WaitlistStore

	// WithSavepoint executes fn in a scope that unwinds alone. If fn
	// returns an error, only the writes fn made are rolled back; writes
	// made earlier in a surrounding transaction stand. Outside a
	// transaction it behaves like WithTx. The leave workflow uses this
	// for the promotion attempt, which must never drag the leave down
	// with it.
	WithSavepoint(ctx context.Context, fn func(Store) error) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write fn made is rolled back.
	// If fn returns nil, the writes commit together.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// INJECTED CAPABILITIES
// =============================================================================

// Capabilities answers tag-scoped authorization questions. It is injected
// into the evaluator so the rules have no compile-time coupling to the
// permission storage schema.
type Capabilities interface {
	// IsWhitelisted reports whether the user is on the tag's whitelist.
	IsWhitelisted(ctx context.Context, tagID TagID, userID UserID) (bool, error)

	// HasRoleForTag reports whether the user holds a role scoped to the tag.
	HasRoleForTag(ctx context.Context, tagID TagID, userID UserID) (bool, error)
}

// StoreCapabilities answers capability questions from the store's
// whitelist and role tables. The default wiring.
type StoreCapabilities struct {
	Store EventStore
}

func (c StoreCapabilities) IsWhitelisted(ctx context.Context, tagID TagID, userID UserID) (bool, error) {
	return c.Store.IsWhitelisted(ctx, tagID, userID)
}

func (c StoreCapabilities) HasRoleForTag(ctx context.Context, tagID TagID, userID UserID) (bool, error) {
	return c.Store.HasTagRole(ctx, tagID, userID)
}
