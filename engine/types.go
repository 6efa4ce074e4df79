/*
Package engine provides the club event participation core.

PURPOSE:
  This package contains the domain types and workflows for event sign-up:
  who may see and join an event, who is attending, who is queued on the
  waitlist, and how the internal account ledger charges and refunds users
  as seats change hands.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: A club member or guest, with session credits and standing flags
  - Event: A scheduled activity with capacity, price and tag policies
  - Tag: A restrictive label composing view/join policies onto events
  - AttendanceRecord: One join→leave episode for a (event, user) pair
  - WaitlistEntry: FIFO queue membership for a full event
  - Transaction: A signed ledger entry; balance is the sum of entries

DESIGN PRINCIPLES:
  1. History is never destroyed: attendance rows are closed, not deleted
  2. Precision: ledger amounts use decimal.Decimal, never float64
  3. Type safety: distinct ID types prevent mixing users/events/tags
  4. The ledger is the single source of truth for "who paid for a seat"

SEE ALSO:
  - rules.go: Eligibility decisions over these types
  - participation.go: The attend/leave workflows
  - store.go: Persistence interfaces
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EventID string
type TagID string
type RecordID string
type TransactionID string

// =============================================================================
// USER - Actor identity and standing
// =============================================================================

// User is the engine's view of an account. Identity, membership and standing
// flags are owned by the user service; the engine mutates FreeSessions only.
type User struct {
	ID                UserID
	Name              string
	Email             string
	Member            bool
	FreeSessions      int
	Instructor        bool
	LegalInfoComplete bool
	Difficulty        int
}

// =============================================================================
// TAG - Restrictive visibility/join policies
// =============================================================================

type ViewPolicy string
type JoinPolicy string

const (
	ViewOpen      ViewPolicy = "open"
	ViewWhitelist ViewPolicy = "whitelist"

	JoinOpen       JoinPolicy = "open"
	JoinWhitelist  JoinPolicy = "whitelist"
	JoinRoleScoped JoinPolicy = "role_scoped"
)

// Tag attaches a policy to every event carrying it. Tags compose
// restrictively: an event is visible/joinable only if every attached tag's
// policy is satisfied, in addition to the event's own difficulty bound.
type Tag struct {
	ID            TagID
	Name          string
	MinDifficulty *int
	ViewPolicy    ViewPolicy
	JoinPolicy    JoinPolicy
}

// =============================================================================
// EVENT - A scheduled activity with bounded seats
// =============================================================================

// Event is a scheduled activity. MaxAttendees of 0 means unlimited seats.
// A nil RefundCutoff means leaving always refunds the upfront charge.
type Event struct {
	ID              EventID
	Name            string
	Start           time.Time
	End             time.Time
	Difficulty      int
	MaxAttendees    int
	UpfrontCost     decimal.Decimal
	RefundCutoff    *time.Time
	Canceled        bool
	SignupRequired  bool
	WaitlistEnabled bool
	Tags            []Tag
}

// Limited reports whether the event has a finite seat count.
func (e Event) Limited() bool { return e.MaxAttendees > 0 }

// Priced reports whether joining costs anything.
func (e Event) Priced() bool { return e.UpfrontCost.IsPositive() }

// RefundableAt reports whether a departure at t still triggers an automatic
// refund. Events without a cutoff always refund.
func (e Event) RefundableAt(t time.Time) bool {
	return e.RefundCutoff == nil || t.Before(*e.RefundCutoff)
}

// =============================================================================
// ATTENDANCE - One join→leave episode
// =============================================================================

// AttendanceRecord is one participation episode. A user may accumulate many
// records per event (join, leave, rejoin) but at most one with IsAttending
// set. Rows are closed on leave, never deleted.
type AttendanceRecord struct {
	ID                   RecordID
	EventID              EventID
	UserID               UserID
	IsAttending          bool
	JoinedAt             time.Time
	LeftAt               *time.Time
	PaymentTransactionID *TransactionID
}

// Paid reports whether this episode was funded by a ledger charge.
func (r AttendanceRecord) Paid() bool { return r.PaymentTransactionID != nil }

// RosterEntry is the public view of an active attendee.
type RosterEntry struct {
	UserID     UserID
	Name       string
	Instructor bool
	JoinedAt   time.Time
}

// HistoryEntry is the privileged view of one user's most recent episode.
type HistoryEntry struct {
	UserID      UserID
	Name        string
	Instructor  bool
	IsAttending bool
	JoinedAt    time.Time
	LeftAt      *time.Time
	Paid        bool
}

// =============================================================================
// WAITLIST - FIFO queue membership
// =============================================================================

// WaitlistEntry queues a user for a full event. Unique per (event, user);
// promotion order is strictly by JoinedAt.
type WaitlistEntry struct {
	EventID  EventID
	UserID   UserID
	JoinedAt time.Time
}

// WaitlistDetail is the privileged waitlist view: entry plus identity and
// 1-based rank.
type WaitlistDetail struct {
	Position int
	UserID   UserID
	Name     string
	JoinedAt time.Time
}

// =============================================================================
// TRANSACTION - Signed ledger entry
// =============================================================================

// Transaction is one signed ledger entry. A negative amount is a charge or
// debt, a positive amount a deposit or credit. A transaction carrying an
// EventID funded a reservation on that event and is the sole proof of
// payment for it.
type Transaction struct {
	ID          TransactionID
	UserID      UserID
	Amount      decimal.Decimal
	Description string
	EventID     *EventID
	CreatedAt   time.Time
}

// Decision is the outcome of an eligibility check. When Allowed is false,
// Reason carries the human-readable explanation surfaced to the caller.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
