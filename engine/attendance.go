/*
attendance.go - Participation records and roster views

PURPOSE:
  Tracks who is attending each event, and who ever did. Every join opens
  a fresh record; every leave closes it with a timestamp. Records are
  never deleted, so the full join→leave→rejoin history of a seat is
  preserved.

INVARIANTS:
  - At most one open record per (event, user); a second join is a Conflict
  - Closing requires an open record; a second leave is a Conflict
  - Closed records keep their payment link until the charge is refunded

VIEWS:
  Roster   - public: identity fields of the currently attending users
  History  - privileged: every user who ever joined, collapsed to their
             most recent episode. Active attendees first, sorted by name;
             departed after, most recent departure first.

SEE ALSO:
  - store.go: AttendanceStore persistence interface
  - participation.go: Drives joins and leaves through this component
*/
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ATTENDANCE
// =============================================================================

// Attendance is the participation-record component.
type Attendance struct {
	Store Store
	Now   func() time.Time
	NewID func() RecordID
}

func NewAttendance(store Store) *Attendance {
	return &Attendance{Store: store, Now: time.Now, NewID: newRecordID}
}

func newRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// IsAttending reports whether the user currently holds a seat.
func (a *Attendance) IsAttending(ctx context.Context, eventID EventID, userID UserID) (bool, error) {
	rec, err := a.Store.ActiveAttendance(ctx, eventID, userID)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Attend opens a participation record. paymentTxID links the funding
// charge and may be nil for free events.
func (a *Attendance) Attend(ctx context.Context, eventID EventID, userID UserID, paymentTxID *TransactionID) (RecordID, error) {
	existing, err := a.Store.ActiveAttendance(ctx, eventID, userID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", conflict("attend", eventID, userID)
	}
	rec := AttendanceRecord{
		ID:                   a.NewID(),
		EventID:              eventID,
		UserID:               userID,
		IsAttending:          true,
		JoinedAt:             a.Now().UTC(),
		PaymentTransactionID: paymentTxID,
	}
	if err := a.Store.InsertAttendance(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Leave closes the user's open record and returns it as it was before
// closing, so callers can inspect the payment link.
func (a *Attendance) Leave(ctx context.Context, eventID EventID, userID UserID) (*AttendanceRecord, error) {
	rec, err := a.Store.ActiveAttendance(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, conflict("leave", eventID, userID)
	}
	if err := a.Store.CloseAttendance(ctx, rec.ID, a.Now().UTC()); err != nil {
		return nil, err
	}
	return rec, nil
}

// ActiveCount returns the number of users currently attending.
func (a *Attendance) ActiveCount(ctx context.Context, eventID EventID) (int, error) {
	return a.Store.ActiveCount(ctx, eventID)
}

// InstructorCount returns the number of instructors currently attending.
func (a *Attendance) InstructorCount(ctx context.Context, eventID EventID) (int, error) {
	return a.Store.InstructorActiveCount(ctx, eventID)
}

// IsPaying reports whether any of the user's episodes on the event, open
// or closed, still links a payment transaction.
func (a *Attendance) IsPaying(ctx context.Context, eventID EventID, userID UserID) (bool, error) {
	return a.Store.HasPaidRecord(ctx, eventID, userID)
}

// Roster returns the public view: the currently attending users.
func (a *Attendance) Roster(ctx context.Context, eventID EventID) ([]RosterEntry, error) {
	return a.Store.ActiveAttendees(ctx, eventID)
}

// History returns the privileged view: everyone who ever joined, each
// collapsed to their most recent episode. Active attendees lead, sorted
// by name; departed attendees follow, most recent departure first.
func (a *Attendance) History(ctx context.Context, eventID EventID) ([]HistoryEntry, error) {
	records, err := a.Store.AttendanceRecords(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// Records arrive ordered by JoinedAt ascending, so the last record
	// seen per user is their most recent episode.
	latest := make(map[UserID]AttendanceRecord)
	order := make([]UserID, 0, len(records))
	for _, rec := range records {
		if _, seen := latest[rec.UserID]; !seen {
			order = append(order, rec.UserID)
		}
		latest[rec.UserID] = rec
	}

	var active, departed []HistoryEntry
	for _, userID := range order {
		rec := latest[userID]
		user, err := a.Store.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry := HistoryEntry{
			UserID:      rec.UserID,
			IsAttending: rec.IsAttending,
			JoinedAt:    rec.JoinedAt,
			LeftAt:      rec.LeftAt,
			Paid:        rec.PaymentTransactionID != nil,
		}
		if user != nil {
			entry.Name = user.Name
			entry.Instructor = user.Instructor
		}
		if rec.IsAttending {
			active = append(active, entry)
		} else {
			departed = append(departed, entry)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].Name < active[j].Name
	})
	sort.Slice(departed, func(i, j int) bool {
		li, lj := departed[i].LeftAt, departed[j].LeftAt
		if li == nil || lj == nil {
			return lj == nil
		}
		return li.After(*lj)
	})

	return append(active, departed...), nil
}
