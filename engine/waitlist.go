/*
waitlist.go - FIFO queue for full events

PURPOSE:
  When a limited event fills up, further users queue here. The queue is
  strictly first-in-first-out by join time; promotion always takes the
  head. Entries are unique per (event, user) and disappear on leave or
  promotion.

JOIN PRECONDITIONS:
  - the event has its waitlist enabled
  - the actor does not already hold a seat
  - the actor's legal information is complete
  - when capacity is finite, the event is currently at or above capacity
    (an event with free seats takes direct joins, not queue entries)

SEE ALSO:
  - store.go: WaitlistStore persistence interface
  - participation.go: Promotes the head when a seat frees up
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// WAITLIST
// =============================================================================

// Waitlist is the queue component for full events.
type Waitlist struct {
	Store Store
	Now   func() time.Time
}

func NewWaitlist(store Store) *Waitlist {
	return &Waitlist{Store: store, Now: time.Now}
}

// IsOnWaitlist reports whether the user is queued for the event.
func (w *Waitlist) IsOnWaitlist(ctx context.Context, eventID EventID, userID UserID) (bool, error) {
	return w.Store.IsOnWaitlist(ctx, eventID, userID)
}

// Join queues the actor. Fails with Conflict when already queued and with
// a Forbidden reason when a precondition is missing.
func (w *Waitlist) Join(ctx context.Context, event *Event, actor *User) error {
	queued, err := w.Store.IsOnWaitlist(ctx, event.ID, actor.ID)
	if err != nil {
		return err
	}
	if queued {
		return conflict("waitlist_join", event.ID, actor.ID)
	}
	if !event.WaitlistEnabled {
		return forbidden("this event has no waitlist")
	}
	attending, err := w.Store.ActiveAttendance(ctx, event.ID, actor.ID)
	if err != nil {
		return err
	}
	if attending != nil {
		return forbidden(ReasonAlreadyAttending)
	}
	if !actor.LegalInfoComplete {
		return forbidden(ReasonLegalIncomplete)
	}
	if event.Limited() {
		active, err := w.Store.ActiveCount(ctx, event.ID)
		if err != nil {
			return err
		}
		if active < event.MaxAttendees {
			return forbidden("this event still has free seats")
		}
	}
	entry := WaitlistEntry{
		EventID:  event.ID,
		UserID:   actor.ID,
		JoinedAt: w.Now().UTC(),
	}
	return w.Store.AddWaitlistEntry(ctx, entry)
}

// Leave removes the actor's own entry. Fails with Conflict when the actor
// is not queued.
func (w *Waitlist) Leave(ctx context.Context, eventID EventID, userID UserID) error {
	queued, err := w.Store.IsOnWaitlist(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if !queued {
		return conflict("waitlist_leave", eventID, userID)
	}
	return w.Store.RemoveWaitlistEntry(ctx, eventID, userID)
}

// PeekNext returns the queue head without removing it, or (nil, nil) when
// the queue is empty.
func (w *Waitlist) PeekNext(ctx context.Context, eventID EventID) (*WaitlistEntry, error) {
	return w.Store.NextWaitlisted(ctx, eventID)
}

// Remove drops an entry regardless of position. Used by promotion.
func (w *Waitlist) Remove(ctx context.Context, eventID EventID, userID UserID) error {
	return w.Store.RemoveWaitlistEntry(ctx, eventID, userID)
}

// Position returns the 1-based rank: earlier-joined entries plus one.
func (w *Waitlist) Position(ctx context.Context, eventID EventID, userID UserID) (int, error) {
	return w.Store.WaitlistPosition(ctx, eventID, userID)
}

// List returns the queue in promotion order.
func (w *Waitlist) List(ctx context.Context, eventID EventID) ([]WaitlistEntry, error) {
	return w.Store.ListWaitlist(ctx, eventID)
}

// Count returns the queue length.
func (w *Waitlist) Count(ctx context.Context, eventID EventID) (int, error) {
	return w.Store.WaitlistCount(ctx, eventID)
}

// Detailed returns the privileged queue view: entries joined with user
// identity and rank.
func (w *Waitlist) Detailed(ctx context.Context, eventID EventID) ([]WaitlistDetail, error) {
	entries, err := w.Store.ListWaitlist(ctx, eventID)
	if err != nil {
		return nil, err
	}
	details := make([]WaitlistDetail, 0, len(entries))
	for i, entry := range entries {
		detail := WaitlistDetail{
			Position: i + 1,
			UserID:   entry.UserID,
			JoinedAt: entry.JoinedAt,
		}
		user, err := w.Store.GetUser(ctx, entry.UserID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			detail.Name = user.Name
		}
		details = append(details, detail)
	}
	return details, nil
}
