/*
participation.go - The attend/leave orchestrator

PURPOSE:
  Ties the evaluator, ledger, attendance store and waitlist into the two
  workflows users actually trigger: taking a seat and giving one up. Each
  workflow runs inside a single storage transaction so its side effects
  commit together or not at all.

ATTEND:
  1. Evaluate the join rules (fast fail, no lock taken)
  2. Inside the transaction: re-evaluate, closing the check-then-act race
  3. An instructor joining a canceled event un-cancels it
  4. Non-members consume one session credit
  5. Priced events charge the ledger
  6. Past the refund cutoff, one held charge is settled by the fresh payer
  7. The attendance record is inserted, linked to the charge

LEAVE:
  1. Require an open record; reject once the event has started or ended
  2. The last departing instructor cancels the event (coach-safety)
  3. Non-members get their session credit back
  4. The record is closed
  5. Inside the refund window the charge is deleted; past it the charge
     is held against the seat until a replacement occupant pays
  6. The waitlist head is promoted under the reduced eligibility check

PROMOTION:
  Runs inside the same transaction as the leave so a concurrent direct
  join cannot take the freed seat ahead of the queue head, but under a
  savepoint so it can unwind alone. An ineligible head is logged and left
  queued; no further candidates are tried in the same operation. The
  periodic sweeper and later leaves retry.

FAILURE SEMANTICS:
  Any error aborts the transaction; every prior mutation in the workflow
  rolls back and the caller sees the first true failure. The one
  exception is the promotion attempt after a leave: its failures, storage
  included, roll back to the savepoint and are logged, and the leave
  commits regardless.

SEE ALSO:
  - rules.go: The evaluator re-run inside the transaction
  - store.go: The TxStore contract this relies on
*/
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the participation orchestrator and the package's public face.
type Engine struct {
	store TxStore
	caps  Capabilities
	rules Rules
	log   zerolog.Logger

	now   func() time.Time
	txID  func() TransactionID
	recID func() RecordID
}

// New builds an Engine. A nil caps wires tag policy checks to the store's
// own whitelist and role tables.
func New(store TxStore, caps Capabilities, rules Rules, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		caps:  caps,
		rules: rules,
		log:   log,
		now:   time.Now,
		txID:  newTransactionID,
		recID: newRecordID,
	}
}

// WithClock replaces the engine's time source. Tests pin it to exercise
// timing rules deterministically.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// capabilities returns the injected capabilities, or store-backed ones
// bound to s. Binding to s keeps in-transaction rule checks on the
// transaction's own view.
func (e *Engine) capabilities(s Store) Capabilities {
	if e.caps != nil {
		return e.caps
	}
	return StoreCapabilities{Store: s}
}

func (e *Engine) evaluator(s Store) *Evaluator {
	return &Evaluator{Store: s, Caps: e.capabilities(s), Rules: e.rules, Now: e.now}
}

func (e *Engine) ledger(s Store) *Ledger {
	return &Ledger{Store: s, Now: e.now, NewID: e.txID}
}

func (e *Engine) attendance(s Store) *Attendance {
	return &Attendance{Store: s, Now: e.now, NewID: e.recID}
}

func (e *Engine) waitlist(s Store) *Waitlist {
	return &Waitlist{Store: s, Now: e.now}
}

func (e *Engine) getEvent(ctx context.Context, s Store, id EventID) (*Event, error) {
	event, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, notFound("event", string(id))
	}
	return event, nil
}

func (e *Engine) getUser(ctx context.Context, s Store, id UserID) (*User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, notFound("user", string(id))
	}
	return user, nil
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// CanView reports whether the actor may see the event. An empty actorID
// is an anonymous visitor.
func (e *Engine) CanView(ctx context.Context, eventID EventID, actorID UserID) (bool, error) {
	event, err := e.getEvent(ctx, e.store, eventID)
	if err != nil {
		return false, internal(err)
	}
	var actor *User
	if actorID != "" {
		if actor, err = e.getUser(ctx, e.store, actorID); err != nil {
			return false, internal(err)
		}
	}
	ok, err := e.evaluator(e.store).CanView(ctx, event, actor)
	if err != nil {
		return false, internal(err)
	}
	return ok, nil
}

// CanJoin runs the join rule chain without mutating anything. An empty
// actorID yields the not-authenticated denial rather than an error.
func (e *Engine) CanJoin(ctx context.Context, eventID EventID, actorID UserID) (Decision, error) {
	event, err := e.getEvent(ctx, e.store, eventID)
	if err != nil {
		return Decision{}, internal(err)
	}
	var actor *User
	if actorID != "" {
		if actor, err = e.getUser(ctx, e.store, actorID); err != nil {
			return Decision{}, internal(err)
		}
	}
	decision, err := e.evaluator(e.store).CanJoin(ctx, event, actor)
	if err != nil {
		return Decision{}, internal(err)
	}
	return decision, nil
}

// =============================================================================
// ATTEND
// =============================================================================

// Attend takes a seat for the actor, with every side effect in one
// transaction. Denials surface the evaluator's reason verbatim.
func (e *Engine) Attend(ctx context.Context, eventID EventID, actorID UserID) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	// First pass outside the transaction: reject ineligible requests
	// without taking the write lock.
	decision, err := e.CanJoin(ctx, eventID, actorID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return forbidden(decision.Reason)
	}

	err = e.store.WithTx(ctx, func(s Store) error {
		event, err := e.getEvent(ctx, s, eventID)
		if err != nil {
			return err
		}
		actor, err := e.getUser(ctx, s, actorID)
		if err != nil {
			return err
		}

		// Second pass under the write lock: the state may have moved
		// between check and act.
		decision, err := e.evaluator(s).CanJoin(ctx, event, actor)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return forbidden(decision.Reason)
		}

		if event.Canceled && actor.Instructor {
			if err := s.SetEventCanceled(ctx, event.ID, false); err != nil {
				return err
			}
		}

		_, err = e.takeSeat(ctx, s, event, actor)
		return err
	})
	return internal(err)
}

// takeSeat applies the join side effects shared by direct joins and
// waitlist promotion: session-credit consumption, the ledger charge,
// held-charge settlement, the attendance record, and queue cleanup.
func (e *Engine) takeSeat(ctx context.Context, s Store, event *Event, actor *User) (RecordID, error) {
	if !actor.Member {
		if err := s.AdjustFreeSessions(ctx, actor.ID, -1); err != nil {
			return "", err
		}
	}

	ledger := e.ledger(s)
	var paymentID *TransactionID
	if event.Priced() {
		txID, err := ledger.Charge(ctx, actor.ID, event)
		if err != nil {
			return "", err
		}
		paymentID = &txID
	}

	// A join after the refund cutoff funds a seat someone may have paid
	// for and vacated. Settle one such held charge now that fresh money
	// covers the seat. The actor's own payment is excluded: it funds this
	// seat and must survive the scan.
	if event.RefundCutoff != nil && !event.RefundableAt(e.now()) {
		if _, err := ledger.SettleHeldCharge(ctx, event.ID, paymentID); err != nil {
			return "", err
		}
	}

	recID, err := e.attendance(s).Attend(ctx, event.ID, actor.ID, paymentID)
	if err != nil {
		return "", err
	}

	// A queued user taking a seat, by promotion or directly, leaves the
	// queue.
	queue := e.waitlist(s)
	queued, err := queue.IsOnWaitlist(ctx, event.ID, actor.ID)
	if err != nil {
		return "", err
	}
	if queued {
		if err := queue.Remove(ctx, event.ID, actor.ID); err != nil {
			return "", err
		}
	}
	return recID, nil
}

// =============================================================================
// LEAVE
// =============================================================================

// Leave gives up the actor's seat, with every side effect in one
// transaction, then tries to promote the waitlist head into it.
func (e *Engine) Leave(ctx context.Context, eventID EventID, actorID UserID) error {
	if actorID == "" {
		return ErrUnauthenticated
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		event, err := e.getEvent(ctx, s, eventID)
		if err != nil {
			return err
		}
		actor, err := e.getUser(ctx, s, actorID)
		if err != nil {
			return err
		}

		attendance := e.attendance(s)
		active, err := s.ActiveAttendance(ctx, event.ID, actor.ID)
		if err != nil {
			return err
		}
		if active == nil {
			return conflict("leave", event.ID, actor.ID)
		}

		// A live or past event's roster is frozen for departures.
		now := e.now()
		if !now.Before(event.End) {
			return forbidden(ReasonEnded)
		}
		if !now.Before(event.Start) {
			return forbidden(ReasonStarted)
		}

		// Coach-safety: the session cannot run without an instructor.
		if actor.Instructor && !event.Canceled {
			coaches, err := s.InstructorActiveCount(ctx, event.ID)
			if err != nil {
				return err
			}
			if coaches == 1 {
				if err := s.SetEventCanceled(ctx, event.ID, true); err != nil {
					return err
				}
				event.Canceled = true
			}
		}

		if !actor.Member {
			if err := s.AdjustFreeSessions(ctx, actor.ID, 1); err != nil {
				return err
			}
		}

		record, err := attendance.Leave(ctx, event.ID, actor.ID)
		if err != nil {
			return err
		}

		// Refund inside the window by deleting the charge. Past the
		// window the charge stays, held against the seat until a
		// replacement occupant pays for it.
		if record.PaymentTransactionID != nil && event.RefundableAt(now) {
			if err := e.ledger(s).Delete(ctx, *record.PaymentTransactionID); err != nil {
				return err
			}
		}

		e.promoteHead(ctx, s, event)
		return nil
	})
	return internal(err)
}

// =============================================================================
// WAITLIST PROMOTION
// =============================================================================

// promoteHead tries to move the queue head into a free seat. An
// ineligible head is logged and left queued without failing the caller.
// The attempt runs under a savepoint: a storage failure rewinds the
// half-applied promotion and is logged, never surfaced, so the caller's
// own writes commit untouched.
func (e *Engine) promoteHead(ctx context.Context, s Store, event *Event) {
	var promoted bool
	var candidate UserID
	var reason string
	err := s.WithSavepoint(ctx, func(sp Store) error {
		var err error
		promoted, candidate, reason, err = e.tryPromote(ctx, sp, event)
		return err
	})
	if err != nil {
		e.log.Error().Err(err).Str("event_id", string(event.ID)).Msg("waitlist promotion failed, head left queued")
		return
	}
	if promoted {
		e.log.Info().Str("event_id", string(event.ID)).Str("user_id", string(candidate)).Msg("waitlist promotion completed")
		return
	}
	if reason != "" {
		e.log.Warn().Str("event_id", string(event.ID)).Str("user_id", string(candidate)).Str("reason", reason).Msg("waitlist promotion skipped")
	}
}

// tryPromote attempts one promotion. Returns the candidate examined and
// a non-empty reason when the head was skipped.
func (e *Engine) tryPromote(ctx context.Context, s Store, event *Event) (bool, UserID, string, error) {
	if event.Canceled {
		return false, "", "", nil
	}
	now := e.now()
	if !now.Before(event.Start) || !now.Before(event.End) {
		return false, "", "", nil
	}
	if event.Limited() {
		active, err := s.ActiveCount(ctx, event.ID)
		if err != nil {
			return false, "", "", err
		}
		if active >= event.MaxAttendees {
			return false, "", "", nil
		}
	}

	head, err := e.waitlist(s).PeekNext(ctx, event.ID)
	if err != nil {
		return false, "", "", err
	}
	if head == nil {
		return false, "", "", nil
	}

	candidate, err := s.GetUser(ctx, head.UserID)
	if err != nil {
		return false, head.UserID, "", err
	}
	if candidate == nil {
		return false, head.UserID, "user no longer exists", nil
	}

	attending, err := s.ActiveAttendance(ctx, event.ID, candidate.ID)
	if err != nil {
		return false, candidate.ID, "", err
	}
	if attending != nil {
		return false, candidate.ID, ReasonAlreadyAttending, nil
	}

	// The reduced re-check: queued users are re-validated on legal
	// standing and session credits only, never on debts accrued after
	// they queued.
	decision := e.evaluator(s).CanPromote(ctx, event, candidate)
	if !decision.Allowed {
		return false, candidate.ID, decision.Reason, nil
	}

	if _, err := e.takeSeat(ctx, s, event, candidate); err != nil {
		return false, candidate.ID, "", err
	}
	return true, candidate.ID, "", nil
}

// PromoteNext runs one promotion attempt for the event in its own
// transaction. The sweeper and the admin API call this to retry heads
// that were skipped during a leave.
func (e *Engine) PromoteNext(ctx context.Context, eventID EventID) (bool, error) {
	var promoted bool
	err := e.store.WithTx(ctx, func(s Store) error {
		event, err := e.getEvent(ctx, s, eventID)
		if err != nil {
			return err
		}
		ok, _, reason, err := e.tryPromote(ctx, s, event)
		if err != nil {
			return err
		}
		if !ok && reason != "" {
			e.log.Warn().Str("event_id", string(eventID)).Str("reason", reason).Msg("waitlist promotion skipped")
		}
		promoted = ok
		return nil
	})
	if err != nil {
		return false, internal(err)
	}
	return promoted, nil
}

// =============================================================================
// WAITLIST OPERATIONS
// =============================================================================

// JoinWaitlist queues the actor for a full event.
func (e *Engine) JoinWaitlist(ctx context.Context, eventID EventID, actorID UserID) error {
	if actorID == "" {
		return ErrUnauthenticated
	}
	err := e.store.WithTx(ctx, func(s Store) error {
		event, err := e.getEvent(ctx, s, eventID)
		if err != nil {
			return err
		}
		actor, err := e.getUser(ctx, s, actorID)
		if err != nil {
			return err
		}
		return e.waitlist(s).Join(ctx, event, actor)
	})
	return internal(err)
}

// LeaveWaitlist removes the actor's queue entry.
func (e *Engine) LeaveWaitlist(ctx context.Context, eventID EventID, actorID UserID) error {
	if actorID == "" {
		return ErrUnauthenticated
	}
	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := e.getEvent(ctx, s, eventID); err != nil {
			return err
		}
		return e.waitlist(s).Leave(ctx, eventID, actorID)
	})
	return internal(err)
}

// IsOnWaitlist reports whether the user is queued.
func (e *Engine) IsOnWaitlist(ctx context.Context, eventID EventID, userID UserID) (bool, error) {
	ok, err := e.store.IsOnWaitlist(ctx, eventID, userID)
	return ok, internal(err)
}

// WaitlistPosition returns the user's 1-based rank in the queue.
func (e *Engine) WaitlistPosition(ctx context.Context, eventID EventID, userID UserID) (int, error) {
	pos, err := e.waitlist(e.store).Position(ctx, eventID, userID)
	return pos, internal(err)
}

// WaitlistCount returns the queue length.
func (e *Engine) WaitlistCount(ctx context.Context, eventID EventID) (int, error) {
	n, err := e.waitlist(e.store).Count(ctx, eventID)
	return n, internal(err)
}

// WaitlistDetailed returns the privileged queue view with identities and
// ranks.
func (e *Engine) WaitlistDetailed(ctx context.Context, eventID EventID) ([]WaitlistDetail, error) {
	details, err := e.waitlist(e.store).Detailed(ctx, eventID)
	return details, internal(err)
}

// =============================================================================
// QUERIES
// =============================================================================

// IsAttending reports whether the user currently holds a seat.
func (e *Engine) IsAttending(ctx context.Context, eventID EventID, userID UserID) (bool, error) {
	ok, err := e.attendance(e.store).IsAttending(ctx, eventID, userID)
	return ok, internal(err)
}

// ActiveCount returns the number of current attendees.
func (e *Engine) ActiveCount(ctx context.Context, eventID EventID) (int, error) {
	n, err := e.attendance(e.store).ActiveCount(ctx, eventID)
	return n, internal(err)
}

// CoachCount returns the number of instructors currently attending.
func (e *Engine) CoachCount(ctx context.Context, eventID EventID) (int, error) {
	n, err := e.attendance(e.store).InstructorCount(ctx, eventID)
	return n, internal(err)
}

// Balance returns the user's ledger balance.
func (e *Engine) Balance(ctx context.Context, userID UserID) (decimal.Decimal, error) {
	balance, err := e.ledger(e.store).Balance(ctx, userID)
	return balance, internal(err)
}

// IsPaying reports whether the user has an unrefunded charge behind any
// of their episodes on the event.
func (e *Engine) IsPaying(ctx context.Context, eventID EventID, userID UserID) (bool, error) {
	ok, err := e.attendance(e.store).IsPaying(ctx, eventID, userID)
	return ok, internal(err)
}

// Roster returns the public attendee view.
func (e *Engine) Roster(ctx context.Context, eventID EventID) ([]RosterEntry, error) {
	if _, err := e.getEvent(ctx, e.store, eventID); err != nil {
		return nil, internal(err)
	}
	roster, err := e.attendance(e.store).Roster(ctx, eventID)
	return roster, internal(err)
}

// History returns the privileged attendee view.
func (e *Engine) History(ctx context.Context, eventID EventID) ([]HistoryEntry, error) {
	if _, err := e.getEvent(ctx, e.store, eventID); err != nil {
		return nil, internal(err)
	}
	history, err := e.attendance(e.store).History(ctx, eventID)
	return history, internal(err)
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// SetEventCancellation flips the event's canceled flag. The admin-facing
// mutation; the coach-safety rule flips the same flag internally.
func (e *Engine) SetEventCancellation(ctx context.Context, eventID EventID, canceled bool) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := e.getEvent(ctx, s, eventID); err != nil {
			return err
		}
		return s.SetEventCanceled(ctx, eventID, canceled)
	})
	return internal(err)
}

// AddTransaction appends a ledger entry on a user's account.
func (e *Engine) AddTransaction(ctx context.Context, userID UserID, amount decimal.Decimal, description string, eventID *EventID) (TransactionID, error) {
	var id TransactionID
	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := e.getUser(ctx, s, userID); err != nil {
			return err
		}
		var err error
		id, err = e.ledger(s).Add(ctx, userID, amount, description, eventID)
		return err
	})
	if err != nil {
		return "", internal(err)
	}
	return id, nil
}

// EditTransaction rewrites a ledger entry's amount and description.
func (e *Engine) EditTransaction(ctx context.Context, id TransactionID, amount decimal.Decimal, description string) error {
	return internal(e.ledger(e.store).Edit(ctx, id, amount, description))
}

// DeleteTransaction removes a ledger entry.
func (e *Engine) DeleteTransaction(ctx context.Context, id TransactionID) error {
	return internal(e.ledger(e.store).Delete(ctx, id))
}

// TransactionsFor returns a user's full ledger history.
func (e *Engine) TransactionsFor(ctx context.Context, userID UserID) ([]Transaction, error) {
	if _, err := e.getUser(ctx, e.store, userID); err != nil {
		return nil, internal(err)
	}
	txs, err := e.ledger(e.store).TransactionsFor(ctx, userID)
	return txs, internal(err)
}

// TransactionForEvent returns the charge funding userID's seat on
// eventID, or nil when none exists.
func (e *Engine) TransactionForEvent(ctx context.Context, eventID EventID, userID UserID) (*Transaction, error) {
	tx, err := e.ledger(e.store).ForEvent(ctx, eventID, userID)
	return tx, internal(err)
}

// EventsWithWaitlisted lists events with queued users. The sweeper's scan
// entry point.
func (e *Engine) EventsWithWaitlisted(ctx context.Context) ([]EventID, error) {
	ids, err := e.store.EventsWithWaitlisted(ctx)
	return ids, internal(err)
}
