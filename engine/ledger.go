/*
ledger.go - Internal account ledger

PURPOSE:
  The ledger tracks every user's account as a list of signed transactions.
  There is no stored balance: the balance is always the sum of a user's
  transactions, so it can never drift out of sync.

WHAT THE LEDGER IS NOT:
  This is point accounting, not payment processing. No funds move; no
  sufficient-funds check happens here. Overdraft is a valid, tracked state
  and is fenced off at join time by the evaluator's minimum-balance rule,
  not at charge time.

REFUNDS:
  Deleting a transaction is the refund mechanism. A leave inside the
  refund window deletes the original charge outright. Past the window the
  charge is held against the vacated seat; when a replacement occupant is
  charged, the held transaction is deleted then. Either way the payer's
  running balance ends up exactly as if they were never charged.

EVENT LINKAGE:
  A transaction carrying an event id funded a reservation on that event,
  and is the sole source of truth for "has this user paid for this event".

SEE ALSO:
  - store.go: LedgerStore persistence interface
  - participation.go: Charges and refunds during attend/leave
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the account-transaction component. It layers id generation and
// input checks over a LedgerStore; balances are always derived.
type Ledger struct {
	Store LedgerStore
	Now   func() time.Time
	NewID func() TransactionID
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store, Now: time.Now, NewID: newTransactionID}
}

func newTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// Add appends a transaction and returns its id. A negative amount is a
// charge, a positive amount a credit. eventID links the transaction to a
// reservation and may be nil.
func (l *Ledger) Add(ctx context.Context, userID UserID, amount decimal.Decimal, description string, eventID *EventID) (TransactionID, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	tx := Transaction{
		ID:          l.NewID(),
		UserID:      userID,
		Amount:      amount,
		Description: description,
		EventID:     eventID,
		CreatedAt:   l.Now().UTC(),
	}
	if err := l.Store.AppendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

// Edit replaces a transaction's amount and description in place.
func (l *Ledger) Edit(ctx context.Context, id TransactionID, amount decimal.Decimal, description string) error {
	if id == "" {
		return fmt.Errorf("%w: transaction id required", ErrInvalidInput)
	}
	return l.Store.UpdateTransaction(ctx, id, amount, description)
}

// Delete removes a transaction. This is how refunds are realized.
func (l *Ledger) Delete(ctx context.Context, id TransactionID) error {
	if id == "" {
		return fmt.Errorf("%w: transaction id required", ErrInvalidInput)
	}
	return l.Store.DeleteTransaction(ctx, id)
}

// Get returns a transaction, or an ErrNotFound error when the id is unknown.
func (l *Ledger) Get(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, notFound("transaction", string(id))
	}
	return tx, nil
}

// Balance returns the sum of the user's transactions.
func (l *Ledger) Balance(ctx context.Context, userID UserID) (decimal.Decimal, error) {
	return l.Store.Balance(ctx, userID)
}

// TransactionsFor returns the user's full transaction history,
// chronologically.
func (l *Ledger) TransactionsFor(ctx context.Context, userID UserID) ([]Transaction, error) {
	return l.Store.TransactionsForUser(ctx, userID)
}

// ForEvent returns the transaction that funded userID's reservation on
// eventID, or (nil, nil) when no such charge exists.
func (l *Ledger) ForEvent(ctx context.Context, eventID EventID, userID UserID) (*Transaction, error) {
	return l.Store.TransactionForEvent(ctx, eventID, userID)
}

// Charge records the upfront cost of a seat as a negative transaction
// linked to the event.
func (l *Ledger) Charge(ctx context.Context, userID UserID, event *Event) (TransactionID, error) {
	desc := fmt.Sprintf("Charge for %s", event.Name)
	return l.Add(ctx, userID, event.UpfrontCost.Neg(), desc, &event.ID)
}

// SettleHeldCharge refunds the oldest held charge on the event, if any.
// A held charge is a payment whose payer no longer holds an active seat;
// it is released the moment a replacement occupant pays for the seat.
// The replacement's own payment is passed as exclude: their attendance
// row does not exist yet at settle time, so the scan would otherwise see
// the fresh charge as held and settle it against itself.
// Returns true when a charge was settled.
func (l *Ledger) SettleHeldCharge(ctx context.Context, eventID EventID, exclude *TransactionID) (bool, error) {
	held, err := l.Store.HeldCharges(ctx, eventID)
	if err != nil {
		return false, err
	}
	for _, tx := range held {
		if exclude != nil && tx.ID == *exclude {
			continue
		}
		if !tx.Amount.IsNegative() {
			continue
		}
		if err := l.Store.DeleteTransaction(ctx, tx.ID); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
