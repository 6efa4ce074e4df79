package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/participation-engine/engine"
	"github.com/warp/participation-engine/engine/store"
)

var memClock = time.Date(2026, time.March, 14, 18, 0, 0, 0, time.UTC)

// =============================================================================
// TRANSACTION SEMANTICS
// =============================================================================

func TestTxMemory_WithTx_CommitsOnNil(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s engine.Store) error {
		return s.SaveUser(ctx, engine.User{ID: "u-ana", Name: "Ana"})
	})

	require.NoError(t, err)
	u, err := mem.GetUser(ctx, "u-ana")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Ana", u.Name)
}

func TestTxMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A workflow that writes a user, a transaction and an
	//        attendance record, then fails
	// WHEN: The transaction function returns an error
	// THEN: None of the writes survive

	mem := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveUser(ctx, engine.User{ID: "u-ana", Name: "Ana", FreeSessions: 2}))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s engine.Store) error {
		if err := s.AdjustFreeSessions(ctx, "u-ana", -1); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, engine.Transaction{
			ID: "tx-1", UserID: "u-ana", Amount: decimal.NewFromInt(-15), CreatedAt: memClock,
		}); err != nil {
			return err
		}
		if err := s.InsertAttendance(ctx, engine.AttendanceRecord{
			ID: "rec-1", EventID: "e-1", UserID: "u-ana", IsAttending: true, JoinedAt: memClock,
		}); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)

	u, err := mem.GetUser(ctx, "u-ana")
	require.NoError(t, err)
	assert.Equal(t, 2, u.FreeSessions, "session adjustment must roll back")

	balance, err := mem.Balance(ctx, "u-ana")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "ledger write must roll back")

	n, err := mem.ActiveCount(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "attendance write must roll back")
}

func TestTxMemory_WithTx_ReadsSeeOwnWrites(t *testing.T) {
	mem := store.NewTxMemory()
	ctx := context.Background()

	err := mem.WithTx(ctx, func(s engine.Store) error {
		if err := s.InsertAttendance(ctx, engine.AttendanceRecord{
			ID: "rec-1", EventID: "e-1", UserID: "u-ana", IsAttending: true, JoinedAt: memClock,
		}); err != nil {
			return err
		}
		n, err := s.ActiveCount(ctx, "e-1")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

func TestTxMemory_WithSavepoint_NestedFailureKeepsOuterWrites(t *testing.T) {
	// GIVEN: An open transaction that has already written a user
	// WHEN: A nested savepoint scope writes more state and fails
	// THEN: Only the nested writes rewind; the transaction commits with
	//       the earlier write intact

	mem := store.NewTxMemory()
	ctx := context.Background()

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(s engine.Store) error {
		if err := s.SaveUser(ctx, engine.User{ID: "u-ana", Name: "Ana"}); err != nil {
			return err
		}

		spErr := s.WithSavepoint(ctx, func(sp engine.Store) error {
			if err := sp.SaveUser(ctx, engine.User{ID: "u-ben", Name: "Ben"}); err != nil {
				return err
			}
			if err := sp.AppendTransaction(ctx, engine.Transaction{
				ID: "tx-1", UserID: "u-ben", Amount: decimal.NewFromInt(-15), CreatedAt: memClock,
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, spErr, boom)

		// Within the same transaction the nested writes are gone already.
		u, err := s.GetUser(ctx, "u-ben")
		require.NoError(t, err)
		assert.Nil(t, u, "nested user write must rewind")
		return nil
	})
	require.NoError(t, err)

	u, err := mem.GetUser(ctx, "u-ana")
	require.NoError(t, err)
	require.NotNil(t, u, "outer write must commit")

	balance, err := mem.Balance(ctx, "u-ben")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "nested ledger write must rewind")
}

func TestMemory_WithSavepoint_StandaloneRollsBackOnError(t *testing.T) {
	// Outside a transaction the savepoint is a one-off atomic scope.

	mem := store.NewMemory()
	ctx := context.Background()

	boom := errors.New("boom")
	err := mem.WithSavepoint(ctx, func(s engine.Store) error {
		if err := s.SaveUser(ctx, engine.User{ID: "u-ana", Name: "Ana"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := mem.GetUser(ctx, "u-ana")
	require.NoError(t, err)
	assert.Nil(t, u)
}

// =============================================================================
// ATTENDANCE INVARIANTS
// =============================================================================

func TestMemory_InsertAttendance_SecondOpenRecord_Conflict(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	rec := engine.AttendanceRecord{
		ID: "rec-1", EventID: "e-1", UserID: "u-ana", IsAttending: true, JoinedAt: memClock,
	}
	require.NoError(t, mem.InsertAttendance(ctx, rec))

	rec.ID = "rec-2"
	err := mem.InsertAttendance(ctx, rec)

	assert.True(t, engine.IsConflict(err), "expected conflict, got %v", err)
}

func TestMemory_InsertAttendance_AfterClose_Allowed(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.InsertAttendance(ctx, engine.AttendanceRecord{
		ID: "rec-1", EventID: "e-1", UserID: "u-ana", IsAttending: true, JoinedAt: memClock,
	}))
	left := memClock.Add(time.Minute)
	require.NoError(t, mem.CloseAttendance(ctx, "rec-1", left))

	err := mem.InsertAttendance(ctx, engine.AttendanceRecord{
		ID: "rec-2", EventID: "e-1", UserID: "u-ana", IsAttending: true, JoinedAt: left,
	})

	assert.NoError(t, err)
}

func TestMemory_DeleteTransaction_ClearsPaymentLinks(t *testing.T) {
	// Deleting a charge leaves the attendance record in place but strips
	// its payment pointer, the same way the SQL store's foreign key does.

	mem := store.NewMemory()
	ctx := context.Background()
	txID := engine.TransactionID("tx-1")
	eventID := engine.EventID("e-1")
	require.NoError(t, mem.AppendTransaction(ctx, engine.Transaction{
		ID: txID, UserID: "u-ana", Amount: decimal.NewFromInt(-15), EventID: &eventID, CreatedAt: memClock,
	}))
	require.NoError(t, mem.InsertAttendance(ctx, engine.AttendanceRecord{
		ID: "rec-1", EventID: eventID, UserID: "u-ana", IsAttending: true,
		JoinedAt: memClock, PaymentTransactionID: &txID,
	}))

	require.NoError(t, mem.DeleteTransaction(ctx, txID))

	rec, err := mem.ActiveAttendance(ctx, eventID, "u-ana")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.PaymentTransactionID)

	paid, err := mem.HasPaidRecord(ctx, eventID, "u-ana")
	require.NoError(t, err)
	assert.False(t, paid)
}

// =============================================================================
// RESET
// =============================================================================

func TestMemory_Reset_DropsEverything(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveUser(ctx, engine.User{ID: "u-ana", Name: "Ana"}))
	require.NoError(t, mem.SaveEvent(ctx, engine.Event{ID: "e-1", Name: "Practice"}))
	require.NoError(t, mem.AddWaitlistEntry(ctx, engine.WaitlistEntry{
		EventID: "e-1", UserID: "u-ana", JoinedAt: memClock,
	}))

	require.NoError(t, mem.Reset(ctx))

	u, err := mem.GetUser(ctx, "u-ana")
	require.NoError(t, err)
	assert.Nil(t, u)
	e, err := mem.GetEvent(ctx, "e-1")
	require.NoError(t, err)
	assert.Nil(t, e)
	n, err := mem.WaitlistCount(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
