package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/participation-engine/engine"
	"github.com/warp/participation-engine/engine/store"
)

// =============================================================================
// ROSTER
// =============================================================================

func TestRoster_ActiveOnly_SortedByName(t *testing.T) {
	// GIVEN: A coach and two members attending, one of whom then leaves
	// WHEN: Reading the public roster
	// THEN: Only current attendees appear, sorted by name

	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID) // Dana
	saveUser(t, mem, memberUser("u-zoe", "Zoe"))
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-zoe"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-ana"))
	require.NoError(t, eng.Leave(ctx, event.ID, "u-zoe"))

	roster, err := eng.Roster(ctx, event.ID)

	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "Ana", roster[0].Name)
	assert.Equal(t, "Dana", roster[1].Name)
	assert.True(t, roster[1].Instructor)
	assert.False(t, roster[0].Instructor)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_CollapsesToLatestEpisode(t *testing.T) {
	// GIVEN: A member who joined, left, and rejoined
	// WHEN: Reading the history
	// THEN: They appear once, as currently attending

	eng, mem, now := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-ana"))
	*now = testClock.Add(10 * time.Minute)
	require.NoError(t, eng.Leave(ctx, event.ID, "u-ana"))
	*now = testClock.Add(20 * time.Minute)
	require.NoError(t, eng.Attend(ctx, event.ID, "u-ana"))

	history, err := eng.History(ctx, event.ID)

	require.NoError(t, err)
	entries := 0
	for _, e := range history {
		if e.UserID == "u-ana" {
			entries++
			assert.True(t, e.IsAttending)
			assert.Nil(t, e.LeftAt)
		}
	}
	assert.Equal(t, 1, entries, "one entry per user, their latest episode")
}

func TestHistory_ActiveLeadDepartedFollow(t *testing.T) {
	// Active attendees come first sorted by name; departed ones follow,
	// most recent departure first, with their departure times recorded.

	eng, mem, now := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID) // Dana, active
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	saveUser(t, mem, memberUser("u-ben", "Ben"))
	saveUser(t, mem, memberUser("u-carla", "Carla"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-ana"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-ben"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-carla"))

	*now = testClock.Add(10 * time.Minute)
	require.NoError(t, eng.Leave(ctx, event.ID, "u-ben"))
	*now = testClock.Add(20 * time.Minute)
	require.NoError(t, eng.Leave(ctx, event.ID, "u-ana"))

	history, err := eng.History(ctx, event.ID)

	require.NoError(t, err)
	require.Len(t, history, 4)

	// Active block, by name.
	assert.Equal(t, "Carla", history[0].Name)
	assert.Equal(t, "Dana", history[1].Name)
	assert.True(t, history[0].IsAttending)
	assert.True(t, history[1].IsAttending)

	// Departed block, latest departure first.
	assert.Equal(t, "Ana", history[2].Name)
	assert.Equal(t, "Ben", history[3].Name)
	assert.False(t, history[2].IsAttending)
	require.NotNil(t, history[2].LeftAt)
	require.NotNil(t, history[3].LeftAt)
	assert.True(t, history[2].LeftAt.After(*history[3].LeftAt))
}

func TestHistory_PaidFlagTracksCharge(t *testing.T) {
	// GIVEN: A priced event where one attendee keeps their seat and
	//        another leaves inside the refund window
	// WHEN: Reading the history
	// THEN: The seated payer shows paid, the refunded leaver does not

	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	event.UpfrontCost = money("15")
	cutoff := testClock.Add(2 * time.Hour)
	event.RefundCutoff = &cutoff
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	require.NoError(t, eng.Attend(ctx, event.ID, "u-ana"))
	require.NoError(t, eng.Leave(ctx, event.ID, "u-ana"))

	history, err := eng.History(ctx, event.ID)

	require.NoError(t, err)
	byName := make(map[string]engine.HistoryEntry)
	for _, e := range history {
		byName[e.Name] = e
	}
	assert.True(t, byName["Dana"].Paid, "the seated coach still funds their seat")
	assert.False(t, byName["Ana"].Paid, "the refund cleared the payment link")
}

func TestHistory_UnknownEvent_NotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.History(context.Background(), "e-nope")

	assert.True(t, engine.IsNotFound(err), "expected not-found, got %v", err)
}

// =============================================================================
// COMPONENT GUARDS
// =============================================================================

// newTestAttendance drives the component directly, without the engine,
// with a pinned clock and countable record ids.
func newTestAttendance(t *testing.T) *engine.Attendance {
	t.Helper()
	att := engine.NewAttendance(store.NewMemory())
	att.Now = func() time.Time { return testClock }
	seq := 0
	att.NewID = func() engine.RecordID {
		seq++
		return engine.RecordID(fmt.Sprintf("rec-%d", seq))
	}
	return att
}

func TestAttendance_SecondOpenRecord_Conflict(t *testing.T) {
	att := newTestAttendance(t)
	ctx := context.Background()

	id, err := att.Attend(ctx, "e-1", "u-ana", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.RecordID("rec-1"), id)

	_, err = att.Attend(ctx, "e-1", "u-ana", nil)
	assert.True(t, engine.IsConflict(err), "expected conflict, got %v", err)
}

func TestAttendance_LeaveReturnsPaymentLink(t *testing.T) {
	att := newTestAttendance(t)
	ctx := context.Background()
	txID := engine.TransactionID("tx-1")

	_, err := att.Attend(ctx, "e-1", "u-ana", &txID)
	require.NoError(t, err)

	rec, err := att.Leave(ctx, "e-1", "u-ana")
	require.NoError(t, err)
	require.NotNil(t, rec.PaymentTransactionID)
	assert.Equal(t, txID, *rec.PaymentTransactionID)
	assert.Equal(t, testClock.UTC(), rec.JoinedAt)

	_, err = att.Leave(ctx, "e-1", "u-ana")
	assert.True(t, engine.IsConflict(err), "expected conflict, got %v", err)
}
