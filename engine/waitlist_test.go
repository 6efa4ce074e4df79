package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/participation-engine/engine"
	"github.com/warp/participation-engine/engine/store"
)

// =============================================================================
// QUEUE JOIN PRECONDITIONS
// =============================================================================

func TestJoinWaitlist_Anonymous_Unauthenticated(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	saveEvent(t, mem, trainingEvent("e-1"))

	err := eng.JoinWaitlist(context.Background(), "e-1", "")

	assert.ErrorIs(t, err, engine.ErrUnauthenticated)
}

func TestJoinWaitlist_NoWaitlist_Forbidden(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))

	err := eng.JoinWaitlist(context.Background(), event.ID, "u-ana")

	assert.True(t, engine.IsForbidden(err), "expected forbidden, got %v", err)
	assert.Equal(t, "this event has no waitlist", engine.ForbiddenReason(err))
}

func TestJoinWaitlist_FreeSeats_Forbidden(t *testing.T) {
	// With seats still open the queue is closed; join directly instead.

	eng, mem, _ := newTestEngine(t)
	event := trainingEvent("e-1")
	event.MaxAttendees = 3
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))

	err := eng.JoinWaitlist(context.Background(), event.ID, "u-ana")

	assert.True(t, engine.IsForbidden(err), "expected forbidden, got %v", err)
	assert.Equal(t, "this event still has free seats", engine.ForbiddenReason(err))
}

func TestJoinWaitlist_WhileAttending_Forbidden(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	coach := attendingCoach(t, eng, mem, event.ID)

	err := eng.JoinWaitlist(ctx, event.ID, coach.ID)

	assert.True(t, engine.IsForbidden(err), "expected forbidden, got %v", err)
	assert.Equal(t, engine.ReasonAlreadyAttending, engine.ForbiddenReason(err))
}

func TestJoinWaitlist_LegalIncomplete_Forbidden(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	ana := memberUser("u-ana", "Ana")
	ana.LegalInfoComplete = false
	saveUser(t, mem, ana)

	err := eng.JoinWaitlist(context.Background(), event.ID, "u-ana")

	assert.True(t, engine.IsForbidden(err), "expected forbidden, got %v", err)
	assert.Equal(t, engine.ReasonLegalIncomplete, engine.ForbiddenReason(err))
}

func TestJoinWaitlist_Twice_Conflict(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	require.NoError(t, eng.JoinWaitlist(ctx, event.ID, "u-ana"))

	err := eng.JoinWaitlist(ctx, event.ID, "u-ana")

	assert.True(t, engine.IsConflict(err), "expected conflict, got %v", err)
}

func TestJoinWaitlist_DebtDoesNotBlockQueueing(t *testing.T) {
	// The queue only asks for legal standing; money questions wait until
	// a seat actually opens.

	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	ana := memberUser("u-ana", "Ana")
	saveUser(t, mem, ana)
	seedDeposit(t, mem.Memory, ana.ID, "-75")

	err := eng.JoinWaitlist(ctx, event.ID, "u-ana")

	assert.NoError(t, err)
}

func TestJoinWaitlist_UnknownEvent_NotFound(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	saveUser(t, mem, memberUser("u-ana", "Ana"))

	err := eng.JoinWaitlist(context.Background(), "e-nope", "u-ana")

	assert.True(t, engine.IsNotFound(err), "expected not-found, got %v", err)
}

// =============================================================================
// QUEUE DEPARTURE AND ORDERING
// =============================================================================

func TestLeaveWaitlist_RemovesEntryAndShiftsRanks(t *testing.T) {
	eng, mem, now := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	saveUser(t, mem, memberUser("u-ben", "Ben"))
	require.NoError(t, eng.JoinWaitlist(ctx, event.ID, "u-ana"))
	*now = testClock.Add(time.Minute)
	require.NoError(t, eng.JoinWaitlist(ctx, event.ID, "u-ben"))

	require.NoError(t, eng.LeaveWaitlist(ctx, event.ID, "u-ana"))

	queued, err := eng.IsOnWaitlist(ctx, event.ID, "u-ana")
	require.NoError(t, err)
	assert.False(t, queued)

	pos, err := eng.WaitlistPosition(ctx, event.ID, "u-ben")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	count, err := eng.WaitlistCount(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLeaveWaitlist_NotQueued_Conflict(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	event := trainingEvent("e-1")
	saveEvent(t, mem, event)
	saveUser(t, mem, memberUser("u-ana", "Ana"))

	err := eng.LeaveWaitlist(context.Background(), event.ID, "u-ana")

	assert.True(t, engine.IsConflict(err), "expected conflict, got %v", err)
}

func TestWaitlistDetailed_RanksInJoinOrder(t *testing.T) {
	// GIVEN: Two queued members who joined a minute apart
	// WHEN: Reading the privileged queue view
	// THEN: Entries carry names and 1-based ranks in join order

	eng, mem, now := newTestEngine(t)
	ctx := context.Background()
	event := trainingEvent("e-1")
	event.MaxAttendees = 1
	event.WaitlistEnabled = true
	saveEvent(t, mem, event)
	attendingCoach(t, eng, mem, event.ID)
	saveUser(t, mem, memberUser("u-ana", "Ana"))
	saveUser(t, mem, memberUser("u-ben", "Ben"))
	require.NoError(t, eng.JoinWaitlist(ctx, event.ID, "u-ana"))
	*now = testClock.Add(time.Minute)
	require.NoError(t, eng.JoinWaitlist(ctx, event.ID, "u-ben"))

	details, err := eng.WaitlistDetailed(ctx, event.ID)

	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, 1, details[0].Position)
	assert.Equal(t, engine.UserID("u-ana"), details[0].UserID)
	assert.Equal(t, "Ana", details[0].Name)
	assert.Equal(t, 2, details[1].Position)
	assert.Equal(t, engine.UserID("u-ben"), details[1].UserID)
	assert.Equal(t, "Ben", details[1].Name)
}

func TestWaitlistPosition_NotQueued_NotFound(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	event := trainingEvent("e-1")
	saveEvent(t, mem, event)
	saveUser(t, mem, memberUser("u-ana", "Ana"))

	_, err := eng.WaitlistPosition(context.Background(), event.ID, "u-ana")

	assert.True(t, engine.IsNotFound(err), "expected not-found, got %v", err)
}

// =============================================================================
// COMPONENT HEAD SELECTION
// =============================================================================

func TestWaitlist_PeekNext_EarliestEntryWins(t *testing.T) {
	// GIVEN: Three entries queued a second apart
	// WHEN: Peeking and removing the head twice
	// THEN: Heads come off in join order and peeking never dequeues

	mem := store.NewMemory()
	queue := engine.NewWaitlist(mem)
	ctx := context.Background()
	for i, userID := range []engine.UserID{"u-ana", "u-ben", "u-carla"} {
		require.NoError(t, mem.AddWaitlistEntry(ctx, engine.WaitlistEntry{
			EventID:  "e-1",
			UserID:   userID,
			JoinedAt: testClock.Add(time.Duration(i) * time.Second),
		}))
	}

	head, err := queue.PeekNext(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, engine.UserID("u-ana"), head.UserID)

	again, err := queue.PeekNext(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, head.UserID, again.UserID)

	require.NoError(t, queue.Remove(ctx, "e-1", head.UserID))

	head, err = queue.PeekNext(ctx, "e-1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, engine.UserID("u-ben"), head.UserID)

	count, err := queue.Count(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWaitlist_PeekNext_EmptyQueue_Nil(t *testing.T) {
	queue := engine.NewWaitlist(store.NewMemory())

	head, err := queue.PeekNext(context.Background(), "e-1")

	require.NoError(t, err)
	assert.Nil(t, head)
}
