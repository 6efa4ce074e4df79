/*
scheduler.go - Automated waitlist promotion sweeper

PURPOSE:
  Periodically re-examines events with queued users and retries head
  promotion. A head skipped during a leave (no session credits, legal
  info missing) stays queued; once the blocker clears, the sweeper moves
  them into the seat without anyone having to leave again.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Asks the store for events that currently have queued users
  - Runs one promotion per event per sweep; each attempt is its own
    transaction, so a busy store fails one event, not the sweep
  - Business skips (still ineligible) are logged by the engine and the
    head stays queued for the next sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewPromotionSweeper(eng, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: PromoteWaitlisted endpoint (manual promotion)
  - engine/participation.go: PromoteNext
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/participation-engine/engine"
)

// PromotionSweeper retries skipped waitlist promotions in the background.
type PromotionSweeper struct {
	Engine        *engine.Engine
	Log           zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPromotionSweeper creates a new sweeper.
func NewPromotionSweeper(eng *engine.Engine, log zerolog.Logger) *PromotionSweeper {
	return &PromotionSweeper{
		Engine:        eng,
		Log:           log,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (ps *PromotionSweeper) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.Log.Info().Msg("promotion sweeper disabled, not starting")
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	ps.Log.Info().Dur("interval", ps.CheckInterval).Msg("promotion sweeper started")
}

// Stop stops the sweeper.
func (ps *PromotionSweeper) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.Log.Info().Msg("promotion sweeper stopped")
	}
}

func (ps *PromotionSweeper) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.sweep()

	for {
		select {
		case <-ps.ticker.C:
			ps.sweep()
		case <-ps.stop:
			return
		}
	}
}

func (ps *PromotionSweeper) sweep() {
	ctx := context.Background()

	eventIDs, err := ps.Engine.EventsWithWaitlisted(ctx)
	if err != nil {
		ps.Log.Error().Err(err).Msg("sweep: listing waitlisted events failed")
		return
	}

	promotedCount := 0
	for _, eventID := range eventIDs {
		// Promote until the event fills or the head is blocked. Each
		// call is one transaction.
		for {
			promoted, err := ps.Engine.PromoteNext(ctx, eventID)
			if err != nil {
				ps.Log.Error().Err(err).Str("event_id", string(eventID)).Msg("sweep: promotion failed")
				break
			}
			if !promoted {
				break
			}
			promotedCount++
		}
	}

	if promotedCount > 0 {
		ps.Log.Info().Int("promoted", promotedCount).Int("events", len(eventIDs)).Msg("sweep completed")
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ps *PromotionSweeper) RunNow() {
	ps.sweep()
}
