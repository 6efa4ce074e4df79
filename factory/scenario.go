/*
scenario.go - JSON scenario definitions and fixture loading

PURPOSE:

	Converts JSON scenario definitions into seeded store state. Scenarios
	describe users, tags, events and ledger deposits declaratively; the
	factory parses them, resolves relative times against a clock, and
	loads the result into any engine.Store.

WHY JSON?

	Demo fixtures change far more often than code. JSON definitions let
	the API ship new scenarios (and tests build throwaway worlds) without
	recompiling, and keep the fixture data readable in one place.

JSON SCHEMA EXAMPLE:

	{
	  "id": "beginner-night",
	  "name": "Beginner Night",
	  "users": [
	    {"id": "u-ana", "name": "Ana", "member": true, "instructor": true}
	  ],
	  "tags": [
	    {"id": "t-comp", "name": "Competition", "min_difficulty": 3,
	     "view_policy": "whitelist", "join_policy": "whitelist",
	     "whitelist": ["u-ana"]}
	  ],
	  "events": [
	    {"id": "e-1", "name": "Drills", "starts_in": "24h", "duration": "2h",
	     "max_attendees": 8, "upfront_cost": "15", "refund_cutoff_in": "12h",
	     "waitlist_enabled": true, "tags": ["t-comp"],
	     "attendees": ["u-ana"], "waitlist": []}
	  ],
	  "deposits": [
	    {"user_id": "u-ana", "amount": "50", "description": "Top-up"}
	  ]
	}

KEY BEHAVIORS:
 1. Times are relative: starts_in/duration/refund_cutoff_in are Go
    duration strings resolved against the factory clock, so a scenario
    loaded tomorrow is still in the future.
 2. Defaults: legal_info_complete=true, signup_required=true,
    starts_in=24h, duration=1h, upfront_cost=0.
 3. Seeded attendees on priced events get a linked charge transaction,
    matching what a live join would have written. The ledger stays the
    source of truth for who paid. Scenario deposits must account for
    those charges.
 4. Seeded attendee and waitlist timestamps are staggered one second
    apart in declaration order, so promotion order follows the JSON.
 5. free_sessions is the count AFTER the seeded joins. The loader does
    not decrement it again.

USAGE:

	f := factory.NewScenarioFactory()
	sc, err := f.Parse(jsonString)
	if err != nil { ... }
	err = f.Load(ctx, store, sc)

SEE ALSO:
  - api/scenarios.go: The built-in demo scenarios
  - engine/store.go: The Store interface scenarios load into
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/participation-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScenarioJSON is the root JSON structure for a scenario definition.
type ScenarioJSON struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Users       []UserJSON    `json:"users,omitempty"`
	Tags        []TagJSON     `json:"tags,omitempty"`
	Events      []EventJSON   `json:"events,omitempty"`
	Deposits    []DepositJSON `json:"deposits,omitempty"`
}

// UserJSON defines one account.
type UserJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Member       bool   `json:"member,omitempty"`
	FreeSessions int    `json:"free_sessions,omitempty"`
	Instructor   bool   `json:"instructor,omitempty"`

	// Defaults to true; most demo users are in good standing.
	LegalInfoComplete *bool `json:"legal_info_complete,omitempty"`

	Difficulty int `json:"difficulty,omitempty"`
}

// TagJSON defines one tag plus its whitelist and role grants.
type TagJSON struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MinDifficulty *int     `json:"min_difficulty,omitempty"`
	ViewPolicy    string   `json:"view_policy,omitempty"` // "open" | "whitelist"
	JoinPolicy    string   `json:"join_policy,omitempty"` // "open" | "whitelist" | "role_scoped"
	Whitelist     []string `json:"whitelist,omitempty"`   // user ids
	Roles         []string `json:"roles,omitempty"`       // user ids granted the tag role
}

// EventJSON defines one event with relative timing.
type EventJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// StartsIn offsets the event start from the load clock ("24h", "-2h").
	// Duration is added to the start for the end. RefundCutoffIn, when
	// present, offsets the refund cutoff from the load clock.
	StartsIn       string `json:"starts_in,omitempty"`        // default "24h"
	Duration       string `json:"duration,omitempty"`         // default "1h"
	RefundCutoffIn string `json:"refund_cutoff_in,omitempty"` // omit = always refundable

	Difficulty      int    `json:"difficulty,omitempty"`
	MaxAttendees    int    `json:"max_attendees,omitempty"` // 0 = unlimited
	UpfrontCost     string `json:"upfront_cost,omitempty"`  // decimal string, default "0"
	Canceled        bool   `json:"canceled,omitempty"`
	SignupRequired  *bool  `json:"signup_required,omitempty"` // default true
	WaitlistEnabled bool   `json:"waitlist_enabled,omitempty"`

	Tags      []string `json:"tags,omitempty"`      // tag ids
	Attendees []string `json:"attendees,omitempty"` // user ids seeded as attending
	Waitlist  []string `json:"waitlist,omitempty"`  // user ids seeded queued, FIFO order
}

// DepositJSON defines one seeded ledger entry.
type DepositJSON struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"` // decimal string, negative = debt
	Description string `json:"description,omitempty"`
}

// =============================================================================
// MATERIALIZED SCENARIO
// =============================================================================

// Deposit is a resolved ledger seed.
type Deposit struct {
	UserID      engine.UserID
	Amount      decimal.Decimal
	Description string
}

// Scenario is a fully resolved scenario: absolute times, parsed amounts,
// references validated. Produced by Parse/FromJSON, consumed by Load.
type Scenario struct {
	ID          string
	Name        string
	Description string

	Users []engine.User
	Tags  []engine.Tag

	Whitelist map[engine.TagID][]engine.UserID
	Roles     map[engine.TagID][]engine.UserID

	Events    []engine.Event
	EventTags map[engine.EventID][]engine.TagID
	Attendees map[engine.EventID][]engine.UserID
	Queued    map[engine.EventID][]engine.UserID

	Deposits []Deposit
}

// =============================================================================
// FACTORY
// =============================================================================

// ScenarioFactory converts JSON definitions to loadable scenarios.
type ScenarioFactory struct {
	// Now anchors the relative times in event definitions. Tests pin it.
	Now func() time.Time
}

// NewScenarioFactory creates a factory using the wall clock.
func NewScenarioFactory() *ScenarioFactory {
	return &ScenarioFactory{Now: time.Now}
}

// Parse converts a JSON string to a Scenario.
func (f *ScenarioFactory) Parse(jsonStr string) (*Scenario, error) {
	var config ScenarioJSON
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		return nil, fmt.Errorf("invalid scenario JSON: %w", err)
	}
	return f.FromJSON(config)
}

// FromJSON converts a parsed config to a Scenario.
func (f *ScenarioFactory) FromJSON(config ScenarioJSON) (*Scenario, error) {
	if config.ID == "" {
		return nil, fmt.Errorf("scenario ID is required")
	}

	now := f.Now()

	sc := &Scenario{
		ID:          config.ID,
		Name:        config.Name,
		Description: config.Description,
		Whitelist:   make(map[engine.TagID][]engine.UserID),
		Roles:       make(map[engine.TagID][]engine.UserID),
		EventTags:   make(map[engine.EventID][]engine.TagID),
		Attendees:   make(map[engine.EventID][]engine.UserID),
		Queued:      make(map[engine.EventID][]engine.UserID),
	}

	userIDs := make(map[string]bool)
	for _, u := range config.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user ID is required")
		}
		if userIDs[u.ID] {
			return nil, fmt.Errorf("duplicate user %q", u.ID)
		}
		userIDs[u.ID] = true

		legal := true
		if u.LegalInfoComplete != nil {
			legal = *u.LegalInfoComplete
		}
		sc.Users = append(sc.Users, engine.User{
			ID:                engine.UserID(u.ID),
			Name:              u.Name,
			Email:             u.Email,
			Member:            u.Member,
			FreeSessions:      u.FreeSessions,
			Instructor:        u.Instructor,
			LegalInfoComplete: legal,
			Difficulty:        u.Difficulty,
		})
	}

	tagIDs := make(map[string]bool)
	for _, t := range config.Tags {
		if t.ID == "" {
			return nil, fmt.Errorf("tag ID is required")
		}
		if tagIDs[t.ID] {
			return nil, fmt.Errorf("duplicate tag %q", t.ID)
		}
		tagIDs[t.ID] = true

		viewPolicy, err := parseViewPolicy(t.ViewPolicy)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", t.ID, err)
		}
		joinPolicy, err := parseJoinPolicy(t.JoinPolicy)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", t.ID, err)
		}
		sc.Tags = append(sc.Tags, engine.Tag{
			ID:            engine.TagID(t.ID),
			Name:          t.Name,
			MinDifficulty: t.MinDifficulty,
			ViewPolicy:    viewPolicy,
			JoinPolicy:    joinPolicy,
		})

		for _, uid := range t.Whitelist {
			if !userIDs[uid] {
				return nil, fmt.Errorf("tag %q whitelists unknown user %q", t.ID, uid)
			}
			sc.Whitelist[engine.TagID(t.ID)] = append(sc.Whitelist[engine.TagID(t.ID)], engine.UserID(uid))
		}
		for _, uid := range t.Roles {
			if !userIDs[uid] {
				return nil, fmt.Errorf("tag %q grants a role to unknown user %q", t.ID, uid)
			}
			sc.Roles[engine.TagID(t.ID)] = append(sc.Roles[engine.TagID(t.ID)], engine.UserID(uid))
		}
	}

	eventIDs := make(map[string]bool)
	for _, ev := range config.Events {
		if ev.ID == "" {
			return nil, fmt.Errorf("event ID is required")
		}
		if eventIDs[ev.ID] {
			return nil, fmt.Errorf("duplicate event %q", ev.ID)
		}
		eventIDs[ev.ID] = true

		startsIn, err := parseDuration(ev.StartsIn, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("event %q: invalid starts_in: %w", ev.ID, err)
		}
		duration, err := parseDuration(ev.Duration, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("event %q: invalid duration: %w", ev.ID, err)
		}
		start := now.Add(startsIn)

		var cutoff *time.Time
		if ev.RefundCutoffIn != "" {
			offset, err := time.ParseDuration(ev.RefundCutoffIn)
			if err != nil {
				return nil, fmt.Errorf("event %q: invalid refund_cutoff_in: %w", ev.ID, err)
			}
			t := now.Add(offset)
			cutoff = &t
		}

		cost := decimal.Zero
		if ev.UpfrontCost != "" {
			cost, err = decimal.NewFromString(ev.UpfrontCost)
			if err != nil {
				return nil, fmt.Errorf("event %q: invalid upfront_cost: %w", ev.ID, err)
			}
		}

		signup := true
		if ev.SignupRequired != nil {
			signup = *ev.SignupRequired
		}

		sc.Events = append(sc.Events, engine.Event{
			ID:              engine.EventID(ev.ID),
			Name:            ev.Name,
			Start:           start,
			End:             start.Add(duration),
			Difficulty:      ev.Difficulty,
			MaxAttendees:    ev.MaxAttendees,
			UpfrontCost:     cost,
			RefundCutoff:    cutoff,
			Canceled:        ev.Canceled,
			SignupRequired:  signup,
			WaitlistEnabled: ev.WaitlistEnabled,
		})

		for _, tid := range ev.Tags {
			if !tagIDs[tid] {
				return nil, fmt.Errorf("event %q references unknown tag %q", ev.ID, tid)
			}
			sc.EventTags[engine.EventID(ev.ID)] = append(sc.EventTags[engine.EventID(ev.ID)], engine.TagID(tid))
		}
		for _, uid := range ev.Attendees {
			if !userIDs[uid] {
				return nil, fmt.Errorf("event %q seeds unknown attendee %q", ev.ID, uid)
			}
			sc.Attendees[engine.EventID(ev.ID)] = append(sc.Attendees[engine.EventID(ev.ID)], engine.UserID(uid))
		}
		for _, uid := range ev.Waitlist {
			if !userIDs[uid] {
				return nil, fmt.Errorf("event %q queues unknown user %q", ev.ID, uid)
			}
			sc.Queued[engine.EventID(ev.ID)] = append(sc.Queued[engine.EventID(ev.ID)], engine.UserID(uid))
		}
	}

	for i, d := range config.Deposits {
		if !userIDs[d.UserID] {
			return nil, fmt.Errorf("deposit %d references unknown user %q", i, d.UserID)
		}
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return nil, fmt.Errorf("deposit %d: invalid amount: %w", i, err)
		}
		sc.Deposits = append(sc.Deposits, Deposit{
			UserID:      engine.UserID(d.UserID),
			Amount:      amount,
			Description: d.Description,
		})
	}

	return sc, nil
}

// =============================================================================
// LOADER
// =============================================================================

// Load writes the scenario into the store. The store is not cleared first;
// callers reset before loading when they want a clean world.
func (f *ScenarioFactory) Load(ctx context.Context, store engine.Store, sc *Scenario) error {
	now := f.Now()

	for _, u := range sc.Users {
		if err := store.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
	}

	for _, t := range sc.Tags {
		if err := store.SaveTag(ctx, t); err != nil {
			return fmt.Errorf("save tag %s: %w", t.ID, err)
		}
		for _, uid := range sc.Whitelist[t.ID] {
			if err := store.AddToWhitelist(ctx, t.ID, uid); err != nil {
				return fmt.Errorf("whitelist %s on %s: %w", uid, t.ID, err)
			}
		}
		for _, uid := range sc.Roles[t.ID] {
			if err := store.GrantTagRole(ctx, t.ID, uid); err != nil {
				return fmt.Errorf("grant role %s on %s: %w", uid, t.ID, err)
			}
		}
	}

	for _, ev := range sc.Events {
		if err := store.SaveEvent(ctx, ev); err != nil {
			return fmt.Errorf("save event %s: %w", ev.ID, err)
		}
		for _, tid := range sc.EventTags[ev.ID] {
			if err := store.LinkTag(ctx, ev.ID, tid); err != nil {
				return fmt.Errorf("link tag %s to %s: %w", tid, ev.ID, err)
			}
		}
	}

	for i, d := range sc.Deposits {
		tx := engine.Transaction{
			ID:          engine.TransactionID(fmt.Sprintf("tx-%s-deposit-%d", sc.ID, i+1)),
			UserID:      d.UserID,
			Amount:      d.Amount,
			Description: d.Description,
			CreatedAt:   now.Add(-2 * time.Hour),
		}
		if err := store.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("seed deposit for %s: %w", d.UserID, err)
		}
	}

	for _, ev := range sc.Events {
		// Attendees joined an hour ago, one second apart, so the
		// records replay in declaration order.
		for i, uid := range sc.Attendees[ev.ID] {
			joined := now.Add(-time.Hour).Add(time.Duration(i) * time.Second)

			var paymentID *engine.TransactionID
			if ev.Priced() {
				txID := engine.TransactionID(fmt.Sprintf("tx-%s-charge-%s-%d", sc.ID, ev.ID, i+1))
				charge := engine.Transaction{
					ID:          txID,
					UserID:      uid,
					Amount:      ev.UpfrontCost.Neg(),
					Description: fmt.Sprintf("Charge for %s", ev.Name),
					EventID:     &ev.ID,
					CreatedAt:   joined,
				}
				if err := store.AppendTransaction(ctx, charge); err != nil {
					return fmt.Errorf("seed charge for %s on %s: %w", uid, ev.ID, err)
				}
				paymentID = &txID
			}

			rec := engine.AttendanceRecord{
				ID:                   engine.RecordID(fmt.Sprintf("rec-%s-%s-%d", sc.ID, ev.ID, i+1)),
				EventID:              ev.ID,
				UserID:               uid,
				IsAttending:          true,
				JoinedAt:             joined,
				PaymentTransactionID: paymentID,
			}
			if err := store.InsertAttendance(ctx, rec); err != nil {
				return fmt.Errorf("seed attendance for %s on %s: %w", uid, ev.ID, err)
			}
		}

		// Queued users joined the waitlist after the attendees, again a
		// second apart, preserving FIFO promotion order.
		for i, uid := range sc.Queued[ev.ID] {
			entry := engine.WaitlistEntry{
				EventID:  ev.ID,
				UserID:   uid,
				JoinedAt: now.Add(-30 * time.Minute).Add(time.Duration(i) * time.Second),
			}
			if err := store.AddWaitlistEntry(ctx, entry); err != nil {
				return fmt.Errorf("seed waitlist for %s on %s: %w", uid, ev.ID, err)
			}
		}
	}

	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseViewPolicy(s string) (engine.ViewPolicy, error) {
	switch s {
	case "", "open":
		return engine.ViewOpen, nil
	case "whitelist":
		return engine.ViewWhitelist, nil
	default:
		return "", fmt.Errorf("unknown view_policy: %s", s)
	}
}

func parseJoinPolicy(s string) (engine.JoinPolicy, error) {
	switch s {
	case "", "open":
		return engine.JoinOpen, nil
	case "whitelist":
		return engine.JoinWhitelist, nil
	case "role_scoped":
		return engine.JoinRoleScoped, nil
	default:
		return "", fmt.Errorf("unknown join_policy: %s", s)
	}
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
