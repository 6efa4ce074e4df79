/*
rules.go - Eligibility evaluation for viewing and joining events

PURPOSE:
  Pure decision functions. Given an event, an actor and the configured
  rule knobs, decide whether the actor may see the event and whether they
  may take a seat. Nothing in this file mutates state.

DECISION MODEL:
  CanView:  difficulty ceiling + per-tag visibility policies.
  CanJoin:  an ordered chain of checks, each with its own human-readable
            reason. The first failing check wins and its reason is
            surfaced verbatim to the caller.
  CanPromote: the reduced re-check applied when a waitlisted user is
            promoted into a freed seat. Deliberately smaller than CanJoin:
            queued users are not re-penalized for conditions that changed
            after they queued (debt standing in particular).

CHECK ORDER (CanJoin):
  authentication, signup flag, cancellation, timing (end before start),
  tag policies, capacity, coach presence, legal standing, account
  standing, session credits, duplicate membership.

CONFIGURATION:
  Rules carries the process-wide knobs (the anonymous difficulty ceiling
  and the minimum account balance) as explicit injected values. There is
  no package-level default.

SEE ALSO:
  - participation.go: Re-runs CanJoin inside the mutation transaction
  - store.go: The Capabilities interface consulted for tag policies
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE CONFIGURATION
// =============================================================================

// Rules holds the injected evaluation knobs.
type Rules struct {
	// AnonymousDifficultyCeiling is the difficulty level granted to
	// unauthenticated viewers.
	AnonymousDifficultyCeiling int

	// MinimumBalance is the debt floor: actors whose ledger balance is
	// below it may not join events.
	MinimumBalance decimal.Decimal
}

// =============================================================================
// DENIAL REASONS
// =============================================================================

// Reasons surfaced on CanJoin denials. Stable strings: the UI shows them
// verbatim and clients may match on them.
const (
	ReasonNotAuthenticated = "not authenticated"
	ReasonSignupNotNeeded  = "signup is not required for this event"
	ReasonCanceled         = "this event is canceled"
	ReasonEnded            = "this event has already ended"
	ReasonStarted          = "this event has already started"
	ReasonFull             = "this event is full"
	ReasonNoCoach          = "no coach is attending this event"
	ReasonLegalIncomplete  = "legal information is incomplete"
	ReasonOutstandingDebts = "there are outstanding debts on your account"
	ReasonNoFreeSessions   = "no free sessions remaining"
	ReasonAlreadyAttending = "already attending this event"
)

func reasonNotOnWhitelist(tag Tag) string {
	return fmt.Sprintf("not on the whitelist for %s", tag.Name)
}

func reasonNoRoleForTag(tag Tag) string {
	return fmt.Sprintf("no role covering %s", tag.Name)
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator answers view/join questions. All methods are pure reads over
// the store and the injected capabilities.
type Evaluator struct {
	Store Store
	Caps  Capabilities
	Rules Rules
	Now   func() time.Time
}

func NewEvaluator(store Store, caps Capabilities, rules Rules) *Evaluator {
	if caps == nil {
		caps = StoreCapabilities{Store: store}
	}
	return &Evaluator{Store: store, Caps: caps, Rules: rules, Now: time.Now}
}

// CanView reports whether the actor may see the event at all. A nil actor
// is an anonymous visitor and is held to the configured ceiling.
func (ev *Evaluator) CanView(ctx context.Context, event *Event, actor *User) (bool, error) {
	ceiling := ev.Rules.AnonymousDifficultyCeiling
	if actor != nil {
		ceiling = actor.Difficulty
	}
	if event.Difficulty > ceiling {
		return false, nil
	}
	for _, tag := range event.Tags {
		if tag.MinDifficulty != nil && *tag.MinDifficulty > ceiling {
			return false, nil
		}
		if tag.ViewPolicy == ViewWhitelist {
			if actor == nil {
				return false, nil
			}
			ok, err := ev.Caps.IsWhitelisted(ctx, tag.ID, actor.ID)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

// CanJoin runs the full join rule chain. The returned Decision carries the
// first failing check's reason; a nil error with Allowed=false is a normal
// denial, not a fault.
func (ev *Evaluator) CanJoin(ctx context.Context, event *Event, actor *User) (Decision, error) {
	if actor == nil {
		return deny(ReasonNotAuthenticated), nil
	}
	if !event.SignupRequired {
		return deny(ReasonSignupNotNeeded), nil
	}
	// Instructors may join a canceled event: their arrival is what revives
	// a coach-canceled session (the orchestrator flips the flag back).
	if event.Canceled && !actor.Instructor {
		return deny(ReasonCanceled), nil
	}
	now := ev.Now()
	if !now.Before(event.End) {
		return deny(ReasonEnded), nil
	}
	if !now.Before(event.Start) {
		return deny(ReasonStarted), nil
	}

	for _, tag := range event.Tags {
		switch tag.JoinPolicy {
		case JoinWhitelist:
			ok, err := ev.Caps.IsWhitelisted(ctx, tag.ID, actor.ID)
			if err != nil {
				return Decision{}, err
			}
			if !ok {
				return deny(reasonNotOnWhitelist(tag)), nil
			}
		case JoinRoleScoped:
			ok, err := ev.Caps.HasRoleForTag(ctx, tag.ID, actor.ID)
			if err != nil {
				return Decision{}, err
			}
			if !ok {
				return deny(reasonNoRoleForTag(tag)), nil
			}
		}
	}

	if event.Limited() {
		active, err := ev.Store.ActiveCount(ctx, event.ID)
		if err != nil {
			return Decision{}, err
		}
		if active >= event.MaxAttendees {
			return deny(ReasonFull), nil
		}
	}

	if !actor.Instructor {
		coaches, err := ev.Store.InstructorActiveCount(ctx, event.ID)
		if err != nil {
			return Decision{}, err
		}
		if coaches == 0 {
			return deny(ReasonNoCoach), nil
		}
	}

	if !actor.LegalInfoComplete {
		return deny(ReasonLegalIncomplete), nil
	}

	balance, err := ev.Store.Balance(ctx, actor.ID)
	if err != nil {
		return Decision{}, err
	}
	if balance.LessThan(ev.Rules.MinimumBalance) {
		return deny(ReasonOutstandingDebts), nil
	}

	if !actor.Member && actor.FreeSessions <= 0 {
		return deny(ReasonNoFreeSessions), nil
	}

	attending, err := ev.Store.ActiveAttendance(ctx, event.ID, actor.ID)
	if err != nil {
		return Decision{}, err
	}
	if attending != nil {
		return deny(ReasonAlreadyAttending), nil
	}

	return allow(), nil
}

// CanPromote is the reduced eligibility check for waitlist promotion:
// legal standing and session credits only. Debt standing is deliberately
// not re-checked.
func (ev *Evaluator) CanPromote(ctx context.Context, event *Event, actor *User) Decision {
	if !actor.LegalInfoComplete {
		return deny(ReasonLegalIncomplete)
	}
	if !actor.Member && actor.FreeSessions <= 0 {
		return deny(ReasonNoFreeSessions)
	}
	return allow()
}
