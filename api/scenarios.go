/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	club data for testing and demos. Each scenario creates users, tags,
	events and ledger entries that demonstrate specific features.

AVAILABLE SCENARIOS:

	open-practice:     Free open-mat session, instructor attending
	full-class:        Priced class at capacity with a FIFO waitlist
	competition-squad: Whitelisted and role-scoped restricted events
	debt-and-credits:  Blocked joiners: debts, spent session credits
	coach-cancel:      Canceled session awaiting an instructor to revive it

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse the scenario's JSON definition (factory/scenario.go)
 3. Load users, tags, events, deposits and seeded seats into the store

	Event times in the definitions are relative ("starts_in": "24h"), so a
	scenario loaded any day is always one day away from its events.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-class"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add a JSON definition const
 3. Register the definition in 'scenarioDefinitions'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: writeJSON/writeError helpers
  - factory/scenario.go: The JSON schema and loader
*/
package api

import (
	"context"
	"net/http"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "open-practice",
		Name:        "Open Practice",
		Description: "Free open-mat session with an instructor and walk-in guests",
	},
	{
		ID:          "full-class",
		Name:        "Full Class",
		Description: "Priced class at capacity with two users queued on the waitlist",
	},
	{
		ID:          "competition-squad",
		Name:        "Competition Squad",
		Description: "Whitelist-only squad training plus a role-scoped coaches clinic",
	},
	{
		ID:          "debt-and-credits",
		Name:        "Debts & Credits",
		Description: "Joiners blocked by account debts and spent session credits",
	},
	{
		ID:          "coach-cancel",
		Name:        "Coach Cancellation",
		Description: "Session canceled by its last coach leaving, members still seated",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	definition, ok := scenarioDefinitions[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := h.loadScenarioJSON(ctx, definition); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) loadScenarioJSON(ctx context.Context, jsonStr string) error {
	sc, err := h.Factory.Parse(jsonStr)
	if err != nil {
		return err
	}
	return h.Factory.Load(ctx, h.Store, sc)
}

// =============================================================================
// SCENARIO JSON
// =============================================================================

var scenarioDefinitions = map[string]string{
	"open-practice":     openPracticeJSON,
	"full-class":        fullClassJSON,
	"competition-squad": competitionSquadJSON,
	"debt-and-credits":  debtAndCreditsJSON,
	"coach-cancel":      coachCancelJSON,
}

const openPracticeJSON = `{
  "id": "open-practice",
  "name": "Open Practice",
  "users": [
    {"id": "u-dana", "name": "Dana Reyes", "email": "dana@club.example", "member": true, "instructor": true, "difficulty": 5},
    {"id": "u-alice", "name": "Alice Fontaine", "email": "alice@club.example", "member": true, "difficulty": 2},
    {"id": "u-ben", "name": "Ben Okafor", "email": "ben@club.example", "member": true, "difficulty": 1},
    {"id": "u-carmen", "name": "Carmen Liu", "email": "carmen@club.example", "free_sessions": 3, "difficulty": 1}
  ],
  "events": [
    {"id": "e-open-mat", "name": "Tuesday Open Mat", "starts_in": "24h", "duration": "2h",
     "attendees": ["u-dana", "u-alice"]}
  ]
}`

const fullClassJSON = `{
  "id": "full-class",
  "name": "Full Class",
  "users": [
    {"id": "u-ernesto", "name": "Ernesto Vidal", "email": "ernesto@club.example", "member": true, "instructor": true, "difficulty": 5},
    {"id": "u-fay", "name": "Fay Morgan", "email": "fay@club.example", "member": true, "difficulty": 3},
    {"id": "u-gil", "name": "Gil Haddad", "email": "gil@club.example", "member": true, "difficulty": 2},
    {"id": "u-hana", "name": "Hana Sato", "email": "hana@club.example", "member": true, "difficulty": 2},
    {"id": "u-ivo", "name": "Ivo Petrov", "email": "ivo@club.example", "free_sessions": 2, "difficulty": 1}
  ],
  "events": [
    {"id": "e-lab", "name": "Technique Lab", "starts_in": "24h", "duration": "90m",
     "max_attendees": 3, "upfront_cost": "15", "refund_cutoff_in": "12h",
     "waitlist_enabled": true,
     "attendees": ["u-ernesto", "u-fay", "u-gil"],
     "waitlist": ["u-hana", "u-ivo"]}
  ],
  "deposits": [
    {"user_id": "u-ernesto", "amount": "100", "description": "Coach stipend"},
    {"user_id": "u-fay", "amount": "50", "description": "Top-up"},
    {"user_id": "u-gil", "amount": "50", "description": "Top-up"},
    {"user_id": "u-hana", "amount": "40", "description": "Top-up"},
    {"user_id": "u-ivo", "amount": "30", "description": "Top-up"}
  ]
}`

const competitionSquadJSON = `{
  "id": "competition-squad",
  "name": "Competition Squad",
  "users": [
    {"id": "u-marta", "name": "Marta Kowalska", "email": "marta@club.example", "member": true, "instructor": true, "difficulty": 5},
    {"id": "u-leo", "name": "Leo Brandt", "email": "leo@club.example", "member": true, "difficulty": 4},
    {"id": "u-suki", "name": "Suki Tanaka", "email": "suki@club.example", "member": true, "difficulty": 3},
    {"id": "u-omar", "name": "Omar Nasser", "email": "omar@club.example", "member": true, "difficulty": 2}
  ],
  "tags": [
    {"id": "t-squad", "name": "Competition Squad", "min_difficulty": 3,
     "view_policy": "whitelist", "join_policy": "whitelist",
     "whitelist": ["u-marta", "u-leo", "u-suki"]},
    {"id": "t-coaching", "name": "Coaching Staff", "join_policy": "role_scoped",
     "roles": ["u-marta"]}
  ],
  "events": [
    {"id": "e-sparring", "name": "Squad Sparring", "starts_in": "24h", "duration": "2h",
     "difficulty": 3, "tags": ["t-squad"], "attendees": ["u-marta", "u-leo"]},
    {"id": "e-clinic", "name": "Coaches Clinic", "starts_in": "48h", "duration": "3h",
     "tags": ["t-coaching"], "attendees": ["u-marta"]}
  ]
}`

const debtAndCreditsJSON = `{
  "id": "debt-and-credits",
  "name": "Debts & Credits",
  "users": [
    {"id": "u-quinn", "name": "Quinn Adeyemi", "email": "quinn@club.example", "member": true, "instructor": true, "difficulty": 5},
    {"id": "u-rita", "name": "Rita Moreau", "email": "rita@club.example", "member": true, "difficulty": 2},
    {"id": "u-nora", "name": "Nora Lindqvist", "email": "nora@club.example", "member": true, "difficulty": 3},
    {"id": "u-pavel", "name": "Pavel Horak", "email": "pavel@club.example", "free_sessions": 0, "difficulty": 1}
  ],
  "events": [
    {"id": "e-seminar", "name": "Saturday Seminar", "starts_in": "72h", "duration": "4h",
     "max_attendees": 2, "upfront_cost": "25", "waitlist_enabled": true,
     "attendees": ["u-quinn", "u-rita"],
     "waitlist": ["u-pavel"]}
  ],
  "deposits": [
    {"user_id": "u-quinn", "amount": "100", "description": "Coach stipend"},
    {"user_id": "u-rita", "amount": "60", "description": "Top-up"},
    {"user_id": "u-nora", "amount": "30", "description": "Top-up"},
    {"user_id": "u-nora", "amount": "-50", "description": "Unpaid gear order"}
  ]
}`

const coachCancelJSON = `{
  "id": "coach-cancel",
  "name": "Coach Cancellation",
  "users": [
    {"id": "u-viktor", "name": "Viktor Stein", "email": "viktor@club.example", "member": true, "instructor": true, "difficulty": 5},
    {"id": "u-mila", "name": "Mila Novak", "email": "mila@club.example", "member": true, "difficulty": 2},
    {"id": "u-noah", "name": "Noah Berg", "email": "noah@club.example", "member": true, "difficulty": 2}
  ],
  "events": [
    {"id": "e-randori", "name": "Friday Randori", "starts_in": "24h", "duration": "90m",
     "canceled": true, "attendees": ["u-mila", "u-noah"]}
  ]
}`
