/*
scenarios_test.go - Tests for the built-in demo scenarios

Each scenario is loaded through the API and its world spot-checked:
seeded seats, queues, tag grants and ledger balances. The scenarios
double as integration fixtures for the handler tests, so these tests
also pin the data the other tests rely on.
*/
package api

import (
	"net/http"
	"testing"
)

func TestListScenarios(t *testing.T) {
	router := NewRouter(setupTestHandler(t))

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var list []ScenarioDTO
	decodeBody(t, rec, &list)
	if len(list) != 5 {
		t.Fatalf("Expected 5 scenarios, got %d", len(list))
	}

	wantIDs := []string{"open-practice", "full-class", "competition-squad", "debt-and-credits", "coach-cancel"}
	for i, want := range wantIDs {
		if list[i].ID != want {
			t.Errorf("Scenario %d: expected %s, got %s", i, want, list[i].ID)
		}
	}
}

func TestLoadScenario_UnknownID(t *testing.T) {
	router := NewRouter(setupTestHandler(t))

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", "", map[string]string{"scenario_id": "casino-night"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "Unknown scenario" {
		t.Errorf("Expected 'Unknown scenario', got %q", resp.Error)
	}
}

func TestLoadScenario_MissingBody(t *testing.T) {
	router := NewRouter(setupTestHandler(t))

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/load", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestScenario_OpenPractice(t *testing.T) {
	// GIVEN: The open practice scenario
	// WHEN: Loading it
	// THEN: Four accounts, two seeded on the mat, nobody charged

	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "open-practice")

	rec := doRequest(t, router, http.MethodGet, "/api/users", "", nil)
	var users []UserDTO
	decodeBody(t, rec, &users)
	if len(users) != 4 {
		t.Fatalf("Expected 4 users, got %d", len(users))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/events/e-open-mat/roster", "", nil)
	var roster []RosterEntryDTO
	decodeBody(t, rec, &roster)
	if len(roster) != 2 {
		t.Fatalf("Expected 2 seeded attendees, got %d", len(roster))
	}
	if roster[0].Name != "Alice Fontaine" || roster[1].Name != "Dana Reyes" {
		t.Errorf("Expected Alice then Dana, got %s then %s", roster[0].Name, roster[1].Name)
	}
	if !roster[1].Instructor {
		t.Error("Dana should be flagged as an instructor")
	}

	// A free event seeds no charges.
	rec = doRequest(t, router, http.MethodGet, "/api/users/u-alice/balance", "", nil)
	var balance BalanceDTO
	decodeBody(t, rec, &balance)
	if balance.Balance != "0" {
		t.Errorf("Expected a zero balance, got %s", balance.Balance)
	}
}

func TestScenario_FullClass(t *testing.T) {
	// GIVEN: The full class scenario
	// WHEN: Loading it
	// THEN: Three seats taken and charged, two users queued, balances net
	//       the deposits against the seeded charges

	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "full-class")

	rec := doRequest(t, router, http.MethodGet, "/api/events/e-lab/roster", "", nil)
	var roster []RosterEntryDTO
	decodeBody(t, rec, &roster)
	if len(roster) != 3 {
		t.Fatalf("Expected 3 attendees, got %d", len(roster))
	}

	wantBalances := map[string]string{
		"u-ernesto": "85", // 100 deposit - 15 charge
		"u-fay":     "35",
		"u-gil":     "35",
		"u-hana":    "40", // queued, not charged
		"u-ivo":     "30",
	}
	for userID, want := range wantBalances {
		rec = doRequest(t, router, http.MethodGet, "/api/users/"+userID+"/balance", "", nil)
		var balance BalanceDTO
		decodeBody(t, rec, &balance)
		if balance.Balance != want {
			t.Errorf("%s: expected balance %s, got %s", userID, want, balance.Balance)
		}
	}

	rec = doRequest(t, router, http.MethodGet, "/api/events/e-lab/waitlist", "u-ernesto", nil)
	var entries []WaitlistEntryDTO
	decodeBody(t, rec, &entries)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 queued users, got %d", len(entries))
	}
	if entries[0].UserID != "u-hana" {
		t.Errorf("Expected Hana at the head, got %s", entries[0].UserID)
	}
}

func TestScenario_CompetitionSquad(t *testing.T) {
	// GIVEN: The competition squad scenario
	// WHEN: Different members list the events
	// THEN: The squad session is only visible to the whitelisted

	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "competition-squad")

	rec := doRequest(t, router, http.MethodGet, "/api/events", "u-marta", nil)
	var events []EventDTO
	decodeBody(t, rec, &events)
	if len(events) != 2 {
		t.Errorf("Expected Marta to see 2 events, got %d", len(events))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/events", "u-omar", nil)
	decodeBody(t, rec, &events)
	if len(events) != 1 {
		t.Errorf("Expected Omar to see 1 event, got %d", len(events))
	}

	// Suki is whitelisted, skilled enough and not yet seated.
	rec = doRequest(t, router, http.MethodGet, "/api/events/e-sparring/can-join", "u-suki", nil)
	var check JoinCheckDTO
	decodeBody(t, rec, &check)
	if !check.Allowed {
		t.Errorf("Expected Suki to be eligible, got denial: %q", check.Reason)
	}
}

func TestScenario_DebtAndCredits(t *testing.T) {
	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "debt-and-credits")

	// Nora's gear order put her under water.
	rec := doRequest(t, router, http.MethodGet, "/api/users/u-nora/balance", "", nil)
	var balance BalanceDTO
	decodeBody(t, rec, &balance)
	if balance.Balance != "-20" {
		t.Errorf("Expected Nora at -20, got %s", balance.Balance)
	}

	// Pavel waits at the head of the seminar queue.
	rec = doRequest(t, router, http.MethodGet, "/api/events/e-seminar/waitlist/position", "u-pavel", nil)
	var pos PositionDTO
	decodeBody(t, rec, &pos)
	if pos.Position != 1 {
		t.Errorf("Expected Pavel at position 1, got %d", pos.Position)
	}
}

func TestScenario_CoachCancel_InstructorRevives(t *testing.T) {
	// GIVEN: The canceled randori with two members still seated
	// WHEN: An instructor joins it
	// THEN: The session is revived and everyone is on the roster

	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "coach-cancel")

	rec := doRequest(t, router, http.MethodGet, "/api/events/e-randori", "u-mila", nil)
	var event EventDTO
	decodeBody(t, rec, &event)
	if !event.Canceled {
		t.Fatal("Expected the randori to start canceled")
	}

	// The instructor is the one account allowed into a canceled session.
	rec = doRequest(t, router, http.MethodGet, "/api/events/e-randori/can-join", "u-viktor", nil)
	var check JoinCheckDTO
	decodeBody(t, rec, &check)
	if !check.Allowed {
		t.Errorf("Expected the instructor to be allowed in, got %q", check.Reason)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/events/e-randori/attend", "u-viktor", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/events/e-randori", "u-mila", nil)
	decodeBody(t, rec, &event)
	if event.Canceled {
		t.Error("Expected the instructor's arrival to revive the session")
	}

	rec = doRequest(t, router, http.MethodGet, "/api/events/e-randori/roster", "", nil)
	var roster []RosterEntryDTO
	decodeBody(t, rec, &roster)
	if len(roster) != 3 {
		t.Errorf("Expected 3 attendees after the revival, got %d", len(roster))
	}
}

func TestLoadScenario_ReplacesPreviousWorld(t *testing.T) {
	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "full-class")
	loadTestScenario(t, router, "open-practice")

	rec := doRequest(t, router, http.MethodGet, "/api/users", "", nil)
	var users []UserDTO
	decodeBody(t, rec, &users)
	if len(users) != 4 {
		t.Fatalf("Expected the 4 open-practice users, got %d", len(users))
	}
	for _, u := range users {
		if u.ID == "u-ernesto" {
			t.Error("Full-class users should be gone after the reload")
		}
	}

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", "", nil)
	var current *ScenarioDTO
	decodeBody(t, rec, &current)
	if current == nil || current.ID != "open-practice" {
		t.Errorf("Expected open-practice as the current scenario, got %+v", current)
	}
}

func TestGetCurrentScenario_NoneLoaded(t *testing.T) {
	router := NewRouter(setupTestHandler(t))

	rec := doRequest(t, router, http.MethodGet, "/api/scenarios/current", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var current *ScenarioDTO
	decodeBody(t, rec, &current)
	if current != nil {
		t.Errorf("Expected null, got %+v", current)
	}
}

func TestResetDatabase(t *testing.T) {
	router := NewRouter(setupTestHandler(t))
	loadTestScenario(t, router, "open-practice")

	rec := doRequest(t, router, http.MethodPost, "/api/scenarios/reset", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/users", "", nil)
	var users []UserDTO
	decodeBody(t, rec, &users)
	if len(users) != 0 {
		t.Errorf("Expected no users after the reset, got %d", len(users))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/scenarios/current", "", nil)
	var current *ScenarioDTO
	decodeBody(t, rec, &current)
	if current != nil {
		t.Errorf("Expected no current scenario, got %+v", current)
	}
}

func TestAllScenariosLoadWithoutError(t *testing.T) {
	router := NewRouter(setupTestHandler(t))

	for id := range scenarioDefinitions {
		loadTestScenario(t, router, id)
	}
}
