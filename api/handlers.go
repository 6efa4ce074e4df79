/*
handlers.go - HTTP API handlers for the participation engine

PURPOSE:
  Exposes the participation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Events:
    GET    /api/events                     List events visible to the actor
    POST   /api/events                     Create event
    GET    /api/events/{id}                Event details (404 when hidden)
    GET    /api/events/{id}/can-view       Visibility check
    GET    /api/events/{id}/can-join       Join eligibility dry-run
    POST   /api/events/{id}/attend         Take a seat
    POST   /api/events/{id}/leave          Give up a seat
    GET    /api/events/{id}/roster         Active attendees
    GET    /api/events/{id}/history        Full episode history (instructors)
    GET    /api/events/{id}/waitlist       Queued users (instructors)
    POST   /api/events/{id}/waitlist       Join the waitlist
    DELETE /api/events/{id}/waitlist       Leave the waitlist
    GET    /api/events/{id}/waitlist/position  Actor's own rank

  Users:
    GET    /api/users                      List accounts
    POST   /api/users                      Create account
    GET    /api/users/{id}                 Account details
    GET    /api/users/{id}/balance         Summed ledger balance
    GET    /api/users/{id}/transactions    Ledger history

  Tags:
    GET    /api/tags/{id}                  Tag details
    POST   /api/tags                       Create tag
    POST   /api/tags/{id}/whitelist        Add user to whitelist
    POST   /api/tags/{id}/roles            Grant tag role

  Admin:
    POST   /api/admin/transactions         Append ledger entry
    PUT    /api/admin/transactions/{id}    Correct ledger entry
    DELETE /api/admin/transactions/{id}    Remove ledger entry
    POST   /api/admin/events/{id}/cancel   Set cancellation flag
    POST   /api/admin/events/{id}/promote  Retry a waitlist promotion

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

ACTOR IDENTITY:
  The acting user is named by the X-Actor-ID header. There is no real
  authentication; the header is trusted, which is fine for a club tool
  behind the clubhouse network. An absent header means an anonymous
  visitor: reads fall back to the anonymous rules, mutations fail 401.

ERROR HANDLING:
  Engine errors are categorized (engine/errors.go) and mapped here:
  - 400: Validation errors, invalid input
  - 401: No actor on a mutation
  - 403: An eligibility rule said no (reason in the body)
  - 404: Unknown or hidden entity
  - 409: Duplicate join/leave/queue transition
  - 503: Storage busy, Retry-After: 1
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario definitions
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/participation-engine/engine"
	"github.com/warp/participation-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence surface the handlers use directly: entity CRUD
// and the dev-only reset. Workflow mutations always go through the Engine.
type Store interface {
	engine.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Engine  *engine.Engine
	Factory *factory.ScenarioFactory
	Log     zerolog.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store and engine.
func NewHandler(store Store, eng *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Store:   store,
		Engine:  eng,
		Factory: factory.NewScenarioFactory(),
		Log:     log,
	}
}

// actor extracts the acting user from the request. Empty means anonymous.
func actor(r *http.Request) engine.UserID {
	return engine.UserID(r.Header.Get("X-Actor-ID"))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns the events the actor may see.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := actor(r)

	events, err := h.Store.ListEvents(ctx)
	if err != nil {
		h.writeEngineError(w, err, "Failed to list events")
		return
	}

	dtos := []EventDTO{}
	for _, e := range events {
		visible, err := h.Engine.CanView(ctx, e.ID, actorID)
		if err != nil {
			h.writeEngineError(w, err, "Failed to list events")
			return
		}
		if visible {
			dtos = append(dtos, toEventDTO(e))
		}
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetEvent returns a single event. Hidden events 404 so their existence
// is not leaked.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := engine.EventID(chi.URLParam(r, "id"))

	visible, err := h.Engine.CanView(ctx, eventID, actor(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to get event")
		return
	}
	if !visible {
		writeError(w, http.StatusNotFound, "Event not found", nil)
		return
	}

	event, err := h.Store.GetEvent(ctx, eventID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get event")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "Event not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(*event))
}

// CreateEvent creates or replaces an event.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start (use RFC 3339)", err)
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end (use RFC 3339)", err)
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "Event must end after it starts", nil)
		return
	}

	cost := decimal.Zero
	if req.UpfrontCost != "" {
		if cost, err = parseAmount(req.UpfrontCost); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upfront_cost", err)
			return
		}
	}

	var cutoff *time.Time
	if req.RefundCutoff != nil {
		t, err := time.Parse(time.RFC3339, *req.RefundCutoff)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid refund_cutoff (use RFC 3339)", err)
			return
		}
		cutoff = &t
	}

	signup := true
	if req.SignupRequired != nil {
		signup = *req.SignupRequired
	}

	ctx := r.Context()

	// Tag links are validated before the event is written so a typo does
	// not leave a half-created event behind.
	for _, tid := range req.Tags {
		tag, err := h.Store.GetTag(ctx, engine.TagID(tid))
		if err != nil {
			h.writeEngineError(w, err, "Failed to create event")
			return
		}
		if tag == nil {
			writeError(w, http.StatusBadRequest, "Unknown tag: "+tid, nil)
			return
		}
	}

	event := engine.Event{
		ID:              engine.EventID(req.ID),
		Name:            req.Name,
		Start:           start,
		End:             end,
		Difficulty:      req.Difficulty,
		MaxAttendees:    req.MaxAttendees,
		UpfrontCost:     cost,
		RefundCutoff:    cutoff,
		Canceled:        req.Canceled,
		SignupRequired:  signup,
		WaitlistEnabled: req.WaitlistEnabled,
	}
	if err := h.Store.SaveEvent(ctx, event); err != nil {
		h.writeEngineError(w, err, "Failed to create event")
		return
	}
	for _, tid := range req.Tags {
		if err := h.Store.LinkTag(ctx, event.ID, engine.TagID(tid)); err != nil {
			h.writeEngineError(w, err, "Failed to link tag")
			return
		}
	}

	saved, err := h.Store.GetEvent(ctx, event.ID)
	if err != nil || saved == nil {
		h.writeEngineError(w, err, "Failed to create event")
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(*saved))
}

// CanView answers the visibility question without hiding the event.
func (h *Handler) CanView(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	visible, err := h.Engine.CanView(r.Context(), eventID, actor(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to check visibility")
		return
	}
	writeJSON(w, http.StatusOK, ViewCheckDTO{Visible: visible})
}

// CanJoin runs the join rule chain without mutating anything.
func (h *Handler) CanJoin(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	decision, err := h.Engine.CanJoin(r.Context(), eventID, actor(r))
	if err != nil {
		h.writeEngineError(w, err, "Failed to check eligibility")
		return
	}
	writeJSON(w, http.StatusOK, JoinCheckDTO{Allowed: decision.Allowed, Reason: decision.Reason})
}

// =============================================================================
// PARTICIPATION HANDLERS
// =============================================================================

// Attend takes a seat for the actor.
func (h *Handler) Attend(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	if err := h.Engine.Attend(r.Context(), eventID, actor(r)); err != nil {
		h.writeEngineError(w, err, "Failed to attend")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attending"})
}

// Leave gives up the actor's seat.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	if err := h.Engine.Leave(r.Context(), eventID, actor(r)); err != nil {
		h.writeEngineError(w, err, "Failed to leave")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Roster returns the active attendees.
func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	entries, err := h.Engine.Roster(r.Context(), eventID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get roster")
		return
	}
	writeJSON(w, http.StatusOK, toRosterDTOs(entries))
}

// History returns every user's latest episode, active and departed.
// Instructors only.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := engine.EventID(chi.URLParam(r, "id"))

	if !h.requireInstructor(w, r) {
		return
	}

	entries, err := h.Engine.History(ctx, eventID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get history")
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// =============================================================================
// WAITLIST HANDLERS
// =============================================================================

// JoinWaitlist queues the actor for a full event.
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	if err := h.Engine.JoinWaitlist(r.Context(), eventID, actor(r)); err != nil {
		h.writeEngineError(w, err, "Failed to join waitlist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// LeaveWaitlist removes the actor from the queue.
func (h *Handler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	if err := h.Engine.LeaveWaitlist(r.Context(), eventID, actor(r)); err != nil {
		h.writeEngineError(w, err, "Failed to leave waitlist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Waitlist returns the queue with identities and ranks. Instructors only.
func (h *Handler) Waitlist(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	if !h.requireInstructor(w, r) {
		return
	}

	details, err := h.Engine.WaitlistDetailed(r.Context(), eventID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get waitlist")
		return
	}
	writeJSON(w, http.StatusOK, toWaitlistDTOs(details))
}

// WaitlistPosition returns the actor's own 1-based rank.
func (h *Handler) WaitlistPosition(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))
	actorID := actor(r)
	if actorID == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	pos, err := h.Engine.WaitlistPosition(r.Context(), eventID, actorID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get waitlist position")
		return
	}
	writeJSON(w, http.StatusOK, PositionDTO{Position: pos})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all accounts.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeEngineError(w, err, "Failed to list users")
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns a single account.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := engine.UserID(chi.URLParam(r, "id"))

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// CreateUser creates or replaces an account.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user := engine.User{
		ID:                engine.UserID(req.ID),
		Name:              req.Name,
		Email:             req.Email,
		Member:            req.Member,
		FreeSessions:      req.FreeSessions,
		Instructor:        req.Instructor,
		LegalInfoComplete: req.LegalInfoComplete,
		Difficulty:        req.Difficulty,
	}
	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		h.writeEngineError(w, err, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetBalance returns the summed ledger balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := engine.UserID(chi.URLParam(r, "id"))
	ctx := r.Context()

	user, err := h.Store.GetUser(ctx, id)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get balance")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}

	balance, err := h.Engine.Balance(ctx, id)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance.String()})
}

// GetTransactions returns the account's ledger history, oldest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := engine.UserID(chi.URLParam(r, "id"))

	txs, err := h.Engine.TransactionsFor(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get transactions")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// TAG HANDLERS
// =============================================================================

// GetTag returns a single tag.
func (h *Handler) GetTag(w http.ResponseWriter, r *http.Request) {
	id := engine.TagID(chi.URLParam(r, "id"))

	tag, err := h.Store.GetTag(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err, "Failed to get tag")
		return
	}
	if tag == nil {
		writeError(w, http.StatusNotFound, "Tag not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTagDTO(*tag))
}

// CreateTag creates or replaces a tag.
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req CreateTagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	viewPolicy := engine.ViewOpen
	if req.ViewPolicy != "" {
		viewPolicy = engine.ViewPolicy(req.ViewPolicy)
	}
	joinPolicy := engine.JoinOpen
	if req.JoinPolicy != "" {
		joinPolicy = engine.JoinPolicy(req.JoinPolicy)
	}

	tag := engine.Tag{
		ID:            engine.TagID(req.ID),
		Name:          req.Name,
		MinDifficulty: req.MinDifficulty,
		ViewPolicy:    viewPolicy,
		JoinPolicy:    joinPolicy,
	}
	if err := h.Store.SaveTag(r.Context(), tag); err != nil {
		h.writeEngineError(w, err, "Failed to create tag")
		return
	}
	writeJSON(w, http.StatusCreated, toTagDTO(tag))
}

// AddToWhitelist adds a user to the tag's view/join whitelist.
func (h *Handler) AddToWhitelist(w http.ResponseWriter, r *http.Request) {
	tagID := engine.TagID(chi.URLParam(r, "id"))

	var req GrantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.AddToWhitelist(r.Context(), tagID, engine.UserID(req.UserID)); err != nil {
		h.writeEngineError(w, err, "Failed to update whitelist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "whitelisted"})
}

// GrantTagRole grants a user the role covering the tag.
func (h *Handler) GrantTagRole(w http.ResponseWriter, r *http.Request) {
	tagID := engine.TagID(chi.URLParam(r, "id"))

	var req GrantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.GrantTagRole(r.Context(), tagID, engine.UserID(req.UserID)); err != nil {
		h.writeEngineError(w, err, "Failed to grant role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateTransaction appends a ledger entry: deposits, manual debts,
// corrections.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var eventID *engine.EventID
	if req.EventID != nil {
		id := engine.EventID(*req.EventID)
		eventID = &id
	}

	txID, err := h.Engine.AddTransaction(r.Context(), engine.UserID(req.UserID), amount, req.Description, eventID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to create transaction")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(txID)})
}

// UpdateTransaction corrects a ledger entry's amount and description.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := engine.TransactionID(chi.URLParam(r, "id"))

	var req UpdateTransactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	if err := h.Engine.EditTransaction(r.Context(), id, amount, req.Description); err != nil {
		h.writeEngineError(w, err, "Failed to update transaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteTransaction removes a ledger entry. Deleting a charge is how a
// manual refund is issued.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := engine.TransactionID(chi.URLParam(r, "id"))

	if err := h.Engine.DeleteTransaction(r.Context(), id); err != nil {
		h.writeEngineError(w, err, "Failed to delete transaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CancelEvent sets or clears the event's cancellation flag.
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	var req CancelEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.SetEventCancellation(r.Context(), eventID, req.Canceled); err != nil {
		h.writeEngineError(w, err, "Failed to update event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// PromoteWaitlisted retries one waitlist promotion for the event. Used
// after a skipped head becomes eligible again (credits topped up, legal
// info completed).
func (h *Handler) PromoteWaitlisted(w http.ResponseWriter, r *http.Request) {
	eventID := engine.EventID(chi.URLParam(r, "id"))

	promoted, err := h.Engine.PromoteNext(r.Context(), eventID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to promote")
		return
	}
	writeJSON(w, http.StatusOK, PromotionResultDTO{Promoted: promoted})
}

// ResetDatabase clears all data. Dev and demo environments only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeEngineError(w, err, "Failed to reset database")
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode parses and validates a JSON request body.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// writeEngineError maps the engine's error categories onto HTTP status
// codes. Denials keep their rule reason; busy responses carry Retry-After
// so clients back off before retrying.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, engine.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
	case engine.IsForbidden(err):
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error:  message,
			Reason: engine.ForbiddenReason(err),
		})
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, message, err)
	case engine.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Storage busy, retry shortly", err)
	default:
		h.Log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// requireInstructor gates the privileged views. Writes the error response
// and returns false when the actor is missing or not an instructor.
func (h *Handler) requireInstructor(w http.ResponseWriter, r *http.Request) bool {
	actorID := actor(r)
	if actorID == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return false
	}
	user, err := h.Store.GetUser(r.Context(), actorID)
	if err != nil {
		h.writeEngineError(w, err, "Failed to check permissions")
		return false
	}
	if user == nil || !user.Instructor {
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error:  "Instructors only",
			Reason: "instructors only",
		})
		return false
	}
	return true
}
