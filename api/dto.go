/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Users:
    UserDTO, CreateUserRequest

  Events:
    EventDTO, CreateEventRequest, CancelEventRequest

  Participation:
    RosterEntryDTO, HistoryEntryDTO, WaitlistEntryDTO, JoinCheckDTO

  Ledger:
    TransactionDTO, BalanceDTO, CreateTransactionRequest,
    UpdateTransactionRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator struct tags and are checked with
  go-playground/validator before any domain call. DTOs stay pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/participation-engine/engine"
)

var validate = validator.New()

// =============================================================================
// USER TYPES
// =============================================================================

// UserDTO represents an account in API responses.
type UserDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	Member            bool   `json:"member"`
	FreeSessions      int    `json:"free_sessions"`
	Instructor        bool   `json:"instructor"`
	LegalInfoComplete bool   `json:"legal_info_complete"`
	Difficulty        int    `json:"difficulty"`
}

// CreateUserRequest is the request to create or replace an account.
type CreateUserRequest struct {
	ID                string `json:"id" validate:"required"`
	Name              string `json:"name" validate:"required"`
	Email             string `json:"email" validate:"omitempty,email"`
	Member            bool   `json:"member"`
	FreeSessions      int    `json:"free_sessions" validate:"gte=0"`
	Instructor        bool   `json:"instructor"`
	LegalInfoComplete bool   `json:"legal_info_complete"`
	Difficulty        int    `json:"difficulty" validate:"gte=0"`
}

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventDTO represents an event in API responses.
type EventDTO struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Start           string  `json:"start"`
	End             string  `json:"end"`
	Difficulty      int     `json:"difficulty"`
	MaxAttendees    int     `json:"max_attendees"`
	UpfrontCost     string  `json:"upfront_cost"`
	RefundCutoff    *string `json:"refund_cutoff,omitempty"`
	Canceled        bool    `json:"canceled"`
	SignupRequired  bool    `json:"signup_required"`
	WaitlistEnabled bool    `json:"waitlist_enabled"`
	Tags            []string `json:"tags,omitempty"`
}

// CreateEventRequest is the request to create or replace an event.
// Times are RFC 3339; upfront_cost is a decimal string.
type CreateEventRequest struct {
	ID              string   `json:"id" validate:"required"`
	Name            string   `json:"name" validate:"required"`
	Start           string   `json:"start" validate:"required"`
	End             string   `json:"end" validate:"required"`
	Difficulty      int      `json:"difficulty" validate:"gte=0"`
	MaxAttendees    int      `json:"max_attendees" validate:"gte=0"`
	UpfrontCost     string   `json:"upfront_cost"`
	RefundCutoff    *string  `json:"refund_cutoff,omitempty"`
	Canceled        bool     `json:"canceled"`
	SignupRequired  *bool    `json:"signup_required,omitempty"`
	WaitlistEnabled bool     `json:"waitlist_enabled"`
	Tags            []string `json:"tags,omitempty"`
}

// CancelEventRequest sets the cancellation flag.
type CancelEventRequest struct {
	Canceled bool `json:"canceled"`
}

// =============================================================================
// TAG TYPES
// =============================================================================

// TagDTO represents a tag in API responses.
type TagDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MinDifficulty *int   `json:"min_difficulty,omitempty"`
	ViewPolicy    string `json:"view_policy"`
	JoinPolicy    string `json:"join_policy"`
}

// CreateTagRequest is the request to create or replace a tag.
type CreateTagRequest struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	MinDifficulty *int   `json:"min_difficulty,omitempty"`
	ViewPolicy    string `json:"view_policy" validate:"omitempty,oneof=open whitelist"`
	JoinPolicy    string `json:"join_policy" validate:"omitempty,oneof=open whitelist role_scoped"`
}

// GrantRequest adds a user to a tag's whitelist or role grants.
type GrantRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// =============================================================================
// PARTICIPATION TYPES
// =============================================================================

// JoinCheckDTO is the dry-run eligibility answer.
type JoinCheckDTO struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ViewCheckDTO is the visibility answer.
type ViewCheckDTO struct {
	Visible bool `json:"visible"`
}

// RosterEntryDTO is one active attendee in the public roster.
type RosterEntryDTO struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Instructor bool   `json:"instructor"`
	JoinedAt   string `json:"joined_at"`
}

// HistoryEntryDTO is one user's latest episode in the privileged history.
type HistoryEntryDTO struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Instructor  bool    `json:"instructor"`
	IsAttending bool    `json:"is_attending"`
	JoinedAt    string  `json:"joined_at"`
	LeftAt      *string `json:"left_at,omitempty"`
	Paid        bool    `json:"paid"`
}

// WaitlistEntryDTO is one queued user with their 1-based rank.
type WaitlistEntryDTO struct {
	Position int    `json:"position"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	JoinedAt string `json:"joined_at"`
}

// PositionDTO is an actor's own waitlist rank.
type PositionDTO struct {
	Position int `json:"position"`
}

// PromotionResultDTO reports a manual promotion attempt.
type PromotionResultDTO struct {
	Promoted bool `json:"promoted"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// TransactionDTO represents a ledger entry.
type TransactionDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Amount      string  `json:"amount"`
	Description string  `json:"description"`
	EventID     *string `json:"event_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// BalanceDTO is the summed account balance.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

// CreateTransactionRequest is the admin request to append a ledger entry.
// Amount is a decimal string; negative amounts record debts.
type CreateTransactionRequest struct {
	UserID      string  `json:"user_id" validate:"required"`
	Amount      string  `json:"amount" validate:"required"`
	Description string  `json:"description" validate:"required"`
	EventID     *string `json:"event_id,omitempty"`
}

// UpdateTransactionRequest is the admin request to correct a ledger entry.
type UpdateTransactionRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u engine.User) UserDTO {
	return UserDTO{
		ID:                string(u.ID),
		Name:              u.Name,
		Email:             u.Email,
		Member:            u.Member,
		FreeSessions:      u.FreeSessions,
		Instructor:        u.Instructor,
		LegalInfoComplete: u.LegalInfoComplete,
		Difficulty:        u.Difficulty,
	}
}

func toEventDTO(e engine.Event) EventDTO {
	dto := EventDTO{
		ID:              string(e.ID),
		Name:            e.Name,
		Start:           e.Start.Format(time.RFC3339),
		End:             e.End.Format(time.RFC3339),
		Difficulty:      e.Difficulty,
		MaxAttendees:    e.MaxAttendees,
		UpfrontCost:     e.UpfrontCost.String(),
		Canceled:        e.Canceled,
		SignupRequired:  e.SignupRequired,
		WaitlistEnabled: e.WaitlistEnabled,
	}
	if e.RefundCutoff != nil {
		s := e.RefundCutoff.Format(time.RFC3339)
		dto.RefundCutoff = &s
	}
	for _, t := range e.Tags {
		dto.Tags = append(dto.Tags, string(t.ID))
	}
	return dto
}

func toTagDTO(t engine.Tag) TagDTO {
	return TagDTO{
		ID:            string(t.ID),
		Name:          t.Name,
		MinDifficulty: t.MinDifficulty,
		ViewPolicy:    string(t.ViewPolicy),
		JoinPolicy:    string(t.JoinPolicy),
	}
}

func toTransactionDTO(tx engine.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          string(tx.ID),
		UserID:      string(tx.UserID),
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.EventID != nil {
		s := string(*tx.EventID)
		dto.EventID = &s
	}
	return dto
}

func toTransactionDTOs(txs []engine.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toRosterDTOs(entries []engine.RosterEntry) []RosterEntryDTO {
	dtos := make([]RosterEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = RosterEntryDTO{
			UserID:     string(e.UserID),
			Name:       e.Name,
			Instructor: e.Instructor,
			JoinedAt:   e.JoinedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toHistoryDTOs(entries []engine.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dto := HistoryEntryDTO{
			UserID:      string(e.UserID),
			Name:        e.Name,
			Instructor:  e.Instructor,
			IsAttending: e.IsAttending,
			JoinedAt:    e.JoinedAt.Format(time.RFC3339),
			Paid:        e.Paid,
		}
		if e.LeftAt != nil {
			s := e.LeftAt.Format(time.RFC3339)
			dto.LeftAt = &s
		}
		dtos[i] = dto
	}
	return dtos
}

func toWaitlistDTOs(details []engine.WaitlistDetail) []WaitlistEntryDTO {
	dtos := make([]WaitlistEntryDTO, len(details))
	for i, d := range details {
		dtos[i] = WaitlistEntryDTO{
			Position: d.Position,
			UserID:   string(d.UserID),
			Name:     d.Name,
			JoinedAt: d.JoinedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

// parseAmount parses a decimal string from a request body.
func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
