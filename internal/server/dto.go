package server

import (
	"encoding/json"

	"fixline/internal/domain"
)

// Request payloads

type CreateJobRequest struct {
	ID            *string `json:"id,omitempty"`
	Trade         string  `json:"trade"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Location      *string `json:"location,omitempty"`
	PreferredDate *string `json:"preferred_date,omitempty" format:"date-time"`
}

type UpdateJobRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Location      *string `json:"location,omitempty"`
	PreferredDate *string `json:"preferred_date,omitempty" format:"date-time"`
}

type TransitionJobRequest struct {
	Status string `json:"status" enum:"matched,scheduled,in_progress,completed,cancelled"`
}

type CreateQuoteRequest struct {
	ID              *string `json:"id,omitempty"`
	Amount          int64   `json:"amount"`
	DurationMinutes int     `json:"duration_minutes"`
	Description     *string `json:"description,omitempty"`
}

type CreateSlotRequest struct {
	ID        *string `json:"id,omitempty"`
	StartTime string  `json:"start_time" format:"date-time"`
	EndTime   string  `json:"end_time" format:"date-time"`
	Title     *string `json:"title,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	Location  *string `json:"location,omitempty"`
}

type BookSlotRequest struct {
	JobID string `json:"job_id"`
}

type CreateProposalRequest struct {
	ID        *string `json:"id,omitempty"`
	StartTime string  `json:"start_time" format:"date-time"`
	EndTime   string  `json:"end_time" format:"date-time"`
	Message   *string `json:"message,omitempty"`
}

type RespondProposalRequest struct {
	Response     string  `json:"response" enum:"accepted,rejected,countered"`
	Message      *string `json:"message,omitempty"`
	CounterStart *string `json:"counter_start,omitempty" format:"date-time"`
	CounterEnd   *string `json:"counter_end,omitempty" format:"date-time"`
}

type CheckRequest struct {
	Location *GeoFixRequest `json:"location,omitempty"`
}

type GeoFixRequest struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

type RecordWorkRequest struct {
	Notes            *string `json:"notes,omitempty"`
	Materials        *string `json:"materials,omitempty"`
	TimeSpentMinutes int     `json:"time_spent_minutes,omitempty"`
	AdditionalCosts  int64   `json:"additional_costs,omitempty"`
}

type AttachSignatureRequest struct {
	Role         string `json:"role" enum:"homeowner,contractor"`
	StrokeBase64 string `json:"stroke_base64"`
}

type AddPhotoRequest struct {
	DataBase64 string `json:"data_base64"`
}

type RegisterActorRequest struct {
	ID       string  `json:"id"`
	Role     string  `json:"role" enum:"homeowner,contractor"`
	Name     *string `json:"name,omitempty"`
	Trade    *string `json:"trade,omitempty"`
	Location *string `json:"location,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"homeowner,contractor"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type JobResponse struct {
	ID            string   `json:"id"`
	HomeownerID   string   `json:"homeowner_id"`
	ContractorID  *string  `json:"contractor_id,omitempty"`
	Trade         string   `json:"trade"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Location      string   `json:"location,omitempty"`
	Status        string   `json:"status" enum:"pending,matched,scheduled,in_progress,completed,cancelled"`
	PreferredDate *string  `json:"preferred_date,omitempty" format:"date-time"`
	ScheduledAt   *string  `json:"scheduled_at,omitempty" format:"date-time"`
	EstimatedCost *int64   `json:"estimated_cost,omitempty"`
	ActualCost    *int64   `json:"actual_cost,omitempty"`
	Paid          bool     `json:"paid"`
	Photos        []string `json:"photos"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type QuoteResponse struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	ContractorID    string `json:"contractor_id"`
	Amount          int64  `json:"amount"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type SlotResponse struct {
	ID           string  `json:"id"`
	ContractorID string  `json:"contractor_id"`
	StartTime    string  `json:"start_time" format:"date-time"`
	EndTime      string  `json:"end_time" format:"date-time"`
	IsBooked     bool    `json:"is_booked"`
	JobID        *string `json:"job_id,omitempty"`
	Title        string  `json:"title,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	Location     string  `json:"location,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type ProposalResponse struct {
	ID          string  `json:"id"`
	JobID       string  `json:"job_id"`
	ProposedBy  string  `json:"proposed_by"`
	StartTime   string  `json:"start_time" format:"date-time"`
	EndTime     string  `json:"end_time" format:"date-time"`
	Status      string  `json:"status" enum:"pending,accepted,rejected,countered"`
	Message     string  `json:"message,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	RespondedAt *string `json:"responded_at,omitempty" format:"date-time"`
}

type SheetResponse struct {
	ID                  string          `json:"id"`
	JobID               string          `json:"job_id"`
	ContractorID        string          `json:"contractor_id"`
	Status              string          `json:"status" enum:"not_started,in_progress,completed"`
	Notes               string          `json:"notes,omitempty"`
	Materials           string          `json:"materials,omitempty"`
	TimeSpentMinutes    int             `json:"time_spent_minutes,omitempty"`
	AdditionalCosts     int64           `json:"additional_costs,omitempty"`
	CheckInTime         *string         `json:"check_in_time,omitempty" format:"date-time"`
	CheckInLocation     *domain.GeoFix  `json:"check_in_location,omitempty"`
	CheckOutTime        *string         `json:"check_out_time,omitempty" format:"date-time"`
	CheckOutLocation    *domain.GeoFix  `json:"check_out_location,omitempty"`
	ContractorSignature *string         `json:"contractor_signature,omitempty"`
	HomeownerSignature  *string         `json:"homeowner_signature,omitempty"`
	Photos              []string        `json:"photos"`
	CreatedAt           string          `json:"created_at" format:"date-time"`
	UpdatedAt           string          `json:"updated_at" format:"date-time"`
}

type ActorResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"homeowner,contractor"`
	Name      string `json:"name,omitempty"`
	Trade     string `json:"trade,omitempty"`
	Location  string `json:"location,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type PhotoResponse struct {
	Ref string `json:"ref"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	Source  string `json:"source"`
}

type paginatedJobs struct {
	Items      []JobResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func jobResponse(j domain.Job) JobResponse {
	res := JobResponse(j)
	res.Photos = nonNilSlice(res.Photos)
	return res
}

func quoteResponse(q domain.Quote) QuoteResponse {
	return QuoteResponse(q)
}

func slotResponse(s domain.ScheduleSlot) SlotResponse {
	return SlotResponse(s)
}

func proposalResponse(p domain.AppointmentProposal) ProposalResponse {
	return ProposalResponse(p)
}

func sheetResponse(s domain.JobSheet) SheetResponse {
	res := SheetResponse(s)
	res.Photos = nonNilSlice(res.Photos)
	return res
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse(a)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		JobID:      e.JobID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapJobs(items []domain.Job) []JobResponse {
	res := make([]JobResponse, 0, len(items))
	for _, j := range items {
		res = append(res, jobResponse(j))
	}
	return res
}

func mapQuotes(items []domain.Quote) []QuoteResponse {
	res := make([]QuoteResponse, 0, len(items))
	for _, q := range items {
		res = append(res, quoteResponse(q))
	}
	return res
}

func mapSlots(items []domain.ScheduleSlot) []SlotResponse {
	res := make([]SlotResponse, 0, len(items))
	for _, s := range items {
		res = append(res, slotResponse(s))
	}
	return res
}

func mapProposals(items []domain.AppointmentProposal) []ProposalResponse {
	res := make([]ProposalResponse, 0, len(items))
	for _, p := range items {
		res = append(res, proposalResponse(p))
	}
	return res
}

func mapActors(items []domain.Actor) []ActorResponse {
	res := make([]ActorResponse, 0, len(items))
	for _, a := range items {
		res = append(res, actorResponse(a))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
