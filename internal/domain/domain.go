package domain

// Job statuses.
const (
	JobPending    = "pending"
	JobMatched    = "matched"
	JobScheduled  = "scheduled"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobCancelled  = "cancelled"
)

// Quote statuses.
const (
	QuotePending  = "pending"
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
)

// AppointmentProposal statuses.
const (
	ProposalPending   = "pending"
	ProposalAccepted  = "accepted"
	ProposalRejected  = "rejected"
	ProposalCountered = "countered"
)

// JobSheet statuses.
const (
	SheetNotStarted = "not_started"
	SheetInProgress = "in_progress"
	SheetCompleted  = "completed"
)

// Actor roles.
const (
	RoleHomeowner  = "homeowner"
	RoleContractor = "contractor"
)

type Job struct {
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
	Photos        []string `json:"photos,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

// Quote amounts are integer minor currency units (cents).
type Quote struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	ContractorID    string `json:"contractor_id"`
	Amount          int64  `json:"amount"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// ScheduleSlot is a contractor-declared availability window. A slot is booked by
// at most one job, ever; booking is terminal for the slot.
type ScheduleSlot struct {
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

// AppointmentProposal is one round of time negotiation for a job. At most one
// proposal per job is pending at a time.
type AppointmentProposal struct {
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

// GeoFix is a recorded device position.
type GeoFix struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// JobSheet is the on-site record of work for a job (at most one per job).
type JobSheet struct {
	ID                  string   `json:"id"`
	JobID               string   `json:"job_id"`
	ContractorID        string   `json:"contractor_id"`
	Status              string   `json:"status" enum:"not_started,in_progress,completed"`
	Notes               string   `json:"notes,omitempty"`
	Materials           string   `json:"materials,omitempty"`
	TimeSpentMinutes    int      `json:"time_spent_minutes,omitempty"`
	AdditionalCosts     int64    `json:"additional_costs,omitempty"`
	CheckInTime         *string  `json:"check_in_time,omitempty" format:"date-time"`
	CheckInLocation     *GeoFix  `json:"check_in_location,omitempty"`
	CheckOutTime        *string  `json:"check_out_time,omitempty" format:"date-time"`
	CheckOutLocation    *GeoFix  `json:"check_out_location,omitempty"`
	ContractorSignature *string  `json:"contractor_signature,omitempty"`
	HomeownerSignature  *string  `json:"homeowner_signature,omitempty"`
	Photos              []string `json:"photos,omitempty"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"homeowner,contractor"`
	Name      string `json:"name,omitempty"`
	Trade     string `json:"trade,omitempty"`
	Location  string `json:"location,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
