package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"fixline/internal/domain"
	"fixline/internal/engine/fault"
	"fixline/internal/events"
	"fixline/internal/repo"
)

// SlotOptions declare a contractor availability window.
type SlotOptions struct {
	ID           string
	ContractorID string
	StartTime    string
	EndTime      string
	Title        string
	Notes        string
	Location     string
}

func parseWindow(start, end string) error {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return fault.ValidationError{Field: "start_time", Reason: "must be RFC3339"}
	}
	t, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return fault.ValidationError{Field: "end_time", Reason: "must be RFC3339"}
	}
	if !t.After(s) {
		return fault.ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	return nil
}

func (e Engine) CreateSlot(ctx context.Context, opts SlotOptions) (domain.ScheduleSlot, error) {
	if err := parseWindow(opts.StartTime, opts.EndTime); err != nil {
		return domain.ScheduleSlot{}, err
	}
	actor, err := e.Repo.GetActor(ctx, opts.ContractorID)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	if actor.Role != domain.RoleContractor {
		return domain.ScheduleSlot{}, fault.AuthorizationError{ActorID: opts.ContractorID, Operation: "declare availability"}
	}
	overlaps, err := e.Repo.CountOverlappingSlots(ctx, opts.ContractorID, opts.StartTime, opts.EndTime)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	if overlaps > 0 {
		return domain.ScheduleSlot{}, fault.ValidationError{Field: "start_time", Reason: "window overlaps existing availability"}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := domain.ScheduleSlot{
		ID:           id,
		ContractorID: opts.ContractorID,
		StartTime:    opts.StartTime,
		EndTime:      opts.EndTime,
		Title:        opts.Title,
		Notes:        opts.Notes,
		Location:     opts.Location,
		CreatedAt:    e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSlot(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.log().Append(ctx, tx, events.TypeSlotCreated, "", "slot", s.ID, opts.ContractorID, events.EventPayload{
		"start_time": s.StartTime,
		"end_time":   s.EndTime,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// BookSlot claims a contractor's availability window for a matched job. The
// slot row is the serialization point: of any number of concurrent bookings
// for one slot, exactly one commits and the rest get ConflictError.
func (e Engine) BookSlot(ctx context.Context, slotID, jobID, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, err
	}
	if actorID != j.HomeownerID {
		return j, fault.AuthorizationError{ActorID: actorID, Operation: "book slot for job " + j.ID}
	}
	if j.Status != domain.JobMatched {
		return j, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "book slot"}
	}
	s, err := e.Repo.GetSlot(ctx, slotID)
	if err != nil {
		return j, err
	}
	if j.ContractorID != nil && *j.ContractorID != s.ContractorID {
		return j, fault.ValidationError{Field: "slot_id", Reason: "slot belongs to a different contractor"}
	}
	if s.IsBooked {
		return j, fault.ConflictError{Entity: "slot", ID: s.ID, Reason: "already booked"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkSlotBookedTx(ctx, tx, s.ID, j.ID); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return j, fault.ConflictError{Entity: "slot", ID: s.ID, Reason: "booked concurrently"}
		}
		return j, err
	}
	j.ContractorID = &s.ContractorID
	j.ScheduledAt = &s.StartTime
	if err := e.transitionTx(ctx, tx, &j, domain.JobScheduled, actorID); err != nil {
		return j, err
	}
	if err := e.log().Append(ctx, tx, events.TypeSlotBooked, j.ID, "slot", s.ID, actorID, events.EventPayload{
		"start_time": s.StartTime,
		"end_time":   s.EndTime,
	}); err != nil {
		return j, err
	}
	if err := tx.Commit(); err != nil {
		return j, err
	}
	return j, nil
}

func (e Engine) DeleteSlot(ctx context.Context, slotID, actorID string) error {
	s, err := e.Repo.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if s.ContractorID != actorID {
		return fault.AuthorizationError{ActorID: actorID, Operation: "delete slot " + s.ID}
	}
	if s.IsBooked {
		return fault.InvalidStateError{Entity: "slot", ID: s.ID, Status: "booked", Operation: "delete"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSlot(ctx, tx, s.ID); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return fault.ConflictError{Entity: "slot", ID: s.ID, Reason: "booked concurrently"}
		}
		return err
	}
	if err := e.log().Append(ctx, tx, events.TypeSlotDeleted, "", "slot", s.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ProposalOptions open one round of time negotiation.
type ProposalOptions struct {
	ID         string
	JobID      string
	ProposedBy string
	StartTime  string
	EndTime    string
	Message    string
}

func (e Engine) Propose(ctx context.Context, opts ProposalOptions) (domain.AppointmentProposal, error) {
	if err := parseWindow(opts.StartTime, opts.EndTime); err != nil {
		return domain.AppointmentProposal{}, err
	}
	j, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return domain.AppointmentProposal{}, err
	}
	if j.Status != domain.JobMatched {
		return domain.AppointmentProposal{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "propose appointment"}
	}
	if !e.isParty(j, opts.ProposedBy) {
		return domain.AppointmentProposal{}, fault.AuthorizationError{ActorID: opts.ProposedBy, Operation: "propose appointment for job " + j.ID}
	}
	if _, err := e.Repo.PendingProposalForJob(ctx, j.ID); err == nil {
		return domain.AppointmentProposal{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "propose while a proposal is pending"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.AppointmentProposal{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.AppointmentProposal{
		ID:         id,
		JobID:      j.ID,
		ProposedBy: opts.ProposedBy,
		StartTime:  opts.StartTime,
		EndTime:    opts.EndTime,
		Status:     domain.ProposalPending,
		Message:    opts.Message,
		CreatedAt:  e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	// the partial unique index on (job_id) WHERE status='pending' backs up
	// the pre-check against a concurrent proposer
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.log().Append(ctx, tx, events.TypeProposalCreated, j.ID, "proposal", p.ID, opts.ProposedBy, events.EventPayload{
		"start_time": p.StartTime,
		"end_time":   p.EndTime,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// RespondOptions resolve a pending proposal. Countering requires a new
// window and atomically replaces the old proposal with a fresh pending one
// from the responder.
type RespondOptions struct {
	ProposalID   string
	ActorID      string
	Response     string // accepted, rejected or countered
	Message      string
	CounterStart string
	CounterEnd   string
}

func (e Engine) Respond(ctx context.Context, opts RespondOptions) (domain.AppointmentProposal, error) {
	p, err := e.Repo.GetProposal(ctx, opts.ProposalID)
	if err != nil {
		return p, err
	}
	if p.Status != domain.ProposalPending {
		return p, fault.InvalidStateError{Entity: "proposal", ID: p.ID, Status: p.Status, Operation: "respond"}
	}
	j, err := e.Repo.GetJob(ctx, p.JobID)
	if err != nil {
		return p, err
	}
	if !e.isParty(j, opts.ActorID) || opts.ActorID == p.ProposedBy {
		return p, fault.AuthorizationError{ActorID: opts.ActorID, Operation: "respond to proposal " + p.ID}
	}
	switch opts.Response {
	case domain.ProposalAccepted, domain.ProposalRejected, domain.ProposalCountered:
	default:
		return p, fault.ValidationError{Field: "response", Reason: "must be accepted, rejected or countered"}
	}
	// a job that left matched can no longer be negotiated; rejection stays
	// allowed so a stale proposal can be closed out after the job moved on
	if opts.Response != domain.ProposalRejected && j.Status != domain.JobMatched {
		return p, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: opts.Response + " proposal"}
	}
	if opts.Response == domain.ProposalCountered {
		if err := parseWindow(opts.CounterStart, opts.CounterEnd); err != nil {
			return p, err
		}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.ResolveProposalTx(ctx, tx, p.ID, opts.Response, now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return p, fault.ConflictError{Entity: "proposal", ID: p.ID, Reason: "resolved concurrently"}
		}
		return p, err
	}
	if err := e.log().Append(ctx, tx, events.TypeProposalResolved, j.ID, "proposal", p.ID, opts.ActorID, events.EventPayload{
		"response": opts.Response,
	}); err != nil {
		return p, err
	}
	switch opts.Response {
	case domain.ProposalAccepted:
		j.ScheduledAt = &p.StartTime
		if err := e.transitionTx(ctx, tx, &j, domain.JobScheduled, opts.ActorID); err != nil {
			return p, err
		}
	case domain.ProposalCountered:
		counter := domain.AppointmentProposal{
			ID:         uuid.New().String(),
			JobID:      j.ID,
			ProposedBy: opts.ActorID,
			StartTime:  opts.CounterStart,
			EndTime:    opts.CounterEnd,
			Status:     domain.ProposalPending,
			Message:    opts.Message,
			CreatedAt:  now,
		}
		if err := e.Repo.InsertProposal(ctx, tx, counter); err != nil {
			return p, err
		}
		if err := e.log().Append(ctx, tx, events.TypeProposalCreated, j.ID, "proposal", counter.ID, opts.ActorID, events.EventPayload{
			"start_time": counter.StartTime,
			"end_time":   counter.EndTime,
			"counter_of": p.ID,
		}); err != nil {
			return p, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = opts.Response
	p.RespondedAt = &now
	return p, nil
}

// ListSlots lists a contractor's availability; availableOnly hides booked
// slots.
func (e Engine) ListSlots(ctx context.Context, contractorID string, availableOnly bool) ([]domain.ScheduleSlot, error) {
	return e.Repo.ListSlotsByContractor(ctx, contractorID, availableOnly)
}

func (e Engine) ListProposals(ctx context.Context, jobID, actorID string) ([]domain.AppointmentProposal, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !e.isParty(j, actorID) {
		return nil, fault.AuthorizationError{ActorID: actorID, Operation: "list proposals for job " + j.ID}
	}
	return e.Repo.ListProposalsByJob(ctx, jobID)
}
