package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"fixline/internal/domain"
	"fixline/internal/engine/fault"
	"fixline/internal/events"
	"fixline/internal/repo"
)

// QuoteOptions are parameters for a contractor bid on a job.
type QuoteOptions struct {
	ID              string
	JobID           string
	ContractorID    string
	Amount          int64
	DurationMinutes int
	Description     string
}

// SubmitQuote files a bid. The first quote on a pending job is the moment a
// contractor engages, so it also advances the job to matched and records the
// bidder as the tentative contractor. The binding only becomes firm when the
// homeowner accepts a quote.
func (e Engine) SubmitQuote(ctx context.Context, opts QuoteOptions) (domain.Quote, error) {
	if opts.Amount <= 0 {
		return domain.Quote{}, fault.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if opts.DurationMinutes <= 0 {
		return domain.Quote{}, fault.ValidationError{Field: "duration_minutes", Reason: "must be positive"}
	}
	actor, err := e.Repo.GetActor(ctx, opts.ContractorID)
	if err != nil {
		return domain.Quote{}, err
	}
	if actor.Role != domain.RoleContractor {
		return domain.Quote{}, fault.AuthorizationError{ActorID: opts.ContractorID, Operation: "submit quote"}
	}
	j, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return domain.Quote{}, err
	}
	if j.Status != domain.JobPending && j.Status != domain.JobMatched {
		return domain.Quote{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "submit quote"}
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := domain.Quote{
		ID:              id,
		JobID:           j.ID,
		ContractorID:    opts.ContractorID,
		Amount:          opts.Amount,
		DurationMinutes: opts.DurationMinutes,
		Description:     opts.Description,
		Status:          domain.QuotePending,
		CreatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertQuote(ctx, tx, q); err != nil {
		return q, err
	}
	if err := e.log().Append(ctx, tx, events.TypeQuoteSubmitted, j.ID, "quote", q.ID, opts.ContractorID, events.EventPayload{
		"amount": q.Amount,
	}); err != nil {
		return q, err
	}
	if j.Status == domain.JobPending {
		j.ContractorID = &opts.ContractorID
		if err := e.transitionTx(ctx, tx, &j, domain.JobMatched, opts.ContractorID); err != nil {
			return q, err
		}
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	return q, nil
}

// AcceptQuote is the homeowner's selection. The chosen quote flips to
// accepted, its pending siblings flip to rejected, and the job binds the
// winning contractor and the estimated cost. The job stays matched: a time
// still has to be agreed through scheduling before it advances.
func (e Engine) AcceptQuote(ctx context.Context, jobID, quoteID, actorID string) (domain.Quote, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Quote{}, err
	}
	if actorID != j.HomeownerID {
		return domain.Quote{}, fault.AuthorizationError{ActorID: actorID, Operation: "accept quote on job " + j.ID}
	}
	if j.Status != domain.JobMatched {
		return domain.Quote{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "accept quote"}
	}
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return q, err
	}
	if q.JobID != j.ID {
		return q, fault.ValidationError{Field: "quote_id", Reason: "quote does not belong to job " + j.ID}
	}
	if q.Status != domain.QuotePending {
		return q, fault.InvalidStateError{Entity: "quote", ID: q.ID, Status: q.Status, Operation: "accept"}
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.AcceptQuoteTx(ctx, tx, j.ID, q.ID); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return q, fault.ConflictError{Entity: "quote", ID: q.ID, Reason: "quote resolved concurrently"}
		}
		return q, err
	}
	j.ContractorID = &q.ContractorID
	j.EstimatedCost = &q.Amount
	j.UpdatedAt = now
	if err := e.Repo.UpdateJobTx(ctx, tx, j, domain.JobMatched); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return q, fault.ConflictError{Entity: "job", ID: j.ID, Reason: "status changed concurrently"}
		}
		return q, err
	}
	if err := e.log().Append(ctx, tx, events.TypeQuoteAccepted, j.ID, "quote", q.ID, actorID, events.EventPayload{
		"contractor_id": q.ContractorID,
		"amount":        q.Amount,
	}); err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	q.Status = domain.QuoteAccepted
	return q, nil
}

// ListQuotes returns a job's quotes, visible to either party.
func (e Engine) ListQuotes(ctx context.Context, jobID, actorID string) ([]domain.Quote, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !e.isParty(j, actorID) {
		// any contractor who has quoted may also review the thread
		quotes, qerr := e.Repo.ListQuotesByJob(ctx, jobID)
		if qerr != nil {
			return nil, qerr
		}
		for _, q := range quotes {
			if q.ContractorID == actorID {
				return quotes, nil
			}
		}
		return nil, fault.AuthorizationError{ActorID: actorID, Operation: "list quotes for job " + j.ID}
	}
	return e.Repo.ListQuotesByJob(ctx, jobID)
}
