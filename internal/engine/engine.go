package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"fixline/internal/blob"
	"fixline/internal/config"
	"fixline/internal/domain"
	"fixline/internal/engine/fault"
	"fixline/internal/events"
	"fixline/internal/repo"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Blobs      blob.Store
	Location   LocationProvider
	Signatures SignatureCapture
	Matcher    MatchPolicy
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config, blobs blob.Store) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Blobs:      blobs,
		Location:   ReportedLocation{},
		Signatures: BlobSignatures{Store: blobs},
		Matcher:    TradeMatch{},
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// log hands the event writer the engine's clock so event timestamps and
// entity timestamps come from the same source.
func (e Engine) log() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// jobGraph is the only definition of legal status edges. Every status write in
// the engine funnels through transitionTx, which consults it.
var jobGraph = map[string][]string{
	domain.JobPending:    {domain.JobMatched, domain.JobCancelled},
	domain.JobMatched:    {domain.JobScheduled, domain.JobCancelled},
	domain.JobScheduled:  {domain.JobInProgress, domain.JobCancelled},
	domain.JobInProgress: {domain.JobCompleted},
}

func ensureJobTransition(jobID, from, to string) error {
	for _, next := range jobGraph[from] {
		if next == to {
			return nil
		}
	}
	return fault.InvalidTransitionError{JobID: jobID, From: from, To: to}
}

// checkStatusInvariants validates the cross-field invariants for the job's
// (target) status before it is written.
func checkStatusInvariants(j domain.Job) error {
	withContractor := j.Status == domain.JobMatched || j.Status == domain.JobScheduled ||
		j.Status == domain.JobInProgress || j.Status == domain.JobCompleted
	if withContractor && j.ContractorID == nil {
		return fault.PreconditionError{JobID: j.ID, Invariant: "contractor required for status " + j.Status}
	}
	if !withContractor && j.ContractorID != nil {
		return fault.PreconditionError{JobID: j.ID, Invariant: "contractor must be unset for status " + j.Status}
	}
	withSchedule := j.Status == domain.JobScheduled || j.Status == domain.JobInProgress || j.Status == domain.JobCompleted
	if withSchedule && j.ScheduledAt == nil {
		return fault.PreconditionError{JobID: j.ID, Invariant: "scheduled time required for status " + j.Status}
	}
	if !withSchedule && j.ScheduledAt != nil {
		return fault.PreconditionError{JobID: j.ID, Invariant: "scheduled time must be unset for status " + j.Status}
	}
	if j.ActualCost != nil && j.Status != domain.JobCompleted {
		return fault.PreconditionError{JobID: j.ID, Invariant: "actual cost only valid when completed"}
	}
	if j.Paid && j.Status != domain.JobCompleted {
		return fault.PreconditionError{JobID: j.ID, Invariant: "paid only valid when completed"}
	}
	return nil
}

// transitionTx applies one edge of the status graph inside the caller's
// transaction: edge check, invariant check, compare-and-swap write keyed on
// the status the caller read, then the status-changed event. A lost race
// surfaces as ConflictError, never a silent overwrite.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, j *domain.Job, to, actorID string) error {
	from := j.Status
	if err := ensureJobTransition(j.ID, from, to); err != nil {
		return err
	}
	j.Status = to
	j.UpdatedAt = e.nowStr()
	if err := checkStatusInvariants(*j); err != nil {
		return err
	}
	if err := e.Repo.UpdateJobTx(ctx, tx, *j, from); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return fault.ConflictError{Entity: "job", ID: j.ID, Reason: "status changed concurrently"}
		}
		return err
	}
	return e.log().Append(ctx, tx, events.TypeJobStatusChanged, j.ID, "job", j.ID, actorID, events.EventPayload{
		"from": from,
		"to":   to,
	})
}

// JobCreateOptions are parameters for filing a job.
type JobCreateOptions struct {
	ID            string
	HomeownerID   string
	Trade         string
	Title         string
	Description   string
	Location      string
	PreferredDate string
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if e.Config == nil {
		return domain.Job{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Job{}, fault.ValidationError{Field: "title", Reason: "required"}
	}
	if opts.Trade == "" {
		return domain.Job{}, fault.ValidationError{Field: "trade", Reason: "required"}
	}
	if opts.Description == "" {
		return domain.Job{}, fault.ValidationError{Field: "description", Reason: "required"}
	}
	if !e.Config.KnownTrade(opts.Trade) {
		return domain.Job{}, fault.ValidationError{Field: "trade", Reason: "unknown trade " + opts.Trade}
	}
	actor, err := e.Repo.GetActor(ctx, opts.HomeownerID)
	if err != nil {
		return domain.Job{}, err
	}
	if actor.Role != domain.RoleHomeowner {
		return domain.Job{}, fault.AuthorizationError{ActorID: opts.HomeownerID, Operation: "create job"}
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	j := domain.Job{
		ID:            id,
		HomeownerID:   opts.HomeownerID,
		Trade:         opts.Trade,
		Title:         opts.Title,
		Description:   opts.Description,
		Location:      opts.Location,
		Status:        domain.JobPending,
		PreferredDate: optionalString(opts.PreferredDate),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.log().Append(ctx, tx, events.TypeJobCreated, j.ID, "job", j.ID, opts.HomeownerID, events.EventPayload{
		"trade": j.Trade,
		"title": j.Title,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// Transition validates the requested edge, the acting party, and the target
// status invariants, then applies it. It refuses the edges that are owned by
// another flow: in_progress needs a check-in, completed needs a completed job
// sheet, so neither can be reached through a bare status patch.
func (e Engine) Transition(ctx context.Context, jobID, target, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, err
	}
	if err := ensureJobTransition(j.ID, j.Status, target); err != nil {
		return j, err
	}
	switch target {
	case domain.JobCancelled:
		if j.Status == domain.JobScheduled {
			// backing out of a booked appointment is a negotiated refund
			// flow handled outside this core
			return j, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "cancel without mutual agreement"}
		}
		if actorID != j.HomeownerID {
			return j, fault.AuthorizationError{ActorID: actorID, Operation: "cancel job " + j.ID}
		}
		// cancellation releases the tentative contractor binding
		j.ContractorID = nil
	case domain.JobInProgress:
		sheet, err := e.Repo.GetSheetByJob(ctx, jobID)
		if err != nil || sheet.CheckInTime == nil {
			return j, fault.PreconditionError{JobID: j.ID, Invariant: "check-in required before in_progress"}
		}
	case domain.JobCompleted:
		sheet, err := e.Repo.GetSheetByJob(ctx, jobID)
		if err != nil || sheet.Status != domain.SheetCompleted {
			return j, fault.PreconditionError{JobID: j.ID, Invariant: "completed job sheet with both signatures required"}
		}
	}
	if target != domain.JobCancelled && !e.isParty(j, actorID) {
		return j, fault.AuthorizationError{ActorID: actorID, Operation: "transition job " + j.ID}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.transitionTx(ctx, tx, &j, target, actorID); err != nil {
		return j, err
	}
	if err := tx.Commit(); err != nil {
		return j, err
	}
	return j, nil
}

// CancelJob is homeowner-initiated cancellation from pending or matched.
func (e Engine) CancelJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	return e.Transition(ctx, jobID, domain.JobCancelled, actorID)
}

// JobPatchOptions are the editable request fields; status and costs are not
// patchable here.
type JobPatchOptions struct {
	JobID         string
	ActorID       string
	Title         *string
	Description   *string
	Location      *string
	PreferredDate *string
}

func (e Engine) PatchJob(ctx context.Context, opts JobPatchOptions) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return j, err
	}
	if opts.ActorID != j.HomeownerID {
		return j, fault.AuthorizationError{ActorID: opts.ActorID, Operation: "edit job " + j.ID}
	}
	if j.Status == domain.JobCompleted || j.Status == domain.JobCancelled {
		return j, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "edit"}
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return j, fault.ValidationError{Field: "title", Reason: "required"}
		}
		j.Title = *opts.Title
	}
	if opts.Description != nil {
		if *opts.Description == "" {
			return j, fault.ValidationError{Field: "description", Reason: "required"}
		}
		j.Description = *opts.Description
	}
	if opts.Location != nil {
		j.Location = *opts.Location
	}
	if opts.PreferredDate != nil {
		j.PreferredDate = optionalString(*opts.PreferredDate)
	}
	j.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobTx(ctx, tx, j, j.Status); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return j, fault.ConflictError{Entity: "job", ID: j.ID, Reason: "status changed concurrently"}
		}
		return j, err
	}
	if err := e.log().Append(ctx, tx, events.TypeJobUpdated, j.ID, "job", j.ID, opts.ActorID, nil); err != nil {
		return j, err
	}
	if err := tx.Commit(); err != nil {
		return j, err
	}
	return j, nil
}

// MarkPaid records payment capture acknowledged by the payment consumer.
// Valid only on completed jobs, homeowner only.
func (e Engine) MarkPaid(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, err
	}
	if j.Status != domain.JobCompleted {
		return j, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "mark paid"}
	}
	if actorID != j.HomeownerID {
		return j, fault.AuthorizationError{ActorID: actorID, Operation: "mark job " + j.ID + " paid"}
	}
	if j.Paid {
		return j, nil
	}
	j.Paid = true
	j.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobTx(ctx, tx, j, domain.JobCompleted); err != nil {
		return j, err
	}
	if err := e.log().Append(ctx, tx, events.TypeJobPaid, j.ID, "job", j.ID, actorID, nil); err != nil {
		return j, err
	}
	if err := tx.Commit(); err != nil {
		return j, err
	}
	return j, nil
}

// AddJobPhoto stores a photo blob and appends its reference to the job.
func (e Engine) AddJobPhoto(ctx context.Context, jobID, actorID string, data []byte) (domain.Job, string, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return j, "", err
	}
	if actorID != j.HomeownerID {
		return j, "", fault.AuthorizationError{ActorID: actorID, Operation: "attach photo to job " + j.ID}
	}
	if j.Status == domain.JobCompleted || j.Status == domain.JobCancelled {
		return j, "", fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "attach photo"}
	}
	if len(data) == 0 {
		return j, "", fault.ValidationError{Field: "photo", Reason: "empty payload"}
	}
	ref, err := e.Blobs.Put("photos", data)
	if err != nil {
		return j, "", err
	}
	j.Photos = append(j.Photos, ref)
	j.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return j, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobTx(ctx, tx, j, j.Status); err != nil {
		return j, "", err
	}
	if err := e.log().Append(ctx, tx, events.TypeJobUpdated, j.ID, "job", j.ID, actorID, events.EventPayload{"photo": ref}); err != nil {
		return j, "", err
	}
	if err := tx.Commit(); err != nil {
		return j, "", err
	}
	return j, ref, nil
}

func (e Engine) RegisterActor(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	if a.ID == "" {
		return a, fault.ValidationError{Field: "id", Reason: "required"}
	}
	if a.Role != domain.RoleHomeowner && a.Role != domain.RoleContractor {
		return a, fault.ValidationError{Field: "role", Reason: "must be homeowner or contractor"}
	}
	if a.Role == domain.RoleContractor {
		if a.Trade == "" {
			return a, fault.ValidationError{Field: "trade", Reason: "required for contractors"}
		}
		if e.Config != nil && !e.Config.KnownTrade(a.Trade) {
			return a, fault.ValidationError{Field: "trade", Reason: "unknown trade " + a.Trade}
		}
	}
	a.CreatedAt = e.nowStr()
	if err := e.Repo.InsertActor(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// MatchPolicy decides whether a contractor is a candidate for a job. Trade
// equality is the default; proximity-aware policies plug in here.
type MatchPolicy interface {
	Match(j domain.Job, c domain.Actor) bool
}

type TradeMatch struct{}

func (TradeMatch) Match(j domain.Job, c domain.Actor) bool {
	return c.Role == domain.RoleContractor && c.Trade == j.Trade
}

// MatchCandidates lists contractors the policy admits for a pending job. It
// does not mutate the job: the first contractor engagement (a submitted
// quote) is what advances pending to matched.
func (e Engine) MatchCandidates(ctx context.Context, jobID string) ([]domain.Actor, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != domain.JobPending && j.Status != domain.JobMatched {
		return nil, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "match contractors"}
	}
	contractors, err := e.Repo.ListContractorsByTrade(ctx, j.Trade)
	if err != nil {
		return nil, err
	}
	matcher := e.Matcher
	if matcher == nil {
		matcher = TradeMatch{}
	}
	limit := 0
	if e.Config != nil {
		limit = e.Config.Matching.MaxCandidates
	}
	var out []domain.Actor
	for _, c := range contractors {
		if !matcher.Match(j, c) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (e Engine) isParty(j domain.Job, actorID string) bool {
	if actorID == j.HomeownerID {
		return true
	}
	return j.ContractorID != nil && *j.ContractorID == actorID
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
