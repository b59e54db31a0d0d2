package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fixline/internal/blob"
	"fixline/internal/config"
	"fixline/internal/db"
	"fixline/internal/domain"
	"fixline/internal/engine"
	"fixline/internal/engine/fault"
	"fixline/internal/migrate"
	"fixline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	eng := engine.New(conn, config.Default(), blobs)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	eng.Now = func() time.Time { return *clock }
	ctx := context.Background()
	for _, a := range []domain.Actor{
		{ID: "hank", Role: domain.RoleHomeowner, Name: "Hank"},
		{ID: "carla", Role: domain.RoleContractor, Name: "Carla", Trade: "plumbing"},
		{ID: "pete", Role: domain.RoleContractor, Name: "Pete", Trade: "plumbing"},
	} {
		if _, err := eng.RegisterActor(ctx, a); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, clock: clock}
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env testEnv) createJob(t *testing.T) domain.Job {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		HomeownerID: "hank",
		Trade:       "plumbing",
		Title:       "Leaky faucet",
		Description: "Kitchen faucet drips",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

// matchJob files a job, submits a quote from carla, and accepts it.
func (env testEnv) matchJob(t *testing.T) (domain.Job, domain.Quote) {
	t.Helper()
	j := env.createJob(t)
	q, err := env.Engine.SubmitQuote(env.Ctx, engine.QuoteOptions{
		JobID: j.ID, ContractorID: "carla", Amount: 15000, DurationMinutes: 90,
	})
	if err != nil {
		t.Fatalf("submit quote: %v", err)
	}
	q, err = env.Engine.AcceptQuote(env.Ctx, j.ID, q.ID, "hank")
	if err != nil {
		t.Fatalf("accept quote: %v", err)
	}
	j, err = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return j, q
}

// scheduleJob takes a matched job through slot booking.
func (env testEnv) scheduleJob(t *testing.T, jobID string) domain.Job {
	t.Helper()
	s, err := env.Engine.CreateSlot(env.Ctx, engine.SlotOptions{
		ContractorID: "carla",
		StartTime:    "2024-03-02T10:00:00Z",
		EndTime:      "2024-03-02T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	j, err := env.Engine.BookSlot(env.Ctx, s.ID, jobID, "hank")
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}
	return j
}

func here() *domain.GeoFix {
	return &domain.GeoFix{Lat: 48.85, Lng: 2.35, Accuracy: 12}
}

func TestJobLifecycleThroughSlotBooking(t *testing.T) {
	env := newTestEnv(t)
	j, q := env.matchJob(t)
	if j.Status != domain.JobMatched {
		t.Fatalf("expected matched, got %s", j.Status)
	}
	if j.EstimatedCost == nil || *j.EstimatedCost != q.Amount {
		t.Fatalf("estimated cost not bound: %+v", j.EstimatedCost)
	}
	j = env.scheduleJob(t, j.ID)
	if j.Status != domain.JobScheduled {
		t.Fatalf("expected scheduled, got %s", j.Status)
	}
	if j.ScheduledAt == nil || *j.ScheduledAt != "2024-03-02T10:00:00Z" {
		t.Fatalf("scheduled time not pinned: %+v", j.ScheduledAt)
	}

	sheet, err := env.Engine.CheckIn(env.Ctx, j.ID, "carla", here())
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if sheet.CheckInTime == nil || sheet.CheckInLocation == nil {
		t.Fatalf("check-in not recorded: %+v", sheet)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobInProgress {
		t.Fatalf("expected in_progress after check-in, got %s", j.Status)
	}

	if _, err := env.Engine.RecordWork(env.Ctx, j.ID, "carla", engine.WorkRecord{TimeSpentMinutes: 75, AdditionalCosts: 2500}); err != nil {
		t.Fatalf("record work: %v", err)
	}

	env.advance(2 * time.Hour)
	sheet, err = env.Engine.CheckOut(env.Ctx, j.ID, "carla", here())
	if err != nil {
		t.Fatalf("check out: %v", err)
	}
	if sheet.CheckOutTime == nil {
		t.Fatal("check-out not recorded")
	}

	// first signature does not complete
	sheet, err = env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleContractor, "carla", []byte("stroke-a"))
	if err != nil {
		t.Fatalf("contractor sign: %v", err)
	}
	if sheet.Status == domain.SheetCompleted {
		t.Fatal("sheet completed with a single signature")
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobInProgress {
		t.Fatalf("job advanced early: %s", j.Status)
	}

	// second signature completes sheet and job, settles actual cost
	sheet, err = env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleHomeowner, "hank", []byte("stroke-b"))
	if err != nil {
		t.Fatalf("homeowner sign: %v", err)
	}
	if sheet.Status != domain.SheetCompleted {
		t.Fatalf("expected completed sheet, got %s", sheet.Status)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobCompleted {
		t.Fatalf("expected completed job, got %s", j.Status)
	}
	if j.ActualCost == nil || *j.ActualCost != 15000+2500 {
		t.Fatalf("actual cost not settled: %+v", j.ActualCost)
	}

	// payment only after completion, homeowner only, idempotent
	if _, err := env.Engine.MarkPaid(env.Ctx, j.ID, "carla"); err == nil {
		t.Fatal("contractor marked job paid")
	}
	j, err = env.Engine.MarkPaid(env.Ctx, j.ID, "hank")
	if err != nil || !j.Paid {
		t.Fatalf("mark paid: %v paid=%v", err, j.Paid)
	}
	if _, err := env.Engine.MarkPaid(env.Ctx, j.ID, "hank"); err != nil {
		t.Fatalf("mark paid twice: %v", err)
	}
}

func TestSubmitQuoteAdvancesPendingToMatched(t *testing.T) {
	env := newTestEnv(t)
	j := env.createJob(t)
	if _, err := env.Engine.SubmitQuote(env.Ctx, engine.QuoteOptions{
		JobID: j.ID, ContractorID: "carla", Amount: 9000, DurationMinutes: 60,
	}); err != nil {
		t.Fatalf("submit quote: %v", err)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobMatched {
		t.Fatalf("expected matched after first quote, got %s", j.Status)
	}
	if j.ContractorID == nil || *j.ContractorID != "carla" {
		t.Fatalf("tentative contractor not set: %+v", j.ContractorID)
	}
	// further quotes keep the job matched
	if _, err := env.Engine.SubmitQuote(env.Ctx, engine.QuoteOptions{
		JobID: j.ID, ContractorID: "pete", Amount: 8000, DurationMinutes: 45,
	}); err != nil {
		t.Fatalf("second quote: %v", err)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobMatched {
		t.Fatalf("status drifted: %s", j.Status)
	}
}

func TestAcceptQuoteRejectsSiblingsAndRaces(t *testing.T) {
	env := newTestEnv(t)
	j := env.createJob(t)
	q1, err := env.Engine.SubmitQuote(env.Ctx, engine.QuoteOptions{JobID: j.ID, ContractorID: "carla", Amount: 9000, DurationMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	q2, err := env.Engine.SubmitQuote(env.Ctx, engine.QuoteOptions{JobID: j.ID, ContractorID: "pete", Amount: 8000, DurationMinutes: 45})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, j.ID, q2.ID, "carla"); err == nil {
		t.Fatal("contractor accepted a quote")
	}
	accepted, err := env.Engine.AcceptQuote(env.Ctx, j.ID, q2.ID, "hank")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.QuoteAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	reloaded, err := env.Engine.Repo.GetQuote(env.Ctx, q1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != domain.QuoteRejected {
		t.Fatalf("sibling not rejected: %s", reloaded.Status)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.ContractorID == nil || *j.ContractorID != "pete" {
		t.Fatalf("winning contractor not bound: %+v", j.ContractorID)
	}
	if j.EstimatedCost == nil || *j.EstimatedCost != 8000 {
		t.Fatalf("estimate not bound: %+v", j.EstimatedCost)
	}
	// a second accept attempt finds no pending quote
	var ise fault.InvalidStateError
	if _, err := env.Engine.AcceptQuote(env.Ctx, j.ID, q1.ID, "hank"); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestBookSlotConflicts(t *testing.T) {
	env := newTestEnv(t)
	j1, _ := env.matchJob(t)
	j2 := env.createJob(t)
	if _, err := env.Engine.SubmitQuote(env.Ctx, engine.QuoteOptions{JobID: j2.ID, ContractorID: "carla", Amount: 5000, DurationMinutes: 30}); err != nil {
		t.Fatal(err)
	}
	q, err := env.Engine.Repo.ListQuotesByJob(env.Ctx, j2.ID)
	if err != nil || len(q) != 1 {
		t.Fatalf("list quotes: %v", err)
	}
	if _, err := env.Engine.AcceptQuote(env.Ctx, j2.ID, q[0].ID, "hank"); err != nil {
		t.Fatal(err)
	}

	s, err := env.Engine.CreateSlot(env.Ctx, engine.SlotOptions{
		ContractorID: "carla",
		StartTime:    "2024-03-02T10:00:00Z",
		EndTime:      "2024-03-02T12:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.BookSlot(env.Ctx, s.ID, j1.ID, "hank"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	var ce fault.ConflictError
	if _, err := env.Engine.BookSlot(env.Ctx, s.ID, j2.ID, "hank"); !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError on double booking, got %v", err)
	}
	// booked slots cannot be deleted
	var ise fault.InvalidStateError
	if err := env.Engine.DeleteSlot(env.Ctx, s.ID, "carla"); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError deleting booked slot, got %v", err)
	}
}

func TestOverlappingSlotRefused(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateSlot(env.Ctx, engine.SlotOptions{
		ContractorID: "carla", StartTime: "2024-03-02T10:00:00Z", EndTime: "2024-03-02T12:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	var ve fault.ValidationError
	if _, err := env.Engine.CreateSlot(env.Ctx, engine.SlotOptions{
		ContractorID: "carla", StartTime: "2024-03-02T11:00:00Z", EndTime: "2024-03-02T13:00:00Z",
	}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for overlap, got %v", err)
	}
	// adjacent window is fine
	if _, err := env.Engine.CreateSlot(env.Ctx, engine.SlotOptions{
		ContractorID: "carla", StartTime: "2024-03-02T12:00:00Z", EndTime: "2024-03-02T14:00:00Z",
	}); err != nil {
		t.Fatalf("adjacent slot: %v", err)
	}
}

func TestProposalNegotiation(t *testing.T) {
	env := newTestEnv(t)
	j, _ := env.matchJob(t)
	p, err := env.Engine.Propose(env.Ctx, engine.ProposalOptions{
		JobID: j.ID, ProposedBy: "carla",
		StartTime: "2024-03-03T09:00:00Z", EndTime: "2024-03-03T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	// only one pending proposal per job
	var ise fault.InvalidStateError
	if _, err := env.Engine.Propose(env.Ctx, engine.ProposalOptions{
		JobID: j.ID, ProposedBy: "hank",
		StartTime: "2024-03-04T09:00:00Z", EndTime: "2024-03-04T11:00:00Z",
	}); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	// proposer cannot respond to their own proposal
	if _, err := env.Engine.Respond(env.Ctx, engine.RespondOptions{
		ProposalID: p.ID, ActorID: "carla", Response: domain.ProposalAccepted,
	}); err == nil {
		t.Fatal("proposer responded to own proposal")
	}
	// counter replaces the pending proposal
	resolved, err := env.Engine.Respond(env.Ctx, engine.RespondOptions{
		ProposalID: p.ID, ActorID: "hank", Response: domain.ProposalCountered,
		CounterStart: "2024-03-03T14:00:00Z", CounterEnd: "2024-03-03T16:00:00Z",
	})
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if resolved.Status != domain.ProposalCountered {
		t.Fatalf("expected countered, got %s", resolved.Status)
	}
	proposals, err := env.Engine.ListProposals(env.Ctx, j.ID, "hank")
	if err != nil {
		t.Fatal(err)
	}
	var counter domain.AppointmentProposal
	for _, cand := range proposals {
		if cand.Status == domain.ProposalPending {
			counter = cand
		}
	}
	if counter.ID == "" || counter.ProposedBy != "hank" {
		t.Fatalf("counter proposal missing: %+v", proposals)
	}
	// accepting the counter schedules the job at the counter window
	if _, err := env.Engine.Respond(env.Ctx, engine.RespondOptions{
		ProposalID: counter.ID, ActorID: "carla", Response: domain.ProposalAccepted,
	}); err != nil {
		t.Fatalf("accept counter: %v", err)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobScheduled {
		t.Fatalf("expected scheduled, got %s", j.Status)
	}
	if j.ScheduledAt == nil || *j.ScheduledAt != "2024-03-03T14:00:00Z" {
		t.Fatalf("scheduled at wrong window: %+v", j.ScheduledAt)
	}
}

func TestRespondAfterJobScheduled(t *testing.T) {
	env := newTestEnv(t)
	j, _ := env.matchJob(t)
	p, err := env.Engine.Propose(env.Ctx, engine.ProposalOptions{
		JobID: j.ID, ProposedBy: "carla",
		StartTime: "2024-03-03T09:00:00Z", EndTime: "2024-03-03T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	// slot booking schedules the job while the proposal is still pending
	env.scheduleJob(t, j.ID)
	// countering a proposal on a scheduled job must not spawn a fresh one
	var ise fault.InvalidStateError
	if _, err := env.Engine.Respond(env.Ctx, engine.RespondOptions{
		ProposalID: p.ID, ActorID: "hank", Response: domain.ProposalCountered,
		CounterStart: "2024-03-03T14:00:00Z", CounterEnd: "2024-03-03T16:00:00Z",
	}); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError countering, got %v", err)
	}
	if _, err := env.Engine.Respond(env.Ctx, engine.RespondOptions{
		ProposalID: p.ID, ActorID: "hank", Response: domain.ProposalAccepted,
	}); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError accepting, got %v", err)
	}
	// rejection closes the stale proposal out
	resolved, err := env.Engine.Respond(env.Ctx, engine.RespondOptions{
		ProposalID: p.ID, ActorID: "hank", Response: domain.ProposalRejected,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if resolved.Status != domain.ProposalRejected {
		t.Fatalf("expected rejected, got %s", resolved.Status)
	}
	proposals, err := env.Engine.ListProposals(env.Ctx, j.ID, "hank")
	if err != nil {
		t.Fatal(err)
	}
	for _, cand := range proposals {
		if cand.Status == domain.ProposalPending {
			t.Fatalf("pending proposal left on scheduled job: %+v", cand)
		}
	}
}

func TestCancellationRules(t *testing.T) {
	env := newTestEnv(t)

	// pending cancels, and cancellation is homeowner only
	j := env.createJob(t)
	if _, err := env.Engine.CancelJob(env.Ctx, j.ID, "carla"); err == nil {
		t.Fatal("contractor cancelled a job")
	}
	j2, err := env.Engine.CancelJob(env.Ctx, j.ID, "hank")
	if err != nil || j2.Status != domain.JobCancelled {
		t.Fatalf("cancel pending: %v status=%s", err, j2.Status)
	}

	// matched cancels and releases the contractor binding
	j, _ = env.matchJob(t)
	j, err = env.Engine.CancelJob(env.Ctx, j.ID, "hank")
	if err != nil || j.Status != domain.JobCancelled {
		t.Fatalf("cancel matched: %v", err)
	}
	if j.ContractorID != nil {
		t.Fatalf("contractor binding not released: %+v", j.ContractorID)
	}

	// scheduled refuses cancellation
	j, _ = env.matchJob(t)
	j = env.scheduleJob(t, j.ID)
	var ise fault.InvalidStateError
	if _, err := env.Engine.CancelJob(env.Ctx, j.ID, "hank"); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError cancelling scheduled, got %v", err)
	}
}

func TestTransitionGraph(t *testing.T) {
	env := newTestEnv(t)
	j := env.createJob(t)
	var ite fault.InvalidTransitionError
	if _, err := env.Engine.Transition(env.Ctx, j.ID, domain.JobCompleted, "hank"); !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, j.ID, domain.JobScheduled, "hank"); !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	// in_progress cannot be reached without a check-in
	j, _ = env.matchJob(t)
	j = env.scheduleJob(t, j.ID)
	var pe fault.PreconditionError
	if _, err := env.Engine.Transition(env.Ctx, j.ID, domain.JobInProgress, "carla"); !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
}

func TestCheckInRequiresLocation(t *testing.T) {
	env := newTestEnv(t)
	j, _ := env.matchJob(t)
	j = env.scheduleJob(t, j.ID)
	var le fault.LocationUnavailableError
	if _, err := env.Engine.CheckIn(env.Ctx, j.ID, "carla", nil); !errors.As(err, &le) {
		t.Fatalf("expected LocationUnavailableError, got %v", err)
	}
	if _, err := env.Engine.CheckIn(env.Ctx, j.ID, "carla", &domain.GeoFix{Lat: 200, Lng: 0}); !errors.As(err, &le) {
		t.Fatalf("expected LocationUnavailableError for bad coords, got %v", err)
	}
	// job must not have advanced
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobScheduled {
		t.Fatalf("job advanced without a fix: %s", j.Status)
	}
	if _, err := env.Engine.CheckIn(env.Ctx, j.ID, "carla", here()); err != nil {
		t.Fatalf("check in: %v", err)
	}
	// check-in twice refused
	var ise fault.InvalidStateError
	if _, err := env.Engine.CheckIn(env.Ctx, j.ID, "carla", here()); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError on double check-in, got %v", err)
	}
}

func TestCompletionGating(t *testing.T) {
	env := newTestEnv(t)
	j, _ := env.matchJob(t)
	j = env.scheduleJob(t, j.ID)
	if _, err := env.Engine.CheckIn(env.Ctx, j.ID, "carla", here()); err != nil {
		t.Fatal(err)
	}
	// signing opens only after check-out; an early attempt must not wedge
	// the job
	var pe fault.PreconditionError
	if _, err := env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleContractor, "carla", []byte("a")); !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError signing before check-out, got %v", err)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobInProgress {
		t.Fatalf("job advanced early: %s", j.Status)
	}
	env.advance(time.Hour)
	if _, err := env.Engine.CheckOut(env.Ctx, j.ID, "carla", here()); err != nil {
		t.Fatalf("check out: %v", err)
	}
	if _, err := env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleContractor, "carla", []byte("a")); err != nil {
		t.Fatal(err)
	}
	// double-sign refused
	var ise fault.InvalidStateError
	if _, err := env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleContractor, "carla", []byte("a2")); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError on double sign, got %v", err)
	}
	// signing for the other party refused
	var ae fault.AuthorizationError
	if _, err := env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleContractor, "hank", []byte("c")); !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	// one signature alone does not complete
	sheet, err := env.Engine.GetSheet(env.Ctx, j.ID, "hank")
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Status != domain.SheetInProgress {
		t.Fatalf("unexpected sheet status %s", sheet.Status)
	}
	sheet, err = env.Engine.AttachSignature(env.Ctx, j.ID, domain.RoleHomeowner, "hank", []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Status != domain.SheetCompleted {
		t.Fatalf("sheet not completed after second signature: %s", sheet.Status)
	}
	j, _ = env.Engine.Repo.GetJob(env.Ctx, j.ID)
	if j.Status != domain.JobCompleted {
		t.Fatalf("job not completed: %s", j.Status)
	}
}

func TestJobPatchRules(t *testing.T) {
	env := newTestEnv(t)
	j := env.createJob(t)
	title := "Burst pipe"
	patched, err := env.Engine.PatchJob(env.Ctx, engine.JobPatchOptions{JobID: j.ID, ActorID: "hank", Title: &title})
	if err != nil || patched.Title != title {
		t.Fatalf("patch: %v", err)
	}
	if _, err := env.Engine.PatchJob(env.Ctx, engine.JobPatchOptions{JobID: j.ID, ActorID: "carla", Title: &title}); err == nil {
		t.Fatal("non-owner edited job")
	}
	empty := ""
	var ve fault.ValidationError
	if _, err := env.Engine.PatchJob(env.Ctx, engine.JobPatchOptions{JobID: j.ID, ActorID: "hank", Title: &empty}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, err := env.Engine.CancelJob(env.Ctx, j.ID, "hank"); err != nil {
		t.Fatal(err)
	}
	var ise fault.InvalidStateError
	if _, err := env.Engine.PatchJob(env.Ctx, engine.JobPatchOptions{JobID: j.ID, ActorID: "hank", Title: &title}); !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError editing cancelled job, got %v", err)
	}
}

func TestMatchCandidates(t *testing.T) {
	env := newTestEnv(t)
	j := env.createJob(t)
	candidates, err := env.Engine.MatchCandidates(env.Ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected both plumbers, got %d", len(candidates))
	}
	// unknown actor roles and trades are rejected at registration
	if _, err := env.Engine.RegisterActor(env.Ctx, domain.Actor{ID: "x", Role: "admin"}); err == nil {
		t.Fatal("registered invalid role")
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, domain.Actor{ID: "y", Role: domain.RoleContractor, Trade: "alchemy"}); err == nil {
		t.Fatal("registered unknown trade")
	}
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve fault.ValidationError
	if _, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{HomeownerID: "hank", Trade: "plumbing", Description: "d"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for missing title, got %v", err)
	}
	if _, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{HomeownerID: "hank", Trade: "alchemy", Title: "t", Description: "d"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unknown trade, got %v", err)
	}
	var ae fault.AuthorizationError
	if _, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{HomeownerID: "carla", Trade: "plumbing", Title: "t", Description: "d"}); !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError for contractor filer, got %v", err)
	}
	if _, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{HomeownerID: "nobody", Trade: "plumbing", Title: "t", Description: "d"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown filer, got %v", err)
	}
}

func TestEventLogOrdering(t *testing.T) {
	env := newTestEnv(t)
	j, _ := env.matchJob(t)
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, j.ID, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	var types []string
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	// newest first
	if types[len(types)-1] != "job.created" {
		t.Fatalf("oldest event should be job.created: %v", types)
	}
	found := map[string]bool{}
	for _, tp := range types {
		found[tp] = true
	}
	for _, want := range []string{"job.created", "job.status_changed", "quote.submitted", "quote.accepted"} {
		if !found[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
