package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"fixline/internal/blob"
	"fixline/internal/domain"
	"fixline/internal/engine/fault"
	"fixline/internal/events"
	"fixline/internal/repo"
)

// LocationProvider turns a client-reported position into a recorded fix.
// Check-in and check-out refuse to proceed without one.
type LocationProvider interface {
	Fix(ctx context.Context, reported *domain.GeoFix) (domain.GeoFix, error)
}

// ReportedLocation trusts the coordinates the device reported after sanity
// checks. Server-side verification against the job address would slot in as
// another LocationProvider.
type ReportedLocation struct{}

func (ReportedLocation) Fix(ctx context.Context, reported *domain.GeoFix) (domain.GeoFix, error) {
	if reported == nil {
		return domain.GeoFix{}, fault.LocationUnavailableError{Reason: "no position reported"}
	}
	if reported.Lat < -90 || reported.Lat > 90 || reported.Lng < -180 || reported.Lng > 180 {
		return domain.GeoFix{}, fault.LocationUnavailableError{Reason: "coordinates out of range"}
	}
	if reported.Accuracy < 0 {
		return domain.GeoFix{}, fault.LocationUnavailableError{Reason: "negative accuracy"}
	}
	return *reported, nil
}

// SignatureCapture persists a raw signature stroke and returns a stable
// reference to store on the job sheet.
type SignatureCapture interface {
	Capture(role string, stroke []byte) (string, error)
}

type BlobSignatures struct {
	Store blob.Store
}

func (b BlobSignatures) Capture(role string, stroke []byte) (string, error) {
	return b.Store.Put("signatures", stroke)
}

// CheckIn records on-site arrival: it creates the job sheet and moves the
// job from scheduled to in_progress. Contractor only, location mandatory.
func (e Engine) CheckIn(ctx context.Context, jobID, actorID string, reported *domain.GeoFix) (domain.JobSheet, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSheet{}, err
	}
	if j.ContractorID == nil || *j.ContractorID != actorID {
		return domain.JobSheet{}, fault.AuthorizationError{ActorID: actorID, Operation: "check in on job " + j.ID}
	}
	if j.Status != domain.JobScheduled {
		return domain.JobSheet{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "check in"}
	}
	fix, err := e.Location.Fix(ctx, reported)
	if err != nil {
		return domain.JobSheet{}, err
	}
	if _, err := e.Repo.GetSheetByJob(ctx, jobID); err == nil {
		return domain.JobSheet{}, fault.InvalidStateError{Entity: "job_sheet", ID: jobID, Status: domain.SheetInProgress, Operation: "check in twice"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.JobSheet{}, err
	}
	now := e.nowStr()
	sheet := domain.JobSheet{
		ID:              uuid.New().String(),
		JobID:           j.ID,
		ContractorID:    actorID,
		Status:          domain.SheetInProgress,
		CheckInTime:     &now,
		CheckInLocation: &fix,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sheet, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSheet(ctx, tx, sheet); err != nil {
		return sheet, err
	}
	if err := e.log().Append(ctx, tx, events.TypeSheetCheckedIn, j.ID, "job_sheet", sheet.ID, actorID, events.EventPayload{
		"lat": fix.Lat,
		"lng": fix.Lng,
	}); err != nil {
		return sheet, err
	}
	if err := e.transitionTx(ctx, tx, &j, domain.JobInProgress, actorID); err != nil {
		return sheet, err
	}
	if err := tx.Commit(); err != nil {
		return sheet, err
	}
	return sheet, nil
}

// CheckOut records departure from site. Work records and signatures can still
// be added afterwards; completion fires once both signatures are present.
func (e Engine) CheckOut(ctx context.Context, jobID, actorID string, reported *domain.GeoFix) (domain.JobSheet, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSheet{}, err
	}
	if j.ContractorID == nil || *j.ContractorID != actorID {
		return domain.JobSheet{}, fault.AuthorizationError{ActorID: actorID, Operation: "check out on job " + j.ID}
	}
	if j.Status != domain.JobInProgress {
		return domain.JobSheet{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "check out"}
	}
	sheet, err := e.Repo.GetSheetByJob(ctx, jobID)
	if err != nil {
		return sheet, err
	}
	if sheet.CheckInTime == nil {
		return sheet, fault.PreconditionError{JobID: j.ID, Invariant: "check-in required before check-out"}
	}
	if sheet.CheckOutTime != nil {
		return sheet, fault.InvalidStateError{Entity: "job_sheet", ID: sheet.ID, Status: sheet.Status, Operation: "check out twice"}
	}
	fix, err := e.Location.Fix(ctx, reported)
	if err != nil {
		return sheet, err
	}
	now := e.nowStr()
	if now <= *sheet.CheckInTime {
		return sheet, fault.ValidationError{Field: "check_out_time", Reason: "must be after check-in"}
	}
	sheet.CheckOutTime = &now
	sheet.CheckOutLocation = &fix
	sheet.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sheet, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSheetTx(ctx, tx, sheet); err != nil {
		return sheet, err
	}
	if err := e.log().Append(ctx, tx, events.TypeSheetCheckedOut, j.ID, "job_sheet", sheet.ID, actorID, events.EventPayload{
		"lat": fix.Lat,
		"lng": fix.Lng,
	}); err != nil {
		return sheet, err
	}
	if err := tx.Commit(); err != nil {
		return sheet, err
	}
	return sheet, nil
}

// WorkRecord carries additive updates to the job sheet. Nil pointer fields are
// untouched; costs and minutes accumulate rather than overwrite.
type WorkRecord struct {
	Notes            *string
	Materials        *string
	TimeSpentMinutes int
	AdditionalCosts  int64
}

func (e Engine) RecordWork(ctx context.Context, jobID, actorID string, rec WorkRecord) (domain.JobSheet, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSheet{}, err
	}
	if j.ContractorID == nil || *j.ContractorID != actorID {
		return domain.JobSheet{}, fault.AuthorizationError{ActorID: actorID, Operation: "record work on job " + j.ID}
	}
	if j.Status != domain.JobInProgress {
		return domain.JobSheet{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "record work"}
	}
	sheet, err := e.Repo.GetSheetByJob(ctx, jobID)
	if err != nil {
		return sheet, err
	}
	if sheet.Status == domain.SheetCompleted {
		return sheet, fault.InvalidStateError{Entity: "job_sheet", ID: sheet.ID, Status: sheet.Status, Operation: "record work"}
	}
	if rec.TimeSpentMinutes < 0 {
		return sheet, fault.ValidationError{Field: "time_spent_minutes", Reason: "must not be negative"}
	}
	if rec.AdditionalCosts < 0 {
		return sheet, fault.ValidationError{Field: "additional_costs", Reason: "must not be negative"}
	}
	if rec.Notes != nil {
		sheet.Notes = *rec.Notes
	}
	if rec.Materials != nil {
		sheet.Materials = *rec.Materials
	}
	sheet.TimeSpentMinutes += rec.TimeSpentMinutes
	sheet.AdditionalCosts += rec.AdditionalCosts
	sheet.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sheet, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSheetTx(ctx, tx, sheet); err != nil {
		return sheet, err
	}
	if err := e.log().Append(ctx, tx, events.TypeSheetUpdated, j.ID, "job_sheet", sheet.ID, actorID, nil); err != nil {
		return sheet, err
	}
	if err := tx.Commit(); err != nil {
		return sheet, err
	}
	return sheet, nil
}

// AddSheetPhoto stores a work evidence photo and appends it to the sheet.
func (e Engine) AddSheetPhoto(ctx context.Context, jobID, actorID string, data []byte) (domain.JobSheet, string, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSheet{}, "", err
	}
	if j.ContractorID == nil || *j.ContractorID != actorID {
		return domain.JobSheet{}, "", fault.AuthorizationError{ActorID: actorID, Operation: "attach photo to job sheet"}
	}
	sheet, err := e.Repo.GetSheetByJob(ctx, jobID)
	if err != nil {
		return sheet, "", err
	}
	if sheet.Status == domain.SheetCompleted {
		return sheet, "", fault.InvalidStateError{Entity: "job_sheet", ID: sheet.ID, Status: sheet.Status, Operation: "attach photo"}
	}
	if len(data) == 0 {
		return sheet, "", fault.ValidationError{Field: "photo", Reason: "empty payload"}
	}
	ref, err := e.Blobs.Put("photos", data)
	if err != nil {
		return sheet, "", err
	}
	sheet.Photos = append(sheet.Photos, ref)
	sheet.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sheet, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSheetTx(ctx, tx, sheet); err != nil {
		return sheet, "", err
	}
	if err := e.log().Append(ctx, tx, events.TypeSheetUpdated, j.ID, "job_sheet", sheet.ID, actorID, events.EventPayload{"photo": ref}); err != nil {
		return sheet, "", err
	}
	if err := tx.Commit(); err != nil {
		return sheet, "", err
	}
	return sheet, ref, nil
}

// AttachSignature records a party's sign-off. Signing opens only after
// check-out; the moment both signatures are present the sheet completes and
// the job advances to completed with the actual cost settled. This is the
// only code path that reaches completed.
func (e Engine) AttachSignature(ctx context.Context, jobID, role, actorID string, stroke []byte) (domain.JobSheet, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSheet{}, err
	}
	switch role {
	case domain.RoleContractor:
		if j.ContractorID == nil || *j.ContractorID != actorID {
			return domain.JobSheet{}, fault.AuthorizationError{ActorID: actorID, Operation: "sign as contractor on job " + j.ID}
		}
	case domain.RoleHomeowner:
		if j.HomeownerID != actorID {
			return domain.JobSheet{}, fault.AuthorizationError{ActorID: actorID, Operation: "sign as homeowner on job " + j.ID}
		}
	default:
		return domain.JobSheet{}, fault.ValidationError{Field: "role", Reason: "must be homeowner or contractor"}
	}
	if j.Status != domain.JobInProgress {
		return domain.JobSheet{}, fault.InvalidStateError{Entity: "job", ID: j.ID, Status: j.Status, Operation: "sign"}
	}
	if len(stroke) == 0 {
		return domain.JobSheet{}, fault.ValidationError{Field: "signature", Reason: "empty payload"}
	}
	sheet, err := e.Repo.GetSheetByJob(ctx, jobID)
	if err != nil {
		return sheet, err
	}
	if sheet.Status == domain.SheetCompleted {
		return sheet, fault.InvalidStateError{Entity: "job_sheet", ID: sheet.ID, Status: sheet.Status, Operation: "sign"}
	}
	if sheet.CheckOutTime == nil {
		return sheet, fault.PreconditionError{JobID: j.ID, Invariant: "check-out required before signing"}
	}
	existing := sheet.ContractorSignature
	if role == domain.RoleHomeowner {
		existing = sheet.HomeownerSignature
	}
	if existing != nil {
		return sheet, fault.InvalidStateError{Entity: "job_sheet", ID: sheet.ID, Status: sheet.Status, Operation: "sign twice as " + role}
	}
	ref, err := e.Signatures.Capture(role, stroke)
	if err != nil {
		return sheet, err
	}
	now := e.nowStr()
	if role == domain.RoleContractor {
		sheet.ContractorSignature = &ref
	} else {
		sheet.HomeownerSignature = &ref
	}
	sheet.UpdatedAt = now
	complete := sheet.ContractorSignature != nil && sheet.HomeownerSignature != nil
	if complete {
		sheet.Status = domain.SheetCompleted
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sheet, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSheetTx(ctx, tx, sheet); err != nil {
		return sheet, err
	}
	if err := e.log().Append(ctx, tx, events.TypeSheetSigned, j.ID, "job_sheet", sheet.ID, actorID, events.EventPayload{
		"role": role,
	}); err != nil {
		return sheet, err
	}
	if complete {
		if err := e.log().Append(ctx, tx, events.TypeSheetCompleted, j.ID, "job_sheet", sheet.ID, actorID, nil); err != nil {
			return sheet, err
		}
		var estimated int64
		if j.EstimatedCost != nil {
			estimated = *j.EstimatedCost
		}
		actual := estimated + sheet.AdditionalCosts
		j.ActualCost = &actual
		if err := e.transitionTx(ctx, tx, &j, domain.JobCompleted, actorID); err != nil {
			return sheet, err
		}
	}
	if err := tx.Commit(); err != nil {
		return sheet, err
	}
	return sheet, nil
}

// GetSheet returns the job sheet for a job, visible to either party.
func (e Engine) GetSheet(ctx context.Context, jobID, actorID string) (domain.JobSheet, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSheet{}, err
	}
	if !e.isParty(j, actorID) {
		return domain.JobSheet{}, fault.AuthorizationError{ActorID: actorID, Operation: "view job sheet for job " + j.ID}
	}
	return e.Repo.GetSheetByJob(ctx, jobID)
}
