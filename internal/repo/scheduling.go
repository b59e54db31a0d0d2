package repo

import (
	"context"
	"database/sql"

	"fixline/internal/domain"
)

const slotColumns = `id,contractor_id,start_time,end_time,is_booked,job_id,title,notes,location,created_at`

func scanSlot(scan func(dest ...any) error) (domain.ScheduleSlot, error) {
	var s domain.ScheduleSlot
	var jobID, title, notes, location sql.NullString
	var booked int
	err := scan(&s.ID, &s.ContractorID, &s.StartTime, &s.EndTime, &booked, &jobID, &title, &notes, &location, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.IsBooked = booked != 0
	if jobID.Valid {
		s.JobID = &jobID.String
	}
	if title.Valid {
		s.Title = title.String
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	if location.Valid {
		s.Location = location.String
	}
	return s, nil
}

func (r Repo) InsertSlot(ctx context.Context, tx *sql.Tx, s domain.ScheduleSlot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO schedule_slots(`+slotColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ContractorID, s.StartTime, s.EndTime, boolInt(s.IsBooked), nullableStringPtr(s.JobID),
		nullable(s.Title), nullable(s.Notes), nullable(s.Location), s.CreatedAt)
	return err
}

func (r Repo) GetSlot(ctx context.Context, id string) (domain.ScheduleSlot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM schedule_slots WHERE id=?`, id)
	return scanSlot(row.Scan)
}

func (r Repo) ListSlotsByContractor(ctx context.Context, contractorID string, availableOnly bool) ([]domain.ScheduleSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM schedule_slots WHERE contractor_id=?`
	if availableOnly {
		query += ` AND is_booked=0`
	}
	query += ` ORDER BY start_time ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleSlot
	for rows.Next() {
		s, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountOverlappingSlots reports declared windows for the contractor that
// intersect [start, end). RFC3339 strings compare in time order.
func (r Repo) CountOverlappingSlots(ctx context.Context, contractorID, start, end string) (int, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM schedule_slots WHERE contractor_id=? AND start_time < ? AND end_time > ?`,
		contractorID, end, start)
	var n int
	err := row.Scan(&n)
	return n, err
}

// MarkSlotBookedTx is the conditional check-and-set that serializes booking:
// it succeeds for exactly one caller per slot and returns ErrStale for every
// other.
func (r Repo) MarkSlotBookedTx(ctx context.Context, tx *sql.Tx, slotID, jobID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE schedule_slots SET is_booked=1, job_id=? WHERE id=? AND is_booked=0`, jobID, slotID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// DeleteSlot removes an unbooked slot; deleting a booked slot is refused.
func (r Repo) DeleteSlot(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM schedule_slots WHERE id=? AND is_booked=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

const proposalColumns = `id,job_id,proposed_by,start_time,end_time,status,message,created_at,responded_at`

func scanProposal(scan func(dest ...any) error) (domain.AppointmentProposal, error) {
	var p domain.AppointmentProposal
	var message, respondedAt sql.NullString
	err := scan(&p.ID, &p.JobID, &p.ProposedBy, &p.StartTime, &p.EndTime, &p.Status, &message, &p.CreatedAt, &respondedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if message.Valid {
		p.Message = message.String
	}
	if respondedAt.Valid {
		p.RespondedAt = &respondedAt.String
	}
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.AppointmentProposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO appointment_proposals(`+proposalColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.ProposedBy, p.StartTime, p.EndTime, p.Status, nullable(p.Message), p.CreatedAt, nullableStringPtr(p.RespondedAt))
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.AppointmentProposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM appointment_proposals WHERE id=?`, id)
	return scanProposal(row.Scan)
}

func (r Repo) ListProposalsByJob(ctx context.Context, jobID string) ([]domain.AppointmentProposal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+proposalColumns+` FROM appointment_proposals WHERE job_id=? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AppointmentProposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) PendingProposalForJob(ctx context.Context, jobID string) (domain.AppointmentProposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM appointment_proposals WHERE job_id=? AND status='pending' LIMIT 1`, jobID)
	return scanProposal(row.Scan)
}

// ResolveProposalTx moves a proposal out of pending, conditioned on it still
// being pending. Concurrent responders race on this row; one wins.
func (r Repo) ResolveProposalTx(ctx context.Context, tx *sql.Tx, id, status, respondedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE appointment_proposals SET status=?, responded_at=? WHERE id=? AND status='pending'`,
		status, respondedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}
