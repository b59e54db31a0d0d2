package repo

import (
	"context"
	"database/sql"

	"fixline/internal/domain"
)

func scanQuote(scan func(dest ...any) error) (domain.Quote, error) {
	var q domain.Quote
	var desc sql.NullString
	err := scan(&q.ID, &q.JobID, &q.ContractorID, &q.Amount, &q.DurationMinutes, &desc, &q.Status, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	if desc.Valid {
		q.Description = desc.String
	}
	return q, nil
}

func (r Repo) InsertQuote(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotes(id,job_id,contractor_id,amount,duration_minutes,description,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		q.ID, q.JobID, q.ContractorID, q.Amount, q.DurationMinutes, nullable(q.Description), q.Status, q.CreatedAt)
	return err
}

func (r Repo) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,job_id,contractor_id,amount,duration_minutes,description,status,created_at FROM quotes WHERE id=?`, id)
	return scanQuote(row.Scan)
}

func (r Repo) GetQuoteTx(ctx context.Context, tx *sql.Tx, id string) (domain.Quote, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,job_id,contractor_id,amount,duration_minutes,description,status,created_at FROM quotes WHERE id=?`, id)
	return scanQuote(row.Scan)
}

func (r Repo) ListQuotesByJob(ctx context.Context, jobID string) ([]domain.Quote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,job_id,contractor_id,amount,duration_minutes,description,status,created_at FROM quotes WHERE job_id=? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// AcceptQuoteTx marks one quote accepted and every sibling pending quote
// rejected, conditioned on the quote still being pending.
func (r Repo) AcceptQuoteTx(ctx context.Context, tx *sql.Tx, jobID, quoteID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE quotes SET status='accepted' WHERE id=? AND job_id=? AND status='pending'`, quoteID, jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	_, err = tx.ExecContext(ctx, `UPDATE quotes SET status='rejected' WHERE job_id=? AND id<>? AND status='pending'`, jobID, quoteID)
	return err
}
