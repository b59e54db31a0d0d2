package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fixline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStale signals a conditional write that matched zero rows: the guarded
// column changed between the caller's read and write.
var ErrStale = errors.New("stale write")

const jobColumns = `id,homeowner_id,contractor_id,trade,title,description,location,status,preferred_date,scheduled_at,estimated_cost,actual_cost,paid,photos_json,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var contractorID, location, preferredDate, scheduledAt, photos sql.NullString
	var estimatedCost, actualCost sql.NullInt64
	var paid int
	err := scan(&j.ID, &j.HomeownerID, &contractorID, &j.Trade, &j.Title, &j.Description, &location,
		&j.Status, &preferredDate, &scheduledAt, &estimatedCost, &actualCost, &paid, &photos, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if contractorID.Valid {
		j.ContractorID = &contractorID.String
	}
	if location.Valid {
		j.Location = location.String
	}
	if preferredDate.Valid {
		j.PreferredDate = &preferredDate.String
	}
	if scheduledAt.Valid {
		j.ScheduledAt = &scheduledAt.String
	}
	if estimatedCost.Valid {
		j.EstimatedCost = &estimatedCost.Int64
	}
	if actualCost.Valid {
		j.ActualCost = &actualCost.Int64
	}
	j.Paid = paid != 0
	if photos.Valid {
		j.Photos = decodeStringSlice(photos.String)
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	photos, err := encodeStringSlice(j.Photos)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.HomeownerID, nullableStringPtr(j.ContractorID), j.Trade, j.Title, j.Description, nullable(j.Location),
		j.Status, nullableStringPtr(j.PreferredDate), nullableStringPtr(j.ScheduledAt),
		nullableInt64Ptr(j.EstimatedCost), nullableInt64Ptr(j.ActualCost), boolInt(j.Paid), photos, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

type JobFilters struct {
	HomeownerID     string
	ContractorID    string
	Status          string
	Trade           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.HomeownerID != "" {
		clauses = append(clauses, "homeowner_id=?")
		args = append(args, f.HomeownerID)
	}
	if f.ContractorID != "" {
		clauses = append(clauses, "contractor_id=?")
		args = append(args, f.ContractorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Trade != "" {
		clauses = append(clauses, "trade=?")
		args = append(args, f.Trade)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// UpdateJobTx writes the full job row conditioned on the status the caller
// read. Zero affected rows means a concurrent transition won; the caller must
// not overwrite it.
func (r Repo) UpdateJobTx(ctx context.Context, tx *sql.Tx, j domain.Job, priorStatus string) error {
	photos, err := encodeStringSlice(j.Photos)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET contractor_id=?, trade=?, title=?, description=?, location=?, status=?, preferred_date=?, scheduled_at=?, estimated_cost=?, actual_cost=?, paid=?, photos_json=?, updated_at=? WHERE id=? AND status=?`,
		nullableStringPtr(j.ContractorID), j.Trade, j.Title, j.Description, nullable(j.Location), j.Status,
		nullableStringPtr(j.PreferredDate), nullableStringPtr(j.ScheduledAt),
		nullableInt64Ptr(j.EstimatedCost), nullableInt64Ptr(j.ActualCost), boolInt(j.Paid), photos, j.UpdatedAt,
		j.ID, priorStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,role,name,trade,location,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Role, nullable(a.Name), nullable(a.Trade), nullable(a.Location), a.CreatedAt)
	return err
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id,role,name,trade,location,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Role, nullable(a.Name), nullable(a.Trade), nullable(a.Location), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var name, trade, location sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,role,name,trade,location,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Role, &name, &trade, &location, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if name.Valid {
		a.Name = name.String
	}
	if trade.Valid {
		a.Trade = trade.String
	}
	if location.Valid {
		a.Location = location.String
	}
	return a, nil
}

func (r Repo) ListContractorsByTrade(ctx context.Context, trade string) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,role,name,trade,location,created_at FROM actors WHERE role='contractor' AND trade=? ORDER BY created_at ASC`, trade)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var name, tr, location sql.NullString
		if err := rows.Scan(&a.ID, &a.Role, &name, &tr, &location, &a.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			a.Name = name.String
		}
		if tr.Valid {
			a.Trade = tr.String
		}
		if location.Valid {
			a.Location = location.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, jobID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,job_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, jobID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,job_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var jobID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &jobID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if jobID.Valid {
			e.JobID = jobID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStringSlice(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
