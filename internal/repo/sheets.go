package repo

import (
	"context"
	"database/sql"

	"fixline/internal/domain"
)

const sheetColumns = `id,job_id,contractor_id,status,notes,materials,time_spent_minutes,additional_costs,
check_in_time,check_in_lat,check_in_lng,check_in_accuracy,
check_out_time,check_out_lat,check_out_lng,check_out_accuracy,
contractor_signature,homeowner_signature,photos_json,created_at,updated_at`

func scanSheet(scan func(dest ...any) error) (domain.JobSheet, error) {
	var s domain.JobSheet
	var notes, materials, checkIn, checkOut, conSig, homeSig, photos sql.NullString
	var inLat, inLng, inAcc, outLat, outLng, outAcc sql.NullFloat64
	err := scan(&s.ID, &s.JobID, &s.ContractorID, &s.Status, &notes, &materials, &s.TimeSpentMinutes, &s.AdditionalCosts,
		&checkIn, &inLat, &inLng, &inAcc,
		&checkOut, &outLat, &outLng, &outAcc,
		&conSig, &homeSig, &photos, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	if materials.Valid {
		s.Materials = materials.String
	}
	if checkIn.Valid {
		s.CheckInTime = &checkIn.String
		s.CheckInLocation = &domain.GeoFix{Lat: inLat.Float64, Lng: inLng.Float64, Accuracy: inAcc.Float64}
	}
	if checkOut.Valid {
		s.CheckOutTime = &checkOut.String
		s.CheckOutLocation = &domain.GeoFix{Lat: outLat.Float64, Lng: outLng.Float64, Accuracy: outAcc.Float64}
	}
	if conSig.Valid {
		s.ContractorSignature = &conSig.String
	}
	if homeSig.Valid {
		s.HomeownerSignature = &homeSig.String
	}
	if photos.Valid {
		s.Photos = decodeStringSlice(photos.String)
	}
	return s, nil
}

func (r Repo) InsertSheet(ctx context.Context, tx *sql.Tx, s domain.JobSheet) error {
	photos, err := encodeStringSlice(s.Photos)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO job_sheets(`+sheetColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.JobID, s.ContractorID, s.Status, nullable(s.Notes), nullable(s.Materials), s.TimeSpentMinutes, s.AdditionalCosts,
		nullableStringPtr(s.CheckInTime), geoLat(s.CheckInLocation), geoLng(s.CheckInLocation), geoAcc(s.CheckInLocation),
		nullableStringPtr(s.CheckOutTime), geoLat(s.CheckOutLocation), geoLng(s.CheckOutLocation), geoAcc(s.CheckOutLocation),
		nullableStringPtr(s.ContractorSignature), nullableStringPtr(s.HomeownerSignature), photos, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSheetTx(ctx context.Context, tx *sql.Tx, s domain.JobSheet) error {
	photos, err := encodeStringSlice(s.Photos)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE job_sheets SET status=?, notes=?, materials=?, time_spent_minutes=?, additional_costs=?,
check_in_time=?, check_in_lat=?, check_in_lng=?, check_in_accuracy=?,
check_out_time=?, check_out_lat=?, check_out_lng=?, check_out_accuracy=?,
contractor_signature=?, homeowner_signature=?, photos_json=?, updated_at=? WHERE id=?`,
		s.Status, nullable(s.Notes), nullable(s.Materials), s.TimeSpentMinutes, s.AdditionalCosts,
		nullableStringPtr(s.CheckInTime), geoLat(s.CheckInLocation), geoLng(s.CheckInLocation), geoAcc(s.CheckInLocation),
		nullableStringPtr(s.CheckOutTime), geoLat(s.CheckOutLocation), geoLng(s.CheckOutLocation), geoAcc(s.CheckOutLocation),
		nullableStringPtr(s.ContractorSignature), nullableStringPtr(s.HomeownerSignature), photos, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSheetByJob(ctx context.Context, jobID string) (domain.JobSheet, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sheetColumns+` FROM job_sheets WHERE job_id=?`, jobID)
	return scanSheet(row.Scan)
}

func (r Repo) GetSheetByJobTx(ctx context.Context, tx *sql.Tx, jobID string) (domain.JobSheet, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sheetColumns+` FROM job_sheets WHERE job_id=?`, jobID)
	return scanSheet(row.Scan)
}

func geoLat(g *domain.GeoFix) any {
	if g == nil {
		return nil
	}
	return g.Lat
}

func geoLng(g *domain.GeoFix) any {
	if g == nil {
		return nil
	}
	return g.Lng
}

func geoAcc(g *domain.GeoFix) any {
	if g == nil {
		return nil
	}
	return g.Accuracy
}
