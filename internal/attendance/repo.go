package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"presenca/internal/apperr"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const recordColumns = `id, session_id, student_id, status, check_in_time, origin, recorded_by, created_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var recordedBy sql.NullString
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status,
		&rec.CheckInTime, &rec.Origin, &recordedBy, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.RecordedBy = recordedBy.String
	return rec, nil
}

// Find returns the live record for a (session, student) pair.
func (r *Repository) Find(ctx context.Context, sessionID, studentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.NotFound("attendance record not found")
	}
	return rec, err
}

// Replace removes any existing record for the pair and inserts the new one
// inside a single transaction, so concurrent readers never observe two live
// records or a torn pair.
func (r *Repository) Replace(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CheckInTime.IsZero() {
		rec.CheckInTime = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM attendance_records WHERE session_id = $1 AND student_id = $2
	`, rec.SessionID, rec.StudentID); err != nil {
		return Record{}, err
	}

	var recordedBy any
	if rec.RecordedBy != "" {
		recordedBy = rec.RecordedBy
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, check_in_time, origin, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.CheckInTime, rec.Origin, recordedBy)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the live record for a pair, failing when none exists.
func (r *Repository) Delete(ctx context.Context, sessionID, studentID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_records WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attendance record not found")
	}
	return nil
}

// ListBySession returns the records of one session ordered by check-in time.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1
		ORDER BY check_in_time ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListForSessions returns the records of many sessions, the subject report input.
func (r *Repository) ListForSessions(ctx context.Context, sessionIDs []string) ([]Record, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = ANY($1)
		ORDER BY check_in_time ASC
	`, sessionIDs)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// DeleteBySession wipes every record of a session (the reset operation).
func (r *Repository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_records WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
