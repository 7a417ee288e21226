package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"presenca/internal/apperr"
)

// Repository persists class sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const sessionColumns = `id, name, class_id, room_id, teacher_id, subject_code,
	date, started_at, ends_at, status, closed_at, notes, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var closedAt sql.NullTime
	err := row.Scan(&s.ID, &s.Name, &s.ClassID, &s.RoomID, &s.TeacherID, &s.SubjectCode,
		&s.Date, &s.StartedAt, &s.EndsAt, &s.Status, &closedAt, &s.Notes, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return s, nil
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO class_sessions (id, name, class_id, room_id, teacher_id, subject_code,
			date, started_at, ends_at, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, s.ID, s.Name, s.ClassID, s.RoomID, s.TeacherID, s.SubjectCode,
		s.Date, s.StartedAt, s.EndsAt, s.Status, s.Notes)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a single session by id.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, apperr.NotFound("session not found")
	}
	return s, err
}

// Update persists the mutable session fields.
func (r *Repository) Update(ctx context.Context, s Session) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions
		SET name = $2, date = $3, ends_at = $4, subject_code = $5,
			status = $6, closed_at = $7, notes = $8
		WHERE id = $1
	`, s.ID, s.Name, s.Date, s.EndsAt, s.SubjectCode, s.Status, s.ClosedAt, s.Notes)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session not found")
	}
	return nil
}

// Delete removes a session row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM class_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session not found")
	}
	return nil
}

// ListAll returns every session, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListByClass returns every session of a class, newest first.
func (r *Repository) ListByClass(ctx context.Context, classID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE class_id = $1
		ORDER BY started_at DESC
	`, classID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListClosedBySubject returns the closed sessions of a (class, subject) pair,
// the input of the subject frequency report.
func (r *Repository) ListClosedBySubject(ctx context.Context, classID, subjectCode string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE class_id = $1 AND subject_code = $2 AND status = $3
		ORDER BY date ASC, started_at ASC
	`, classID, subjectCode, StatusClosed)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// OpenForRoom returns the active session for a room.
func (r *Repository) OpenForRoom(ctx context.Context, roomID string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE room_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, roomID, StatusActive)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, apperr.NotFound("no open session for room")
	}
	return s, err
}

// CloseExpired closes active sessions past their end time in one statement.
func (r *Repository) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions
		SET status = $1, closed_at = $2
		WHERE status = $3 AND ends_at < $2
	`, StatusClosed, now, StatusActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
