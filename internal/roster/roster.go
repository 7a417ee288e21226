// Package roster exposes the class enrollment data the attendance engine
// consumes. Enrollment itself is owned by the class management subsystem.
package roster

import (
	"context"
	"database/sql"
	"errors"

	"presenca/internal/apperr"
)

// Student is one roster member.
type Student struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Registration string `json:"registration"`
}

// Provider supplies the roster of a class.
type Provider interface {
	StudentsForClass(ctx context.Context, classID string) ([]Student, error)
	IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
}

// Repository reads enrollment from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Provider = (*Repository)(nil)

// StudentsForClass returns the roster of a class ordered by name.
func (r *Repository) StudentsForClass(ctx context.Context, classID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.registration
		FROM students s
		JOIN enrollments e ON e.student_id = s.id
		WHERE e.class_id = $1
		ORDER BY s.name ASC
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Registration); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// IsEnrolled reports whether the student belongs to the class.
func (r *Repository) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM enrollments WHERE class_id = $1 AND student_id = $2
	`, classID, studentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveFaceEmbedding stores the enrollment embedding on the student record.
func (r *Repository) SaveFaceEmbedding(ctx context.Context, studentID, embedding string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET face_embedding = $2 WHERE id = $1
	`, studentID, embedding)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("student not found")
	}
	return nil
}

// GetStudent returns one student by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	var st Student
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, registration FROM students WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Registration)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, apperr.NotFound("student not found")
	}
	return st, err
}
