// Package session owns the class session lifecycle: a session is created
// active, may be edited while active, and transitions to closed exactly once.
// Closed is terminal; there is no reopen.
package session

import (
	"context"
	"time"
)

// Status is the lifecycle state of a class session.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Session is a single scheduled class meeting for which attendance is taken.
type Session struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ClassID     string     `json:"class_id"`
	RoomID      string     `json:"room_id"`
	TeacherID   string     `json:"teacher_id"`
	SubjectCode string     `json:"subject_code"`
	Date        time.Time  `json:"date"`
	StartedAt   time.Time  `json:"started_at"`
	EndsAt      time.Time  `json:"ends_at"`
	Status      Status     `json:"status"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Closed reports whether the session no longer accepts attendance mutations.
func (s Session) Closed() bool { return s.Status == StatusClosed }

// Patch holds the editable session fields; nil means "leave unchanged".
type Patch struct {
	Name        *string    `json:"name"`
	Date        *time.Time `json:"date"`
	EndsAt      *time.Time `json:"ends_at"`
	SubjectCode *string    `json:"subject_code"`
	Notes       *string    `json:"notes"`
}

// touchesProtected reports whether the patch edits fields frozen after close.
// Notes stay editable on a closed session.
func (p Patch) touchesProtected() bool {
	return p.Name != nil || p.Date != nil || p.EndsAt != nil || p.SubjectCode != nil
}

// Store is the persistence contract for class sessions.
type Store interface {
	Insert(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]Session, error)
	ListByClass(ctx context.Context, classID string) ([]Session, error)
	ListClosedBySubject(ctx context.Context, classID, subjectCode string) ([]Session, error)
	OpenForRoom(ctx context.Context, roomID string) (Session, error)
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
}
