// Package attendance holds the attendance record store contract and the
// mutation service that writes records subject to the session lifecycle.
//
// Absence is not stored: a student with no record for a session is ausente.
// A status change is a delete-then-insert of the live record, never an
// in-place update, so the check-in time always reflects the latest change.
package attendance

import (
	"context"
	"time"
)

// Status of an attendance record. Only presente and atrasado are ever
// persisted; ausente is the computed state for a missing record.
type Status string

const (
	StatusPresent Status = "presente"
	StatusLate    Status = "atrasado"
	StatusAbsent  Status = "ausente"
)

// Storable reports whether the status maps to a persisted record.
func (s Status) Storable() bool { return s == StatusPresent || s == StatusLate }

// Valid reports whether the status is one of the three known values.
func (s Status) Valid() bool { return s.Storable() || s == StatusAbsent }

// Origin tells how a record was created.
type Origin string

const (
	OriginManual Origin = "manual"
	OriginFacial Origin = "facial"
)

// Record is one live attendance entry. At most one exists per
// (student, session) pair at any time.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	Status      Status    `json:"status"`
	CheckInTime time.Time `json:"check_in_time"`
	Origin      Origin    `json:"origin"`
	RecordedBy  string    `json:"recorded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence contract for attendance records. Replace must
// remove any existing record for the pair and insert the new one atomically.
type Store interface {
	Find(ctx context.Context, sessionID, studentID string) (Record, error)
	Replace(ctx context.Context, rec Record) (Record, error)
	Delete(ctx context.Context, sessionID, studentID string) error
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	ListForSessions(ctx context.Context, sessionIDs []string) ([]Record, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}
