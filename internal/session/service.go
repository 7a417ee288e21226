package session

import (
	"context"
	"strings"
	"time"

	"presenca/internal/apperr"
	"presenca/internal/metrics"
)

// CreateInput carries the caller-supplied fields for a new session.
type CreateInput struct {
	Name        string
	ClassID     string
	RoomID      string
	TeacherID   string
	SubjectCode string
	Date        time.Time
	EndsAt      time.Time
	Notes       string
}

// Service enforces the session lifecycle rules over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a lifecycle service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create validates required fields and persists a new active session.
// Date defaults to the current calendar day when unset.
func (s *Service) Create(ctx context.Context, in CreateInput) (Session, error) {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return Session{}, apperr.Validation("session name is required")
	case in.ClassID == "":
		return Session{}, apperr.Validation("class id is required")
	case in.RoomID == "":
		return Session{}, apperr.Validation("room id is required")
	case in.TeacherID == "":
		return Session{}, apperr.Validation("teacher id is required")
	case strings.TrimSpace(in.SubjectCode) == "":
		return Session{}, apperr.Validation("subject code is required")
	}
	name := strings.TrimSpace(in.Name)
	if len(name) < 3 || len(name) > 80 {
		return Session{}, apperr.Validation("session name must be 3-80 characters")
	}

	now := s.now().UTC()
	date := in.Date
	if date.IsZero() {
		date = now.Truncate(24 * time.Hour)
	}
	endsAt := in.EndsAt
	if endsAt.IsZero() {
		return Session{}, apperr.Validation("session end time is required")
	}
	if !endsAt.After(now) {
		return Session{}, apperr.Validation("session end time must be in the future")
	}

	return s.store.Insert(ctx, Session{
		Name:        name,
		ClassID:     in.ClassID,
		RoomID:      in.RoomID,
		TeacherID:   in.TeacherID,
		SubjectCode: strings.ToUpper(strings.TrimSpace(in.SubjectCode)),
		Date:        date,
		StartedAt:   now,
		EndsAt:      endsAt,
		Status:      StatusActive,
		Notes:       in.Notes,
	})
}

// GetByID loads a session or fails with a not-found error.
func (s *Service) GetByID(ctx context.Context, id string) (Session, error) {
	return s.store.Get(ctx, id)
}

// List returns sessions newest first, scoped to a class when classID is set.
func (s *Service) List(ctx context.Context, classID string) ([]Session, error) {
	if classID == "" {
		return s.store.ListAll(ctx)
	}
	return s.store.ListByClass(ctx, classID)
}

// ListClosedBySubject returns the closed sessions of a class and subject pair.
func (s *Service) ListClosedBySubject(ctx context.Context, classID, subjectCode string) ([]Session, error) {
	return s.store.ListClosedBySubject(ctx, classID, subjectCode)
}

// OpenForRoom returns the active session for a room, the totem attribution path.
func (s *Service) OpenForRoom(ctx context.Context, roomID string) (Session, error) {
	return s.store.OpenForRoom(ctx, roomID)
}

// Update applies a patch. Once closed only notes may change; any other field
// in the patch fails with a conflict.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Closed() && p.touchesProtected() {
		return Session{}, apperr.Conflict("session is closed")
	}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if len(name) < 3 || len(name) > 80 {
			return Session{}, apperr.Validation("session name must be 3-80 characters")
		}
		sess.Name = name
	}
	if p.Date != nil {
		sess.Date = *p.Date
	}
	if p.EndsAt != nil {
		if !p.EndsAt.After(s.now()) {
			return Session{}, apperr.Validation("session end time must be in the future")
		}
		sess.EndsAt = *p.EndsAt
	}
	if p.SubjectCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*p.SubjectCode))
		if code == "" {
			return Session{}, apperr.Validation("subject code cannot be empty")
		}
		sess.SubjectCode = code
	}
	if p.Notes != nil {
		sess.Notes = *p.Notes
	}

	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Close transitions the session to closed and records the close time.
// Closing an already-closed session is a no-op success.
func (s *Service) Close(ctx context.Context, id string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Closed() {
		return sess, nil
	}
	now := s.now().UTC()
	sess.Status = StatusClosed
	sess.ClosedAt = &now
	if err := s.store.Update(ctx, sess); err != nil {
		return Session{}, err
	}
	metrics.SessionsClosedTotal.WithLabelValues("manual").Inc()
	return sess, nil
}

// Delete removes a session. Closed sessions are immutable history and
// cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Closed() {
		return apperr.Conflict("session is closed")
	}
	return s.store.Delete(ctx, sess.ID)
}

// CloseExpired closes every active session whose end time has passed.
// Called from the worker ticker.
func (s *Service) CloseExpired(ctx context.Context) (int64, error) {
	n, err := s.store.CloseExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SessionsClosedTotal.WithLabelValues("auto").Add(float64(n))
	}
	return n, nil
}
