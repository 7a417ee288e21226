package attendance

import (
	"context"
	"errors"
	"time"

	"presenca/internal/apperr"
	"presenca/internal/metrics"
	"presenca/internal/session"
)

// SessionDirectory is the slice of the session service this package needs.
type SessionDirectory interface {
	GetByID(ctx context.Context, id string) (session.Session, error)
	OpenForRoom(ctx context.Context, roomID string) (session.Session, error)
}

// Membership answers whether a student is enrolled in a class.
type Membership interface {
	IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
}

// Matcher resolves a capture to a student identity, or fails with a
// not-recognized error when no match clears the service threshold.
type Matcher interface {
	Recognize(ctx context.Context, roomID, imageURL string) (string, error)
}

// Capture is a raw facial capture submitted by a totem.
type Capture struct {
	RoomID   string
	TotemID  string
	ImageURL string
}

// FacialResult is the outcome of a facial capture: either a live record, or
// a buffered pre-capture when the room has no open session yet.
type FacialResult struct {
	StudentID string  `json:"student_id"`
	Buffered  bool    `json:"buffered"`
	Record    *Record `json:"record,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
}

// BulkFailure names a student a bulk operation could not apply to.
type BulkFailure struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// BulkResult aggregates a best-effort bulk mutation.
type BulkResult struct {
	Applied  int           `json:"applied"`
	Failures []BulkFailure `json:"failures"`
}

// Service mutates attendance records subject to the session lifecycle.
type Service struct {
	store    Store
	sessions SessionDirectory
	roster   Membership
	faces    Matcher
	pre      PreStore
	now      func() time.Time
}

// NewService creates a mutation service. faces and pre may be nil when the
// facial path is not wired (manual-only deployments).
func NewService(store Store, sessions SessionDirectory, roster Membership, faces Matcher, pre PreStore) *Service {
	return &Service{
		store:    store,
		sessions: sessions,
		roster:   roster,
		faces:    faces,
		pre:      pre,
		now:      time.Now,
	}
}

// MarkPresent records the student as presente in the session.
func (s *Service) MarkPresent(ctx context.Context, studentID, sessionID, recordedBy string) (Record, error) {
	return s.mark(ctx, studentID, sessionID, StatusPresent, OriginManual, recordedBy)
}

// MarkLate records the student as atrasado in the session.
func (s *Service) MarkLate(ctx context.Context, studentID, sessionID, recordedBy string) (Record, error) {
	return s.mark(ctx, studentID, sessionID, StatusLate, OriginManual, recordedBy)
}

// mark loads the session, rejects closed ones, verifies enrollment and
// replaces any existing record with a fresh one stamped now.
func (s *Service) mark(ctx context.Context, studentID, sessionID string, st Status, origin Origin, recordedBy string) (Record, error) {
	if studentID == "" {
		return Record{}, apperr.Validation("student id is required")
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if sess.Closed() {
		return Record{}, apperr.Conflict("session is closed")
	}
	enrolled, err := s.roster.IsEnrolled(ctx, sess.ClassID, studentID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		return Record{}, apperr.Conflict("student is not enrolled in the session class")
	}

	rec, err := s.store.Replace(ctx, Record{
		SessionID:   sessionID,
		StudentID:   studentID,
		Status:      st,
		CheckInTime: s.now().UTC(),
		Origin:      origin,
		RecordedBy:  recordedBy,
	})
	if err != nil {
		return Record{}, err
	}
	metrics.MarksTotal.WithLabelValues(string(st), string(origin)).Inc()
	return rec, nil
}

// MarkAbsent clears the student's record; absence of a record is the absent
// state, so there is nothing to insert. A student with no record fails with
// not-found so the caller learns the student was already absent.
func (s *Service) MarkAbsent(ctx context.Context, studentID, sessionID string) error {
	if studentID == "" {
		return apperr.Validation("student id is required")
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Closed() {
		return apperr.Conflict("session is closed")
	}
	if err := s.store.Delete(ctx, sessionID, studentID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("no attendance to remove")
		}
		return err
	}
	metrics.MarksTotal.WithLabelValues(string(StatusAbsent), string(OriginManual)).Inc()
	return nil
}

// CreateFacial resolves the capture to a student and marks them presente in
// the room's open session. When the room has no open session the capture is
// buffered and replayed once a session opens there.
func (s *Service) CreateFacial(ctx context.Context, capt Capture) (FacialResult, error) {
	if s.faces == nil {
		return FacialResult{}, apperr.Validation("facial recognition is not configured")
	}
	if capt.RoomID == "" {
		return FacialResult{}, apperr.Validation("room id is required")
	}

	studentID, err := s.faces.Recognize(ctx, capt.RoomID, capt.ImageURL)
	if err != nil {
		if errors.Is(err, apperr.ErrNotRecognized) {
			metrics.RecognitionsTotal.WithLabelValues("no_match").Inc()
		} else {
			metrics.RecognitionsTotal.WithLabelValues("error").Inc()
		}
		return FacialResult{}, err
	}
	metrics.RecognitionsTotal.WithLabelValues("match").Inc()

	sess, err := s.sessions.OpenForRoom(ctx, capt.RoomID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) && s.pre != nil {
			pc := PreCapture{StudentID: studentID, TotemID: capt.TotemID, TakenAt: s.now().UTC()}
			if err := s.pre.Add(ctx, capt.RoomID, pc); err != nil {
				return FacialResult{}, err
			}
			metrics.PreAttendanceBuffered.Inc()
			return FacialResult{StudentID: studentID, Buffered: true}, nil
		}
		return FacialResult{}, err
	}

	enrolled, err := s.roster.IsEnrolled(ctx, sess.ClassID, studentID)
	if err != nil {
		return FacialResult{}, err
	}
	if !enrolled {
		return FacialResult{}, apperr.Conflict("student is not enrolled in the session class")
	}

	rec, err := s.store.Replace(ctx, Record{
		SessionID:   sess.ID,
		StudentID:   studentID,
		Status:      StatusPresent,
		CheckInTime: s.now().UTC(),
		Origin:      OriginFacial,
	})
	if err != nil {
		return FacialResult{}, err
	}
	metrics.MarksTotal.WithLabelValues(string(StatusPresent), string(OriginFacial)).Inc()
	return FacialResult{StudentID: studentID, Record: &rec, SessionID: sess.ID}, nil
}

// ReplayPreCaptures consumes the room buffer of a freshly opened session and
// turns eligible pre-captures into facial presente records. Students already
// marked or not enrolled in the session's class are skipped.
func (s *Service) ReplayPreCaptures(ctx context.Context, sessionID string) (int, error) {
	if s.pre == nil {
		return 0, nil
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Closed() {
		return 0, apperr.Conflict("session is closed")
	}

	pcs, err := s.pre.Drain(ctx, sess.RoomID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, pc := range pcs {
		enrolled, err := s.roster.IsEnrolled(ctx, sess.ClassID, pc.StudentID)
		if err != nil || !enrolled {
			continue
		}
		if _, err := s.store.Find(ctx, sess.ID, pc.StudentID); err == nil {
			continue
		}
		if _, err := s.store.Replace(ctx, Record{
			SessionID:   sess.ID,
			StudentID:   pc.StudentID,
			Status:      StatusPresent,
			CheckInTime: pc.TakenAt,
			Origin:      OriginFacial,
		}); err != nil {
			continue
		}
		metrics.MarksTotal.WithLabelValues(string(StatusPresent), string(OriginFacial)).Inc()
		created++
	}
	return created, nil
}

// BulkApply applies the target status to each student in order, best effort.
// One student failing does not stop the rest; failures come back with their
// individual reasons.
func (s *Service) BulkApply(ctx context.Context, studentIDs []string, sessionID string, target Status, recordedBy string) (BulkResult, error) {
	if !target.Valid() {
		return BulkResult{}, apperr.Validation("status must be presente, atrasado or ausente")
	}

	var res BulkResult
	for _, studentID := range studentIDs {
		var err error
		switch target {
		case StatusPresent:
			_, err = s.MarkPresent(ctx, studentID, sessionID, recordedBy)
		case StatusLate:
			_, err = s.MarkLate(ctx, studentID, sessionID, recordedBy)
		case StatusAbsent:
			err = s.MarkAbsent(ctx, studentID, sessionID)
		}
		if err != nil {
			res.Failures = append(res.Failures, BulkFailure{StudentID: studentID, Reason: err.Error()})
			continue
		}
		res.Applied++
	}
	return res, nil
}

// ResetSession wipes every attendance record of an active session.
func (s *Service) ResetSession(ctx context.Context, sessionID string) (int64, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Closed() {
		return 0, apperr.Conflict("session is closed")
	}
	return s.store.DeleteBySession(ctx, sess.ID)
}
