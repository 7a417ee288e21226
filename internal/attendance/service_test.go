package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenca/internal/apperr"
	"presenca/internal/session"
)

type pairKey struct{ sessionID, studentID string }

// memRecords is an in-memory Store. failFor injects a storage failure for
// specific students, for the bulk partial-failure tests.
type memRecords struct {
	records map[pairKey]Record
	failFor map[string]error
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[pairKey]Record), failFor: make(map[string]error)}
}

func (m *memRecords) Find(_ context.Context, sessionID, studentID string) (Record, error) {
	rec, ok := m.records[pairKey{sessionID, studentID}]
	if !ok {
		return Record{}, apperr.NotFound("attendance record not found")
	}
	return rec, nil
}

func (m *memRecords) Replace(_ context.Context, rec Record) (Record, error) {
	if err, ok := m.failFor[rec.StudentID]; ok {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	m.records[pairKey{rec.SessionID, rec.StudentID}] = rec
	return rec, nil
}

func (m *memRecords) Delete(_ context.Context, sessionID, studentID string) error {
	key := pairKey{sessionID, studentID}
	if _, ok := m.records[key]; !ok {
		return apperr.NotFound("attendance record not found")
	}
	delete(m.records, key)
	return nil
}

func (m *memRecords) ListBySession(_ context.Context, sessionID string) ([]Record, error) {
	var out []Record
	for key, rec := range m.records {
		if key.sessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRecords) ListForSessions(_ context.Context, sessionIDs []string) ([]Record, error) {
	var out []Record
	for _, id := range sessionIDs {
		recs, _ := m.ListBySession(context.Background(), id)
		out = append(out, recs...)
	}
	return out, nil
}

func (m *memRecords) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	var n int64
	for key := range m.records {
		if key.sessionID == sessionID {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

// fakeSessions is a SessionDirectory over a fixed session set.
type fakeSessions struct {
	sessions map[string]session.Session
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, apperr.NotFound("session not found")
	}
	return s, nil
}

func (f *fakeSessions) OpenForRoom(_ context.Context, roomID string) (session.Session, error) {
	for _, s := range f.sessions {
		if s.RoomID == roomID && !s.Closed() {
			return s, nil
		}
	}
	return session.Session{}, apperr.NotFound("no open session for room")
}

// fakeRoster enrolls everyone unless listed in notEnrolled.
type fakeRoster struct {
	notEnrolled map[string]bool
}

func (f *fakeRoster) IsEnrolled(_ context.Context, _, studentID string) (bool, error) {
	return !f.notEnrolled[studentID], nil
}

// fakeMatcher resolves every capture to a fixed student.
type fakeMatcher struct {
	studentID string
	err       error
}

func (f *fakeMatcher) Recognize(_ context.Context, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.studentID, nil
}

// memPre is an in-memory PreStore.
type memPre struct {
	byRoom map[string][]PreCapture
}

func newMemPre() *memPre { return &memPre{byRoom: make(map[string][]PreCapture)} }

func (m *memPre) Add(_ context.Context, roomID string, pc PreCapture) error {
	m.byRoom[roomID] = append(m.byRoom[roomID], pc)
	return nil
}

func (m *memPre) Drain(_ context.Context, roomID string) ([]PreCapture, error) {
	out := m.byRoom[roomID]
	delete(m.byRoom, roomID)
	return out, nil
}

type fixture struct {
	store    *memRecords
	sessions *fakeSessions
	roster   *fakeRoster
	matcher  *fakeMatcher
	pre      *memPre
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemRecords(),
		sessions: &fakeSessions{sessions: make(map[string]session.Session)},
		roster:   &fakeRoster{notEnrolled: make(map[string]bool)},
		matcher:  &fakeMatcher{studentID: "student-1"},
		pre:      newMemPre(),
	}
	f.svc = NewService(f.store, f.sessions, f.roster, f.matcher, f.pre)
	return f
}

func (f *fixture) addSession(id, roomID string, closed bool) session.Session {
	s := session.Session{
		ID:          id,
		Name:        "Aula de teste",
		ClassID:     "class-1",
		RoomID:      roomID,
		TeacherID:   "teacher-1",
		SubjectCode: "MAT01",
		Status:      session.StatusActive,
	}
	if closed {
		now := time.Now().UTC()
		s.Status = session.StatusClosed
		s.ClosedAt = &now
	}
	f.sessions.sessions[id] = s
	return s
}

func TestMarkPresentCreatesRecord(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)

	rec, err := f.svc.MarkPresent(context.Background(), "student-1", "sess-1", "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, OriginManual, rec.Origin)
	assert.Equal(t, "teacher-1", rec.RecordedBy)
	assert.False(t, rec.CheckInTime.IsZero())
}

func TestStatusChangeReplacesRecord(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	ctx := context.Background()

	first, err := f.svc.MarkPresent(ctx, "student-1", "sess-1", "teacher-1")
	require.NoError(t, err)

	second, err := f.svc.MarkLate(ctx, "student-1", "sess-1", "teacher-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "status change is delete-then-insert, not update")
	assert.Equal(t, StatusLate, second.Status)

	recs, _ := f.store.ListBySession(ctx, "sess-1")
	require.Len(t, recs, 1, "at most one live record per (student, session)")
	assert.Equal(t, StatusLate, recs[0].Status)
}

func TestMutationsRejectedOnClosedSession(t *testing.T) {
	f := newFixture()
	f.addSession("sess-closed", "room-1", true)
	ctx := context.Background()

	_, err := f.svc.MarkPresent(ctx, "student-1", "sess-closed", "teacher-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.MarkLate(ctx, "student-1", "sess-closed", "teacher-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = f.svc.MarkAbsent(ctx, "student-1", "sess-closed")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	recs, _ := f.store.ListBySession(ctx, "sess-closed")
	assert.Empty(t, recs, "store must be unchanged after rejected mutations")
}

func TestMarkAbsentWithoutRecord(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)

	err := f.svc.MarkAbsent(context.Background(), "student-1", "sess-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.EqualError(t, err, "no attendance to remove")
}

func TestMarkAbsentRemovesRecord(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	ctx := context.Background()

	_, err := f.svc.MarkPresent(ctx, "student-1", "sess-1", "teacher-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkAbsent(ctx, "student-1", "sess-1"))

	recs, _ := f.store.ListBySession(ctx, "sess-1")
	assert.Empty(t, recs, "absence is the absence of a record")
}

func TestMarkRejectsUnenrolledStudent(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	f.roster.notEnrolled["intruder"] = true

	_, err := f.svc.MarkPresent(context.Background(), "intruder", "sess-1", "teacher-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateFacialMarksOpenSession(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)

	res, err := f.svc.CreateFacial(context.Background(), Capture{RoomID: "room-1", TotemID: "totem-1", ImageURL: "https://cdn/img.jpg"})
	require.NoError(t, err)

	assert.False(t, res.Buffered)
	require.NotNil(t, res.Record)
	assert.Equal(t, StatusPresent, res.Record.Status)
	assert.Equal(t, OriginFacial, res.Record.Origin)
	assert.Equal(t, "sess-1", res.SessionID)
}

func TestCreateFacialBuffersWithoutOpenSession(t *testing.T) {
	f := newFixture()

	res, err := f.svc.CreateFacial(context.Background(), Capture{RoomID: "room-9", TotemID: "totem-1", ImageURL: "https://cdn/img.jpg"})
	require.NoError(t, err)

	assert.True(t, res.Buffered)
	assert.Equal(t, "student-1", res.StudentID)
	assert.Len(t, f.pre.byRoom["room-9"], 1)
}

func TestCreateFacialNotRecognized(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	f.matcher.err = apperr.NotRecognized("no student matched the capture")

	_, err := f.svc.CreateFacial(context.Background(), Capture{RoomID: "room-1", ImageURL: "https://cdn/img.jpg"})
	assert.ErrorIs(t, err, apperr.ErrNotRecognized)
}

func TestReplayPreCaptures(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	ctx := context.Background()

	taken := time.Now().Add(-10 * time.Minute).UTC()
	require.NoError(t, f.pre.Add(ctx, "room-1", PreCapture{StudentID: "student-1", TakenAt: taken}))
	require.NoError(t, f.pre.Add(ctx, "room-1", PreCapture{StudentID: "student-2", TakenAt: taken}))
	require.NoError(t, f.pre.Add(ctx, "room-1", PreCapture{StudentID: "intruder", TakenAt: taken}))
	f.roster.notEnrolled["intruder"] = true

	// student-2 was already marked manually; replay must not overwrite it.
	_, err := f.svc.MarkLate(ctx, "student-2", "sess-1", "teacher-1")
	require.NoError(t, err)

	created, err := f.svc.ReplayPreCaptures(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	rec, err := f.store.Find(ctx, "sess-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, OriginFacial, rec.Origin)
	assert.Equal(t, taken, rec.CheckInTime, "replayed records keep the capture time")

	late, err := f.store.Find(ctx, "sess-1", "student-2")
	require.NoError(t, err)
	assert.Equal(t, StatusLate, late.Status)
}

func TestBulkApplyBestEffort(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	f.store.failFor["S2"] = errors.New("storage write failed")

	res, err := f.svc.BulkApply(context.Background(), []string{"S1", "S2", "S3"}, "sess-1", StatusPresent, "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "S2", res.Failures[0].StudentID)
	assert.Equal(t, "storage write failed", res.Failures[0].Reason)

	for _, id := range []string{"S1", "S3"} {
		rec, err := f.store.Find(context.Background(), "sess-1", id)
		require.NoError(t, err)
		assert.Equal(t, StatusPresent, rec.Status)
	}
}

func TestBulkApplyInvalidStatus(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)

	_, err := f.svc.BulkApply(context.Background(), []string{"S1"}, "sess-1", Status("faltou"), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBulkApplyAbsent(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	ctx := context.Background()

	_, err := f.svc.MarkPresent(ctx, "S1", "sess-1", "teacher-1")
	require.NoError(t, err)

	// S2 has no record: absence is already the default, so it fails.
	res, err := f.svc.BulkApply(ctx, []string{"S1", "S2"}, "sess-1", StatusAbsent, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "S2", res.Failures[0].StudentID)
}

func TestResetSession(t *testing.T) {
	f := newFixture()
	f.addSession("sess-1", "room-1", false)
	f.addSession("sess-closed", "room-2", true)
	ctx := context.Background()

	_, err := f.svc.MarkPresent(ctx, "S1", "sess-1", "teacher-1")
	require.NoError(t, err)
	_, err = f.svc.MarkLate(ctx, "S2", "sess-1", "teacher-1")
	require.NoError(t, err)

	n, err := f.svc.ResetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	recs, _ := f.store.ListBySession(ctx, "sess-1")
	assert.Empty(t, recs)

	_, err = f.svc.ResetSession(ctx, "sess-closed")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}
