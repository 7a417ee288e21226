package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenca/internal/apperr"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	sessions map[string]Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session)}
}

func (m *memStore) Insert(_ context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) Get(_ context.Context, id string) (Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperr.NotFound("session not found")
	}
	return s, nil
}

func (m *memStore) Update(_ context.Context, s Session) error {
	if _, ok := m.sessions[s.ID]; !ok {
		return apperr.NotFound("session not found")
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return apperr.NotFound("session not found")
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStore) ListAll(_ context.Context) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) ListByClass(_ context.Context, classID string) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ListClosedBySubject(_ context.Context, classID, subjectCode string) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		if s.ClassID == classID && s.SubjectCode == subjectCode && s.Status == StatusClosed {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) OpenForRoom(_ context.Context, roomID string) (Session, error) {
	for _, s := range m.sessions {
		if s.RoomID == roomID && s.Status == StatusActive {
			return s, nil
		}
	}
	return Session{}, apperr.NotFound("no open session for room")
}

func (m *memStore) CloseExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, s := range m.sessions {
		if s.Status == StatusActive && s.EndsAt.Before(now) {
			s.Status = StatusClosed
			closedAt := now
			s.ClosedAt = &closedAt
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func validInput() CreateInput {
	return CreateInput{
		Name:        "Aula 12 - Estruturas de Dados",
		ClassID:     "class-1",
		RoomID:      "room-1",
		TeacherID:   "teacher-1",
		SubjectCode: "ed101",
		EndsAt:      time.Now().Add(2 * time.Hour),
	}
}

func TestCreateDefaultsToActive(t *testing.T) {
	svc := NewService(newMemStore())

	sess, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, "ED101", sess.SubjectCode, "subject code should be uppercased")
	assert.False(t, sess.Date.IsZero(), "date should default to today")
	assert.NotEmpty(t, sess.ID)
}

func TestCreateRequiredFields(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing name", func(in *CreateInput) { in.Name = "" }},
		{"missing class", func(in *CreateInput) { in.ClassID = "" }},
		{"missing room", func(in *CreateInput) { in.RoomID = "" }},
		{"missing teacher", func(in *CreateInput) { in.TeacherID = "" }},
		{"missing subject", func(in *CreateInput) { in.SubjectCode = "" }},
		{"missing end time", func(in *CreateInput) { in.EndsAt = time.Time{} }},
		{"end time in the past", func(in *CreateInput) { in.EndsAt = time.Now().Add(-time.Hour) }},
		{"name too short", func(in *CreateInput) { in.Name = "ab" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Create(ctx, in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestGetByIDNotFound(t *testing.T) {
	svc := NewService(newMemStore())
	_, err := svc.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCloseIsIdempotent(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	sess, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	closed, err := svc.Close(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	firstClosedAt := *closed.ClosedAt

	again, err := svc.Close(ctx, sess.ID)
	require.NoError(t, err, "closing a closed session is a no-op success")
	assert.Equal(t, StatusClosed, again.Status)
	assert.Equal(t, firstClosedAt, *again.ClosedAt, "second close must not move the close time")
}

func TestUpdateProtectedFieldsAfterClose(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	sess, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)

	name := "Aula renomeada"
	_, err = svc.Update(ctx, sess.ID, Patch{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	date := time.Now().Add(24 * time.Hour)
	_, err = svc.Update(ctx, sess.ID, Patch{Date: &date})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	notes := "chamada conferida"
	updated, err := svc.Update(ctx, sess.ID, Patch{Notes: &notes})
	require.NoError(t, err, "notes stay editable after close")
	assert.Equal(t, notes, updated.Notes)
}

func TestUpdateWhileActive(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	sess, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	name := "Aula 12 - Revisao"
	code := "ed102"
	updated, err := svc.Update(ctx, sess.ID, Patch{Name: &name, SubjectCode: &code})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, "ED102", updated.SubjectCode)
}

func TestDeleteClosedSessionRejected(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	sess, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)

	err = svc.Delete(ctx, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = store.Get(ctx, sess.ID)
	assert.NoError(t, err, "session must survive the rejected delete")
}

func TestCloseExpired(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	sess, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	// Move the end time into the past and run the sweep.
	stored, _ := store.Get(ctx, sess.ID)
	stored.EndsAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Update(ctx, stored))

	n, err := svc.CloseExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	after, _ := store.Get(ctx, sess.ID)
	assert.Equal(t, StatusClosed, after.Status)
}
