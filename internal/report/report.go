// Package report aggregates raw attendance rows into presence reports.
// Classification is total: every roster member lands in exactly one of
// presentes, atrasados or ausentes, and the three lists sum to roster size.
package report

import (
	"context"
	"math"
	"sort"
	"time"

	"presenca/internal/attendance"
	"presenca/internal/roster"
	"presenca/internal/session"
)

// SortKey selects the ordering of the presentes/atrasados lists. Sorting is
// presentation only; it never changes the classification.
type SortKey string

const (
	SortByArrival      SortKey = "arrival"
	SortByName         SortKey = "name"
	SortByRegistration SortKey = "registration"
)

// Entry is one classified roster member.
type Entry struct {
	StudentID    string            `json:"student_id"`
	Name         string            `json:"name"`
	Registration string            `json:"registration"`
	Status       attendance.Status `json:"status"`
	CheckInTime  *time.Time        `json:"check_in_time,omitempty"`
	Origin       attendance.Origin `json:"origin,omitempty"`
}

// SessionReport is the classified view of one session.
type SessionReport struct {
	Session   session.Session `json:"session"`
	Presentes []Entry         `json:"presentes"`
	Atrasados []Entry         `json:"atrasados"`
	Ausentes  []Entry         `json:"ausentes"`
}

// StudentTotals is one row of the subject frequency report.
type StudentTotals struct {
	StudentID  string `json:"student_id"`
	Aluno      string `json:"aluno"`
	Matricula  string `json:"matricula"`
	Faltas     int    `json:"faltas"`
	Atrasos    int    `json:"atrasos"`
	Presencas  int    `json:"presencas"`
	Frequencia int    `json:"frequencia"`
}

// SubjectReport aggregates a (class, subject) pair over its closed sessions.
type SubjectReport struct {
	ClassID     string          `json:"class_id"`
	SubjectCode string          `json:"subject_code"`
	TotalAulas  int             `json:"total_aulas"`
	Alunos      []StudentTotals `json:"alunos"`
}

// SessionSource is the slice of the session service the aggregator reads.
type SessionSource interface {
	GetByID(ctx context.Context, id string) (session.Session, error)
	ListClosedBySubject(ctx context.Context, classID, subjectCode string) ([]session.Session, error)
}

// RecordSource reads attendance records.
type RecordSource interface {
	ListBySession(ctx context.Context, sessionID string) ([]attendance.Record, error)
	ListForSessions(ctx context.Context, sessionIDs []string) ([]attendance.Record, error)
}

// Aggregator builds reports from sessions, records and the roster.
type Aggregator struct {
	sessions SessionSource
	records  RecordSource
	roster   roster.Provider
}

// NewAggregator creates an aggregator.
func NewAggregator(sessions SessionSource, records RecordSource, provider roster.Provider) *Aggregator {
	return &Aggregator{sessions: sessions, records: records, roster: provider}
}

// SessionReport classifies the full roster of the session's class. A roster
// member with a record takes the record's status; one without is ausente.
func (a *Aggregator) SessionReport(ctx context.Context, sessionID string, sortKey SortKey) (SessionReport, error) {
	sess, err := a.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	students, err := a.roster.StudentsForClass(ctx, sess.ClassID)
	if err != nil {
		return SessionReport{}, err
	}
	recs, err := a.records.ListBySession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}

	byStudent := make(map[string]attendance.Record, len(recs))
	for _, rec := range recs {
		byStudent[rec.StudentID] = rec
	}

	out := SessionReport{
		Session:   sess,
		Presentes: []Entry{},
		Atrasados: []Entry{},
		Ausentes:  []Entry{},
	}
	for _, st := range students {
		rec, ok := byStudent[st.ID]
		if !ok {
			out.Ausentes = append(out.Ausentes, Entry{
				StudentID:    st.ID,
				Name:         st.Name,
				Registration: st.Registration,
				Status:       attendance.StatusAbsent,
			})
			continue
		}
		checkIn := rec.CheckInTime
		entry := Entry{
			StudentID:    st.ID,
			Name:         st.Name,
			Registration: st.Registration,
			Status:       rec.Status,
			CheckInTime:  &checkIn,
			Origin:       rec.Origin,
		}
		switch rec.Status {
		case attendance.StatusLate:
			out.Atrasados = append(out.Atrasados, entry)
		default:
			out.Presentes = append(out.Presentes, entry)
		}
	}

	sortEntries(out.Presentes, sortKey)
	sortEntries(out.Atrasados, sortKey)
	// Ausentes have no arrival time; roster order (name) already applies.
	if sortKey == SortByRegistration {
		sortEntries(out.Ausentes, sortKey)
	}
	return out, nil
}

// sortEntries orders by capture time ascending (first arrival first) unless
// the caller asked for name or registration.
func sortEntries(entries []Entry, key SortKey) {
	switch key {
	case SortByName:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	case SortByRegistration:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Registration < entries[j].Registration })
	default:
		sort.SliceStable(entries, func(i, j int) bool {
			ti, tj := entries[i].CheckInTime, entries[j].CheckInTime
			if ti == nil || tj == nil {
				return tj == nil && ti != nil
			}
			return ti.Before(*tj)
		})
	}
}

// SubjectReport computes per-student faltas, atrasos and frequencia over the
// closed sessions of a (class, subject) pair. With zero closed sessions it
// returns an empty alunos list rather than an error.
func (a *Aggregator) SubjectReport(ctx context.Context, classID, subjectCode string) (SubjectReport, error) {
	out := SubjectReport{ClassID: classID, SubjectCode: subjectCode, Alunos: []StudentTotals{}}

	sessions, err := a.sessions.ListClosedBySubject(ctx, classID, subjectCode)
	if err != nil {
		return SubjectReport{}, err
	}
	out.TotalAulas = len(sessions)
	if out.TotalAulas == 0 {
		return out, nil
	}

	students, err := a.roster.StudentsForClass(ctx, classID)
	if err != nil {
		return SubjectReport{}, err
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	recs, err := a.records.ListForSessions(ctx, ids)
	if err != nil {
		return SubjectReport{}, err
	}

	type counts struct{ attended, late int }
	perStudent := make(map[string]*counts, len(students))
	for _, st := range students {
		perStudent[st.ID] = &counts{}
	}
	for _, rec := range recs {
		c, ok := perStudent[rec.StudentID]
		if !ok {
			// Student left the class since; not part of the current roster.
			continue
		}
		c.attended++
		if rec.Status == attendance.StatusLate {
			c.late++
		}
	}

	total := out.TotalAulas
	for _, st := range students {
		c := perStudent[st.ID]
		faltas := total - c.attended
		out.Alunos = append(out.Alunos, StudentTotals{
			StudentID:  st.ID,
			Aluno:      st.Name,
			Matricula:  st.Registration,
			Faltas:     faltas,
			Atrasos:    c.late,
			Presencas:  total - faltas,
			Frequencia: roundPercent(total-faltas, total),
		})
	}
	return out, nil
}

// roundPercent rounds 100*part/total to the nearest whole point, half up.
func roundPercent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(100*float64(part)/float64(total) + 0.5))
}
