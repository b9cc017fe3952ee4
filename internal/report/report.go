// Package report builds the read-only dashboard views and CSV exports.
package report

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"rollcall/internal/attendance"
)

// StudentRow is one dashboard line. Percent is computed now, Active is the stored flag.
type StudentRow struct {
	ID      int64
	Name    string
	Email   string
	Present int
	Percent int
	Active  bool
}

type Dashboard struct {
	Students      []StudentRow
	TotalSessions int
}

// SessionGroup lists the students present at one session.
type SessionGroup struct {
	Session attendance.Session
	Present []attendance.RosterEntry
}

func (g SessionGroup) Count() int { return len(g.Present) }

type Reporter struct {
	repo      attendance.Repository
	threshold float64
}

func New(repo attendance.Repository, threshold float64) *Reporter {
	if threshold <= 0 {
		threshold = attendance.DefaultThreshold
	}
	return &Reporter{repo: repo, threshold: threshold}
}

// Dashboard returns every student ordered by name with a fresh percentage.
func (r *Reporter) Dashboard(ctx context.Context) (Dashboard, error) {
	total, err := r.repo.CountSessions(ctx)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "count sessions")
	}
	students, err := r.repo.ListStudents(ctx)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "list students")
	}
	counts, err := r.repo.PresentCounts(ctx)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "count attendance")
	}

	d := Dashboard{TotalSessions: total, Students: make([]StudentRow, 0, len(students))}
	for _, st := range students {
		present := counts[st.ID]
		d.Students = append(d.Students, StudentRow{
			ID:      st.ID,
			Name:    st.Name,
			Email:   st.Email,
			Present: present,
			Percent: attendance.Percent(attendance.AttendanceRatio(present, total)),
			Active:  st.Active,
		})
	}
	return d, nil
}

// ByDate returns sessions newest first with their present students.
func (r *Reporter) ByDate(ctx context.Context) ([]SessionGroup, error) {
	sessions, err := r.repo.ListSessions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	groups := make([]SessionGroup, 0, len(sessions))
	for _, s := range sessions {
		roster, err := r.repo.SessionRoster(ctx, s.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "roster of session %d", s.ID)
		}
		groups = append(groups, SessionGroup{Session: s, Present: roster})
	}
	return groups, nil
}

// WriteSessionCSV writes the roster of one session. Unknown sessions yield ErrNotFound.
func (r *Reporter) WriteSessionCSV(ctx context.Context, w io.Writer, sessionID int64) error {
	s, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "get session %d", sessionID)
	}
	if s == nil {
		return errors.Wrapf(attendance.ErrNotFound, "session %d", sessionID)
	}
	roster, err := r.repo.SessionRoster(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "roster of session %d", sessionID)
	}

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"session_date", "name", "email"})
	date := s.DateString()
	for _, e := range roster {
		_ = cw.Write([]string{date, e.Name, e.Email})
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "write csv")
}

// WriteSummaryCSV writes one line per student with the fresh percentage and derived status.
func (r *Reporter) WriteSummaryCSV(ctx context.Context, w io.Writer) error {
	d, err := r.Dashboard(ctx)
	if err != nil {
		return err
	}
	cut := attendance.Percent(r.threshold)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"name", "email", "attendance_percent", "status", "present_days", "total_sessions"})
	for _, row := range d.Students {
		status := "Inactive"
		if row.Percent >= cut {
			status = "Active"
		}
		_ = cw.Write([]string{
			row.Name,
			row.Email,
			strconv.Itoa(row.Percent),
			status,
			strconv.Itoa(row.Present),
			strconv.Itoa(d.TotalSessions),
		})
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "write csv")
}
