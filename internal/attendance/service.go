package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"rollcall/internal/metrics"
)

// DefaultThreshold is the attendance ratio below which a student becomes inactive.
const DefaultThreshold = 0.5

// Notifier delivers a below-threshold alert. It reports whether the attempt succeeded
// and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) bool
}

// Transition is the outcome of evaluating a student's status.
type Transition int

const (
	Unchanged Transition = iota
	Deactivated
	Reactivated
)

func (t Transition) String() string {
	switch t {
	case Deactivated:
		return "deactivated"
	case Reactivated:
		return "reactivated"
	default:
		return "unchanged"
	}
}

// Service coordinates check-ins, status evaluation and student administration.
type Service struct {
	repo      Repository
	notifier  Notifier
	threshold float64
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a service backed by a repository. A nil notifier disables alerts.
func NewService(repo Repository, notifier Notifier, threshold float64, log zerolog.Logger) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Service{
		repo:      repo,
		notifier:  notifier,
		threshold: threshold,
		log:       log.With().Str("component", "attendance").Logger(),
		now:       time.Now,
	}
}

func (s *Service) Threshold() float64 { return s.threshold }

func (s *Service) Repository() Repository { return s.repo }

// Ratio returns the fraction of all sessions the student attended.
func (s *Service) Ratio(ctx context.Context, studentID int64) (float64, error) {
	total, err := s.repo.CountSessions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "count sessions")
	}
	if total == 0 {
		return AttendanceRatio(0, 0), nil
	}
	present, err := s.repo.CountPresent(ctx, studentID)
	if err != nil {
		return 0, errors.Wrapf(err, "count attendance of student %d", studentID)
	}
	return AttendanceRatio(present, total), nil
}

// Evaluate recomputes the student's ratio and flips the active flag when it disagrees.
// A drop below the threshold sends one alert if an email is on file; the flag change is
// persisted before the alert and is kept whatever the alert outcome.
func (s *Service) Evaluate(ctx context.Context, st *Student) (Transition, error) {
	ratio, err := s.Ratio(ctx, st.ID)
	if err != nil {
		return Unchanged, err
	}
	below := ratio < s.threshold

	switch {
	case below && st.Active:
		changed, err := s.repo.SetStudentActive(ctx, st.ID, false)
		if err != nil {
			return Unchanged, err
		}
		st.Active = false
		if !changed {
			// another evaluation won the race and owns the alert
			return Unchanged, nil
		}
		metrics.StatusTransitions.WithLabelValues("inactive").Inc()
		if st.Email != "" {
			s.alert(ctx, st, ratio)
		}
		return Deactivated, nil

	case !below && !st.Active:
		changed, err := s.repo.SetStudentActive(ctx, st.ID, true)
		if err != nil {
			return Unchanged, err
		}
		st.Active = true
		if !changed {
			return Unchanged, nil
		}
		metrics.StatusTransitions.WithLabelValues("active").Inc()
		return Reactivated, nil
	}
	return Unchanged, nil
}

func (s *Service) alert(ctx context.Context, st *Student, ratio float64) {
	subject, body := AlertMessage(st.Name, ratio, s.threshold)
	if s.notifier == nil || !s.notifier.Notify(ctx, st.Email, subject, body) {
		s.log.Warn().Int64("student_id", st.ID).Msg("below-threshold alert not delivered")
		return
	}
	now := s.now().UTC()
	if err := s.repo.SetStudentNotified(ctx, st.ID, now); err != nil {
		s.log.Error().Err(err).Int64("student_id", st.ID).Msg("record notification time")
		return
	}
	st.LastNotifiedAt = &now
}

// AlertMessage builds the below-threshold email.
func AlertMessage(name string, ratio, threshold float64) (subject, body string) {
	required := Percent(threshold)
	subject = fmt.Sprintf("Attendance Alert: You are below %d%%", required)
	body = fmt.Sprintf("Hi %s,\n\nOur records show your attendance is %d%%, which is below the required %d%%. "+
		"Please reach out to your instructor to get back on track.\n\nThanks.", name, Percent(ratio), required)
	return subject, body
}

// -------- Sessions --------

// TodaySession returns the session for the current local date, creating it on first use.
func (s *Service) TodaySession(ctx context.Context) (Session, error) {
	return s.CreateSession(ctx, s.now())
}

// CreateSession returns the session of day's calendar date, creating it if needed.
func (s *Service) CreateSession(ctx context.Context, day time.Time) (Session, error) {
	sess, err := s.repo.EnsureSession(ctx, day)
	return sess, errors.Wrap(err, "ensure session")
}

func (s *Service) GetSession(ctx context.Context, id int64) (Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, errors.Wrapf(err, "get session %d", id)
	}
	if sess == nil {
		return Session{}, errors.Wrapf(ErrNotFound, "session %d", id)
	}
	return *sess, nil
}

// -------- Check-in --------

type CheckInRequest struct {
	SessionID int64
	Name      string
	Email     string
}

type CheckInResult struct {
	Student  Student
	Session  Session
	Recorded bool // false when the student had already checked in to this session
	// EmailSkipped is set when the supplied email belongs to another student.
	EmailSkipped bool
	Transition   Transition
}

// CheckIn records the named attendee at a session and re-evaluates their status.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" {
		return CheckInResult{}, &ValidationError{Field: "name", Message: "Please enter your name."}
	}

	sess, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return CheckInResult{}, err
	}

	res := CheckInResult{Session: sess}
	st, err := s.repo.FindStudentByName(ctx, name)
	if err != nil {
		return res, errors.Wrap(err, "find student")
	}

	if st == nil {
		st, err = s.createStudent(ctx, name, email)
		if err != nil {
			return res, err
		}
	} else if email != "" && st.Email == "" {
		switch err := s.repo.SetStudentEmail(ctx, st.ID, email); {
		case errors.Is(err, ErrConflict):
			s.log.Warn().Int64("student_id", st.ID).Msg("email already used by another student, not backfilled")
			res.EmailSkipped = true
		case err != nil:
			return res, err
		default:
			st.Email = email
		}
	}

	res.Recorded, err = s.repo.MarkPresent(ctx, st.ID, sess.ID, s.now())
	if err != nil {
		return res, err
	}
	if res.Recorded {
		metrics.CheckIns.WithLabelValues("recorded").Inc()
	} else {
		metrics.CheckIns.WithLabelValues("repeat").Inc()
	}

	res.Transition, err = s.Evaluate(ctx, st)
	if err != nil {
		return res, errors.Wrap(err, "evaluate status")
	}
	res.Student = *st
	return res, nil
}

// createStudent inserts a new active student. Losing a race against a concurrent
// check-in with the same name falls back to the row that won.
func (s *Service) createStudent(ctx context.Context, name, email string) (*Student, error) {
	st := &Student{Name: name, Email: email, Active: true}
	err := s.repo.CreateStudent(ctx, st)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}
	existing, ferr := s.repo.FindStudentByName(ctx, name)
	if ferr != nil {
		return nil, errors.Wrap(ferr, "find student")
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

// -------- Sweep --------

type SweepResult struct {
	Evaluated   int
	Deactivated int
	Reactivated int
	Failed      int
}

// Sweep evaluates every student once. Per-student failures are logged and counted.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return res, errors.Wrap(err, "list students")
	}
	for i := range students {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		st := &students[i]
		t, err := s.Evaluate(ctx, st)
		res.Evaluated++
		if err != nil {
			res.Failed++
			s.log.Error().Err(err).Int64("student_id", st.ID).Msg("evaluate student")
			continue
		}
		switch t {
		case Deactivated:
			res.Deactivated++
			if st.LastNotifiedAt != nil {
				s.log.Info().Msgf("%s dropped below threshold and was notified", st.Name)
			} else {
				s.log.Info().Msgf("%s dropped below threshold", st.Name)
			}
		case Reactivated:
			res.Reactivated++
		}
	}
	if res.Failed > 0 {
		return res, errors.Errorf("sweep: %d of %d students failed", res.Failed, res.Evaluated)
	}
	return res, nil
}

// -------- Admin --------

func (s *Service) GetStudent(ctx context.Context, id int64) (Student, error) {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, errors.Wrapf(err, "get student %d", id)
	}
	if st == nil {
		return Student{}, errors.Wrapf(ErrNotFound, "student %d", id)
	}
	return *st, nil
}

// EditStudent replaces name and email. A duplicate leaves the stored student untouched.
func (s *Service) EditStudent(ctx context.Context, id int64, name, email string) (Student, error) {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return st, &ValidationError{Field: "name", Message: "Name is required."}
	}
	updated := st
	updated.Name = name
	updated.Email = strings.TrimSpace(email)
	if err := s.repo.UpdateStudent(ctx, updated); err != nil {
		return st, err
	}
	return updated, nil
}

// DeleteStudent removes a student and its attendance, returning the removed record.
func (s *Service) DeleteStudent(ctx context.Context, id int64) (Student, error) {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	deleted, err := s.repo.DeleteStudent(ctx, id)
	if err != nil {
		return st, err
	}
	if !deleted {
		return st, errors.Wrapf(ErrNotFound, "student %d", id)
	}
	return st, nil
}

// ClearStudents deletes all students and attendance. Sessions are kept.
func (s *Service) ClearStudents(ctx context.Context) error {
	return s.repo.DeleteAllStudents(ctx)
}
