package attendance

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Student is an attendee. Email is empty when none is on file.
type Student struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	Active         bool       `json:"active"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
}

// Session is one calendar day's class meeting. ClassDate is midnight UTC of that date.
type Session struct {
	ID        int64     `json:"id"`
	ClassDate time.Time `json:"class_date"`
}

// DateString renders the class date as YYYY-MM-DD.
func (s Session) DateString() string {
	return s.ClassDate.Format(DateLayout)
}

// RosterEntry is a student present at a session.
type RosterEntry struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// DateLayout is the wire and storage format of session dates.
const DateLayout = "2006-01-02"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("name or email already exists")
)

// ValidationError reports a rejected input field with a user-facing message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// CalendarDate maps t to midnight UTC of its calendar date in t's own location.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AttendanceRatio is present/total, or 1 when no session has happened yet.
func AttendanceRatio(present, total int) float64 {
	if total <= 0 {
		return 1.0
	}
	return math.Max(0, math.Min(1, float64(present)/float64(total)))
}

// Percent renders a ratio as a whole percentage, rounding halves to even.
func Percent(ratio float64) int {
	return int(math.RoundToEven(ratio * 100))
}
