package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"rollcall/internal/store"
)

// Repository persists students, sessions and attendance rows.
// Single-row getters return (nil, nil) when the row does not exist.
type Repository interface {
	EnsureSession(ctx context.Context, day time.Time) (Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	CountSessions(ctx context.Context) (int, error)

	FindStudentByName(ctx context.Context, name string) (*Student, error)
	GetStudent(ctx context.Context, id int64) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	CreateStudent(ctx context.Context, st *Student) error
	UpdateStudent(ctx context.Context, st Student) error
	SetStudentEmail(ctx context.Context, id int64, email string) error
	SetStudentActive(ctx context.Context, id int64, active bool) (bool, error)
	SetStudentNotified(ctx context.Context, id int64, at time.Time) error
	DeleteStudent(ctx context.Context, id int64) (bool, error)
	DeleteAllStudents(ctx context.Context) error

	MarkPresent(ctx context.Context, studentID, sessionID int64, at time.Time) (bool, error)
	CountPresent(ctx context.Context, studentID int64) (int, error)
	PresentCounts(ctx context.Context) (map[int64]int, error)
	SessionRoster(ctx context.Context, sessionID int64) ([]RosterEntry, error)
}

// SQLRepository implements Repository over Postgres or SQLite.
// Placeholders are numbered in order of first appearance so both drivers bind them positionally.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ Repository = (*SQLRepository)(nil)

// NewRepository creates a repo over an open store connection.
func NewRepository(db *store.DB) *SQLRepository {
	return &SQLRepository{db: db.Client, driver: db.Driver}
}

// -------- Sessions --------

// EnsureSession returns the session for day, inserting it if absent.
// The unique class_date column arbitrates concurrent callers.
func (r *SQLRepository) EnsureSession(ctx context.Context, day time.Time) (Session, error) {
	date := CalendarDate(day).Format(DateLayout)
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (class_date)
		VALUES ($1)
		ON CONFLICT (class_date) DO NOTHING
	`, date); err != nil {
		return Session{}, errors.Wrapf(err, "insert session %s", date)
	}

	var s Session
	err := r.db.QueryRowContext(ctx, `SELECT id, class_date FROM sessions WHERE class_date = $1`, date).
		Scan(&s.ID, &s.ClassDate)
	if err != nil {
		return Session{}, errors.Wrapf(err, "select session %s", date)
	}
	s.ClassDate = CalendarDate(s.ClassDate)
	return s, nil
}

func (r *SQLRepository) GetSession(ctx context.Context, id int64) (*Session, error) {
	var s Session
	err := r.db.QueryRowContext(ctx, `SELECT id, class_date FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.ClassDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.ClassDate = CalendarDate(s.ClassDate)
	return &s, nil
}

// ListSessions returns sessions newest first.
func (r *SQLRepository) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, class_date FROM sessions ORDER BY class_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.ClassDate); err != nil {
			return nil, err
		}
		s.ClassDate = CalendarDate(s.ClassDate)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SQLRepository) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// -------- Students --------

const studentColumns = `id, name, email, active, last_notified_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var (
		st       Student
		email    sql.NullString
		notified sql.NullTime
	)
	if err := row.Scan(&st.ID, &st.Name, &email, &st.Active, &notified); err != nil {
		return Student{}, err
	}
	st.Email = email.String
	if notified.Valid {
		at := notified.Time
		st.LastNotifiedAt = &at
	}
	return st, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FindStudentByName matches name case-insensitively.
func (r *SQLRepository) FindStudentByName(ctx context.Context, name string) (*Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `
		SELECT `+studentColumns+` FROM students
		WHERE lower(name) = lower($1)
		ORDER BY id
		LIMIT 1
	`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *SQLRepository) GetStudent(ctx context.Context, id int64) (*Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudents returns students ordered by name.
func (r *SQLRepository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// CreateStudent inserts st and fills its ID. Duplicate name or email yields ErrConflict.
// SQLite builds without RETURNING support take the LastInsertId path.
func (r *SQLRepository) CreateStudent(ctx context.Context, st *Student) error {
	const insert = `INSERT INTO students (name, email, active) VALUES ($1, $2, $3)`
	if r.driver != store.SQLite {
		err := r.db.QueryRowContext(ctx, insert+` RETURNING id`, st.Name, nullable(st.Email), st.Active).Scan(&st.ID)
		return conflictOr(err, "create student")
	}
	res, err := r.db.ExecContext(ctx, insert, st.Name, nullable(st.Email), st.Active)
	if err != nil {
		return conflictOr(err, "create student")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "create student id")
	}
	st.ID = id
	return nil
}

// UpdateStudent overwrites name and email.
func (r *SQLRepository) UpdateStudent(ctx context.Context, st Student) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET name = $1, email = $2 WHERE id = $3`,
		st.Name, nullable(st.Email), st.ID)
	if err != nil {
		return conflictOr(err, "update student")
	}
	return requireAffected(res, st.ID)
}

// SetStudentEmail sets the email only if none is on file yet.
func (r *SQLRepository) SetStudentEmail(ctx context.Context, id int64, email string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE students SET email = $1 WHERE id = $2 AND email IS NULL`, email, id)
	return conflictOr(err, "set student email")
}

// SetStudentActive flips the flag and reports whether this call changed it.
func (r *SQLRepository) SetStudentActive(ctx context.Context, id int64, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET active = $1 WHERE id = $2 AND active = $3`, active, id, !active)
	if err != nil {
		return false, errors.Wrap(err, "set student active")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SQLRepository) SetStudentNotified(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE students SET last_notified_at = $1 WHERE id = $2`, at.UTC(), id)
	return errors.Wrap(err, "set student notified")
}

// DeleteStudent removes the student and its attendance rows.
func (r *SQLRepository) DeleteStudent(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE student_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, errors.Wrapf(err, "delete student %d", id)
}

// DeleteAllStudents clears every attendance row and student.
func (r *SQLRepository) DeleteAllStudents(ctx context.Context) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM students`)
		return err
	})
	return errors.Wrap(err, "delete all students")
}

// -------- Attendance --------

// MarkPresent records attendance once per (student, session) and reports whether a row was inserted.
func (r *SQLRepository) MarkPresent(ctx context.Context, studentID, sessionID int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (student_id, session_id, present, timestamp)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (student_id, session_id) DO NOTHING
	`, studentID, sessionID, at.UTC())
	if err != nil {
		return false, errors.Wrap(err, "mark present")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SQLRepository) CountPresent(ctx context.Context, studentID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance WHERE student_id = $1 AND present = TRUE
	`, studentID).Scan(&n)
	return n, err
}

// PresentCounts returns present rows per student id.
func (r *SQLRepository) PresentCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, COUNT(*) FROM attendance WHERE present = TRUE GROUP BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// SessionRoster lists students present at a session ordered by name.
func (r *SQLRepository) SessionRoster(ctx context.Context, sessionID int64) ([]RosterEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.name, s.email
		FROM students s
		JOIN attendance a ON a.student_id = s.id
		WHERE a.session_id = $1 AND a.present = TRUE
		ORDER BY s.name
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roster []RosterEntry
	for rows.Next() {
		var e RosterEntry
		var email sql.NullString
		if err := rows.Scan(&e.Name, &email); err != nil {
			return nil, err
		}
		e.Email = email.String
		roster = append(roster, e)
	}
	return roster, rows.Err()
}

func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func conflictOr(err error, op string) error {
	if err == nil {
		return nil
	}
	if store.IsUniqueViolation(err) {
		return errors.Wrap(ErrConflict, op)
	}
	return errors.Wrap(err, op)
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "student %d", id)
	}
	return nil
}
