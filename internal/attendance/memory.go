package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryRepository keeps everything in process memory. It enforces the same
// uniqueness rules as the SQL schema and is used for development and tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	nextID     int64
	students   map[int64]*Student
	sessions   map[int64]*Session
	attendance map[[2]int64]time.Time // {student, session} -> timestamp
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		students:   make(map[int64]*Student),
		sessions:   make(map[int64]*Session),
		attendance: make(map[[2]int64]time.Time),
	}
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) EnsureSession(_ context.Context, day time.Time) (Session, error) {
	date := CalendarDate(day)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClassDate.Equal(date) {
			return *s, nil
		}
	}
	s := &Session{ID: m.id(), ClassDate: date}
	m.sessions[s.ID] = s
	return *s, nil
}

func (m *MemoryRepository) GetSession(_ context.Context, id int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ClassDate.After(sessions[j].ClassDate) })
	return sessions, nil
}

func (m *MemoryRepository) CountSessions(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryRepository) FindStudentByName(_ context.Context, name string) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Student
	for _, st := range m.students {
		if strings.EqualFold(st.Name, name) && (found == nil || st.ID < found.ID) {
			found = st
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *MemoryRepository) GetStudent(_ context.Context, id int64) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryRepository) ListStudents(_ context.Context) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	students := make([]Student, 0, len(m.students))
	for _, st := range m.students {
		students = append(students, *st)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students, nil
}

// taken reports whether name or email is used by a student other than exclude.
func (m *MemoryRepository) taken(name, email string, exclude int64) bool {
	for _, st := range m.students {
		if st.ID == exclude {
			continue
		}
		if st.Name == name || (email != "" && st.Email == email) {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) CreateStudent(_ context.Context, st *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taken(st.Name, st.Email, 0) {
		return errors.Wrap(ErrConflict, "create student")
	}
	st.ID = m.id()
	cp := *st
	m.students[st.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpdateStudent(_ context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[st.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "student %d", st.ID)
	}
	if m.taken(st.Name, st.Email, st.ID) {
		return errors.Wrap(ErrConflict, "update student")
	}
	cur.Name = st.Name
	cur.Email = st.Email
	return nil
}

func (m *MemoryRepository) SetStudentEmail(_ context.Context, id int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[id]
	if !ok || cur.Email != "" {
		return nil
	}
	if m.taken("", email, id) {
		return errors.Wrap(ErrConflict, "set student email")
	}
	cur.Email = email
	return nil
}

func (m *MemoryRepository) SetStudentActive(_ context.Context, id int64, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.students[id]
	if !ok || cur.Active == active {
		return false, nil
	}
	cur.Active = active
	return true, nil
}

func (m *MemoryRepository) SetStudentNotified(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.students[id]; ok {
		at = at.UTC()
		cur.LastNotifiedAt = &at
	}
	return nil
}

func (m *MemoryRepository) DeleteStudent(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return false, nil
	}
	delete(m.students, id)
	for key := range m.attendance {
		if key[0] == id {
			delete(m.attendance, key)
		}
	}
	return true, nil
}

func (m *MemoryRepository) DeleteAllStudents(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = make(map[int64]*Student)
	m.attendance = make(map[[2]int64]time.Time)
	return nil
}

func (m *MemoryRepository) MarkPresent(_ context.Context, studentID, sessionID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[studentID]; !ok {
		return false, errors.Wrapf(ErrNotFound, "student %d", studentID)
	}
	if _, ok := m.sessions[sessionID]; !ok {
		return false, errors.Wrapf(ErrNotFound, "session %d", sessionID)
	}
	key := [2]int64{studentID, sessionID}
	if _, ok := m.attendance[key]; ok {
		return false, nil
	}
	m.attendance[key] = at.UTC()
	return true, nil
}

func (m *MemoryRepository) CountPresent(_ context.Context, studentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for key := range m.attendance {
		if key[0] == studentID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) PresentCounts(_ context.Context) (map[int64]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int64]int)
	for key := range m.attendance {
		counts[key[0]]++
	}
	return counts, nil
}

func (m *MemoryRepository) SessionRoster(_ context.Context, sessionID int64) ([]RosterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roster []RosterEntry
	for key := range m.attendance {
		if key[1] != sessionID {
			continue
		}
		if st, ok := m.students[key[0]]; ok {
			roster = append(roster, RosterEntry{Name: st.Name, Email: st.Email})
		}
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Name < roster[j].Name })
	return roster, nil
}
