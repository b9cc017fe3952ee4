package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/report"
)

const adminCode = "letmein"

func init() {
	gin.SetMode(gin.TestMode)
}

type sent struct{ to, subject string }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Notify(_ context.Context, to, subject, _ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{to: to, subject: subject})
	return true
}

// client replays cookies between requests the way a browser would.
type client struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func (c *client) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return w
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(http.MethodGet, target, nil)
}

func (c *client) post(target string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	return c.do(http.MethodPost, target, form)
}

type fixture struct {
	svc      *attendance.Service
	repo     *attendance.MemoryRepository
	notifier *recordingNotifier
	c        *client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := attendance.NewMemoryRepository()
	n := &recordingNotifier{}
	log := zerolog.Nop()
	svc := attendance.NewService(repo, n, attendance.DefaultThreshold, log)

	r, err := NewRouter(Deps{
		Service:       svc,
		Reports:       report.New(repo, svc.Threshold()),
		Gate:          auth.NewGate(adminCode, "test-signing-key", "rollcall-test", time.Hour, false),
		Log:           log,
		PublicBaseURL: "https://class.example",
		SecretKey:     "test-session-secret-0123456789abcdef",
		Checks: map[string]HealthCheck{
			"db": func(context.Context) bool { return true },
		},
	})
	require.NoError(t, err)
	return &fixture{
		svc:      svc,
		repo:     repo,
		notifier: n,
		c:        &client{t: t, router: r, cookies: map[string]*http.Cookie{}},
	}
}

// todayID opens the check-in page, which creates today's session, and returns its id.
func (f *fixture) todayID(t *testing.T) string {
	t.Helper()
	require.Equal(t, http.StatusOK, f.c.get("/checkin").Code)
	sess, err := f.svc.TodaySession(context.Background())
	require.NoError(t, err)
	return itoa(sess.ID)
}

func TestFirstCheckInCreatesTodaysSession(t *testing.T) {
	f := newFixture(t)
	id := f.todayID(t)

	w := f.c.post("/submit_checkin", url.Values{"session_id": {id}, "name": {"Alex"}})
	require.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	assert.Equal(t, "/checkin?session_id="+id, loc)

	page := f.c.get(loc)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Checked in! Have a great class.")

	// flashes are consumed once
	again := f.c.get(loc)
	assert.NotContains(t, again.Body.String(), "Checked in!")

	dash := f.c.get("/dashboard")
	require.Equal(t, http.StatusOK, dash.Code)
	body := dash.Body.String()
	assert.Contains(t, body, "Alex")
	assert.Contains(t, body, "100%")
	assert.Contains(t, body, "Total sessions: 1")
	assert.Empty(t, f.notifier.sent)
}

func TestLowAttendanceNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []int64
	for _, d := range []int{2, 3, 4} {
		s, err := f.svc.CreateSession(ctx, time.Date(2024, time.September, d, 9, 0, 0, 0, time.Local))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	form := url.Values{"session_id": {itoa(ids[0])}, "name": {"Sam"}, "email": {"sam@example.com"}}
	require.Equal(t, http.StatusFound, f.c.post("/submit_checkin", form).Code)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "sam@example.com", f.notifier.sent[0].to)
	assert.Equal(t, "Attendance Alert: You are below 50%", f.notifier.sent[0].subject)

	st, err := f.repo.FindStudentByName(ctx, "Sam")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.Active)

	// 2 of 3 lifts Sam back above the line without another email
	form.Set("session_id", itoa(ids[1]))
	require.Equal(t, http.StatusFound, f.c.post("/submit_checkin", form).Code)
	assert.Len(t, f.notifier.sent, 1)

	st, err = f.repo.FindStudentByName(ctx, "Sam")
	require.NoError(t, err)
	assert.True(t, st.Active)
}

func TestBlankNameIsRejected(t *testing.T) {
	f := newFixture(t)
	w := f.c.post("/submit_checkin", url.Values{"session_id": {f.todayID(t)}, "name": {"   "}})
	require.Equal(t, http.StatusFound, w.Code)

	page := f.c.get(w.Header().Get("Location"))
	assert.Contains(t, page.Body.String(), "Please enter your name.")

	rows, err := f.repo.ListStudents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUnknownSessionIs404(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.c.get("/checkin?session_id=999").Code)
	assert.Equal(t, http.StatusNotFound, f.c.post("/submit_checkin", url.Values{"session_id": {"999"}, "name": {"Kim"}}).Code)
	assert.Equal(t, http.StatusNotFound, f.c.get("/admin/export.csv?session_id=999").Code)
}

func TestCheckInWithoutSessionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, form := range []url.Values{
		{"name": {"Kim"}},
		{"name": {"   "}},
		{"session_id": {"abc"}, "name": {"Kim"}},
		{"session_id": {"-3"}, "name": {"Kim"}},
	} {
		assert.Equal(t, http.StatusNotFound, f.c.post("/submit_checkin", form).Code, form.Encode())
	}

	n, err := f.repo.CountSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	rows, err := f.repo.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQRImages(t *testing.T) {
	f := newFixture(t)

	w := f.c.get("/qr/today")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	assert.Equal(t, http.StatusBadRequest, f.c.get("/qr.png").Code)
	tooLong := f.c.get("/qr.png?url=" + strings.Repeat("x", 8000))
	assert.Equal(t, http.StatusBadRequest, tooLong.Code)
	assert.Contains(t, tooLong.Body.String(), "Invalid url")
	assert.Equal(t, http.StatusOK, f.c.get("/qr.png?url=https://class.example/checkin").Code)

	home := f.c.get("/")
	require.Equal(t, http.StatusOK, home.Code)
	assert.Contains(t, home.Body.String(), "https://class.example/checkin?session_id=")
}

func TestSummaryCSV(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"session_id": {f.todayID(t)}, "name": {"Alex"}, "email": {"alex@example.com"}}
	require.Equal(t, http.StatusFound, f.c.post("/submit_checkin", form).Code)

	w := f.c.get("/admin/export.csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="attendance_export.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t,
		"name,email,attendance_percent,status,present_days,total_sessions\n"+
			"Alex,alex@example.com,100,Active,1,1\n",
		w.Body.String())
}

func TestAdminRoutesRequireCode(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"class_date": {"2024-09-10"}}

	assert.Equal(t, http.StatusForbidden, f.c.post("/admin/create_session", form).Code)
	assert.Equal(t, http.StatusForbidden, f.c.get("/_debug_base").Code)

	w := f.c.post("/admin/create_session?code="+adminCode, form)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	n, err := f.repo.CountSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bad := url.Values{"class_date": {"10/09/2024"}, "code": {adminCode}}
	assert.Equal(t, http.StatusBadRequest, f.c.post("/admin/create_session", bad).Code)
}

func TestAdminLoginCookie(t *testing.T) {
	f := newFixture(t)

	w := f.c.post("/admin/login", url.Values{"code": {"wrong"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid admin code.")
	assert.NotContains(t, f.c.cookies, auth.CookieName)

	w = f.c.post("/admin/login", url.Values{"code": {adminCode}})
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, f.c.cookies, auth.CookieName)

	dbg := f.c.get("/_debug_base")
	require.Equal(t, http.StatusOK, dbg.Code)
	assert.Contains(t, dbg.Body.String(), `"PUBLIC_BASE_URL":"https://class.example"`)

	f.c.get("/admin/logout")
	assert.Equal(t, http.StatusForbidden, f.c.get("/_debug_base").Code)
}

func TestEditAndDeleteStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.todayID(t)
	for _, name := range []string{"Alex", "Sam"} {
		require.Equal(t, http.StatusFound, f.c.post("/submit_checkin", url.Values{"session_id": {id}, "name": {name}}).Code)
	}
	alex, err := f.repo.FindStudentByName(ctx, "Alex")
	require.NoError(t, err)
	editPath := "/admin/student/" + itoa(alex.ID) + "/edit"

	require.Equal(t, http.StatusFound, f.c.post("/admin/login", url.Values{"code": {adminCode}}).Code)

	form := f.c.get(editPath)
	require.Equal(t, http.StatusOK, form.Code)
	assert.Contains(t, form.Body.String(), `value="Alex"`)

	w := f.c.post(editPath, url.Values{"name": {"Sam"}})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, editPath, w.Header().Get("Location"))
	assert.Contains(t, f.c.get(editPath).Body.String(), conflictText)

	w = f.c.post(editPath, url.Values{"name": {"Alexandra"}, "email": {"alex@example.com"}})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
	got, err := f.repo.GetStudent(ctx, alex.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alexandra", got.Name)

	w = f.c.post("/admin/student/"+itoa(alex.ID)+"/delete", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, f.c.get("/dashboard").Body.String(), "Deleted Alexandra.")
	assert.Equal(t, http.StatusNotFound, f.c.post("/admin/student/"+itoa(alex.ID)+"/delete", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.c.get("/admin/student/abc/edit").Code)

	require.Equal(t, http.StatusFound, f.c.post("/admin/clear_students", nil).Code)
	rows, err := f.repo.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.c.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "true", w.Header().Get("ngrok-skip-browser-warning"))

	assert.Equal(t, http.StatusNoContent, f.c.get("/favicon.ico").Code)

	hz := f.c.get("/healthz")
	assert.Equal(t, http.StatusOK, hz.Code)
	assert.Contains(t, hz.Body.String(), `"db":true`)

	assert.Equal(t, http.StatusOK, f.c.get("/metrics").Code)
	assert.Equal(t, http.StatusOK, f.c.get("/dashboard/by-date").Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
