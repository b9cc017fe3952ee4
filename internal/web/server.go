// Package web serves the check-in pages, dashboards and admin routes.
package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	sessionCookie   = "rollcall_session"
	internalErrText = "Something went wrong. Check the server logs for details."
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the server to its collaborators.
type Deps struct {
	Service       *attendance.Service
	Reports       *report.Reporter
	Gate          *auth.Gate
	Log           zerolog.Logger
	PublicBaseURL string
	SecretKey     string
	Production    bool
	RateLimit     int
	Checks        map[string]HealthCheck
}

type Server struct {
	svc     *attendance.Service
	reports *report.Reporter
	gate    *auth.Gate
	log     zerolog.Logger
	baseURL string
	checks  map[string]HealthCheck
}

var registerValidators sync.Once

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) (*gin.Engine, error) {
	var verr error
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			verr = v.RegisterValidation("notblank", validators.NotBlank)
		}
	})
	if verr != nil {
		return nil, errors.Wrap(verr, "register validators")
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"orDash": func(s string) string {
			if s == "" {
				return "—"
			}
			return s
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}

	s := &Server{
		svc:     d.Service,
		reports: d.Reports,
		gate:    d.Gate,
		log:     d.Log,
		baseURL: d.PublicBaseURL,
		checks:  d.Checks,
	}

	store := cookie.NewStore([]byte(d.SecretKey))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   d.Production,
		SameSite: http.SameSiteLaxMode,
	})

	quiet := []string{"/health", "/healthz", "/metrics", "/favicon.ico"}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(d.Log, quiet...))
	r.Use(gin.CustomRecovery(s.recovered))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders(d.Production))
	r.Use(httpmiddleware.NewSimpleTokenBucket(d.RateLimit, d.RateLimit).GinMiddleware(quiet...))
	r.Use(sessions.Sessions(sessionCookie, store))

	s.routes(r)
	return r, nil
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/", s.index)
	r.GET("/checkin", s.checkinForm)
	r.POST("/submit_checkin", s.submitCheckin)
	r.GET("/qr/today", s.qrToday)
	r.GET("/qr.png", s.qrForURL)
	r.GET("/dashboard", s.dashboard)
	r.GET("/dashboard/by-date", s.dashboardByDate)
	r.GET("/admin/export.csv", s.exportCSV)

	r.GET("/admin/login", s.adminLoginForm)
	r.POST("/admin/login", s.adminLogin)
	r.GET("/admin/logout", s.adminLogout)

	admin := r.Group("/", s.gate.Require())
	admin.POST("/admin/create_session", s.createSession)
	admin.POST("/admin/clear_students", s.clearStudents)
	admin.POST("/admin/student/:id/delete", s.deleteStudent)
	admin.GET("/admin/student/:id/edit", s.editStudentForm)
	admin.POST("/admin/student/:id/edit", s.editStudent)
	admin.GET("/_debug_base", s.debugBase)

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

// -------- helpers --------

const (
	flashSuccess = "success"
	flashError   = "error"
)

type flash struct {
	Category string
	Message  string
}

func (s *Server) flash(c *gin.Context, category, msg string) {
	sess := sessions.Default(c)
	sess.AddFlash(msg, category)
	if err := sess.Save(); err != nil {
		s.log.Warn().Err(err).Msg("save flash")
	}
}

func (s *Server) takeFlashes(c *gin.Context) []flash {
	sess := sessions.Default(c)
	var out []flash
	for _, category := range []string{flashError, flashSuccess} {
		for _, v := range sess.Flashes(category) {
			if msg, ok := v.(string); ok {
				out = append(out, flash{Category: category, Message: msg})
			}
		}
	}
	if len(out) > 0 {
		if err := sess.Save(); err != nil {
			s.log.Warn().Err(err).Msg("clear flashes")
		}
	}
	return out
}

// render executes a page template with the values every page shares.
func (s *Server) render(c *gin.Context, status int, page string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Flashes"] = s.takeFlashes(c)
	data["Admin"] = s.gate.IsAdmin(c)
	data["CurrentYear"] = time.Now().Year()
	c.HTML(status, page, data)
}

func notFound(c *gin.Context) {
	c.String(http.StatusNotFound, "Not Found")
}

// fail maps a service error onto a response.
func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, attendance.ErrNotFound) {
		notFound(c)
		return
	}
	_ = c.Error(err)
	s.log.Error().Err(err).
		Str("request_id", httpmiddleware.GetRequestID(c)).
		Str("path", c.Request.URL.Path).
		Msg("request failed")
	c.String(http.StatusInternalServerError, internalErrText)
}

func (s *Server) recovered(c *gin.Context, rec any) {
	s.log.Error().
		Interface("panic", rec).
		Str("request_id", httpmiddleware.GetRequestID(c)).
		Str("path", c.Request.URL.Path).
		Msg("panic recovered")
	c.String(http.StatusInternalServerError, internalErrText)
	c.Abort()
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range s.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
