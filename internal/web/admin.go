package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"rollcall/internal/attendance"
	"rollcall/internal/qr"
)

func (s *Server) adminLoginForm(c *gin.Context) {
	s.render(c, http.StatusOK, "admin_login.html", nil)
}

func (s *Server) adminLogin(c *gin.Context) {
	if s.gate.Login(c, c.PostForm("code")) {
		s.flash(c, flashSuccess, "Admin mode enabled.")
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	s.flash(c, flashError, "Invalid admin code.")
	s.render(c, http.StatusOK, "admin_login.html", nil)
}

func (s *Server) adminLogout(c *gin.Context) {
	s.gate.Logout(c)
	s.flash(c, flashSuccess, "Admin mode disabled.")
	c.Redirect(http.StatusFound, "/dashboard")
}

type createSessionRequest struct {
	ClassDate string `form:"class_date" binding:"required,datetime=2006-01-02"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid class_date, expected YYYY-MM-DD")
		return
	}
	day, err := time.Parse(attendance.DateLayout, strings.TrimSpace(req.ClassDate))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid class_date, expected YYYY-MM-DD")
		return
	}
	sess, err := s.svc.CreateSession(c.Request.Context(), day)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info().Str("class_date", sess.DateString()).Int64("session_id", sess.ID).Msg("session ensured")
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) clearStudents(c *gin.Context) {
	if err := s.svc.ClearStudents(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Warn().Msg("all students and attendance deleted")
	s.flash(c, flashSuccess, "All students and their attendance have been deleted.")
	c.Redirect(http.StatusFound, "/dashboard")
}

func (s *Server) studentID(c *gin.Context) (int64, bool) {
	id, ok := queryID(c.Param("id"))
	if !ok {
		notFound(c)
	}
	return id, ok
}

func (s *Server) deleteStudent(c *gin.Context) {
	id, ok := s.studentID(c)
	if !ok {
		return
	}
	st, err := s.svc.DeleteStudent(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.flash(c, flashSuccess, "Deleted "+st.Name+".")
	c.Redirect(http.StatusFound, "/dashboard")
}

func (s *Server) editStudentForm(c *gin.Context) {
	id, ok := s.studentID(c)
	if !ok {
		return
	}
	st, err := s.svc.GetStudent(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, "edit_student.html", gin.H{"Student": st})
}

func (s *Server) editStudent(c *gin.Context) {
	id, ok := s.studentID(c)
	if !ok {
		return
	}
	back := c.Request.URL.Path

	_, err := s.svc.EditStudent(c.Request.Context(), id, c.PostForm("name"), c.PostForm("email"))
	var verr *attendance.ValidationError
	switch {
	case err == nil:
		s.flash(c, flashSuccess, "Student updated.")
		c.Redirect(http.StatusFound, "/dashboard")
	case errors.As(err, &verr):
		s.flash(c, flashError, verr.Message)
		c.Redirect(http.StatusFound, back)
	case errors.Is(err, attendance.ErrConflict):
		s.flash(c, flashError, conflictText)
		c.Redirect(http.StatusFound, back)
	default:
		s.fail(c, err)
	}
}

func (s *Server) debugBase(c *gin.Context) {
	today, err := s.svc.TodaySession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	var configured any
	if s.baseURL != "" {
		configured = s.baseURL
	}
	c.JSON(http.StatusOK, gin.H{
		"PUBLIC_BASE_URL": configured,
		"qr_example":      qr.CheckinURL(qr.BaseURL(s.baseURL, c.Request), today.ID),
	})
}
