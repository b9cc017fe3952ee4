package web

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"rollcall/internal/attendance"
	"rollcall/internal/qr"
)

const conflictText = "Name or email already exists. Choose a different one."

// queryID parses an optional positive integer parameter. Malformed values count as absent.
func queryID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func checkinPath(sessionID int64) string {
	return "/checkin?session_id=" + strconv.FormatInt(sessionID, 10)
}

func (s *Server) index(c *gin.Context) {
	today, err := s.svc.TodaySession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, "index.html", gin.H{
		"Session":  today,
		"QRTarget": qr.CheckinURL(qr.BaseURL(s.baseURL, c.Request), today.ID),
	})
}

func (s *Server) checkinForm(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		sess attendance.Session
		err  error
	)
	if id, ok := queryID(c.Query("session_id")); ok {
		sess, err = s.svc.GetSession(ctx, id)
	} else {
		sess, err = s.svc.TodaySession(ctx)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, "checkin.html", gin.H{"Session": sess})
}

type checkinRequest struct {
	SessionID string `form:"session_id"`
	Name      string `form:"name" binding:"notblank"`
	Email     string `form:"email"`
}

func (s *Server) submitCheckin(c *gin.Context) {
	ctx := c.Request.Context()
	var req checkinRequest
	bindErr := c.ShouldBind(&req)

	sessionID, ok := queryID(req.SessionID)
	if !ok {
		notFound(c)
		return
	}
	back := checkinPath(sessionID)

	if bindErr != nil {
		s.flash(c, flashError, "Please enter your name.")
		c.Redirect(http.StatusFound, back)
		return
	}

	res, err := s.svc.CheckIn(ctx, attendance.CheckInRequest{
		SessionID: sessionID,
		Name:      req.Name,
		Email:     req.Email,
	})
	var verr *attendance.ValidationError
	switch {
	case errors.As(err, &verr):
		s.flash(c, flashError, verr.Message)
		c.Redirect(http.StatusFound, back)
		return
	case errors.Is(err, attendance.ErrConflict):
		s.flash(c, flashError, conflictText)
		c.Redirect(http.StatusFound, back)
		return
	case err != nil:
		s.fail(c, err)
		return
	}

	if res.EmailSkipped {
		s.flash(c, flashError, "That email belongs to another student, so it was not saved.")
	}
	s.flash(c, flashSuccess, "Checked in! Have a great class.")
	c.Redirect(http.StatusFound, back)
}

func pngResponse(c *gin.Context, png []byte) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) qrToday(c *gin.Context) {
	today, err := s.svc.TodaySession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	target := qr.CheckinURL(qr.BaseURL(s.baseURL, c.Request), today.ID)
	s.log.Debug().Str("url", target).Msg("qr for today")
	png, err := qr.PNG(target, qr.DefaultSize)
	if err != nil {
		s.fail(c, err)
		return
	}
	pngResponse(c, png)
}

func (s *Server) qrForURL(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		c.String(http.StatusBadRequest, "Missing url")
		return
	}
	png, err := qr.PNG(target, qr.DefaultSize)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid url: cannot be encoded as a QR code")
		return
	}
	pngResponse(c, png)
}

func (s *Server) dashboard(c *gin.Context) {
	d, err := s.reports.Dashboard(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, "dashboard.html", gin.H{
		"Rows":          d.Students,
		"TotalSessions": d.TotalSessions,
	})
}

func (s *Server) dashboardByDate(c *gin.Context) {
	days, err := s.reports.ByDate(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.render(c, http.StatusOK, "by_date.html", gin.H{"Days": days})
}

func (s *Server) exportCSV(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		buf bytes.Buffer
		err error
	)
	if id, ok := queryID(c.Query("session_id")); ok {
		err = s.reports.WriteSessionCSV(ctx, &buf, id)
	} else {
		err = s.reports.WriteSummaryCSV(ctx, &buf)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="attendance_export.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
