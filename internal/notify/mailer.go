// Package notify delivers below-threshold attendance alerts by email.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"rollcall/internal/config"
)

// ErrNotConfigured is returned when a mailer lacks a setting it needs to send.
var ErrNotConfigured = errors.New("email not configured")

// Message is a plain-text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer picks the backend named by EMAIL_BACKEND.
func NewMailer(cfg config.App, log zerolog.Logger) (Mailer, error) {
	switch cfg.EmailBackend {
	case "", "smtp":
		return &SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromEmail,
		}, nil
	case "sendgrid":
		return NewSendgridMailer(cfg.SendgridAPIKey, cfg.FromEmail), nil
	case "console":
		return NewConsoleMailer(log), nil
	default:
		return nil, errors.Errorf("unknown email backend %q", cfg.EmailBackend)
	}
}

// -------- SMTP --------

// SMTPMailer submits mail over SMTP with STARTTLS and PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

func (m *SMTPMailer) configured(to string) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"host", m.Host}, {"username", m.Username}, {"password", m.Password}, {"from", m.From}, {"recipient", to},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if m.Port <= 0 {
		missing = append(missing, "port")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrNotConfigured, "smtp missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := m.configured(msg.To); err != nil {
		return err
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}); err != nil {
		return errors.Wrap(err, "starttls")
	}
	if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
		return errors.Wrap(err, "smtp auth")
	}
	if err := c.Mail(m.From); err != nil {
		return errors.Wrap(err, "smtp mail from")
	}
	if err := c.Rcpt(msg.To); err != nil {
		return errors.Wrap(err, "smtp rcpt to")
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write(buildMIME(m.From, msg, time.Now())); err != nil {
		return errors.Wrap(err, "write message")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "finish message")
	}
	return errors.Wrap(c.Quit(), "smtp quit")
}

func buildMIME(from string, msg Message, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// -------- SendGrid --------

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridMailer posts messages to the SendGrid v3 API.
type SendgridMailer struct {
	key  string
	from *sgmail.Email
	host string
}

func NewSendgridMailer(key, fromEmail string) *SendgridMailer {
	return &SendgridMailer{key: key, from: sgmail.NewEmail("", fromEmail), host: sendgridHost}
}

func (m *SendgridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Body))
	return v3
}

func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if m.key == "" || m.from.Address == "" || msg.To == "" {
		return errors.Wrap(ErrNotConfigured, "sendgrid needs api key, from and recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, m.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "sendgrid request")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// -------- Console --------

// ConsoleMailer logs messages instead of sending them.
type ConsoleMailer struct {
	log zerolog.Logger
}

func NewConsoleMailer(log zerolog.Logger) *ConsoleMailer {
	return &ConsoleMailer{log: log.With().Str("component", "mailer").Logger()}
}

func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return errors.Wrap(ErrNotConfigured, "no recipient")
	}
	m.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg(msg.Body)
	return nil
}
