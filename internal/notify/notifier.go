package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// Direct sends alerts inline through a Mailer. Failures are logged and reported as false.
type Direct struct {
	mailer Mailer
	log    zerolog.Logger
}

var _ attendance.Notifier = (*Direct)(nil)

func NewDirect(mailer Mailer, log zerolog.Logger) *Direct {
	return &Direct{mailer: mailer, log: log.With().Str("component", "notify").Logger()}
}

func (d *Direct) Notify(ctx context.Context, to, subject, body string) bool {
	return deliver(ctx, d.mailer, Message{To: to, Subject: subject, Body: body}, d.log)
}

func deliver(ctx context.Context, mailer Mailer, msg Message, log zerolog.Logger) bool {
	err := mailer.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues("sent").Inc()
		log.Info().Str("to", msg.To).Msg("alert sent")
		return true
	case errors.Is(err, ErrNotConfigured):
		metrics.Notifications.WithLabelValues("unconfigured").Inc()
		log.Warn().Err(err).Msg("email not configured, alert skipped")
	default:
		metrics.Notifications.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("to", msg.To).Msg("alert delivery failed")
	}
	return false
}

// Queued hands alerts to a queue for a delivery worker. Success means the job was accepted.
type Queued struct {
	q   queue.Queue
	log zerolog.Logger
}

var _ attendance.Notifier = (*Queued)(nil)

func NewQueued(q queue.Queue, log zerolog.Logger) *Queued {
	return &Queued{q: q, log: log.With().Str("component", "notify").Logger()}
}

func (n *Queued) Notify(ctx context.Context, to, subject, body string) bool {
	msg, err := queue.NewMessage(queue.TypeEmail, Message{To: to, Subject: subject, Body: body})
	if err == nil {
		err = n.q.Publish(ctx, msg)
	}
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		n.log.Warn().Err(err).Str("to", to).Msg("enqueue alert")
		return false
	}
	metrics.Notifications.WithLabelValues("queued").Inc()
	return true
}

// RunDelivery consumes email jobs until ctx is done. Each job is attempted once.
func RunDelivery(ctx context.Context, q queue.Queue, mailer Mailer, log zerolog.Logger) error {
	log = log.With().Str("component", "delivery").Logger()
	ch, err := q.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "consume queue")
	}
	log.Info().Msg("email delivery started")
	for m := range ch {
		if m.Type != queue.TypeEmail {
			log.Warn().Str("type", m.Type).Msg("unknown job type dropped")
			continue
		}
		var msg Message
		if err := m.Decode(&msg); err != nil {
			log.Error().Err(err).Msg("bad email job dropped")
			continue
		}
		deliver(ctx, mailer, msg, log)
	}
	log.Info().Msg("email delivery stopped")
	return nil
}
