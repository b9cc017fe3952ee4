// Package app wires configuration into the storage, queue, mail and service layers
// shared by the api and worker binaries.
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/notify"
	"rollcall/internal/queue"
	"rollcall/internal/report"
	"rollcall/internal/store"
	"rollcall/internal/sweep"
)

// Queue backends and notify modes accepted in the config.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"

	NotifyDirect = "direct"
	NotifyQueue  = "queue"
)

type App struct {
	Config   config.App
	Log      zerolog.Logger
	DB       *store.DB // nil with the in-memory repository
	Redis    *store.Redis
	Queue    queue.Queue
	Mailer   notify.Mailer
	Notifier attendance.Notifier
	Service  *attendance.Service
	Reports  *report.Reporter
}

// New opens the database (applying migrations), connects redis when configured
// and builds the attendance service with the configured notifier.
func New(cfg config.App, log zerolog.Logger) (*App, error) {
	return build(cfg, log)
}

// NewWorker is New for a standalone worker process. An in-memory queue has no
// consumer there, so alerts are sent directly unless the queue lives in redis.
func NewWorker(cfg config.App, log zerolog.Logger) (*App, error) {
	if cfg.NotifyMode == NotifyQueue && cfg.QueueBackend != QueueRedis {
		log.Warn().Msg("NOTIFY_MODE=queue needs QUEUE_BACKEND=redis in the worker, sending alerts directly")
		cfg.NotifyMode = NotifyDirect
	}
	return build(cfg, log)
}

func build(cfg config.App, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	dbc, err := config.ParseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var repo attendance.Repository
	if dbc.Driver == config.DriverMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		repo = attendance.NewMemoryRepository()
	} else {
		db, err := store.NewDB(dbc.Driver, dbc.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect database")
		}
		a.DB = db
		if err := store.Migrate(dbc.Driver, dbc.DSN); err != nil {
			a.Close()
			return nil, errors.Wrap(err, "migrate database")
		}
		log.Info().Str("driver", dbc.Driver).Msg("database ready")
		repo = attendance.NewRepository(db)
	}

	a.Redis = store.NewRedis(cfg.RedisAddr)

	switch cfg.QueueBackend {
	case "", QueueMemory:
		a.Queue = queue.NewInMemory(64)
	case QueueRedis:
		if a.Redis == nil {
			a.Close()
			return nil, errors.New("QUEUE_BACKEND=redis needs REDIS_ADDR")
		}
		a.Queue = queue.NewRedisQueue(a.Redis.Client, queue.DefaultRedisKey)
	default:
		a.Close()
		return nil, errors.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	a.Mailer, err = notify.NewMailer(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	switch cfg.NotifyMode {
	case "", NotifyDirect:
		a.Notifier = notify.NewDirect(a.Mailer, log)
	case NotifyQueue:
		a.Notifier = notify.NewQueued(a.Queue, log)
	default:
		a.Close()
		return nil, errors.Errorf("unknown notify mode %q", cfg.NotifyMode)
	}

	a.Service = attendance.NewService(repo, a.Notifier, cfg.Threshold, log)
	a.Reports = report.New(repo, a.Service.Threshold())
	return a, nil
}

// InProcessDelivery reports whether queued alerts can only be delivered by this process.
func (a *App) InProcessDelivery() bool {
	return a.Config.NotifyMode == NotifyQueue && a.Config.QueueBackend != QueueRedis
}

// Locker returns the redis day lock when redis is configured, else nil (process-local lock).
func (a *App) Locker() sweep.Locker {
	if a.Redis == nil {
		return nil
	}
	return sweep.NewRedisLocker(a.Redis.Client)
}

// SweepRunner builds the daily sweep scheduler.
func (a *App) SweepRunner() (*sweep.Runner, error) {
	return sweep.New(a.Service, a.Locker(), a.Config.SweepSchedule, a.Log)
}

// Checks lists the dependencies reported by /healthz.
func (a *App) Checks() map[string]func(ctx context.Context) bool {
	checks := map[string]func(ctx context.Context) bool{}
	if a.DB != nil {
		checks["db"] = a.DB.Healthy
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Healthy
	}
	return checks
}

func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("close database")
		}
	}
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("close redis")
	}
}
