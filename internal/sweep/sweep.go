// Package sweep schedules the daily status re-evaluation of every student.
package sweep

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
)

// DefaultSchedule runs the sweep at 05:00 server local time.
const DefaultSchedule = "0 5 * * *"

// Sweeper re-evaluates every student once.
type Sweeper interface {
	Sweep(ctx context.Context) (attendance.SweepResult, error)
}

// Locker grants at most one sweep per calendar day.
type Locker interface {
	Acquire(ctx context.Context, day string) (bool, error)
	Release(ctx context.Context, day string) error
}

// RedisLocker shares the day lock between processes.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	host, _ := os.Hostname()
	return &RedisLocker{client: client, ttl: 26 * time.Hour, owner: fmt.Sprintf("%s:%d", host, os.Getpid())}
}

func lockKey(day string) string { return "rollcall:sweep:" + day }

func (l *RedisLocker) Acquire(ctx context.Context, day string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(day), l.owner, l.ttl).Result()
	return ok, errors.Wrap(err, "acquire sweep lock")
}

func (l *RedisLocker) Release(ctx context.Context, day string) error {
	return errors.Wrap(l.client.Del(ctx, lockKey(day)).Err(), "release sweep lock")
}

// LocalLocker remembers the last swept day inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	last string
}

func (l *LocalLocker) Acquire(_ context.Context, day string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == day {
		return false, nil
	}
	l.last = day
	return true, nil
}

func (l *LocalLocker) Release(_ context.Context, day string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == day {
		l.last = ""
	}
	return nil
}

// Runner runs the sweep on a cron schedule.
type Runner struct {
	sweeper Sweeper
	locker  Locker
	log     zerolog.Logger
	cron    *cron.Cron
	timeout time.Duration
	now     func() time.Time
}

// New builds a runner for schedule (standard five-field cron, local time).
func New(sweeper Sweeper, locker Locker, schedule string, log zerolog.Logger) (*Runner, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if locker == nil {
		locker = &LocalLocker{}
	}
	r := &Runner{
		sweeper: sweeper,
		locker:  locker,
		log:     log.With().Str("component", "sweep").Logger(),
		timeout: 30 * time.Minute,
		now:     time.Now,
	}
	cl := cronLogger{log: r.log}
	r.cron = cron.New(
		cron.WithLocation(time.Local),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, errors.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	return r, nil
}

func (r *Runner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Error().Err(err).Msg("daily sweep")
	}
}

// RunOnce sweeps unless today's sweep already ran. It reports whether a sweep happened.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	day := r.now().Format(attendance.DateLayout)
	ok, err := r.locker.Acquire(ctx, day)
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.Info().Str("day", day).Msg("sweep already done today, skipping")
		return false, nil
	}

	start := time.Now()
	res, err := r.sweeper.Sweep(ctx)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil && res.Evaluated == 0 {
		// nothing was evaluated; let a later run retry today
		if rerr := r.locker.Release(ctx, day); rerr != nil {
			r.log.Warn().Err(rerr).Msg("release sweep lock")
		}
		return true, err
	}
	r.log.Info().
		Str("day", day).
		Int("evaluated", res.Evaluated).
		Int("deactivated", res.Deactivated).
		Int("reactivated", res.Reactivated).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("sweep finished")
	return true, err
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Time("next", r.Next()).Msg("sweep scheduled")
}

// Stop halts scheduling and waits for a running sweep or ctx.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next is the time of the next scheduled run.
func (r *Runner) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(r.now())
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
