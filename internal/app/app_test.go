package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/notify"
)

func baseConfig() config.App {
	return config.App{
		DatabaseURL:  "memory://",
		QueueBackend: QueueMemory,
		NotifyMode:   NotifyDirect,
		EmailBackend: "console",
		Threshold:    0.5,
	}
}

func TestNewInMemory(t *testing.T) {
	a, err := New(baseConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Locker())
	assert.Empty(t, a.Checks())
	assert.False(t, a.InProcessDelivery())

	sess, err := a.Service.TodaySession(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, sess.ID)

	r, err := a.SweepRunner()
	require.NoError(t, err)
	assert.False(t, r.Next().IsZero())
}

func TestNewSQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.DatabaseURL = "sqlite:///" + filepath.Join(t.TempDir(), "attendance.db")

	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.DB)
	checks := a.Checks()
	require.Contains(t, checks, "db")
	assert.True(t, checks["db"](context.Background()))
}

func TestNewRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*config.App){
		"redis queue without redis": func(c *config.App) { c.QueueBackend = QueueRedis },
		"unknown queue":             func(c *config.App) { c.QueueBackend = "kafka" },
		"unknown notify mode":       func(c *config.App) { c.NotifyMode = "pigeon" },
		"unknown email backend":     func(c *config.App) { c.EmailBackend = "fax" },
		"bad database url":          func(c *config.App) { c.DatabaseURL = "mysql://x" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(&cfg)
			_, err := New(cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestQueuedNotifyWithoutRedisDeliversInProcess(t *testing.T) {
	cfg := baseConfig()
	cfg.NotifyMode = NotifyQueue
	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.InProcessDelivery())
}

func TestWorkerSendsDirectlyWithoutSharedQueue(t *testing.T) {
	cfg := baseConfig()
	cfg.NotifyMode = NotifyQueue
	a, err := NewWorker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.InProcessDelivery())
	require.IsType(t, &notify.Direct{}, a.Notifier)

	ctx := context.Background()
	for _, d := range []int{2, 3} {
		_, err := a.Service.CreateSession(ctx, time.Date(2024, time.September, d, 9, 0, 0, 0, time.Local))
		require.NoError(t, err)
	}
	st := &attendance.Student{Name: "Sam", Email: "sam@example.com", Active: true}
	require.NoError(t, a.Service.Repository().CreateStudent(ctx, st))

	r, err := a.SweepRunner()
	require.NoError(t, err)
	ran, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := a.Service.GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.LastNotifiedAt)
}

func TestWorkerKeepsRedisQueue(t *testing.T) {
	cfg := baseConfig()
	cfg.NotifyMode = NotifyQueue
	cfg.QueueBackend = QueueRedis
	cfg.RedisAddr = "127.0.0.1:6399"
	a, err := NewWorker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &notify.Queued{}, a.Notifier)
	assert.False(t, a.InProcessDelivery())
}
