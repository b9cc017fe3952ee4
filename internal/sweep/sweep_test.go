package sweep

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
)

type countingSweeper struct {
	calls atomic.Int32
	res   attendance.SweepResult
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (attendance.SweepResult, error) {
	s.calls.Add(1)
	return s.res, s.err
}

func newRunner(t *testing.T, sw Sweeper, locker Locker) *Runner {
	t.Helper()
	r, err := New(sw, locker, "", zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestRunOnceOncePerDay(t *testing.T) {
	sw := &countingSweeper{res: attendance.SweepResult{Evaluated: 2, Deactivated: 1}}
	r := newRunner(t, sw, nil)
	day := time.Date(2024, 9, 3, 5, 0, 0, 0, time.Local)
	r.now = func() time.Time { return day }

	ran, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.EqualValues(t, 1, sw.calls.Load())

	day = day.AddDate(0, 0, 1)
	ran, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.EqualValues(t, 2, sw.calls.Load())
}

func TestRunOnceReleasesLockWhenNothingEvaluated(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db down")}
	r := newRunner(t, sw, &LocalLocker{})

	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.EqualValues(t, 2, sw.calls.Load())
}

func TestRunOnceKeepsLockAfterPartialFailure(t *testing.T) {
	sw := &countingSweeper{res: attendance.SweepResult{Evaluated: 3, Failed: 1}, err: errors.New("1 of 3 failed")}
	r := newRunner(t, sw, &LocalLocker{})

	ran, err := r.RunOnce(context.Background())
	assert.True(t, ran)
	assert.Error(t, err)
	ran, err = r.RunOnce(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&countingSweeper{}, nil, "every morning", zerolog.Nop())
	assert.Error(t, err)
}

func TestNextRunIsFiveAM(t *testing.T) {
	r := newRunner(t, &countingSweeper{}, nil)
	now := time.Date(2024, 9, 3, 12, 0, 0, 0, time.Local)
	r.now = func() time.Time { return now }

	next := r.Next()
	assert.True(t, next.Equal(time.Date(2024, 9, 4, 5, 0, 0, 0, time.Local)), "next run %s", next)
}

func TestStartStop(t *testing.T) {
	r := newRunner(t, &countingSweeper{}, nil)
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

func TestSweepWithService(t *testing.T) {
	ctx := context.Background()
	repo := attendance.NewMemoryRepository()
	svc := attendance.NewService(repo, nil, 0.5, zerolog.Nop())

	for d := 2; d <= 4; d++ {
		_, err := svc.CreateSession(ctx, time.Date(2024, 9, d, 9, 0, 0, 0, time.Local))
		require.NoError(t, err)
	}
	st := &attendance.Student{Name: "Sam", Active: true}
	require.NoError(t, repo.CreateStudent(ctx, st))

	r := newRunner(t, svc, nil)
	ran, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := repo.GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	day := "test-" + time.Now().Format("150405.000000")
	defer client.Del(ctx, lockKey(day))

	a, b := NewRedisLocker(client), NewRedisLocker(client)
	ok, err := a.Acquire(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Acquire(ctx, day)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx, day))
	ok, err = b.Acquire(ctx, day)
	require.NoError(t, err)
	assert.True(t, ok)
}
