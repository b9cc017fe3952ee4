package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rollcall.db")

	require.NoError(t, Migrate(SQLite, path))
	// second run is a no-op
	require.NoError(t, Migrate(SQLite, path))

	db, err := NewDB(SQLite, path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	assert.True(t, db.Healthy(ctx))

	for _, table := range []string{"students", "sessions", "attendance"} {
		var n int
		err := db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.db")
	require.NoError(t, Migrate(SQLite, path))
	db, err := NewDB(SQLite, path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Client.ExecContext(ctx, `INSERT INTO sessions (class_date) VALUES ($1)`, "2024-09-02")
	require.NoError(t, err)
	_, err = db.Client.ExecContext(ctx, `INSERT INTO sessions (class_date) VALUES ($1)`, "2024-09-02")
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(errors.Wrap(err, "insert session")))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB("mysql", "whatever")
	assert.Error(t, err)
}

func TestNilRedisIsUnhealthy(t *testing.T) {
	r := NewRedis("")
	assert.Nil(t, r)
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}
