package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Database
		wantErr bool
	}{
		{name: "empty falls back to local sqlite", raw: "", want: Database{Driver: DriverSQLite, DSN: "attendance.db"}},
		{name: "relative sqlite", raw: "sqlite:///attendance.db", want: Database{Driver: DriverSQLite, DSN: "attendance.db"}},
		{name: "absolute sqlite", raw: "sqlite:////var/lib/rollcall.db", want: Database{Driver: DriverSQLite, DSN: "/var/lib/rollcall.db"}},
		{name: "short sqlite", raw: "sqlite://dev.db", want: Database{Driver: DriverSQLite, DSN: "dev.db"}},
		{name: "memory", raw: "memory://", want: Database{Driver: DriverMemory}},
		{
			name: "postgres gets sslmode",
			raw:  "postgres://u:p@db:5432/att",
			want: Database{Driver: DriverPostgres, DSN: "postgres://u:p@db:5432/att?sslmode=require"},
		},
		{
			name: "postgresql scheme with query",
			raw:  "postgresql://u:p@db/att?connect_timeout=5",
			want: Database{Driver: DriverPostgres, DSN: "postgres://u:p@db/att?connect_timeout=5&sslmode=require"},
		},
		{
			name: "psycopg2 style",
			raw:  "postgresql+psycopg2://u:p@db/att",
			want: Database{Driver: DriverPostgres, DSN: "postgres://u:p@db/att?sslmode=require"},
		},
		{
			name: "explicit sslmode kept",
			raw:  "postgres://u:p@localhost/att?sslmode=disable",
			want: Database{Driver: DriverPostgres, DSN: "postgres://u:p@localhost/att?sslmode=disable"},
		},
		{name: "sqlite without path", raw: "sqlite://", wantErr: true},
		{name: "unknown scheme", raw: "mysql://u:p@db/att", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDatabaseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("PORT", "7000")
	t.Setenv("SMTP_USERNAME", "mailer@example.com")
	t.Setenv("FROM_EMAIL", "")
	t.Setenv("ADMIN_TOKEN_TTL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, "7000", cfg.HTTPPort)
	assert.Equal(t, "mailer@example.com", cfg.FromEmail)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.Equal(t, "0 5 * * *", cfg.SweepSchedule)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, "direct", cfg.NotifyMode)
	assert.Equal(t, 12*60*60, int(cfg.AdminTokenTTL.Seconds()))
	assert.False(t, cfg.Production())
}
