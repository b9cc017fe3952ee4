package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// App holds the runtime configuration loaded from the environment (and an optional .env file).
type App struct {
	Env         string
	HTTPPort    string
	DatabaseURL string
	RedisAddr   string
	SecretKey   string

	AdminCode     string
	AdminTokenTTL time.Duration
	JWTIssuer     string

	PublicBaseURL string
	Threshold     float64

	SweepSchedule string
	SweepRunner   string // api, worker or off
	QueueBackend  string // memory or redis
	NotifyMode    string // direct or queue

	EmailBackend   string // smtp, sendgrid or console
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	FromEmail      string
	SendgridAPIKey string

	RateLimitPerMin int
	LogLevel        string
	LogPretty       bool
}

// Production reports whether the app runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	port := v.GetString("HTTP_PORT")
	if port == "" {
		port = v.GetString("PORT")
	}

	from := v.GetString("FROM_EMAIL")
	if from == "" {
		from = v.GetString("SMTP_USERNAME")
	}

	return App{
		Env:             v.GetString("APP_ENV"),
		HTTPPort:        port,
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		SecretKey:       v.GetString("SECRET_KEY"),
		AdminCode:       v.GetString("ADMIN_CODE"),
		AdminTokenTTL:   durationValue(v, "ADMIN_TOKEN_TTL", 12*time.Hour),
		JWTIssuer:       v.GetString("JWT_ISSUER"),
		PublicBaseURL:   v.GetString("PUBLIC_BASE_URL"),
		Threshold:       v.GetFloat64("ATTENDANCE_THRESHOLD"),
		SweepSchedule:   v.GetString("SWEEP_SCHEDULE"),
		SweepRunner:     strings.ToLower(v.GetString("SWEEP_RUNNER")),
		QueueBackend:    strings.ToLower(v.GetString("QUEUE_BACKEND")),
		NotifyMode:      strings.ToLower(v.GetString("NOTIFY_MODE")),
		EmailBackend:    strings.ToLower(v.GetString("EMAIL_BACKEND")),
		SMTPHost:        v.GetString("SMTP_HOST"),
		SMTPPort:        v.GetInt("SMTP_PORT"),
		SMTPUsername:    v.GetString("SMTP_USERNAME"),
		SMTPPassword:    v.GetString("SMTP_PASSWORD"),
		FromEmail:       from,
		SendgridAPIKey:  v.GetString("SENDGRID_API_KEY"),
		RateLimitPerMin: v.GetInt("RATE_LIMIT_PER_MIN"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogPretty:       v.GetBool("LOG_PRETTY"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("PORT", "5000")
	v.SetDefault("DATABASE_URL", "sqlite:///attendance.db")
	v.SetDefault("SECRET_KEY", "dev")
	v.SetDefault("ADMIN_CODE", "letmein")
	v.SetDefault("JWT_ISSUER", "rollcall")
	v.SetDefault("ATTENDANCE_THRESHOLD", 0.5)
	v.SetDefault("SWEEP_SCHEDULE", "0 5 * * *")
	v.SetDefault("SWEEP_RUNNER", "api")
	v.SetDefault("QUEUE_BACKEND", "memory")
	v.SetDefault("NOTIFY_MODE", "direct")
	v.SetDefault("EMAIL_BACKEND", "smtp")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
}

func durationValue(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	raw := v.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
		return fallback
	}
	return d
}

// Database drivers understood by the store package.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

// Database is a parsed DATABASE_URL.
type Database struct {
	Driver string
	DSN    string
}

// ParseDatabaseURL normalises DATABASE_URL into a driver name and a DSN the driver accepts.
// Hosted providers hand out postgres:// as well as SQLAlchemy style postgresql+psycopg2:// URLs.
func ParseDatabaseURL(raw string) (Database, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Database{Driver: DriverSQLite, DSN: "attendance.db"}, nil
	case strings.HasPrefix(raw, "memory:"):
		return Database{Driver: DriverMemory}, nil
	case strings.HasPrefix(raw, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(raw, "sqlite:"), "//")
		if strings.HasPrefix(path, "/") {
			path = path[1:]
		}
		if path == "" {
			return Database{}, errors.Errorf("sqlite url %q has no path", raw)
		}
		return Database{Driver: DriverSQLite, DSN: path}, nil
	}

	url := raw
	for _, prefix := range []string{"postgresql+psycopg2://", "postgres+psycopg2://", "postgresql://"} {
		if strings.HasPrefix(url, prefix) {
			url = "postgres://" + strings.TrimPrefix(url, prefix)
			break
		}
	}
	if !strings.HasPrefix(url, "postgres://") {
		return Database{}, errors.Errorf("unsupported database url scheme in %q", raw)
	}
	if !strings.Contains(url, "sslmode=") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "sslmode=require"
	}
	return Database{Driver: DriverPostgres, DSN: url}, nil
}
