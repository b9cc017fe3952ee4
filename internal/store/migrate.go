package store

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations
var migrations embed.FS

// Migrator applies the embedded schema migrations for one driver.
// It owns a dedicated connection, closed together with the migrator.
type Migrator struct {
	migrate *migrate.Migrate
}

func NewMigrator(driver, dsn string) (*Migrator, error) {
	db, err := open(driver, dsn)
	if err != nil {
		return nil, err
	}
	m, err := newMigrate(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Migrator{migrate: m}, nil
}

func newMigrate(db *sql.DB, driver string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations/"+dialectDir(driver))
	if err != nil {
		return nil, errors.Wrap(err, "load migrations")
	}

	switch driver {
	case Postgres:
		inst, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			return nil, errors.Wrap(err, "create migration driver")
		}
		m, err := migrate.NewWithInstance("iofs", src, "pgx5", inst)
		return m, errors.Wrap(err, "create migrator")
	case SQLite:
		inst, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, errors.Wrap(err, "create migration driver")
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite3", inst)
		return m, errors.Wrap(err, "create migrator")
	default:
		return nil, errors.Errorf("no migrations for driver %q", driver)
	}
}

func dialectDir(driver string) string {
	if driver == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

func (m *Migrator) Up() error {
	defer m.close()
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func (m *Migrator) Down() error {
	defer m.close()
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "rollback migrations")
	}
	return nil
}

func (m *Migrator) close() {
	_, _ = m.migrate.Close()
}

// Migrate brings the schema up to date.
func Migrate(driver, dsn string) error {
	m, err := NewMigrator(driver, dsn)
	if err != nil {
		return err
	}
	return m.Up()
}
