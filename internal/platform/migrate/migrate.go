// Package migrate applies the embedded schema migrations.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultTable is the version tracking table.
const DefaultTable = "beacon_schema_migrations"

// Runner wraps a migrate instance bound to one database.
type Runner struct {
	m  *migrate.Migrate
	db *sql.DB
}

// Open connects to databaseURL and prepares the embedded migration source.
func Open(databaseURL string) (*Runner, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("platform/migrate: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("platform/migrate: ping: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: DefaultTable})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("platform/migrate: driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("platform/migrate: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("platform/migrate: init: %w", err)
	}
	return &Runner{m: m, db: db}, nil
}

// Up applies every pending migration. It reports whether anything changed.
func (r *Runner) Up() (bool, error) {
	if err := r.m.Up(); err != nil {
		if isNoChange(err) {
			return false, nil
		}
		return false, fmt.Errorf("platform/migrate: up: %w", err)
	}
	return true, nil
}

// Down rolls back steps migrations.
func (r *Runner) Down(steps int) (bool, error) {
	if steps <= 0 {
		return false, fmt.Errorf("platform/migrate: steps must be positive, got %d", steps)
	}
	if err := r.m.Steps(-steps); err != nil {
		if isNoChange(err) {
			return false, nil
		}
		return false, fmt.Errorf("platform/migrate: down: %w", err)
	}
	return true, nil
}

// Force sets the recorded version without running migrations. -1 clears it.
func (r *Runner) Force(version int) error {
	if version < -1 {
		return fmt.Errorf("platform/migrate: invalid version %d", version)
	}
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("platform/migrate: force: %w", err)
	}
	return nil
}

// Version returns the current schema version and dirty flag.
func (r *Runner) Version() (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the source and database handles.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

func isNoChange(err error) bool {
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}
	// Steps past the first or last migration surface as a bare ErrNotExist.
	return errors.Is(err, os.ErrNotExist)
}
