package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

//go:embed migrations/glossary/*.sql
var glossaryMigrationsFS embed.FS

//go:embed migrations/volume/*.sql
var volumeMigrationsFS embed.FS

// busyRetries bounds the retry window for writes that hit a locked database.
// Beyond this the operation fails with a conflict error instead of blocking.
const busyRetries = 3

// openDB opens a WAL-mode SQLite database with the connection parameters
// both stores share. Failures are unavailable-class: the caller cannot
// proceed without the database.
func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, NewUnavailableError("open", fmt.Errorf("database path is required"))
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate"+
		"&_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=foreign_keys(1)", cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, NewUnavailableError("open", err)
	}

	// An in-memory database exists per connection; a pool of more than one
	// connection would see different databases.
	if cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, NewUnavailableError("ping", err)
	}

	return db, nil
}

// runMigrations applies the embedded migration set in dir against db.
func runMigrations(db *sql.DB, fs embed.FS, dir string) error {
	sourceDriver, err := iofs.New(fs, dir)
	if err != nil {
		return NewUnavailableError("migrate", fmt.Errorf("failed to create migration source: %w", err))
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return NewUnavailableError("migrate", fmt.Errorf("failed to create database driver: %w", err))
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return NewUnavailableError("migrate", fmt.Errorf("failed to create migration instance: %w", err))
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return NewUnavailableError("migrate", fmt.Errorf("failed to run migrations: %w", err))
	}

	return nil
}

// isBusy reports whether err is SQLite writer contention. Matched through
// the driver's Code method rather than its concrete error type.
func isBusy(err error) bool {
	var se interface{ Code() int }
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// withBusyRetry runs fn, retrying a bounded number of times with backoff
// when the database is locked by a concurrent writer. Once the window is
// exhausted the contention surfaces as a conflict error.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == busyRetries {
			break
		}
		backoff := time.Duration(50*(1<<attempt)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return NewConflictError(op, err)
}
