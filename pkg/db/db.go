// Package db holds the SQLite plumbing shared by the search index and the
// access-log store: opening a database with the right pragmas and running
// versioned migrations.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	// JournalWAL suits long-lived databases with concurrent appenders.
	JournalWAL = "WAL"
	// JournalDelete keeps a database in a single file so it can be
	// replaced with a rename.
	JournalDelete = "DELETE"
)

type options struct {
	journalMode string
	mustExist   bool
}

// Option configures Open.
type Option func(*options)

// WithJournalMode selects the SQLite journal mode. The default is WAL.
func WithJournalMode(mode string) Option {
	return func(o *options) { o.journalMode = mode }
}

// MustExist makes Open fail with an os.ErrNotExist cause instead of
// creating a new database.
func MustExist() Option {
	return func(o *options) { o.mustExist = true }
}

// Open opens or creates the SQLite database at dbPath.
func Open(ctx context.Context, dbPath string, opts ...Option) (*sqlx.DB, error) {
	o := options{journalMode: JournalWAL}
	for _, opt := range opts {
		opt(&o)
	}

	if o.mustExist {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, errors.Wrap(err, "database does not exist")
		}
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := configure(ctx, db, o); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return db, nil
}

func configure(ctx context.Context, db *sqlx.DB, o options) error {
	pragmas := []string{
		"PRAGMA journal_mode=" + o.journalMode,
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if !strings.EqualFold(journalMode, o.journalMode) {
		return errors.Errorf("journal mode %s not enabled, current mode: %s", o.journalMode, journalMode)
	}
	return nil
}

// VerifyConfiguration checks the pragmas Open applies.
func VerifyConfiguration(db *sqlx.DB, journalMode string) error {
	var mode string
	if err := db.Get(&mode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if !strings.EqualFold(mode, journalMode) {
		return errors.Errorf("expected %s journal mode, got %s", journalMode, mode)
	}

	var synchronous string
	if err := db.Get(&synchronous, "PRAGMA synchronous"); err != nil {
		return errors.Wrap(err, "failed to query synchronous mode")
	}
	if synchronous != "1" {
		return errors.Errorf("expected NORMAL synchronous mode, got %s", synchronous)
	}
	return nil
}

// OpenMigrated opens dbPath and applies migrations.
func OpenMigrated(ctx context.Context, dbPath string, migrations []Migration, opts ...Option) (*sqlx.DB, error) {
	db, err := Open(ctx, dbPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationRunner(db).Run(ctx, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
