// Package analytics records which skill content agents read. Each skill
// has an append-only access log; when the primary log cannot be written a
// fallback log under the working directory is used and later merged back
// with Syncer.
package analytics

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jingkaihe/skillc/pkg/db"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// LogsFile is the access-log database inside a log directory.
const LogsFile = "logs.db"

// Event is one access-log row. Timestamp is RFC3339 with nanoseconds so
// that it round-trips exactly through the dedup key.
type Event struct {
	ID        int64          `db:"id" json:"-"`
	Timestamp string         `db:"timestamp" json:"timestamp"`
	RunID     string         `db:"run_id" json:"run_id"`
	Command   string         `db:"command" json:"command"`
	Skill     string         `db:"skill" json:"skill"`
	SkillPath string         `db:"skill_path" json:"skill_path"`
	Section   string         `db:"section" json:"section,omitempty"`
	Cwd       string         `db:"cwd" json:"cwd"`
	Args      string         `db:"args" json:"args"`
	Error     sql.NullString `db:"error" json:"-"`
}

// Store is an open access-log database.
type Store struct {
	db   *sqlx.DB
	path string
}

// OpenStore opens or creates the access log in dir.
func OpenStore(ctx context.Context, dir string) (*Store, error) {
	path := filepath.Join(dir, LogsFile)
	conn, err := db.OpenMigrated(ctx, path, migrations)
	if err != nil {
		return nil, err
	}
	return &Store{db: conn, path: path}, nil
}

// OpenExisting opens the access log in dir without creating it.
func OpenExisting(ctx context.Context, dir string) (*Store, error) {
	path := filepath.Join(dir, LogsFile)
	conn, err := db.Open(ctx, path, db.MustExist())
	if err != nil {
		return nil, err
	}
	return &Store{db: conn, path: path}, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Insert appends ev, retrying while another process holds the write lock.
func (s *Store) Insert(ctx context.Context, ev Event) error {
	return retry.Do(
		func() error {
			_, err := s.db.NamedExecContext(ctx, `
				INSERT INTO access_log (timestamp, run_id, command, skill, skill_path, section, cwd, args, error)
				VALUES (:timestamp, :run_id, :command, :skill, :skill_path, :section, :cwd, :args, :error)`, ev)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(20*time.Millisecond),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
	)
}

// Exists reports whether an event with ev's dedup key is present.
func (s *Store) Exists(ctx context.Context, ev Event) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM access_log
		WHERE run_id = ? AND timestamp = ? AND command = ? AND args = ?`,
		ev.RunID, ev.Timestamp, ev.Command, ev.Args)
	return n > 0, errors.Wrap(err, "failed to check for duplicate")
}

// Entries returns every event in insertion order.
func (s *Store) Entries(ctx context.Context) ([]Event, error) {
	var evs []Event
	err := s.db.SelectContext(ctx, &evs, `
		SELECT id, timestamp, run_id, command, skill, skill_path, section, cwd, args, error
		FROM access_log ORDER BY id`)
	return evs, errors.Wrap(err, "failed to read access log")
}

// Delete removes the event with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM access_log WHERE id = ?", id)
	return errors.Wrap(err, "failed to delete access log entry")
}

// Count returns the number of events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM access_log")
	return n, errors.Wrap(err, "failed to count access log")
}

// CommandCount is one row of Stats.
type CommandCount struct {
	Command string `db:"command" json:"command"`
	Count   int    `db:"count" json:"count"`
}

// SectionCount is one row of Stats.
type SectionCount struct {
	Section string `db:"section" json:"section"`
	Count   int    `db:"count" json:"count"`
}

// Stats summarises an access log.
type Stats struct {
	Total    int            `json:"total"`
	Errors   int            `json:"errors"`
	First    string         `json:"first,omitempty"`
	Last     string         `json:"last,omitempty"`
	Commands []CommandCount `json:"commands"`
	Sections []SectionCount `json:"sections"`
}

// Stats aggregates the log.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := struct {
		Total  int            `db:"total"`
		Errors int            `db:"errors"`
		First  sql.NullString `db:"first"`
		Last   sql.NullString `db:"last"`
	}{}
	if err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS total,
			COUNT(error) AS errors,
			MIN(timestamp) AS first,
			MAX(timestamp) AS last
		FROM access_log`); err != nil {
		return nil, errors.Wrap(err, "failed to summarise access log")
	}
	st.Total, st.Errors, st.First, st.Last = row.Total, row.Errors, row.First.String, row.Last.String

	if err := s.db.SelectContext(ctx, &st.Commands, `
		SELECT command, COUNT(*) AS count FROM access_log
		GROUP BY command ORDER BY count DESC, command`); err != nil {
		return nil, errors.Wrap(err, "failed to count commands")
	}
	if err := s.db.SelectContext(ctx, &st.Sections, `
		SELECT section, COUNT(*) AS count FROM access_log
		WHERE section != '' GROUP BY section ORDER BY count DESC, section`); err != nil {
		return nil, errors.Wrap(err, "failed to count sections")
	}
	return st, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
