package analytics

import (
	"database/sql"

	"github.com/jingkaihe/skillc/pkg/db"
	"github.com/pkg/errors"
)

var migrations = []db.Migration{
	{
		Version:     20260301100001,
		Description: "Create access_log table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS access_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				run_id TEXT NOT NULL,
				command TEXT NOT NULL,
				skill TEXT NOT NULL,
				skill_path TEXT NOT NULL,
				section TEXT NOT NULL DEFAULT '',
				cwd TEXT NOT NULL DEFAULT '',
				args TEXT NOT NULL,
				error TEXT
			)`)
			return errors.Wrap(err, "failed to create access_log table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE access_log")
			return err
		},
	},
	{
		Version:     20260301100002,
		Description: "Index access_log dedup key",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_access_log_dedup
				ON access_log(run_id, timestamp, command, args)`)
			return errors.Wrap(err, "failed to create dedup index")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP INDEX IF EXISTS idx_access_log_dedup")
			return err
		},
	},
}
