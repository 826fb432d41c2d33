package index

import (
	"database/sql"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/db"
	"github.com/pkg/errors"
)

// tokenizerClauses lists FTS5 tokenizers to try per mode, best first.
var tokenizerClauses = map[config.Tokenizer][]string{
	config.TokenizerASCII: {"porter unicode61", "unicode61"},
	config.TokenizerCJK:   {"trigram", "unicode61"},
}

func migrations(tok config.Tokenizer) []db.Migration {
	return []db.Migration{
		migrationCreateSections(tok),
		migrationCreateHeadings(),
		migrationCreateIndexMeta(),
	}
}

// schemaVersion is the version a fully migrated index reports.
func schemaVersion() int64 {
	return db.LatestVersion(migrations(config.TokenizerASCII))
}

func migrationCreateSections(tok config.Tokenizer) db.Migration {
	return db.Migration{
		Version:     20260301000001,
		Description: "Create sections full-text table",
		Up: func(tx *sql.Tx) error {
			clauses := tokenizerClauses[tok]
			if len(clauses) == 0 {
				clauses = tokenizerClauses[config.TokenizerASCII]
			}
			var lastErr error
			for _, clause := range clauses {
				_, err := tx.Exec(`CREATE VIRTUAL TABLE sections USING fts5(
					file, section, content, start_line UNINDEXED,
					tokenize = '` + clause + `'
				)`)
				if err == nil {
					return nil
				}
				lastErr = err
			}
			return errors.Wrap(lastErr, "failed to create sections table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE sections")
			return err
		},
	}
}

func migrationCreateHeadings() db.Migration {
	return db.Migration{
		Version:     20260301000002,
		Description: "Create headings outline table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE headings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				file TEXT NOT NULL,
				text TEXT NOT NULL,
				level INTEGER NOT NULL,
				start_line INTEGER NOT NULL,
				end_line INTEGER NOT NULL
			)`)
			if err != nil {
				return errors.Wrap(err, "failed to create headings table")
			}
			_, err = tx.Exec("CREATE INDEX idx_headings_text ON headings(text COLLATE NOCASE)")
			return errors.Wrap(err, "failed to index headings")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE headings")
			return err
		},
	}
}

func migrationCreateIndexMeta() db.Migration {
	return db.Migration{
		Version:     20260301000003,
		Description: "Create index_meta table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
			return errors.Wrap(err, "failed to create index_meta table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE index_meta")
			return err
		},
	}
}
