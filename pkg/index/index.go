// Package index maintains one SQLite FTS5 database per compiled skill.
// A skill's index is rebuilt as a whole into a temporary file and renamed
// over the previous one, so readers never see a partially written index and
// rebuilding one skill never touches another skill's file.
package index

import (
	"context"
	"strings"
	"time"

	"github.com/jingkaihe/skillc/pkg/db"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	metaSkill      = "skill"
	metaSkillPath  = "skill_path"
	metaSourceHash = "source_hash"
	metaTokenizer  = "tokenizer"
	metaIndexedAt  = "indexed_at"
)

// Meta describes what an index was built from.
type Meta struct {
	Skill         string
	SkillPath     string
	SourceHash    string
	Tokenizer     string
	SchemaVersion int64
	IndexedAt     time.Time
}

// Heading is one row of the outline table.
type Heading struct {
	File      string `db:"file" json:"file"`
	Text      string `db:"text" json:"text"`
	Level     int    `db:"level" json:"level"`
	StartLine int    `db:"start_line" json:"start_line"`
	EndLine   int    `db:"end_line" json:"end_line"`
}

// Match is one search hit.
type Match struct {
	Skill   string  `db:"-" json:"skill"`
	File    string  `db:"file" json:"file"`
	Section string  `db:"section" json:"section"`
	Line    int     `db:"start_line" json:"line"`
	Snippet string  `db:"snippet" json:"snippet"`
	Score   float64 `db:"score" json:"score"`
}

// Index is an open, read-only view of one skill's search database.
type Index struct {
	db   *sqlx.DB
	path string
}

// Open opens the index at path. A missing or unreadable file is reported as
// an index-unusable error.
func Open(ctx context.Context, path string) (*Index, error) {
	conn, err := db.Open(ctx, path, db.WithJournalMode(db.JournalDelete), db.MustExist())
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IndexUnusable, "cannot open search index %s", path)
	}
	return &Index{db: conn, path: path}, nil
}

// Close releases the database.
func (ix *Index) Close() error { return ix.db.Close() }

// Meta reads the build metadata.
func (ix *Index) Meta(ctx context.Context) (Meta, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := ix.db.SelectContext(ctx, &rows, "SELECT key, value FROM index_meta"); err != nil {
		return Meta{}, errors.Wrap(err, "failed to read index metadata")
	}

	kv := make(map[string]string, len(rows))
	for _, r := range rows {
		kv[r.Key] = r.Value
	}
	if kv[metaSourceHash] == "" || kv[metaSkillPath] == "" {
		return Meta{}, errors.New("index metadata incomplete")
	}

	m := Meta{
		Skill:      kv[metaSkill],
		SkillPath:  kv[metaSkillPath],
		SourceHash: kv[metaSourceHash],
		Tokenizer:  kv[metaTokenizer],
	}
	if ts, err := time.Parse(time.RFC3339, kv[metaIndexedAt]); err == nil {
		m.IndexedAt = ts
	}
	version, err := db.NewMigrationRunner(ix.db).CurrentVersion(ctx)
	if err != nil {
		return Meta{}, err
	}
	m.SchemaVersion = version
	return m, nil
}

// Headings returns the outline in file then line order.
func (ix *Index) Headings(ctx context.Context) ([]Heading, error) {
	var hs []Heading
	err := ix.db.SelectContext(ctx, &hs, `
		SELECT file, text, level, start_line, end_line FROM headings
		ORDER BY CASE WHEN file = 'SKILL.md' THEN 0 ELSE 1 END, file, start_line`)
	return hs, errors.Wrap(err, "failed to read headings")
}

// FindHeadings returns headings whose text equals title, ignoring case.
func (ix *Index) FindHeadings(ctx context.Context, title string) ([]Heading, error) {
	var hs []Heading
	err := ix.db.SelectContext(ctx, &hs, `
		SELECT file, text, level, start_line, end_line FROM headings
		WHERE text = ? COLLATE NOCASE
		ORDER BY CASE WHEN file = 'SKILL.md' THEN 0 ELSE 1 END, file, start_line`, strings.TrimSpace(title))
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up heading")
	}
	if len(hs) == 0 {
		return nil, errcode.New(errcode.SectionNotFound, "section %q not found", title)
	}
	return hs, nil
}

// SectionContent returns the indexed text of the section that starts at
// line in file.
func (ix *Index) SectionContent(ctx context.Context, file string, line int) (string, error) {
	var content string
	err := ix.db.GetContext(ctx, &content,
		"SELECT content FROM sections WHERE file = ? AND start_line = ? LIMIT 1", file, line)
	if err != nil {
		return "", errcode.Wrap(err, errcode.SectionNotFound, "no section at %s:%d", file, line)
	}
	return content, nil
}

// Search runs query against the index. Results are ordered by bm25 rank,
// then file, then line.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	fts, err := BuildQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var matches []Match
	err = ix.db.SelectContext(ctx, &matches, `
		SELECT file, section, CAST(start_line AS INTEGER) AS start_line,
			snippet(sections, 2, '[MATCH]', '[/MATCH]', '...', 32) AS snippet,
			bm25(sections) AS score
		FROM sections
		WHERE sections MATCH ?
		ORDER BY score, file, CAST(start_line AS INTEGER)
		LIMIT ?`, fts, limit)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IndexUnusable, "search failed")
	}
	return matches, nil
}
