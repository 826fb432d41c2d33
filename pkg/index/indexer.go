package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/db"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/pkg/errors"
)

// State classifies an index file against the source it should reflect.
type State string

const (
	StateMissing   State = "missing"
	StateCorrupt   State = "corrupt"
	StateCollision State = "collision"
	StateStale     State = "stale"
	StateUpToDate  State = "up_to_date"
)

// Summary reports what a Build did.
type Summary struct {
	Path     string
	Previous State
	Rebuilt  bool
	Files    int
	Sections int
	Headings int
}

// Options tunes an Indexer.
type Options struct {
	Formats *Registry
	Now     func() time.Time
}

// Indexer builds per-skill search databases.
type Indexer struct {
	tokenizer config.Tokenizer
	formats   *Registry
	now       func() time.Time
}

// NewIndexer returns an Indexer for the tokenizer mode of one scope.
func NewIndexer(tok config.Tokenizer, opts Options) *Indexer {
	if tok == "" {
		tok = config.TokenizerASCII
	}
	if opts.Formats == nil {
		opts.Formats = DefaultRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Indexer{tokenizer: tok, formats: opts.Formats, now: opts.Now}
}

// Tokenizer returns the configured tokenizer mode.
func (ix *Indexer) Tokenizer() config.Tokenizer { return ix.tokenizer }

// State inspects the index at path. Only filesystem errors other than a
// missing file are returned as errors; everything else is a State.
func (ix *Indexer) State(ctx context.Context, path string, src *resolver.Source, fp fingerprint.Fingerprint) (State, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return StateMissing, nil
		}
		return "", errcode.Wrap(err, errcode.IO, "failed to stat index %s", path)
	}

	idx, err := Open(ctx, path)
	if err != nil {
		return StateCorrupt, nil
	}
	defer idx.Close()

	meta, err := idx.Meta(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("path", path).Debug("index metadata unreadable")
		return StateCorrupt, nil
	}

	switch {
	case filepath.Clean(meta.SkillPath) != filepath.Clean(src.Dir):
		return StateCollision, nil
	case meta.SourceHash != fp.String(),
		meta.Tokenizer != string(ix.tokenizer),
		meta.SchemaVersion != schemaVersion():
		return StateStale, nil
	default:
		return StateUpToDate, nil
	}
}

// Build makes the index at path reflect src. An up-to-date index is left
// alone. The new database is written next to path and renamed over it.
func (ix *Indexer) Build(ctx context.Context, src *resolver.Source, fp fingerprint.Fingerprint, path string) (*Summary, error) {
	log := logger.G(ctx).WithField("skill", src.Name).WithField("index", filepath.Base(path))

	state, err := ix.State(ctx, path, src, fp)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Path: path, Previous: state}

	switch state {
	case StateUpToDate:
		log.Debug("index up to date")
		return summary, nil
	case StateCollision:
		return nil, errcode.New(errcode.IndexHashCollision,
			"index %s belongs to a different source than %s", path, src.Dir)
	}

	units, files, err := ix.collect(ctx, src.Dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to create index directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".search-*.db.tmp")
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to create temporary index")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	headings, err := ix.write(ctx, tmpPath, src, fp, units)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to replace index %s", path)
	}

	summary.Rebuilt = true
	summary.Files = files
	summary.Sections = len(units)
	summary.Headings = headings
	log.WithField("previous", state).WithField("sections", len(units)).Info("index rebuilt")
	return summary, nil
}

func (ix *Indexer) write(ctx context.Context, path string, src *resolver.Source, fp fingerprint.Fingerprint, units []Unit) (int, error) {
	conn, err := db.OpenMigrated(ctx, path, migrations(ix.tokenizer), db.WithJournalMode(db.JournalDelete))
	if err != nil {
		return 0, errcode.Wrap(err, errcode.IndexUnusable, "failed to initialise index")
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	headings := 0
	for _, u := range units {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sections (file, section, content, start_line) VALUES (?, ?, ?, ?)",
			u.File, u.Section, u.Content, u.StartLine); err != nil {
			return 0, errcode.Wrap(err, errcode.IndexUnusable, "failed to insert section")
		}
		if u.Level == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO headings (file, text, level, start_line, end_line) VALUES (?, ?, ?, ?, ?)",
			u.File, u.Section, u.Level, u.StartLine, u.EndLine); err != nil {
			return 0, errcode.Wrap(err, errcode.IndexUnusable, "failed to insert heading")
		}
		headings++
	}

	meta := map[string]string{
		metaSkill:      src.Name,
		metaSkillPath:  filepath.Clean(src.Dir),
		metaSourceHash: fp.String(),
		metaTokenizer:  string(ix.tokenizer),
		metaIndexedAt:  ix.now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO index_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return 0, errcode.Wrap(err, errcode.IndexUnusable, "failed to write index metadata")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errcode.Wrap(err, errcode.IndexUnusable, "failed to commit index")
	}
	return headings, nil
}

// collect extracts units from every registered file under root in path
// order.
func (ix *Indexer) collect(ctx context.Context, root string) ([]Unit, int, error) {
	dir, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, 0, errcode.Wrap(err, errcode.IO, "failed to resolve skill root")
	}

	var rels []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errcode.Wrap(walkErr, errcode.IO, "failed to walk %s", path)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (fingerprint.IsExcludedDir(d.Name()) || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to relativize %s", path)
		}
		if !d.Type().IsRegular() {
			logger.G(ctx).WithField("path", filepath.ToSlash(rel)).Debug("skipping non-regular file")
			return nil
		}
		if _, ok := ix.formats.Match(filepath.ToSlash(rel)); ok {
			rels = append(rels, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(rels)

	var units []Unit
	for _, rel := range rels {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, 0, errcode.Wrap(err, errcode.IO, "failed to read %s", rel)
		}
		format, _ := ix.formats.Match(rel)
		extracted, err := format.Extract(rel, content)
		if err != nil {
			return nil, 0, errcode.Wrap(err, errcode.IndexUnusable, "failed to extract %s as %s", rel, format.Name)
		}
		units = append(units, extracted...)
	}
	return units, len(rels), nil
}
