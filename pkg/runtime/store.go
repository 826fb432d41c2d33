// Package runtime owns the runtime store: one directory per compiled skill
// holding the stub, the manifest and the search index. Entries are replaced
// by publishing a fully written staging directory with renames, and writers
// of the same skill are serialized with an advisory file lock.
package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

const (
	stagingDir = ".staging"
	locksDir   = ".locks"
)

// interruptHook runs between moving the live entry aside and moving the
// staged entry in. Tests use it to simulate a crash mid-publish.
var interruptHook func() error

// Store is a runtime store rooted at one directory.
type Store struct {
	root  string
	scope config.Scope
}

// NewStore returns the store at root.
func NewStore(root string, scope config.Scope) *Store {
	return &Store{root: root, scope: scope}
}

// ForScope returns the runtime store of scope in layout.
func ForScope(layout config.Layout, scope config.Scope) *Store {
	return NewStore(layout.Runtime(scope), scope)
}

func (s *Store) Root() string        { return s.root }
func (s *Store) Scope() config.Scope { return s.scope }

// EntryDir is the live directory of skill.
func (s *Store) EntryDir(skill string) string {
	return filepath.Join(s.root, skill)
}

// LoadManifest returns the live manifest of skill, or nil when the skill
// has never been published. An unreadable manifest is reported as nil too
// so the caller rebuilds over it.
func (s *Store) LoadManifest(ctx context.Context, skill string) (*Manifest, error) {
	m, err := ReadManifest(s.EntryDir(skill))
	switch {
	case err == nil:
		return m, nil
	case os.IsNotExist(errors.Cause(err)):
		return nil, nil
	case os.IsPermission(errors.Cause(err)):
		return nil, errors.Wrap(err, "failed to read manifest")
	default:
		logger.G(ctx).WithError(err).WithField("skill", skill).Warn("ignoring unreadable manifest")
		return nil, nil
	}
}

// HasStub reports whether the live entry contains a stub.
func (s *Store) HasStub(skill string) bool {
	info, err := os.Stat(filepath.Join(s.EntryDir(skill), StubFile))
	return err == nil && info.Mode().IsRegular()
}

// Lock takes the writer lock for skill and repairs any publish that was
// interrupted while the previous holder had it.
func (s *Store) Lock(ctx context.Context, skill string) (func(), error) {
	path := filepath.Join(s.root, locksDir, skill+".lock")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create lock directory")
	}
	unlock, err := lockedfile.MutexAt(path).Lock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock skill %s", skill)
	}
	if err := s.recover(ctx, skill); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

func (s *Store) backupDir(skill string) string {
	return filepath.Join(s.root, stagingDir, skill+".prev")
}

func (s *Store) recover(ctx context.Context, skill string) error {
	live := s.EntryDir(skill)
	backup := s.backupDir(skill)
	log := logger.G(ctx).WithField("skill", skill)

	if fsutil.Exists(backup) {
		if !fsutil.Exists(live) {
			log.Warn("restoring runtime entry from interrupted publish")
			if err := os.Rename(backup, live); err != nil {
				return errors.Wrap(err, "failed to restore runtime entry")
			}
		} else if err := os.RemoveAll(backup); err != nil {
			return errors.Wrap(err, "failed to remove stale backup")
		}
	}

	stale, _ := filepath.Glob(filepath.Join(s.root, stagingDir, skill+".tmp-*"))
	for _, dir := range stale {
		log.WithField("dir", dir).Debug("removing abandoned staging directory")
		os.RemoveAll(dir)
	}
	return nil
}

// Staging is an unpublished entry being written.
type Staging struct {
	store *Store
	skill string
	dir   string
	done  bool
}

// Stage creates an empty staging directory for skill. The caller must hold
// the skill's lock.
func (s *Store) Stage(skill string) (*Staging, error) {
	parent := filepath.Join(s.root, stagingDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	dir, err := os.MkdirTemp(parent, skill+".tmp-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrap(err, "failed to chmod staging directory")
	}
	return &Staging{store: s, skill: skill, dir: dir}, nil
}

// Dir is the staging directory.
func (st *Staging) Dir() string { return st.dir }

// WriteArtifact writes the stub and manifest into the staging directory.
func (st *Staging) WriteArtifact(stub []byte, m *Manifest) error {
	if err := os.MkdirAll(filepath.Join(st.dir, config.MetaDir), 0o755); err != nil {
		return errors.Wrap(err, "failed to create metadata directory")
	}
	if err := os.WriteFile(filepath.Join(st.dir, StubFile), stub, 0o644); err != nil {
		return errors.Wrap(err, "failed to write stub")
	}
	return WriteManifest(st.dir, m)
}

// Publish replaces the live entry with the staged one. A reader sees the
// old entry, briefly no entry, then the new entry; never a mix.
func (st *Staging) Publish(ctx context.Context) error {
	if st.done {
		return errors.New("staging already finished")
	}
	live := st.store.EntryDir(st.skill)
	backup := st.store.backupDir(st.skill)

	if err := os.RemoveAll(backup); err != nil {
		return errors.Wrap(err, "failed to clear backup")
	}
	hadLive := fsutil.Exists(live)
	if hadLive {
		if err := os.Rename(live, backup); err != nil {
			return errors.Wrap(err, "failed to move live entry aside")
		}
	}
	if interruptHook != nil {
		if err := interruptHook(); err != nil {
			return err
		}
	}
	if err := os.Rename(st.dir, live); err != nil {
		if hadLive {
			if rerr := os.Rename(backup, live); rerr != nil {
				logger.G(ctx).WithError(rerr).Error("failed to roll back runtime entry")
			}
		}
		return errors.Wrap(err, "failed to publish runtime entry")
	}
	st.done = true
	if hadLive {
		if err := os.RemoveAll(backup); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to remove previous runtime entry")
		}
	}
	logger.G(ctx).WithField("skill", st.skill).WithField("dir", live).Debug("published runtime entry")
	return nil
}

// Abort discards the staging directory. It is a no-op after Publish.
func (st *Staging) Abort() {
	if st.done {
		return
	}
	st.done = true
	os.RemoveAll(st.dir)
}

// Entry is one published skill as seen by List.
type Entry struct {
	Skill    string
	Dir      string
	Manifest *Manifest
	Err      error
}

// List returns published entries whose names match pattern (a glob; empty
// matches all), sorted by name.
func (s *Store) List(pattern string) ([]Entry, error) {
	var matcher glob.Glob
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
		}
		matcher = g
	}

	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read runtime store")
	}

	var entries []Entry
	for _, d := range dirs {
		name := d.Name()
		if !d.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if matcher != nil && !matcher.Match(name) {
			continue
		}
		dir := s.EntryDir(name)
		m, err := ReadManifest(dir)
		entries = append(entries, Entry{Skill: name, Dir: dir, Manifest: m, Err: err})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Skill < entries[j].Skill })
	return entries, nil
}

// Remove deletes skill's live entry under its lock.
func (s *Store) Remove(ctx context.Context, skill string) error {
	unlock, err := s.Lock(ctx, skill)
	if err != nil {
		return err
	}
	defer unlock()
	return errors.Wrap(os.RemoveAll(s.EntryDir(skill)), "failed to remove runtime entry")
}
