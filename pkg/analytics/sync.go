package analytics

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/pkg/errors"
)

// syncFaultHook runs after an entry is committed to the primary log and
// before it is removed from the fallback log. Tests use it to simulate a
// crash mid-sync.
var syncFaultHook func(committed int) error

// SyncOptions selects what Sync merges.
type SyncOptions struct {
	// Skill limits the sync to one skill; empty syncs every skill with
	// fallback logs.
	Skill  string
	DryRun bool
}

// SyncResult is the outcome for one skill.
type SyncResult struct {
	Skill   string `json:"skill"`
	Primary string `json:"primary"`
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
	Removed bool   `json:"removed"`
	Err     error  `json:"-"`
}

// Syncer merges fallback logs into primary logs.
type Syncer struct {
	layout   config.Layout
	resolver *resolver.Resolver
}

// NewSyncer returns a Syncer for layout.
func NewSyncer(layout config.Layout) *Syncer {
	return &Syncer{layout: layout, resolver: resolver.New(layout)}
}

// Sync moves fallback entries into their primary logs. An entry is deleted
// from the fallback only after its insert committed, and entries already
// present in the primary are skipped, so an interrupted sync can be re-run
// without losing or duplicating events.
func (s *Syncer) Sync(ctx context.Context, opts SyncOptions) ([]SyncResult, error) {
	root := s.layout.FallbackLogs()

	var skills []string
	if opts.Skill != "" {
		if _, err := os.Stat(filepath.Join(root, opts.Skill, LogsFile)); err != nil {
			return nil, errcode.New(errcode.NoLocalLogs, "no local logs for '%s'", opts.Skill)
		}
		skills = []string{opts.Skill}
	} else {
		skills = fallbackSkills(root)
	}

	var results []SyncResult
	var errs *multierror.Error
	for _, skill := range skills {
		res := s.syncSkill(ctx, skill, opts.DryRun)
		if res.Err != nil {
			errs = multierror.Append(errs, errors.Wrapf(res.Err, "sync %s", skill))
		}
		results = append(results, res)
	}
	if !opts.DryRun {
		removeIfEmpty(root)
	}
	return results, errs.ErrorOrNil()
}

func (s *Syncer) primaryDir(ctx context.Context, skill string) string {
	scope := config.ScopeGlobal
	if s.layout.HasProject() {
		scope = config.ScopeProject
	}
	if src, err := s.resolver.Resolve(ctx, skill, resolver.Options{AllowRuntimeFallback: true}); err == nil {
		scope = src.Scope
	}
	return s.layout.AnalyticsDir(scope, skill)
}

func (s *Syncer) syncSkill(ctx context.Context, skill string, dryRun bool) SyncResult {
	fallbackDir := filepath.Join(s.layout.FallbackLogs(), skill)
	res := SyncResult{Skill: skill, Primary: s.primaryDir(ctx, skill)}
	log := logger.G(ctx).WithField("skill", skill)

	src, err := OpenExisting(ctx, fallbackDir)
	if err != nil {
		res.Err = errcode.Wrap(err, errcode.SyncSourceNotReadable, "cannot read %s", filepath.Join(fallbackDir, LogsFile))
		return res
	}
	defer src.Close()

	entries, err := src.Entries(ctx)
	if err != nil {
		res.Err = errcode.Wrap(err, errcode.SyncSourceNotReadable, "cannot read %s", src.Path())
		return res
	}
	if dryRun {
		res.Synced = len(entries)
		return res
	}

	if len(entries) > 0 {
		dst, err := OpenStore(ctx, res.Primary)
		if err != nil {
			res.Err = errcode.Wrap(err, errcode.SyncDestNotWritable, "cannot write %s", filepath.Join(res.Primary, LogsFile))
			return res
		}
		defer dst.Close()

		for _, ev := range entries {
			exists, err := dst.Exists(ctx, ev)
			if err != nil {
				res.Err = errcode.Wrap(err, errcode.SyncDestNotWritable, "cannot query %s", dst.Path())
				return res
			}
			if exists {
				res.Skipped++
			} else {
				if err := dst.Insert(ctx, ev); err != nil {
					res.Err = errcode.Wrap(err, errcode.SyncDestNotWritable, "cannot write %s", dst.Path())
					return res
				}
				res.Synced++
				if syncFaultHook != nil {
					if err := syncFaultHook(res.Synced); err != nil {
						res.Err = err
						return res
					}
				}
			}
			if err := src.Delete(ctx, ev.ID); err != nil {
				res.Err = errcode.Wrap(err, errcode.SyncSourceNotReadable, "cannot update %s", src.Path())
				return res
			}
		}
	}

	left, err := src.Count(ctx)
	if err != nil || left > 0 {
		return res
	}
	src.Close()
	if err := os.RemoveAll(fallbackDir); err != nil {
		log.WithError(err).Warn("failed to remove empty fallback log")
		return res
	}
	res.Removed = true
	log.WithField("synced", res.Synced).WithField("skipped", res.Skipped).Info("synced fallback log")
	return res
}

func fallbackSkills(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var skills []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), LogsFile)); err == nil {
			skills = append(skills, e.Name())
		}
	}
	sort.Strings(skills)
	return skills
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
