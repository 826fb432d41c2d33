package deploy

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/runtime"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Artifact is the published runtime entry to deploy.
type Artifact struct {
	Skill    string
	Dir      string
	Manifest *runtime.Manifest
}

// Options controls one deploy.
type Options struct {
	ForceCopy bool
	// ProjectRoot is the {root} of project deploys. Global deploys use Home.
	ProjectRoot string
	Global      bool
	Home        string
	Concurrency int
}

func (o Options) root() string {
	if o.Global || o.ProjectRoot == "" {
		return o.Home
	}
	return o.ProjectRoot
}

// Result is the outcome for one target.
type Result struct {
	Target   string `json:"target"`
	Path     string `json:"path,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	// Unchanged is set when the destination already pointed at the entry.
	Unchanged bool `json:"unchanged,omitempty"`
	// DeployedAt is when the target was provisioned or confirmed.
	DeployedAt time.Time `json:"deployed_at,omitzero"`
	Err        error     `json:"-"`
}

// OK reports whether the target was provisioned.
func (r Result) OK() bool { return r.Err == nil }

// Status of one deployed destination.
type Status string

const (
	StatusMissing Status = "missing"
	StatusCurrent Status = "current"
	StatusStale   Status = "stale"
)

// TargetStatus is the Status of one target.
type TargetStatus struct {
	Target string `json:"target"`
	Path   string `json:"path"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
}

// Engine deploys runtime entries.
type Engine struct {
	registry   *Registry
	strategies func(forceCopy bool) []Strategy
	now        func() time.Time
}

// NewEngine returns an Engine that resolves targets with registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry, strategies: Strategies, now: time.Now}
}

// Deploy provisions every target concurrently. Failures are recorded per
// target and never stop the others. Results follow the order of targets.
func (e *Engine) Deploy(ctx context.Context, art Artifact, targets []string, opts Options) []Result {
	results := make([]Result, len(targets))
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = e.deployOne(ctx, art, target, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) deployOne(ctx context.Context, art Artifact, target string, opts Options) Result {
	res := Result{Target: target}
	log := logger.G(ctx).WithField("skill", art.Skill).WithField("target", target)

	if err := ctx.Err(); err != nil {
		res.Err = errcode.Wrap(err, errcode.DeployFailed, "deploy to %s cancelled", target)
		return res
	}
	t, err := e.registry.Lookup(target)
	if err != nil {
		res.Err = err
		return res
	}
	dst := t.Path(opts.root(), opts.Home, art.Skill)
	res.Path = dst

	if !opts.ForceCopy && linksTo(dst, art.Dir) {
		res.Strategy = "symlink"
		res.Unchanged = true
		res.DeployedAt = e.now().UTC()
		log.Debug("destination already links to runtime entry")
		return res
	}

	if err := clearDestination(dst, art.Skill, opts.ForceCopy); err != nil {
		res.Err = errcode.Wrap(err, errcode.DeployFailed, "cannot deploy %s to %s", art.Skill, dst)
		return res
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		res.Err = errcode.Wrap(err, errcode.DeployFailed, "cannot create %s", filepath.Dir(dst))
		return res
	}

	var errs *multierror.Error
	for _, s := range e.strategies(opts.ForceCopy) {
		if err := s.Link(art.Dir, dst); err != nil {
			log.WithError(err).WithField("strategy", s.Name).Debug("strategy failed")
			errs = multierror.Append(errs, errors.Wrap(err, s.Name))
			os.RemoveAll(dst)
			continue
		}
		res.Strategy = s.Name
		res.DeployedAt = e.now().UTC()
		log.WithField("strategy", s.Name).WithField("path", dst).Info("deployed")
		return res
	}
	res.Err = errcode.Wrap(errs.ErrorOrNil(), errcode.DeployFailed, "every strategy failed for %s", dst)
	return res
}

// clearDestination removes whatever occupies dst when it is safe to do so.
func clearDestination(dst, skill string, forceCopy bool) error {
	info, err := os.Lstat(dst)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to inspect destination")
	}

	switch {
	case fsutil.IsLink(info):
		return errors.Wrap(os.Remove(dst), "failed to remove existing link")
	case info.IsDir() && isManagedCopy(dst, skill), forceCopy:
		return errors.Wrap(os.RemoveAll(dst), "failed to remove existing destination")
	default:
		return errors.Errorf("destination %s exists and is not managed by skillc (use --copy to overwrite)", dst)
	}
}

func isManagedCopy(dir, skill string) bool {
	m, err := runtime.ReadManifest(dir)
	return err == nil && m.Skill == skill
}

func linksTo(dst, entry string) bool {
	info, err := os.Lstat(dst)
	if err != nil || !fsutil.IsLink(info) {
		return false
	}
	return sameDir(dst, entry)
}

func sameDir(a, b string) bool {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		return false
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		return false
	}
	return ra == rb
}

// Status reports the state of each target for art.
func (e *Engine) Status(ctx context.Context, art Artifact, targets []string, opts Options) []TargetStatus {
	out := make([]TargetStatus, len(targets))
	for i, target := range targets {
		out[i] = e.statusOne(art, target, opts)
	}
	return out
}

func (e *Engine) statusOne(art Artifact, target string, opts Options) TargetStatus {
	ts := TargetStatus{Target: target}
	t, err := e.registry.Lookup(target)
	if err != nil {
		ts.Err = err
		ts.Status = StatusMissing
		return ts
	}
	ts.Path = t.Path(opts.root(), opts.Home, art.Skill)

	info, err := os.Lstat(ts.Path)
	if err != nil {
		ts.Status = StatusMissing
		return ts
	}
	if fsutil.IsLink(info) {
		if sameDir(ts.Path, art.Dir) {
			ts.Status = StatusCurrent
		} else {
			ts.Status = StatusStale
		}
		return ts
	}

	m, err := runtime.ReadManifest(ts.Path)
	if err == nil && art.Manifest != nil && m.SourceHash == art.Manifest.SourceHash {
		ts.Status = StatusCurrent
	} else {
		ts.Status = StatusStale
	}
	return ts
}

// Failed aggregates the errors of failed results, or returns nil.
func Failed(results []Result) error {
	var errs *multierror.Error
	for _, r := range results {
		if r.Err != nil {
			errs = multierror.Append(errs, errors.Wrap(r.Err, r.Target))
		}
	}
	return errs.ErrorOrNil()
}
