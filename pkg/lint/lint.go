// Package lint checks skill sources for authoring mistakes. Rules are plain
// function values held in a registry, so new checks need no new types.
package lint

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/skills"
	"github.com/pkg/errors"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one finding.
type Diagnostic struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	File     string   `json:"file"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

// File is one markdown file of the skill under lint.
type File struct {
	Rel     string
	Content []byte
	Doc     *skills.Document
}

// Target is what rules inspect.
type Target struct {
	Source  *resolver.Source
	Primary *File
	Files   []*File
}

// Rule is a registered check. Check reports findings without RuleID or
// Severity; the runner fills both in.
type Rule struct {
	ID          string
	Severity    Severity
	Description string
	Check       func(ctx context.Context, t *Target) []Diagnostic
}

// Linter lints a resolved skill source.
type Linter interface {
	Lint(ctx context.Context, src *resolver.Source) ([]Diagnostic, error)
}

// Registry holds rules by id.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: map[string]Rule{}}
}

// Register adds r, replacing any rule with the same id.
func (r *Registry) Register(rule Rule) error {
	if rule.ID == "" || rule.Check == nil {
		return errors.Errorf("rule %q is incomplete", rule.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return nil
}

// Rules returns the registered rules sorted by id.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Runner applies the rules of a registry.
type Runner struct {
	registry *Registry
	disabled map[string]bool
}

// New returns a Runner over registry with the given rule ids switched off.
func New(registry *Registry, disabled ...string) *Runner {
	off := map[string]bool{}
	for _, id := range disabled {
		off[strings.ToUpper(id)] = true
	}
	return &Runner{registry: registry, disabled: off}
}

// Lint runs every enabled rule over src. Diagnostics are ordered by file,
// line, then rule id.
func (r *Runner) Lint(ctx context.Context, src *resolver.Source) ([]Diagnostic, error) {
	target, err := load(ctx, src)
	if err != nil {
		return nil, err
	}

	var diags []Diagnostic
	for _, rule := range r.registry.Rules() {
		if r.disabled[rule.ID] {
			continue
		}
		for _, d := range rule.Check(ctx, target) {
			d.RuleID = rule.ID
			d.Severity = rule.Severity
			diags = append(diags, d)
		}
	}

	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.RuleID < b.RuleID
	})
	return diags, nil
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func load(ctx context.Context, src *resolver.Source) (*Target, error) {
	primaryPath := filepath.Join(src.Dir, skills.PrimaryDocument)
	if _, err := os.Stat(primaryPath); err != nil {
		return nil, errcode.New(errcode.MissingPrimaryDocument, "not a valid skill: %s (missing %s)", src.Dir, skills.PrimaryDocument)
	}

	root, err := filepath.EvalSymlinks(src.Dir)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to resolve %s", src.Dir)
	}

	t := &Target{Source: src}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errcode.Wrap(walkErr, errcode.IO, "failed to walk %s", path)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (fingerprint.IsExcludedDir(d.Name()) || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to relativize %s", path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to read %s", rel)
		}
		f := &File{Rel: filepath.ToSlash(rel), Content: content}
		// an unparsable file still gets link checks
		f.Doc, _ = skills.Parse(content)
		t.Files = append(t.Files, f)
		if f.Rel == skills.PrimaryDocument {
			t.Primary = f
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(t.Files, func(i, j int) bool { return t.Files[i].Rel < t.Files[j].Rel })
	return t, nil
}
