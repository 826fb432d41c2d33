// Package compiler turns a skill source tree into a compiled artifact: a
// bounded stub document that points agents at the read-access commands,
// plus the manifest describing the build. It never writes to disk.
package compiler

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/runtime"
	"github.com/jingkaihe/skillc/pkg/skills"
)

// Artifact is the compiled output for one skill.
type Artifact struct {
	Stub     []byte
	Manifest runtime.Manifest
}

// Options tunes compilation.
type Options struct {
	MaxStubLines int
	Tokenizer    config.Tokenizer
	Now          func() time.Time
}

// Compiler compiles skill sources.
type Compiler struct {
	opts Options
}

// New returns a Compiler. Zero options take their defaults.
func New(opts Options) *Compiler {
	if opts.MaxStubLines <= 0 {
		opts.MaxStubLines = config.DefaultMaxStubLines
	}
	if opts.MaxStubLines < config.MinStubLines {
		opts.MaxStubLines = config.MinStubLines
	}
	if opts.Tokenizer == "" {
		opts.Tokenizer = config.TokenizerASCII
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Compiler{opts: opts}
}

// MaxStubLines is the enforced stub line ceiling.
func (c *Compiler) MaxStubLines() int { return c.opts.MaxStubLines }

// Compile validates src and renders its artifact. fp must be the
// fingerprint of src computed by the caller.
func (c *Compiler) Compile(ctx context.Context, src *resolver.Source, fp fingerprint.Fingerprint) (*Artifact, error) {
	log := logger.G(ctx).WithField("skill", src.Name)

	primary := filepath.Join(src.Dir, skills.PrimaryDocument)
	info, err := os.Stat(primary)
	if err != nil || !info.Mode().IsRegular() {
		return nil, errcode.New(errcode.MissingPrimaryDocument, "not a valid skill: %s (missing %s)", src.Dir, skills.PrimaryDocument)
	}

	if err := CheckSymlinks(ctx, src.Dir); err != nil {
		return nil, err
	}

	doc, err := skills.ParseFile(primary)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.InvalidFrontmatter, "failed to parse %s", skills.PrimaryDocument)
	}
	if doc.Metadata.Name == "" {
		return nil, errcode.New(errcode.InvalidFrontmatter, "%s frontmatter is missing 'name'", skills.PrimaryDocument)
	}
	if doc.Metadata.Description == "" {
		return nil, errcode.New(errcode.InvalidFrontmatter, "%s frontmatter is missing 'description'", skills.PrimaryDocument)
	}

	refs, err := collectReferences(src.Dir)
	if err != nil {
		return nil, err
	}

	head, err := renderHead(doc.Metadata.Name, doc.Metadata.Description)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.Internal, "failed to render stub")
	}
	body := renderBody(src.Name, doc, refs)
	if len(head)+len(body) > c.opts.MaxStubLines && len(head)+1 > c.opts.MaxStubLines {
		head, err = renderHead(doc.Metadata.Name, truncateRunes(doc.Metadata.Description, maxShortDescLength))
		if err != nil {
			return nil, errcode.Wrap(err, errcode.Internal, "failed to render stub")
		}
		log.Debug("shortened description to fit the stub ceiling")
	}
	stub, lines, truncated := truncateStub(head, body, c.opts.MaxStubLines)
	if truncated {
		log.WithField("ceiling", c.opts.MaxStubLines).Warn("stub truncated at line ceiling")
	}

	art := &Artifact{
		Stub: []byte(stub),
		Manifest: runtime.Manifest{
			Skill:        src.Name,
			Version:      runtime.ManifestVersion,
			BuiltAt:      c.opts.Now().UTC().Truncate(time.Second),
			SourceHash:   fp.String(),
			SourcePath:   src.Dir,
			Scope:        src.Scope,
			StubBytes:    len(stub),
			StubLines:    lines,
			Truncated:    truncated,
			MaxStubLines: c.opts.MaxStubLines,
			Tokenizer:    c.opts.Tokenizer,
		},
	}
	log.WithField("bytes", len(stub)).WithField("references", len(refs)).Debug("compiled stub")
	return art, nil
}

// CheckSymlinks fails with a path-escape error when any link under root
// resolves outside it. Dangling links are ignored.
func CheckSymlinks(ctx context.Context, root string) error {
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errcode.Wrap(err, errcode.IO, "failed to resolve skill root %s", root)
	}

	return filepath.WalkDir(canonical, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errcode.Wrap(walkErr, errcode.IO, "failed to walk %s", path)
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		rel, _ := filepath.Rel(canonical, path)
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			logger.G(ctx).WithField("link", rel).Debug("skipping broken symlink")
			return nil
		}
		if !within(canonical, target) {
			return errcode.New(errcode.PathEscape, "symlink %s resolves outside the skill root", filepath.ToSlash(rel))
		}
		return nil
	})
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// reference is a markdown file other than the primary document.
type reference struct {
	path        string
	title       string
	description string
}

func collectReferences(dir string) ([]reference, error) {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to resolve skill root %s", dir)
	}

	var refs []reference
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errcode.Wrap(walkErr, errcode.IO, "failed to walk %s", path)
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
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if rel == skills.PrimaryDocument {
			return nil
		}

		ref := reference{path: rel, title: rel}
		// unreadable or malformed references still get listed by path
		if doc, err := skills.ParseFile(path); err == nil {
			if h, ok := doc.FirstHeading(1); ok && h.Text != "" {
				ref.title = h.Text
			}
			ref.description = doc.Metadata.Description
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].path < refs[j].path })
	return refs, nil
}
