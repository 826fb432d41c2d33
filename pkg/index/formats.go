package index

import (
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jingkaihe/skillc/pkg/skills"
	"github.com/pkg/errors"
)

// Unit is one indexed piece of text.
type Unit struct {
	File      string
	Section   string
	Level     int
	StartLine int
	EndLine   int
	Content   string
}

// Extractor splits a file into units. rel is slash-separated.
type Extractor func(rel string, content []byte) ([]Unit, error)

// Format binds a doublestar pattern to an extractor.
type Format struct {
	Name    string
	Pattern string
	Extract Extractor
}

// Registry is an ordered set of formats; the first matching pattern wins.
type Registry struct {
	mu      sync.RWMutex
	formats []Format
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry knows markdown and plain text.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(Format{Name: "markdown", Pattern: "**/*.md", Extract: extractMarkdown})
	_ = r.Register(Format{Name: "text", Pattern: "**/*.txt", Extract: extractText})
	return r
}

// Register appends f after validating its pattern.
func (r *Registry) Register(f Format) error {
	if f.Extract == nil {
		return errors.Errorf("format %s has no extractor", f.Name)
	}
	if !doublestar.ValidatePattern(f.Pattern) {
		return errors.Errorf("format %s has invalid pattern %q", f.Name, f.Pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats = append(r.formats, f)
	return nil
}

// Match returns the format for rel.
func (r *Registry) Match(rel string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.formats {
		if ok, _ := doublestar.Match(f.Pattern, rel); ok {
			return f, true
		}
	}
	return Format{}, false
}

func extractMarkdown(rel string, content []byte) ([]Unit, error) {
	doc, err := skills.Parse(content)
	if err != nil {
		// a broken frontmatter block should not hide the body from search
		return extractText(rel, content)
	}
	var units []Unit
	for _, s := range doc.Sections() {
		units = append(units, Unit{
			File:      rel,
			Section:   s.Title,
			Level:     s.Level,
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
			Content:   s.Content,
		})
	}
	return units, nil
}

func extractText(rel string, content []byte) ([]Unit, error) {
	if len(content) == 0 {
		return nil, nil
	}
	lines := 1
	for i, b := range content {
		if b == '\n' && i < len(content)-1 {
			lines++
		}
	}
	return []Unit{{File: rel, StartLine: 1, EndLine: lines, Content: string(content)}}, nil
}
