package lint

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jingkaihe/skillc/pkg/skills"
)

// MaxDescriptionLength bounds the frontmatter description in runes.
const MaxDescriptionLength = 1024

// DefaultRegistry returns the built-in rules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, rule := range []Rule{
		{ID: "SKL001", Severity: SeverityError, Description: "frontmatter name matches the skill directory", Check: checkName},
		{ID: "SKL002", Severity: SeverityError, Description: "frontmatter description is present", Check: checkDescriptionPresent},
		{ID: "SKL003", Severity: SeverityWarning, Description: "description is at most 1024 characters", Check: checkDescriptionLength},
		{ID: "SKL004", Severity: SeverityError, Description: "relative markdown links resolve", Check: checkLinksResolve},
		{ID: "SKL005", Severity: SeverityWarning, Description: "SKILL.md has a top-level heading", Check: checkTitle},
		{ID: "SKL006", Severity: SeverityError, Description: "links stay inside the skill", Check: checkLinksContained},
	} {
		_ = r.Register(rule)
	}
	return r
}

func primaryDoc(t *Target) *skills.Document {
	if t.Primary == nil || t.Primary.Doc == nil {
		return nil
	}
	return t.Primary.Doc
}

func checkName(_ context.Context, t *Target) []Diagnostic {
	doc := primaryDoc(t)
	if doc == nil {
		return []Diagnostic{{File: skills.PrimaryDocument, Line: 1, Message: "frontmatter could not be parsed"}}
	}
	name := doc.Metadata.Name
	switch {
	case name == "":
		return []Diagnostic{{File: skills.PrimaryDocument, Line: 1, Message: "frontmatter is missing 'name'"}}
	case name != t.Source.Name:
		return []Diagnostic{{File: skills.PrimaryDocument, Line: 1,
			Message: fmt.Sprintf("name '%s' does not match directory '%s'", name, t.Source.Name)}}
	}
	return nil
}

func checkDescriptionPresent(_ context.Context, t *Target) []Diagnostic {
	doc := primaryDoc(t)
	if doc == nil || strings.TrimSpace(doc.Metadata.Description) == "" {
		return []Diagnostic{{File: skills.PrimaryDocument, Line: 1, Message: "frontmatter 'description' is missing or empty"}}
	}
	return nil
}

func checkDescriptionLength(_ context.Context, t *Target) []Diagnostic {
	doc := primaryDoc(t)
	if doc == nil {
		return nil
	}
	if n := utf8.RuneCountInString(doc.Metadata.Description); n > MaxDescriptionLength {
		return []Diagnostic{{File: skills.PrimaryDocument, Line: 1,
			Message: fmt.Sprintf("description is %d characters (max %d)", n, MaxDescriptionLength)}}
	}
	return nil
}

func checkTitle(_ context.Context, t *Target) []Diagnostic {
	doc := primaryDoc(t)
	if doc == nil {
		return nil
	}
	if _, ok := doc.FirstHeading(1); !ok {
		return []Diagnostic{{File: skills.PrimaryDocument, Line: doc.BodyLine, Message: "no top-level (#) heading"}}
	}
	return nil
}

// localTarget returns the slash path a relative link points at, relative to
// the skill root, or ok=false for external and anchor-only links.
func localTarget(from, dest string) (string, bool) {
	if dest == "" || strings.HasPrefix(dest, "#") {
		return "", false
	}
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	if strings.HasPrefix(u.Path, "/") {
		return "", false
	}
	return path.Join(path.Dir(from), u.Path), true
}

func checkLinksResolve(_ context.Context, t *Target) []Diagnostic {
	var diags []Diagnostic
	for _, f := range t.Files {
		for _, l := range skills.Links(f.Content) {
			rel, ok := localTarget(f.Rel, l.Destination)
			if !ok || escapes(rel) {
				continue
			}
			if _, err := os.Stat(filepath.Join(t.Source.Dir, filepath.FromSlash(rel))); err != nil {
				diags = append(diags, Diagnostic{File: f.Rel, Line: l.Line,
					Message: fmt.Sprintf("link target '%s' does not exist", l.Destination)})
			}
		}
	}
	return diags
}

func checkLinksContained(_ context.Context, t *Target) []Diagnostic {
	var diags []Diagnostic
	for _, f := range t.Files {
		for _, l := range skills.Links(f.Content) {
			if rel, ok := localTarget(f.Rel, l.Destination); ok && escapes(rel) {
				diags = append(diags, Diagnostic{File: f.Rel, Line: l.Line,
					Message: fmt.Sprintf("link '%s' points outside the skill", l.Destination)})
			}
		}
	}
	return diags
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}
