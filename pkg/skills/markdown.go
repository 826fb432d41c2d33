package skills

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(meta.Meta))

// ParseFile reads and parses a markdown file.
func ParseFile(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return Parse(content)
}

// Parse extracts frontmatter and headings from markdown content. Malformed
// frontmatter is an error; missing frontmatter is not.
func Parse(content []byte) (*Document, error) {
	pctx := parser.NewContext()
	root := markdown.Parser().Parse(text.NewReader(content), parser.WithContext(pctx))

	doc := &Document{
		lines:    splitLines(content),
		BodyLine: 1,
	}

	if end := frontmatterEnd(doc.lines); end > 0 {
		doc.HasFrontmatter = true
		doc.BodyLine = end + 1

		data, err := meta.TryGet(pctx)
		if err != nil {
			return nil, errors.Wrap(err, "invalid frontmatter")
		}
		doc.Extra = data
		doc.Metadata.Name = stringField(data, "name")
		doc.Metadata.Description = stringField(data, "description")
	}

	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		start := h.Lines().At(0).Start
		doc.Headings = append(doc.Headings, Heading{
			Text:  strings.TrimSpace(inlineText(h, content)),
			Level: h.Level,
			Line:  bytes.Count(content[:start], []byte("\n")) + 1,
		})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk markdown")
	}

	return doc, nil
}

// Sections splits the document at every heading. Each section runs until
// the next heading whose level is equal or higher, so parents include their
// children. A non-blank preamble becomes an untitled section.
func (d *Document) Sections() []Section {
	var sections []Section
	last := len(d.lines)

	firstHeading := last + 1
	if len(d.Headings) > 0 {
		firstHeading = d.Headings[0].Line
	}
	if pre := d.lineRange(d.BodyLine, firstHeading-1); strings.TrimSpace(pre) != "" {
		sections = append(sections, Section{
			StartLine: d.BodyLine,
			EndLine:   firstHeading - 1,
			Content:   pre,
		})
	}

	for i, h := range d.Headings {
		end := last
		for _, next := range d.Headings[i+1:] {
			if next.Level <= h.Level {
				end = next.Line - 1
				break
			}
		}
		sections = append(sections, Section{
			Title:     h.Text,
			Level:     h.Level,
			StartLine: h.Line,
			EndLine:   end,
			Content:   d.lineRange(h.Line, end),
		})
	}
	return sections
}

func (d *Document) lineRange(from, to int) string {
	if from < 1 {
		from = 1
	}
	if to > len(d.lines) {
		to = len(d.lines)
	}
	if from > to {
		return ""
	}
	return strings.Join(d.lines[from-1:to], "\n")
}

func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// frontmatterEnd returns the 1-based line of the closing fence, or 0.
func frontmatterEnd(lines []string) int {
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t\r") != "---" {
		return 0
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t\r") == "---" {
			return i + 1
		}
	}
	return 0
}

func splitLines(content []byte) []string {
	s := strings.TrimSuffix(string(content), "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}
