package compiler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jingkaihe/skillc/pkg/skills"
	"gopkg.in/yaml.v3"
)

const (
	maxSkillSections       = 15
	maxReferenceEntries    = 15
	maxReferenceDescLength = 120
	// maxShortDescLength keeps a shortened description on one YAML line.
	maxShortDescLength = 60
)

type stubEntry struct {
	text   string
	indent int
}

// renderHead emits the frontmatter and title. Truncation never cuts into
// these lines.
func renderHead(name, description string) ([]string, error) {
	fm, err := yaml.Marshal(skills.Metadata{Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	head := []string{"---"}
	head = append(head, strings.Split(strings.TrimSuffix(string(fm), "\n"), "\n")...)
	head = append(head, "---", "", fmt.Sprintf("# %s (compiled)", name))
	return head, nil
}

func renderBody(skill string, doc *skills.Document, refs []reference) []string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("DO NOT read skill source files directly.\n")
	b.WriteString("Use the skillc gateway to access content.\n\n")

	b.WriteString("## Usage\n\n")
	b.WriteString("Prefer the skillc MCP tools (`skc_outline`, `skc_search`) when available.\n\n")
	fmt.Fprintf(&b, "- `skc outline %s` lists sections\n", skill)
	fmt.Fprintf(&b, "- `skc show %s \"<Heading>\"` prints a section\n", skill)
	fmt.Fprintf(&b, "- `skc open %s <relative-path>` opens a file\n", skill)
	fmt.Fprintf(&b, "- `skc sources %s` lists source files\n", skill)
	fmt.Fprintf(&b, "- `skc search %s <query>` searches content\n\n", skill)

	b.WriteString("## Top Sections\n\n")
	for _, e := range sectionEntries(doc, refs) {
		fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", e.indent), e.text)
	}
	return strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
}

func sectionEntries(doc *skills.Document, refs []reference) []stubEntry {
	var own []stubEntry
	for _, h := range doc.Headings {
		switch h.Level {
		case 1:
			own = append(own, stubEntry{text: h.Text})
		case 2:
			own = append(own, stubEntry{text: h.Text, indent: 1})
		}
	}

	var entries []stubEntry
	if len(own) > maxSkillSections {
		omitted := len(own) - maxSkillSections
		entries = append(own[:maxSkillSections:maxSkillSections], stubEntry{text: fmt.Sprintf("... (%d more)", omitted), indent: 1})
	} else {
		entries = own
	}

	if len(refs) == 0 {
		return entries
	}
	entries = append(entries, stubEntry{text: "References"})
	for i, r := range refs {
		if i == maxReferenceEntries {
			entries = append(entries, stubEntry{text: fmt.Sprintf("... (%d more)", len(refs)-maxReferenceEntries), indent: 1})
			break
		}
		text := r.title
		if r.description != "" {
			text += " - " + truncateRunes(r.description, maxReferenceDescLength)
		}
		entries = append(entries, stubEntry{text: text, indent: 1})
	}
	return entries
}

func truncateRunes(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}

// truncateStub enforces the line ceiling by cutting body lines and
// appending a marker. The head is always kept whole; callers shorten it
// first when it cannot fit. The result is deterministic for a given input
// and ceiling.
func truncateStub(head, body []string, ceiling int) (string, int, bool) {
	lines := append(append([]string(nil), head...), body...)
	if len(lines) <= ceiling {
		return strings.Join(lines, "\n") + "\n", len(lines), false
	}
	keep := max(ceiling-len(head)-1, 0)
	omitted := len(body) - keep
	kept := append(append([]string(nil), head...), body[:keep]...)
	kept = append(kept, fmt.Sprintf("<!-- truncated: %d lines omitted -->", omitted))
	return strings.Join(kept, "\n") + "\n", len(kept), true
}
