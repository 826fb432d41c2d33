// Package skills parses the markdown documents that make up a skill:
// YAML frontmatter through goldmark-meta and the heading outline through
// the goldmark AST.
package skills

// PrimaryDocument is the file every skill root must contain.
const PrimaryDocument = "SKILL.md"

// Metadata is the identity block declared in a document's frontmatter.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Heading is one ATX or setext heading with its 1-based source line.
type Heading struct {
	Text  string
	Level int
	Line  int
}

// Section is the text between a heading and the next heading of equal or
// higher rank. The preamble before the first heading has an empty Title.
type Section struct {
	Title     string
	Level     int
	StartLine int
	EndLine   int
	Content   string
}

// Document is a parsed markdown file.
type Document struct {
	Metadata       Metadata
	HasFrontmatter bool
	Extra          map[string]any
	Headings       []Heading
	// BodyLine is the first line after the frontmatter block.
	BodyLine int
	lines    []string
}

// FirstHeading returns the first heading of the given level, if any.
func (d *Document) FirstHeading(level int) (Heading, bool) {
	for _, h := range d.Headings {
		if h.Level == level {
			return h, true
		}
	}
	return Heading{}, false
}

// LineCount returns the number of source lines.
func (d *Document) LineCount() int { return len(d.lines) }
