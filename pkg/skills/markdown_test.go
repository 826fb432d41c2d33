package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `---
name: pdf-tools
description: Work with PDF files
tags: [pdf]
---

Intro paragraph.

# PDF Tools

Overview text.

## Extract *text*

Use the extractor.

### Options

Flags.

## Merge

Combine files.

` + "```sh\n# not a heading\n```\n"

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.True(t, doc.HasFrontmatter)
	assert.Equal(t, "pdf-tools", doc.Metadata.Name)
	assert.Equal(t, "Work with PDF files", doc.Metadata.Description)
	assert.Equal(t, []any{"pdf"}, doc.Extra["tags"])
	assert.Equal(t, 6, doc.BodyLine)

	require.Len(t, doc.Headings, 4, "fenced code is not a heading")
	assert.Equal(t, Heading{Text: "PDF Tools", Level: 1, Line: 9}, doc.Headings[0])
	assert.Equal(t, Heading{Text: "Extract text", Level: 2, Line: 13}, doc.Headings[1])
	assert.Equal(t, Heading{Text: "Options", Level: 3, Line: 17}, doc.Headings[2])
	assert.Equal(t, Heading{Text: "Merge", Level: 2, Line: 21}, doc.Headings[3])

	h1, ok := doc.FirstHeading(1)
	require.True(t, ok)
	assert.Equal(t, "PDF Tools", h1.Text)
	_, ok = doc.FirstHeading(4)
	assert.False(t, ok)
}

func TestParseWithoutFrontmatter(t *testing.T) {
	doc, err := Parse([]byte("# Title\n\nbody\n"))
	require.NoError(t, err)
	assert.False(t, doc.HasFrontmatter)
	assert.Empty(t, doc.Metadata.Name)
	assert.Equal(t, 1, doc.BodyLine)
	assert.Equal(t, 3, doc.LineCount())
}

func TestParseSetextHeading(t *testing.T) {
	doc, err := Parse([]byte("Title\n=====\n\nSub\n---\n"))
	require.NoError(t, err)
	require.Len(t, doc.Headings, 2)
	assert.Equal(t, Heading{Text: "Title", Level: 1, Line: 1}, doc.Headings[0])
	assert.Equal(t, Heading{Text: "Sub", Level: 2, Line: 4}, doc.Headings[1])
}

func TestParseInvalidFrontmatter(t *testing.T) {
	_, err := Parse([]byte("---\nname: [broken\n---\n# x\n"))
	assert.Error(t, err)
}

func TestSections(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	sections := doc.Sections()
	require.Len(t, sections, 5)

	assert.Equal(t, "", sections[0].Title)
	assert.Equal(t, 6, sections[0].StartLine)
	assert.Contains(t, sections[0].Content, "Intro paragraph.")

	top := sections[1]
	assert.Equal(t, "PDF Tools", top.Title)
	assert.Equal(t, 9, top.StartLine)
	assert.Equal(t, doc.LineCount(), top.EndLine, "an H1 spans its children")

	extract := sections[2]
	assert.Equal(t, "Extract text", extract.Title)
	assert.Equal(t, 20, extract.EndLine)
	assert.Contains(t, extract.Content, "Flags.")
	assert.NotContains(t, extract.Content, "Combine files.")

	options := sections[3]
	assert.Equal(t, 17, options.StartLine)
	assert.Equal(t, 20, options.EndLine)

	merge := sections[4]
	assert.Contains(t, merge.Content, "# not a heading")
}

func TestSectionsBlankPreambleSkipped(t *testing.T) {
	doc, err := Parse([]byte("---\nname: a\ndescription: b\n---\n\n# Only\ntext\n"))
	require.NoError(t, err)
	sections := doc.Sections()
	require.Len(t, sections, 1)
	assert.Equal(t, "Only", sections[0].Title)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), PrimaryDocument)
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	doc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pdf-tools", doc.Metadata.Name)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func TestLinks(t *testing.T) {
	content := []byte("# Title\n\nSee [api](refs/api.md) and\n[guide](docs/guide.md#setup).\n\n![diagram](img/flow.png)\n\n`[not](a-link.md)`\n\n```\n[also](not.md)\n```\n")
	links := Links(content)
	require.Len(t, links, 3)
	assert.Equal(t, Link{Destination: "refs/api.md", Line: 3}, links[0])
	assert.Equal(t, Link{Destination: "docs/guide.md#setup", Line: 4}, links[1])
	assert.Equal(t, Link{Destination: "img/flow.png", Line: 6}, links[2])
}
