package skills

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Link is an inline link or image destination with its 1-based line.
type Link struct {
	Destination string
	Line        int
}

// Links returns every link and image destination in content. Links inside
// code spans and code blocks are not links and are not returned.
func Links(content []byte) []Link {
	root := markdown.Parser().Parse(text.NewReader(content), parser.WithContext(parser.NewContext()))

	var links []Link
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var dest []byte
		switch l := n.(type) {
		case *ast.Link:
			dest = l.Destination
		case *ast.Image:
			dest = l.Destination
		default:
			return ast.WalkContinue, nil
		}
		links = append(links, Link{Destination: string(dest), Line: lineOf(n, content)})
		return ast.WalkContinue, nil
	})
	return links
}

// lineOf finds the line of an inline node through its nearest block
// ancestor. Inline nodes carry no positions of their own.
func lineOf(n ast.Node, content []byte) int {
	for p := n; p != nil; p = p.Parent() {
		if p.Type() == ast.TypeBlock && p.Lines().Len() > 0 {
			start := p.Lines().At(0).Start
			line := bytes.Count(content[:start], []byte("\n")) + 1
			// count line breaks inside the block before the node's text
			if t := firstText(n); t != nil && t.Segment.Start >= start {
				line += bytes.Count(content[start:t.Segment.Start], []byte("\n"))
			}
			return line
		}
	}
	return 1
}

func firstText(n ast.Node) *ast.Text {
	var found *ast.Text
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			found = t
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}
