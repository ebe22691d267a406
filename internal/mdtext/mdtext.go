// ABOUTME: Renders assistant markdown to plain terminal text via goldmark.
// ABOUTME: Headings, lists, code and links survive; inline markup is stripped.

// Package mdtext converts the backend's markdown message content into text
// suitable for a terminal transcript. It parses with goldmark rather than
// regex-stripping so nested structures (lists inside lists, code fences)
// come out right.
package mdtext

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

var md = goldmark.New()

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Render converts markdown source to plain text. Inline emphasis is dropped,
// list bullets and ordered numbering are kept, code blocks are indented and
// link destinations follow the link text in parentheses.
func Render(source string) string {
	src := []byte(source)
	root := md.Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	listDepth := 0

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.Paragraph:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				b.WriteString("\n")
			}
		case *ast.List:
			if entering {
				listDepth++
			} else {
				listDepth--
				if listDepth == 0 {
					b.WriteString("\n")
				}
			}
		case *ast.ListItem:
			if entering {
				b.WriteString(strings.Repeat("  ", listDepth-1))
				if parent, ok := node.Parent().(*ast.List); ok && parent.IsOrdered() {
					fmt.Fprintf(&b, "%d. ", parent.Start+siblingIndex(node))
				} else {
					b.WriteString("• ")
				}
			}
		case *ast.ThematicBreak:
			if entering {
				b.WriteString("────\n\n")
			}
		case *ast.FencedCodeBlock:
			if entering {
				writeCodeLines(&b, node, src)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			if entering {
				writeCodeLines(&b, node, src)
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if !entering {
				if dest := string(node.Destination); dest != "" {
					b.WriteString(" (" + dest + ")")
				}
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		}
		return ast.WalkContinue, nil
	})

	out := strings.TrimRight(b.String(), "\n ")
	return blankRuns.ReplaceAllString(out, "\n\n")
}

// writeCodeLines emits a code block's raw lines with a fixed indent.
func writeCodeLines(b *strings.Builder, node interface {
	Lines() *gmtext.Segments
}, src []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.WriteString("    ")
		b.Write(seg.Value(src))
	}
	b.WriteString("\n")
}

// siblingIndex counts how many list items precede node under its parent.
func siblingIndex(node ast.Node) int {
	i := 0
	for prev := node.PreviousSibling(); prev != nil; prev = prev.PreviousSibling() {
		i++
	}
	return i
}
