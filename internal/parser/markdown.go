package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownStrategy renders Markdown to plain text using goldmark. Each
// top-level block becomes one paragraph; emphasis and link markup are
// dropped.
type MarkdownStrategy struct{}

func (s *MarkdownStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open markdown: %w", err)
	}
	defer f.Close()

	src, err := readLenient(f)
	if err != nil {
		return "", fmt.Errorf("read markdown: %w", err)
	}
	return renderMarkdown([]byte(src)), nil
}

func renderMarkdown(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if t := markdownText(n, src); t != "" {
			blocks = append(blocks, t)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// markdownText collects the text of a goldmark node and its descendants.
func markdownText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
			return
		case *ast.String:
			buf.Write(node.Value)
			return
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
			if c.Type() == ast.TypeBlock && buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}
