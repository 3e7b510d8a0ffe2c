package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

// DOCXStrategy joins the text of every body paragraph with newlines.
type DOCXStrategy struct{}

func (s *DOCXStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat docx: %w", err)
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	var paragraphs []string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		paragraphs = append(paragraphs, docxParagraphText(para))
	}
	return strings.Join(paragraphs, "\n"), nil
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return buf.String()
}
