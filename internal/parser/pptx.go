package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// SlidesStrategy walks every slide in presentation order and emits the text
// of every top-level text shape, each followed by a newline.
type SlidesStrategy struct{}

type pptxPresentation struct {
	SlideIDs []struct {
		RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type pptxRelationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type pptxSlide struct {
	Shapes []pptxShape `xml:"cSld>spTree>sp"`
}

type pptxShape struct {
	TxBody *struct {
		Paragraphs []pptxParagraph `xml:"p"`
	} `xml:"txBody"`
}

type pptxParagraph struct {
	Inlines []pptxInline `xml:",any"`
}

type pptxInline struct {
	XMLName xml.Name
	Text    string `xml:"t"`
}

func (s *SlidesStrategy) Extract(ctx context.Context, file string) (string, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	slides, err := pptxSlideOrder(files)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, name := range slides {
		var slide pptxSlide
		if err := decodeZipXML(files, name, &slide); err != nil {
			return "", err
		}
		for _, shape := range slide.Shapes {
			buf.WriteString(shape.text())
			buf.WriteString("\n")
		}
	}
	return buf.String(), nil
}

// pptxSlideOrder resolves sldIdLst through the presentation relationships.
func pptxSlideOrder(files map[string]*zip.File) ([]string, error) {
	var pres pptxPresentation
	if err := decodeZipXML(files, "ppt/presentation.xml", &pres); err != nil {
		return nil, err
	}
	var rels pptxRelationships
	if err := decodeZipXML(files, "ppt/_rels/presentation.xml.rels", &rels); err != nil {
		return nil, err
	}

	targets := make(map[string]string, len(rels.Items))
	for _, rel := range rels.Items {
		targets[rel.ID] = rel.Target
	}

	slides := make([]string, 0, len(pres.SlideIDs))
	for _, id := range pres.SlideIDs {
		target, ok := targets[id.RelID]
		if !ok {
			return nil, fmt.Errorf("pptx: slide relationship %q not found", id.RelID)
		}
		if strings.HasPrefix(target, "/") {
			slides = append(slides, strings.TrimPrefix(path.Clean(target), "/"))
		} else {
			slides = append(slides, path.Join("ppt", target))
		}
	}
	return slides, nil
}

func (sh pptxShape) text() string {
	if sh.TxBody == nil {
		return ""
	}
	paragraphs := make([]string, 0, len(sh.TxBody.Paragraphs))
	for _, p := range sh.TxBody.Paragraphs {
		var buf strings.Builder
		for _, in := range p.Inlines {
			switch in.XMLName.Local {
			case "r", "fld":
				buf.WriteString(in.Text)
			case "br":
				buf.WriteString("\n")
			}
		}
		paragraphs = append(paragraphs, buf.String())
	}
	return strings.Join(paragraphs, "\n")
}

func decodeZipXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("pptx: missing part %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("pptx: open %s: %w", name, err)
	}
	defer rc.Close()

	if err := xml.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(v); err != nil {
		return fmt.Errorf("pptx: decode %s: %w", name, err)
	}
	return nil
}
