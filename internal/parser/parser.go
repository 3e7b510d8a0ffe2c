package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel is the text produced for files of unknown format that cannot be
// read as UTF-8.
const Sentinel = "[Unreadable binary file]"

// Strategy converts one file into plain text.
type Strategy interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractionError reports that a recognized format failed to parse. The file
// should be skipped rather than classified.
type ExtractionError struct {
	Path   string
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Options configures the strategies registered by New.
type Options struct {
	// OCR recognizes text in raster images. Defaults to the tesseract CLI.
	OCR OCREngine

	// PDFFallbackPdftotext retries failed PDFs with pdftotext when installed.
	PDFFallbackPdftotext bool

	// RenderMarkup converts Markdown and HTML to plain text instead of
	// passing the raw markup through.
	RenderMarkup bool
}

type registration struct {
	format   string
	strategy Strategy
}

// Extractor dispatches files to a Strategy by lowercase extension.
type Extractor struct {
	byExt    map[string]registration
	fallback Strategy
}

// New builds an Extractor with every built-in strategy registered.
func New(opts Options) *Extractor {
	if opts.OCR == nil {
		opts.OCR = &TesseractEngine{Command: "tesseract"}
	}

	e := &Extractor{
		byExt:    make(map[string]registration),
		fallback: &GenericStrategy{},
	}
	e.Register("pdf", &PDFStrategy{FallbackPdftotext: opts.PDFFallbackPdftotext}, ".pdf")
	e.Register("docx", &DOCXStrategy{}, ".docx")
	e.Register("csv", &CSVStrategy{}, ".csv")
	e.Register("spreadsheet", &SpreadsheetStrategy{}, ".xlsx", ".xlsm")
	e.Register("xls", &XLSStrategy{}, ".xls")
	e.Register("pptx", &SlidesStrategy{}, ".pptx")
	e.Register("image", &ImageStrategy{Engine: opts.OCR}, ".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".tif")
	e.Register("text", &TextStrategy{},
		".txt", ".py", ".json", ".html", ".htm", ".xml", ".md", ".markdown",
		".go", ".js", ".ts", ".yaml", ".yml", ".toml", ".ini", ".log")
	if opts.RenderMarkup {
		e.Register("markdown", &MarkdownStrategy{}, ".md", ".markdown")
		e.Register("html", &HTMLStrategy{}, ".html", ".htm")
	}
	return e
}

// Register maps each extension to s, replacing any previous registration.
func (e *Extractor) Register(format string, s Strategy, exts ...string) {
	for _, ext := range exts {
		e.byExt[strings.ToLower(ext)] = registration{format: format, strategy: s}
	}
}

// Format names the strategy that would handle path, or "generic".
func (e *Extractor) Format(path string) string {
	if reg, ok := e.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return reg.format
	}
	return "generic"
}

// Extensions lists the registered extensions in sorted order.
func (e *Extractor) Extensions() []string {
	exts := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract returns the text of path. A recognized format that fails to parse
// yields an *ExtractionError; unknown formats never fail and fall back to
// Sentinel when unreadable.
func (e *Extractor) Extract(ctx context.Context, path string) (text string, err error) {
	reg, ok := e.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		text, err = e.fallback.Extract(ctx, path)
		if err != nil {
			return Sentinel, nil
		}
		return text, nil
	}

	// Some parsers panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Path: path, Format: reg.format, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	text, err = reg.strategy.Extract(ctx, path)
	if err != nil {
		return "", &ExtractionError{Path: path, Format: reg.format, Err: err}
	}
	return text, nil
}
