package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextStrategy reads text-like files as UTF-8. A leading byte order mark is
// honored and invalid sequences become U+FFFD.
type TextStrategy struct{}

func (s *TextStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open text: %w", err)
	}
	defer f.Close()

	data, err := readLenient(f)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return data, nil
}

func readLenient(r io.Reader) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(r, dec))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenericStrategy handles unknown extensions. It never fails: files
// that cannot be read, or are not valid UTF-8, produce Sentinel.
type GenericStrategy struct{}

func (s *GenericStrategy) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return Sentinel, nil
	}
	return string(data), nil
}
