package parser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// OCREngine recognizes text in a decoded image.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// TesseractEngine shells out to the tesseract CLI, feeding the image as PNG
// on stdin.
type TesseractEngine struct {
	Command  string
	Language string
}

func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}

	command := t.Command
	if command == "" {
		command = "tesseract"
	}
	args := []string{"stdin", "stdout"}
	if t.Language != "" {
		args = append(args, "-l", t.Language)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = &in
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// ImageStrategy decodes a raster image, converts it to RGBA and runs OCR.
type ImageStrategy struct {
	Engine OCREngine
}

func (s *ImageStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return s.Engine.Recognize(ctx, toRGBA(img))
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
