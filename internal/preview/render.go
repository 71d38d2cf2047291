// Package preview rasterises pages of a finished document with MuPDF.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// ColorMode defines the color mode for rendering
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// Options controls rasterisation.
type Options struct {
	DPI     float64
	Quality int
	Color   ColorMode
}

// DefaultOptions renders at 72 DPI, JPEG quality 85, in colour.
func DefaultOptions() Options { return Options{DPI: 72, Quality: 85, Color: ColorRGB} }

// RenderPageToJPEG renders a PDF page (1-based) as JPEG image in memory.
// Returns JPEG bytes, width, height, error
func RenderPageToJPEG(pdfPath string, pageNum int, opts Options) ([]byte, int, int, error) {
	if opts.DPI <= 0 {
		opts.DPI = 72
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = 85
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if pageNum < 1 || pageNum > doc.NumPage() {
		return nil, 0, 0, fmt.Errorf("page %d out of range 1..%d", pageNum, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(pageNum-1, opts.DPI)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}

	bounds := img.Bounds()
	var final image.Image = img
	if opts.Color == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", pageNum).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Str("color", string(opts.Color)).
		Int("jpeg_size", buf.Len()).
		Msg("rendered preview page")

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// WriteJPEG renders pageNum of pdfPath into dest.
func WriteJPEG(pdfPath string, pageNum int, dest string, opts Options) error {
	data, _, _, err := RenderPageToJPEG(pdfPath, pageNum, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}
