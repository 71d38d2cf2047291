// Package pdfdoc renders a layout plan into a PDF file.
package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/local/pagesort/internal/layout"
)

// Source is the decoded bitmap behind one placement.
type Source struct {
	Image  image.Image
	Format string // "jpeg" re-encodes as JPEG, anything else as PNG
}

// Options controls embedding and metadata.
type Options struct {
	Unit        string  // fpdf unit: "mm", "pt", "cm", "in"
	EmbedDPI    float64 // 0 keeps source resolution
	JPEGQuality int
	Title       string
	Creator     string
	Now         func() time.Time
}

// Result describes a written artifact.
type Result struct {
	Path  string
	Pages int
	Bytes int64
}

// Write renders plan into dest. It returns only after the file is flushed,
// closed and renamed into place, and its page count has been verified.
func Write(plan layout.Plan, sources map[int]Source, dest string, opts Options) (Result, error) {
	if plan.Pages == 0 {
		return Result{}, fmt.Errorf("nothing to write")
	}
	if opts.Unit == "" {
		opts.Unit = "mm"
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        opts.Unit,
		Size:           fpdf.SizeType{Wd: plan.PageWidth, Ht: plan.PageHeight},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(opts.Now())
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	if opts.Creator != "" {
		pdf.SetCreator(opts.Creator, true)
	}

	for page := 0; page < plan.Pages; page++ {
		pdf.AddPage()
		for _, pl := range plan.OnPage(page) {
			src, ok := sources[pl.Seq]
			if !ok || src.Image == nil {
				return Result{}, fmt.Errorf("no image for placement %q", pl.Name)
			}
			data, imgType, err := encodeForEmbed(src, pl, opts)
			if err != nil {
				return Result{}, fmt.Errorf("embed %s: %w", pl.Name, err)
			}
			name := fmt.Sprintf("img-%d", pl.Seq)
			iopt := fpdf.ImageOptions{ImageType: imgType}
			pdf.RegisterImageOptionsReader(name, iopt, bytes.NewReader(data))
			pdf.ImageOptions(name, pl.X, pl.Y, pl.Width, pl.Height, false, iopt, 0, "")
			log.Debug().Str("file", pl.Name).Int("page", page+1).
				Float64("x", pl.X).Float64("y", pl.Y).
				Float64("w", pl.Width).Float64("h", pl.Height).
				Msg("placed image")
		}
		if pdf.Err() {
			return Result{}, fmt.Errorf("render page %d: %w", page+1, pdf.Error())
		}
	}

	size, err := writeAtomic(pdf, dest)
	if err != nil {
		return Result{}, err
	}

	n, err := api.PageCountFile(dest)
	if err != nil {
		return Result{}, fmt.Errorf("pdf page count failed: %w", err)
	}
	if n != plan.Pages {
		return Result{}, fmt.Errorf("page count mismatch: wrote %d, planned %d", n, plan.Pages)
	}
	return Result{Path: dest, Pages: n, Bytes: size}, nil
}

func writeAtomic(pdf *fpdf.Fpdf, dest string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".pagesort-*.pdf")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := pdf.Output(tmp); err != nil {
		tmp.Close()
		cleanup()
		return 0, fmt.Errorf("write pdf: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return 0, fmt.Errorf("sync pdf: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		cleanup()
		return 0, fmt.Errorf("stat pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("close pdf: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return 0, fmt.Errorf("rename pdf: %w", err)
	}
	return info.Size(), nil
}

func encodeForEmbed(src Source, pl layout.Placement, opts Options) ([]byte, string, error) {
	img := resample(src.Image, pl.Width, opts)

	var buf bytes.Buffer
	if src.Format == "jpeg" {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "JPG", nil
	}
	// fpdf rejects 16-bit PNGs, so everything goes through 8-bit NRGBA.
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	if err := png.Encode(&buf, nrgba); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), "PNG", nil
}

// resample shrinks img when it carries more pixels than the placement
// can show at opts.EmbedDPI. It never enlarges.
func resample(img image.Image, width float64, opts Options) image.Image {
	if opts.EmbedDPI <= 0 {
		return img
	}
	b := img.Bounds()
	target := int(math.Ceil(unitsToInches(width, opts.Unit) * opts.EmbedDPI))
	if target <= 0 || b.Dx() <= target {
		return img
	}
	h := int(math.Round(float64(b.Dy()) * float64(target) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, target, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	log.Debug().Int("from_w", b.Dx()).Int("from_h", b.Dy()).Int("to_w", target).Int("to_h", h).Msg("resampled image for embedding")
	return dst
}

func unitsToInches(v float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "pt":
		return v / 72
	case "cm":
		return v / 2.54
	case "in", "inch":
		return v
	default:
		return v / 25.4
	}
}
