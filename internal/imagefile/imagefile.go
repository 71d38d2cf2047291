package imagefile

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// allowedExt is the intake allow-list, compared case-insensitively.
var allowedExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// allowedMIME maps sniffed content types to the decoder format names.
var allowedMIME = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
}

// Record is a successfully decoded candidate.
type Record struct {
	Path   string
	Name   string
	Format string // "png" or "jpeg"
	Image  image.Image
	Width  int
	Height int
}

// HasImageExt reports whether name carries an allowed image extension.
func HasImageExt(name string) bool {
	return allowedExt[strings.ToLower(filepath.Ext(name))]
}

// Sniff detects the content type from magic bytes, ignoring the file name.
// It returns the format name and whether the content is an accepted image.
func Sniff(data []byte) (string, bool) {
	mtype := mimetype.Detect(data)
	format, ok := allowedMIME[mtype.String()]
	log.Debug().Str("mime", mtype.String()).Str("ext", mtype.Extension()).Bool("accepted", ok).Msg("sniffed upload")
	return format, ok
}

// Decode opens and fully decodes the image at path.
func Decode(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())}
	}
	return &Record{
		Path:   path,
		Name:   filepath.Base(path),
		Format: format,
		Image:  img,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// DecodeError marks a single file that could not be read as an image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
