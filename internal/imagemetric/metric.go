package imagemetric

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind selects the scalar computed for an image.
type Kind string

const (
	Brightness Kind = "brightness"
	Saturation Kind = "saturation"
)

var (
	ErrInvalidKind   = errors.New("invalid metric kind")
	ErrUnconvertible = errors.New("image cannot be converted")
)

// Kinds lists the supported metric kinds.
func Kinds() []Kind { return []Kind{Brightness, Saturation} }

func (k Kind) String() string { return string(k) }

// ParseKind maps a user-supplied selector to a Kind. Empty means brightness.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Brightness):
		return Brightness, nil
	case string(Saturation):
		return Saturation, nil
	default:
		return Brightness, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Resolve is the lenient form of ParseKind: unknown selectors fall back to
// brightness with a warning. The second return reports whether a fallback happened.
func Resolve(s string) (Kind, bool) {
	k, err := ParseKind(s)
	if err != nil {
		log.Warn().Str("sort_by", s).Str("fallback", string(Brightness)).Msg("unknown metric kind; defaulting to brightness")
		return Brightness, true
	}
	return k, false
}

// Evaluate computes the mean of the selected channel over every pixel.
// Values are on an 8-bit scale (0-255) regardless of the source depth.
func Evaluate(img image.Image, kind Kind) (float64, error) {
	b, n, err := area(img)
	if err != nil {
		return 0, err
	}

	var sum int64
	switch kind {
	case Saturation:
		sum = sumSaturation(img, b)
	default:
		sum = sumLuma(img, b)
	}
	return float64(sum) / float64(n), nil
}

func area(img image.Image) (image.Rectangle, int, error) {
	if img == nil {
		return image.Rectangle{}, 0, fmt.Errorf("%w: nil image", ErrUnconvertible)
	}
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n <= 0 {
		return b, 0, fmt.Errorf("%w: empty bounds %v", ErrUnconvertible, b)
	}
	return b, n, nil
}

func sumLuma(img image.Image, b image.Rectangle) int64 {
	var sum int64
	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				sum += int64(g.GrayAt(x, y).Y)
			}
		}
		return sum
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			sum += int64(luma(c))
		}
	}
	return sum
}

// luma is the ITU-R 601-2 transform in 16.16 fixed point, rounded.
func luma(c color.NRGBA) uint8 {
	return uint8((uint32(c.R)*19595 + uint32(c.G)*38470 + uint32(c.B)*7471 + 0x8000) >> 16)
}

func sumSaturation(img image.Image, b image.Rectangle) int64 {
	var sum int64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			sum += int64(saturation(c))
		}
	}
	return sum
}

// saturation is HSV S on an 8-bit scale, (max-min)*255/max truncated.
// Integer math keeps exact quotients from rounding down.
func saturation(c color.NRGBA) uint8 {
	hi, lo := max(c.R, c.G, c.B), min(c.R, c.G, c.B)
	if hi == lo {
		return 0
	}
	return uint8(int(hi-lo) * 255 / int(hi))
}
