package imagemetric

import (
	"image"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// linear maps an 8-bit sRGB channel value to linear light.
var linear = func() (lut [256]float64) {
	for i := range lut {
		lut[i], _, _ = colorful.Color{R: float64(i) / 255}.LinearRgb()
	}
	return lut
}()

// MeanColor averages img in linear light and converts the result back to sRGB.
// Alpha is ignored, as in Evaluate.
func MeanColor(img image.Image) (colorful.Color, error) {
	b, n, err := area(img)
	if err != nil {
		return colorful.Color{}, err
	}
	var r, g, bl float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			r += linear[c.R]
			g += linear[c.G]
			bl += linear[c.B]
		}
	}
	f := float64(n)
	return colorful.LinearRgb(r/f, g/f, bl/f).Clamped(), nil
}
