package captcha

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
)

const (
	upscaleFactor      = 2
	contrastPercent    = 100
	sharpenSigma       = 1.0
	thresholdLuminance = 150
)

// Preprocess turns a noisy captcha rendering into a high contrast black and
// white PNG: grayscale, 2x lanczos upscale, contrast and sharpness boost, then
// a binary threshold.
func Preprocess(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	img := imaging.Grayscale(src)
	img = imaging.Resize(img, bounds.Dx()*upscaleFactor, bounds.Dy()*upscaleFactor, imaging.Lanczos)
	img = imaging.AdjustContrast(img, contrastPercent)
	img = imaging.Sharpen(img, sharpenSigma)

	out := threshold(img, thresholdLuminance)

	var buf bytes.Buffer
	err = png.Encode(&buf, out)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func threshold(img *image.NRGBA, cut uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			lum := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if lum > cut {
				out.SetGray(x, y, color.Gray{Y: 255})
				continue
			}
			out.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	return out
}
