package filters

import (
	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
)

// DefaultBlurSigma smooths single-pixel noise ahead of binarization
const DefaultBlurSigma = 0.5

// Blur applies a separable Gaussian blur and writes the result back in place.
// Alpha of RGBA buffers is blurred too, as a canvas filter would do.
func Blur(buf *bitmap.PixelBuffer, sigma float64) {
	if sigma <= 0 {
		return
	}

	blurred := imaging.Blur(buf.Image(), sigma)

	if buf.Channels == bitmap.ChannelsRGBA {
		copy(buf.Data, blurred.Pix)
		return
	}

	// gray source: imaging returns NRGBA with R=G=B
	for i := range buf.Data {
		buf.Data[i] = blurred.Pix[i*bitmap.ChannelsRGBA]
	}
}
