package filters

import (
	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
)

// Otsu returns the cut point that maximizes between-class variance.
// Ties keep the first threshold; a single-intensity histogram yields 0.
func Otsu(hist bitmap.Histogram, total int) int {
	var sum float64
	for i := 0; i < 256; i++ {
		sum += float64(i) * float64(hist[i])
	}

	var (
		sumB      float64
		wB        int
		varMax    float64
		threshold int
	)

	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}

		wF := total - wB
		if wF == 0 {
			break
		}

		sumB += float64(t) * float64(hist[t])

		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		varBetween := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)

		if varBetween > varMax {
			varMax = varBetween
			threshold = t
		}
	}

	return threshold
}

// OtsuThreshold computes the threshold of a buffer's first channel
func OtsuThreshold(buf *bitmap.PixelBuffer) int {
	return Otsu(buf.Histogram(), buf.PixelCount())
}

// AdaptiveThreshold binarizes to 0/255 using the Otsu cut of the buffer itself.
// It returns the threshold that was applied.
func AdaptiveThreshold(buf *bitmap.PixelBuffer) int {
	threshold := OtsuThreshold(buf)
	Binarize(buf, threshold)
	return threshold
}

// Binarize maps gray > threshold to white and everything else to black
func Binarize(buf *bitmap.PixelBuffer, threshold int) {
	for i := 0; i < len(buf.Data); i += buf.Channels {
		var v byte
		if int(buf.Data[i]) > threshold {
			v = 255
		}
		buf.SetColor(i, v)
	}
}
