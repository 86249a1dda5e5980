package processor

import (
	"fmt"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
	"github.com/adverant/nexus/handwriting-worker/internal/filters"
)

// Preprocess runs the fixed filter chain in place:
// grayscale, contrast, blur, adaptive threshold, opening, median denoise.
// It returns the threshold chosen by the binarization step.
func Preprocess(buf *bitmap.PixelBuffer) int {
	filters.Grayscale(buf)
	filters.Contrast(buf, filters.DefaultContrast)
	filters.Blur(buf, filters.DefaultBlurSigma)
	threshold := filters.AdaptiveThreshold(buf)
	filters.Open(buf)
	filters.MedianDenoise(buf)
	return threshold
}

// PreprocessImage decodes an encoded image, cleans it and re-encodes it as PNG
func PreprocessImage(encoded []byte) ([]byte, error) {
	buf, err := bitmap.Decode(encoded)
	if err != nil {
		return nil, err
	}

	Preprocess(buf)

	out, err := bitmap.EncodePNG(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}
	return out, nil
}
