package filters

import (
	"math"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
)

// DefaultContrast is the factor used by the preprocessing pipeline
const DefaultContrast = 1.5

// ContrastFactor computes 259*(c*255+255) / (255*(259-c*255))
func ContrastFactor(contrast float64) float64 {
	return (259 * (contrast*255 + 255)) / (255 * (259 - contrast*255))
}

// Contrast stretches every colour channel around 128 and saturates to [0,255].
// Stored values round half to even, matching a clamped byte array.
func Contrast(buf *bitmap.PixelBuffer, contrast float64) {
	factor := ContrastFactor(contrast)

	// 256 possible inputs, so precompute the mapping once
	var lut [256]byte
	for v := 0; v < 256; v++ {
		lut[v] = clampByte(factor*(float64(v)-128) + 128)
	}

	colors := buf.ColorChannels()
	data := buf.Data
	for i := 0; i < len(data); i += buf.Channels {
		for c := 0; c < colors; c++ {
			data[i+c] = lut[data[i+c]]
		}
	}
}

func clampByte(v float64) byte {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(math.RoundToEven(v))
}
