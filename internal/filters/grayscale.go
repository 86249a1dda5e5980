// Package filters implements the in-place pixel transforms of the
// preprocessing pipeline. Every filter is a full pass over the buffer and
// must complete before the next one starts.
package filters

import (
	"math"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
)

// Luminosity weights (ITU-R BT.601)
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Grayscale replaces R, G and B with the rounded luminosity. Alpha is untouched.
// 1-channel buffers are already gray.
func Grayscale(buf *bitmap.PixelBuffer) {
	if buf.Channels != bitmap.ChannelsRGBA {
		return
	}

	data := buf.Data
	for i := 0; i < len(data); i += bitmap.ChannelsRGBA {
		gray := math.Floor(lumaR*float64(data[i]) + lumaG*float64(data[i+1]) + lumaB*float64(data[i+2]) + 0.5)
		v := byte(gray)
		data[i] = v
		data[i+1] = v
		data[i+2] = v
	}
}
