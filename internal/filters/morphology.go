package filters

import (
	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
)

// crossOffsets is the 3x3 cross structuring element: center plus the four
// orthogonal neighbours, corners excluded.
var crossOffsets = [5][2]int{{0, -1}, {-1, 0}, {0, 0}, {1, 0}, {0, 1}}

// Open performs erosion followed by dilation with the cross element.
// Erosion is written to a scratch copy so dilation never reads its own output.
// Border rows and columns are left untouched by both passes.
func Open(buf *bitmap.PixelBuffer) {
	if buf.Width < 3 || buf.Height < 3 {
		return
	}

	scratch := buf.Clone()
	erode(buf, scratch)
	dilate(scratch, buf)
}

// erode writes the cross-neighbourhood minimum of src into dst
func erode(src, dst *bitmap.PixelBuffer) {
	for y := 1; y < src.Height-1; y++ {
		for x := 1; x < src.Width-1; x++ {
			minVal := byte(255)
			for _, off := range crossOffsets {
				if v := src.At(x+off[0], y+off[1]); v < minVal {
					minVal = v
				}
			}
			dst.SetColor(dst.Index(x, y), minVal)
		}
	}
}

// dilate writes the cross-neighbourhood maximum of src into dst
func dilate(src, dst *bitmap.PixelBuffer) {
	for y := 1; y < src.Height-1; y++ {
		for x := 1; x < src.Width-1; x++ {
			maxVal := byte(0)
			for _, off := range crossOffsets {
				if v := src.At(x+off[0], y+off[1]); v > maxVal {
					maxVal = v
				}
			}
			dst.SetColor(dst.Index(x, y), maxVal)
		}
	}
}
