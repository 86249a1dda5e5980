package filters

import (
	"sort"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
)

// MedianDenoise replaces each interior pixel with the median of its 3x3
// first-channel neighbourhood. Reads come from the unmodified input; the
// border keeps its original values.
func MedianDenoise(buf *bitmap.PixelBuffer) {
	if buf.Width < 3 || buf.Height < 3 {
		return
	}

	processed := buf.Clone()
	neighbors := make([]int, 0, 9)

	for y := 1; y < buf.Height-1; y++ {
		for x := 1; x < buf.Width-1; x++ {
			neighbors = neighbors[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					neighbors = append(neighbors, int(buf.At(x+dx, y+dy)))
				}
			}
			sort.Ints(neighbors)
			processed.SetColor(processed.Index(x, y), byte(neighbors[len(neighbors)/2]))
		}
	}

	copy(buf.Data, processed.Data)
}
