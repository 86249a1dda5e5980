package bitmap

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	// Extra raster formats for uploaded images; PNG/JPEG/GIF come with imaging.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode rasterizes an encoded image into an RGBA buffer.
// EXIF orientation is applied so phone photos come out upright.
func Decode(data []byte) (*PixelBuffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	buf, err := FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize image: %w", err)
	}
	return buf, nil
}

// EncodePNG serializes the buffer for the recognition engine
func EncodePNG(b *PixelBuffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, b.Image(), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return out.Bytes(), nil
}
