/**
 * PixelBuffer - raw image samples for the preprocessing pipeline
 *
 * Owns width, height, channel count and the interleaved sample bytes.
 * Filters mutate the buffer in place; dimensions never change after creation.
 */

package bitmap

import (
	"fmt"
	"image"
	"image/draw"
)

// Supported channel layouts
const (
	ChannelsGray = 1
	ChannelsRGBA = 4
)

// PixelBuffer holds interleaved 8-bit samples (gray or RGBA, non-premultiplied)
type PixelBuffer struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// Histogram is a 256-bin count over the first channel
type Histogram [256]int

// New allocates a zeroed buffer
func New(width, height, channels int) (*PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if channels != ChannelsGray && channels != ChannelsRGBA {
		return nil, fmt.Errorf("unsupported channel count %d (want 1 or 4)", channels)
	}

	return &PixelBuffer{
		Width:    width,
		Height:   height,
		Channels: channels,
		Data:     make([]byte, width*height*channels),
	}, nil
}

// Wrap validates an existing sample slice and adopts it without copying
func Wrap(width, height, channels int, data []byte) (*PixelBuffer, error) {
	if channels != ChannelsGray && channels != ChannelsRGBA {
		return nil, fmt.Errorf("unsupported channel count %d (want 1 or 4)", channels)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if len(data) != width*height*channels {
		return nil, fmt.Errorf("sample length %d does not match %dx%dx%d", len(data), width, height, channels)
	}

	return &PixelBuffer{Width: width, Height: height, Channels: channels, Data: data}, nil
}

// FromImage copies any image into a new RGBA buffer.
// *image.Gray sources produce a 1-channel buffer.
func FromImage(img image.Image) (*PixelBuffer, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("image has empty bounds")
	}

	if gray, ok := img.(*image.Gray); ok {
		buf, err := New(bounds.Dx(), bounds.Dy(), ChannelsGray)
		if err != nil {
			return nil, err
		}
		for y := 0; y < bounds.Dy(); y++ {
			start := gray.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(buf.Data[y*buf.Width:], gray.Pix[start:start+bounds.Dx()])
		}
		return buf, nil
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)

	return Wrap(bounds.Dx(), bounds.Dy(), ChannelsRGBA, nrgba.Pix)
}

// Image exposes the buffer as an image.Image sharing the same samples
func (b *PixelBuffer) Image() image.Image {
	rect := image.Rect(0, 0, b.Width, b.Height)
	if b.Channels == ChannelsGray {
		return &image.Gray{Pix: b.Data, Stride: b.Width, Rect: rect}
	}
	return &image.NRGBA{Pix: b.Data, Stride: b.Width * ChannelsRGBA, Rect: rect}
}

// Index returns the offset of the first sample of pixel (x, y)
func (b *PixelBuffer) Index(x, y int) int {
	return (y*b.Width + x) * b.Channels
}

// At returns the first-channel sample of pixel (x, y)
func (b *PixelBuffer) At(x, y int) byte {
	return b.Data[b.Index(x, y)]
}

// SetColor writes v to every colour channel of pixel i (alpha untouched)
func (b *PixelBuffer) SetColor(i int, v byte) {
	b.Data[i] = v
	if b.Channels == ChannelsRGBA {
		b.Data[i+1] = v
		b.Data[i+2] = v
	}
}

// ColorChannels is the number of leading colour samples per pixel
func (b *PixelBuffer) ColorChannels() int {
	if b.Channels == ChannelsRGBA {
		return 3
	}
	return 1
}

// PixelCount returns width*height
func (b *PixelBuffer) PixelCount() int {
	return b.Width * b.Height
}

// Histogram counts first-channel intensities
func (b *PixelBuffer) Histogram() Histogram {
	var hist Histogram
	for i := 0; i < len(b.Data); i += b.Channels {
		hist[b.Data[i]]++
	}
	return hist
}

// Clone returns a deep copy
func (b *PixelBuffer) Clone() *PixelBuffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &PixelBuffer{Width: b.Width, Height: b.Height, Channels: b.Channels, Data: data}
}

// Validate checks the length invariant
func (b *PixelBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil pixel buffer")
	}
	if len(b.Data) != b.Width*b.Height*b.Channels {
		return fmt.Errorf("sample length %d does not match %dx%dx%d", len(b.Data), b.Width, b.Height, b.Channels)
	}
	return nil
}
