package bitmap

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestNewValidatesShape(t *testing.T) {
	testCases := []struct {
		name     string
		w, h, ch int
		wantErr  bool
	}{
		{"rgba", 4, 3, ChannelsRGBA, false},
		{"gray", 4, 3, ChannelsGray, false},
		{"zero width", 0, 3, ChannelsRGBA, true},
		{"three channels", 4, 3, 3, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := New(tc.w, tc.h, tc.ch)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %dx%dx%d", tc.w, tc.h, tc.ch)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if len(buf.Data) != tc.w*tc.h*tc.ch {
				t.Fatalf("data length = %d, want %d", len(buf.Data), tc.w*tc.h*tc.ch)
			}
		})
	}
}

func TestWrapRejectsLengthMismatch(t *testing.T) {
	if _, err := Wrap(2, 2, ChannelsRGBA, make([]byte, 15)); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestHistogramCountsFirstChannel(t *testing.T) {
	buf, _ := New(2, 2, ChannelsRGBA)
	copy(buf.Data, []byte{
		10, 99, 99, 255,
		10, 0, 0, 255,
		240, 1, 1, 255,
		10, 2, 2, 255,
	})

	hist := buf.Histogram()
	if hist[10] != 3 || hist[240] != 1 {
		t.Fatalf("hist[10]=%d hist[240]=%d, want 3 and 1", hist[10], hist[240])
	}
	if hist[99] != 0 {
		t.Fatalf("histogram must ignore non-first channels, hist[99]=%d", hist[99])
	}
}

func TestFromImageGrayKeepsSingleChannel(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(1, 1, color.Gray{Y: 77})

	buf, err := FromImage(img)
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	if buf.Channels != ChannelsGray {
		t.Fatalf("channels = %d, want 1", buf.Channels)
	}
	if got := buf.At(1, 1); got != 77 {
		t.Fatalf("At(1,1) = %d, want 77", got)
	}
}

func TestDecodeRoundTripPNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 4))
	img.SetNRGBA(2, 3, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	buf, err := Decode(encoded.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if buf.Width != 5 || buf.Height != 4 || buf.Channels != ChannelsRGBA {
		t.Fatalf("unexpected shape %dx%dx%d", buf.Width, buf.Height, buf.Channels)
	}
	i := buf.Index(2, 3)
	if buf.Data[i] != 200 || buf.Data[i+1] != 100 || buf.Data[i+2] != 50 {
		t.Fatalf("pixel = %v, want [200 100 50]", buf.Data[i:i+3])
	}

	out, err := EncodePNG(buf)
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("EncodePNG produced invalid png: %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("definitely not an image")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}
