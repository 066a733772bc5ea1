package synth

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestPattern(t *testing.T) {
	img := Pattern(64, 32, 0, "")

	tests := []struct {
		name string
		x, y int
		want color.RGBA
	}{
		{"first bar", 4, 0, bars[0]},
		{"last bar", 60, 0, bars[7]},
		{"marker", 0, 31, color.RGBA{255, 128, 0, 255}},
	}
	for _, tt := range tests {
		if got := img.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("%s: pixel (%d,%d) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}

	if empty := Pattern(0, 10, 0, "x"); !empty.Bounds().Empty() {
		t.Errorf("zero width pattern has bounds %v", empty.Bounds())
	}
}

func TestToI420(t *testing.T) {
	if got := I420Size(3, 3); got != 17 {
		t.Errorf("I420Size(3,3) = %d, want 17", got)
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	dst := make([]byte, I420Size(4, 4))
	if n := ToI420(img, dst); n != len(dst) {
		t.Fatalf("ToI420 wrote %d bytes, want %d", n, len(dst))
	}
	if dst[0] != 255 || dst[16] != 128 || dst[20] != 128 {
		t.Errorf("white frame Y=%d U=%d V=%d, want 255 128 128", dst[0], dst[16], dst[20])
	}

	if n := ToI420(img, dst[:5]); n != 0 {
		t.Errorf("short buffer wrote %d bytes", n)
	}
}

func TestI420Source(t *testing.T) {
	src := NewI420Source(64, 32, "cam")
	a := make([]byte, src.Size())
	b := make([]byte, src.Size())

	if n := src.Fill(a, 0); n != src.Size() {
		t.Fatalf("Fill wrote %d bytes", n)
	}
	src.Fill(b, 5)
	if bytes.Equal(a, b) {
		t.Error("frames 0 and 5 are identical")
	}
	if n := src.Fill(make([]byte, 10), 0); n != 0 {
		t.Errorf("short buffer Fill = %d, want 0", n)
	}
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(Pattern(64, 32, 1, FrameLabel("0", 1)), 32, 16, 80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("decoded size %v, want 32x16", b)
	}
}
