// Package synth renders the test pattern used by the simulated cameras
package synth

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var bars = []color.RGBA{
	{235, 235, 235, 255},
	{235, 235, 16, 255},
	{16, 235, 235, 255},
	{16, 235, 16, 255},
	{235, 16, 235, 255},
	{235, 16, 16, 255},
	{16, 16, 235, 255},
	{16, 16, 16, 255},
}

// Pattern draws color bars with a sweeping marker at position seq and a
// text label in the top-left corner.
func Pattern(width, height int, seq int, label string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if width <= 0 || height <= 0 {
		return img
	}

	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for i, c := range bars {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(bars)-1 {
			r.Max.X = width
		}
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}

	// Moving marker so consecutive frames differ
	markerW := width / 32
	if markerW < 2 {
		markerW = 2
	}
	x := (seq * 4) % width
	marker := image.Rect(x, height-height/8, x+markerW, height)
	draw.Draw(img, marker, image.NewUniform(color.RGBA{255, 128, 0, 255}), image.Point{}, draw.Src)

	if label != "" {
		drawLabel(img, label)
	}
	return img
}

func drawLabel(img *image.RGBA, label string) {
	face := basicfont.Face7x13
	const padding = 4

	d := &font.Drawer{Face: face}
	textWidth := d.MeasureString(label).Round()
	box := image.Rect(0, 0, textWidth+padding*2, face.Height+padding*2).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(color.RGBA{0, 0, 0, 200}), image.Point{}, draw.Over)

	d.Dst = img
	d.Src = image.NewUniform(color.RGBA{255, 255, 255, 255})
	d.Dot = fixed.Point26_6{X: fixed.I(padding), Y: fixed.I(padding + face.Ascent)}
	d.DrawString(label)
}

// FrameLabel formats the label the simulators stamp on frames
func FrameLabel(cameraID string, seq int) string {
	return fmt.Sprintf("%s #%d", cameraID, seq)
}

// I420Size is the byte size of a width x height I420 frame
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// ToI420 converts img to planar YUV 4:2:0 (Y, then U, then V) into dst and
// returns the number of bytes written. dst must hold I420Size bytes.
func ToI420(img image.Image, dst []byte) int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	size := I420Size(w, h)
	if len(dst) < size {
		return 0
	}

	cw, ch := (w+1)/2, (h+1)/2
	yPlane := dst[:w*h]
	uPlane := dst[w*h : w*h+cw*ch]
	vPlane := dst[w*h+cw*ch : size]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			yPlane[y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*cw + x/2
				uPlane[i] = cb
				vPlane[i] = cr
			}
		}
	}
	return size
}

// EncodeJPEG scales img to width x height and encodes it as JPEG.
// Non-positive dimensions keep the source size.
func EncodeJPEG(img image.Image, width, height, quality int) ([]byte, error) {
	src := img
	b := img.Bounds()
	if width > 0 && height > 0 && (width != b.Dx() || height != b.Dy()) {
		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
		src = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// I420Source produces pattern frames cheaply: the pattern is converted
// once and each frame only repaints the moving marker in the luma plane.
type I420Source struct {
	width  int
	height int
	base   []byte
}

// NewI420Source renders the base pattern for width x height
func NewI420Source(width, height int, label string) *I420Source {
	base := make([]byte, I420Size(width, height))
	ToI420(Pattern(width, height, 0, label), base)
	return &I420Source{width: width, height: height, base: base}
}

// Size is the byte size of one frame
func (s *I420Source) Size() int {
	return len(s.base)
}

// Fill writes frame seq into dst and returns the bytes written, or 0 if
// dst is too small.
func (s *I420Source) Fill(dst []byte, seq int) int {
	if len(dst) < len(s.base) {
		return 0
	}
	copy(dst, s.base)
	if s.width == 0 || s.height == 0 {
		return len(s.base)
	}

	markerW := s.width / 32
	if markerW < 2 {
		markerW = 2
	}
	x0 := (seq * 4) % s.width
	x1 := x0 + markerW
	if x1 > s.width {
		x1 = s.width
	}
	for y := s.height - s.height/8; y < s.height; y++ {
		row := dst[y*s.width : (y+1)*s.width]
		for x := x0; x < x1; x++ {
			row[x] = 200
		}
	}
	return len(s.base)
}
