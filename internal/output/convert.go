package output

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

var (
	errUnsupportedFormat = errors.New("unsupported pixel format")
	errShortFrame        = errors.New("frame shorter than its format")
)

func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// i420Size is the byte size of a packed width x height I420 frame
func i420Size(width, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + 2*cw*ch
}

// packFrame converts a single-plane frame into packed I420 in dst
func packFrame(dst, data []byte, format capture.Format) error {
	w, h := format.Width, format.Height
	switch format.PixelFormat {
	case capture.PixelFormatYUV420:
		n := i420Size(w, h)
		if len(data) < n {
			return fmt.Errorf("%w: %d < %d bytes", errShortFrame, len(data), n)
		}
		copy(dst, data[:n])
		return nil
	case capture.PixelFormatNV21:
		cw, ch := chromaSize(w, h)
		if len(data) < w*h+2*cw*ch {
			return fmt.Errorf("%w: %d < %d bytes", errShortFrame, len(data), w*h+2*cw*ch)
		}
		copy(dst, data[:w*h])
		u := dst[w*h : w*h+cw*ch]
		v := dst[w*h+cw*ch:]
		vu := data[w*h:]
		for i := 0; i < cw*ch; i++ {
			v[i] = vu[2*i]
			u[i] = vu[2*i+1]
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnsupportedFormat, format.PixelFormat)
	}
}

// packPlanar copies the planes of f, honoring row and pixel strides,
// into packed I420 in dst
func packPlanar(dst []byte, f capture.PlanarFrame) error {
	w, h := f.Width, f.Height
	cw, ch := chromaSize(w, h)
	ps := f.UVPixelStride
	if ps < 1 {
		ps = 1
	}
	if h > 0 && len(f.Y) < (h-1)*f.YStride+w {
		return fmt.Errorf("%w: luma plane %d bytes", errShortFrame, len(f.Y))
	}
	need := (ch-1)*f.UVStride + (cw-1)*ps + 1
	if ch > 0 && (len(f.U) < need || len(f.V) < need) {
		return fmt.Errorf("%w: chroma planes %d/%d bytes", errShortFrame, len(f.U), len(f.V))
	}

	for row := 0; row < h; row++ {
		copy(dst[row*w:(row+1)*w], f.Y[row*f.YStride:])
	}
	u := dst[w*h : w*h+cw*ch]
	v := dst[w*h+cw*ch:]
	for row := 0; row < ch; row++ {
		src := row * f.UVStride
		for col := 0; col < cw; col++ {
			u[row*cw+col] = f.U[src+col*ps]
			v[row*cw+col] = f.V[src+col*ps]
		}
	}
	return nil
}

// ToRGBA converts a packed I420 frame to RGBA
func ToRGBA(i420 []byte, width, height int) *image.RGBA {
	cw, ch := chromaSize(width, height)
	ycc := &image.YCbCr{
		Y:              i420[:width*height],
		Cb:             i420[width*height : width*height+cw*ch],
		Cr:             i420[width*height+cw*ch : width*height+2*cw*ch],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}
	dst := image.NewRGBA(ycc.Rect)
	draw.Draw(dst, dst.Bounds(), ycc, image.Point{}, draw.Src)
	return dst
}

// Rotate returns src turned clockwise by degrees. Only multiples of 90
// rotate; anything else returns src unchanged.
func Rotate(src *image.RGBA, degrees int) *image.RGBA {
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 || degrees%90 != 0 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if degrees == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch degrees {
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			case 270:
				dx, dy = y, w-1-x
			}
			si := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// scale resizes img to width x height, keeping it when either is zero
func scale(img *image.RGBA, width, height int) *image.RGBA {
	b := img.Bounds()
	if width <= 0 || height <= 0 || (width == b.Dx() && height == b.Dy()) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
