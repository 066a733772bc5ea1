package capture

import (
	"image"
	"math"
)

// CropForZoom returns the centered region of active that remains visible
// at the given zoom factor. Factors below 1 are treated as 1.
func CropForZoom(active image.Rectangle, zoom float64) image.Rectangle {
	if zoom <= 1 || active.Empty() {
		return active
	}
	w := int(math.Round(float64(active.Dx()) / zoom))
	h := int(math.Round(float64(active.Dy()) / zoom))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x := active.Min.X + (active.Dx()-w)/2
	y := active.Min.Y + (active.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// MeteringRegion places a square-ish metering rectangle centered on p,
// where p is normalized to crop (the currently visible field of view),
// not to the full sensor. fraction is the region size relative to the
// crop dimensions. The result is clipped to crop.
func MeteringRegion(crop image.Rectangle, p Point, fraction float64) image.Rectangle {
	p = p.Clamp()
	cx := crop.Min.X + int(math.Round(p.X*float64(crop.Dx())))
	cy := crop.Min.Y + int(math.Round(p.Y*float64(crop.Dy())))
	halfW := int(math.Round(float64(crop.Dx()) * fraction / 2))
	halfH := int(math.Round(float64(crop.Dy()) * fraction / 2))
	if halfW < 1 {
		halfW = 1
	}
	if halfH < 1 {
		halfH = 1
	}
	return image.Rect(cx-halfW, cy-halfH, cx+halfW, cy+halfH).Intersect(crop)
}

// Legacy metering areas live in a fixed [-1000, 1000] square that always
// maps onto the visible (zoomed) field of view.
const (
	legacyAreaExtent   = 1000
	legacyAreaHalfSize = legacyAreaExtent / 8
)

// LegacyMeteringArea converts a normalized point into a metering
// rectangle in the legacy [-1000, 1000] coordinate space.
func LegacyMeteringArea(p Point) image.Rectangle {
	p = p.Clamp()
	cx := int(math.Round(p.X*2*legacyAreaExtent)) - legacyAreaExtent
	cy := int(math.Round(p.Y*2*legacyAreaExtent)) - legacyAreaExtent
	bounds := image.Rect(-legacyAreaExtent, -legacyAreaExtent, legacyAreaExtent, legacyAreaExtent)
	return image.Rect(cx-legacyAreaHalfSize, cy-legacyAreaHalfSize, cx+legacyAreaHalfSize, cy+legacyAreaHalfSize).Intersect(bounds)
}
