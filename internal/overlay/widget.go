package overlay

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

// FrameInfo describes the frame a widget is drawn on
type FrameInfo struct {
	DeviceID  string
	Format    capture.Format
	Rotation  int
	Sequence  uint64
	Timestamp time.Duration
	// FPS is the measured output rate
	FPS float64
	// Time is the wall clock time the frame was encoded
	Time time.Time
}

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img at the configured position
	Render(img *image.RGBA, info FrameInfo) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseWidget holds the position, opacity and enabled flag shared by
// all widgets. Negative coordinates anchor the widget to the right or
// bottom edge of the frame.
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

func (w *BaseWidget) ID() string {
	return w.id
}

func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.x = x
	w.y = y
}

// SetOpacity sets the widget's opacity, clamped to [0, 1]
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// origin resolves the widget position for a box of size inside bounds
func (w *BaseWidget) origin(bounds image.Rectangle, size image.Point) image.Point {
	x, y := bounds.Min.X+w.x, bounds.Min.Y+w.y
	if w.x < 0 {
		x = bounds.Max.X + w.x - size.X
	}
	if w.y < 0 {
		y = bounds.Max.Y + w.y - size.Y
	}
	return image.Pt(x, y)
}

// BlendImage composites src over dst with its top-left corner at pt,
// scaling src alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, pt image.Point, opacity float64) {
	if opacity <= 0 {
		return
	}
	r := image.Rectangle{Min: pt, Max: pt.Add(src.Bounds().Size())}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, src.Bounds().Min, mask, image.Point{}, draw.Over)
}

// DrawRectangle fills r on dst with c at the given opacity
func DrawRectangle(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// getInt extracts an integer from a decoded config value
func getInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

func getColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	channel := func(key string, def uint8) uint8 {
		if n, ok := getInt(m[key]); ok {
			return uint8(n)
		}
		return def
	}
	return color.RGBA{R: channel("r", 0), G: channel("g", 0), B: channel("b", 0), A: channel("a", 255)}, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": int(c.R), "g": int(c.G), "b": int(c.B), "a": int(c.A)}
}

// updateBase applies the shared keys of config
func (w *BaseWidget) updateBase(config map[string]interface{}) {
	if x, ok := getInt(config["x"]); ok {
		w.x = x
	}
	if y, ok := getInt(config["y"]); ok {
		w.y = y
	}
	if opacity, ok := config["opacity"].(float64); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

func (w *BaseWidget) baseConfig(widgetType string) map[string]interface{} {
	return map[string]interface{}{
		"id":      w.id,
		"type":    widgetType,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}
