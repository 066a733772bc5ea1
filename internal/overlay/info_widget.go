package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// InfoWidget draws a capture status panel: device, negotiated format,
// measured rate, rotation and frame timestamp.
type InfoWidget struct {
	*BaseWidget
	textColor color.RGBA
	bgColor   color.RGBA
	showClock bool
}

// NewInfoWidget creates a capture info panel, bottom-left by default
func NewInfoWidget(id string, config map[string]interface{}) (*InfoWidget, error) {
	w := &InfoWidget{
		BaseWidget: NewBaseWidget(id, 8, -8, 0.85),
		textColor:  color.RGBA{230, 230, 230, 255},
		bgColor:    color.RGBA{0, 0, 0, 180},
		showClock:  true,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *InfoWidget) Type() string {
	return "capture-info"
}

// Lines returns the panel text for info
func (w *InfoWidget) Lines(info FrameInfo) []string {
	lines := []string{
		fmt.Sprintf("cam %s", info.DeviceID),
		fmt.Sprintf("%s  %.1f fps", info.Format, info.FPS),
		fmt.Sprintf("rot %d  #%d  t=%s", info.Rotation, info.Sequence, info.Timestamp.Round(time.Millisecond)),
	}
	if w.showClock && !info.Time.IsZero() {
		lines = append(lines, info.Time.Format(time.RFC3339))
	}
	return lines
}

func (w *InfoWidget) Render(img *image.RGBA, info FrameInfo) error {
	if !w.IsEnabled() {
		return nil
	}
	bg := w.bgColor
	drawTextBox(img, w.BaseWidget, w.Lines(info), w.textColor, &bg, 4)
	return nil
}

func (w *InfoWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["color"] = colorConfig(w.textColor)
	config["background"] = colorConfig(w.bgColor)
	config["clock"] = w.showClock
	return config
}

func (w *InfoWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = c
	}
	if clock, ok := config["clock"].(bool); ok {
		w.showClock = clock
	}
	return nil
}
