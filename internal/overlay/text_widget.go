package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget draws a text label. The text may reference frame fields:
// {device}, {format}, {fps}, {seq}, {rotation} and {time}.
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 1.0),
		text:       "{device}",
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    4,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *TextWidget) Type() string {
	return "text"
}

// Expand substitutes the frame fields referenced by the text
func (w *TextWidget) Expand(info FrameInfo) string {
	return expandText(w.text, info)
}

func expandText(text string, info FrameInfo) string {
	if !strings.Contains(text, "{") {
		return text
	}
	clock := "--:--:--"
	if !info.Time.IsZero() {
		clock = info.Time.Format("15:04:05")
	}
	return strings.NewReplacer(
		"{device}", info.DeviceID,
		"{format}", info.Format.String(),
		"{fps}", fmt.Sprintf("%.1f", info.FPS),
		"{seq}", fmt.Sprintf("%d", info.Sequence),
		"{rotation}", fmt.Sprintf("%d", info.Rotation),
		"{time}", clock,
	).Replace(text)
}

func (w *TextWidget) Render(img *image.RGBA, info FrameInfo) error {
	if !w.IsEnabled() || w.text == "" {
		return nil
	}
	drawTextBox(img, w.BaseWidget, strings.Split(w.Expand(info), "\n"), w.textColor, w.bgColor, w.padding)
	return nil
}

// drawTextBox draws lines of basicfont text with an optional background
func drawTextBox(img *image.RGBA, base *BaseWidget, lines []string, fg color.RGBA, bg *color.RGBA, padding int) {
	face := basicfont.Face7x13
	lineHeight := face.Height

	d := &font.Drawer{Face: face}
	width := 0
	for _, line := range lines {
		if px := d.MeasureString(line).Ceil(); px > width {
			width = px
		}
	}
	size := image.Pt(width+padding*2, lineHeight*len(lines)+padding*2)
	at := base.origin(img.Bounds(), size)

	if bg != nil {
		DrawRectangle(img, image.Rectangle{Min: at, Max: at.Add(size)}, *bg, base.opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	d.Dst = textImg
	d.Src = image.NewUniform(fg)
	for i, line := range lines {
		d.Dot = fixed.Point26_6{
			X: fixed.I(padding),
			Y: fixed.I(padding + i*lineHeight + face.Ascent),
		}
		d.DrawString(line)
	}
	BlendImage(img, textImg, at, base.opacity)
}

func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["text"] = w.text
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)

	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if padding, ok := getInt(config["padding"]); ok {
		if padding < 0 {
			return fmt.Errorf("text widget %s: negative padding %d", w.id, padding)
		}
		w.padding = padding
	}
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.text = text
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.bgColor = c
}
