package overlay

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

func testInfo() FrameInfo {
	return FrameInfo{
		DeviceID:  "cam0",
		Format:    capture.Format{Width: 640, Height: 480, FrameRate: 30, PixelFormat: capture.PixelFormatYUV420},
		Rotation:  90,
		Sequence:  42,
		Timestamp: 1500 * time.Millisecond,
		FPS:       29.97,
		Time:      time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC),
	}
}

func TestTextWidget_Expand(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"plain", "plain"},
		{"{device} #{seq}", "cam0 #42"},
		{"{fps} fps rot {rotation}", "30.0 fps rot 90"},
		{"{time}", "13:04:05"},
		{"{unknown}", "{unknown}"},
	}

	for _, tt := range tests {
		w, err := NewTextWidget("label", map[string]interface{}{"text": tt.text})
		if err != nil {
			t.Fatalf("NewTextWidget: %v", err)
		}
		if got := w.Expand(testInfo()); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}

	w, _ := NewTextWidget("label", map[string]interface{}{"text": "{format}"})
	if got := w.Expand(testInfo()); !strings.HasPrefix(got, "640x480@30") {
		t.Errorf("Expand({format}) = %q", got)
	}
}

func TestTextWidget_RenderDrawsPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	w, err := NewTextWidget("label", map[string]interface{}{
		"text":       "HELLO",
		"x":          10,
		"y":          10,
		"background": map[string]interface{}{"r": 0, "g": 0, "b": 255, "a": 255},
	})
	if err != nil {
		t.Fatalf("NewTextWidget: %v", err)
	}
	if err := w.Render(img, testInfo()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	// Background box starts at the configured origin
	if got := img.RGBAAt(10, 10); got.B != 255 {
		t.Errorf("pixel at origin = %v, want blue background", got)
	}
	if got := img.RGBAAt(5, 5); got != (color.RGBA{}) {
		t.Errorf("pixel outside widget = %v, want untouched", got)
	}
}

func TestTextWidget_NegativeAnchors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	w, _ := NewTextWidget("corner", map[string]interface{}{
		"text":       "X",
		"x":          -1,
		"y":          -1,
		"background": map[string]interface{}{"r": 255, "g": 0, "b": 0},
	})
	if err := w.Render(img, testInfo()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := img.RGBAAt(198, 98); got.R != 255 {
		t.Errorf("bottom-right pixel = %v, want red background", got)
	}
	if got := img.RGBAAt(199, 99); got != (color.RGBA{}) {
		t.Errorf("margin pixel = %v, want untouched", got)
	}
}

func TestTextWidget_InvalidPadding(t *testing.T) {
	if _, err := NewTextWidget("bad", map[string]interface{}{"padding": -3}); err == nil {
		t.Error("negative padding accepted")
	}
}

func TestInfoWidget_Lines(t *testing.T) {
	w, err := NewInfoWidget("info", map[string]interface{}{})
	if err != nil {
		t.Fatalf("NewInfoWidget: %v", err)
	}
	lines := w.Lines(testInfo())
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %q", len(lines), lines)
	}
	if lines[0] != "cam cam0" {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[2], "#42") || !strings.Contains(lines[2], "t=1.5s") {
		t.Errorf("timing line = %q", lines[2])
	}

	if err := w.UpdateConfig(map[string]interface{}{"clock": false}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got := len(w.Lines(testInfo())); got != 3 {
		t.Errorf("clock disabled: got %d lines, want 3", got)
	}
}

func TestManager_LoadAndExport(t *testing.T) {
	m := NewManager()
	n := m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "b", "text": "second"},
		{"type": "capture-info", "id": "a"},
		{"type": "text"},
		{"id": "orphan"},
		{"type": "weather", "id": "c"},
		{"type": "text", "id": "b"},
	})
	if n != 2 {
		t.Errorf("loaded %d widgets, want 2", n)
	}

	exported := m.ExportConfig()
	if len(exported) != 2 || exported[0]["id"] != "a" || exported[1]["id"] != "b" {
		t.Fatalf("ExportConfig() = %v, want a then b", exported)
	}

	// Exported configs load back into an equivalent overlay
	again := NewManager()
	if n := again.LoadFromConfig(exported); n != 2 {
		t.Fatalf("reloaded %d widgets, want 2", n)
	}
	w, ok := again.GetWidget("b")
	if !ok {
		t.Fatal("widget b missing after reload")
	}
	if got := w.GetConfig()["text"]; got != "second" {
		t.Errorf("reloaded text = %v", got)
	}
	if got := w.GetConfig()["color"]; got.(map[string]interface{})["a"] != 255 {
		t.Errorf("reloaded color = %v", got)
	}
}

func TestManager_WidgetLifecycle(t *testing.T) {
	m := NewManager()
	w, err := m.CreateWidget("text", "t", map[string]interface{}{"text": "hi"})
	if err != nil {
		t.Fatalf("CreateWidget: %v", err)
	}
	if err := m.AddWidget(w); err != nil {
		t.Fatalf("AddWidget: %v", err)
	}
	if err := m.AddWidget(w); !errors.Is(err, ErrWidgetExists) {
		t.Errorf("duplicate AddWidget = %v, want ErrWidgetExists", err)
	}
	if err := m.UpdateWidget("t", map[string]interface{}{"enabled": false}); err != nil {
		t.Fatalf("UpdateWidget: %v", err)
	}
	if w.IsEnabled() {
		t.Error("widget still enabled after update")
	}
	if err := m.UpdateWidget("missing", nil); !errors.Is(err, ErrUnknownWidget) {
		t.Errorf("UpdateWidget(missing) = %v, want ErrUnknownWidget", err)
	}
	if err := m.RemoveWidget("t"); err != nil {
		t.Fatalf("RemoveWidget: %v", err)
	}
	if err := m.RemoveWidget("t"); !errors.Is(err, ErrUnknownWidget) {
		t.Errorf("second RemoveWidget = %v, want ErrUnknownWidget", err)
	}
	if err := m.Load(map[string]interface{}{"type": "text"}); err == nil {
		t.Error("Load accepted a config without id")
	}
	if len(WidgetTypes()) != 2 {
		t.Errorf("WidgetTypes() = %v", WidgetTypes())
	}
	if _, err := m.CreateWidget("github-actions", "gh", nil); err == nil {
		t.Error("unknown widget type created")
	}
}

func TestManager_RenderDisabled(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "t", "text": "X", "x": 0, "y": 0, "background": map[string]interface{}{"r": 255}},
	})

	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	m.SetEnabled(false)
	m.Render(img, testInfo())
	if got := img.RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Errorf("disabled overlay drew %v", got)
	}

	m.SetEnabled(true)
	m.Render(img, testInfo())
	if got := img.RGBAAt(0, 0); got.R != 255 {
		t.Errorf("enabled overlay pixel = %v, want red", got)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Clear", m.Len())
	}
}
