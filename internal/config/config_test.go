package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

const sampleConfig = `server_port: 9000
log_level: debug
devices:
  - id: usb
    name: USB webcam
    backend: opencv
    source: "0"
    facing: external
    resolutions: [1280x720, 640x480]
    frame_rates: [30]
  - id: pi
    backend: gstreamer
    source: /dev/video2
    facing: back
    sensor_orientation: 90
    torch_pin: 17
capture:
  width: 1280
  height: 720
  frame_rate: 30
  state_wait_timeout: 2s
photo:
  zoom: 2
  torch: true
  fill_light_mode: auto
  point_of_interest: {x: 0.25, y: 0.75}
stream:
  fps: 10
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewManager_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	cfg := m.Get()
	if cfg.ServerPort != 8080 || len(cfg.Devices) != 2 {
		t.Errorf("config = %+v, want defaults", cfg)
	}
	if cfg.Devices[0].TorchPin != -1 || cfg.Devices[0].HasTorch() {
		t.Errorf("default device torch pin = %d", cfg.Devices[0].TorchPin)
	}
	if cfg.Devices[1].Generation() != capture.GenerationModern {
		t.Errorf("device 1 generation = %s", cfg.Devices[1].Generation())
	}
	if len(cfg.Overlay.Widgets) != 1 {
		t.Errorf("overlay widgets = %v", cfg.Overlay.Widgets)
	}
}

func TestNewManager_LoadsFile(t *testing.T) {
	m, err := NewManager(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()

	if cfg.ServerPort != 9000 || cfg.LogLevel != "debug" {
		t.Errorf("server settings = %d %s", cfg.ServerPort, cfg.LogLevel)
	}
	// Keys absent from the file come from viper defaults
	if cfg.Stream.Quality != 80 || cfg.Stream.FPS != 10 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if got := cfg.Capture.WaitTimeout(); got != 2*time.Second {
		t.Errorf("WaitTimeout() = %v", got)
	}

	usb, ok := cfg.Device("usb")
	if !ok {
		t.Fatal("device usb missing")
	}
	if usb.TorchPin != -1 {
		t.Errorf("omitted torch pin decoded as %d, want -1", usb.TorchPin)
	}
	sizes, err := usb.Sizes()
	if err != nil || len(sizes) != 2 || sizes[0] != (capture.Resolution{Width: 1280, Height: 720}) {
		t.Errorf("Sizes() = %v, %v", sizes, err)
	}
	desc := usb.Descriptor()
	if desc.Name != "USB webcam" || desc.Facing != capture.FacingExternal || desc.Generation != capture.GenerationLegacy {
		t.Errorf("Descriptor() = %+v", desc)
	}

	pi, _ := cfg.Device("pi")
	if pi.TorchPin != 17 || !pi.HasTorch() || pi.Descriptor().Name != "Camera pi" {
		t.Errorf("pi = %+v", pi)
	}

	photo := cfg.Photo
	if photo.Zoom != 2 || photo.Torch == nil || !*photo.Torch || photo.FillLightMode != capture.FillLightAuto {
		t.Errorf("photo = %+v", photo)
	}
	if photo.PointOfInterest == nil || *photo.PointOfInterest != (capture.Point{X: 0.25, Y: 0.75}) {
		t.Errorf("point of interest = %v", photo.PointOfInterest)
	}
	if photo.ISO != nil {
		t.Errorf("unset ISO decoded as %v", *photo.ISO)
	}
}

func TestNewManager_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "devices:\n  - id: a\n    backend: v4l2\n"},
		{"duplicate id", "devices:\n  - id: a\n    backend: sim-legacy\n  - id: a\n    backend: sim-modern\n"},
		{"hardware without source", "devices:\n  - id: a\n    backend: opencv\n"},
		{"bad resolution", "devices:\n  - id: a\n    backend: sim-legacy\n    resolutions: [wide]\n"},
		{"bad port", "server_port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(writeConfig(t, tt.content)); err == nil {
				t.Error("NewManager accepted an invalid config")
			}
		})
	}
}

func TestManager_SetPersists(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.SetPort(9191); err != nil {
		t.Fatalf("SetPort: %v", err)
	}
	if err := m.Set("stream.quality", 55); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if m.GetPort() != 9191 {
		t.Errorf("GetPort() = %d", m.GetPort())
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg := reloaded.Get()
	if cfg.ServerPort != 9191 || cfg.Stream.Quality != 55 {
		t.Errorf("reloaded port %d quality %d", cfg.ServerPort, cfg.Stream.Quality)
	}
	if pi, _ := cfg.Device("pi"); pi.TorchPin != 17 {
		t.Errorf("device lost in round trip: %+v", pi)
	}
	if cfg.Photo.PointOfInterest == nil {
		t.Error("photo defaults lost in round trip")
	}
}

func TestManager_PhotoChange(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var got []capture.PhotoOptions
	m.OnPhotoChange(func(opts capture.PhotoOptions) { got = append(got, opts) })

	// Unrelated edit: no callback
	edited := sampleConfig + "log_pretty: true\n"
	if err := os.WriteFile(path, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}
	m.handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if len(got) != 0 {
		t.Fatalf("callback ran for a non-photo change: %+v", got)
	}
	if !m.Get().LogPretty {
		t.Error("reload did not pick up log_pretty")
	}

	if err := os.WriteFile(path, []byte(strings.Replace(edited, "zoom: 2", "zoom: 3", 1)), 0644); err != nil {
		t.Fatal(err)
	}
	m.handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if len(got) != 1 || got[0].Zoom != 3 {
		t.Fatalf("callbacks = %+v, want one with zoom 3", got)
	}

	// A broken file keeps the last good config
	if err := os.WriteFile(path, []byte("devices: [{id: x, backend: nope}]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m.handleChange(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if m.Get().Photo.Zoom != 3 || len(got) != 1 {
		t.Error("invalid edit replaced the config")
	}
}

func TestCaptureConfig_WaitTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"", capture.DefaultStateWaitTimeout},
		{"soon", capture.DefaultStateWaitTimeout},
		{"-1s", capture.DefaultStateWaitTimeout},
	}
	for _, tt := range tests {
		if got := (CaptureConfig{StateWaitTimeout: tt.in}).WaitTimeout(); got != tt.want {
			t.Errorf("WaitTimeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
