package config

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

// Backend names accepted in devices[].backend
const (
	BackendSimLegacy = "sim-legacy"
	BackendSimModern = "sim-modern"
	BackendOpenCV    = "opencv"
	BackendGStreamer = "gstreamer"
)

// DeviceConfig describes one camera and the backend that drives it
type DeviceConfig struct {
	ID      string `json:"id" mapstructure:"id" yaml:"id"`
	Name    string `json:"name,omitempty" mapstructure:"name" yaml:"name,omitempty"`
	Backend string `json:"backend" mapstructure:"backend" yaml:"backend"`
	// Source is a camera index, device path or URL for hardware backends
	Source string `json:"source,omitempty" mapstructure:"source" yaml:"source,omitempty"`
	// Element replaces the GStreamer source element
	Element           string   `json:"element,omitempty" mapstructure:"element" yaml:"element,omitempty"`
	Facing            string   `json:"facing,omitempty" mapstructure:"facing" yaml:"facing,omitempty"`
	SensorOrientation int      `json:"sensor_orientation" mapstructure:"sensor_orientation" yaml:"sensor_orientation"`
	Resolutions       []string `json:"resolutions,omitempty" mapstructure:"resolutions" yaml:"resolutions,omitempty"`
	FrameRates        []int    `json:"frame_rates,omitempty" mapstructure:"frame_rates" yaml:"frame_rates,omitempty"`
	// TorchPin is the BCM GPIO pin of an external torch LED, -1 for none
	TorchPin int  `json:"torch_pin" mapstructure:"torch_pin" yaml:"torch_pin"`
	MockGPIO bool `json:"mock_gpio,omitempty" mapstructure:"mock_gpio" yaml:"mock_gpio,omitempty"`
}

// Generation returns the control model of the configured backend
func (d DeviceConfig) Generation() capture.Generation {
	switch d.Backend {
	case BackendSimModern, BackendGStreamer:
		return capture.GenerationModern
	default:
		return capture.GenerationLegacy
	}
}

// Descriptor converts the entry into a registry descriptor
func (d DeviceConfig) Descriptor() capture.Descriptor {
	name := d.Name
	if name == "" {
		name = "Camera " + d.ID
	}
	return capture.Descriptor{
		ID:                d.ID,
		Name:              name,
		Backend:           d.Backend,
		Generation:        d.Generation(),
		Facing:            capture.ParseFacing(d.Facing),
		SensorOrientation: d.SensorOrientation,
	}
}

// Sizes parses Resolutions
func (d DeviceConfig) Sizes() ([]capture.Resolution, error) {
	sizes := make([]capture.Resolution, 0, len(d.Resolutions))
	for _, s := range d.Resolutions {
		r, err := capture.ParseResolution(s)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
		sizes = append(sizes, r)
	}
	return sizes, nil
}

// HasTorch reports whether an external torch is configured
func (d DeviceConfig) HasTorch() bool {
	return d.TorchPin >= 0 || d.MockGPIO
}

// CaptureConfig holds the defaults used when a device is allocated
type CaptureConfig struct {
	Width     int  `json:"width" mapstructure:"width" yaml:"width"`
	Height    int  `json:"height" mapstructure:"height" yaml:"height"`
	FrameRate int  `json:"frame_rate" mapstructure:"frame_rate" yaml:"frame_rate"`
	Autostart bool `json:"autostart" mapstructure:"autostart" yaml:"autostart"`
	// DeviceRotation is the fixed rotation of the host, in degrees
	DeviceRotation   int    `json:"device_rotation" mapstructure:"device_rotation" yaml:"device_rotation"`
	StateWaitTimeout string `json:"state_wait_timeout" mapstructure:"state_wait_timeout" yaml:"state_wait_timeout"`
}

// WaitTimeout parses StateWaitTimeout, falling back to the device default
func (c CaptureConfig) WaitTimeout() time.Duration {
	d, err := time.ParseDuration(c.StateWaitTimeout)
	if err != nil || d <= 0 {
		return capture.DefaultStateWaitTimeout
	}
	return d
}

// StreamConfig tunes the MJPEG preview streams
type StreamConfig struct {
	FPS     int `json:"fps" mapstructure:"fps" yaml:"fps"`
	Quality int `json:"quality" mapstructure:"quality" yaml:"quality"`
	Width   int `json:"width,omitempty" mapstructure:"width" yaml:"width,omitempty"`
	Height  int `json:"height,omitempty" mapstructure:"height" yaml:"height,omitempty"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" mapstructure:"widgets" yaml:"widgets"`
}

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" mapstructure:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" mapstructure:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" mapstructure:"log_pretty" yaml:"log_pretty"`

	Devices []DeviceConfig       `json:"devices" mapstructure:"devices" yaml:"devices"`
	Capture CaptureConfig        `json:"capture" mapstructure:"capture" yaml:"capture"`
	Photo   capture.PhotoOptions `json:"photo" mapstructure:"photo" yaml:"photo"`
	Stream  StreamConfig         `json:"stream" mapstructure:"stream" yaml:"stream"`
	Overlay OverlayConfig        `json:"overlay" mapstructure:"overlay" yaml:"overlay"`
}

// Validate checks device entries for problems that would fail at startup
func (c *Config) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerPort)
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: missing id", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %s", i, d.ID)
		}
		seen[d.ID] = true

		switch d.Backend {
		case BackendSimLegacy, BackendSimModern:
		case BackendOpenCV, BackendGStreamer:
			if d.Source == "" && d.Element == "" {
				return fmt.Errorf("device %s: %s backend requires a source", d.ID, d.Backend)
			}
		default:
			return fmt.Errorf("device %s: unknown backend %q", d.ID, d.Backend)
		}
		if _, err := d.Sizes(); err != nil {
			return err
		}
		for _, fps := range d.FrameRates {
			if fps <= 0 {
				return fmt.Errorf("device %s: invalid frame rate %d", d.ID, fps)
			}
		}
	}
	return nil
}

// Device returns the entry for id
func (c *Config) Device(id string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Defaults returns the configuration written on first run: one simulated
// camera of each generation.
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Devices: []DeviceConfig{
			{ID: "0", Name: "Simulated legacy camera", Backend: BackendSimLegacy, Facing: "back", SensorOrientation: 90, TorchPin: -1},
			{ID: "1", Name: "Simulated modern camera", Backend: BackendSimModern, Facing: "front", SensorOrientation: 270, TorchPin: -1},
		},
		Capture: CaptureConfig{
			Width:            640,
			Height:           480,
			FrameRate:        30,
			StateWaitTimeout: capture.DefaultStateWaitTimeout.String(),
		},
		Stream: StreamConfig{
			FPS:     15,
			Quality: 80,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{
				{"id": "info", "type": "capture-info"},
			},
		},
	}
}
