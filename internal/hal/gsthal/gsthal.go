// Package gsthal exposes V4L2 (or any GStreamer source) cameras through
// the modern session camera API. Each configured session owns one
// pipeline ending in an appsink that is polled for samples.
package gsthal

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
	"github.com/bryanchriswhite/videocapture/internal/hw/torch"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

var initOnce sync.Once

func initGStreamer() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

// Source configures one GStreamer camera
type Source struct {
	// Device is the V4L2 device path used when Element is empty
	Device string
	// Element overrides the source element, e.g. "videotestsrc is-live=true"
	Element     string
	Facing      capture.Facing
	Orientation int
	Sizes       []capture.Resolution
	FrameRates  []int
	Torch       torch.Driver
}

func (s Source) element() string {
	if s.Element != "" {
		return s.Element
	}
	return fmt.Sprintf("v4l2src device=%s do-timestamp=true", s.Device)
}

// Manager implements modernhal.Manager over configured sources
type Manager struct {
	sources map[string]Source

	mu      sync.Mutex
	devices map[string]*Device
}

// NewManager creates a manager for sources keyed by camera id
func NewManager(sources map[string]Source) *Manager {
	initGStreamer()
	return &Manager{sources: sources, devices: make(map[string]*Device)}
}

func (m *Manager) CameraIDs() []string {
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Characteristics(id string) (modernhal.Characteristics, error) {
	src, ok := m.sources[id]
	if !ok {
		return modernhal.Characteristics{}, fmt.Errorf("no gstreamer source for camera %s", id)
	}
	return characteristicsFor(src), nil
}

func characteristicsFor(src Source) modernhal.Characteristics {
	sizes := src.Sizes
	if len(sizes) == 0 {
		sizes = []capture.Resolution{{Width: 640, Height: 480}}
	}
	rates := src.FrameRates
	if len(rates) == 0 {
		rates = []int{30}
	}

	ch := modernhal.Characteristics{
		Facing:            src.Facing,
		SensorOrientation: src.Orientation,
		MaxDigitalZoom:    1,
		AFModes:           []modernhal.AFMode{modernhal.AFModeOff},
		AEModes:           []modernhal.AEMode{modernhal.AEModeOn},
		AWBModes:          []modernhal.AWBMode{modernhal.AWBModeAuto},
		FlashAvailable:    src.Torch != nil,
	}
	largest := sizes[0]
	for _, s := range sizes {
		ch.StreamConfigs = append(ch.StreamConfigs,
			modernhal.StreamConfig{Format: capture.PixelFormatYUV420, Size: s},
			modernhal.StreamConfig{Format: capture.PixelFormatJPEG, Size: s},
		)
		if s.Pixels() > largest.Pixels() {
			largest = s
		}
	}
	ch.ActiveArray = image.Rect(0, 0, largest.Width, largest.Height)
	for _, fps := range rates {
		ch.AETargetFPSRanges = append(ch.AETargetFPSRanges, capture.FrameRateRange{Min: fps, Max: fps})
	}
	return ch
}

// OpenCamera opens the camera asynchronously. The source itself is only
// claimed once a session starts its pipeline.
func (m *Manager) OpenCamera(id string, cb modernhal.DeviceCallbacks) error {
	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("no gstreamer source for camera %s", id)
	}

	m.mu.Lock()
	if d, open := m.devices[id]; open && !d.isClosed() {
		m.mu.Unlock()
		return fmt.Errorf("gstreamer camera %s is busy", id)
	}
	d := &Device{
		id:        id,
		src:       src,
		callbacks: cb,
		log:       logger.WithDevice("gsthal", id),
	}
	m.devices[id] = d
	m.mu.Unlock()

	go func() {
		if cb.OnOpened != nil {
			cb.OnOpened(d)
		}
	}()
	return nil
}

func (m *Manager) NewImageReader(width, height int, format capture.PixelFormat, maxImages int) (modernhal.ImageReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid reader size %dx%d", width, height)
	}
	switch format {
	case capture.PixelFormatYUV420, capture.PixelFormatJPEG:
	default:
		return nil, fmt.Errorf("unsupported reader format %s", format)
	}
	return modernhal.NewQueueReader(capture.Resolution{Width: width, Height: height}, format, maxImages), nil
}
