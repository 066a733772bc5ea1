package output

import (
	"image"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

// Output defines the interface for frame output mechanisms
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	// The image is expected to be in RGBA format
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// FrameSink accepts raw preview frames straight from a device listener.
// Implementations copy what they keep; the slices are reused by the
// device once the call returns.
type FrameSink interface {
	SubmitFrame(data []byte, format capture.Format, rotation int)
	SubmitPlanar(frame capture.PlanarFrame)
}

// Config holds common configuration for all output types. A zero Width
// or Height keeps the camera size; a zero FPS disables throttling.
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int
}

const defaultQuality = 80

func (c Config) quality() int {
	if c.Quality <= 0 || c.Quality > 100 {
		return defaultQuality
	}
	return c.Quality
}
