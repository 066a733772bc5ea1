package capture

import (
	"errors"
	"time"
)

var (
	// ErrNoSupportedFormat means negotiation found no usable resolution or
	// frame rate range.
	ErrNoSupportedFormat = errors.New("no supported capture format")
	// ErrNotAllocated is returned by control calls made before a
	// successful Allocate or after Deallocate.
	ErrNotAllocated = errors.New("capture device not allocated")
	// ErrOpenFailed wraps hardware open failures.
	ErrOpenFailed = errors.New("failed to open camera")
	// ErrNotStreaming rejects photo requests while the preview is not live.
	ErrNotStreaming = errors.New("capture device is not streaming")
	// ErrPhotoPending rejects a photo request while another is outstanding.
	ErrPhotoPending = errors.New("photo request already pending")
	// ErrTransitionInProgress rejects control calls while the device is
	// opening or configuring.
	ErrTransitionInProgress = errors.New("capture device is opening or configuring")
	// ErrCameraInUse means another device instance holds the camera open.
	ErrCameraInUse = errors.New("camera already in use")
	// ErrUnknownCamera means the registry has no camera with that id.
	ErrUnknownCamera = errors.New("unknown camera")
)

// Device is the contract every capture backend implements. Control
// methods are called from one goroutine at a time per device;
// notifications arrive on backend goroutines through the Listener given
// at construction.
type Device interface {
	// ID returns the physical camera id
	ID() string

	// Allocate negotiates the closest supported format to the request
	// and prepares, but does not start, streaming.
	Allocate(width, height, frameRate int) error

	// StartCapture begins streaming. Listener.OnStarted fires once the
	// first frames can flow. Calling it while streaming is a no-op.
	StartCapture() error

	// StopCapture stops streaming and returns only once no further frame
	// notification can be delivered. Calling it while stopped is a no-op.
	StopCapture() error

	// TakePhoto requests one still image. On success exactly one
	// Listener.OnPhotoTaken with callbackID follows, with empty data if
	// the capture failed after being accepted.
	TakePhoto(callbackID int64) error

	// SetPhotoOptions merges opts into the current settings and applies
	// them to the live session. Hardware rejection is logged, not returned.
	SetPhotoOptions(opts PhotoOptions) error

	// PhotoCapabilities returns a fresh snapshot; it never mutates state.
	PhotoCapabilities() (PhotoCapabilities, error)

	// Deallocate releases the hardware and all buffers. Idempotent.
	Deallocate()

	// Format returns the format fixed by the last Allocate
	Format() Format
}

// PlanarFrame is one YUV 4:2:0 frame split into planes. The plane slices
// are only valid for the duration of the notification.
type PlanarFrame struct {
	Y             []byte
	U             []byte
	V             []byte
	YStride       int
	UVStride      int
	UVPixelStride int
	Width         int
	Height        int
	Rotation      int
	Timestamp     time.Duration
}

// Listener receives the outbound notifications of a device. Frame data
// passed to the frame callbacks is reused after the call returns.
type Listener interface {
	OnStarted()
	OnFrameAvailable(data []byte, rotation int)
	OnPlanarFrameAvailable(frame PlanarFrame)
	OnError(err error)
	OnPhotoTaken(callbackID int64, data []byte)
}

// MultiListener fans every notification out to each listener in order
type MultiListener []Listener

func (m MultiListener) OnStarted() {
	for _, l := range m {
		l.OnStarted()
	}
}

func (m MultiListener) OnFrameAvailable(data []byte, rotation int) {
	for _, l := range m {
		l.OnFrameAvailable(data, rotation)
	}
}

func (m MultiListener) OnPlanarFrameAvailable(frame PlanarFrame) {
	for _, l := range m {
		l.OnPlanarFrameAvailable(frame)
	}
}

func (m MultiListener) OnError(err error) {
	for _, l := range m {
		l.OnError(err)
	}
}

func (m MultiListener) OnPhotoTaken(callbackID int64, data []byte) {
	for _, l := range m {
		l.OnPhotoTaken(callbackID, data)
	}
}

// Generation identifies the hardware control model behind a camera
type Generation string

const (
	// GenerationLegacy is the synchronous, single preview callback model
	GenerationLegacy Generation = "legacy"
	// GenerationModern is the asynchronous session and listener model
	GenerationModern Generation = "modern"
)

// DefaultStateWaitTimeout bounds how long StopCapture waits for an open
// or configure transition to settle.
const DefaultStateWaitTimeout = 5 * time.Second

// Options tunes a device instance
type Options struct {
	// DeviceRotation reports the current device rotation in degrees.
	// nil means the device is always upright.
	DeviceRotation func() int

	// StateWaitTimeout bounds StopCapture's wait for a settled state.
	StateWaitTimeout time.Duration
}

// Rotation returns the current device rotation
func (o Options) Rotation() int {
	if o.DeviceRotation == nil {
		return 0
	}
	return o.DeviceRotation()
}

// WaitTimeout returns StateWaitTimeout or its default
func (o Options) WaitTimeout() time.Duration {
	if o.StateWaitTimeout <= 0 {
		return DefaultStateWaitTimeout
	}
	return o.StateWaitTimeout
}
