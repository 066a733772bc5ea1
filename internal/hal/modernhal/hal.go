// Package modernhal defines the asynchronous camera control API. Opening
// a camera, configuring a session and capturing a request all complete
// through callbacks on HAL goroutines. Frames are delivered to image
// readers whose surfaces are targets of capture requests.
package modernhal

import (
	"errors"
	"image"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

var (
	// ErrNoImage is returned by AcquireLatestImage when nothing is queued
	ErrNoImage = errors.New("no image available")
	// ErrClosed is returned by calls on a closed device, session or reader
	ErrClosed = errors.New("closed")
	// ErrDisconnected is reported when a camera goes away while open
	ErrDisconnected = errors.New("camera disconnected")
)

// Template selects the defaults of a new capture request
type Template int

const (
	// TemplatePreview is continuous streaming that favours frame rate
	TemplatePreview Template = iota + 1
	// TemplateStillCapture is a single high quality capture
	TemplateStillCapture
)

func (t Template) String() string {
	switch t {
	case TemplatePreview:
		return "preview"
	case TemplateStillCapture:
		return "still-capture"
	default:
		return "unknown"
	}
}

type AFMode int

const (
	AFModeOff AFMode = iota
	AFModeAuto
	AFModeMacro
	AFModeContinuousVideo
	AFModeContinuousPicture
	AFModeEDOF
)

type AFTrigger int

const (
	AFTriggerIdle AFTrigger = iota
	AFTriggerStart
	AFTriggerCancel
)

type AEMode int

const (
	AEModeOff AEMode = iota
	AEModeOn
	AEModeOnAutoFlash
	AEModeOnAlwaysFlash
	AEModeOnAutoFlashRedEye
)

type AWBMode int

const (
	AWBModeOff AWBMode = iota
	AWBModeAuto
	AWBModeIncandescent
	AWBModeFluorescent
	AWBModeWarmFluorescent
	AWBModeDaylight
	AWBModeCloudyDaylight
	AWBModeTwilight
	AWBModeShade
)

type FlashMode int

const (
	FlashModeOff FlashMode = iota
	FlashModeSingle
	FlashModeTorch
)

// MeteringRectangle is a weighted region in active array coordinates
type MeteringRectangle struct {
	Rect   image.Rectangle
	Weight int
}

// Request is one set of capture controls and the surfaces it renders to
type Request struct {
	Template Template
	Targets  []Surface

	AFMode    AFMode
	AFTrigger AFTrigger
	AFRegions []MeteringRectangle

	AEMode         AEMode
	AELock         bool
	AERegions      []MeteringRectangle
	AECompensation int
	// AETargetFPSRange is in frames per second
	AETargetFPSRange capture.FrameRateRange
	// Sensitivity is the ISO used while AEMode is off
	Sensitivity int

	AWBMode    AWBMode
	AWBLock    bool
	AWBRegions []MeteringRectangle

	FlashMode  FlashMode
	CropRegion image.Rectangle

	JPEGOrientation int
	JPEGQuality     int
}

// AddTarget appends s to the output surfaces
func (r *Request) AddTarget(s Surface) {
	r.Targets = append(r.Targets, s)
}

// Clone copies r, including its slices
func (r *Request) Clone() *Request {
	c := *r
	c.Targets = append([]Surface(nil), r.Targets...)
	c.AFRegions = append([]MeteringRectangle(nil), r.AFRegions...)
	c.AERegions = append([]MeteringRectangle(nil), r.AERegions...)
	c.AWBRegions = append([]MeteringRectangle(nil), r.AWBRegions...)
	return &c
}

// StreamConfig is one output the camera can produce
type StreamConfig struct {
	Format capture.PixelFormat
	Size   capture.Resolution
}

// Characteristics are the static properties of a camera
type Characteristics struct {
	Facing            capture.Facing
	SensorOrientation int
	StreamConfigs     []StreamConfig
	// AETargetFPSRanges are in frames per second, not fps*1000
	AETargetFPSRanges []capture.FrameRateRange
	ActiveArray       image.Rectangle
	MaxDigitalZoom    float64

	AFModes  []AFMode
	AEModes  []AEMode
	AWBModes []AWBMode

	AELockAvailable  bool
	AWBLockAvailable bool

	AECompensationMin  int
	AECompensationMax  int
	AECompensationStep float64

	SensitivityMin int
	SensitivityMax int

	FlashAvailable bool

	MaxRegionsAF  int
	MaxRegionsAE  int
	MaxRegionsAWB int
}

// OutputSizes lists the sizes available for format
func (c Characteristics) OutputSizes(format capture.PixelFormat) []capture.Resolution {
	var sizes []capture.Resolution
	for _, sc := range c.StreamConfigs {
		if sc.Format == format {
			sizes = append(sizes, sc.Size)
		}
	}
	return sizes
}

func (c Characteristics) HasAFMode(m AFMode) bool {
	for _, v := range c.AFModes {
		if v == m {
			return true
		}
	}
	return false
}

func (c Characteristics) HasAEMode(m AEMode) bool {
	for _, v := range c.AEModes {
		if v == m {
			return true
		}
	}
	return false
}

func (c Characteristics) HasAWBMode(m AWBMode) bool {
	for _, v := range c.AWBModes {
		if v == m {
			return true
		}
	}
	return false
}

// Plane is one plane of an image
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Image is a frame acquired from an ImageReader. Plane data is only
// valid until Close.
type Image interface {
	Format() capture.PixelFormat
	Width() int
	Height() int
	Timestamp() time.Duration
	Planes() []Plane
	Close()
}

// Surface is an opaque render target
type Surface interface {
	Size() capture.Resolution
	Format() capture.PixelFormat
}

// ImageReader queues up to a fixed number of images rendered into its
// surface. Images arriving while the queue is full are dropped.
type ImageReader interface {
	Surface() Surface
	// SetOnImageAvailable installs a callback fired on a HAL goroutine
	// whenever an image is queued. It must not block.
	SetOnImageAvailable(cb func())
	// AcquireLatestImage returns the newest queued image and discards
	// older ones.
	AcquireLatestImage() (Image, error)
	Close()
}

// DeviceCallbacks report the outcome of OpenCamera and later device events
type DeviceCallbacks struct {
	OnOpened       func(d Device)
	OnDisconnected func(d Device)
	OnError        func(d Device, err error)
}

// SessionCallbacks report the outcome of CreateCaptureSession
type SessionCallbacks struct {
	OnConfigured      func(s Session)
	OnConfigureFailed func(s Session, err error)
}

// CaptureCallbacks report the outcome of a single capture
type CaptureCallbacks struct {
	OnCompleted func(r *Request)
	OnFailed    func(r *Request, err error)
}

// Manager enumerates and opens cameras
type Manager interface {
	CameraIDs() []string
	Characteristics(id string) (Characteristics, error)
	// OpenCamera starts opening id; exactly one of OnOpened or OnError
	// (or OnDisconnected) follows unless an error is returned.
	OpenCamera(id string, cb DeviceCallbacks) error
	NewImageReader(width, height int, format capture.PixelFormat, maxImages int) (ImageReader, error)
}

// Device is an open camera
type Device interface {
	ID() string
	CreateCaptureRequest(t Template) (*Request, error)
	// CreateCaptureSession replaces any existing session of the device;
	// the old session is closed first.
	CreateCaptureSession(outputs []Surface, cb SessionCallbacks) error
	Close()
}

// Session streams requests to its configured outputs
type Session interface {
	SetRepeatingRequest(r *Request) error
	Capture(r *Request, cb CaptureCallbacks) error
	StopRepeating() error
	// AbortCaptures fails every in-flight capture as soon as possible
	AbortCaptures() error
	Close()
}
