// Package legacyhal defines the synchronous camera control API: one
// parameter blob read and written as a whole, one preview callback fed
// from caller-supplied buffers, and a blocking-style picture request.
package legacyhal

import (
	"image"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

// Focus modes
const (
	FocusModeAuto              = "auto"
	FocusModeContinuousVideo   = "continuous-video"
	FocusModeContinuousPicture = "continuous-picture"
	FocusModeEDOF              = "edof"
	FocusModeFixed             = "fixed"
	FocusModeInfinity          = "infinity"
	FocusModeMacro             = "macro"
)

// White balance modes. Presets use the capture.WhiteBalancePreset names.
const (
	WhiteBalanceAuto = "auto"
)

// Flash modes
const (
	FlashModeOff    = "off"
	FlashModeAuto   = "auto"
	FlashModeOn     = "on"
	FlashModeRedEye = "red-eye"
	FlashModeTorch  = "torch"
)

// Info is fixed per camera
type Info struct {
	Facing      capture.Facing
	Orientation int
}

// Area is a weighted metering rectangle in [-1000, 1000] coordinates
type Area struct {
	Rect   image.Rectangle
	Weight int
}

// Parameters is the full camera configuration. Callers read a copy,
// modify it and write it back with SetParameters.
type Parameters struct {
	PreviewSizes     []capture.Resolution
	PreviewFPSRanges []capture.FrameRateRange
	PreviewFormats   []capture.PixelFormat
	PictureSizes     []capture.Resolution

	PreviewSize     capture.Resolution
	PreviewFPSRange capture.FrameRateRange
	PreviewFormat   capture.PixelFormat
	PictureSize     capture.Resolution
	JPEGRotation    int

	ZoomSupported bool
	// ZoomRatios are zoom factors multiplied by 100, ascending, first 100
	ZoomRatios []int
	Zoom       int

	FocusModes []string
	FocusMode  string

	WhiteBalanceModes []string
	WhiteBalance      string

	AutoWhiteBalanceLockSupported bool
	AutoWhiteBalanceLock          bool
	AutoExposureLockSupported     bool
	AutoExposureLock              bool

	MinExposureCompensation  int
	MaxExposureCompensation  int
	ExposureCompensationStep float64
	ExposureCompensation     int

	ISOValues []int
	ISO       int

	FlashModes []string
	FlashMode  string

	VideoStabilizationSupported bool
	VideoStabilization          bool

	MaxNumFocusAreas    int
	MaxNumMeteringAreas int
	FocusAreas          []Area
	MeteringAreas       []Area
}

// Clone returns a deep copy so callers can restore a snapshot later
func (p Parameters) Clone() Parameters {
	c := p
	c.PreviewSizes = append([]capture.Resolution(nil), p.PreviewSizes...)
	c.PreviewFPSRanges = append([]capture.FrameRateRange(nil), p.PreviewFPSRanges...)
	c.PreviewFormats = append([]capture.PixelFormat(nil), p.PreviewFormats...)
	c.PictureSizes = append([]capture.Resolution(nil), p.PictureSizes...)
	c.ZoomRatios = append([]int(nil), p.ZoomRatios...)
	c.FocusModes = append([]string(nil), p.FocusModes...)
	c.WhiteBalanceModes = append([]string(nil), p.WhiteBalanceModes...)
	c.ISOValues = append([]int(nil), p.ISOValues...)
	c.FlashModes = append([]string(nil), p.FlashModes...)
	c.FocusAreas = append([]Area(nil), p.FocusAreas...)
	c.MeteringAreas = append([]Area(nil), p.MeteringAreas...)
	return c
}

// Supports reports whether mode is listed in modes
func Supports(modes []string, mode string) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// PreviewCallback receives a filled buffer. The buffer belongs to the
// callee until it is handed back with AddCallbackBuffer.
type PreviewCallback func(data []byte)

// PictureCallback receives the encoded JPEG of a TakePicture request,
// or a non-nil error. It is called exactly once per accepted request.
type PictureCallback func(jpeg []byte, err error)

// AutoFocusCallback reports the outcome of a one-shot focus sweep
type AutoFocusCallback func(success bool)

// Camera is an open legacy camera. Methods are safe to call from one
// control goroutine; callbacks arrive on a HAL goroutine.
type Camera interface {
	Info() Info
	Parameters() (Parameters, error)
	SetParameters(p Parameters) error

	// SetPreviewCallbackWithBuffer installs cb; nil removes it and
	// discards queued buffers. Frames arriving while no buffer is queued
	// are dropped by the HAL.
	SetPreviewCallbackWithBuffer(cb PreviewCallback)
	AddCallbackBuffer(buf []byte)

	StartPreview() error
	StopPreview() error

	AutoFocus(cb AutoFocusCallback) error

	// TakePicture stops the preview and delivers one JPEG through cb.
	// The preview stays stopped until StartPreview is called again.
	TakePicture(cb PictureCallback) error

	Release() error
}

// Opener opens cameras by id
type Opener interface {
	Open(id string) (Camera, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(id string) (Camera, error)

func (f OpenerFunc) Open(id string) (Camera, error) {
	return f(id)
}
