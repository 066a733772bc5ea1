package capture

// MeteringMode is the caller-facing mode of focus, exposure and white balance
type MeteringMode string

const (
	MeteringModeNone       MeteringMode = "none"
	MeteringModeManual     MeteringMode = "manual"
	MeteringModeSingleShot MeteringMode = "single-shot"
	MeteringModeContinuous MeteringMode = "continuous"
)

// FillLightMode selects how the flash behaves for a still capture
type FillLightMode string

const (
	FillLightOff   FillLightMode = "off"
	FillLightAuto  FillLightMode = "auto"
	FillLightFlash FillLightMode = "flash"
)

// FlashMode is the resolved flash behaviour handed to the hardware
type FlashMode string

const (
	FlashOff        FlashMode = "off"
	FlashAuto       FlashMode = "auto"
	FlashAutoRedEye FlashMode = "auto-red-eye"
	FlashOn         FlashMode = "on"
	FlashOnRedEye   FlashMode = "on-red-eye"
	FlashTorch      FlashMode = "torch"
)

// Point is a normalized position inside the current field of view,
// both coordinates in [0, 1]
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Clamp forces both coordinates into [0, 1]
func (p Point) Clamp() Point {
	return Point{X: clamp01(p.X), Y: clamp01(p.Y)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Range describes a numeric capability
type Range struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
	Step    float64 `json:"step"`
}

// PhotoCapabilities is a read-only snapshot built from the current
// hardware parameters. Backends rebuild it on every request.
type PhotoCapabilities struct {
	ISO                  Range `json:"iso"`
	Width                Range `json:"width"`
	Height               Range `json:"height"`
	Zoom                 Range `json:"zoom"`
	ExposureCompensation Range `json:"exposure_compensation"`
	ColorTemperature     Range `json:"color_temperature"`

	FocusModes        []MeteringMode `json:"focus_modes"`
	FocusMode         MeteringMode   `json:"focus_mode"`
	ExposureModes     []MeteringMode `json:"exposure_modes"`
	ExposureMode      MeteringMode   `json:"exposure_mode"`
	WhiteBalanceModes []MeteringMode `json:"white_balance_modes"`
	WhiteBalanceMode  MeteringMode   `json:"white_balance_mode"`

	FillLightModes  []FillLightMode `json:"fill_light_modes"`
	SupportsTorch   bool            `json:"supports_torch"`
	Torch           bool            `json:"torch"`
	RedEyeReduction bool            `json:"red_eye_reduction"`
}

// PhotoOptions is a partial update of the photo settings.
// Zero values and nil pointers leave the matching setting unchanged.
type PhotoOptions struct {
	Zoom             float64      `json:"zoom,omitempty" mapstructure:"zoom" yaml:"zoom,omitempty"`
	FocusMode        MeteringMode `json:"focus_mode,omitempty" mapstructure:"focus_mode" yaml:"focus_mode,omitempty"`
	ExposureMode     MeteringMode `json:"exposure_mode,omitempty" mapstructure:"exposure_mode" yaml:"exposure_mode,omitempty"`
	WhiteBalanceMode MeteringMode `json:"white_balance_mode,omitempty" mapstructure:"white_balance_mode" yaml:"white_balance_mode,omitempty"`

	PointOfInterest *Point `json:"point_of_interest,omitempty" mapstructure:"point_of_interest" yaml:"point_of_interest,omitempty"`

	ExposureCompensation *float64 `json:"exposure_compensation,omitempty" mapstructure:"exposure_compensation" yaml:"exposure_compensation,omitempty"`
	ISO                  *float64 `json:"iso,omitempty" mapstructure:"iso" yaml:"iso,omitempty"`
	ColorTemperature     *float64 `json:"color_temperature,omitempty" mapstructure:"color_temperature" yaml:"color_temperature,omitempty"`

	FillLightMode   FillLightMode `json:"fill_light_mode,omitempty" mapstructure:"fill_light_mode" yaml:"fill_light_mode,omitempty"`
	Torch           *bool         `json:"torch,omitempty" mapstructure:"torch" yaml:"torch,omitempty"`
	RedEyeReduction *bool         `json:"red_eye_reduction,omitempty" mapstructure:"red_eye_reduction" yaml:"red_eye_reduction,omitempty"`

	Width  int `json:"width,omitempty" mapstructure:"width" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" mapstructure:"height" yaml:"height,omitempty"`
}

// Settings is the current photo configuration held by a backend.
// It lives as long as the device and is never persisted.
type Settings struct {
	Zoom             float64
	FocusMode        MeteringMode
	ExposureMode     MeteringMode
	WhiteBalanceMode MeteringMode

	// PointOfInterest is expressed in the coordinate space of the
	// currently cropped field of view; nil means whole-frame metering.
	PointOfInterest *Point

	ExposureCompensation    float64
	HasExposureCompensation bool
	ISO                     int
	ColorTemperature        int

	FillLightMode   FillLightMode
	Torch           bool
	RedEyeReduction bool

	PhotoWidth  int
	PhotoHeight int
}

// DefaultSettings is the configuration of a freshly allocated device
func DefaultSettings() Settings {
	return Settings{
		Zoom:             1,
		FocusMode:        MeteringModeContinuous,
		ExposureMode:     MeteringModeContinuous,
		WhiteBalanceMode: MeteringModeContinuous,
		FillLightMode:    FillLightOff,
	}
}

// Changes records which groups of settings a Merge touched, so backends
// only push what moved to the hardware.
type Changes struct {
	Zoom     bool
	Metering bool
	Exposure bool
	Flash    bool
	Size     bool
}

// Any reports whether anything changed
func (c Changes) Any() bool {
	return c.Zoom || c.Metering || c.Exposure || c.Flash || c.Size
}

// Merge folds opts into s.
//
// A manual focus, exposure or white balance mode clears the point of
// interest unless opts carries a new one. Torch and red-eye flags are
// sticky; FlashMode resolves them against the fill light mode.
func (s *Settings) Merge(opts PhotoOptions) Changes {
	var ch Changes

	if opts.Zoom > 0 && opts.Zoom != s.Zoom {
		s.Zoom = opts.Zoom
		ch.Zoom = true
	}

	manual := false
	if opts.FocusMode != "" {
		s.FocusMode = opts.FocusMode
		manual = manual || opts.FocusMode == MeteringModeManual
		ch.Metering = true
	}
	if opts.ExposureMode != "" {
		s.ExposureMode = opts.ExposureMode
		manual = manual || opts.ExposureMode == MeteringModeManual
		ch.Exposure = true
	}
	if opts.WhiteBalanceMode != "" {
		s.WhiteBalanceMode = opts.WhiteBalanceMode
		manual = manual || opts.WhiteBalanceMode == MeteringModeManual
		ch.Exposure = true
	}

	switch {
	case opts.PointOfInterest != nil:
		p := opts.PointOfInterest.Clamp()
		s.PointOfInterest = &p
		ch.Metering = true
	case manual && s.PointOfInterest != nil:
		s.PointOfInterest = nil
		ch.Metering = true
	}

	if opts.ExposureCompensation != nil {
		s.ExposureCompensation = *opts.ExposureCompensation
		s.HasExposureCompensation = true
		ch.Exposure = true
	}
	if opts.ISO != nil && *opts.ISO > 0 {
		s.ISO = int(*opts.ISO + 0.5)
		ch.Exposure = true
	}
	if opts.ColorTemperature != nil && *opts.ColorTemperature > 0 {
		s.ColorTemperature = int(*opts.ColorTemperature + 0.5)
		ch.Exposure = true
	}

	if opts.FillLightMode != "" {
		s.FillLightMode = opts.FillLightMode
		ch.Flash = true
	}
	if opts.Torch != nil {
		s.Torch = *opts.Torch
		ch.Flash = true
	}
	if opts.RedEyeReduction != nil {
		s.RedEyeReduction = *opts.RedEyeReduction
		ch.Flash = true
	}

	if opts.Width > 0 {
		s.PhotoWidth = opts.Width
		ch.Size = true
	}
	if opts.Height > 0 {
		s.PhotoHeight = opts.Height
		ch.Size = true
	}

	return ch
}

// FlashMode resolves torch, fill light and red-eye reduction into a
// single hardware flash mode. Torch wins over any fill light mode.
func (s Settings) FlashMode() FlashMode {
	if s.Torch {
		return FlashTorch
	}
	switch s.FillLightMode {
	case FillLightAuto:
		if s.RedEyeReduction {
			return FlashAutoRedEye
		}
		return FlashAuto
	case FillLightFlash:
		if s.RedEyeReduction {
			return FlashOnRedEye
		}
		return FlashOn
	default:
		return FlashOff
	}
}
