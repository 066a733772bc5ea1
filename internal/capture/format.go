package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// PixelFormat identifies the memory layout of delivered frames
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatYUV420              // planar 4:2:0, Y then U then V
	PixelFormatNV21                // Y plane followed by interleaved VU
	PixelFormatJPEG
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatYUV420:
		return "yuv420"
	case PixelFormatNV21:
		return "nv21"
	case PixelFormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// ParsePixelFormat is the inverse of String. Unrecognized names map to
// PixelFormatUnknown.
func ParsePixelFormat(s string) PixelFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yuv420", "i420", "yv12":
		return PixelFormatYUV420
	case "nv21":
		return PixelFormatNV21
	case "jpeg", "jpg", "mjpeg":
		return PixelFormatJPEG
	default:
		return PixelFormatUnknown
	}
}

// BitsPerPixel returns the average storage cost of one pixel, or 0 for
// compressed and unknown formats.
func (p PixelFormat) BitsPerPixel() int {
	switch p {
	case PixelFormatYUV420, PixelFormatNV21:
		return 12
	default:
		return 0
	}
}

// MarshalText lets pixel formats appear as names in JSON and YAML
func (p PixelFormat) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a pixel format name
func (p *PixelFormat) UnmarshalText(text []byte) error {
	*p = ParsePixelFormat(string(text))
	return nil
}

// Format is the negotiated capture format of an allocated device.
// It is fixed by Allocate and never changes until the next Allocate.
type Format struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	FrameRate   int         `json:"frame_rate"`
	PixelFormat PixelFormat `json:"pixel_format"`
}

// FrameSize is the byte size of one uncompressed frame in this format
func (f Format) FrameSize() int {
	return f.Width * f.Height * f.PixelFormat.BitsPerPixel() / 8
}

// IsZero reports whether the format was never negotiated
func (f Format) IsZero() bool {
	return f.Width == 0 && f.Height == 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d@%d %s", f.Width, f.Height, f.FrameRate, f.PixelFormat)
}

// Resolution is a frame size in pixels
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Pixels returns the pixel count
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// ParseResolution parses strings of the form "1280x720"
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height %q: %w", parts[1], err)
	}
	if w <= 0 || h <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: dimensions must be positive", s)
	}
	return Resolution{Width: w, Height: h}, nil
}

// FrameRateRange is a hardware-declared [Min, Max] frame rate interval
// in frames per second multiplied by 1000.
type FrameRateRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r FrameRateRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}

// Facing describes where a camera points relative to the device screen
type Facing int

const (
	FacingUnknown Facing = iota
	FacingFront
	FacingBack
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	case FacingExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseFacing is the inverse of Facing.String
func ParseFacing(s string) Facing {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "user":
		return FacingFront
	case "back", "rear", "environment":
		return FacingBack
	case "external":
		return FacingExternal
	default:
		return FacingUnknown
	}
}

// MarshalText lets facings appear as names in JSON
func (f Facing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText parses a facing name
func (f *Facing) UnmarshalText(text []byte) error {
	*f = ParseFacing(string(text))
	return nil
}
