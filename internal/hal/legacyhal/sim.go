package legacyhal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/logger"
	"github.com/bryanchriswhite/videocapture/internal/synth"
)

// ErrReleased is returned by calls on a released camera
var ErrReleased = errors.New("camera released")

// SimConfig describes one simulated camera and the faults it injects
type SimConfig struct {
	Info       Info
	Parameters Parameters

	// FrameSize, when positive, overrides the byte length of delivered
	// preview frames to mimic hardware that ignores the preview format.
	FrameSize int

	OpenError  error
	StartError error
	// RejectParameters, when non-nil, vets every SetParameters call
	RejectParameters func(Parameters) error
	// PictureError fails pictures asynchronously through the callback
	PictureError error
	// PictureDelay delays picture delivery
	PictureDelay time.Duration
}

// DefaultParameters describes a typical phone sensor of the legacy era
func DefaultParameters() Parameters {
	return Parameters{
		PreviewSizes: []capture.Resolution{
			{Width: 1920, Height: 1080},
			{Width: 1280, Height: 720},
			{Width: 960, Height: 540},
			{Width: 800, Height: 600},
			{Width: 720, Height: 480},
			{Width: 640, Height: 480},
			{Width: 352, Height: 288},
			{Width: 320, Height: 240},
		},
		PreviewFPSRanges: []capture.FrameRateRange{
			{Min: 15000, Max: 15000},
			{Min: 7000, Max: 30000},
			{Min: 30000, Max: 30000},
		},
		PreviewFormats: []capture.PixelFormat{capture.PixelFormatYUV420, capture.PixelFormatNV21},
		PictureSizes: []capture.Resolution{
			{Width: 3264, Height: 2448},
			{Width: 2048, Height: 1536},
			{Width: 1280, Height: 960},
			{Width: 640, Height: 480},
		},
		PreviewSize:     capture.Resolution{Width: 640, Height: 480},
		PreviewFPSRange: capture.FrameRateRange{Min: 7000, Max: 30000},
		PreviewFormat:   capture.PixelFormatNV21,
		PictureSize:     capture.Resolution{Width: 3264, Height: 2448},

		ZoomSupported: true,
		ZoomRatios:    []int{100, 125, 150, 175, 200, 250, 300, 400},

		FocusModes: []string{FocusModeAuto, FocusModeContinuousVideo, FocusModeContinuousPicture, FocusModeInfinity, FocusModeMacro},
		FocusMode:  FocusModeAuto,

		WhiteBalanceModes: []string{
			WhiteBalanceAuto,
			string(capture.WhiteBalanceIncandescent),
			string(capture.WhiteBalanceFluorescent),
			string(capture.WhiteBalanceDaylight),
			string(capture.WhiteBalanceCloudyDaylight),
		},
		WhiteBalance: WhiteBalanceAuto,

		AutoWhiteBalanceLockSupported: true,
		AutoExposureLockSupported:     true,

		MinExposureCompensation:  -6,
		MaxExposureCompensation:  6,
		ExposureCompensationStep: 1.0 / 3.0,

		ISOValues: []int{100, 200, 400, 800},

		FlashModes: []string{FlashModeOff, FlashModeAuto, FlashModeOn, FlashModeRedEye, FlashModeTorch},
		FlashMode:  FlashModeOff,

		VideoStabilizationSupported: true,

		MaxNumFocusAreas:    1,
		MaxNumMeteringAreas: 1,
	}
}

// Simulator is an in-memory legacy HAL. It renders a test pattern into
// queued preview buffers at the configured frame rate.
type Simulator struct {
	mu      sync.Mutex
	configs map[string]SimConfig
	cameras map[string]*SimCamera
}

// NewSimulator creates an empty simulator
func NewSimulator() *Simulator {
	return &Simulator{
		configs: make(map[string]SimConfig),
		cameras: make(map[string]*SimCamera),
	}
}

// Add registers a simulated camera
func (s *Simulator) Add(id string, cfg SimConfig) {
	if cfg.Parameters.PreviewSizes == nil {
		cfg.Parameters = DefaultParameters()
	}
	s.mu.Lock()
	s.configs[id] = cfg
	s.mu.Unlock()
}

// Open implements Opener
func (s *Simulator) Open(id string) (Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, fmt.Errorf("no simulated camera %q", id)
	}
	if cfg.OpenError != nil {
		return nil, cfg.OpenError
	}
	if c, open := s.cameras[id]; open && !c.isReleased() {
		return nil, fmt.Errorf("simulated camera %q is busy", id)
	}

	c := &SimCamera{id: id, cfg: cfg, params: cfg.Parameters.Clone()}
	s.cameras[id] = c
	return c, nil
}

// Camera returns the most recently opened instance of id, for inspection
func (s *Simulator) Camera(id string) *SimCamera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameras[id]
}

// SimCamera is one open simulated camera
type SimCamera struct {
	id  string
	cfg SimConfig

	mu         sync.Mutex
	params     Parameters
	callback   PreviewCallback
	buffers    [][]byte
	previewing bool
	released   bool
	stop       chan struct{}
	loopDone   chan struct{}
	seq        int

	framesDelivered int
	framesSkipped   int
	setCalls        int
}

func (c *SimCamera) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *SimCamera) Info() Info {
	return c.cfg.Info
}

func (c *SimCamera) Parameters() (Parameters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return Parameters{}, ErrReleased
	}
	return c.params.Clone(), nil
}

func (c *SimCamera) SetParameters(p Parameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	c.setCalls++
	if c.cfg.RejectParameters != nil {
		if err := c.cfg.RejectParameters(p); err != nil {
			return err
		}
	}
	c.params = p.Clone()
	return nil
}

func (c *SimCamera) SetPreviewCallbackWithBuffer(cb PreviewCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	if cb == nil {
		c.buffers = nil
	}
}

func (c *SimCamera) AddCallbackBuffer(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || buf == nil {
		return
	}
	c.buffers = append(c.buffers, buf)
}

func (c *SimCamera) StartPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if c.cfg.StartError != nil {
		return c.cfg.StartError
	}
	if c.previewing {
		return nil
	}
	c.previewing = true
	c.stop = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.previewLoop(c.params.PreviewSize, c.params.PreviewFPSRange, c.stop, c.loopDone)
	return nil
}

func (c *SimCamera) StopPreview() error {
	c.mu.Lock()
	if !c.previewing {
		c.mu.Unlock()
		return nil
	}
	c.previewing = false
	close(c.stop)
	done := c.loopDone
	c.mu.Unlock()

	<-done
	return nil
}

func (c *SimCamera) previewLoop(size capture.Resolution, fps capture.FrameRateRange, stop, done chan struct{}) {
	defer close(done)

	rate := fps.Max / 1000
	if rate <= 0 {
		rate = 30
	}
	src := synth.NewI420Source(size.Width, size.Height, c.id)
	frameSize := src.Size()
	if c.cfg.FrameSize > 0 {
		frameSize = c.cfg.FrameSize
	}

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		cb := c.callback
		if cb == nil || len(c.buffers) == 0 {
			c.framesSkipped++
			c.mu.Unlock()
			continue
		}
		buf := c.buffers[0]
		c.buffers = c.buffers[1:]
		c.seq++
		seq := c.seq
		c.framesDelivered++
		c.mu.Unlock()

		n := frameSize
		if n > len(buf) {
			n = len(buf)
		}
		if frameSize == src.Size() {
			src.Fill(buf, seq)
		}
		cb(buf[:n])
	}
}

func (c *SimCamera) AutoFocus(cb AutoFocusCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if cb != nil {
		go cb(true)
	}
	return nil
}

func (c *SimCamera) TakePicture(cb PictureCallback) error {
	if cb == nil {
		return fmt.Errorf("nil picture callback")
	}
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrReleased
	}
	size := c.params.PictureSize
	seq := c.seq
	c.mu.Unlock()

	// The legacy API halts preview for the duration of a still capture
	if err := c.StopPreview(); err != nil {
		return err
	}

	go func() {
		if c.cfg.PictureDelay > 0 {
			time.Sleep(c.cfg.PictureDelay)
		}
		if c.cfg.PictureError != nil {
			cb(nil, c.cfg.PictureError)
			return
		}
		img := synth.Pattern(size.Width, size.Height, seq, c.id)
		data, err := synth.EncodeJPEG(img, 0, 0, 90)
		cb(data, err)
	}()
	return nil
}

func (c *SimCamera) Release() error {
	if err := c.StopPreview(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.callback = nil
	c.buffers = nil
	logger.WithDevice("legacy-sim", c.id).Debug().
		Int("frames", c.framesDelivered).
		Int("skipped", c.framesSkipped).
		Msg("Simulated camera released")
	return nil
}

// Stats reports delivered frames, frames skipped for lack of a queued
// buffer, the current queue depth and the SetParameters call count.
func (c *SimCamera) Stats() (delivered, skipped, queued, setCalls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesDelivered, c.framesSkipped, len(c.buffers), c.setCalls
}

// Previewing reports whether the preview loop is running
func (c *SimCamera) Previewing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previewing
}

// CurrentParameters returns the parameters last accepted
func (c *SimCamera) CurrentParameters() Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.Clone()
}
