package modernhal

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/synth"
)

var errAborted = errors.New("capture aborted")

// SimConfig describes one simulated camera and the faults it injects
type SimConfig struct {
	Characteristics Characteristics

	// OpenError fails OpenCamera synchronously
	OpenError error
	// OpenCallbackError fails the open through DeviceCallbacks.OnError
	OpenCallbackError error
	OpenDelay         time.Duration

	ConfigureDelay time.Duration
	// FailConfigure, when non-nil, vets every session's outputs
	FailConfigure func(outputs []Surface) error

	CaptureDelay time.Duration
	CaptureError error
}

// DefaultCharacteristics describes a typical modern back camera
func DefaultCharacteristics() Characteristics {
	yuv := []capture.Resolution{
		{Width: 1920, Height: 1080},
		{Width: 1280, Height: 720},
		{Width: 720, Height: 480},
		{Width: 640, Height: 480},
		{Width: 320, Height: 240},
	}
	jpeg := []capture.Resolution{
		{Width: 4032, Height: 3024},
		{Width: 1920, Height: 1080},
		{Width: 640, Height: 480},
	}
	var configs []StreamConfig
	for _, s := range yuv {
		configs = append(configs, StreamConfig{Format: capture.PixelFormatYUV420, Size: s})
	}
	for _, s := range jpeg {
		configs = append(configs, StreamConfig{Format: capture.PixelFormatJPEG, Size: s})
	}

	return Characteristics{
		Facing:            capture.FacingBack,
		SensorOrientation: 90,
		StreamConfigs:     configs,
		AETargetFPSRanges: []capture.FrameRateRange{
			{Min: 15, Max: 15},
			{Min: 7, Max: 30},
			{Min: 30, Max: 30},
		},
		ActiveArray:    image.Rect(0, 0, 4032, 3024),
		MaxDigitalZoom: 8,

		AFModes:  []AFMode{AFModeOff, AFModeAuto, AFModeContinuousVideo, AFModeContinuousPicture},
		AEModes:  []AEMode{AEModeOff, AEModeOn, AEModeOnAutoFlash, AEModeOnAlwaysFlash, AEModeOnAutoFlashRedEye},
		AWBModes: []AWBMode{AWBModeAuto, AWBModeIncandescent, AWBModeFluorescent, AWBModeDaylight, AWBModeCloudyDaylight, AWBModeShade},

		AELockAvailable:  true,
		AWBLockAvailable: true,

		AECompensationMin:  -12,
		AECompensationMax:  12,
		AECompensationStep: 1.0 / 6.0,

		SensitivityMin: 50,
		SensitivityMax: 3200,

		FlashAvailable: true,

		MaxRegionsAF:  1,
		MaxRegionsAE:  1,
		MaxRegionsAWB: 1,
	}
}

// Simulator is an in-memory Manager
type Simulator struct {
	mu      sync.Mutex
	order   []string
	configs map[string]SimConfig
	devices map[string]*SimDevice
}

// NewSimulator creates an empty simulator
func NewSimulator() *Simulator {
	return &Simulator{
		configs: make(map[string]SimConfig),
		devices: make(map[string]*SimDevice),
	}
}

// Add registers a simulated camera
func (s *Simulator) Add(id string, cfg SimConfig) {
	if cfg.Characteristics.StreamConfigs == nil {
		cfg.Characteristics = DefaultCharacteristics()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[id]; !exists {
		s.order = append(s.order, id)
	}
	s.configs[id] = cfg
}

func (s *Simulator) CameraIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Simulator) Characteristics(id string) (Characteristics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return Characteristics{}, fmt.Errorf("no simulated camera %q", id)
	}
	return cfg.Characteristics, nil
}

func (s *Simulator) OpenCamera(id string, cb DeviceCallbacks) error {
	s.mu.Lock()
	cfg, ok := s.configs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no simulated camera %q", id)
	}
	if cfg.OpenError != nil {
		s.mu.Unlock()
		return cfg.OpenError
	}
	if d, open := s.devices[id]; open && !d.isClosed() {
		s.mu.Unlock()
		return fmt.Errorf("simulated camera %q is busy", id)
	}
	d := &SimDevice{id: id, cfg: cfg, callbacks: cb}
	s.devices[id] = d
	s.mu.Unlock()

	go func() {
		if cfg.OpenDelay > 0 {
			time.Sleep(cfg.OpenDelay)
		}
		if cfg.OpenCallbackError != nil {
			d.Close()
			if cb.OnError != nil {
				cb.OnError(d, cfg.OpenCallbackError)
			}
			return
		}
		if cb.OnOpened != nil {
			cb.OnOpened(d)
		}
	}()
	return nil
}

func (s *Simulator) NewImageReader(width, height int, format capture.PixelFormat, maxImages int) (ImageReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid reader size %dx%d", width, height)
	}
	if maxImages < 1 {
		return nil, fmt.Errorf("reader needs at least one image, got %d", maxImages)
	}
	return NewQueueReader(capture.Resolution{Width: width, Height: height}, format, maxImages), nil
}

// Device returns the most recently opened device for id, for inspection
func (s *Simulator) Device(id string) *SimDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id]
}

// Disconnect simulates the camera going away while open
func (s *Simulator) Disconnect(id string) {
	d := s.Device(id)
	if d == nil || d.isClosed() {
		return
	}
	d.Close()
	if d.callbacks.OnDisconnected != nil {
		d.callbacks.OnDisconnected(d)
	}
}

// SimDevice is one open simulated camera
type SimDevice struct {
	id        string
	cfg       SimConfig
	callbacks DeviceCallbacks

	mu       sync.Mutex
	closed   bool
	session  *SimSession
	sessions int
}

func (d *SimDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *SimDevice) ID() string {
	return d.id
}

func (d *SimDevice) CreateCaptureRequest(t Template) (*Request, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	ch := d.cfg.Characteristics
	r := &Request{
		Template:    t,
		AFMode:      AFModeContinuousVideo,
		AEMode:      AEModeOn,
		AWBMode:     AWBModeAuto,
		CropRegion:  ch.ActiveArray,
		JPEGQuality: 95,
	}
	if t == TemplateStillCapture {
		r.AFMode = AFModeContinuousPicture
	}
	return r, nil
}

func (d *SimDevice) CreateCaptureSession(outputs []Surface, cb SessionCallbacks) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	prev := d.session
	s := &SimSession{device: d, outputs: outputs}
	d.session = s
	d.sessions++
	d.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	go func() {
		if d.cfg.ConfigureDelay > 0 {
			time.Sleep(d.cfg.ConfigureDelay)
		}
		var err error
		if d.cfg.FailConfigure != nil {
			err = d.cfg.FailConfigure(outputs)
		}
		if err == nil && d.isClosed() {
			err = ErrClosed
		}
		if err != nil {
			s.Close()
			if cb.OnConfigureFailed != nil {
				cb.OnConfigureFailed(s, err)
			}
			return
		}
		if cb.OnConfigured != nil {
			cb.OnConfigured(s)
		}
	}()
	return nil
}

func (d *SimDevice) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// Session returns the current session, or nil
func (d *SimDevice) Session() *SimSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// SessionCount reports how many sessions have been created
func (d *SimDevice) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions
}

// Closed reports whether the device has been closed
func (d *SimDevice) Closed() bool {
	return d.isClosed()
}

// SimSession renders test pattern frames for its repeating request
type SimSession struct {
	device  *SimDevice
	outputs []Surface

	mu        sync.Mutex
	closed    bool
	repeating *Request
	stop      chan struct{}
	loopDone  chan struct{}
	aborts    int
	captures  []*Request
}

func (s *SimSession) SetRepeatingRequest(r *Request) error {
	if r == nil {
		return errors.New("nil request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.repeating = r.Clone()
	if s.stop == nil {
		s.stop = make(chan struct{})
		s.loopDone = make(chan struct{})
		go s.repeatLoop(s.stop, s.loopDone)
	}
	return nil
}

func (s *SimSession) repeatLoop(stop, done chan struct{}) {
	defer close(done)

	sources := make(map[*QueueReader]*synth.I420Source)
	start := time.Now()
	seq := 0
	interval := time.Second / 30

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		s.mu.Lock()
		req := s.repeating
		s.mu.Unlock()
		if req == nil {
			return
		}

		if fps := req.AETargetFPSRange.Max; fps > 0 {
			interval = time.Second / time.Duration(fps)
		}
		seq++
		for _, target := range req.Targets {
			r, ok := target.(*QueueReader)
			if !ok || r.format != capture.PixelFormatYUV420 {
				continue
			}
			src := sources[r]
			if src == nil {
				src = synth.NewI420Source(r.size.Width, r.size.Height, s.device.id)
				sources[r] = src
			}
			buf := make([]byte, src.Size())
			src.Fill(buf, seq)
			r.Push(NewI420Image(buf, r.size, time.Since(start)))
		}
		timer.Reset(interval)
	}
}

func (s *SimSession) Capture(r *Request, cb CaptureCallbacks) error {
	if r == nil {
		return errors.New("nil request")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	req := r.Clone()
	s.captures = append(s.captures, req)
	aborts := s.aborts
	s.mu.Unlock()

	cfg := s.device.cfg
	go func() {
		if cfg.CaptureDelay > 0 {
			time.Sleep(cfg.CaptureDelay)
		}

		s.mu.Lock()
		aborted := s.closed || s.aborts != aborts
		s.mu.Unlock()

		switch {
		case aborted:
			if cb.OnFailed != nil {
				cb.OnFailed(req, errAborted)
			}
			return
		case cfg.CaptureError != nil:
			if cb.OnFailed != nil {
				cb.OnFailed(req, cfg.CaptureError)
			}
			return
		}

		for _, target := range req.Targets {
			reader, ok := target.(*QueueReader)
			if !ok || reader.format != capture.PixelFormatJPEG {
				continue
			}
			img := synth.Pattern(reader.size.Width, reader.size.Height, 0, s.device.id)
			data, err := synth.EncodeJPEG(img, 0, 0, req.JPEGQuality)
			if err != nil {
				if cb.OnFailed != nil {
					cb.OnFailed(req, err)
				}
				return
			}
			reader.Push(NewJPEGImage(data, reader.size, 0))
		}
		if cb.OnCompleted != nil {
			cb.OnCompleted(req)
		}
	}()
	return nil
}

func (s *SimSession) StopRepeating() error {
	s.mu.Lock()
	stop, done := s.stop, s.loopDone
	s.stop, s.loopDone = nil, nil
	s.repeating = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *SimSession) AbortCaptures() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.aborts++
	return nil
}

func (s *SimSession) Close() {
	s.StopRepeating()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Repeating returns a copy of the current repeating request, or nil
func (s *SimSession) Repeating() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repeating == nil {
		return nil
	}
	return s.repeating.Clone()
}

// Captures returns copies of the one-shot requests submitted so far
func (s *SimSession) Captures() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.captures))
	for i, r := range s.captures {
		out[i] = r.Clone()
	}
	return out
}
