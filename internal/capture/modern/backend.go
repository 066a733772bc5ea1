// Package modern implements capture.Device on the asynchronous session
// camera API.
package modern

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

type cameraState int

const (
	stateClosed cameraState = iota
	stateOpening
	stateConfiguring
	stateStreaming
)

func (s cameraState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateConfiguring:
		return "configuring"
	case stateStreaming:
		return "streaming"
	default:
		return "closed"
	}
}

// Backend drives one modern camera. The camera state decides which
// control calls are legal; every transition happens under mu and wakes
// waiters on stateChanged.
type Backend struct {
	desc     capture.Descriptor
	manager  modernhal.Manager
	listener capture.Listener
	opts     capture.Options
	log      *zerolog.Logger

	// Fixed by Allocate
	allocated bool
	chars     modernhal.Characteristics
	builder   requestBuilder
	format    capture.Format

	mu           sync.Mutex
	stateChanged *sync.Cond
	state        cameraState
	// generation increments on every start and teardown; goroutines of an
	// older generation drop their results.
	generation int
	done       chan struct{}
	device     modernhal.Device
	session    modernhal.Session
	preview    *frameReader
	request    *modernhal.Request
	settings   capture.Settings

	photoMu      sync.Mutex
	photoPending bool
	photoID      int64
}

// New creates an unallocated backend for desc
func New(desc capture.Descriptor, manager modernhal.Manager, listener capture.Listener, opts capture.Options) *Backend {
	b := &Backend{
		desc:     desc,
		manager:  manager,
		listener: listener,
		opts:     opts,
		log:      logger.WithDevice("modern-backend", desc.ID),
		settings: capture.DefaultSettings(),
	}
	b.stateChanged = sync.NewCond(&b.mu)
	return b
}

// Factory returns a registry factory for cameras of manager
func Factory(manager modernhal.Manager) capture.Factory {
	return func(desc capture.Descriptor, listener capture.Listener, opts capture.Options) (capture.Device, error) {
		if manager == nil {
			return nil, errors.New("modern backend requires a camera manager")
		}
		return New(desc, manager, listener, opts), nil
	}
}

func (b *Backend) ID() string {
	return b.desc.ID
}

func (b *Backend) Format() capture.Format {
	return b.format
}

// Allocate negotiates the preview format against the camera's declared
// stream configurations. The camera is not opened until StartCapture.
func (b *Backend) Allocate(width, height, frameRate int) error {
	b.mu.Lock()
	st := b.state
	b.mu.Unlock()
	if st != stateClosed {
		return fmt.Errorf("device %s is %s", b.desc.ID, st)
	}

	chars, err := b.manager.Characteristics(b.desc.ID)
	if err != nil {
		return fmt.Errorf("%w %s: %w", capture.ErrOpenFailed, b.desc.ID, err)
	}

	size, ok := capture.ClosestResolution(chars.OutputSizes(capture.PixelFormatYUV420), width, height, nil)
	if !ok {
		return fmt.Errorf("%w: no YUV output sizes", capture.ErrNoSupportedFormat)
	}

	// The HAL declares ranges in fps; selection works in fps*1000
	scaled := make([]capture.FrameRateRange, len(chars.AETargetFPSRanges))
	for i, r := range chars.AETargetFPSRanges {
		scaled[i] = capture.FrameRateRange{Min: r.Min * 1000, Max: r.Max * 1000}
	}
	best, ok := capture.ClosestFrameRateRange(scaled, frameRate*1000)
	if !ok {
		return fmt.Errorf("%w: no target frame rate ranges", capture.ErrNoSupportedFormat)
	}
	fpsRange := capture.FrameRateRange{Min: best.Min / 1000, Max: best.Max / 1000}

	settings := capture.DefaultSettings()
	for _, s := range chars.OutputSizes(capture.PixelFormatJPEG) {
		if s.Pixels() > settings.PhotoWidth*settings.PhotoHeight {
			settings.PhotoWidth, settings.PhotoHeight = s.Width, s.Height
		}
	}

	b.chars = chars
	b.builder = requestBuilder{chars: chars, fpsRange: fpsRange}
	b.format = capture.Format{
		Width:       size.Width,
		Height:      size.Height,
		FrameRate:   fpsRange.Max,
		PixelFormat: capture.PixelFormatYUV420,
	}
	b.allocated = true

	b.mu.Lock()
	b.settings = settings
	b.mu.Unlock()

	b.log.Info().
		Str("requested", fmt.Sprintf("%dx%d@%d", width, height, frameRate)).
		Str("size", size.String()).
		Str("fps_range", fpsRange.String()).
		Msg("Negotiated preview format")
	return nil
}

// setState must be called with mu held
func (b *Backend) setState(s cameraState) {
	if b.state == s {
		return
	}
	b.log.Debug().Str("from", b.state.String()).Str("to", s.String()).Msg("Camera state")
	b.state = s
	b.stateChanged.Broadcast()
}

// StartCapture begins opening the camera and returns. The open and the
// preview session complete asynchronously; OnStarted fires once the
// session streams and OnError reports a failure at either step.
func (b *Backend) StartCapture() error {
	if !b.allocated {
		return capture.ErrNotAllocated
	}

	b.mu.Lock()
	switch b.state {
	case stateStreaming:
		b.mu.Unlock()
		return nil
	case stateOpening, stateConfiguring:
		b.mu.Unlock()
		return capture.ErrTransitionInProgress
	}
	b.generation++
	gen := b.generation
	done := make(chan struct{})
	b.done = done
	b.setState(stateOpening)
	b.mu.Unlock()

	opened, err := openDevice(b.manager, b.desc.ID, func(err error) {
		b.fail(gen, err)
	})
	if err != nil {
		b.mu.Lock()
		if b.generation == gen {
			b.generation++
			close(done)
			b.done = nil
			b.setState(stateClosed)
		}
		b.mu.Unlock()
		return fmt.Errorf("%w %s: %w", capture.ErrOpenFailed, b.desc.ID, err)
	}

	go b.runStart(gen, done, opened)
	return nil
}

func (b *Backend) runStart(gen int, done <-chan struct{}, opened <-chan openResult) {
	var res openResult
	select {
	case res = <-opened:
	case <-done:
		// Stopped while opening; close the device if it shows up later
		go func() {
			if r := <-opened; r.device != nil {
				r.device.Close()
			}
		}()
		return
	}
	if res.err != nil {
		b.fail(gen, fmt.Errorf("%w %s: %w", capture.ErrOpenFailed, b.desc.ID, res.err))
		return
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		res.device.Close()
		return
	}
	b.device = res.device
	b.setState(stateConfiguring)
	b.mu.Unlock()

	if err := b.startPreview(gen, done); err != nil {
		if !errors.Is(err, errStopped) {
			b.fail(gen, err)
		}
		return
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return
	}
	b.setState(stateStreaming)
	b.mu.Unlock()

	b.log.Info().Str("format", b.format.String()).Msg("Preview session streaming")
	b.listener.OnStarted()
}

// startPreview builds the preview reader, request and session from the
// current settings and installs them as the live preview. It serves both
// the first start and the rebuild after a still capture.
func (b *Backend) startPreview(gen int, done <-chan struct{}) error {
	b.mu.Lock()
	device := b.device
	settings := b.settings
	b.mu.Unlock()
	if device == nil {
		return errStopped
	}

	reader, err := b.manager.NewImageReader(b.format.Width, b.format.Height, capture.PixelFormatYUV420, previewImages)
	if err != nil {
		return fmt.Errorf("create preview reader: %w", err)
	}
	preview := newFrameReader(reader, func(img modernhal.Image) {
		b.onPreviewImage(gen, img)
	})

	req, err := device.CreateCaptureRequest(modernhal.TemplatePreview)
	if err != nil {
		preview.close()
		return fmt.Errorf("create preview request: %w", err)
	}
	req.AddTarget(preview.surface())
	b.builder.apply(req, settings)

	session, err := configureSession(device, []modernhal.Surface{preview.surface()}, done)
	if err != nil {
		preview.close()
		if errors.Is(err, errStopped) {
			return err
		}
		return fmt.Errorf("configure preview session: %w", err)
	}
	if err := session.SetRepeatingRequest(req); err != nil {
		session.Close()
		preview.close()
		return fmt.Errorf("start repeating preview: %w", err)
	}

	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		session.Close()
		preview.close()
		return errStopped
	}
	b.session = session
	b.preview = preview
	b.request = req
	b.mu.Unlock()
	return nil
}

func (b *Backend) onPreviewImage(gen int, img modernhal.Image) {
	b.mu.Lock()
	live := b.generation == gen
	b.mu.Unlock()
	if !live {
		return
	}

	planes := img.Planes()
	if img.Format() != capture.PixelFormatYUV420 || len(planes) < 3 {
		b.log.Debug().
			Str("format", img.Format().String()).
			Int("planes", len(planes)).
			Msg("Dropping malformed preview image")
		return
	}

	b.listener.OnPlanarFrameAvailable(capture.PlanarFrame{
		Y:             planes[0].Data,
		U:             planes[1].Data,
		V:             planes[2].Data,
		YStride:       planes[0].RowStride,
		UVStride:      planes[1].RowStride,
		UVPixelStride: planes[1].PixelStride,
		Width:         img.Width(),
		Height:        img.Height(),
		Rotation:      b.rotation(),
		Timestamp:     img.Timestamp(),
	})
}

// rotation of the sensor output for the current device rotation.
// Back-facing cameras take the inverted device rotation.
func (b *Backend) rotation() int {
	return capture.CameraRotation(b.chars.SensorOrientation, b.opts.Rotation(), b.chars.Facing == capture.FacingBack)
}

// StopCapture waits, bounded by the state wait timeout, for any open or
// configure step to settle, then tears the session down. No preview
// frame is delivered after it returns.
func (b *Backend) StopCapture() error {
	b.mu.Lock()
	if !b.waitSettled(b.opts.WaitTimeout()) {
		b.log.Warn().
			Str("state", b.state.String()).
			Dur("timeout", b.opts.WaitTimeout()).
			Msg("Camera did not settle before stop, tearing down anyway")
	}
	if b.state == stateClosed {
		b.mu.Unlock()
		return nil
	}
	td := b.detach()
	b.mu.Unlock()

	td.run()
	b.log.Info().Msg("Capture stopped")
	return nil
}

// waitSettled waits until the state is streaming or closed, or timeout
// elapses. mu must be held.
func (b *Backend) waitSettled(timeout time.Duration) bool {
	settled := func() bool {
		return b.state == stateStreaming || b.state == stateClosed
	}
	if settled() {
		return true
	}

	expired := false
	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		expired = true
		b.stateChanged.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	for !settled() && !expired {
		b.stateChanged.Wait()
	}
	return settled()
}

// teardown holds the resources detached from a generation
type teardown struct {
	session modernhal.Session
	preview *frameReader
	device  modernhal.Device
	log     *zerolog.Logger
}

// detach ends the current generation and returns its resources for
// release outside the lock. mu must be held.
func (b *Backend) detach() teardown {
	td := teardown{session: b.session, preview: b.preview, device: b.device, log: b.log}
	b.generation++
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
	b.session, b.preview, b.device, b.request = nil, nil, nil, nil
	b.setState(stateClosed)
	return td
}

func (td teardown) run() {
	if td.session != nil {
		if err := td.session.StopRepeating(); err != nil {
			td.log.Debug().Err(err).Msg("Stop repeating failed")
		}
		if err := td.session.AbortCaptures(); err != nil {
			td.log.Debug().Err(err).Msg("Abort captures failed")
		}
		td.session.Close()
	}
	if td.preview != nil {
		td.preview.close()
	}
	if td.device != nil {
		td.device.Close()
	}
}

// fail tears down generation gen, if still current, and reports err
func (b *Backend) fail(gen int, err error) {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return
	}
	td := b.detach()
	b.mu.Unlock()

	td.run()
	b.log.Error().Err(err).Msg("Capture failed")
	b.listener.OnError(err)
}

// SetPhotoOptions merges opts into the settings. While streaming the
// merged request replaces the repeating request of the live session;
// geometry and controls change in place without a new session.
func (b *Backend) SetPhotoOptions(opts capture.PhotoOptions) error {
	if !b.allocated {
		return capture.ErrNotAllocated
	}

	b.mu.Lock()
	if b.state == stateOpening || b.state == stateConfiguring {
		b.mu.Unlock()
		return capture.ErrTransitionInProgress
	}
	changes := b.settings.Merge(opts)
	if b.state != stateStreaming || b.request == nil || !changes.Any() {
		// Applied when the next preview session is built
		b.mu.Unlock()
		return nil
	}
	req := b.request.Clone()
	b.builder.apply(req, b.settings)
	b.request = req
	session := b.session
	singleShot := changes.Metering && b.settings.FocusMode == capture.MeteringModeSingleShot
	b.mu.Unlock()

	if err := session.SetRepeatingRequest(req); err != nil {
		b.log.Warn().Err(err).Msg("Camera rejected photo options")
		return nil
	}
	if singleShot {
		trigger := req.Clone()
		trigger.AFTrigger = modernhal.AFTriggerStart
		err := session.Capture(trigger, modernhal.CaptureCallbacks{
			OnFailed: func(_ *modernhal.Request, err error) {
				b.log.Debug().Err(err).Msg("Auto focus trigger failed")
			},
		})
		if err != nil {
			b.log.Warn().Err(err).Msg("Auto focus trigger rejected")
		}
	}
	return nil
}

// PhotoCapabilities describes the camera and the current settings
func (b *Backend) PhotoCapabilities() (capture.PhotoCapabilities, error) {
	if !b.allocated {
		return capture.PhotoCapabilities{}, capture.ErrNotAllocated
	}
	b.mu.Lock()
	settings := b.settings
	b.mu.Unlock()
	return b.builder.capabilities(settings), nil
}

// Deallocate stops capture and forgets the negotiated format
func (b *Backend) Deallocate() {
	if err := b.StopCapture(); err != nil {
		b.log.Warn().Err(err).Msg("Stop during deallocate failed")
	}
	b.allocated = false
	b.format = capture.Format{}
}
