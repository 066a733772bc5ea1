// Package legacy implements capture.Device on the synchronous legacy
// camera API.
package legacy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/legacyhal"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

// bufferCount is the number of preview buffers cycled through the HAL
const bufferCount = 3

// widthAlignment is the stride the legacy pixel path requires. Preview
// sizes whose width is not a multiple of it are never selected, even when
// the hardware advertises them.
const widthAlignment = 32

// Backend drives one legacy camera
type Backend struct {
	desc     capture.Descriptor
	opener   legacyhal.Opener
	listener capture.Listener
	opts     capture.Options
	log      *zerolog.Logger

	// Set by Allocate, cleared by Deallocate. Written on the control
	// goroutine under previewMu.
	camera            legacyhal.Camera
	info              legacyhal.Info
	format            capture.Format
	expectedFrameSize int
	buffers           [][]byte

	// settingsMu guards settings, the last configuration the camera
	// accepted. It is taken after previewMu when both are held.
	settingsMu sync.Mutex
	settings   capture.Settings

	previewMu sync.Mutex
	running   bool
	inFlight  int
	quiesced  *sync.Cond

	photoMu      sync.Mutex
	photoPending bool
	photoID      int64
}

// New creates an unallocated backend for desc
func New(desc capture.Descriptor, opener legacyhal.Opener, listener capture.Listener, opts capture.Options) *Backend {
	b := &Backend{
		desc:     desc,
		opener:   opener,
		listener: listener,
		opts:     opts,
		log:      logger.WithDevice("legacy-backend", desc.ID),
		settings: capture.DefaultSettings(),
	}
	b.quiesced = sync.NewCond(&b.previewMu)
	return b
}

// Factory returns a registry factory that opens cameras through opener
func Factory(opener legacyhal.Opener) capture.Factory {
	return func(desc capture.Descriptor, listener capture.Listener, opts capture.Options) (capture.Device, error) {
		if opener == nil {
			return nil, errors.New("legacy backend requires a camera opener")
		}
		return New(desc, opener, listener, opts), nil
	}
}

func (b *Backend) ID() string {
	return b.desc.ID
}

func (b *Backend) Format() capture.Format {
	return b.format
}

// Allocate opens the camera and negotiates the preview configuration.
// On failure the camera is released and nothing is retained.
func (b *Backend) Allocate(width, height, frameRate int) error {
	if b.camera != nil {
		return fmt.Errorf("device %s already allocated", b.desc.ID)
	}

	cam, err := b.opener.Open(b.desc.ID)
	if err != nil {
		return fmt.Errorf("%w %s: %w", capture.ErrOpenFailed, b.desc.ID, err)
	}

	params, err := cam.Parameters()
	if err != nil {
		b.releaseCamera(cam)
		return fmt.Errorf("%w %s: read parameters: %w", capture.ErrOpenFailed, b.desc.ID, err)
	}

	fpsRange, ok := capture.ClosestFrameRateRange(params.PreviewFPSRanges, frameRate*1000)
	if !ok {
		b.releaseCamera(cam)
		return fmt.Errorf("%w: no preview frame rate ranges", capture.ErrNoSupportedFormat)
	}
	size, ok := capture.ClosestResolution(params.PreviewSizes, width, height, widthAligned)
	if !ok {
		b.releaseCamera(cam)
		return fmt.Errorf("%w: no preview size with width aligned to %d", capture.ErrNoSupportedFormat, widthAlignment)
	}
	pixelFormat := choosePixelFormat(params.PreviewFormats)
	if pixelFormat.BitsPerPixel() == 0 {
		b.releaseCamera(cam)
		return fmt.Errorf("%w: no uncompressed preview format", capture.ErrNoSupportedFormat)
	}

	b.log.Info().
		Str("requested", fmt.Sprintf("%dx%d@%d", width, height, frameRate)).
		Str("size", size.String()).
		Str("fps_range", fpsRange.String()).
		Str("pixel_format", pixelFormat.String()).
		Msg("Negotiated preview format")

	params.PreviewSize = size
	params.PreviewFPSRange = fpsRange
	params.PreviewFormat = pixelFormat
	if err := cam.SetParameters(params); err != nil {
		b.releaseCamera(cam)
		return fmt.Errorf("%w: configure preview: %w", capture.ErrNoSupportedFormat, err)
	}

	// Stabilization and continuous focus are preferences, not requirements
	preferred := params.Clone()
	if preferred.VideoStabilizationSupported {
		preferred.VideoStabilization = true
	}
	if legacyhal.Supports(preferred.FocusModes, legacyhal.FocusModeContinuousVideo) {
		preferred.FocusMode = legacyhal.FocusModeContinuousVideo
	}
	if err := cam.SetParameters(preferred); err != nil {
		b.log.Warn().Err(err).Msg("Camera rejected stabilization or focus preferences")
	} else {
		params = preferred
	}

	format := capture.Format{
		Width:       size.Width,
		Height:      size.Height,
		FrameRate:   fpsRange.Max / 1000,
		PixelFormat: pixelFormat,
	}

	buffers := make([][]byte, bufferCount)
	for i := range buffers {
		buffers[i] = make([]byte, format.FrameSize())
	}

	settings := capture.DefaultSettings()
	settings.PhotoWidth = params.PictureSize.Width
	settings.PhotoHeight = params.PictureSize.Height
	if params.FocusMode != legacyhal.FocusModeContinuousVideo && params.FocusMode != legacyhal.FocusModeContinuousPicture {
		settings.FocusMode = focusMeteringMode(params.FocusMode)
	}

	b.previewMu.Lock()
	b.camera = cam
	b.info = cam.Info()
	b.format = format
	b.expectedFrameSize = format.FrameSize()
	b.buffers = buffers
	b.settingsMu.Lock()
	b.settings = settings
	b.settingsMu.Unlock()
	b.previewMu.Unlock()
	return nil
}

func widthAligned(r capture.Resolution) bool {
	return r.Width%widthAlignment == 0
}

func choosePixelFormat(formats []capture.PixelFormat) capture.PixelFormat {
	for _, want := range []capture.PixelFormat{capture.PixelFormatYUV420, capture.PixelFormatNV21} {
		for _, f := range formats {
			if f == want {
				return f
			}
		}
	}
	if len(formats) == 0 {
		// The HAL did not say; every legacy camera can do NV21
		return capture.PixelFormatNV21
	}
	return capture.PixelFormatUnknown
}

func (b *Backend) releaseCamera(cam legacyhal.Camera) {
	if err := cam.Release(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to release camera")
	}
}

// StartCapture installs the preview callback, queues the buffer pool and
// starts the preview.
func (b *Backend) StartCapture() error {
	b.previewMu.Lock()
	if b.camera == nil {
		b.previewMu.Unlock()
		return capture.ErrNotAllocated
	}
	if b.running {
		b.previewMu.Unlock()
		return nil
	}

	b.camera.SetPreviewCallbackWithBuffer(b.onPreviewFrame)
	for _, buf := range b.buffers {
		b.camera.AddCallbackBuffer(buf)
	}
	if err := b.camera.StartPreview(); err != nil {
		b.camera.SetPreviewCallbackWithBuffer(nil)
		b.previewMu.Unlock()
		return fmt.Errorf("start preview: %w", err)
	}
	b.running = true
	b.previewMu.Unlock()

	b.log.Info().Str("format", b.format.String()).Msg("Preview started")
	b.listener.OnStarted()
	return nil
}

// StopCapture clears the running flag, waits for any frame delivery in
// progress to finish and stops the preview. No frame notification fires
// after it returns.
func (b *Backend) StopCapture() error {
	b.previewMu.Lock()
	if !b.running {
		b.previewMu.Unlock()
		return nil
	}
	b.running = false
	for b.inFlight > 0 {
		b.quiesced.Wait()
	}
	cam := b.camera
	b.previewMu.Unlock()

	cam.SetPreviewCallbackWithBuffer(nil)
	if err := cam.StopPreview(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to stop preview")
	}
	b.log.Info().Msg("Preview stopped")
	return nil
}

func (b *Backend) onPreviewFrame(data []byte) {
	b.previewMu.Lock()
	if !b.running {
		b.previewMu.Unlock()
		return
	}
	b.inFlight++
	cam := b.camera
	expected := b.expectedFrameSize
	b.previewMu.Unlock()

	if len(data) == expected {
		rotation := capture.CameraRotation(b.info.Orientation, b.opts.Rotation(), b.info.Facing == capture.FacingBack)
		b.listener.OnFrameAvailable(data, rotation)
	} else {
		b.log.Debug().
			Int("size", len(data)).
			Int("expected", expected).
			Msg("Dropping preview frame with unexpected size")
	}

	// The buffer goes back to the HAL whatever happened to the frame
	cam.AddCallbackBuffer(data[:cap(data)])

	b.previewMu.Lock()
	b.inFlight--
	if b.inFlight == 0 {
		b.quiesced.Broadcast()
	}
	b.previewMu.Unlock()
}

// TakePhoto takes one JPEG at the configured photo size. The HAL halts
// the preview for the capture; it is restarted from the pre-capture
// parameters before OnPhotoTaken fires.
func (b *Backend) TakePhoto(callbackID int64) error {
	b.photoMu.Lock()
	defer b.photoMu.Unlock()

	b.previewMu.Lock()
	running := b.running
	cam := b.camera
	b.previewMu.Unlock()

	if !running {
		return capture.ErrNotStreaming
	}
	if b.photoPending {
		return capture.ErrPhotoPending
	}

	snapshot, err := cam.Parameters()
	if err != nil {
		return fmt.Errorf("read parameters: %w", err)
	}

	b.settingsMu.Lock()
	photoW, photoH := b.settings.PhotoWidth, b.settings.PhotoHeight
	b.settingsMu.Unlock()

	photo := snapshot.Clone()
	if size, ok := capture.ClosestResolution(photo.PictureSizes, photoW, photoH, nil); ok {
		photo.PictureSize = size
	}
	photo.JPEGRotation = capture.CameraRotation(b.info.Orientation, b.opts.Rotation(), b.info.Facing == capture.FacingBack)
	if err := cam.SetParameters(photo); err != nil {
		b.log.Warn().Err(err).Msg("Camera rejected photo parameters, using current ones")
	}

	b.photoPending = true
	b.photoID = callbackID

	err = cam.TakePicture(func(jpeg []byte, err error) {
		b.onPicture(snapshot, jpeg, err)
	})
	if err != nil {
		b.photoPending = false
		b.resumePreview(snapshot)
		return fmt.Errorf("take picture: %w", err)
	}

	b.log.Debug().Int64("callback_id", callbackID).Str("size", photo.PictureSize.String()).Msg("Photo requested")
	return nil
}

func (b *Backend) onPicture(snapshot legacyhal.Parameters, data []byte, err error) {
	b.resumePreview(snapshot)

	b.photoMu.Lock()
	id := b.photoID
	b.photoPending = false
	b.photoMu.Unlock()

	if err != nil {
		b.log.Warn().Err(err).Int64("callback_id", id).Msg("Photo capture failed")
		data = nil
	}
	b.listener.OnPhotoTaken(id, data)
}

// resumePreview restores the preview size, rate and format active before a
// still capture, re-applies the current photo settings on top and restarts
// the preview if capture is still running.
func (b *Backend) resumePreview(snapshot legacyhal.Parameters) {
	b.previewMu.Lock()
	defer b.previewMu.Unlock()

	if b.camera == nil {
		return
	}
	// Options set while the photo was pending live only in settings
	b.settingsMu.Lock()
	applySettings(&snapshot, b.settings, capture.Changes{Zoom: true, Metering: true, Exposure: true, Flash: true})
	err := b.camera.SetParameters(snapshot)
	b.settingsMu.Unlock()
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to restore preview parameters")
	}
	if !b.running {
		return
	}
	// Reset the queue so the pool is not queued twice
	b.camera.SetPreviewCallbackWithBuffer(nil)
	b.camera.SetPreviewCallbackWithBuffer(b.onPreviewFrame)
	for _, buf := range b.buffers {
		b.camera.AddCallbackBuffer(buf)
	}
	if err := b.camera.StartPreview(); err != nil {
		b.log.Error().Err(err).Msg("Failed to resume preview after photo")
		go b.listener.OnError(fmt.Errorf("resume preview: %w", err))
	}
}

// Deallocate stops capture and releases the camera. Safe to call more
// than once or without a prior Allocate.
func (b *Backend) Deallocate() {
	if err := b.StopCapture(); err != nil {
		b.log.Warn().Err(err).Msg("Stop during deallocate failed")
	}

	b.previewMu.Lock()
	cam := b.camera
	b.camera = nil
	b.buffers = nil
	b.expectedFrameSize = 0
	b.format = capture.Format{}
	b.previewMu.Unlock()

	if cam == nil {
		return
	}
	b.releaseCamera(cam)
	b.log.Info().Msg("Camera released")
}
