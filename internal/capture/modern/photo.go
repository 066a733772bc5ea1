package modern

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

// TakePhoto starts a still capture on its own session. The still session
// supersedes the preview session; the preview is rebuilt from the current
// settings once the still capture ends, whatever its outcome.
func (b *Backend) TakePhoto(callbackID int64) error {
	b.photoMu.Lock()
	defer b.photoMu.Unlock()

	b.mu.Lock()
	state, gen, done := b.state, b.generation, b.done
	b.mu.Unlock()

	switch state {
	case stateOpening, stateConfiguring:
		return capture.ErrTransitionInProgress
	case stateClosed:
		return capture.ErrNotStreaming
	}
	if b.photoPending {
		return capture.ErrPhotoPending
	}

	b.photoPending = true
	b.photoID = callbackID
	go b.runPhoto(gen, done, callbackID)
	return nil
}

func (b *Backend) runPhoto(gen int, done <-chan struct{}, callbackID int64) {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		b.completePhoto(nil)
		return
	}
	device := b.device
	settings := b.settings
	session, preview := b.session, b.preview
	b.session, b.preview, b.request = nil, nil, nil
	b.mu.Unlock()

	if session != nil {
		if err := session.StopRepeating(); err != nil {
			b.log.Debug().Err(err).Msg("Stop repeating before photo failed")
		}
	}
	if preview != nil {
		preview.close()
	}

	data, err := b.takeStill(device, settings, done)
	if err != nil && !errors.Is(err, errStopped) {
		b.log.Warn().Err(err).Int64("callback_id", callbackID).Msg("Photo capture failed")
	}
	if session != nil {
		session.Close()
	}

	if err := b.startPreview(gen, done); err != nil && !errors.Is(err, errStopped) {
		b.fail(gen, fmt.Errorf("rebuild preview after photo: %w", err))
	}

	b.completePhoto(data)
}

func (b *Backend) takeStill(device modernhal.Device, settings capture.Settings, done <-chan struct{}) ([]byte, error) {
	size, ok := capture.ClosestResolution(b.chars.OutputSizes(capture.PixelFormatJPEG), settings.PhotoWidth, settings.PhotoHeight, nil)
	if !ok {
		return nil, fmt.Errorf("%w: no JPEG output sizes", capture.ErrNoSupportedFormat)
	}

	reader, err := b.manager.NewImageReader(size.Width, size.Height, capture.PixelFormatJPEG, 1)
	if err != nil {
		return nil, fmt.Errorf("create photo reader: %w", err)
	}
	defer reader.Close()

	req, err := device.CreateCaptureRequest(modernhal.TemplateStillCapture)
	if err != nil {
		return nil, fmt.Errorf("create photo request: %w", err)
	}
	req.AddTarget(reader.Surface())
	b.builder.apply(req, settings)
	req.JPEGOrientation = b.rotation()

	session, err := configureSession(device, []modernhal.Surface{reader.Surface()}, done)
	if err != nil {
		return nil, fmt.Errorf("configure photo session: %w", err)
	}
	defer session.Close()

	data, err := captureStill(session, req, reader, done)
	if err != nil {
		return nil, err
	}
	b.log.Debug().Str("size", size.String()).Int("bytes", len(data)).Msg("Photo captured")
	return data, nil
}

// completePhoto clears the pending slot and fires the one completion of
// the accepted request. Empty data reports failure.
func (b *Backend) completePhoto(data []byte) {
	b.photoMu.Lock()
	id := b.photoID
	b.photoPending = false
	b.photoMu.Unlock()

	b.listener.OnPhotoTaken(id, data)
}
