package modern

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

// errStopped ends an operation whose capture was stopped underneath it
var errStopped = errors.New("capture stopped")

type openResult struct {
	device modernhal.Device
	err    error
}

// openDevice asks the manager to open the camera. The first callback
// resolves the returned channel; device errors after that are passed
// to onLost.
func openDevice(manager modernhal.Manager, id string, onLost func(error)) (<-chan openResult, error) {
	results := make(chan openResult, 1)
	var once sync.Once
	resolve := func(r openResult) bool {
		resolved := false
		once.Do(func() {
			results <- r
			resolved = true
		})
		return resolved
	}

	err := manager.OpenCamera(id, modernhal.DeviceCallbacks{
		OnOpened: func(d modernhal.Device) {
			if !resolve(openResult{device: d}) {
				d.Close()
			}
		},
		OnDisconnected: func(d modernhal.Device) {
			closeDevice(d)
			if !resolve(openResult{err: modernhal.ErrDisconnected}) {
				onLost(modernhal.ErrDisconnected)
			}
		},
		OnError: func(d modernhal.Device, err error) {
			closeDevice(d)
			if !resolve(openResult{err: err}) {
				onLost(fmt.Errorf("camera error: %w", err))
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func closeDevice(d modernhal.Device) {
	if d != nil {
		d.Close()
	}
}

type sessionResult struct {
	session modernhal.Session
	err     error
}

// configureSession creates a session for outputs and waits for it to be
// configured or for done to close. A session that configures after done
// is closed.
func configureSession(device modernhal.Device, outputs []modernhal.Surface, done <-chan struct{}) (modernhal.Session, error) {
	results := make(chan sessionResult, 1)
	err := device.CreateCaptureSession(outputs, modernhal.SessionCallbacks{
		OnConfigured: func(s modernhal.Session) {
			results <- sessionResult{session: s}
		},
		OnConfigureFailed: func(s modernhal.Session, err error) {
			results <- sessionResult{err: err}
		},
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-results:
		return r.session, r.err
	case <-done:
		go func() {
			if r := <-results; r.session != nil {
				r.session.Close()
			}
		}()
		return nil, errStopped
	}
}

// captureStill submits req on session and waits for the JPEG to land in
// reader. The returned bytes are a copy.
func captureStill(session modernhal.Session, req *modernhal.Request, reader modernhal.ImageReader, done <-chan struct{}) ([]byte, error) {
	available := make(chan struct{}, 1)
	reader.SetOnImageAvailable(func() {
		select {
		case available <- struct{}{}:
		default:
		}
	})

	failed := make(chan error, 1)
	err := session.Capture(req, modernhal.CaptureCallbacks{
		OnFailed: func(_ *modernhal.Request, err error) {
			failed <- err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("submit still capture: %w", err)
	}

	select {
	case <-available:
	case err := <-failed:
		return nil, fmt.Errorf("still capture failed: %w", err)
	case <-done:
		return nil, errStopped
	}

	img, err := reader.AcquireLatestImage()
	if err != nil {
		return nil, fmt.Errorf("acquire still image: %w", err)
	}
	defer img.Close()

	planes := img.Planes()
	if len(planes) == 0 || len(planes[0].Data) == 0 {
		return nil, errors.New("still image has no data")
	}
	return append([]byte(nil), planes[0].Data...), nil
}
