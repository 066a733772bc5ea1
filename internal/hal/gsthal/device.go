package gsthal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

// Device is one open GStreamer camera
type Device struct {
	id        string
	src       Source
	callbacks modernhal.DeviceCallbacks
	log       *zerolog.Logger

	mu      sync.Mutex
	closed  bool
	session *Session
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) CreateCaptureRequest(t modernhal.Template) (*modernhal.Request, error) {
	if d.isClosed() {
		return nil, modernhal.ErrClosed
	}
	ch := characteristicsFor(d.src)
	r := &modernhal.Request{
		Template:    t,
		AFMode:      modernhal.AFModeOff,
		AEMode:      modernhal.AEModeOn,
		AWBMode:     modernhal.AWBModeAuto,
		CropRegion:  ch.ActiveArray,
		JPEGQuality: defaultJPEGQuality,
	}
	if len(ch.AETargetFPSRanges) > 0 {
		r.AETargetFPSRange = ch.AETargetFPSRanges[0]
	}
	return r, nil
}

// CreateCaptureSession accepts a single reader output. The pipeline is
// built when the first request is submitted, since the frame rate comes
// from the request.
func (d *Device) CreateCaptureSession(outputs []modernhal.Surface, cb modernhal.SessionCallbacks) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return modernhal.ErrClosed
	}
	prev := d.session
	s := &Session{device: d, log: d.log}
	d.session = s
	d.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	go func() {
		err := s.configure(outputs)
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

func (d *Device) Close() {
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
	if d.src.Torch != nil {
		if err := d.src.Torch.Set(false); err != nil {
			d.log.Warn().Err(err).Msg("Failed to switch torch off")
		}
	}
}

// lost reports a pipeline failure as a device error
func (d *Device) lost(err error) {
	if d.isClosed() {
		return
	}
	d.log.Error().Err(err).Msg("Pipeline failed")
	d.Close()
	if d.callbacks.OnError != nil {
		d.callbacks.OnError(d, err)
	}
}

var errSingleOutput = errors.New("gstreamer sessions support exactly one output")

func singleReader(outputs []modernhal.Surface) (*modernhal.QueueReader, error) {
	if len(outputs) != 1 {
		return nil, errSingleOutput
	}
	r, ok := outputs[0].(*modernhal.QueueReader)
	if !ok {
		return nil, fmt.Errorf("output %T was not created by this manager", outputs[0])
	}
	return r, nil
}
