// Package camera runs the registered capture devices for the server:
// it opens them through the registry, tracks their state, feeds their
// preview into MJPEG outputs and turns photo callbacks into jobs.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/logger"
	"github.com/bryanchriswhite/videocapture/internal/output"
	"github.com/bryanchriswhite/videocapture/internal/overlay"
)

var (
	// ErrNotOpen means the camera has no allocated device
	ErrNotOpen = errors.New("camera not allocated")
	// ErrAlreadyOpen means Allocate was called on an allocated camera
	ErrAlreadyOpen = errors.New("camera already allocated")
)

// State is the manager's view of one camera
type State string

const (
	StateIdle      State = "idle"
	StateAllocated State = "allocated"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Options configures a Manager
type Options struct {
	Capture capture.Options
	Stream  output.Config
	Overlay *overlay.Manager
	// Photo is applied to every device right after Allocate
	Photo capture.PhotoOptions
	// MaxPhotos bounds the retained photo results
	MaxPhotos int
}

// DeviceStatus describes one registered camera
type DeviceStatus struct {
	capture.Descriptor
	State     State           `json:"state"`
	Format    *capture.Format `json:"format,omitempty"`
	Frames    uint64          `json:"frames"`
	LastError string          `json:"last_error,omitempty"`
}

type session struct {
	desc capture.Descriptor
	out  *output.MJPEGOutput

	// ctl serializes control calls into the device
	ctl sync.Mutex
	dev capture.Device

	mu      sync.Mutex
	state   State
	format  capture.Format
	lastErr string
	frames  atomic.Uint64
}

func (s *session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) status() DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := DeviceStatus{Descriptor: s.desc, State: s.state, Frames: s.frames.Load(), LastError: s.lastErr}
	if !s.format.IsZero() {
		f := s.format
		st.Format = &f
	}
	return st
}

// Manager owns the open devices of a registry
type Manager struct {
	registry *capture.Registry
	opts     Options
	rotation atomic.Int64

	mu       sync.Mutex
	sessions map[string]*session
	photo    capture.PhotoOptions

	photos       *photoStore
	events       broker
	nextCallback atomic.Int64
}

// NewManager creates a manager for the cameras of registry
func NewManager(registry *capture.Registry, opts Options) *Manager {
	m := &Manager{
		registry: registry,
		opts:     opts,
		sessions: make(map[string]*session),
		photo:    opts.Photo,
		photos:   newPhotoStore(opts.MaxPhotos),
	}
	devRotation := opts.Capture.DeviceRotation
	if devRotation != nil {
		m.rotation.Store(int64(devRotation()))
	}
	m.opts.Capture.DeviceRotation = func() int { return int(m.rotation.Load()) }
	return m
}

// SetDeviceRotation changes the host rotation used for new frames
func (m *Manager) SetDeviceRotation(degrees int) {
	m.rotation.Store(int64(degrees))
}

// Subscribe returns a channel of device events
func (m *Manager) Subscribe() chan Event {
	return m.events.subscribe()
}

// Unsubscribe removes and closes a subscription
func (m *Manager) Unsubscribe(ch chan Event) {
	m.events.unsubscribe(ch)
}

func (m *Manager) session(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		if _, known := m.registry.Lookup(id); !known {
			return nil, fmt.Errorf("%w: %s", capture.ErrUnknownCamera, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	return s, nil
}

// Statuses lists every registered camera in registration order
func (m *Manager) Statuses() []DeviceStatus {
	descs := m.registry.Descriptors()
	out := make([]DeviceStatus, 0, len(descs))
	for _, d := range descs {
		st, _ := m.Status(d.ID)
		out = append(out, st)
	}
	return out
}

// Status describes camera id
func (m *Manager) Status(id string) (DeviceStatus, error) {
	desc, ok := m.registry.Lookup(id)
	if !ok {
		return DeviceStatus{}, fmt.Errorf("%w: %s", capture.ErrUnknownCamera, id)
	}
	m.mu.Lock()
	s, open := m.sessions[id]
	m.mu.Unlock()
	if !open {
		return DeviceStatus{Descriptor: desc, State: StateIdle}, nil
	}
	return s.status(), nil
}

// Output returns the MJPEG output of an allocated camera
func (m *Manager) Output(id string) (*output.MJPEGOutput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.out, true
}

// Allocate opens camera id and negotiates the closest format to the
// request. The current photo defaults are applied to the new device.
func (m *Manager) Allocate(id string, width, height, frameRate int) (capture.Format, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return capture.Format{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}
	desc, ok := m.registry.Lookup(id)
	if !ok {
		m.mu.Unlock()
		return capture.Format{}, fmt.Errorf("%w: %s", capture.ErrUnknownCamera, id)
	}
	s := &session{desc: desc, state: StateIdle}
	s.out = output.NewMJPEGOutput(id, m.opts.Stream, m.opts.Overlay)
	// Reserve the slot while the device opens
	m.sessions[id] = s
	photo := m.photo
	m.mu.Unlock()

	log := logger.WithDevice("camera-manager", id)

	s.ctl.Lock()
	defer s.ctl.Unlock()

	dev, err := m.registry.Open(id, &deviceListener{m: m, s: s}, m.opts.Capture)
	if err != nil {
		m.drop(id)
		return capture.Format{}, err
	}
	if err := dev.Allocate(width, height, frameRate); err != nil {
		dev.Deallocate()
		m.drop(id)
		return capture.Format{}, fmt.Errorf("allocate %s: %w", id, err)
	}
	if err := dev.SetPhotoOptions(photo); err != nil {
		log.Warn().Err(err).Msg("Failed to apply photo defaults")
	}

	format := dev.Format()
	s.dev = dev
	s.out.SetFormat(format)
	s.mu.Lock()
	s.state = StateAllocated
	s.format = format
	s.mu.Unlock()

	log.Info().Stringer("format", format).Msg("Camera allocated")
	m.events.publish(Event{Type: EventAllocated, Device: id, State: StateAllocated, Format: &format})
	return format, nil
}

func (m *Manager) drop(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Start begins streaming camera id into its MJPEG output
func (m *Manager) Start(id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.dev == nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}

	if !s.out.IsRunning() {
		if err := s.out.Start(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if s.state != StateStreaming {
		s.state = StateStarting
	}
	s.mu.Unlock()

	if err := s.dev.StartCapture(); err != nil {
		s.out.Stop()
		s.mu.Lock()
		s.state = StateError
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("start %s: %w", id, err)
	}
	return nil
}

// Stop stops streaming camera id. The device stays allocated.
func (m *Manager) Stop(id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.dev == nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}

	err = s.dev.StopCapture()
	s.out.Stop()
	s.setState(StateStopped)
	m.events.publish(Event{Type: EventStopped, Device: id, State: StateStopped})
	if err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	return nil
}

// Close deallocates camera id and discards its output
func (m *Manager) Close(id string) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	s.ctl.Lock()
	dev := s.dev
	s.dev = nil
	s.ctl.Unlock()
	if dev == nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}

	dev.Deallocate()
	s.out.Stop()
	m.drop(id)

	logger.WithDevice("camera-manager", id).Info().Msg("Camera closed")
	m.events.publish(Event{Type: EventClosed, Device: id, State: StateIdle})
	return nil
}

// Capabilities returns the photo capabilities of camera id
func (m *Manager) Capabilities(id string) (capture.PhotoCapabilities, error) {
	s, err := m.session(id)
	if err != nil {
		return capture.PhotoCapabilities{}, err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.dev == nil {
		return capture.PhotoCapabilities{}, fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	return s.dev.PhotoCapabilities()
}

// SetOptions merges opts into the settings of camera id
func (m *Manager) SetOptions(id string, opts capture.PhotoOptions) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.dev == nil {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	if err := s.dev.SetPhotoOptions(opts); err != nil {
		return err
	}
	m.events.publish(Event{Type: EventOptions, Device: id})
	return nil
}

// ApplyPhotoDefaults replaces the photo defaults and merges them into
// every allocated device.
func (m *Manager) ApplyPhotoDefaults(opts capture.PhotoOptions) {
	m.mu.Lock()
	m.photo = opts
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.SetOptions(id, opts); err != nil && !errors.Is(err, ErrNotOpen) {
			logger.WithDevice("camera-manager", id).Warn().Err(err).Msg("Failed to apply photo defaults")
		}
	}
}

// TakePhoto requests a still from camera id and returns the job that
// will hold the result.
func (m *Manager) TakePhoto(id string) (PhotoJob, error) {
	s, err := m.session(id)
	if err != nil {
		return PhotoJob{}, err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.dev == nil {
		return PhotoJob{}, fmt.Errorf("%w: %s", ErrNotOpen, id)
	}

	callbackID := m.nextCallback.Add(1)
	job := m.photos.create(id, callbackID)
	if err := s.dev.TakePhoto(callbackID); err != nil {
		m.photos.remove(job.ID)
		return PhotoJob{}, fmt.Errorf("take photo %s: %w", id, err)
	}
	return job, nil
}

// Photo returns a job and its image data once done
func (m *Manager) Photo(jobID string) (PhotoJob, []byte, error) {
	job, data, ok := m.photos.get(jobID)
	if !ok {
		return PhotoJob{}, nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return job, data, nil
}

// WaitPhoto blocks until job jobID completes or ctx ends
func (m *Manager) WaitPhoto(ctx context.Context, jobID string) (PhotoJob, []byte, error) {
	return m.photos.wait(ctx, jobID)
}

// Shutdown deallocates every open camera in parallel and closes all
// subscriptions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	p := pool.New().WithErrors()
	for _, id := range ids {
		p.Go(func() error {
			if err := m.Close(id); err != nil && !errors.Is(err, ErrNotOpen) {
				return err
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		m.events.closeAll()
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// deviceListener turns device notifications into state changes, frames
// for the output and events
type deviceListener struct {
	m *Manager
	s *session
}

func (l *deviceListener) OnStarted() {
	l.s.setState(StateStreaming)
	l.m.events.publish(Event{Type: EventStarted, Device: l.s.desc.ID, State: StateStreaming})
}

func (l *deviceListener) OnFrameAvailable(data []byte, rotation int) {
	l.s.frames.Add(1)
	l.s.mu.Lock()
	format := l.s.format
	l.s.mu.Unlock()
	l.s.out.SubmitFrame(data, format, rotation)
}

func (l *deviceListener) OnPlanarFrameAvailable(frame capture.PlanarFrame) {
	l.s.frames.Add(1)
	l.s.out.SubmitPlanar(frame)
}

func (l *deviceListener) OnError(err error) {
	l.s.mu.Lock()
	l.s.state = StateError
	l.s.lastErr = err.Error()
	l.s.mu.Unlock()

	logger.WithDevice("camera-manager", l.s.desc.ID).Error().Err(err).Msg("Device error")
	l.m.events.publish(Event{Type: EventError, Device: l.s.desc.ID, State: StateError, Error: err.Error()})
}

func (l *deviceListener) OnPhotoTaken(callbackID int64, data []byte) {
	job, ok := l.m.photos.complete(callbackID, data)
	if !ok {
		logger.WithDevice("camera-manager", l.s.desc.ID).Warn().
			Int64("callback_id", callbackID).
			Msg("Photo for unknown callback id")
		return
	}
	e := Event{Type: EventPhoto, Device: l.s.desc.ID, Job: job.ID}
	if job.Status == JobFailed {
		e.Error = "capture produced no image"
	}
	l.m.events.publish(e)
}
