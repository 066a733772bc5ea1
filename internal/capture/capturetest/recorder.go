// Package capturetest provides a recording capture.Listener for tests
package capturetest

import (
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
)

// Photo is one recorded OnPhotoTaken call
type Photo struct {
	CallbackID int64
	Data       []byte
}

// Frame is one recorded frame notification
type Frame struct {
	Size     int
	Rotation int
	Planar   bool
	Width    int
	Height   int
}

// Recorder records every notification and lets tests wait for them
type Recorder struct {
	mu      sync.Mutex
	started int
	frames  []Frame
	errs    []error
	photos  []Photo

	startedC chan struct{}
	framesC  chan Frame
	photosC  chan Photo
	errsC    chan error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		startedC: make(chan struct{}, 16),
		framesC:  make(chan Frame, 1024),
		photosC:  make(chan Photo, 16),
		errsC:    make(chan error, 16),
	}
}

func (r *Recorder) OnStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	select {
	case r.startedC <- struct{}{}:
	default:
	}
}

func (r *Recorder) OnFrameAvailable(data []byte, rotation int) {
	r.frame(Frame{Size: len(data), Rotation: rotation})
}

func (r *Recorder) OnPlanarFrameAvailable(f capture.PlanarFrame) {
	r.frame(Frame{
		Size:     len(f.Y) + len(f.U) + len(f.V),
		Rotation: f.Rotation,
		Planar:   true,
		Width:    f.Width,
		Height:   f.Height,
	})
}

func (r *Recorder) frame(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	select {
	case r.framesC <- f:
	default:
	}
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	select {
	case r.errsC <- err:
	default:
	}
}

func (r *Recorder) OnPhotoTaken(callbackID int64, data []byte) {
	p := Photo{CallbackID: callbackID, Data: append([]byte(nil), data...)}
	r.mu.Lock()
	r.photos = append(r.photos, p)
	r.mu.Unlock()
	r.photosC <- p
}

// Started returns how many times OnStarted fired
func (r *Recorder) Started() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// FrameCount returns the number of frames delivered so far
func (r *Recorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Photos returns the recorded photo completions
func (r *Recorder) Photos() []Photo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Photo(nil), r.photos...)
}

// Errors returns the recorded errors
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// WaitStarted fails the test if OnStarted does not fire within timeout
func (r *Recorder) WaitStarted(t testing.TB, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.startedC:
	case <-time.After(timeout):
		t.Fatalf("OnStarted did not fire within %v", timeout)
	}
}

// WaitFrame returns the next frame or fails the test after timeout
func (r *Recorder) WaitFrame(t testing.TB, timeout time.Duration) Frame {
	t.Helper()
	select {
	case f := <-r.framesC:
		return f
	case <-time.After(timeout):
		t.Fatalf("no frame within %v", timeout)
		return Frame{}
	}
}

// WaitPhoto returns the next photo completion or fails the test after timeout
func (r *Recorder) WaitPhoto(t testing.TB, timeout time.Duration) Photo {
	t.Helper()
	select {
	case p := <-r.photosC:
		return p
	case <-time.After(timeout):
		t.Fatalf("no photo within %v", timeout)
		return Photo{}
	}
}

// WaitError returns the next error or fails the test after timeout
func (r *Recorder) WaitError(t testing.TB, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-r.errsC:
		return err
	case <-time.After(timeout):
		t.Fatalf("no error within %v", timeout)
		return nil
	}
}
