package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/config"
	"github.com/bryanchriswhite/videocapture/internal/output"
)

func newTestManager(t *testing.T) (*Manager, *Backends) {
	t.Helper()
	b, err := NewBackends([]config.DeviceConfig{
		{ID: "0", Backend: config.BackendSimLegacy, Facing: "back", SensorOrientation: 90, TorchPin: -1},
		{ID: "1", Backend: config.BackendSimModern, TorchPin: -1, MockGPIO: true},
	})
	if err != nil {
		t.Fatalf("NewBackends: %v", err)
	}
	m := NewManager(b.Registry, Options{
		Capture: capture.Options{StateWaitTimeout: 2 * time.Second},
		Stream:  output.Config{FPS: 30},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
		b.Close()
	})
	return m, b
}

// waitEvent returns the first event of type want for device
func waitEvent(t *testing.T, ch chan Event, device string, want EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", want)
			}
			if e.Device == device && e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s on %s", want, device)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_Lifecycle(t *testing.T) {
	for _, id := range []string{"0", "1"} {
		t.Run("camera "+id, func(t *testing.T) {
			m, b := newTestManager(t)
			events := m.Subscribe()

			format, err := m.Allocate(id, 640, 480, 30)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if format.Width != 640 || format.Height != 480 {
				t.Errorf("format = %v", format)
			}
			if e := waitEvent(t, events, id, EventAllocated); e.Format == nil || *e.Format != format {
				t.Errorf("allocated event = %+v", e)
			}
			if !b.Registry.InUse(id) {
				t.Error("registry does not show the camera in use")
			}
			if _, err := m.Allocate(id, 640, 480, 30); !errors.Is(err, ErrAlreadyOpen) {
				t.Errorf("second Allocate = %v, want ErrAlreadyOpen", err)
			}

			if err := m.Start(id); err != nil {
				t.Fatalf("Start: %v", err)
			}
			waitEvent(t, events, id, EventStarted)
			waitUntil(t, "frames", func() bool {
				st, _ := m.Status(id)
				return st.Frames > 0
			})
			if st, _ := m.Status(id); st.State != StateStreaming {
				t.Errorf("state = %s, want streaming", st.State)
			}
			if out, ok := m.Output(id); !ok || !out.IsRunning() {
				t.Error("output not running while streaming")
			}

			job, err := m.TakePhoto(id)
			if err != nil {
				t.Fatalf("TakePhoto: %v", err)
			}
			if job.Status != JobPending || job.ID == "" {
				t.Errorf("new job = %+v", job)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			done, data, err := m.WaitPhoto(ctx, job.ID)
			if err != nil {
				t.Fatalf("WaitPhoto: %v", err)
			}
			if done.Status != JobDone || len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
				t.Errorf("job = %+v with %d bytes, want a JPEG", done, len(data))
			}
			if e := waitEvent(t, events, id, EventPhoto); e.Job != job.ID {
				t.Errorf("photo event job = %s, want %s", e.Job, job.ID)
			}

			if err := m.Stop(id); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if st, _ := m.Status(id); st.State != StateStopped {
				t.Errorf("state after Stop = %s", st.State)
			}

			if err := m.Close(id); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if st, _ := m.Status(id); st.State != StateIdle || st.Format != nil {
				t.Errorf("status after Close = %+v", st)
			}
			if b.Registry.InUse(id) {
				t.Error("camera still reserved after Close")
			}
			if err := m.Close(id); !errors.Is(err, ErrNotOpen) {
				t.Errorf("second Close = %v, want ErrNotOpen", err)
			}
		})
	}
}

func TestManager_Errors(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Allocate("9", 640, 480, 30); !errors.Is(err, capture.ErrUnknownCamera) {
		t.Errorf("Allocate(unknown) = %v", err)
	}
	if err := m.Start("0"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Start before Allocate = %v", err)
	}
	if err := m.Start("9"); !errors.Is(err, capture.ErrUnknownCamera) {
		t.Errorf("Start(unknown) = %v", err)
	}
	if _, err := m.Status("9"); !errors.Is(err, capture.ErrUnknownCamera) {
		t.Errorf("Status(unknown) = %v", err)
	}
	if _, _, err := m.Photo("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Photo(unknown) = %v", err)
	}

	if _, err := m.Allocate("0", 640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// Not streaming: the job must not linger
	if _, err := m.TakePhoto("0"); !errors.Is(err, capture.ErrNotStreaming) {
		t.Errorf("TakePhoto while stopped = %v, want ErrNotStreaming", err)
	}
	if n := len(m.photos.jobs); n != 0 {
		t.Errorf("%d jobs retained after a rejected photo", n)
	}

	if _, err := m.Capabilities("0"); err != nil {
		t.Errorf("Capabilities: %v", err)
	}
	if err := m.SetOptions("0", capture.PhotoOptions{Zoom: 2}); err != nil {
		t.Errorf("SetOptions: %v", err)
	}
	caps, _ := m.Capabilities("0")
	if caps.Zoom.Current != 2 {
		t.Errorf("zoom after SetOptions = %v", caps.Zoom.Current)
	}
}

func TestManager_PhotoDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	m.ApplyPhotoDefaults(capture.PhotoOptions{Zoom: 3})

	if _, err := m.Allocate("1", 640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	caps, err := m.Capabilities("1")
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps.Zoom.Current != 3 {
		t.Errorf("zoom = %v, want defaults applied on Allocate", caps.Zoom.Current)
	}

	m.ApplyPhotoDefaults(capture.PhotoOptions{Zoom: 1.5})
	caps, _ = m.Capabilities("1")
	if caps.Zoom.Current != 1.5 {
		t.Errorf("zoom = %v, want reloaded defaults merged", caps.Zoom.Current)
	}
}

func TestManager_DeviceError(t *testing.T) {
	m, b := newTestManager(t)
	events := m.Subscribe()

	if _, err := m.Allocate("1", 640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Start("1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, events, "1", EventStarted)

	b.ModernSim.Disconnect("1")
	e := waitEvent(t, events, "1", EventError)
	if e.Error == "" {
		t.Error("error event without a message")
	}
	if st, _ := m.Status("1"); st.State != StateError || st.LastError == "" {
		t.Errorf("status = %+v, want error state", st)
	}
}

func TestManager_Shutdown(t *testing.T) {
	m, b := newTestManager(t)
	events := m.Subscribe()

	for _, id := range []string{"0", "1"} {
		if _, err := m.Allocate(id, 320, 240, 15); err != nil {
			t.Fatalf("Allocate(%s): %v", id, err)
		}
		if err := m.Start(id); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, st := range m.Statuses() {
		if st.State != StateIdle {
			t.Errorf("camera %s state %s after Shutdown", st.ID, st.State)
		}
		if b.Registry.InUse(st.ID) {
			t.Errorf("camera %s still reserved", st.ID)
		}
	}

	// Drain until the subscription is closed
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription not closed by Shutdown")
		}
	}
}

func TestNewBackends(t *testing.T) {
	b, err := NewBackends([]config.DeviceConfig{
		{ID: "a", Backend: config.BackendSimLegacy, Resolutions: []string{"1280x720"}, FrameRates: []int{24}, TorchPin: -1},
	})
	if err != nil {
		t.Fatalf("NewBackends: %v", err)
	}
	defer b.Close()

	m := NewManager(b.Registry, Options{})
	format, err := m.Allocate("a", 640, 480, 30)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if format.Width != 1280 || format.FrameRate != 24 {
		t.Errorf("format = %v, want the configured 1280x720@24", format)
	}
	m.Close("a")

	if _, err := NewBackends([]config.DeviceConfig{{ID: "x", Backend: "v4l2"}}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestPhotoStore(t *testing.T) {
	s := newPhotoStore(2)
	a := s.create("0", 1)
	b := s.create("0", 2)
	if a.ID == b.ID {
		t.Fatal("job ids collide")
	}

	if _, ok := s.complete(1, []byte{1, 2, 3}); !ok {
		t.Fatal("complete(1) found no job")
	}
	if _, ok := s.complete(1, nil); ok {
		t.Error("a callback id completed twice")
	}
	failed, _ := s.complete(2, nil)
	if failed.Status != JobFailed {
		t.Errorf("empty result status = %s, want failed", failed.Status)
	}

	// A third job evicts the oldest finished one
	c := s.create("0", 3)
	if _, _, ok := s.get(a.ID); ok {
		t.Error("oldest job not evicted")
	}
	if job, _, ok := s.get(c.ID); !ok || job.Status != JobPending {
		t.Errorf("new job = %+v, %v", job, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := s.wait(ctx, c.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("wait on pending job = %v", err)
	}
}
