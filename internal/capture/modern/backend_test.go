package modern

import (
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/capture/capturetest"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

const (
	testCamera = "cam1"
	waitFor    = 2 * time.Second
)

func newTestBackend(t *testing.T, cfg modernhal.SimConfig, listener capture.Listener, opts capture.Options) (*Backend, *modernhal.Simulator) {
	t.Helper()
	sim := modernhal.NewSimulator()
	sim.Add(testCamera, cfg)
	b := New(capture.Descriptor{ID: testCamera, Generation: capture.GenerationModern}, sim, listener, opts)
	t.Cleanup(b.Deallocate)
	return b, sim
}

func startStreaming(t *testing.T, b *Backend, rec *capturetest.Recorder) {
	t.Helper()
	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	rec.WaitStarted(t, waitFor)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAllocate(t *testing.T) {
	only720p := modernhal.DefaultCharacteristics()
	only720p.StreamConfigs = []modernhal.StreamConfig{
		{Format: capture.PixelFormatYUV420, Size: capture.Resolution{Width: 1280, Height: 720}},
		{Format: capture.PixelFormatJPEG, Size: capture.Resolution{Width: 1280, Height: 720}},
	}

	highRates := modernhal.DefaultCharacteristics()
	highRates.AETargetFPSRanges = []capture.FrameRateRange{{Min: 30, Max: 60}, {Min: 10, Max: 60}, {Min: 60, Max: 60}}

	tests := []struct {
		name          string
		chars         modernhal.Characteristics
		width, height int
		fps           int
		want          capture.Format
	}{
		{
			name:  "single resolution",
			chars: only720p,
			width: 1280, height: 720, fps: 30,
			want: capture.Format{Width: 1280, Height: 720, FrameRate: 30, PixelFormat: capture.PixelFormatYUV420},
		},
		{
			name:  "closest resolution",
			chars: modernhal.DefaultCharacteristics(),
			width: 700, height: 500, fps: 30,
			want: capture.Format{Width: 720, Height: 480, FrameRate: 30, PixelFormat: capture.PixelFormatYUV420},
		},
		{
			// Declared in fps; scaled before ranking so the low minimum wins
			name:  "fps ranges scaled",
			chars: highRates,
			width: 640, height: 480, fps: 60,
			want: capture.Format{Width: 640, Height: 480, FrameRate: 60, PixelFormat: capture.PixelFormatYUV420},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBackend(t, modernhal.SimConfig{Characteristics: tt.chars}, capturetest.NewRecorder(), capture.Options{})
			if err := b.Allocate(tt.width, tt.height, tt.fps); err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if got := b.Format(); got != tt.want {
				t.Errorf("Format() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAllocate_FpsRangeSelection(t *testing.T) {
	b, _ := newTestBackend(t, modernhal.SimConfig{}, capturetest.NewRecorder(), capture.Options{})

	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// 7-30 beats the fixed 30-30 range once both are in fps*1000
	if got := b.builder.fpsRange; got != (capture.FrameRateRange{Min: 7, Max: 30}) {
		t.Errorf("fps range = %v, want 7-30", got)
	}
}

func TestAllocate_NoFormat(t *testing.T) {
	chars := modernhal.DefaultCharacteristics()
	chars.StreamConfigs = []modernhal.StreamConfig{
		{Format: capture.PixelFormatJPEG, Size: capture.Resolution{Width: 640, Height: 480}},
	}
	b, _ := newTestBackend(t, modernhal.SimConfig{Characteristics: chars}, capturetest.NewRecorder(), capture.Options{})

	if err := b.Allocate(640, 480, 30); !errors.Is(err, capture.ErrNoSupportedFormat) {
		t.Fatalf("Allocate = %v, want ErrNoSupportedFormat", err)
	}
	if err := b.StartCapture(); !errors.Is(err, capture.ErrNotAllocated) {
		t.Errorf("StartCapture = %v, want ErrNotAllocated", err)
	}
}

func TestStartCapture_Streams(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, _ := newTestBackend(t, modernhal.SimConfig{}, rec, capture.Options{DeviceRotation: func() int { return 90 }})
	startStreaming(t, b, rec)

	f := rec.WaitFrame(t, waitFor)
	if !f.Planar || f.Width != 640 || f.Height != 480 {
		t.Errorf("frame = %+v, want planar 640x480", f)
	}
	if f.Size != 640*480*3/2 {
		t.Errorf("frame bytes = %d, want %d", f.Size, 640*480*3/2)
	}
	// Back-facing sensor at 90 with the device at 90 cancels out
	if f.Rotation != 0 {
		t.Errorf("rotation = %d, want 0", f.Rotation)
	}

	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture while streaming: %v", err)
	}
	if n := rec.Started(); n != 1 {
		t.Errorf("OnStarted fired %d times, want 1", n)
	}
}

func TestStartCapture_BackFacingInverts(t *testing.T) {
	tests := []struct {
		name   string
		facing capture.Facing
		sensor int
		want   int
	}{
		{"back", capture.FacingBack, 90, 0},
		{"back sensor 270", capture.FacingBack, 270, 180},
		{"front", capture.FacingFront, 270, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chars := modernhal.DefaultCharacteristics()
			chars.Facing = tt.facing
			chars.SensorOrientation = tt.sensor
			rec := capturetest.NewRecorder()
			b, _ := newTestBackend(t, modernhal.SimConfig{Characteristics: chars}, rec, capture.Options{DeviceRotation: func() int { return 90 }})
			startStreaming(t, b, rec)

			if got := rec.WaitFrame(t, waitFor).Rotation; got != tt.want {
				t.Errorf("rotation = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestControlCallsRejectedWhileOpening(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, _ := newTestBackend(t, modernhal.SimConfig{OpenDelay: 300 * time.Millisecond}, rec, capture.Options{})

	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	if err := b.StartCapture(); !errors.Is(err, capture.ErrTransitionInProgress) {
		t.Errorf("StartCapture while opening = %v, want ErrTransitionInProgress", err)
	}
	if err := b.SetPhotoOptions(capture.PhotoOptions{Zoom: 2}); !errors.Is(err, capture.ErrTransitionInProgress) {
		t.Errorf("SetPhotoOptions while opening = %v, want ErrTransitionInProgress", err)
	}
	if err := b.TakePhoto(1); !errors.Is(err, capture.ErrTransitionInProgress) {
		t.Errorf("TakePhoto while opening = %v, want ErrTransitionInProgress", err)
	}

	rec.WaitStarted(t, waitFor)
}

func TestStopCapture_WaitsForTransition(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{OpenDelay: 150 * time.Millisecond}, rec, capture.Options{})

	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	start := time.Now()
	if err := b.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("StopCapture returned after %v, before the open settled", elapsed)
	}
	if d := sim.Device(testCamera); d == nil || !d.Closed() {
		t.Error("device not closed by StopCapture")
	}

	count := rec.FrameCount()
	time.Sleep(100 * time.Millisecond)
	if got := rec.FrameCount(); got != count {
		t.Errorf("%d frames delivered after stop", got-count)
	}
}

func TestStopCapture_BoundedWait(t *testing.T) {
	rec := capturetest.NewRecorder()
	opts := capture.Options{StateWaitTimeout: 50 * time.Millisecond}
	b, sim := newTestBackend(t, modernhal.SimConfig{OpenDelay: 500 * time.Millisecond}, rec, opts)

	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	start := time.Now()
	if err := b.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("StopCapture blocked %v, want the wait bounded by the timeout", elapsed)
	}

	// The late open is closed as soon as it completes
	waitUntil(t, "late device to be closed", func() bool {
		d := sim.Device(testCamera)
		return d != nil && d.Closed()
	})
	time.Sleep(50 * time.Millisecond)
	if n := rec.Started(); n != 0 {
		t.Errorf("OnStarted fired %d times after stop", n)
	}
}

func TestStopCapture_Idempotent(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{}, rec, capture.Options{})

	if err := b.StopCapture(); err != nil {
		t.Fatalf("StopCapture before start: %v", err)
	}
	startStreaming(t, b, rec)
	rec.WaitFrame(t, waitFor)

	for i := 0; i < 2; i++ {
		if err := b.StopCapture(); err != nil {
			t.Fatalf("StopCapture #%d: %v", i, err)
		}
	}
	if !sim.Device(testCamera).Closed() {
		t.Error("device not closed")
	}
	if errs := rec.Errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}

	// Restart opens a fresh device
	if err := b.StartCapture(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	rec.WaitStarted(t, waitFor)
}

func TestDeallocate_ResetsFormat(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, _ := newTestBackend(t, modernhal.SimConfig{}, rec, capture.Options{})
	startStreaming(t, b, rec)

	b.Deallocate()
	b.Deallocate()
	if f := b.Format(); !f.IsZero() {
		t.Errorf("Format() after Deallocate = %+v, want zero", f)
	}
	if err := b.StartCapture(); !errors.Is(err, capture.ErrNotAllocated) {
		t.Errorf("StartCapture after Deallocate = %v, want ErrNotAllocated", err)
	}
}

func TestStartCapture_OpenFailures(t *testing.T) {
	t.Run("synchronous", func(t *testing.T) {
		b, _ := newTestBackend(t, modernhal.SimConfig{OpenError: errors.New("busy")}, capturetest.NewRecorder(), capture.Options{})
		if err := b.Allocate(640, 480, 30); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if err := b.StartCapture(); !errors.Is(err, capture.ErrOpenFailed) {
			t.Fatalf("StartCapture = %v, want ErrOpenFailed", err)
		}
		// Back in closed: a retry is not a transition in progress
		if err := b.StartCapture(); !errors.Is(err, capture.ErrOpenFailed) {
			t.Fatalf("retry StartCapture = %v, want ErrOpenFailed", err)
		}
	})

	t.Run("asynchronous", func(t *testing.T) {
		rec := capturetest.NewRecorder()
		b, _ := newTestBackend(t, modernhal.SimConfig{OpenCallbackError: errors.New("hal error 4")}, rec, capture.Options{})
		if err := b.Allocate(640, 480, 30); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if err := b.StartCapture(); err != nil {
			t.Fatalf("StartCapture: %v", err)
		}
		if err := rec.WaitError(t, waitFor); !errors.Is(err, capture.ErrOpenFailed) {
			t.Errorf("OnError = %v, want ErrOpenFailed", err)
		}
		if err := b.TakePhoto(1); !errors.Is(err, capture.ErrNotStreaming) {
			t.Errorf("TakePhoto after failed open = %v, want ErrNotStreaming", err)
		}
		if rec.Started() != 0 {
			t.Error("OnStarted fired for a failed open")
		}
	})
}

func TestStartCapture_ConfigureFailure(t *testing.T) {
	rec := capturetest.NewRecorder()
	cfg := modernhal.SimConfig{
		FailConfigure: func([]modernhal.Surface) error { return errors.New("stream combination unsupported") },
	}
	b, sim := newTestBackend(t, cfg, rec, capture.Options{})
	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	rec.WaitError(t, waitFor)
	waitUntil(t, "device close", func() bool { return sim.Device(testCamera).Closed() })
	if err := b.StopCapture(); err != nil {
		t.Errorf("StopCapture after failure: %v", err)
	}
}

func TestDisconnectWhileStreaming(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{}, rec, capture.Options{})
	startStreaming(t, b, rec)

	sim.Disconnect(testCamera)
	if err := rec.WaitError(t, waitFor); !errors.Is(err, modernhal.ErrDisconnected) {
		t.Errorf("OnError = %v, want ErrDisconnected", err)
	}
	if err := b.TakePhoto(1); !errors.Is(err, capture.ErrNotStreaming) {
		t.Errorf("TakePhoto after disconnect = %v, want ErrNotStreaming", err)
	}
}

func TestTakePhoto(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{CaptureDelay: 150 * time.Millisecond}, rec, capture.Options{})

	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := b.TakePhoto(1); !errors.Is(err, capture.ErrNotStreaming) {
		t.Fatalf("TakePhoto before start = %v, want ErrNotStreaming", err)
	}
	if err := b.SetPhotoOptions(capture.PhotoOptions{Width: 640, Height: 480}); err != nil {
		t.Fatalf("SetPhotoOptions: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	rec.WaitStarted(t, waitFor)

	if err := b.TakePhoto(11); err != nil {
		t.Fatalf("TakePhoto: %v", err)
	}
	if err := b.TakePhoto(12); !errors.Is(err, capture.ErrPhotoPending) {
		t.Fatalf("second TakePhoto = %v, want ErrPhotoPending", err)
	}

	photo := rec.WaitPhoto(t, waitFor)
	if photo.CallbackID != 11 {
		t.Errorf("callback id = %d, want 11", photo.CallbackID)
	}
	if len(photo.Data) < 2 || photo.Data[0] != 0xFF || photo.Data[1] != 0xD8 {
		t.Errorf("photo is not a JPEG (%d bytes)", len(photo.Data))
	}

	// preview, still, rebuilt preview
	if n := sim.Device(testCamera).SessionCount(); n != 3 {
		t.Errorf("session count = %d, want 3", n)
	}
	count := rec.FrameCount()
	waitUntil(t, "preview frames after photo", func() bool { return rec.FrameCount() > count })
	if n := rec.Started(); n != 1 {
		t.Errorf("OnStarted fired %d times, want 1", n)
	}

	if err := b.TakePhoto(13); err != nil {
		t.Fatalf("TakePhoto after completion: %v", err)
	}
	if p := rec.WaitPhoto(t, waitFor); p.CallbackID != 13 {
		t.Errorf("callback id = %d, want 13", p.CallbackID)
	}
}

func TestTakePhoto_FailuresStillComplete(t *testing.T) {
	tests := []struct {
		name string
		cfg  modernhal.SimConfig
	}{
		{"capture failure", modernhal.SimConfig{CaptureError: errors.New("sensor timeout")}},
		{"session failure", modernhal.SimConfig{FailConfigure: func(outputs []modernhal.Surface) error {
			for _, s := range outputs {
				if s.Format() == capture.PixelFormatJPEG {
					return errors.New("jpeg stream unsupported")
				}
			}
			return nil
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := capturetest.NewRecorder()
			b, _ := newTestBackend(t, tt.cfg, rec, capture.Options{})
			startStreaming(t, b, rec)

			if err := b.TakePhoto(5); err != nil {
				t.Fatalf("TakePhoto: %v", err)
			}
			photo := rec.WaitPhoto(t, waitFor)
			if photo.CallbackID != 5 || len(photo.Data) != 0 {
				t.Errorf("photo = {%d, %d bytes}, want {5, empty}", photo.CallbackID, len(photo.Data))
			}

			count := rec.FrameCount()
			waitUntil(t, "preview rebuilt", func() bool { return rec.FrameCount() > count })
			if errs := rec.Errors(); len(errs) != 0 {
				t.Errorf("photo failure surfaced as device error: %v", errs)
			}

			if err := b.TakePhoto(6); err != nil {
				t.Fatalf("TakePhoto after failure: %v", err)
			}
			rec.WaitPhoto(t, waitFor)
		})
	}
}

func TestTakePhoto_StopDuringCapture(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, _ := newTestBackend(t, modernhal.SimConfig{CaptureDelay: 300 * time.Millisecond}, rec, capture.Options{})
	startStreaming(t, b, rec)

	if err := b.TakePhoto(21); err != nil {
		t.Fatalf("TakePhoto: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := b.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	photo := rec.WaitPhoto(t, waitFor)
	if photo.CallbackID != 21 || len(photo.Data) != 0 {
		t.Errorf("photo = {%d, %d bytes}, want {21, empty}", photo.CallbackID, len(photo.Data))
	}
	if n := len(rec.Photos()); n != 1 {
		t.Errorf("got %d completions, want 1", n)
	}
}

func TestSetPhotoOptions_AppliesInPlace(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{}, rec, capture.Options{})
	startStreaming(t, b, rec)

	device := sim.Device(testCamera)
	sessions := device.SessionCount()

	torch := true
	opts := capture.PhotoOptions{
		Zoom:            2,
		PointOfInterest: &capture.Point{X: 0, Y: 0},
		FillLightMode:   capture.FillLightFlash,
		Torch:           &torch,
	}
	if err := b.SetPhotoOptions(opts); err != nil {
		t.Fatalf("SetPhotoOptions: %v", err)
	}

	if n := device.SessionCount(); n != sessions {
		t.Errorf("session count = %d, want %d (no new session)", n, sessions)
	}
	req := device.Session().Repeating()
	wantCrop := image.Rect(1008, 756, 3024, 2268)
	if req.CropRegion != wantCrop {
		t.Errorf("crop = %v, want %v", req.CropRegion, wantCrop)
	}
	if len(req.AFRegions) != 1 {
		t.Fatalf("AF regions = %v, want one", req.AFRegions)
	}
	// The point is relative to the zoomed view, so (0,0) is the crop corner
	if r := req.AFRegions[0].Rect; r.Min != wantCrop.Min || !r.In(wantCrop) {
		t.Errorf("AF region = %v, want anchored at %v inside the crop", r, wantCrop.Min)
	}
	if req.FlashMode != modernhal.FlashModeTorch || req.AEMode != modernhal.AEModeOn {
		t.Errorf("flash = %v ae = %v, want torch with plain AE", req.FlashMode, req.AEMode)
	}

	torch = false
	redEye := true
	if err := b.SetPhotoOptions(capture.PhotoOptions{Torch: &torch, FillLightMode: capture.FillLightAuto, RedEyeReduction: &redEye}); err != nil {
		t.Fatalf("SetPhotoOptions: %v", err)
	}
	req = device.Session().Repeating()
	if req.AEMode != modernhal.AEModeOnAutoFlashRedEye || req.FlashMode != modernhal.FlashModeOff {
		t.Errorf("ae = %v flash = %v, want auto flash red-eye", req.AEMode, req.FlashMode)
	}

	iso := 400.0
	if err := b.SetPhotoOptions(capture.PhotoOptions{ExposureMode: capture.MeteringModeManual, ISO: &iso}); err != nil {
		t.Fatalf("SetPhotoOptions: %v", err)
	}
	req = device.Session().Repeating()
	if req.AEMode != modernhal.AEModeOff || req.Sensitivity != 400 {
		t.Errorf("ae = %v sensitivity = %d, want manual ISO 400", req.AEMode, req.Sensitivity)
	}
	if len(req.AFRegions) != 0 {
		t.Errorf("manual exposure kept the point of interest: %v", req.AFRegions)
	}
}

func TestTakePhoto_OptionsSetWhilePendingSurvive(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{CaptureDelay: 150 * time.Millisecond}, rec, capture.Options{})
	startStreaming(t, b, rec)

	if err := b.TakePhoto(1); err != nil {
		t.Fatalf("TakePhoto: %v", err)
	}
	torch := true
	if err := b.SetPhotoOptions(capture.PhotoOptions{Zoom: 2, Torch: &torch}); err != nil {
		t.Fatalf("SetPhotoOptions while pending: %v", err)
	}
	rec.WaitPhoto(t, waitFor)

	device := sim.Device(testCamera)
	wantCrop := capture.CropForZoom(image.Rect(0, 0, 4032, 3024), 2)
	waitUntil(t, "rebuilt preview", func() bool {
		s := device.Session()
		return s != nil && s.Repeating() != nil && s.Repeating().CropRegion == wantCrop
	})
	if req := device.Session().Repeating(); req.FlashMode != modernhal.FlashModeTorch {
		t.Errorf("flash = %v, want torch", req.FlashMode)
	}
	caps, err := b.PhotoCapabilities()
	if err != nil {
		t.Fatalf("PhotoCapabilities: %v", err)
	}
	if caps.Zoom.Current != 2 || !caps.Torch {
		t.Errorf("caps zoom = %v torch = %v, want 2 and true", caps.Zoom.Current, caps.Torch)
	}
}

func TestSetPhotoOptions_WhileClosedAppliesOnStart(t *testing.T) {
	rec := capturetest.NewRecorder()
	b, sim := newTestBackend(t, modernhal.SimConfig{}, rec, capture.Options{})
	if err := b.SetPhotoOptions(capture.PhotoOptions{Zoom: 2}); !errors.Is(err, capture.ErrNotAllocated) {
		t.Fatalf("SetPhotoOptions before Allocate = %v, want ErrNotAllocated", err)
	}
	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	kelvin := 5000.0
	if err := b.SetPhotoOptions(capture.PhotoOptions{Zoom: 4, WhiteBalanceMode: capture.MeteringModeManual, ColorTemperature: &kelvin}); err != nil {
		t.Fatalf("SetPhotoOptions while closed: %v", err)
	}
	if err := b.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	rec.WaitStarted(t, waitFor)

	req := sim.Device(testCamera).Session().Repeating()
	if want := capture.CropForZoom(image.Rect(0, 0, 4032, 3024), 4); req.CropRegion != want {
		t.Errorf("crop = %v, want %v", req.CropRegion, want)
	}
	if req.AWBMode != modernhal.AWBModeDaylight {
		t.Errorf("awb mode = %v, want daylight for 5000K", req.AWBMode)
	}
	if req.AETargetFPSRange != (capture.FrameRateRange{Min: 7, Max: 30}) {
		t.Errorf("fps range = %v, want 7-30", req.AETargetFPSRange)
	}
}

func TestPhotoCapabilities(t *testing.T) {
	b, _ := newTestBackend(t, modernhal.SimConfig{}, capturetest.NewRecorder(), capture.Options{})
	if _, err := b.PhotoCapabilities(); !errors.Is(err, capture.ErrNotAllocated) {
		t.Fatalf("PhotoCapabilities before Allocate = %v, want ErrNotAllocated", err)
	}
	if err := b.Allocate(640, 480, 30); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	caps, err := b.PhotoCapabilities()
	if err != nil {
		t.Fatalf("PhotoCapabilities: %v", err)
	}

	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
	checks := []struct {
		name      string
		got, want float64
	}{
		{"zoom max", caps.Zoom.Max, 8},
		{"zoom current", caps.Zoom.Current, 1},
		{"exposure min", caps.ExposureCompensation.Min, -2},
		{"exposure max", caps.ExposureCompensation.Max, 2},
		{"iso max", caps.ISO.Max, 3200},
		{"width max", caps.Width.Max, 4032},
		{"width current", caps.Width.Current, 4032},
		{"color temperature min", caps.ColorTemperature.Min, 2850},
		{"color temperature max", caps.ColorTemperature.Max, 7000},
	}
	for _, c := range checks {
		if !near(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if len(caps.FillLightModes) != 3 || !caps.SupportsTorch || !caps.RedEyeReduction {
		t.Errorf("fill light = %v torch = %v red-eye = %v", caps.FillLightModes, caps.SupportsTorch, caps.RedEyeReduction)
	}
	if len(caps.FocusModes) != 3 {
		t.Errorf("focus modes = %v, want manual, single-shot, continuous", caps.FocusModes)
	}
}
