package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/overlay"
)

func solidI420(w, h int, y, u, v byte) []byte {
	cw, ch := chromaSize(w, h)
	buf := make([]byte, i420Size(w, h))
	for i := range buf[:w*h] {
		buf[i] = y
	}
	for i := 0; i < cw*ch; i++ {
		buf[w*h+i] = u
		buf[w*h+cw*ch+i] = v
	}
	return buf
}

func TestToRGBA(t *testing.T) {
	tests := []struct {
		name string
		y    byte
		want color.RGBA
	}{
		{"black", 0, color.RGBA{0, 0, 0, 255}},
		{"white", 255, color.RGBA{255, 255, 255, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := ToRGBA(solidI420(4, 2, tt.y, 128, 128), 4, 2)
			if img.Bounds() != image.Rect(0, 0, 4, 2) {
				t.Fatalf("bounds = %v", img.Bounds())
			}
			if got := img.RGBAAt(3, 1); got != tt.want {
				t.Errorf("pixel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRotate(t *testing.T) {
	a := color.RGBA{255, 0, 0, 255}
	b := color.RGBA{0, 0, 255, 255}
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, a)
	src.SetRGBA(1, 0, b)

	tests := []struct {
		degrees    int
		size       image.Point
		first, end image.Point
	}{
		{90, image.Pt(1, 2), image.Pt(0, 0), image.Pt(0, 1)},
		{180, image.Pt(2, 1), image.Pt(1, 0), image.Pt(0, 0)},
		{270, image.Pt(1, 2), image.Pt(0, 1), image.Pt(0, 0)},
		{-90, image.Pt(1, 2), image.Pt(0, 1), image.Pt(0, 0)},
		{360, image.Pt(2, 1), image.Pt(0, 0), image.Pt(1, 0)},
	}
	for _, tt := range tests {
		got := Rotate(src, tt.degrees)
		if got.Bounds().Size() != tt.size {
			t.Errorf("Rotate(%d) size = %v, want %v", tt.degrees, got.Bounds().Size(), tt.size)
			continue
		}
		if got.RGBAAt(tt.first.X, tt.first.Y) != a || got.RGBAAt(tt.end.X, tt.end.Y) != b {
			t.Errorf("Rotate(%d): a at %v, b at %v not found", tt.degrees, tt.first, tt.end)
		}
	}

	if Rotate(src, 45) != src {
		t.Error("non right angle rotation should return the source")
	}
}

func TestPackFrame(t *testing.T) {
	format := capture.Format{Width: 2, Height: 2, PixelFormat: capture.PixelFormatNV21}
	// Y plane then one V,U pair
	nv21 := []byte{1, 2, 3, 4, 9, 7}
	dst := make([]byte, i420Size(2, 2))
	if err := packFrame(dst, nv21, format); err != nil {
		t.Fatalf("packFrame: %v", err)
	}
	if want := []byte{1, 2, 3, 4, 7, 9}; !bytes.Equal(dst, want) {
		t.Errorf("packed = %v, want %v", dst, want)
	}

	if err := packFrame(dst, nv21[:4], format); !errors.Is(err, errShortFrame) {
		t.Errorf("short frame: err = %v", err)
	}
	format.PixelFormat = capture.PixelFormatJPEG
	if err := packFrame(dst, nv21, format); !errors.Is(err, errUnsupportedFormat) {
		t.Errorf("jpeg frame: err = %v", err)
	}
}

func TestPackPlanar(t *testing.T) {
	// 4x2 with padded luma rows and semi-planar chroma (pixel stride 2)
	pf := capture.PlanarFrame{
		Y:             []byte{1, 2, 3, 4, 0, 0, 5, 6, 7, 8},
		U:             []byte{10, 0, 11},
		V:             []byte{20, 0, 21},
		YStride:       6,
		UVStride:      4,
		UVPixelStride: 2,
		Width:         4,
		Height:        2,
	}
	dst := make([]byte, i420Size(4, 2))
	if err := packPlanar(dst, pf); err != nil {
		t.Fatalf("packPlanar: %v", err)
	}
	if want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 20, 21}; !bytes.Equal(dst, want) {
		t.Errorf("packed = %v, want %v", dst, want)
	}

	pf.Y = pf.Y[:8]
	if err := packPlanar(dst, pf); !errors.Is(err, errShortFrame) {
		t.Errorf("short luma: err = %v", err)
	}
}

func TestMJPEG_SubmitLatestWins(t *testing.T) {
	m := NewMJPEGOutput("cam0", Config{}, nil)
	// Pretend to run with one client and no worker draining the slot
	m.running = true
	m.clients[make(chan []byte, 1)] = struct{}{}

	format := capture.Format{Width: 4, Height: 2, PixelFormat: capture.PixelFormatYUV420}
	m.SubmitFrame(solidI420(4, 2, 10, 128, 128), format, 0)
	m.SubmitFrame(solidI420(4, 2, 20, 128, 128), format, 90)
	m.SubmitFrame([]byte{1}, format, 0)

	f, _ := m.take()
	if f == nil {
		t.Fatal("no pending frame")
	}
	if f.seq != 2 || f.rotation != 90 || f.data[0] != 20 {
		t.Errorf("pending frame seq=%d rotation=%d y=%d, want the second frame", f.seq, f.rotation, f.data[0])
	}
	stats := m.Stats()
	if stats.Submitted != 3 || stats.Dropped != 1 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMJPEG_SkipsWithoutClients(t *testing.T) {
	m := NewMJPEGOutput("cam0", Config{}, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	m.SubmitFrame(solidI420(4, 2, 10, 128, 128), capture.Format{Width: 4, Height: 2, PixelFormat: capture.PixelFormatYUV420}, 0)
	if f, _ := m.take(); f != nil {
		t.Error("frame queued with no clients connected")
	}
	if err := m.Start(); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestMJPEG_Stream(t *testing.T) {
	ov := overlay.NewManager()
	ov.LoadFromConfig([]map[string]interface{}{{"type": "capture-info", "id": "info"}})

	m := NewMJPEGOutput("cam0", Config{FPS: 100, Quality: 70}, ov)
	m.SetFormat(capture.Format{Width: 64, Height: 32, FrameRate: 30, PixelFormat: capture.PixelFormatYUV420})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Feed frames until the client has read one
	stopFeed := make(chan struct{})
	defer close(stopFeed)
	go func() {
		w, h := 64, 32
		y := make([]byte, w*h)
		uv := make([]byte, w*h/4)
		for i := range uv {
			uv[i] = 128
		}
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-ticker.C:
				m.SubmitPlanar(capture.PlanarFrame{
					Y: y, U: uv, V: uv,
					YStride: w, UVStride: w / 2, UVPixelStride: 1,
					Width: w, Height: h, Rotation: 90,
				})
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("Content-Type = %q", ct)
	}
	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	data, err := io.ReadAll(part)
	if err != nil {
		t.Fatalf("read part: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(32, 64) {
		t.Errorf("frame size = %v, want rotated 32x64", got)
	}

	if m.Stats().Frames == 0 {
		t.Error("Frames counter not advanced")
	}
}

func TestMJPEG_StatsHandler(t *testing.T) {
	m := NewMJPEGOutput("cam0", Config{Width: 320, Height: 240, FPS: 15}, nil)

	rec := httptest.NewRecorder()
	m.GetStatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/stats/cam0", nil))

	var stats Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.DeviceID != "cam0" || stats.Running || stats.TargetFPS != 15 || stats.Width != 320 {
		t.Errorf("stats = %+v", stats)
	}

	rec = httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream/cam0", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stream on a stopped output: status %d, want 503", rec.Code)
	}
}
