package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/logger"
	"github.com/bryanchriswhite/videocapture/internal/overlay"
)

// frame is a preview frame normalized to packed I420
type frame struct {
	data      []byte
	width     int
	height    int
	rotation  int
	timestamp time.Duration
	seq       uint64
}

func (f *frame) reset(width, height int) {
	n := i420Size(width, height)
	if cap(f.data) < n {
		f.data = make([]byte, n)
	}
	f.data = f.data[:n]
	f.width, f.height = width, height
}

// Stats is a snapshot of the stream counters
type Stats struct {
	DeviceID   string         `json:"device_id"`
	Running    bool           `json:"running"`
	Format     capture.Format `json:"format"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	TargetFPS  int            `json:"target_fps"`
	ActualFPS  float64        `json:"actual_fps"`
	Frames     uint64         `json:"frames"`
	Submitted  uint64         `json:"submitted"`
	Dropped    uint64         `json:"dropped"`
	Rejected   uint64         `json:"rejected"`
	Clients    int            `json:"clients"`
	LastUpdate time.Time      `json:"last_update,omitempty"`
	Uptime     string         `json:"uptime"`
}

// MJPEGOutput streams one device's preview as Motion JPEG over HTTP.
// Frames are submitted from the device callback into a single slot; a
// worker goroutine converts, rotates, stamps the overlay and encodes the
// newest one at most FPS times a second.
type MJPEGOutput struct {
	deviceID string
	config   Config
	overlay  *overlay.Manager
	running  bool
	mu       sync.RWMutex
	stop     chan struct{}
	done     chan struct{}

	// Latest-wins frame slot
	frameMu sync.Mutex
	format  capture.Format
	pending *frame
	spare   *frame
	wake    chan struct{}

	// Last encoded frame, replayed to new clients
	lastMu     sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	statsMu    sync.Mutex
	frameCount uint64
	submitted  uint64
	dropped    uint64
	rejected   uint64
	fps        float64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream for deviceID. overlay may be nil.
func NewMJPEGOutput(deviceID string, config Config, ov *overlay.Manager) *MJPEGOutput {
	return &MJPEGOutput{
		deviceID: deviceID,
		config:   config,
		overlay:  ov,
		clients:  make(map[chan []byte]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the encoder goroutine
// Note: The HTTP handler is registered separately via GetHTTPHandler()
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output %s already running", m.deviceID)
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	m.statsMu.Lock()
	m.startTime = time.Now()
	m.frameCount = 0
	m.statsMu.Unlock()

	go m.run(m.stop, m.done)

	logger.WithDevice("mjpeg", m.deviceID).Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("Output started")
	return nil
}

// Stop shuts down the encoder and disconnects all clients
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.frameMu.Lock()
	m.pending = nil
	m.frameMu.Unlock()

	m.statsMu.Lock()
	frames := m.frameCount
	m.statsMu.Unlock()
	logger.WithDevice("mjpeg", m.deviceID).Info().Uint64("frames", frames).Msg("Output stopped")
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// SetFormat records the negotiated device format for single-plane
// frames and the overlay
func (m *MJPEGOutput) SetFormat(format capture.Format) {
	m.frameMu.Lock()
	m.format = format
	m.frameMu.Unlock()
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// SubmitFrame queues a single-plane frame in format
func (m *MJPEGOutput) SubmitFrame(data []byte, format capture.Format, rotation int) {
	m.submit(format.Width, format.Height, func(f *frame) error {
		f.rotation = rotation
		f.timestamp = 0
		return packFrame(f.data, data, format)
	})
}

// SubmitPlanar queues a planar frame
func (m *MJPEGOutput) SubmitPlanar(pf capture.PlanarFrame) {
	m.submit(pf.Width, pf.Height, func(f *frame) error {
		f.rotation = pf.Rotation
		f.timestamp = pf.Timestamp
		return packPlanar(f.data, pf)
	})
}

func (m *MJPEGOutput) submit(width, height int, fill func(*frame) error) {
	m.statsMu.Lock()
	m.submitted++
	seq := m.submitted
	m.statsMu.Unlock()

	// Nobody is watching; skip the copy
	if !m.IsRunning() || m.ClientCount() == 0 || width <= 0 || height <= 0 {
		return
	}

	m.frameMu.Lock()
	f := m.spare
	m.spare = nil
	if f == nil {
		f = &frame{}
	}
	f.reset(width, height)
	f.seq = seq
	if err := fill(f); err != nil {
		m.spare = f
		m.frameMu.Unlock()
		m.countRejected()
		logger.WithDevice("mjpeg", m.deviceID).Debug().Err(err).Msg("Dropping frame")
		return
	}
	replaced := m.pending
	m.pending = f
	if replaced != nil {
		m.spare = replaced
	}
	m.frameMu.Unlock()

	if replaced != nil {
		m.statsMu.Lock()
		m.dropped++
		m.statsMu.Unlock()
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *MJPEGOutput) countRejected() {
	m.statsMu.Lock()
	m.rejected++
	m.statsMu.Unlock()
}

func (m *MJPEGOutput) take() (*frame, capture.Format) {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	f := m.pending
	m.pending = nil
	return f, m.format
}

func (m *MJPEGOutput) recycle(f *frame) {
	m.frameMu.Lock()
	if m.spare == nil {
		m.spare = f
	}
	m.frameMu.Unlock()
}

func (m *MJPEGOutput) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var interval time.Duration
	if m.config.FPS > 0 {
		interval = time.Second / time.Duration(m.config.FPS)
	}
	log := logger.WithDevice("mjpeg", m.deviceID)

	for {
		select {
		case <-stop:
			return
		case <-m.wake:
		}

		f, format := m.take()
		if f == nil {
			continue
		}
		started := time.Now()
		if err := m.WriteFrame(m.render(f, format)); err != nil {
			log.Warn().Err(err).Msg("Failed to write frame")
		}
		m.recycle(f)

		if interval > 0 {
			if wait := interval - time.Since(started); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-stop:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
	}
}

func (m *MJPEGOutput) render(f *frame, format capture.Format) *image.RGBA {
	img := Rotate(ToRGBA(f.data, f.width, f.height), f.rotation)
	img = scale(img, m.config.Width, m.config.Height)

	if m.overlay != nil {
		m.statsMu.Lock()
		fps := m.fps
		m.statsMu.Unlock()
		m.overlay.Render(img, overlay.FrameInfo{
			DeviceID:  m.deviceID,
			Format:    format,
			Rotation:  f.rotation,
			Sequence:  f.seq,
			Timestamp: f.timestamp,
			FPS:       fps,
			Time:      time.Now(),
		})
	}
	return img
}

// WriteFrame encodes frame and sends it to all connected clients
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output %s not running", m.deviceID)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.quality()}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	now := time.Now()
	m.lastMu.Lock()
	prev := m.lastUpdate
	m.lastJPEG = jpegData
	m.lastUpdate = now
	m.lastMu.Unlock()

	m.statsMu.Lock()
	m.frameCount++
	if !prev.IsZero() {
		if dt := now.Sub(prev).Seconds(); dt > 0 {
			if m.fps == 0 {
				m.fps = 1 / dt
			} else {
				m.fps = 0.9*m.fps + 0.1/dt
			}
		}
	}
	m.statsMu.Unlock()

	// Broadcast to all clients
	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// LatestJPEG returns the most recently encoded frame, or nil
func (m *MJPEGOutput) LatestJPEG() []byte {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.lastJPEG
}

// Stats returns the current stream counters
func (m *MJPEGOutput) Stats() Stats {
	running := m.IsRunning()

	m.frameMu.Lock()
	format := m.format
	m.frameMu.Unlock()

	m.lastMu.RLock()
	lastUpdate := m.lastUpdate
	m.lastMu.RUnlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	uptime := "N/A"
	if running && !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Round(time.Second).String()
	}
	return Stats{
		DeviceID:   m.deviceID,
		Running:    running,
		Format:     format,
		Width:      m.config.Width,
		Height:     m.config.Height,
		TargetFPS:  m.config.FPS,
		ActualFPS:  m.fps,
		Frames:     m.frameCount,
		Submitted:  m.submitted,
		Dropped:    m.dropped,
		Rejected:   m.rejected,
		Clients:    m.ClientCount(),
		LastUpdate: lastUpdate,
		Uptime:     uptime,
	}
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream.
// The handler returns when the client goes away or the output stops.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		frameChan := make(chan []byte, 2)
		if last := m.LatestJPEG(); last != nil {
			frameChan <- last
		}

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithDevice("mjpeg", m.deviceID)
		log.Info().Int("clients", clientCount).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Client disconnected")
		}()

		for {
			var jpegData []byte
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frameChan:
				if !ok {
					return
				}
				jpegData = data
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// GetStatsHandler returns an HTTP handler that reports Stats as JSON
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Stats()); err != nil {
			logger.WithDevice("mjpeg", m.deviceID).Warn().Err(err).Msg("Failed to encode stats")
		}
	}
}
