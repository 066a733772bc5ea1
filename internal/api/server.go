package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/videocapture/internal/camera"
	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/config"
	"github.com/bryanchriswhite/videocapture/internal/logger"
	"github.com/bryanchriswhite/videocapture/internal/output"
	"github.com/bryanchriswhite/videocapture/internal/overlay"
)

const version = "0.1.0"

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	cameras   *camera.Manager
	overlay   *overlay.Manager
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server. ov and configMgr may be nil; without
// a config, allocation defaults to 640x480 at 30 fps.
func NewServer(cameras *camera.Manager, ov *overlay.Manager, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		cameras:   cameras,
		overlay:   ov,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Devices
	api.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	api.HandleFunc("/devices/{id}", s.handleGetDevice).Methods("GET")
	api.HandleFunc("/devices/{id}", s.handleCloseDevice).Methods("DELETE")
	api.HandleFunc("/devices/{id}/allocate", s.handleAllocate).Methods("POST")
	api.HandleFunc("/devices/{id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/devices/{id}/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/devices/{id}/capabilities", s.handleCapabilities).Methods("GET")
	api.HandleFunc("/devices/{id}/options", s.handleSetOptions).Methods("PUT")
	api.HandleFunc("/devices/{id}/photo", s.handleTakePhoto).Methods("POST")

	// Photos
	api.HandleFunc("/photos/{job}", s.handleGetPhoto).Methods("GET")
	api.HandleFunc("/photos/{job}/image", s.handleGetPhotoImage).Methods("GET")

	// Overlay
	api.HandleFunc("/overlay", s.handleGetOverlay).Methods("GET")
	api.HandleFunc("/overlay", s.handleSetOverlay).Methods("PUT")
	api.HandleFunc("/overlay/widgets", s.handleCreateWidget).Methods("POST")
	api.HandleFunc("/overlay/widgets/{id}", s.handleUpdateWidget).Methods("PUT")
	api.HandleFunc("/overlay/widgets/{id}", s.handleDeleteWidget).Methods("DELETE")

	// Events
	api.HandleFunc("/events", s.handleEvents)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Preview streams
	s.router.HandleFunc("/stream/{id}", s.handleStream).Methods("GET")
	s.router.HandleFunc("/stats/{id}", s.handleStats).Methods("GET")

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", s.http.Addr).Msg("Starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for active requests until ctx ends.
// Streaming clients are cut off when their cameras close.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode response")
	}
}

// statusFor maps device and manager errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrUnknownCamera),
		errors.Is(err, camera.ErrUnknownJob),
		errors.Is(err, overlay.ErrUnknownWidget):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrNoSupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, camera.ErrNotOpen),
		errors.Is(err, camera.ErrAlreadyOpen),
		errors.Is(err, capture.ErrNotAllocated),
		errors.Is(err, capture.ErrCameraInUse),
		errors.Is(err, capture.ErrNotStreaming),
		errors.Is(err, capture.ErrPhotoPending),
		errors.Is(err, capture.ErrTransitionInProgress),
		errors.Is(err, overlay.ErrWidgetExists):
		return http.StatusConflict
	case errors.Is(err, capture.ErrOpenFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithComponent("api").Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cameras.Statuses())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.cameras.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type allocateRequest struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`
}

func (s *Server) allocateDefaults() allocateRequest {
	req := allocateRequest{Width: 640, Height: 480, FrameRate: 30}
	if s.configMgr != nil {
		c := s.configMgr.Get().Capture
		if c.Width > 0 && c.Height > 0 {
			req.Width, req.Height = c.Width, c.Height
		}
		if c.FrameRate > 0 {
			req.FrameRate = c.FrameRate
		}
	}
	return req
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	req := s.allocateDefaults()
	// An empty body keeps the configured defaults
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.Width <= 0 || req.Height <= 0 || req.FrameRate <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "width, height and frame_rate must be positive"})
		return
	}

	format, err := s.cameras.Allocate(mux.Vars(r)["id"], req.Width, req.Height, req.FrameRate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, format)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cameras.Start(id); err != nil {
		writeError(w, err)
		return
	}
	st, _ := s.cameras.Status(id)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.cameras.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	st, _ := s.cameras.Status(id)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCloseDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.cameras.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := s.cameras.Capabilities(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	var opts capture.PhotoOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.cameras.SetOptions(id, opts); err != nil {
		writeError(w, err)
		return
	}
	caps, err := s.cameras.Capabilities(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (s *Server) handleTakePhoto(w http.ResponseWriter, r *http.Request) {
	job, err := s.cameras.TakePhoto(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/photos/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	job, _, err := s.cameras.Photo(mux.Vars(r)["job"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetPhotoImage(w http.ResponseWriter, r *http.Request) {
	job, data, err := s.cameras.Photo(mux.Vars(r)["job"])
	if err != nil {
		writeError(w, err)
		return
	}
	switch job.Status {
	case camera.JobPending:
		writeJSON(w, http.StatusAccepted, job)
	case camera.JobFailed:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "capture produced no image"})
	default:
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", job.ID+".jpg"))
		w.Write(data)
	}
}

// handleEvents pushes camera events over a websocket. The first message
// is a snapshot of every device.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	// Subscribe before the handshake completes so no event is missed
	events := s.cameras.Subscribe()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cameras.Unsubscribe(events)
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()
	defer s.cameras.Unsubscribe(events)

	// Reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := map[string]interface{}{"type": "snapshot", "devices": s.cameras.Statuses()}
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case <-closed:
			return
		case e, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

// output resolves the MJPEG output of an allocated camera
func (s *Server) output(id string) (*output.MJPEGOutput, error) {
	if out, ok := s.cameras.Output(id); ok {
		return out, nil
	}
	if _, err := s.cameras.Status(id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", camera.ErrNotOpen, id)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	out, err := s.output(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	out.GetHTTPHandler()(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.output(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	out.GetStatsHandler()(w, r)
}

func (s *Server) requireOverlay(w http.ResponseWriter) bool {
	if s.overlay == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "overlay not configured"})
		return false
	}
	return true
}

func (s *Server) overlayState() map[string]interface{} {
	return map[string]interface{}{
		"enabled": s.overlay.IsEnabled(),
		"widgets": s.overlay.ExportConfig(),
		"types":   overlay.WidgetTypes(),
	}
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	if !s.requireOverlay(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.overlayState())
}

func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	if !s.requireOverlay(w) {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must set enabled"})
		return
	}
	s.overlay.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, s.overlayState())
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	if !s.requireOverlay(w) {
		return
	}
	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.overlay.Load(cfg); err != nil {
		if errors.Is(err, overlay.ErrWidgetExists) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, _ := cfg["id"].(string)
	widget, _ := s.overlay.GetWidget(id)
	writeJSON(w, http.StatusCreated, widget.GetConfig())
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	if !s.requireOverlay(w) {
		return
	}
	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.overlay.UpdateWidget(id, cfg); err != nil {
		if errors.Is(err, overlay.ErrUnknownWidget) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	widget, _ := s.overlay.GetWidget(id)
	writeJSON(w, http.StatusOK, widget.GetConfig())
}

func (s *Server) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	if !s.requireOverlay(w) {
		return
	}
	if err := s.overlay.RemoveWidget(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no configuration loaded"})
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

// handleIndex serves a plain page linking every camera's stream
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var rows strings.Builder
	for _, st := range s.cameras.Statuses() {
		id := html.EscapeString(st.ID)
		fmt.Fprintf(&rows, "<li><b>%s</b> %s (%s, %s) <a href=\"/stream/%s\">stream</a> <a href=\"/stats/%s\">stats</a></li>\n",
			id, html.EscapeString(st.Name), html.EscapeString(st.Backend), st.State, id, id)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>videocapture</title>
    <style>
        body { font-family: sans-serif; max-width: 800px; margin: 2em auto; }
        li { margin: 0.5em 0; }
    </style>
</head>
<body>
    <h1>Cameras</h1>
    <ul>
%s    </ul>
    <p>API: <code>/api/devices</code>, events: <code>/api/events</code></p>
</body>
</html>`, rows.String())
}
