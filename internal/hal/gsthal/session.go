package gsthal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

const (
	pollInterval = 5 * time.Millisecond
	pullTimeout  = time.Millisecond
	stillTimeout = 5 * time.Second

	defaultRate        = 30
	defaultJPEGQuality = 90
)

var errAborted = errors.New("capture aborted")

// Session runs one pipeline for its reader
type Session struct {
	device *Device
	log    *zerolog.Logger

	mu        sync.Mutex
	reader    *modernhal.QueueReader
	pipeline  *gst.Pipeline
	sink      *app.Sink
	key       pipelineKey
	repeating *modernhal.Request
	stop      chan struct{}
	loopDone  chan struct{}
	aborts    int
	closed    bool
}

// pipelineKey identifies the caps a running pipeline was built for
type pipelineKey struct {
	fps     int
	quality int
}

func (s *Session) configure(outputs []modernhal.Surface) error {
	reader, err := singleReader(outputs)
	if err != nil {
		return err
	}
	if s.device.isClosed() {
		return modernhal.ErrClosed
	}
	s.mu.Lock()
	s.reader = reader
	s.mu.Unlock()
	return nil
}

// describe builds the pipeline string for the session output
func (s *Session) describe(key pipelineKey) string {
	size, format := s.reader.Size(), s.reader.Format()
	desc := fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
		s.device.src.element(), size.Width, size.Height, key.fps,
	)
	if format == capture.PixelFormatJPEG {
		desc += fmt.Sprintf(" ! jpegenc quality=%d", key.quality)
	}
	return desc + " ! appsink name=sink emit-signals=false max-buffers=2 drop=true"
}

// ensurePipeline starts a pipeline matching r. mu must be held.
func (s *Session) ensurePipeline(r *modernhal.Request) error {
	key := pipelineKey{fps: r.AETargetFPSRange.Max, quality: r.JPEGQuality}
	if key.fps <= 0 {
		key.fps = defaultRate
	}
	if key.quality <= 0 {
		key.quality = defaultJPEGQuality
	}
	if s.pipeline != nil && s.key == key {
		return nil
	}
	s.stopPipelineLocked()

	desc := s.describe(key)
	s.log.Debug().Str("pipeline", desc).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.sink = app.SinkFromElement(elem)
	s.key = key
	return nil
}

func (s *Session) stopPipelineLocked() {
	if s.pipeline == nil {
		return
	}
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		s.log.Debug().Err(err).Msg("Pipeline state change failed")
	}
	s.pipeline.Unref()
	s.pipeline, s.sink = nil, nil
}

func (s *Session) applyTorch(r *modernhal.Request) {
	t := s.device.src.Torch
	if t == nil {
		return
	}
	if err := t.Set(r.FlashMode == modernhal.FlashModeTorch); err != nil {
		s.log.Warn().Err(err).Msg("Failed to switch torch")
	}
}

func (s *Session) SetRepeatingRequest(r *modernhal.Request) error {
	if r == nil {
		return errors.New("nil request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return modernhal.ErrClosed
	}
	if err := s.ensurePipeline(r); err != nil {
		return err
	}
	s.applyTorch(r)
	s.repeating = r.Clone()
	if s.stop == nil {
		s.stop = make(chan struct{})
		s.loopDone = make(chan struct{})
		go s.pollSamples(s.stop, s.loopDone)
	}
	return nil
}

// pollSamples pulls samples from the appsink and pushes them to the
// reader. Polling avoids cgo callbacks from streaming threads.
func (s *Session) pollSamples(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		sink, reader := s.sink, s.reader
		s.mu.Unlock()
		if sink == nil {
			continue
		}

		sample := sink.TryPullSample(pullTimeout)
		if sample == nil {
			if sink.IsEOS() {
				go s.device.lost(errors.New("pipeline reached end of stream"))
				return
			}
			continue
		}
		img, err := imageFromSample(sample, reader.Format(), time.Since(start))
		if err != nil {
			s.log.Debug().Err(err).Msg("Dropping sample")
			continue
		}
		reader.Push(img)
	}
}

// imageFromSample copies the mapped buffer so the sample can be released
func imageFromSample(sample *gst.Sample, format capture.PixelFormat, ts time.Duration) (modernhal.Image, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("sample has no buffer")
	}
	caps := sample.GetCaps()
	if caps == nil {
		return nil, errors.New("sample has no caps")
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil, errors.New("caps have no structure")
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return nil, fmt.Errorf("caps width %v is not an int", width)
	}
	h, ok := height.(int)
	if !ok {
		return nil, fmt.Errorf("caps height %v is not an int", height)
	}
	size := capture.Resolution{Width: w, Height: h}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, errors.New("failed to map buffer")
	}
	defer buffer.Unmap()
	data := append([]byte(nil), mapInfo.Bytes()...)

	if format == capture.PixelFormatJPEG {
		return modernhal.NewJPEGImage(data, size, ts), nil
	}

	// GStreamer pads I420 rows to 4 bytes
	yStride := roundUp4(w)
	cStride := roundUp4((w + 1) / 2)
	need := yStride*h + 2*cStride*((h+1)/2)
	if len(data) < need {
		return nil, fmt.Errorf("I420 buffer holds %d bytes, need %d", len(data), need)
	}
	return modernhal.NewStridedI420Image(data, size, yStride, cStride, ts), nil
}

func roundUp4(v int) int {
	return (v + 3) &^ 3
}

// Capture pulls one sample through a pipeline built for r. JPEG readers
// receive the encoder output.
func (s *Session) Capture(r *modernhal.Request, cb modernhal.CaptureCallbacks) error {
	if r == nil {
		return errors.New("nil request")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return modernhal.ErrClosed
	}
	if s.repeating == nil {
		if err := s.ensurePipeline(r); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.applyTorch(r)
	req := r.Clone()
	aborts := s.aborts
	sink, reader, repeating := s.sink, s.reader, s.repeating != nil
	s.mu.Unlock()

	// A capture on a repeating session only adjusts controls
	if repeating {
		if cb.OnCompleted != nil {
			go cb.OnCompleted(req)
		}
		return nil
	}

	go func() {
		deadline := time.Now().Add(stillTimeout)
		for {
			s.mu.Lock()
			aborted := s.closed || s.aborts != aborts
			s.mu.Unlock()
			if aborted {
				s.finish(cb, req, errAborted)
				return
			}
			if time.Now().After(deadline) {
				s.finish(cb, req, fmt.Errorf("no sample within %v", stillTimeout))
				return
			}

			sample := sink.TryPullSample(10 * pullTimeout)
			if sample == nil {
				continue
			}
			img, err := imageFromSample(sample, reader.Format(), 0)
			if err != nil {
				s.finish(cb, req, err)
				return
			}
			reader.Push(img)
			s.finish(cb, req, nil)
			return
		}
	}()
	return nil
}

func (s *Session) finish(cb modernhal.CaptureCallbacks, req *modernhal.Request, err error) {
	if err != nil {
		if cb.OnFailed != nil {
			cb.OnFailed(req, err)
		}
		return
	}
	if cb.OnCompleted != nil {
		cb.OnCompleted(req)
	}
}

func (s *Session) StopRepeating() error {
	s.mu.Lock()
	stop, done := s.stop, s.loopDone
	s.stop, s.loopDone = nil, nil
	s.repeating = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *Session) AbortCaptures() error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	return nil
}

func (s *Session) Close() {
	if err := s.StopRepeating(); err != nil {
		s.log.Debug().Err(err).Msg("Stop repeating on close failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.aborts++
	s.stopPipelineLocked()
}
