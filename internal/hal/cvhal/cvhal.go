// Package cvhal exposes OpenCV video capture devices through the legacy
// camera API. OpenCV cannot enumerate modes, so the preview sizes and
// frame rates come from configuration.
package cvhal

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/legacyhal"
	"github.com/bryanchriswhite/videocapture/internal/hw/torch"
	"github.com/bryanchriswhite/videocapture/internal/logger"
	"github.com/bryanchriswhite/videocapture/internal/synth"
)

const jpegQuality = 90

// Source configures one OpenCV device
type Source struct {
	// Device is a camera index ("0") or a device path or URL
	Device      string
	Facing      capture.Facing
	Orientation int
	Sizes       []capture.Resolution
	FrameRates  []int
	// Torch, when set, is switched by the torch flash mode
	Torch torch.Driver
}

// Opener opens configured sources by camera id
type Opener struct {
	mu      sync.Mutex
	sources map[string]Source
	open    map[string]bool
}

// NewOpener creates an opener for sources keyed by camera id
func NewOpener(sources map[string]Source) *Opener {
	return &Opener{sources: sources, open: make(map[string]bool)}
}

func (o *Opener) Open(id string) (legacyhal.Camera, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	src, ok := o.sources[id]
	if !ok {
		return nil, fmt.Errorf("no opencv source for camera %s", id)
	}
	if o.open[id] {
		return nil, fmt.Errorf("opencv camera %s is busy", id)
	}

	var device interface{} = src.Device
	if index, err := strconv.Atoi(src.Device); err == nil {
		device = index
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("error opening camera %s: %w", src.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %s is not open", src.Device)
	}

	c := &Camera{
		id:     id,
		src:    src,
		vc:     vc,
		params: parametersFor(src),
		log:    logger.WithDevice("cvhal", id),
		release: func() {
			o.mu.Lock()
			delete(o.open, id)
			o.mu.Unlock()
		},
	}
	if err := c.applyLocked(c.params); err != nil {
		vc.Close()
		return nil, err
	}
	o.open[id] = true
	return c, nil
}

func parametersFor(src Source) legacyhal.Parameters {
	sizes := src.Sizes
	if len(sizes) == 0 {
		sizes = []capture.Resolution{{Width: 640, Height: 480}}
	}
	rates := src.FrameRates
	if len(rates) == 0 {
		rates = []int{30}
	}

	p := legacyhal.Parameters{
		PreviewSizes:   append([]capture.Resolution(nil), sizes...),
		PreviewFormats: []capture.PixelFormat{capture.PixelFormatYUV420},
		PictureSizes:   append([]capture.Resolution(nil), sizes...),
		PreviewSize:    sizes[0],
		PreviewFormat:  capture.PixelFormatYUV420,
		PictureSize:    sizes[0],

		FocusModes:        []string{legacyhal.FocusModeFixed},
		FocusMode:         legacyhal.FocusModeFixed,
		WhiteBalanceModes: []string{legacyhal.WhiteBalanceAuto},
		WhiteBalance:      legacyhal.WhiteBalanceAuto,
	}
	for _, fps := range rates {
		p.PreviewFPSRanges = append(p.PreviewFPSRanges, capture.FrameRateRange{Min: fps * 1000, Max: fps * 1000})
	}
	p.PreviewFPSRange = p.PreviewFPSRanges[0]
	if src.Torch != nil {
		p.FlashModes = []string{legacyhal.FlashModeOff, legacyhal.FlashModeTorch}
		p.FlashMode = legacyhal.FlashModeOff
	}
	return p
}

// Camera is one open OpenCV device
type Camera struct {
	id      string
	src     Source
	log     *zerolog.Logger
	release func()

	mu       sync.Mutex
	vc       *gocv.VideoCapture
	params   legacyhal.Parameters
	callback legacyhal.PreviewCallback
	buffers  [][]byte
	stop     chan struct{}
	done     chan struct{}
	released bool
}

var errReleased = errors.New("opencv camera released")

func (c *Camera) Info() legacyhal.Info {
	return legacyhal.Info{Facing: c.src.Facing, Orientation: c.src.Orientation}
}

func (c *Camera) Parameters() (legacyhal.Parameters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return legacyhal.Parameters{}, errReleased
	}
	return c.params.Clone(), nil
}

func (c *Camera) SetParameters(p legacyhal.Parameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errReleased
	}
	if !containsSize(c.params.PreviewSizes, p.PreviewSize) {
		return fmt.Errorf("unsupported preview size %s", p.PreviewSize)
	}
	if p.PreviewFormat != capture.PixelFormatYUV420 {
		return fmt.Errorf("unsupported preview format %s", p.PreviewFormat)
	}
	if p.FlashMode != "" && p.FlashMode != legacyhal.FlashModeOff && !legacyhal.Supports(c.params.FlashModes, p.FlashMode) {
		return fmt.Errorf("unsupported flash mode %q", p.FlashMode)
	}
	if err := c.applyLocked(p); err != nil {
		return err
	}
	c.params = p.Clone()
	return nil
}

// applyLocked pushes the size, rate and torch state to the device
func (c *Camera) applyLocked(p legacyhal.Parameters) error {
	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(p.PreviewSize.Width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(p.PreviewSize.Height))
	c.vc.Set(gocv.VideoCaptureFPS, float64(p.PreviewFPSRange.Max)/1000)

	if c.src.Torch != nil {
		if err := c.src.Torch.Set(p.FlashMode == legacyhal.FlashModeTorch); err != nil {
			return fmt.Errorf("switch torch: %w", err)
		}
	}
	return nil
}

func containsSize(sizes []capture.Resolution, s capture.Resolution) bool {
	for _, c := range sizes {
		if c == s {
			return true
		}
	}
	return false
}

func (c *Camera) SetPreviewCallbackWithBuffer(cb legacyhal.PreviewCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	if cb == nil {
		c.buffers = nil
	}
}

func (c *Camera) AddCallbackBuffer(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callback != nil {
		c.buffers = append(c.buffers, buf)
	}
}

func (c *Camera) StartPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errReleased
	}
	if c.stop != nil {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.previewLoop(c.params.PreviewSize, c.stop, c.done)
	return nil
}

func (c *Camera) StopPreview() error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// previewLoop reads frames as fast as the device produces them. A frame
// is scaled to the preview size when the driver ignored the requested
// size, converted to I420 and written into the next queued buffer.
func (c *Camera) previewLoop(size capture.Resolution, stop, done chan struct{}) {
	defer close(done)

	mat := gocv.NewMat()
	defer mat.Close()
	scaled := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))

	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := c.vc.Read(&mat); !ok || mat.Empty() {
			c.log.Debug().Msg("Failed to read frame")
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			c.log.Debug().Err(err).Msg("Failed to convert frame")
			continue
		}
		if b := img.Bounds(); b.Dx() != size.Width || b.Dy() != size.Height {
			draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
			img = scaled
		}

		c.mu.Lock()
		cb := c.callback
		if cb == nil || len(c.buffers) == 0 {
			c.mu.Unlock()
			continue
		}
		buf := c.buffers[0]
		c.buffers = c.buffers[1:]
		c.mu.Unlock()

		n := synth.ToI420(img, buf[:cap(buf)])
		cb(buf[:n])
	}
}

func (c *Camera) AutoFocus(cb legacyhal.AutoFocusCallback) error {
	if cb != nil {
		go cb(true)
	}
	return nil
}

// TakePicture stops the preview, grabs one frame at the picture size and
// encodes it with OpenCV.
func (c *Camera) TakePicture(cb legacyhal.PictureCallback) error {
	if err := c.StopPreview(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return errReleased
	}
	p := c.params
	c.mu.Unlock()

	go func() {
		data, err := c.grab(p)
		cb(data, err)
	}()
	return nil
}

func (c *Camera) grab(p legacyhal.Parameters) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, errReleased
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("failed to read frame from camera %s", c.id)
	}

	if mat.Cols() == p.PictureSize.Width && mat.Rows() == p.PictureSize.Height {
		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), jpegQuality})
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		defer buf.Close()
		return append([]byte(nil), buf.GetBytes()...), nil
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return synth.EncodeJPEG(img, p.PictureSize.Width, p.PictureSize.Height, jpegQuality)
}

func (c *Camera) Release() error {
	if err := c.StopPreview(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	c.callback, c.buffers = nil, nil
	if c.src.Torch != nil {
		if err := c.src.Torch.Set(false); err != nil {
			c.log.Warn().Err(err).Msg("Failed to switch torch off")
		}
	}
	err := c.vc.Close()
	c.release()
	if err != nil {
		return fmt.Errorf("error closing camera %s: %w", c.id, err)
	}
	return nil
}
