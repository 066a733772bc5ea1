package modernhal

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

// QueueReader is an in-memory ImageReader. Producers Push images; once
// maxImages are queued further images are dropped until the consumer
// acquires.
type QueueReader struct {
	size      capture.Resolution
	format    capture.PixelFormat
	maxImages int

	mu      sync.Mutex
	queue   []Image
	onImage func()
	closed  bool
	dropped int
}

// NewQueueReader creates a reader holding up to maxImages images
func NewQueueReader(size capture.Resolution, format capture.PixelFormat, maxImages int) *QueueReader {
	if maxImages < 1 {
		maxImages = 1
	}
	return &QueueReader{size: size, format: format, maxImages: maxImages}
}

func (r *QueueReader) Size() capture.Resolution    { return r.size }
func (r *QueueReader) Format() capture.PixelFormat { return r.format }
func (r *QueueReader) Surface() Surface            { return r }

func (r *QueueReader) SetOnImageAvailable(cb func()) {
	r.mu.Lock()
	r.onImage = cb
	r.mu.Unlock()
}

// Push queues img and signals the listener. It reports false if the
// image was dropped.
func (r *QueueReader) Push(img Image) bool {
	r.mu.Lock()
	if r.closed || len(r.queue) >= r.maxImages {
		r.dropped++
		r.mu.Unlock()
		img.Close()
		return false
	}
	r.queue = append(r.queue, img)
	cb := r.onImage
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

func (r *QueueReader) AcquireLatestImage() (Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.queue) == 0 {
		return nil, ErrNoImage
	}
	img := r.queue[len(r.queue)-1]
	for _, stale := range r.queue[:len(r.queue)-1] {
		stale.Close()
	}
	r.dropped += len(r.queue) - 1
	r.queue = r.queue[:0]
	return img, nil
}

func (r *QueueReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, img := range r.queue {
		img.Close()
	}
	r.queue = nil
	r.onImage = nil
	if r.dropped > 0 {
		logger.WithComponent("image-reader").Debug().
			Str("size", r.size.String()).
			Int("dropped", r.dropped).
			Msg("Image reader closed")
	}
}

// Dropped reports images discarded because the queue was full or stale
func (r *QueueReader) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// MemoryImage is an Image backed by Go memory
type MemoryImage struct {
	format    capture.PixelFormat
	size      capture.Resolution
	timestamp time.Duration
	planes    []Plane
}

// NewI420Image splits a tightly packed I420 buffer into planes
func NewI420Image(buf []byte, size capture.Resolution, ts time.Duration) *MemoryImage {
	cw := (size.Width + 1) / 2
	return NewStridedI420Image(buf, size, size.Width, cw, ts)
}

// NewStridedI420Image splits an I420 buffer whose rows are padded to
// yStride and cStride bytes.
func NewStridedI420Image(buf []byte, size capture.Resolution, yStride, cStride int, ts time.Duration) *MemoryImage {
	ch := (size.Height + 1) / 2
	ySize, cSize := yStride*size.Height, cStride*ch
	return &MemoryImage{
		format:    capture.PixelFormatYUV420,
		size:      size,
		timestamp: ts,
		planes: []Plane{
			{Data: buf[:ySize], RowStride: yStride, PixelStride: 1},
			{Data: buf[ySize : ySize+cSize], RowStride: cStride, PixelStride: 1},
			{Data: buf[ySize+cSize : ySize+2*cSize], RowStride: cStride, PixelStride: 1},
		},
	}
}

// NewJPEGImage wraps encoded JPEG data as a single plane image
func NewJPEGImage(data []byte, size capture.Resolution, ts time.Duration) *MemoryImage {
	return &MemoryImage{
		format:    capture.PixelFormatJPEG,
		size:      size,
		timestamp: ts,
		planes:    []Plane{{Data: data}},
	}
}

func (i *MemoryImage) Format() capture.PixelFormat { return i.format }
func (i *MemoryImage) Width() int                  { return i.size.Width }
func (i *MemoryImage) Height() int                 { return i.size.Height }
func (i *MemoryImage) Timestamp() time.Duration    { return i.timestamp }
func (i *MemoryImage) Planes() []Plane             { return i.planes }
func (i *MemoryImage) Close()                      {}
