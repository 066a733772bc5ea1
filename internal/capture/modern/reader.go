package modern

import (
	"errors"

	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

// previewImages is the depth of the preview reader queue
const previewImages = 2

// frameReader drains an image reader on its own goroutine. The HAL
// callback only signals; acquisition and delivery run on the drain
// goroutine, in capture order.
type frameReader struct {
	reader  modernhal.ImageReader
	deliver func(modernhal.Image)
	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newFrameReader(reader modernhal.ImageReader, deliver func(modernhal.Image)) *frameReader {
	fr := &frameReader{
		reader:  reader,
		deliver: deliver,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	reader.SetOnImageAvailable(func() {
		select {
		case fr.notify <- struct{}{}:
		default:
		}
	})
	go fr.run()
	return fr
}

func (fr *frameReader) surface() modernhal.Surface {
	return fr.reader.Surface()
}

func (fr *frameReader) run() {
	defer close(fr.done)
	for {
		select {
		case <-fr.stop:
			return
		case <-fr.notify:
		}

		img, err := fr.reader.AcquireLatestImage()
		if err != nil {
			if errors.Is(err, modernhal.ErrClosed) {
				return
			}
			continue
		}
		select {
		case <-fr.stop:
			img.Close()
			return
		default:
		}
		fr.deliver(img)
		img.Close()
	}
}

// close stops the drain goroutine, waits for any delivery in progress and
// closes the reader. No delivery happens after it returns.
func (fr *frameReader) close() {
	close(fr.stop)
	<-fr.done
	fr.reader.Close()
}
