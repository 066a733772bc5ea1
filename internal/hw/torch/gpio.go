package torch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/bryanchriswhite/videocapture/internal/logger"
)

// ErrClosed is returned by Set after Close
var ErrClosed = errors.New("torch driver closed")

// rpio maps GPIO memory once per process
var (
	gpioMu    sync.Mutex
	gpioUsers int
)

// GPIODriver switches a Raspberry Pi output pin through go-rpio
type GPIODriver struct {
	mu     sync.Mutex
	pin    rpio.Pin
	on     bool
	closed bool
	log    *zerolog.Logger
}

// NewGPIO maps GPIO memory and configures pin as a low output.
// Requires /dev/gpiomem or root.
func NewGPIO(pin int) (*GPIODriver, error) {
	gpioMu.Lock()
	defer gpioMu.Unlock()

	if gpioUsers == 0 {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
		}
	}
	gpioUsers++

	p := rpio.Pin(pin)
	p.Output()
	p.Low()

	log := logger.WithComponent("torch")
	log.Info().Int("pin", pin).Msg("GPIO torch ready")
	return &GPIODriver{pin: p, log: log}, nil
}

func (g *GPIODriver) Set(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if on {
		g.pin.High()
	} else {
		g.pin.Low()
	}
	g.on = on
	g.log.Debug().Int("pin", int(g.pin)).Bool("on", on).Msg("Torch")
	return nil
}

func (g *GPIODriver) On() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on
}

// Close switches the torch off, returns the pin to input and unmaps GPIO
// memory once the last driver is closed.
func (g *GPIODriver) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.pin.Low()
	g.pin.Input()
	g.on = false
	g.mu.Unlock()

	gpioMu.Lock()
	defer gpioMu.Unlock()
	gpioUsers--
	if gpioUsers == 0 {
		return rpio.Close()
	}
	return nil
}
