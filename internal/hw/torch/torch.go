// Package torch drives an external flash LED for cameras whose HAL has
// no flash unit of its own.
package torch

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/videocapture/internal/logger"
)

// Driver switches a torch LED
type Driver interface {
	Set(on bool) error
	On() bool
	Close() error
}

// New returns a GPIO driver for pin, or a mock when mock is set or pin
// is negative.
func New(pin int, mock bool) (Driver, error) {
	if mock || pin < 0 {
		logger.WithComponent("torch").Info().Int("pin", pin).Msg("Using mock torch driver")
		return NewMock(), nil
	}
	return NewGPIO(pin)
}

// MockDriver remembers the requested state and logs every switch
type MockDriver struct {
	mu       sync.Mutex
	on       bool
	switches int
	closed   bool
	log      *zerolog.Logger
}

// NewMock creates a mock driver with the torch off
func NewMock() *MockDriver {
	return &MockDriver{log: logger.WithComponent("torch")}
}

func (m *MockDriver) Set(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.on != on {
		m.switches++
	}
	m.on = on
	m.log.Debug().Bool("on", on).Msg("Torch (mock)")
	return nil
}

func (m *MockDriver) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Switches counts state changes
func (m *MockDriver) Switches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switches
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = false
	m.closed = true
	return nil
}
