package capture

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/videocapture/internal/logger"
)

// Descriptor is the read-only description of one physical camera
type Descriptor struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Backend           string     `json:"backend"`
	Generation        Generation `json:"generation"`
	Facing            Facing     `json:"facing"`
	SensorOrientation int        `json:"sensor_orientation"`
}

// Factory builds a device for a registered camera
type Factory func(desc Descriptor, listener Listener, opts Options) (Device, error)

type registryEntry struct {
	desc    Descriptor
	factory Factory
	open    bool
}

// Registry maps camera ids to descriptors and the backend that drives
// them. It is owned by the caller; nothing in this package keeps
// process-wide camera state. A camera can be open by at most one device
// at a time.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds a camera. Ids must be unique.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if desc.ID == "" {
		return fmt.Errorf("camera descriptor requires an id")
	}
	if factory == nil {
		return fmt.Errorf("camera %s: nil factory", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("camera %s already registered", desc.ID)
	}
	r.entries[desc.ID] = &registryEntry{desc: desc, factory: factory}
	r.order = append(r.order, desc.ID)

	logger.WithComponent("camera-registry").Debug().
		Str("id", desc.ID).
		Str("backend", desc.Backend).
		Str("generation", string(desc.Generation)).
		Msg("Registered camera")
	return nil
}

// Descriptors lists registered cameras in registration order
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// Lookup returns the descriptor for id
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// InUse reports whether a device currently holds the camera
func (r *Registry) InUse(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return ok && e.open
}

// Open builds a device for camera id. The camera stays reserved until the
// returned device is deallocated.
func (r *Registry) Open(id string, listener Listener, opts Options) (Device, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	if e.open {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCameraInUse, id)
	}
	e.open = true
	desc, factory := e.desc, e.factory
	r.mu.Unlock()

	dev, err := factory(desc, listener, opts)
	if err != nil {
		r.release(id)
		return nil, fmt.Errorf("create device %s: %w", id, err)
	}
	return &reservedDevice{Device: dev, release: func() { r.release(id) }}, nil
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.open = false
	}
}

// reservedDevice returns its registry reservation on the first Deallocate
type reservedDevice struct {
	Device
	once    sync.Once
	release func()
}

func (d *reservedDevice) Deallocate() {
	d.Device.Deallocate()
	d.once.Do(d.release)
}
