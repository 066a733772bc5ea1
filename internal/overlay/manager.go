package overlay

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/bryanchriswhite/videocapture/internal/logger"
)

var (
	// ErrUnknownWidget is returned for ids the manager does not hold
	ErrUnknownWidget = errors.New("unknown widget")
	// ErrWidgetExists is returned when adding a duplicate id
	ErrWidgetExists = errors.New("widget already exists")
)

// WidgetType describes one kind of widget the manager can build
type WidgetType struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Config      map[string]string `json:"config"`
}

var widgetTypes = []WidgetType{
	{
		Type:        "text",
		Name:        "Text Label",
		Description: "Text with {device}, {format}, {fps}, {seq}, {rotation} and {time} fields",
		Config: map[string]string{
			"text":       "string",
			"x":          "int, negative anchors right",
			"y":          "int, negative anchors bottom",
			"opacity":    "float 0-1",
			"enabled":    "bool",
			"color":      "{r, g, b, a}",
			"background": "{r, g, b, a}, optional",
			"padding":    "int",
		},
	},
	{
		Type:        "capture-info",
		Name:        "Capture Info",
		Description: "Device, negotiated format, measured rate and frame timestamp",
		Config: map[string]string{
			"x":          "int",
			"y":          "int",
			"opacity":    "float 0-1",
			"enabled":    "bool",
			"color":      "{r, g, b, a}",
			"background": "{r, g, b, a}",
			"clock":      "bool",
		},
	},
}

// Manager holds the widgets stamped on every preview frame. One manager
// may be shared by several outputs.
type Manager struct {
	mu      sync.RWMutex
	widgets []Widget // sorted by ID
	enabled bool
}

// NewManager creates an empty, enabled overlay
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// WidgetTypes lists the widget kinds CreateWidget accepts
func WidgetTypes() []WidgetType {
	return append([]WidgetType(nil), widgetTypes...)
}

// CreateWidget builds a widget of widgetType from its config map
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var (
		w   Widget
		err error
	)
	switch widgetType {
	case "text":
		w, err = NewTextWidget(id, config)
	case "capture-info":
		w, err = NewInfoWidget(id, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}
	return w, nil
}

// index returns the position of id, or where it would be inserted
func (m *Manager) index(id string) (int, bool) {
	i := sort.Search(len(m.widgets), func(i int) bool { return m.widgets[i].ID() >= id })
	return i, i < len(m.widgets) && m.widgets[i].ID() == id
}

// AddWidget inserts w keeping the render order by ID
func (m *Manager) AddWidget(w Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, found := m.index(w.ID())
	if found {
		return fmt.Errorf("%w: %s", ErrWidgetExists, w.ID())
	}
	m.widgets = append(m.widgets, nil)
	copy(m.widgets[i+1:], m.widgets[i:])
	m.widgets[i] = w

	logger.WithComponent("overlay").Debug().
		Str("widget", w.ID()).
		Str("type", w.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget drops the widget with id
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, found := m.index(id)
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	logger.WithComponent("overlay").Debug().Str("widget", id).Msg("Removed widget")
	return nil
}

// GetWidget looks a widget up by id
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i, found := m.index(id); found {
		return m.widgets[i], true
	}
	return nil, false
}

// UpdateWidget applies a partial config to the widget with id
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	// Write lock: a render reads widget fields under the read lock
	m.mu.Lock()
	defer m.mu.Unlock()

	i, found := m.index(id)
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownWidget, id)
	}
	if err := m.widgets[i].UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget %s: %w", id, err)
	}
	return nil
}

// SetEnabled switches the whole overlay on or off
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// IsEnabled reports whether Render draws anything
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Len returns the number of widgets
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.widgets)
}

// Render draws every enabled widget onto img in ID order. A failing
// widget is logged and skipped.
func (m *Manager) Render(img *image.RGBA, info FrameInfo) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return
	}
	for _, w := range m.widgets {
		if !w.IsEnabled() {
			continue
		}
		if err := w.Render(img, info); err != nil {
			logger.WithDevice("overlay", info.DeviceID).Warn().
				Err(err).
				Str("widget", w.ID()).
				Msg("Failed to render widget")
		}
	}
}

// LoadFromConfig creates widgets from the overlay.widgets config list.
// Invalid entries are logged and skipped; the count loaded is returned.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) int {
	log := logger.WithComponent("overlay")
	loaded := 0
	for i, config := range configs {
		if err := m.Load(config); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping widget")
			continue
		}
		loaded++
	}
	return loaded
}

// Load creates and adds one widget from a config map carrying "type" and "id"
func (m *Manager) Load(config map[string]interface{}) error {
	widgetType, _ := config["type"].(string)
	if widgetType == "" {
		return errors.New("widget config has no type")
	}
	id, _ := config["id"].(string)
	if id == "" {
		return errors.New("widget config has no id")
	}

	w, err := m.CreateWidget(widgetType, id, config)
	if err != nil {
		return err
	}
	return m.AddWidget(w)
}

// ExportConfig returns every widget's config in ID order, suitable for
// LoadFromConfig
func (m *Manager) ExportConfig() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]map[string]interface{}, 0, len(m.widgets))
	for _, w := range m.widgets {
		configs = append(configs, w.GetConfig())
	}
	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	m.widgets = nil
	m.mu.Unlock()
}
