package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

// Manager handles configuration. Reads go through viper so flags and
// `config set` overrides layer over the file; writes marshal the
// decoded Config with yaml.v3.
type Manager struct {
	configPath string
	v          *viper.Viper

	mu      sync.RWMutex
	config  *Config
	onPhoto []func(capture.PhotoOptions)
}

// DefaultPath returns $HOME/.config/videocapture/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "videocapture", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with Defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path, v: viper.New()}
	m.v.SetConfigFile(path)
	m.v.SetConfigType("yaml")
	setDefaults(m.v)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.WithComponent("config").Info().
			Str("path", path).
			Msg("Config file not found, creating new config")
		if err := m.write(Defaults()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := m.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("devices", len(cfg.Devices)).
		Msg("Config loaded")
	return m, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.frame_rate", d.Capture.FrameRate)
	v.SetDefault("capture.autostart", d.Capture.Autostart)
	v.SetDefault("capture.device_rotation", d.Capture.DeviceRotation)
	v.SetDefault("capture.state_wait_timeout", d.Capture.StateWaitTimeout)
	v.SetDefault("stream.fps", d.Stream.FPS)
	v.SetDefault("stream.quality", d.Stream.Quality)
	v.SetDefault("overlay.enabled", d.Overlay.Enabled)
}

// decode unmarshals the merged viper state
func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.Devices {
		// An omitted torch pin means no torch, not BCM pin 0
		if !hasKey(m.v, i, "torch_pin") {
			cfg.Devices[i].TorchPin = -1
		}
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// hasKey looks for key in the raw map of devices[i]
func hasKey(v *viper.Viper, i int, key string) bool {
	raw, ok := v.Get("devices").([]interface{})
	if !ok || i >= len(raw) {
		return false
	}
	entry, ok := raw[i].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = entry[key]
	return ok
}

// write marshals cfg to the config file
func (m *Manager) write(cfg *Config) error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.Devices = append([]DeviceConfig(nil), m.config.Devices...)
	return &cfg
}

// GetViper exposes the underlying viper instance for key based access
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Save decodes the current viper state, including values changed with
// Set, and writes it to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.decode()
	if err != nil {
		return err
	}
	if err := m.write(cfg); err != nil {
		return err
	}
	m.config = cfg

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Set changes one key and saves
func (m *Manager) Set(key string, value interface{}) error {
	m.mu.Lock()
	m.v.Set(key, value)
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", port)
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// OnPhotoChange registers fn to run with the new photo defaults whenever
// the photo section of the file changes on disk.
func (m *Manager) OnPhotoChange(fn func(capture.PhotoOptions)) {
	m.mu.Lock()
	m.onPhoto = append(m.onPhoto, fn)
	m.mu.Unlock()
}

// Watch starts watching the config file for edits
func (m *Manager) Watch() {
	m.v.OnConfigChange(m.handleChange)
	m.v.WatchConfig()
	logger.WithComponent("config").Info().Str("path", m.configPath).Msg("Watching config for changes")
}

func (m *Manager) handleChange(e fsnotify.Event) {
	log := logger.WithComponent("config")
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	m.mu.Lock()
	if err := m.v.ReadInConfig(); err != nil {
		m.mu.Unlock()
		log.Warn().Err(err).Str("file", e.Name).Msg("Failed to reload config")
		return
	}
	cfg, err := m.decode()
	if err != nil {
		m.mu.Unlock()
		log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
		return
	}
	changed := !reflect.DeepEqual(m.config.Photo, cfg.Photo)
	m.config = cfg
	callbacks := append(([]func(capture.PhotoOptions))(nil), m.onPhoto...)
	m.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Str("file", e.Name).Msg("Photo defaults changed")
	for _, fn := range callbacks {
		fn(cfg.Photo)
	}
}
