package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/videocapture/internal/camera"
	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/config"
	"github.com/bryanchriswhite/videocapture/internal/logger"
	"github.com/bryanchriswhite/videocapture/internal/output"
	"github.com/bryanchriswhite/videocapture/internal/overlay"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "videocapture",
		Short: "videocapture - camera capture server",
		Long: `videocapture drives legacy and modern camera backends behind one
capture contract and serves their preview over HTTP.

Features:
  • Closest-match format negotiation
  • Preview frames with display rotation
  • Photo capture with zoom, metering, exposure, white balance and flash
  • MJPEG preview streams with overlays
  • Live config reload of photo defaults
  • REST and WebSocket API`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/videocapture/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	viper.SetEnvPrefix("videocapture")
	viper.AutomaticEnv()
	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies flag overrides to the
// returned snapshot. Overrides are not written back.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, cfg, nil
}

// openCameras registers the configured devices and builds a manager for
// them. The overlay is always built so it can be switched on at runtime.
func openCameras(cfg *config.Config) (*camera.Manager, *camera.Backends, *overlay.Manager, error) {
	backends, err := camera.NewBackends(cfg.Devices)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up cameras: %w", err)
	}

	ov := overlay.NewManager()
	n := ov.LoadFromConfig(cfg.Overlay.Widgets)
	ov.SetEnabled(cfg.Overlay.Enabled)
	logger.WithComponent("overlay").Debug().
		Int("widgets", n).
		Bool("enabled", cfg.Overlay.Enabled).
		Msg("Overlay loaded")

	rotation := cfg.Capture.DeviceRotation
	cameras := camera.NewManager(backends.Registry, camera.Options{
		Capture: capture.Options{
			DeviceRotation:   func() int { return rotation },
			StateWaitTimeout: cfg.Capture.WaitTimeout(),
		},
		Stream: output.Config{
			Width:   cfg.Stream.Width,
			Height:  cfg.Stream.Height,
			FPS:     cfg.Stream.FPS,
			Quality: cfg.Stream.Quality,
		},
		Overlay: ov,
		Photo:   cfg.Photo,
	})
	return cameras, backends, ov, nil
}
