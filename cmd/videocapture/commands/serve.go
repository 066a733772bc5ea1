package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/videocapture/internal/api"
	"github.com/bryanchriswhite/videocapture/internal/camera"
	"github.com/bryanchriswhite/videocapture/internal/config"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the videocapture server",
	Long: `Start the videocapture HTTP server.

The server exposes every configured camera through a REST API, a WebSocket
event feed and per-camera MJPEG preview streams.`,
	Example: `  # Start server on default port (8080)
  videocapture serve

  # Start server on custom port
  videocapture serve --port 9090

  # Start with specific config file
  videocapture serve --config /path/to/config.yaml

  # Allocate and start every camera at startup
  videocapture serve --autostart`,
	RunE: runServe,
}

var (
	serveAutostart       bool
	serveShutdownTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveAutostart, "autostart", false, "allocate and start every camera at startup")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for cameras and clients to shut down")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")
	log.Info().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Int("devices", len(cfg.Devices)).
		Msg("Configuration loaded")

	cameras, backends, ov, err := openCameras(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	// Photo defaults follow edits to the config file
	configMgr.OnPhotoChange(cameras.ApplyPhotoDefaults)
	configMgr.Watch()

	if serveAutostart || cfg.Capture.Autostart {
		autostart(cameras, cfg)
	}

	server := api.NewServer(cameras, ov, configMgr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Str("streams", fmt.Sprintf("http://localhost:%d/stream/{id}", cfg.ServerPort)).
		Msg("videocapture is running, press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("Server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()

	// Closing the cameras ends their MJPEG clients, which lets the HTTP
	// server drain.
	if err := cameras.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Camera shutdown incomplete")
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

// autostart allocates and starts every configured camera at the capture
// size. Failures are logged and leave the camera idle.
func autostart(cameras *camera.Manager, cfg *config.Config) {
	for _, d := range cfg.Devices {
		log := logger.WithDevice("serve", d.ID)
		format, err := cameras.Allocate(d.ID, cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FrameRate)
		if err != nil {
			log.Warn().Err(err).Msg("Autostart allocate failed")
			continue
		}
		if err := cameras.Start(d.ID); err != nil {
			log.Warn().Err(err).Msg("Autostart start failed")
			continue
		}
		log.Info().Str("format", format.String()).Msg("Camera started")
	}
}
