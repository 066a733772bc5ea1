package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/videocapture/internal/camera"
	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/logger"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a photo with one camera",
	Long: `Allocate a camera, start its preview, take one photo and write the
JPEG to a file. Photo defaults from the config apply.`,
	Example: `  # Photo from camera 0 into photo-0.jpg
  videocapture snapshot

  # Camera 1 at 2x zoom
  videocapture snapshot --device 1 --zoom 2 --out front.jpg`,
	RunE: runSnapshot,
}

var (
	snapshotDevice  string
	snapshotOut     string
	snapshotWidth   int
	snapshotHeight  int
	snapshotZoom    float64
	snapshotTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVarP(&snapshotDevice, "device", "d", "0", "camera id")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "output file (default photo-<id>.jpg)")
	snapshotCmd.Flags().IntVar(&snapshotWidth, "width", 0, "preview width (default from config)")
	snapshotCmd.Flags().IntVar(&snapshotHeight, "height", 0, "preview height (default from config)")
	snapshotCmd.Flags().Float64Var(&snapshotZoom, "zoom", 0, "zoom factor")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 10*time.Second, "time allowed for the whole capture")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if snapshotWidth <= 0 {
		snapshotWidth = cfg.Capture.Width
	}
	if snapshotHeight <= 0 {
		snapshotHeight = cfg.Capture.Height
	}
	if snapshotOut == "" {
		snapshotOut = fmt.Sprintf("photo-%s.jpg", snapshotDevice)
	}

	cameras, backends, _, err := openCameras(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	defer cameras.Shutdown(context.Background())

	data, err := snapshot(ctx, cameras, snapshotDevice, snapshotWidth, snapshotHeight, cfg.Capture.FrameRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(snapshotOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write photo: %w", err)
	}
	fmt.Printf("Saved %d bytes to %s\n", len(data), snapshotOut)
	return nil
}

func snapshot(ctx context.Context, cameras *camera.Manager, id string, width, height, fps int) ([]byte, error) {
	log := logger.WithDevice("snapshot", id)

	events := cameras.Subscribe()
	defer cameras.Unsubscribe(events)

	format, err := cameras.Allocate(id, width, height, fps)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	log.Debug().Str("format", format.String()).Msg("Camera allocated")

	if snapshotZoom > 0 {
		if err := cameras.SetOptions(id, capture.PhotoOptions{Zoom: snapshotZoom}); err != nil {
			return nil, fmt.Errorf("set zoom: %w", err)
		}
	}
	if err := cameras.Start(id); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if err := waitStarted(ctx, events, id); err != nil {
		return nil, err
	}

	job, err := cameras.TakePhoto(id)
	if err != nil {
		return nil, fmt.Errorf("take photo: %w", err)
	}
	job, data, err := cameras.WaitPhoto(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("wait for photo: %w", err)
	}
	if job.Status != camera.JobDone {
		return nil, fmt.Errorf("photo %s %s", job.ID, job.Status)
	}
	return data, nil
}

// waitStarted blocks until the camera reports its first frame or an error
func waitStarted(ctx context.Context, events chan camera.Event, id string) error {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("camera %s closed", id)
			}
			if e.Device != id {
				continue
			}
			switch e.Type {
			case camera.EventStarted:
				return nil
			case camera.EventError:
				return fmt.Errorf("camera %s: %s", id, e.Error)
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for camera %s: %w", id, ctx.Err())
		}
	}
}
