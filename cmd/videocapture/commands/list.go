package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/videocapture/internal/camera"
	"github.com/bryanchriswhite/videocapture/internal/capture"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured cameras",
	Long: `List every camera in the configuration with its backend, facing and
sensor orientation.

With --capabilities each camera is allocated briefly to report its photo
capabilities.`,
	Example: `  # List cameras in table format (default)
  videocapture list

  # List cameras in JSON format
  videocapture list --format json

  # Include photo capabilities
  videocapture list --capabilities`,
	RunE: runList,
}

var (
	listFormat       string
	listCapabilities bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listCapabilities, "capabilities", "c", false, "allocate each camera and report its photo capabilities")
}

type cameraInfo struct {
	capture.Descriptor
	Format       *capture.Format            `json:"format,omitempty"`
	Capabilities *capture.PhotoCapabilities `json:"capabilities,omitempty"`
	Error        string                     `json:"error,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cameras, backends, _, err := openCameras(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	var infos []cameraInfo
	for _, d := range backends.Registry.Descriptors() {
		info := cameraInfo{Descriptor: d}
		if listCapabilities {
			probe(cameras, &info, cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FrameRate)
		}
		infos = append(infos, info)
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	case "table":
		return printCamerasTable(infos)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

// probe allocates the camera, reads its capabilities and closes it again
func probe(cameras *camera.Manager, info *cameraInfo, width, height, fps int) {
	format, err := cameras.Allocate(info.ID, width, height, fps)
	if err != nil {
		info.Error = err.Error()
		return
	}
	defer cameras.Close(info.ID)

	info.Format = &format
	caps, err := cameras.Capabilities(info.ID)
	if err != nil {
		info.Error = err.Error()
		return
	}
	info.Capabilities = &caps
}

func printCamerasTable(infos []cameraInfo) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if !listCapabilities {
		fmt.Fprintln(w, "ID\tNAME\tBACKEND\tGENERATION\tFACING\tORIENTATION")
		fmt.Fprintln(w, "--\t----\t-------\t----------\t------\t-----------")
		for _, c := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", c.ID, c.Name, c.Backend, c.Generation, c.Facing, c.SensorOrientation)
		}
		return nil
	}

	fmt.Fprintln(w, "ID\tNAME\tFORMAT\tZOOM\tISO\tFOCUS\tFILL LIGHT")
	fmt.Fprintln(w, "--\t----\t------\t----\t---\t-----\t----------")
	for _, c := range infos {
		if c.Error != "" {
			fmt.Fprintf(w, "%s\t%s\terror: %s\t\t\t\t\n", c.ID, c.Name, c.Error)
			continue
		}
		caps := c.Capabilities
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2g-%.2g\t%.0f-%.0f\t%v\t%v\n",
			c.ID, c.Name, c.Format,
			caps.Zoom.Min, caps.Zoom.Max,
			caps.ISO.Min, caps.ISO.Max,
			caps.FocusModes, caps.FillLightModes)
	}
	return nil
}
