package camera

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/capture/legacy"
	"github.com/bryanchriswhite/videocapture/internal/capture/modern"
	"github.com/bryanchriswhite/videocapture/internal/config"
	"github.com/bryanchriswhite/videocapture/internal/hal/cvhal"
	"github.com/bryanchriswhite/videocapture/internal/hal/gsthal"
	"github.com/bryanchriswhite/videocapture/internal/hal/legacyhal"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
	"github.com/bryanchriswhite/videocapture/internal/hw/torch"
)

// Backends owns the HALs behind a registry built from configuration
type Backends struct {
	Registry  *capture.Registry
	LegacySim *legacyhal.Simulator
	ModernSim *modernhal.Simulator

	torches []torch.Driver
}

// Close releases the torch drivers
func (b *Backends) Close() error {
	var errs []error
	for _, t := range b.torches {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.torches = nil
	return errors.Join(errs...)
}

// NewBackends registers every configured device with the HAL its
// backend names. Hardware HALs are only created when a device uses them.
func NewBackends(devices []config.DeviceConfig) (*Backends, error) {
	b := &Backends{
		Registry:  capture.NewRegistry(),
		LegacySim: legacyhal.NewSimulator(),
		ModernSim: modernhal.NewSimulator(),
	}
	cvSources := make(map[string]cvhal.Source)
	gstSources := make(map[string]gsthal.Source)

	for _, d := range devices {
		sizes, err := d.Sizes()
		if err != nil {
			b.Close()
			return nil, err
		}
		var driver torch.Driver
		if d.HasTorch() {
			if driver, err = torch.New(d.TorchPin, d.MockGPIO); err != nil {
				b.Close()
				return nil, fmt.Errorf("device %s torch: %w", d.ID, err)
			}
			b.torches = append(b.torches, driver)
		}
		facing := capture.ParseFacing(d.Facing)

		switch d.Backend {
		case config.BackendSimLegacy:
			b.LegacySim.Add(d.ID, legacySimConfig(d, facing, sizes))
		case config.BackendSimModern:
			b.ModernSim.Add(d.ID, modernSimConfig(d, facing, sizes))
		case config.BackendOpenCV:
			cvSources[d.ID] = cvhal.Source{
				Device:      d.Source,
				Facing:      facing,
				Orientation: d.SensorOrientation,
				Sizes:       sizes,
				FrameRates:  d.FrameRates,
				Torch:       driver,
			}
		case config.BackendGStreamer:
			gstSources[d.ID] = gsthal.Source{
				Device:      d.Source,
				Element:     d.Element,
				Facing:      facing,
				Orientation: d.SensorOrientation,
				Sizes:       sizes,
				FrameRates:  d.FrameRates,
				Torch:       driver,
			}
		default:
			b.Close()
			return nil, fmt.Errorf("device %s: unknown backend %q", d.ID, d.Backend)
		}
	}

	var cvFactory, gstFactory capture.Factory
	if len(cvSources) > 0 {
		cvFactory = legacy.Factory(cvhal.NewOpener(cvSources))
	}
	if len(gstSources) > 0 {
		gstFactory = modern.Factory(gsthal.NewManager(gstSources))
	}

	for _, d := range devices {
		var factory capture.Factory
		switch d.Backend {
		case config.BackendSimLegacy:
			factory = legacy.Factory(b.LegacySim)
		case config.BackendSimModern:
			factory = modern.Factory(b.ModernSim)
		case config.BackendOpenCV:
			factory = cvFactory
		case config.BackendGStreamer:
			factory = gstFactory
		}
		if err := b.Registry.Register(d.Descriptor(), factory); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func legacySimConfig(d config.DeviceConfig, facing capture.Facing, sizes []capture.Resolution) legacyhal.SimConfig {
	params := legacyhal.DefaultParameters()
	if len(sizes) > 0 {
		params.PreviewSizes = sizes
		params.PreviewSize = sizes[0]
	}
	if len(d.FrameRates) > 0 {
		params.PreviewFPSRanges = nil
		for _, fps := range d.FrameRates {
			params.PreviewFPSRanges = append(params.PreviewFPSRanges, capture.FrameRateRange{Min: fps * 1000, Max: fps * 1000})
		}
		params.PreviewFPSRange = params.PreviewFPSRanges[0]
	}
	return legacyhal.SimConfig{
		Info:       legacyhal.Info{Facing: facing, Orientation: d.SensorOrientation},
		Parameters: params,
	}
}

func modernSimConfig(d config.DeviceConfig, facing capture.Facing, sizes []capture.Resolution) modernhal.SimConfig {
	chars := modernhal.DefaultCharacteristics()
	if facing != capture.FacingUnknown {
		chars.Facing = facing
		chars.SensorOrientation = d.SensorOrientation
	}
	if len(sizes) > 0 {
		var configs []modernhal.StreamConfig
		for _, s := range sizes {
			configs = append(configs, modernhal.StreamConfig{Format: capture.PixelFormatYUV420, Size: s})
		}
		for _, sc := range chars.StreamConfigs {
			if sc.Format == capture.PixelFormatJPEG {
				configs = append(configs, sc)
			}
		}
		chars.StreamConfigs = configs
	}
	if len(d.FrameRates) > 0 {
		chars.AETargetFPSRanges = nil
		for _, fps := range d.FrameRates {
			chars.AETargetFPSRanges = append(chars.AETargetFPSRanges, capture.FrameRateRange{Min: fps, Max: fps})
		}
	}
	return modernhal.SimConfig{Characteristics: chars}
}
