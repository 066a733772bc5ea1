package modern

import (
	"math"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/modernhal"
)

const (
	// regionFraction is the metering region size relative to the crop
	regionFraction = 0.125
	regionWeight   = 1000

	zoomStep             = 0.1
	colorTemperatureStep = 50
)

var presetAWBModes = map[capture.WhiteBalancePreset]modernhal.AWBMode{
	capture.WhiteBalanceIncandescent:    modernhal.AWBModeIncandescent,
	capture.WhiteBalanceWarmFluorescent: modernhal.AWBModeWarmFluorescent,
	capture.WhiteBalanceFluorescent:     modernhal.AWBModeFluorescent,
	capture.WhiteBalanceTwilight:        modernhal.AWBModeTwilight,
	capture.WhiteBalanceDaylight:        modernhal.AWBModeDaylight,
	capture.WhiteBalanceCloudyDaylight:  modernhal.AWBModeCloudyDaylight,
	capture.WhiteBalanceShade:           modernhal.AWBModeShade,
}

// requestBuilder turns the current settings into request controls
type requestBuilder struct {
	chars    modernhal.Characteristics
	fpsRange capture.FrameRateRange
}

func (rb requestBuilder) zoom(s capture.Settings) float64 {
	z := s.Zoom
	if z < 1 {
		z = 1
	}
	if rb.chars.MaxDigitalZoom >= 1 && z > rb.chars.MaxDigitalZoom {
		z = rb.chars.MaxDigitalZoom
	}
	return z
}

// apply writes s into req. The crop region follows the zoom and the point
// of interest is placed inside that crop.
func (rb requestBuilder) apply(req *modernhal.Request, s capture.Settings) {
	ch := rb.chars

	req.AETargetFPSRange = rb.fpsRange
	crop := capture.CropForZoom(ch.ActiveArray, rb.zoom(s))
	req.CropRegion = crop

	req.AFTrigger = modernhal.AFTriggerIdle
	switch s.FocusMode {
	case capture.MeteringModeContinuous:
		if req.Template == modernhal.TemplatePreview && ch.HasAFMode(modernhal.AFModeContinuousVideo) {
			req.AFMode = modernhal.AFModeContinuousVideo
		} else if ch.HasAFMode(modernhal.AFModeContinuousPicture) {
			req.AFMode = modernhal.AFModeContinuousPicture
		}
	case capture.MeteringModeSingleShot:
		if ch.HasAFMode(modernhal.AFModeAuto) {
			req.AFMode = modernhal.AFModeAuto
		}
	case capture.MeteringModeManual:
		if ch.HasAFMode(modernhal.AFModeOff) {
			req.AFMode = modernhal.AFModeOff
		}
	}

	req.AFRegions, req.AERegions, req.AWBRegions = nil, nil, nil
	if s.PointOfInterest != nil {
		region := []modernhal.MeteringRectangle{{
			Rect:   capture.MeteringRegion(crop, *s.PointOfInterest, regionFraction),
			Weight: regionWeight,
		}}
		if ch.MaxRegionsAF > 0 {
			req.AFRegions = region
		}
		if ch.MaxRegionsAE > 0 {
			req.AERegions = region
		}
		if ch.MaxRegionsAWB > 0 {
			req.AWBRegions = region
		}
	}

	rb.applyExposure(req, s)
	rb.applyWhiteBalance(req, s)
}

func (rb requestBuilder) applyExposure(req *modernhal.Request, s capture.Settings) {
	ch := rb.chars

	req.AEMode, req.FlashMode = rb.flashControls(s.FlashMode())
	req.AELock = false
	req.Sensitivity = 0
	if s.ExposureMode == capture.MeteringModeManual {
		if s.ISO > 0 && ch.HasAEMode(modernhal.AEModeOff) {
			req.AEMode = modernhal.AEModeOff
			req.Sensitivity = clampInt(s.ISO, ch.SensitivityMin, ch.SensitivityMax)
		} else if ch.AELockAvailable {
			req.AELock = true
		}
	}

	req.AECompensation = 0
	if s.HasExposureCompensation && ch.AECompensationStep > 0 {
		index := int(math.Round(s.ExposureCompensation / ch.AECompensationStep))
		req.AECompensation = clampInt(index, ch.AECompensationMin, ch.AECompensationMax)
	}
}

// flashControls maps a resolved flash mode onto the AE mode and flash
// mode pair the HAL expects. Forced flash with red-eye reduction has no
// AE mode of its own and uses the red-eye auto flash mode.
func (rb requestBuilder) flashControls(mode capture.FlashMode) (modernhal.AEMode, modernhal.FlashMode) {
	ch := rb.chars
	if !ch.FlashAvailable {
		return modernhal.AEModeOn, modernhal.FlashModeOff
	}

	want := modernhal.AEModeOn
	flash := modernhal.FlashModeOff
	switch mode {
	case capture.FlashAuto:
		want = modernhal.AEModeOnAutoFlash
	case capture.FlashAutoRedEye, capture.FlashOnRedEye:
		want = modernhal.AEModeOnAutoFlashRedEye
	case capture.FlashOn:
		want = modernhal.AEModeOnAlwaysFlash
	case capture.FlashTorch:
		flash = modernhal.FlashModeTorch
	}
	if !ch.HasAEMode(want) {
		want = modernhal.AEModeOn
	}
	return want, flash
}

func (rb requestBuilder) applyWhiteBalance(req *modernhal.Request, s capture.Settings) {
	ch := rb.chars
	req.AWBLock = false

	switch s.WhiteBalanceMode {
	case capture.MeteringModeManual:
		if s.ColorTemperature > 0 {
			if ct, ok := capture.ClosestColorTemperature(s.ColorTemperature, capture.ColorTemperatures, rb.presetSupported); ok {
				req.AWBMode = presetAWBModes[ct.Preset]
				return
			}
		}
		req.AWBMode = modernhal.AWBModeAuto
		req.AWBLock = ch.AWBLockAvailable
	default:
		if ch.HasAWBMode(modernhal.AWBModeAuto) {
			req.AWBMode = modernhal.AWBModeAuto
		}
	}
}

func (rb requestBuilder) presetSupported(p capture.WhiteBalancePreset) bool {
	mode, ok := presetAWBModes[p]
	return ok && rb.chars.HasAWBMode(mode)
}

// capabilities describes the camera and the current settings
func (rb requestBuilder) capabilities(s capture.Settings) capture.PhotoCapabilities {
	ch := rb.chars
	var caps capture.PhotoCapabilities

	if ch.SensitivityMax > 0 {
		caps.ISO = capture.Range{Min: float64(ch.SensitivityMin), Max: float64(ch.SensitivityMax), Current: float64(s.ISO), Step: 1}
	}

	if sizes := ch.OutputSizes(capture.PixelFormatJPEG); len(sizes) > 0 {
		caps.Width = capture.Range{Min: float64(sizes[0].Width), Max: float64(sizes[0].Width), Current: float64(s.PhotoWidth), Step: 1}
		caps.Height = capture.Range{Min: float64(sizes[0].Height), Max: float64(sizes[0].Height), Current: float64(s.PhotoHeight), Step: 1}
		for _, size := range sizes[1:] {
			caps.Width.Min = math.Min(caps.Width.Min, float64(size.Width))
			caps.Width.Max = math.Max(caps.Width.Max, float64(size.Width))
			caps.Height.Min = math.Min(caps.Height.Min, float64(size.Height))
			caps.Height.Max = math.Max(caps.Height.Max, float64(size.Height))
		}
	}

	maxZoom := math.Max(ch.MaxDigitalZoom, 1)
	caps.Zoom = capture.Range{Min: 1, Max: maxZoom, Current: rb.zoom(s), Step: zoomStep}

	if ch.AECompensationStep > 0 {
		caps.ExposureCompensation = capture.Range{
			Min:     float64(ch.AECompensationMin) * ch.AECompensationStep,
			Max:     float64(ch.AECompensationMax) * ch.AECompensationStep,
			Current: s.ExposureCompensation,
			Step:    ch.AECompensationStep,
		}
	}

	if lo, hi, ok := capture.ColorTemperatureRange(capture.ColorTemperatures, rb.presetSupported); ok {
		caps.ColorTemperature = capture.Range{Min: float64(lo), Max: float64(hi), Current: float64(s.ColorTemperature), Step: colorTemperatureStep}
	}

	if ch.HasAFMode(modernhal.AFModeOff) {
		caps.FocusModes = append(caps.FocusModes, capture.MeteringModeManual)
	}
	if ch.HasAFMode(modernhal.AFModeAuto) {
		caps.FocusModes = append(caps.FocusModes, capture.MeteringModeSingleShot)
	}
	if ch.HasAFMode(modernhal.AFModeContinuousVideo) || ch.HasAFMode(modernhal.AFModeContinuousPicture) {
		caps.FocusModes = append(caps.FocusModes, capture.MeteringModeContinuous)
	}
	caps.FocusMode = s.FocusMode

	if ch.AELockAvailable || ch.HasAEMode(modernhal.AEModeOff) {
		caps.ExposureModes = append(caps.ExposureModes, capture.MeteringModeManual)
	}
	caps.ExposureModes = append(caps.ExposureModes, capture.MeteringModeContinuous)
	caps.ExposureMode = s.ExposureMode

	_, _, hasPresets := capture.ColorTemperatureRange(capture.ColorTemperatures, rb.presetSupported)
	if ch.AWBLockAvailable || hasPresets {
		caps.WhiteBalanceModes = append(caps.WhiteBalanceModes, capture.MeteringModeManual)
	}
	if ch.HasAWBMode(modernhal.AWBModeAuto) {
		caps.WhiteBalanceModes = append(caps.WhiteBalanceModes, capture.MeteringModeContinuous)
	}
	caps.WhiteBalanceMode = s.WhiteBalanceMode

	caps.FillLightModes = []capture.FillLightMode{capture.FillLightOff}
	if ch.FlashAvailable {
		if ch.HasAEMode(modernhal.AEModeOnAutoFlash) {
			caps.FillLightModes = append(caps.FillLightModes, capture.FillLightAuto)
		}
		if ch.HasAEMode(modernhal.AEModeOnAlwaysFlash) {
			caps.FillLightModes = append(caps.FillLightModes, capture.FillLightFlash)
		}
	}
	caps.SupportsTorch = ch.FlashAvailable
	caps.Torch = s.Torch
	caps.RedEyeReduction = ch.FlashAvailable && ch.HasAEMode(modernhal.AEModeOnAutoFlashRedEye)

	return caps
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi > lo && v > hi {
		return hi
	}
	return v
}
