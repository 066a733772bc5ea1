package legacy

import (
	"math"

	"github.com/bryanchriswhite/videocapture/internal/capture"
	"github.com/bryanchriswhite/videocapture/internal/hal/legacyhal"
)

// areaWeight is the weight given to a single focus or metering area
const areaWeight = 1000

// colorTemperatureStep is the Kelvin granularity reported to callers
const colorTemperatureStep = 50

// SetPhotoOptions merges opts into the current settings and writes the
// result to the camera. A rejected parameter set is logged and both the
// camera and the settings keep their last good configuration.
func (b *Backend) SetPhotoOptions(opts capture.PhotoOptions) error {
	if b.camera == nil {
		return capture.ErrNotAllocated
	}

	b.settingsMu.Lock()
	defer b.settingsMu.Unlock()

	next := b.settings
	changes := next.Merge(opts)
	if !changes.Any() {
		return nil
	}

	params, err := b.camera.Parameters()
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to read parameters for photo options")
		return nil
	}
	applySettings(&params, next, changes)
	if err := b.camera.SetParameters(params); err != nil {
		b.log.Warn().Err(err).Msg("Camera rejected photo options")
		return nil
	}
	b.settings = next

	if changes.Metering && next.FocusMode == capture.MeteringModeSingleShot {
		err := b.camera.AutoFocus(func(success bool) {
			b.log.Debug().Bool("success", success).Msg("Auto focus finished")
		})
		if err != nil {
			b.log.Warn().Err(err).Msg("Auto focus request failed")
		}
	}
	return nil
}

// applySettings writes the groups of s flagged in changes into p
func applySettings(p *legacyhal.Parameters, s capture.Settings, changes capture.Changes) {
	if changes.Zoom && p.ZoomSupported && len(p.ZoomRatios) > 0 {
		p.Zoom = closestIndex(p.ZoomRatios, int(math.Round(s.Zoom*100)))
	}

	if changes.Metering {
		// A mode already in the requested family is kept as is
		if focusMeteringMode(p.FocusMode) != s.FocusMode {
			if mode, ok := legacyFocusMode(s.FocusMode, p.FocusModes); ok {
				p.FocusMode = mode
			}
		}
		p.FocusAreas, p.MeteringAreas = nil, nil
		if s.PointOfInterest != nil {
			area := []legacyhal.Area{{Rect: capture.LegacyMeteringArea(*s.PointOfInterest), Weight: areaWeight}}
			if p.MaxNumFocusAreas > 0 {
				p.FocusAreas = area
			}
			if p.MaxNumMeteringAreas > 0 {
				p.MeteringAreas = area
			}
		}
	}

	if changes.Exposure {
		if p.AutoExposureLockSupported {
			p.AutoExposureLock = s.ExposureMode == capture.MeteringModeManual
		}
		applyWhiteBalance(p, s)

		if s.HasExposureCompensation && p.ExposureCompensationStep > 0 {
			index := int(math.Round(s.ExposureCompensation / p.ExposureCompensationStep))
			p.ExposureCompensation = clampInt(index, p.MinExposureCompensation, p.MaxExposureCompensation)
		}
		if s.ISO > 0 && len(p.ISOValues) > 0 {
			p.ISO = p.ISOValues[closestIndex(p.ISOValues, s.ISO)]
		}
	}

	if changes.Flash {
		if mode, ok := legacyFlashMode(s.FlashMode(), p.FlashModes); ok {
			p.FlashMode = mode
		}
	}
}

// applyWhiteBalance maps the white balance mode. A manual mode with a
// color temperature selects the nearest supported preset; without one it
// locks the current auto white balance.
func applyWhiteBalance(p *legacyhal.Parameters, s capture.Settings) {
	switch s.WhiteBalanceMode {
	case capture.MeteringModeManual:
		if s.ColorTemperature > 0 {
			if ct, ok := capture.ClosestColorTemperature(s.ColorTemperature, capture.ColorTemperatures, presetSupported(p.WhiteBalanceModes)); ok {
				p.WhiteBalance = string(ct.Preset)
				p.AutoWhiteBalanceLock = false
				return
			}
		}
		if p.AutoWhiteBalanceLockSupported {
			p.AutoWhiteBalanceLock = true
		}
	case capture.MeteringModeContinuous, capture.MeteringModeSingleShot:
		if legacyhal.Supports(p.WhiteBalanceModes, legacyhal.WhiteBalanceAuto) {
			p.WhiteBalance = legacyhal.WhiteBalanceAuto
		}
		p.AutoWhiteBalanceLock = false
	}
}

func presetSupported(modes []string) func(capture.WhiteBalancePreset) bool {
	return func(preset capture.WhiteBalancePreset) bool {
		return legacyhal.Supports(modes, string(preset))
	}
}

func legacyFocusMode(mode capture.MeteringMode, supported []string) (string, bool) {
	var candidates []string
	switch mode {
	case capture.MeteringModeContinuous:
		candidates = []string{legacyhal.FocusModeContinuousPicture, legacyhal.FocusModeContinuousVideo}
	case capture.MeteringModeSingleShot:
		candidates = []string{legacyhal.FocusModeAuto, legacyhal.FocusModeMacro}
	case capture.MeteringModeManual:
		candidates = []string{legacyhal.FocusModeFixed, legacyhal.FocusModeInfinity, legacyhal.FocusModeEDOF}
	}
	for _, c := range candidates {
		if legacyhal.Supports(supported, c) {
			return c, true
		}
	}
	return "", false
}

func focusMeteringMode(mode string) capture.MeteringMode {
	switch mode {
	case legacyhal.FocusModeContinuousPicture, legacyhal.FocusModeContinuousVideo:
		return capture.MeteringModeContinuous
	case legacyhal.FocusModeAuto, legacyhal.FocusModeMacro:
		return capture.MeteringModeSingleShot
	case legacyhal.FocusModeFixed, legacyhal.FocusModeInfinity, legacyhal.FocusModeEDOF:
		return capture.MeteringModeManual
	default:
		return capture.MeteringModeNone
	}
}

// legacyFlashMode picks the HAL flash mode for mode. The HAL has a single
// red-eye mode, which fires automatically; forced flash with red-eye
// reduction falls back to plain forced flash when neither fits.
func legacyFlashMode(mode capture.FlashMode, supported []string) (string, bool) {
	var candidates []string
	switch mode {
	case capture.FlashOff:
		candidates = []string{legacyhal.FlashModeOff}
	case capture.FlashAuto:
		candidates = []string{legacyhal.FlashModeAuto}
	case capture.FlashAutoRedEye:
		candidates = []string{legacyhal.FlashModeRedEye, legacyhal.FlashModeAuto}
	case capture.FlashOn:
		candidates = []string{legacyhal.FlashModeOn}
	case capture.FlashOnRedEye:
		candidates = []string{legacyhal.FlashModeRedEye, legacyhal.FlashModeOn}
	case capture.FlashTorch:
		candidates = []string{legacyhal.FlashModeTorch}
	}
	for _, c := range candidates {
		if legacyhal.Supports(supported, c) {
			return c, true
		}
	}
	return "", false
}

// PhotoCapabilities reads the camera parameters and describes them
func (b *Backend) PhotoCapabilities() (capture.PhotoCapabilities, error) {
	if b.camera == nil {
		return capture.PhotoCapabilities{}, capture.ErrNotAllocated
	}
	p, err := b.camera.Parameters()
	if err != nil {
		return capture.PhotoCapabilities{}, err
	}
	b.settingsMu.Lock()
	defer b.settingsMu.Unlock()
	return capabilities(p, b.settings), nil
}

func capabilities(p legacyhal.Parameters, s capture.Settings) capture.PhotoCapabilities {
	var caps capture.PhotoCapabilities

	if len(p.ISOValues) > 0 {
		lo, hi := minMax(p.ISOValues)
		caps.ISO = capture.Range{Min: float64(lo), Max: float64(hi), Current: float64(p.ISO), Step: 1}
	}

	if len(p.PictureSizes) > 0 {
		widths := make([]int, len(p.PictureSizes))
		heights := make([]int, len(p.PictureSizes))
		for i, size := range p.PictureSizes {
			widths[i], heights[i] = size.Width, size.Height
		}
		wlo, whi := minMax(widths)
		hlo, hhi := minMax(heights)
		caps.Width = capture.Range{Min: float64(wlo), Max: float64(whi), Current: float64(p.PictureSize.Width), Step: 1}
		caps.Height = capture.Range{Min: float64(hlo), Max: float64(hhi), Current: float64(p.PictureSize.Height), Step: 1}
	}

	caps.Zoom = capture.Range{Min: 1, Max: 1, Current: 1, Step: 0}
	if p.ZoomSupported && len(p.ZoomRatios) > 0 {
		n := len(p.ZoomRatios)
		caps.Zoom.Min = float64(p.ZoomRatios[0]) / 100
		caps.Zoom.Max = float64(p.ZoomRatios[n-1]) / 100
		if p.Zoom >= 0 && p.Zoom < n {
			caps.Zoom.Current = float64(p.ZoomRatios[p.Zoom]) / 100
		}
		if n > 1 {
			caps.Zoom.Step = float64(p.ZoomRatios[1]-p.ZoomRatios[0]) / 100
		}
	}

	if p.ExposureCompensationStep > 0 {
		step := p.ExposureCompensationStep
		caps.ExposureCompensation = capture.Range{
			Min:     float64(p.MinExposureCompensation) * step,
			Max:     float64(p.MaxExposureCompensation) * step,
			Current: float64(p.ExposureCompensation) * step,
			Step:    step,
		}
	}

	supported := presetSupported(p.WhiteBalanceModes)
	if lo, hi, ok := capture.ColorTemperatureRange(capture.ColorTemperatures, supported); ok {
		current := float64(s.ColorTemperature)
		for _, ct := range capture.ColorTemperatures {
			if string(ct.Preset) == p.WhiteBalance {
				current = float64(ct.Kelvin)
			}
		}
		caps.ColorTemperature = capture.Range{Min: float64(lo), Max: float64(hi), Current: current, Step: colorTemperatureStep}
	}

	for _, mode := range []capture.MeteringMode{capture.MeteringModeManual, capture.MeteringModeSingleShot, capture.MeteringModeContinuous} {
		if _, ok := legacyFocusMode(mode, p.FocusModes); ok {
			caps.FocusModes = append(caps.FocusModes, mode)
		}
	}
	caps.FocusMode = focusMeteringMode(p.FocusMode)

	caps.ExposureModes = []capture.MeteringMode{capture.MeteringModeContinuous}
	if p.AutoExposureLockSupported {
		caps.ExposureModes = append([]capture.MeteringMode{capture.MeteringModeManual}, caps.ExposureModes...)
	}
	caps.ExposureMode = capture.MeteringModeContinuous
	if p.AutoExposureLock {
		caps.ExposureMode = capture.MeteringModeManual
	}

	_, _, hasPresets := capture.ColorTemperatureRange(capture.ColorTemperatures, supported)
	if p.AutoWhiteBalanceLockSupported || hasPresets {
		caps.WhiteBalanceModes = append(caps.WhiteBalanceModes, capture.MeteringModeManual)
	}
	if legacyhal.Supports(p.WhiteBalanceModes, legacyhal.WhiteBalanceAuto) {
		caps.WhiteBalanceModes = append(caps.WhiteBalanceModes, capture.MeteringModeContinuous)
	}
	caps.WhiteBalanceMode = capture.MeteringModeContinuous
	if p.AutoWhiteBalanceLock || (p.WhiteBalance != "" && p.WhiteBalance != legacyhal.WhiteBalanceAuto) {
		caps.WhiteBalanceMode = capture.MeteringModeManual
	}

	if legacyhal.Supports(p.FlashModes, legacyhal.FlashModeOff) {
		caps.FillLightModes = append(caps.FillLightModes, capture.FillLightOff)
	}
	if legacyhal.Supports(p.FlashModes, legacyhal.FlashModeAuto) {
		caps.FillLightModes = append(caps.FillLightModes, capture.FillLightAuto)
	}
	if legacyhal.Supports(p.FlashModes, legacyhal.FlashModeOn) {
		caps.FillLightModes = append(caps.FillLightModes, capture.FillLightFlash)
	}
	caps.SupportsTorch = legacyhal.Supports(p.FlashModes, legacyhal.FlashModeTorch)
	caps.Torch = p.FlashMode == legacyhal.FlashModeTorch
	caps.RedEyeReduction = legacyhal.Supports(p.FlashModes, legacyhal.FlashModeRedEye)

	return caps
}

// closestIndex returns the index of the value in values nearest to target
func closestIndex(values []int, target int) int {
	best, bestDiff := 0, math.MaxInt
	for i, v := range values {
		diff := v - target
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func minMax(values []int) (lo, hi int) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
