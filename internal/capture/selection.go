package capture

// Frame rate range ranking. Ranges with a low minimum let the sensor
// stretch exposure in poor light, so a high minimum is penalized; the
// maximum should still track the requested rate.
const (
	minFrameRateThreshold  = 8000
	minFrameRateLowWeight  = 1
	minFrameRateHighWeight = 4

	maxFrameRateDiffThreshold  = 5000
	maxFrameRateDiffLowWeight  = 1
	maxFrameRateDiffHighWeight = 3
)

func rangePenalty(value, threshold, lowWeight, highWeight int) int {
	if value < threshold {
		return value * lowWeight
	}
	return threshold*lowWeight + (value-threshold)*highWeight
}

// FrameRateRangePenalty scores r against a target rate (fps*1000).
// Lower is better.
func FrameRateRangePenalty(r FrameRateRange, target int) int {
	maxDiff := target - r.Max
	if maxDiff < 0 {
		maxDiff = -maxDiff
	}
	return rangePenalty(r.Min, minFrameRateThreshold, minFrameRateLowWeight, minFrameRateHighWeight) +
		rangePenalty(maxDiff, maxFrameRateDiffThreshold, maxFrameRateDiffLowWeight, maxFrameRateDiffHighWeight)
}

// ClosestFrameRateRange returns the range with the lowest penalty for
// target (fps*1000). Ties keep the earliest range. ok is false when
// ranges is empty.
func ClosestFrameRateRange(ranges []FrameRateRange, target int) (best FrameRateRange, ok bool) {
	bestPenalty := 0
	for i, r := range ranges {
		p := FrameRateRangePenalty(r, target)
		if i == 0 || p < bestPenalty {
			best, bestPenalty = r, p
		}
	}
	return best, len(ranges) > 0
}

// ClosestResolution returns the candidate minimizing |w-width|+|h-height|.
// accept, when non-nil, filters candidates before ranking; ties keep the
// earliest candidate. ok is false when nothing is accepted.
func ClosestResolution(candidates []Resolution, width, height int, accept func(Resolution) bool) (best Resolution, ok bool) {
	bestDiff := 0
	for _, c := range candidates {
		if accept != nil && !accept(c) {
			continue
		}
		diff := abs(c.Width-width) + abs(c.Height-height)
		if !ok || diff < bestDiff {
			best, bestDiff, ok = c, diff, true
		}
	}
	return best, ok
}

// WhiteBalancePreset names a fixed white balance setting
type WhiteBalancePreset string

const (
	WhiteBalanceIncandescent    WhiteBalancePreset = "incandescent"
	WhiteBalanceWarmFluorescent WhiteBalancePreset = "warm-fluorescent"
	WhiteBalanceFluorescent     WhiteBalancePreset = "fluorescent"
	WhiteBalanceTwilight        WhiteBalancePreset = "twilight"
	WhiteBalanceDaylight        WhiteBalancePreset = "daylight"
	WhiteBalanceCloudyDaylight  WhiteBalancePreset = "cloudy-daylight"
	WhiteBalanceShade           WhiteBalancePreset = "shade"
)

// ColorTemperature pairs a Kelvin value with the preset that produces it
type ColorTemperature struct {
	Kelvin int
	Preset WhiteBalancePreset
}

// ColorTemperatures is the preset table, ascending by Kelvin
var ColorTemperatures = []ColorTemperature{
	{Kelvin: 2850, Preset: WhiteBalanceIncandescent},
	{Kelvin: 2950, Preset: WhiteBalanceWarmFluorescent},
	{Kelvin: 4250, Preset: WhiteBalanceFluorescent},
	{Kelvin: 4600, Preset: WhiteBalanceTwilight},
	{Kelvin: 5500, Preset: WhiteBalanceDaylight},
	{Kelvin: 6000, Preset: WhiteBalanceCloudyDaylight},
	{Kelvin: 7000, Preset: WhiteBalanceShade},
}

// ClosestColorTemperature picks the entry of table nearest to kelvin,
// skipping presets for which supported returns false. A nil supported
// accepts every preset. Ties keep the lower temperature.
func ClosestColorTemperature(kelvin int, table []ColorTemperature, supported func(WhiteBalancePreset) bool) (best ColorTemperature, ok bool) {
	bestDiff := 0
	for _, entry := range table {
		if supported != nil && !supported(entry.Preset) {
			continue
		}
		diff := abs(entry.Kelvin - kelvin)
		if !ok || diff < bestDiff {
			best, bestDiff, ok = entry, diff, true
		}
	}
	return best, ok
}

// ColorTemperatureRange returns the Kelvin span covered by the supported
// presets of table.
func ColorTemperatureRange(table []ColorTemperature, supported func(WhiteBalancePreset) bool) (lo, hi int, ok bool) {
	for _, entry := range table {
		if supported != nil && !supported(entry.Preset) {
			continue
		}
		if !ok || entry.Kelvin < lo {
			lo = entry.Kelvin
		}
		if !ok || entry.Kelvin > hi {
			hi = entry.Kelvin
		}
		ok = true
	}
	return lo, hi, ok
}

// CameraRotation is the clockwise rotation to apply to sensor output for
// upright display. invert flips the device rotation; which cameras need
// the flip differs per hardware generation.
func CameraRotation(sensorOrientation, deviceRotation int, invert bool) int {
	deviceRotation = normalizeDegrees(deviceRotation)
	if invert {
		deviceRotation = 360 - deviceRotation
	}
	return (normalizeDegrees(sensorOrientation) + deviceRotation) % 360
}

func normalizeDegrees(d int) int {
	d %= 360
	if d < 0 {
		d += 360
	}
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
