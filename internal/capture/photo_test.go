package capture

import "testing"

func ptr[T any](v T) *T { return &v }

func TestSettingsMerge(t *testing.T) {
	t.Run("zero values leave settings unchanged", func(t *testing.T) {
		s := DefaultSettings()
		if ch := s.Merge(PhotoOptions{}); ch.Any() {
			t.Errorf("empty merge reported changes %+v", ch)
		}
		if s != DefaultSettings() {
			t.Errorf("empty merge changed settings to %+v", s)
		}
	})

	t.Run("same zoom is not a change", func(t *testing.T) {
		s := DefaultSettings()
		if ch := s.Merge(PhotoOptions{Zoom: 1}); ch.Zoom {
			t.Error("zoom 1 on a zoom 1 device reported a change")
		}
	})

	t.Run("groups", func(t *testing.T) {
		s := DefaultSettings()
		ch := s.Merge(PhotoOptions{
			Zoom:                 2.5,
			ExposureCompensation: ptr(-1.0),
			ISO:                  ptr(399.6),
			ColorTemperature:     ptr(5000.2),
			FillLightMode:        FillLightAuto,
			Width:                1024,
		})
		if !ch.Zoom || !ch.Exposure || !ch.Flash || !ch.Size || ch.Metering {
			t.Errorf("changes = %+v", ch)
		}
		if s.Zoom != 2.5 || s.ISO != 400 || s.ColorTemperature != 5000 {
			t.Errorf("settings = %+v", s)
		}
		if !s.HasExposureCompensation || s.ExposureCompensation != -1 {
			t.Errorf("exposure compensation = %v (set %v)", s.ExposureCompensation, s.HasExposureCompensation)
		}
		if s.PhotoWidth != 1024 || s.PhotoHeight != 0 {
			t.Errorf("photo size = %dx%d, want height untouched", s.PhotoWidth, s.PhotoHeight)
		}
	})

	t.Run("point of interest is clamped", func(t *testing.T) {
		s := DefaultSettings()
		s.Merge(PhotoOptions{PointOfInterest: &Point{X: 1.5, Y: -0.2}})
		if s.PointOfInterest == nil || *s.PointOfInterest != (Point{X: 1, Y: 0}) {
			t.Errorf("point of interest = %v, want {1 0}", s.PointOfInterest)
		}
	})

	t.Run("manual mode clears point of interest", func(t *testing.T) {
		s := DefaultSettings()
		s.Merge(PhotoOptions{PointOfInterest: &Point{X: 0.3, Y: 0.3}})

		ch := s.Merge(PhotoOptions{FocusMode: MeteringModeManual})
		if s.PointOfInterest != nil {
			t.Errorf("point of interest = %v, want cleared", s.PointOfInterest)
		}
		if !ch.Metering {
			t.Error("clearing the point of interest should be a metering change")
		}
	})

	t.Run("manual mode with a new point keeps it", func(t *testing.T) {
		s := DefaultSettings()
		s.Merge(PhotoOptions{ExposureMode: MeteringModeManual, PointOfInterest: &Point{X: 0.1, Y: 0.9}})
		if s.PointOfInterest == nil || *s.PointOfInterest != (Point{X: 0.1, Y: 0.9}) {
			t.Errorf("point of interest = %v, want {0.1 0.9}", s.PointOfInterest)
		}
	})

	t.Run("continuous mode keeps point of interest", func(t *testing.T) {
		s := DefaultSettings()
		s.Merge(PhotoOptions{PointOfInterest: &Point{X: 0.3, Y: 0.3}})
		s.Merge(PhotoOptions{FocusMode: MeteringModeContinuous})
		if s.PointOfInterest == nil {
			t.Error("continuous focus cleared the point of interest")
		}
	})

	t.Run("torch and red-eye are sticky", func(t *testing.T) {
		s := DefaultSettings()
		s.Merge(PhotoOptions{Torch: ptr(true), RedEyeReduction: ptr(true)})
		s.Merge(PhotoOptions{FillLightMode: FillLightFlash})
		if !s.Torch || !s.RedEyeReduction {
			t.Errorf("torch = %v red-eye = %v, want both kept", s.Torch, s.RedEyeReduction)
		}
		s.Merge(PhotoOptions{Torch: ptr(false)})
		if s.Torch {
			t.Error("explicit false did not clear the torch")
		}
	})
}

func TestSettingsFlashMode(t *testing.T) {
	tests := []struct {
		fill   FillLightMode
		torch  bool
		redEye bool
		want   FlashMode
	}{
		{FillLightOff, false, false, FlashOff},
		{FillLightOff, false, true, FlashOff},
		{FillLightAuto, false, false, FlashAuto},
		{FillLightAuto, false, true, FlashAutoRedEye},
		{FillLightFlash, false, false, FlashOn},
		{FillLightFlash, false, true, FlashOnRedEye},
		{FillLightFlash, true, true, FlashTorch},
		{FillLightOff, true, false, FlashTorch},
	}

	for _, tt := range tests {
		s := Settings{FillLightMode: tt.fill, Torch: tt.torch, RedEyeReduction: tt.redEye}
		if got := s.FlashMode(); got != tt.want {
			t.Errorf("FlashMode(fill=%s torch=%v red-eye=%v) = %s, want %s", tt.fill, tt.torch, tt.redEye, got, tt.want)
		}
	}
}
