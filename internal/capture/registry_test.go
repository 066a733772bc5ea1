package capture

import (
	"errors"
	"testing"
)

// stubDevice counts deallocations and otherwise does nothing
type stubDevice struct {
	id            string
	deallocations int
}

func (d *stubDevice) ID() string                                    { return d.id }
func (d *stubDevice) Allocate(int, int, int) error                  { return nil }
func (d *stubDevice) StartCapture() error                           { return nil }
func (d *stubDevice) StopCapture() error                            { return nil }
func (d *stubDevice) TakePhoto(int64) error                         { return nil }
func (d *stubDevice) SetPhotoOptions(PhotoOptions) error            { return nil }
func (d *stubDevice) PhotoCapabilities() (PhotoCapabilities, error) { return PhotoCapabilities{}, nil }
func (d *stubDevice) Deallocate()                                   { d.deallocations++ }
func (d *stubDevice) Format() Format                                { return Format{} }

func stubFactory(created *[]*stubDevice) Factory {
	return func(desc Descriptor, _ Listener, _ Options) (Device, error) {
		d := &stubDevice{id: desc.ID}
		*created = append(*created, d)
		return d, nil
	}
}

func TestRegistry_Register(t *testing.T) {
	var created []*stubDevice
	r := NewRegistry()

	if err := r.Register(Descriptor{ID: "0", Generation: GenerationLegacy}, stubFactory(&created)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Descriptor{ID: "1", Generation: GenerationModern}, stubFactory(&created)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Descriptor{ID: "0"}, stubFactory(&created)); err == nil {
		t.Error("duplicate id registered")
	}
	if err := r.Register(Descriptor{}, stubFactory(&created)); err == nil {
		t.Error("empty id registered")
	}
	if err := r.Register(Descriptor{ID: "2"}, nil); err == nil {
		t.Error("nil factory registered")
	}

	descs := r.Descriptors()
	if len(descs) != 2 || descs[0].ID != "0" || descs[1].ID != "1" {
		t.Errorf("Descriptors() = %+v, want ids 0, 1 in order", descs)
	}
	if d, ok := r.Lookup("1"); !ok || d.Generation != GenerationModern {
		t.Errorf("Lookup(1) = %+v, %v", d, ok)
	}
	if _, ok := r.Lookup("9"); ok {
		t.Error("Lookup found an unregistered camera")
	}
}

func TestRegistry_OpenReservesCamera(t *testing.T) {
	var created []*stubDevice
	r := NewRegistry()
	if err := r.Register(Descriptor{ID: "0"}, stubFactory(&created)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Open("missing", nil, Options{}); !errors.Is(err, ErrUnknownCamera) {
		t.Errorf("Open(missing) = %v, want ErrUnknownCamera", err)
	}

	dev, err := r.Open("0", nil, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !r.InUse("0") {
		t.Error("camera not reserved after Open")
	}
	if _, err := r.Open("0", nil, Options{}); !errors.Is(err, ErrCameraInUse) {
		t.Errorf("second Open = %v, want ErrCameraInUse", err)
	}

	dev.Deallocate()
	dev.Deallocate()
	if r.InUse("0") {
		t.Error("camera still reserved after Deallocate")
	}
	if created[0].deallocations != 2 {
		t.Errorf("backend deallocated %d times, want 2", created[0].deallocations)
	}

	if _, err := r.Open("0", nil, Options{}); err != nil {
		t.Errorf("reopen after Deallocate: %v", err)
	}
}

func TestRegistry_FactoryErrorReleases(t *testing.T) {
	r := NewRegistry()
	failing := func(Descriptor, Listener, Options) (Device, error) {
		return nil, errors.New("no hal")
	}
	if err := r.Register(Descriptor{ID: "0"}, failing); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Open("0", nil, Options{}); err == nil {
		t.Fatal("Open succeeded with a failing factory")
	}
	if r.InUse("0") {
		t.Error("failed Open left the camera reserved")
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"1280x720", Resolution{1280, 720}, false},
		{" 640X480 ", Resolution{640, 480}, false},
		{"1280", Resolution{}, true},
		{"axb", Resolution{}, true},
		{"0x480", Resolution{}, true},
	}

	for _, tt := range tests {
		got, err := ParseResolution(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseResolution(%q) = %v, %v; want %v, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestFormatFrameSize(t *testing.T) {
	tests := []struct {
		format Format
		want   int
	}{
		{Format{Width: 640, Height: 480, PixelFormat: PixelFormatYUV420}, 460800},
		{Format{Width: 640, Height: 480, PixelFormat: PixelFormatNV21}, 460800},
		{Format{Width: 640, Height: 480, PixelFormat: PixelFormatJPEG}, 0},
	}
	for _, tt := range tests {
		if got := tt.format.FrameSize(); got != tt.want {
			t.Errorf("%v FrameSize() = %d, want %d", tt.format, got, tt.want)
		}
	}

	if got := ParsePixelFormat("I420"); got != PixelFormatYUV420 {
		t.Errorf("ParsePixelFormat(I420) = %v", got)
	}
	if got := ParseFacing("environment"); got != FacingBack {
		t.Errorf("ParseFacing(environment) = %v", got)
	}
}
