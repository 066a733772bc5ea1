package commands

import "testing"

func TestParseValue(t *testing.T) {
	tests := []struct {
		key, value string
		want       interface{}
		wantErr    bool
	}{
		{"server_port", "9090", 9090, false},
		{"server_port", "http", nil, true},
		{"log_level", "debug", "debug", false},
		{"log_level", "loud", nil, true},
		{"capture.autostart", "true", true, false},
		{"overlay.enabled", "maybe", nil, true},
		{"photo.zoom", "2.5", 2.5, false},
		{"photo.fill_light_mode", "flash", "flash", false},
	}

	for _, tt := range tests {
		got, err := parseValue(tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseValue(%s, %s) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseValue(%s, %s) = %v (%T), want %v (%T)", tt.key, tt.value, got, got, tt.want, tt.want)
		}
	}
}
