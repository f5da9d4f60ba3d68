package model

import "testing"

func TestParseManifestType(t *testing.T) {
	tests := []struct {
		in     string
		want   ManifestType
		wantOK bool
	}{
		{"HLS", ManifestHLS, true},
		{"DASH", ManifestDASH, true},
		{"hls", "", false},
		{"", "", false},
		{"MP4", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseManifestType(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseManifestType(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
