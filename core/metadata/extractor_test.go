package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
)

func TestParseTrackNumber(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"3", 3, true},
		{"3/12", 3, true},
		{" 7 / 10 ", 7, true},
		{"12", 12, true},
		{"", 0, false},
		{"abc", 0, false},
		{"0", 0, false},
		{"-1", 0, false},
		{"/12", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseTrackNumber(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseTrackNumber(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCeilMillis(t *testing.T) {
	tests := []struct {
		seconds float64
		want    int64
	}{
		{185.1, 185100},
		{2.0, 2000},
		{1.0001, 1001},
		{0.0005, 1},
	}

	for _, tt := range tests {
		if got := CeilMillis(tt.seconds); got != tt.want {
			t.Errorf("CeilMillis(%v) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestExtractMP3Tags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagged.mp3")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("failed to open tag: %v", err)
	}
	tag.SetTitle("Night Drive")
	tag.SetArtist("Neon Coast")
	tag.SetAlbum("Afterglow")
	tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, "4/11")
	tag.AddTextFrame("TLEN", id3v2.EncodingUTF8, "201450")
	if err := tag.Save(); err != nil {
		t.Fatalf("failed to save tag: %v", err)
	}
	tag.Close()

	res := Extract(path)
	if res.Title == nil || *res.Title != "Night Drive" {
		t.Errorf("unexpected title: %v", res.Title)
	}
	if res.Artist == nil || *res.Artist != "Neon Coast" {
		t.Errorf("unexpected artist: %v", res.Artist)
	}
	if res.Album == nil || *res.Album != "Afterglow" {
		t.Errorf("unexpected album: %v", res.Album)
	}
	if res.TrackNumber == nil || *res.TrackNumber != 4 {
		t.Errorf("unexpected track number: %v", res.TrackNumber)
	}
	if res.DurationMS == nil || *res.DurationMS != 201450 {
		t.Errorf("unexpected duration: %v", res.DurationMS)
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mystery.xyz")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	res := Extract(path)
	if res.Title != nil || res.Artist != nil || res.Album != nil || res.TrackNumber != nil || res.DurationMS != nil {
		t.Errorf("expected empty result for unknown format, got %+v", res)
	}
}

// TestExtractContainerTags feeds the container path an ID3-framed file; the
// reader detects the format from the magic bytes, not the extension, so this
// exercises the same parsing used for MP4 atoms and Ogg Vorbis comments.
func TestExtractContainerTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagged.m4a")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	tg, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("failed to open tag: %v", err)
	}
	tg.SetTitle("Low Tide")
	tg.SetArtist("Harbor Lights")
	tg.SetAlbum("Driftwood")
	tg.AddTextFrame(tg.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, "2/9")
	if err := tg.Save(); err != nil {
		t.Fatalf("failed to save tag: %v", err)
	}
	tg.Close()

	res := Extract(path)
	if res.Title == nil || *res.Title != "Low Tide" {
		t.Errorf("unexpected title: %v", res.Title)
	}
	if res.Artist == nil || *res.Artist != "Harbor Lights" {
		t.Errorf("unexpected artist: %v", res.Artist)
	}
	if res.Album == nil || *res.Album != "Driftwood" {
		t.Errorf("unexpected album: %v", res.Album)
	}
	if res.TrackNumber == nil || *res.TrackNumber != 2 {
		t.Errorf("unexpected track number: %v", res.TrackNumber)
	}
}

func TestExtractCorruptOgg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.ogg")
	if err := os.WriteFile(path, []byte("OggS but not really"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	res := Extract(path)
	if res.Title != nil || res.Artist != nil || res.TrackNumber != nil {
		t.Errorf("expected empty result for corrupt file, got %+v", res)
	}
}

func TestExtractCorruptFLAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.flac")
	if err := os.WriteFile(path, []byte("fLaC but not really"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	// Must degrade to an empty result, never fail the caller.
	res := Extract(path)
	if res.Title != nil || res.DurationMS != nil {
		t.Errorf("expected empty result for corrupt file, got %+v", res)
	}
}
