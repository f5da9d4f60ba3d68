package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"soniqfm/model"
)

func makeWorkDir(t *testing.T, root string, userID, trackID string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, userID, trackID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create work dir: %v", err)
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestLocalPublishHLS(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "1", "42", "manifest.m3u8", "segment000.ts", "segment001.ts")

	pub := NewLocalPublisher(root, "/processed/")
	url, mt, err := pub.Publish(context.Background(), dir, 1, 42)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if url != "/processed/1/42/manifest.m3u8" {
		t.Errorf("unexpected URL: %s", url)
	}
	if mt != model.ManifestHLS {
		t.Errorf("unexpected manifest type: %s", mt)
	}
}

func TestLocalPublishDASH(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "2", "7", "manifest.mpd", "init-stream0.m4s")

	pub := NewLocalPublisher(root, "/processed/")
	url, mt, err := pub.Publish(context.Background(), dir, 2, 7)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if url != "/processed/2/7/manifest.mpd" {
		t.Errorf("unexpected URL: %s", url)
	}
	if mt != model.ManifestDASH {
		t.Errorf("unexpected manifest type: %s", mt)
	}
}

// HLS manifest takes priority when both are somehow present.
func TestLocalPublishPriority(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "1", "9", "manifest.m3u8", "manifest.mpd")

	pub := NewLocalPublisher(root, "/processed/")
	_, mt, err := pub.Publish(context.Background(), dir, 1, 9)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if mt != model.ManifestHLS {
		t.Errorf("expected HLS priority, got %s", mt)
	}
}

func TestLocalPublishMissingManifest(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "1", "3", "segment000.ts")

	pub := NewLocalPublisher(root, "/processed/")
	_, _, err := pub.Publish(context.Background(), dir, 1, 3)
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestLocalPublishBaseWithoutTrailingSlash(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "1", "4", "manifest.m3u8")

	pub := NewLocalPublisher(root, "/media")
	url, _, err := pub.Publish(context.Background(), dir, 1, 4)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if url != "/media/1/4/manifest.m3u8" {
		t.Errorf("unexpected URL: %s", url)
	}
}

func TestLocalCleanupRetainsServingFiles(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "1", "6", "manifest.m3u8", "segment000.ts")

	pub := NewLocalPublisher(root, "/processed/")
	pub.Cleanup(dir)

	if _, err := os.Stat(filepath.Join(dir, "manifest.m3u8")); err != nil {
		t.Errorf("expected published files to remain in place: %v", err)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base string
		rel  string
		want string
	}{
		{"/processed/", "1/42/manifest.m3u8", "/processed/1/42/manifest.m3u8"},
		{"/processed", "1/42/manifest.m3u8", "/processed/1/42/manifest.m3u8"},
		{"https://cdn.example.com/audio/", "5/6/manifest.mpd", "https://cdn.example.com/audio/5/6/manifest.mpd"},
		{"", "1/2/manifest.m3u8", "/1/2/manifest.m3u8"},
	}

	for _, tt := range tests {
		if got := joinURL(tt.base, tt.rel); got != tt.want {
			t.Errorf("joinURL(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}
