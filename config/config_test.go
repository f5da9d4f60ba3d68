package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("unexpected default ffmpeg path: %s", cfg.FFmpegPath)
	}
	if cfg.FFprobePath != "ffprobe" {
		t.Errorf("unexpected default ffprobe path: %s", cfg.FFprobePath)
	}
	if cfg.DefaultAudioCodec != "aac" || cfg.DefaultAudioBitrate != "192k" {
		t.Errorf("unexpected codec defaults: %s/%s", cfg.DefaultAudioCodec, cfg.DefaultAudioBitrate)
	}
	if cfg.DefaultSegmentDuration != 10 {
		t.Errorf("unexpected segment duration: %d", cfg.DefaultSegmentDuration)
	}
	if len(cfg.AllowedFormats) != 2 {
		t.Errorf("unexpected allowed formats: %v", cfg.AllowedFormats)
	}
	if !cfg.ProcessingEnabled || !cfg.TranscodingEnabled {
		t.Error("processing and transcoding should default to enabled")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("unexpected max retries: %d", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != 60*time.Second {
		t.Errorf("unexpected retry base delay: %v", cfg.RetryBaseDelay)
	}
	if cfg.PublisherPlugin != "local" {
		t.Errorf("unexpected publisher plugin: %s", cfg.PublisherPlugin)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ALLOWED_FORMATS", "hls")
	t.Setenv("TRANSCODING_ENABLED", "false")
	t.Setenv("INGEST_RETRY_BASE_DELAY", "30")
	t.Setenv("SEGMENT_DURATION", "4")

	cfg := Load()

	if len(cfg.AllowedFormats) != 1 || cfg.AllowedFormats[0] != "HLS" {
		t.Errorf("formats not normalized: %v", cfg.AllowedFormats)
	}
	if cfg.TranscodingEnabled {
		t.Error("expected transcoding disabled")
	}
	if cfg.RetryBaseDelay != 30*time.Second {
		t.Errorf("unexpected retry base delay: %v", cfg.RetryBaseDelay)
	}
	if cfg.DefaultSegmentDuration != 4 {
		t.Errorf("unexpected segment duration: %d", cfg.DefaultSegmentDuration)
	}
}

func TestFormatAllowed(t *testing.T) {
	cfg := &Config{AllowedFormats: []string{"HLS", "DASH"}}

	if !cfg.FormatAllowed("HLS") || !cfg.FormatAllowed("hls") {
		t.Error("HLS should be allowed case-insensitively")
	}
	if !cfg.FormatAllowed("DASH") {
		t.Error("DASH should be allowed")
	}
	if cfg.FormatAllowed("OGG") {
		t.Error("OGG should not be allowed")
	}
}
