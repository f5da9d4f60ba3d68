package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"soniqfm/core/metadata"
	"soniqfm/logger"
	"soniqfm/model"
)

// Manifest filenames produced under a track's working directory.
const (
	ManifestFileHLS  = "manifest.m3u8"
	ManifestFileDASH = "manifest.mpd"
)

// Request describes one transcode invocation. OutputDir must already exist;
// the invoker overwrites any stale segment files from a prior partial run.
type Request struct {
	InputPath       string
	OutputDir       string
	Format          model.ManifestType
	Codec           string
	Bitrate         string
	SegmentDuration int
}

// Transcoder produces segmented streaming output and can probe a file's
// duration without transcoding. Retries are the pipeline's responsibility,
// not the invoker's.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) error
	ProbeDurationMS(ctx context.Context, path string) (int64, error)
}

// ExecError carries the captured standard-error output of a failed external
// invocation so the pipeline can surface it in diagnostics.
type ExecError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s execution failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// FFmpegTranscoder shells out to ffmpeg/ffprobe.
type FFmpegTranscoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
func NewFFmpegTranscoder(ffmpegPath, ffprobePath string) *FFmpegTranscoder {
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Transcode runs ffmpeg synchronously. The tool's exit code is the sole
// success signal; non-zero exit or spawn failure is returned as an *ExecError
// with the captured stderr.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, req Request) error {
	args, err := buildArgs(req)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg",
		logger.String("input", req.InputPath),
		logger.String("format", string(req.Format)),
		logger.String("outputDir", req.OutputDir))

	if err := cmd.Run(); err != nil {
		return &ExecError{Tool: "ffmpeg", Stderr: stderr.String(), Err: err}
	}
	return nil
}

// buildArgs assembles the fixed argument template for the requested format.
func buildArgs(req Request) ([]string, error) {
	common := []string{
		"-y",
		"-i", req.InputPath,
		"-map", "0:a:0",
		"-c:a", req.Codec,
		"-b:a", req.Bitrate,
	}

	switch req.Format {
	case model.ManifestHLS:
		return append(common,
			"-f", "hls",
			"-hls_time", strconv.Itoa(req.SegmentDuration),
			"-hls_list_size", "0",
			"-hls_segment_filename", filepath.Join(req.OutputDir, "segment%03d.ts"),
			"-start_number", "0",
			filepath.Join(req.OutputDir, ManifestFileHLS),
		), nil
	case model.ManifestDASH:
		return append(common,
			"-f", "dash",
			"-seg_duration", strconv.Itoa(req.SegmentDuration),
			"-use_template", "1",
			"-use_timeline", "1",
			"-init_seg_name", "init-stream$RepresentationID$.m4s",
			"-media_seg_name", "chunk-stream$RepresentationID$-$Number%05d$.m4s",
			filepath.Join(req.OutputDir, ManifestFileDASH),
		), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", req.Format)
	}
}

// ffprobeOutput is the subset of ffprobe's JSON output we care about.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// ProbeDurationMS introspects the container to determine the playable length
// in milliseconds. Read-only: no transcoding takes place.
func (t *FFmpegTranscoder) ProbeDurationMS(ctx context.Context, path string) (int64, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, t.ffprobePath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, &ExecError{Tool: "ffprobe", Stderr: stderr.String(), Err: err}
	}

	return parseProbeDuration(out.Bytes())
}

// parseProbeDuration prefers the container-level duration, falling back to
// the first audio stream that reports one.
func parseProbeDuration(data []byte) (int64, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if secs, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && secs > 0 {
		return metadata.CeilMillis(secs), nil
	}

	for _, stream := range probe.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		if secs, err := strconv.ParseFloat(stream.Duration, 64); err == nil && secs > 0 {
			return metadata.CeilMillis(secs), nil
		}
	}

	return 0, fmt.Errorf("no valid duration in ffprobe output")
}
