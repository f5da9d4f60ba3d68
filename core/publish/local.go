package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"soniqfm/core/transcode"
	"soniqfm/logger"
	"soniqfm/model"
)

// LocalPublisher serves finished output straight from the local output root.
// The transcoder already writes into its final location under that root, so
// publishing reduces to locating the manifest and computing its public URL.
// An external web server is assumed to serve files below outputRoot at
// urlBase.
type LocalPublisher struct {
	outputRoot string
	urlBase    string
}

// NewLocalPublisher creates a LocalPublisher rooted at outputRoot with the
// corresponding public URL base.
func NewLocalPublisher(outputRoot, urlBase string) *LocalPublisher {
	return &LocalPublisher{outputRoot: outputRoot, urlBase: urlBase}
}

// manifest filenames in priority order: HLS before DASH.
var manifestCandidates = []struct {
	name string
	typ  model.ManifestType
}{
	{transcode.ManifestFileHLS, model.ManifestHLS},
	{transcode.ManifestFileDASH, model.ManifestDASH},
}

func (p *LocalPublisher) Publish(ctx context.Context, workDir string, userID, trackID int64) (string, model.ManifestType, error) {
	var manifestPath string
	var manifestType model.ManifestType

	for _, cand := range manifestCandidates {
		candidate := filepath.Join(workDir, cand.name)
		if _, err := os.Stat(candidate); err == nil {
			manifestPath = candidate
			manifestType = cand.typ
			break
		}
	}
	if manifestPath == "" {
		return "", "", fmt.Errorf("publish %s: %w", workDir, ErrManifestNotFound)
	}

	rel, err := filepath.Rel(p.outputRoot, manifestPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		// The working directory is expected to live under the output root;
		// fall back to the canonical user/track layout if it does not.
		rel = filepath.Join(fmt.Sprintf("%d", userID), fmt.Sprintf("%d", trackID), filepath.Base(manifestPath))
	}

	url := joinURL(p.urlBase, filepath.ToSlash(rel))
	logger.Info("published track locally",
		logger.Int64("trackId", trackID),
		logger.String("manifestUrl", url),
		logger.String("manifestType", string(manifestType)))

	return url, manifestType, nil
}

// Cleanup retains the working directory: for local storage it is the final
// serving location, so removing it would delete the published segments.
func (p *LocalPublisher) Cleanup(workDir string) {
	logger.Debug("retaining working directory as serving location",
		logger.String("workDir", workDir))
}

// joinURL joins a base URL and a relative path with exactly one slash,
// always using forward slashes.
func joinURL(base, rel string) string {
	if base == "" {
		return "/" + strings.TrimPrefix(rel, "/")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.TrimPrefix(rel, "/")
}
