package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"soniqfm/config"
	"soniqfm/logger"
	"soniqfm/model"
	"soniqfm/storage"
)

// ErrManifestNotFound indicates the transcode step reported success but no
// manifest file exists in the working directory. Distinguishable from other
// publish failures so diagnostics can point at the transcoder output.
var ErrManifestNotFound = errors.New("manifest file not found in output directory")

// Publisher makes a working directory of finished segment output durably
// retrievable and yields the public manifest URL.
type Publisher interface {
	// Publish stores the contents of workDir for the given owner/track and
	// returns the public manifest URL and its type.
	Publish(ctx context.Context, workDir string, userID, trackID int64) (string, model.ManifestType, error)

	// Cleanup removes the working directory. Best effort: failures are
	// logged, never returned.
	Cleanup(workDir string)
}

// New selects a Publisher implementation by its configured name. This is a
// compile-time registry; there is no dynamic plugin loading.
func New(cfg *config.Config) (Publisher, error) {
	switch strings.ToLower(cfg.PublisherPlugin) {
	case "", "local":
		return NewLocalPublisher(cfg.OutputDir, cfg.OutputURLBase), nil
	case "minio":
		client, err := storage.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio publisher: %w", err)
		}
		return NewMinioPublisher(client, cfg.MinioBucket, cfg.MinioPublicURLBase), nil
	default:
		return nil, fmt.Errorf("unknown publisher plugin %q", cfg.PublisherPlugin)
	}
}

// removeWorkDir is the shared best-effort cleanup used by all publishers.
func removeWorkDir(workDir string) {
	if workDir == "" {
		return
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		logger.Warn("cleanup requested but working directory not found",
			logger.String("workDir", workDir))
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		logger.Error("failed to clean up working directory",
			logger.String("workDir", workDir),
			logger.ErrorField(err))
		return
	}
	logger.Debug("removed working directory", logger.String("workDir", workDir))
}
