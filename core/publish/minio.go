package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"soniqfm/logger"
	"soniqfm/model"

	"github.com/minio/minio-go/v7"
)

// MinioPublisher uploads a finished working directory to object storage.
// Objects are keyed {userID}/{trackID}/{filename}; the manifest URL is the
// public base joined with the manifest's object key.
type MinioPublisher struct {
	client        *minio.Client
	bucket        string
	publicURLBase string
}

// NewMinioPublisher creates a MinioPublisher. publicURLBase may be empty, in
// which case the URL is derived from the client endpoint and bucket.
func NewMinioPublisher(client *minio.Client, bucket, publicURLBase string) *MinioPublisher {
	return &MinioPublisher{client: client, bucket: bucket, publicURLBase: publicURLBase}
}

func (p *MinioPublisher) Publish(ctx context.Context, workDir string, userID, trackID int64) (string, model.ManifestType, error) {
	// Locate the manifest before uploading anything; a transcode that left
	// no manifest behind must fail without littering the bucket.
	var manifestName string
	var manifestType model.ManifestType
	for _, cand := range manifestCandidates {
		if _, err := os.Stat(filepath.Join(workDir, cand.name)); err == nil {
			manifestName = cand.name
			manifestType = cand.typ
			break
		}
	}
	if manifestName == "" {
		return "", "", fmt.Errorf("publish %s: %w", workDir, ErrManifestNotFound)
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read working directory %s: %w", workDir, err)
	}

	prefix := fmt.Sprintf("%d/%d", userID, trackID)
	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		objectName := fmt.Sprintf("%s/%s", prefix, entry.Name())
		localPath := filepath.Join(workDir, entry.Name())

		_, err := p.client.FPutObject(ctx, p.bucket, objectName, localPath, minio.PutObjectOptions{
			ContentType: inferContentType(entry.Name()),
		})
		if err != nil {
			return "", "", fmt.Errorf("failed to upload %s: %w", objectName, err)
		}
		uploaded++
	}

	url := p.objectURL(fmt.Sprintf("%s/%s", prefix, manifestName))
	logger.Info("published track to object storage",
		logger.Int64("trackId", trackID),
		logger.Int("objects", uploaded),
		logger.String("manifestUrl", url))

	return url, manifestType, nil
}

func (p *MinioPublisher) Cleanup(workDir string) {
	removeWorkDir(workDir)
}

func (p *MinioPublisher) objectURL(objectName string) string {
	if p.publicURLBase != "" {
		return joinURL(p.publicURLBase, objectName)
	}
	scheme := "http"
	if p.client.EndpointURL().Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, p.client.EndpointURL().Host, p.bucket, objectName)
}

// inferContentType maps segment/manifest filenames to MIME types so players
// receive the right headers from the object store.
func inferContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mpd":
		return "application/dash+xml"
	case ".m4s":
		return "video/iso.segment"
	case ".mp3":
		return "audio/mpeg"
	case ".aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
