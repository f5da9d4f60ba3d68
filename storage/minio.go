package storage

import (
	"context"
	"fmt"
	"time"

	"soniqfm/config"
	"soniqfm/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Connect creates a MinIO client and ensures the configured bucket exists.
func Connect(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	return client, nil
}

// Check verifies connectivity and bucket access, for the CLI health command.
func Check(cfg *config.Config) error {
	client, err := Connect(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var totalSize int64
	var objectCount int64
	for object := range client.ListObjects(ctx, cfg.MinioBucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list objects: %w", object.Err)
		}
		totalSize += object.Size
		objectCount++
	}

	logger.Info("minio bucket reachable",
		logger.String("bucket", cfg.MinioBucket),
		logger.Int64("objects", objectCount),
		logger.Int64("totalBytes", totalSize))
	return nil
}
