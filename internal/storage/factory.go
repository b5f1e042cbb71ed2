package storage

import (
	"context"
	"fmt"
	"log/slog"

	"slidespeaker/internal/config"
)

// NewProviderFromConfig builds the process-wide storage provider from the
// STORAGE_PROVIDER environment selection.
func NewProviderFromConfig(ctx context.Context) (Provider, error) {
	slog.Info("Creating storage provider", "provider", config.StorageProvider)

	switch config.StorageProvider {
	case "local", "":
		return NewLocalProvider(config.OutputDir)
	case "s3":
		return NewS3Provider(ctx, S3Config{
			Region:      config.S3Region,
			Bucket:      config.S3Bucket,
			AccessKey:   config.S3AccessKey,
			SecretKey:   config.S3SecretKey,
			EndpointURL: config.S3EndpointURL,
		})
	case "oss":
		return NewOSSProvider(ctx, OSSConfig{
			Region:    config.OSSRegion,
			Bucket:    config.OSSBucket,
			Endpoint:  config.OSSEndpoint,
			AccessKey: config.OSSAccessKey,
			SecretKey: config.OSSSecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", config.StorageProvider)
	}
}
