package storage

import (
	"context"
	"fmt"
)

// OSSConfig holds connection settings for Alibaba Cloud OSS. OSS speaks the
// S3 wire protocol, so the backend reuses the S3 client against the OSS
// endpoint and only the URI scheme differs.
type OSSConfig struct {
	Region    string
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewOSSProvider connects to an OSS bucket through its S3-compatible endpoint.
func NewOSSProvider(ctx context.Context, cfg OSSConfig) (*S3Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("oss storage requires OSS_ENDPOINT")
	}
	return newS3Provider(ctx, S3Config{
		Region:      cfg.Region,
		Bucket:      cfg.Bucket,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		EndpointURL: cfg.Endpoint,
	}, "oss")
}
