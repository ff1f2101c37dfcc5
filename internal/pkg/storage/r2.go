package storage

import (
	"context"
	"errors"
	"fmt"
)

// R2Config holds Cloudflare R2 connection configuration
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	PublicURL       string // e.g. https://cdn.example.com
}

// NewR2Storage creates storage backed by Cloudflare R2 through its S3 API.
func NewR2Storage(ctx context.Context, cfg R2Config) (*S3Storage, error) {
	if cfg.AccountID == "" {
		return nil, errors.New("r2 account id is not configured")
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		// requires the bucket's public r2.dev domain
		publicURL = fmt.Sprintf("https://%s.r2.dev", cfg.BucketName)
	}

	return NewS3Storage(ctx, S3Config{
		Region:          "auto",
		Bucket:          cfg.BucketName,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.AccessKeySecret,
		Endpoint:        fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID),
		PublicURL:       publicURL,
	})
}
