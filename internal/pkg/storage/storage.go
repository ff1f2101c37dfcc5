package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage is a durable blob store with stable public URLs.
type Storage interface {
	// Put stores size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the public URL for key.
	URL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Driver string // r2, s3, local

	R2 R2Config
	S3 S3Config

	LocalPath string
	LocalURL  string
}

// New builds the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "r2", "":
		return NewR2Storage(ctx, cfg.R2)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "local":
		return NewLocalStorage(cfg.LocalPath, cfg.LocalURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
