package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the container.
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnknownBackend is returned by Open for unsupported backends.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Container abstracts one named blob container (an Azure container, an S3 or
// GCS bucket, or a local directory). A Container is opened once per side of
// the copy and shared by every work item.
type Container interface {
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Download copies the object at key into localPath. On failure localPath
	// is removed.
	Download(ctx context.Context, key, localPath string) (int64, error)

	// Upload publishes the file at localPath under key. On failure nothing is
	// committed under key.
	Upload(ctx context.Context, localPath, key string) (int64, error)

	// URI returns the canonical URI for the given key.
	// For azure: azblob://container/key, S3: s3://bucket/key, local: file:///dir/key
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures one container.
type Config struct {
	Backend string // "azure" | "s3" | "gcs" | "local" | "mem"

	// Azure
	AccountName string
	AccountKey  string // empty selects the default Azure credential chain

	// Container or bucket name
	Container string

	// Custom endpoint for Azurite, MinIO, R2, B2
	Endpoint string
	Region   string

	// Local filesystem
	LocalDir string
}

// Open creates a container based on configuration.
func Open(ctx context.Context, cfg Config) (Container, error) {
	switch cfg.Backend {
	case "azure":
		if cfg.AccountName == "" {
			return nil, fmt.Errorf("AccountName required for azure backend")
		}
		if cfg.Container == "" {
			return nil, fmt.Errorf("Container required for azure backend")
		}
		return OpenAzure(ctx, cfg.AccountName, cfg.AccountKey, cfg.Container, cfg.Endpoint)
	case "s3":
		if cfg.Container == "" {
			return nil, fmt.Errorf("Container required for s3 backend")
		}
		return OpenS3(ctx, cfg.Container, cfg.Endpoint, cfg.Region)
	case "gcs":
		if cfg.Container == "" {
			return nil, fmt.Errorf("Container required for gcs backend")
		}
		return OpenGCS(ctx, cfg.Container)
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return OpenLocal(cfg.LocalDir)
	case "mem":
		return OpenMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
