package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BucketContainer implements Container on top of a gocloud.dev bucket. Every
// backend shares this implementation; only the way the bucket is opened
// differs.
type BucketContainer struct {
	bucket  *blob.Bucket
	uriBase string
}

// NewBucketContainer wraps an opened bucket. uriBase is prepended to keys by URI.
func NewBucketContainer(bucket *blob.Bucket, uriBase string) *BucketContainer {
	return &BucketContainer{bucket: bucket, uriBase: uriBase}
}

// OpenMemory returns an in-process container. Contents live as long as the
// container does.
func OpenMemory() *BucketContainer {
	return NewBucketContainer(memblob.OpenBucket(nil), "mem://")
}

// List returns all objects with the given prefix.
func (c *BucketContainer) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objs []ObjectInfo

	iter := c.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		objs = append(objs, ObjectInfo{
			Key:     obj.Key,
			Size:    obj.Size,
			ModTime: obj.ModTime,
		})
	}

	return objs, nil
}

// Exists checks if a key exists.
func (c *BucketContainer) Exists(ctx context.Context, key string) (bool, error) {
	return c.bucket.Exists(ctx, key)
}

// Download copies an object to a local file.
func (c *BucketContainer) Download(ctx context.Context, key, localPath string) (int64, error) {
	r, err := c.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return 0, fmt.Errorf("open %s: %w", c.URI(key), ErrObjectNotFound)
		}
		return 0, fmt.Errorf("open %s: %w", c.URI(key), err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", localPath, err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", localPath, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(localPath)
		return 0, fmt.Errorf("download %s: %w", c.URI(key), err)
	}

	if err := f.Close(); err != nil {
		os.Remove(localPath)
		return 0, fmt.Errorf("close %s: %w", localPath, err)
	}

	return n, nil
}

// Upload writes a local file to key. Cancelling the writer context before
// Close discards the write, so a failed copy never leaves an object behind.
func (c *BucketContainer) Upload(ctx context.Context, localPath, key string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, fmt.Errorf("create writer for %s: %w", c.URI(key), err)
	}

	n, err := io.Copy(w, f)
	if err != nil {
		cancel()
		w.Close()
		return 0, fmt.Errorf("write data to %s: %w", c.URI(key), err)
	}

	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close writer for %s: %w", c.URI(key), err)
	}

	return n, nil
}

// URI returns the canonical URI for the given key.
func (c *BucketContainer) URI(key string) string {
	return c.uriBase + key
}

// Close releases the bucket connection.
func (c *BucketContainer) Close() error {
	if c.bucket != nil {
		return c.bucket.Close()
	}
	return nil
}

// Bucket exposes the underlying bucket, mainly for seeding in tests.
func (c *BucketContainer) Bucket() *blob.Bucket {
	return c.bucket
}

// Verify BucketContainer implements Container.
var _ Container = (*BucketContainer)(nil)
