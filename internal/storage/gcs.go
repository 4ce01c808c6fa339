package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// OpenGCS opens a Google Cloud Storage bucket using application default
// credentials.
func OpenGCS(ctx context.Context, bucketName string) (*BucketContainer, error) {
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	return NewBucketContainer(bucket, fmt.Sprintf("gs://%s/", bucketName)), nil
}
