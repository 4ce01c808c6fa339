package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gocloud.dev/blob/fileblob"
)

// OpenLocal opens a directory on the local filesystem as a container. Object
// keys map to relative paths under dir. Writes go through a temp file and a
// rename, so readers never observe a partial object.
func OpenLocal(dir string) (*BucketContainer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", abs, err)
	}

	bucket, err := fileblob.OpenBucket(abs, &fileblob.Options{
		NoTempDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open local directory %s: %w", abs, err)
	}

	return NewBucketContainer(bucket, "file://"+filepath.ToSlash(abs)+"/"), nil
}
