package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileChecksumMatchesComputeChecksum(t *testing.T) {
	data := []byte("MT reads")
	path := filepath.Join(t.TempDir(), "r1_MT.bam")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	sum, n, err := FileChecksum(path)
	if err != nil {
		t.Fatalf("FileChecksum failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("size = %d, want %d", n, len(data))
	}
	if sum != ComputeChecksum(data) {
		t.Errorf("checksum = %s, want %s", sum, ComputeChecksum(data))
	}
}

func TestFileChecksumMissingFile(t *testing.T) {
	if _, _, err := FileChecksum(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing file")
	}
}
