package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewStore(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if _, err := store.Load(ctx, "chips/A1/r1.bam"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint before any save, got %v", err)
	}

	recs := []StageRecord{
		{Graph: "chips/A1/r1.bam", Stage: "download_blob", State: "COMPLETED", Attempts: 1},
		{Graph: "chips/A1/r1.bam", Stage: "bam_to_mitochondrial_bam", State: "FAILED", Attempts: 2},
	}
	for _, r := range recs {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := store.Load(ctx, "chips/A1/r1.bam")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(got))
	}
	if got["download_blob"].State != "COMPLETED" {
		t.Errorf("download_blob state = %q", got["download_blob"].State)
	}
	if got["bam_to_mitochondrial_bam"].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got["bam_to_mitochondrial_bam"].Attempts)
	}
	if got["download_blob"].UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped on save")
	}

	// Overwrite a stage
	if err := store.Save(ctx, StageRecord{Graph: "chips/A1/r1.bam", Stage: "bam_to_mitochondrial_bam", State: "COMPLETED", Attempts: 3}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ = store.Load(ctx, "chips/A1/r1.bam")
	if got["bam_to_mitochondrial_bam"].State != "COMPLETED" {
		t.Errorf("stage not overwritten: %+v", got["bam_to_mitochondrial_bam"])
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreSeparatesGraphs(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.Save(ctx, StageRecord{Graph: "a.bam", Stage: "download_blob", State: "COMPLETED"})
	store.Save(ctx, StageRecord{Graph: "b.bam", Stage: "upload_blob", State: "COMPLETED"})

	a, err := store.Load(ctx, "a.bam")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := a["upload_blob"]; ok {
		t.Error("state leaked between graphs")
	}
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.Save(ctx, StageRecord{Graph: "g", Stage: "s", State: "COMPLETED"}); err != nil {
		t.Errorf("noop Save returned error: %v", err)
	}
	if _, err := store.Load(ctx, "g"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("noop Load should return ErrNoCheckpoint, got %v", err)
	}
}
