package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/util"
)

// ItemRow is the parquet layout of one item, flattened with run context so
// reports from many runs can be queried together.
type ItemRow struct {
	RunID       string    `parquet:"run_id"`
	FinishedAt  time.Time `parquet:"finished_at,timestamp(millisecond)"`
	SourceKey   string    `parquet:"source_key"`
	OutputKey   string    `parquet:"output_key"`
	Status      string    `parquet:"status"`
	FailedStage string    `parquet:"failed_stage"`
	Error       string    `parquet:"error"`
	Attempts    int32     `parquet:"attempts"`
	DurationMs  int64     `parquet:"duration_ms"`
}

// Rows flattens the summary for parquet output.
func (s *Summary) Rows() []ItemRow {
	rows := make([]ItemRow, 0, len(s.Items))
	for _, it := range s.Items {
		rows = append(rows, ItemRow{
			RunID:       s.RunID,
			FinishedAt:  s.FinishedAt,
			SourceKey:   it.SourceKey,
			OutputKey:   it.OutputKey,
			Status:      string(it.Status),
			FailedStage: it.FailedStage,
			Error:       it.Error,
			Attempts:    int32(it.Attempts),
			DurationMs:  it.DurationMs,
		})
	}
	return rows
}

// WriteJSON writes the summary as run-<id>.json into dir and returns its path.
func WriteJSON(dir string, s *Summary) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create report directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(dir, "run-"+s.RunID+".json")

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("write report temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename report file: %w", err)
	}

	return path, nil
}

// WriteParquet writes one row per item as run-<id>.parquet into dir and
// returns its path.
func WriteParquet(dir string, s *Summary) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create report directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "run-"+s.RunID+".parquet")
	tempPath := path + ".tmp"

	if err := parquet.WriteFile(tempPath, s.Rows(), parquet.Compression(&parquet.Zstd)); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write parquet report: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename report file: %w", err)
	}

	return path, nil
}
