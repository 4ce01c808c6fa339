// Package metadata records the lineage of published outputs in a catalog.
package metadata

import (
	"context"
	"time"
)

type CatalogConfig struct {
	PostgresDSN string
	Namespace   string // groups records, e.g. one per destination container
}

// Writer records lineage. Implementations must be safe for concurrent use.
type Writer interface {
	// RecordOutput records one published output object.
	RecordOutput(ctx context.Context, rec OutputRecord) error

	// RecordRun records the outcome of a whole run.
	RecordRun(ctx context.Context, rec RunRecord) error

	Close() error
}

// OutputRecord links a published object to the source it was derived from.
type OutputRecord struct {
	RunID           string
	SourceKey       string
	SourceURI       string
	OutputKey       string
	OutputURI       string
	ByteSize        int64
	Checksum        string
	Region          string
	ProducerVersion string
	ProducerGitSHA  string
	PublishedAt     time.Time
}

// RunRecord summarizes one run.
type RunRecord struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Candidates  int
	AlreadyDone int
	Succeeded   int
	Failed      int
}

// NewWriter returns a Postgres-backed writer when a DSN is configured and a
// no-op writer otherwise.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return NoopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

// NoopWriter discards all records.
type NoopWriter struct{}

func (NoopWriter) RecordOutput(_ context.Context, _ OutputRecord) error { return nil }

func (NoopWriter) RecordRun(_ context.Context, _ RunRecord) error { return nil }

func (NoopWriter) Close() error { return nil }
