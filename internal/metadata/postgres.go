package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	cfg  CatalogConfig
	log  *slog.Logger
}

// NewPostgresWriter connects to the catalog and creates its tables if needed.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool: pool,
		cfg:  cfg,
		log:  slog.With("component", "metadata"),
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w.log.Info("connected to PostgreSQL catalog", "namespace", cfg.Namespace)
	return w, nil
}

// RecordOutput upserts the lineage row for a published object. Republishing
// the same key replaces the previous row.
func (w *PostgresWriter) RecordOutput(ctx context.Context, rec OutputRecord) error {
	query := `
		INSERT INTO _meta_outputs (
			namespace, output_key, output_uri, source_key, source_uri,
			byte_size, checksum, region, run_id,
			producer_version, producer_git_sha, published_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (namespace, output_key)
		DO UPDATE SET
			output_uri = EXCLUDED.output_uri,
			source_uri = EXCLUDED.source_uri,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			run_id = EXCLUDED.run_id,
			published_at = EXCLUDED.published_at,
			created_at = NOW()
	`

	var gitSHA *string
	if rec.ProducerGitSHA != "" {
		gitSHA = &rec.ProducerGitSHA
	}

	publishedAt := rec.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	_, err := w.pool.Exec(ctx, query,
		w.cfg.Namespace,
		rec.OutputKey,
		rec.OutputURI,
		rec.SourceKey,
		rec.SourceURI,
		rec.ByteSize,
		rec.Checksum,
		rec.Region,
		rec.RunID,
		rec.ProducerVersion,
		gitSHA,
		publishedAt,
	)
	if err != nil {
		return fmt.Errorf("record output %s: %w", rec.OutputKey, err)
	}

	w.log.Debug("recorded lineage", "output_key", rec.OutputKey, "checksum", rec.Checksum)
	return nil
}

// RecordRun upserts the summary row of a run.
func (w *PostgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO _meta_runs (
			run_id, namespace, started_at, finished_at,
			candidates, already_done, succeeded, failed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id)
		DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed
	`

	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		w.cfg.Namespace,
		rec.StartedAt,
		rec.FinishedAt,
		rec.Candidates,
		rec.AlreadyDone,
		rec.Succeeded,
		rec.Failed,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
