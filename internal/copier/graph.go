package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/audit"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/engine"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/logging"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metadata"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metrics"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/storage"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/transform"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/util"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/workset"
)

// BuildGraph builds the download -> transform -> upload graph for one item.
// The graph is keyed by the source key, so its stages are tracked apart from
// every other item's.
func (c *Copier) BuildGraph(item workset.WorkItem) (*engine.Graph, error) {
	// Re-derive rather than trust the caller: the upload target must be the
	// name the completed-work filter looks for.
	want, err := workset.Derive(item.SourceKey)
	if err != nil {
		return nil, err
	}
	if item.OutputKey != want {
		return nil, fmt.Errorf("output key %q does not match derived %q", item.OutputKey, want)
	}

	fetched := path.Base(item.SourceKey)
	filtered := path.Base(item.OutputKey)

	return engine.NewGraph(item.SourceKey,
		engine.Step{
			Name:    StageDownload,
			Outputs: []string{fetched},
			Action:  c.downloadAction(item, fetched),
		},
		engine.Step{
			Name:    StageTransform,
			Inputs:  []string{fetched},
			Outputs: []string{filtered},
			Action:  c.transformAction(item, fetched, filtered),
		},
		engine.Step{
			Name:   StageUpload,
			Inputs: []string{filtered},
			Action: c.uploadAction(item, filtered),
		},
	)
}

func (c *Copier) downloadAction(item workset.WorkItem, artifact string) engine.Action {
	return func(ctx context.Context, a engine.Artifacts) error {
		log := logging.ItemLogger(ctx, item.SourceKey, item.OutputKey)

		n, err := c.src.Download(ctx, item.SourceKey, a.Output(artifact))
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return engine.Permanent(err)
			}
			return err
		}

		metrics.Get().AddBytesDownloaded(n)
		log.Debug("downloaded", "stage_id", engine.StageID(StageDownload, item.SourceKey), "bytes", n)
		return nil
	}
}

func (c *Copier) transformAction(item workset.WorkItem, in, out string) engine.Action {
	return func(ctx context.Context, a engine.Artifacts) error {
		if err := c.extractor.Extract(ctx, a.Input(in), a.Output(out)); err != nil {
			if errors.Is(err, transform.ErrMalformedInput) {
				return engine.Permanent(err)
			}
			return err
		}

		logging.ItemLogger(ctx, item.SourceKey, item.OutputKey).Debug("extracted",
			"stage_id", engine.StageID(StageTransform, item.SourceKey))
		return nil
	}
}

func (c *Copier) uploadAction(item workset.WorkItem, artifact string) engine.Action {
	return func(ctx context.Context, a engine.Artifacts) error {
		n, err := c.dst.Upload(ctx, a.Input(artifact), item.OutputKey)
		if err != nil {
			return err
		}

		metrics.Get().AddBytesUploaded(n)
		log := logging.ItemLogger(ctx, item.SourceKey, item.OutputKey)
		log.Info("published",
			"stage_id", engine.StageID(StageUpload, item.SourceKey),
			"uri", c.dst.URI(item.OutputKey),
			"bytes", n,
		)

		c.recordPublished(ctx, log, item, a.Input(artifact), n)
		return nil
	}
}

// recordPublished tells the catalog and the audit log about an uploaded
// output. The object is already in place, so errors are only logged.
func (c *Copier) recordPublished(ctx context.Context, log *slog.Logger, item workset.WorkItem, localPath string, size int64) {
	checksum, _, err := util.FileChecksum(localPath)
	if err != nil {
		log.Warn("failed to checksum published output", "error", err)
	}

	runID := logging.CorrelationID(ctx)
	sourceURI := c.src.URI(item.SourceKey)
	outputURI := c.dst.URI(item.OutputKey)

	if err := c.opts.Catalog.RecordOutput(ctx, metadata.OutputRecord{
		RunID:           runID,
		SourceKey:       item.SourceKey,
		SourceURI:       sourceURI,
		OutputKey:       item.OutputKey,
		OutputURI:       outputURI,
		ByteSize:        size,
		Checksum:        checksum,
		Region:          c.opts.Region,
		ProducerVersion: Version,
		ProducerGitSHA:  GitSHA,
		PublishedAt:     time.Now().UTC(),
	}); err != nil {
		log.Warn("failed to record output in catalog", "error", err)
	}

	if err := c.opts.Audit.Emit(ctx, audit.OutputInfo{
		RunID:     runID,
		SourceURI: sourceURI,
		OutputURI: outputURI,
		Region:    c.opts.Region,
		Checksum:  checksum,
		ByteSize:  size,
	}); err != nil {
		log.Warn("failed to queue audit event", "error", err)
	}
}
