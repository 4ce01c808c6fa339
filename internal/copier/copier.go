// Package copier turns source BAM objects into mitochondrial-only BAM objects
// at the destination, skipping any whose output already exists.
package copier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/audit"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/engine"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/logging"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metadata"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metrics"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/report"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/storage"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/workset"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

const recordRunTimeout = 10 * time.Second

// Copier orchestrates one incremental run.
type Copier struct {
	opts      Options
	src       storage.Container
	dst       storage.Container
	extractor Extractor
	engine    *engine.Engine
	log       *slog.Logger
}

// New creates a copier. The containers are shared by every work item.
func New(opts Options, src, dst storage.Container, extractor Extractor, eng *engine.Engine) *Copier {
	if opts.FileSuffix == "" {
		opts.FileSuffix = workset.BAMExt
	}
	if opts.Catalog == nil {
		opts.Catalog = metadata.NoopWriter{}
	}
	if opts.Audit == nil {
		opts.Audit = audit.NoopEmitter{}
	}
	return &Copier{
		opts:      opts,
		src:       src,
		dst:       dst,
		extractor: extractor,
		engine:    eng,
		log:       logging.Component("copier"),
	}
}

// Plan lists both containers and returns the work items still to do.
// Nothing is downloaded or written.
func (c *Copier) Plan(ctx context.Context) (*Plan, error) {
	sourceKeys, err := workset.Resolve(ctx, c.src, c.opts.Scope, c.opts.FileSuffix)
	if err != nil {
		return nil, fmt.Errorf("resolve source objects: %w", err)
	}

	existing, err := workset.Resolve(ctx, c.dst, c.opts.Scope, "")
	if err != nil {
		return nil, fmt.Errorf("resolve destination objects: %w", err)
	}

	items, err := workset.Pending(sourceKeys, existing)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Candidates:  len(sourceKeys),
		AlreadyDone: len(sourceKeys) - len(items),
		Items:       items,
	}

	m := metrics.Get()
	m.SetItemsPending(len(items))
	m.AddItemsSkipped(plan.AlreadyDone)

	c.log.Info("planned run",
		"cells", len(c.opts.Scope.Cells),
		"candidates", plan.Candidates,
		"already_done", plan.AlreadyDone,
		"pending", len(items),
	)
	return plan, nil
}

// Run plans, builds one graph per pending item and executes them all.
//
// The error is non-nil only when the run could not start: a listing failed,
// a key could not be derived, or the batch was malformed. Per-item failures
// are reported in the summary.
func (c *Copier) Run(ctx context.Context) (*report.Summary, error) {
	runID := logging.CorrelationID(ctx)
	if runID == "" {
		runID = logging.GenerateCorrelationID()
		ctx = logging.WithCorrelationID(ctx, runID)
	}
	started := time.Now().UTC()

	plan, err := c.Plan(ctx)
	if err != nil {
		return nil, err
	}

	graphs := make([]*engine.Graph, 0, len(plan.Items))
	for _, item := range plan.Items {
		g, err := c.BuildGraph(item)
		if err != nil {
			return nil, fmt.Errorf("build graph for %s: %w", item.SourceKey, err)
		}
		graphs = append(graphs, g)
	}

	batch, err := c.engine.Run(ctx, graphs)
	if err != nil {
		return nil, fmt.Errorf("run batch: %w", err)
	}

	summary := summarize(runID, started, plan, batch)

	// An interrupted run still gets its catalog row.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordRunTimeout)
	defer cancel()
	if err := c.opts.Catalog.RecordRun(rctx, metadata.RunRecord{
		RunID:       runID,
		StartedAt:   summary.StartedAt,
		FinishedAt:  summary.FinishedAt,
		Candidates:  summary.Candidates,
		AlreadyDone: summary.AlreadyDone,
		Succeeded:   len(summary.Succeeded()),
		Failed:      len(summary.Failed()),
	}); err != nil {
		c.log.Warn("failed to record run in catalog", "run_id", runID, "error", err)
	}

	c.log.Info("run finished",
		"run_id", runID,
		"succeeded", len(summary.Succeeded()),
		"failed", len(summary.Failed()),
		"already_done", summary.AlreadyDone,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	for _, f := range summary.Failed() {
		c.log.Error("item failed",
			"source_key", f.SourceKey,
			"stage", f.FailedStage,
			"error", f.Error,
		)
	}

	return summary, nil
}

// summarize pairs each graph result with its work item. Graph results are in
// submission order, which is plan order.
func summarize(runID string, started time.Time, plan *Plan, batch *engine.BatchResult) *report.Summary {
	s := &report.Summary{
		RunID:       runID,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
		Candidates:  plan.Candidates,
		AlreadyDone: plan.AlreadyDone,
		Items:       make([]report.ItemResult, 0, len(plan.Items)),
	}

	for i, item := range plan.Items {
		gr := batch.Graphs[i]
		res := report.ItemResult{
			SourceKey:  item.SourceKey,
			OutputKey:  item.OutputKey,
			Status:     report.StatusSucceeded,
			DurationMs: gr.Duration.Milliseconds(),
		}
		for _, st := range gr.Stages {
			res.Attempts += st.Attempts
		}
		if !gr.OK() {
			res.Status = report.StatusFailed
			if fs := gr.FailedStage(); fs != nil {
				res.FailedStage = fs.Name
			}
			if gr.Err != nil {
				res.Error = gr.Err.Error()
			}
		}
		s.Items = append(s.Items, res)
	}
	return s
}
