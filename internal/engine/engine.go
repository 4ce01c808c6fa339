// Package engine runs batches of small task graphs with bounded parallelism.
//
// Each graph runs its steps in dependency order inside a private temporary
// directory. Graphs are independent: a failure in one never cancels another.
// Within a graph, a failed step causes every step that consumes its outputs
// (directly or transitively) to be skipped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/checkpoint"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/logging"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metrics"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/util"
)

// Options configure an Engine.
type Options struct {
	// Parallelism is the maximum number of graphs running at once.
	Parallelism int

	// StageTimeout bounds each attempt of a stage. Zero means no limit.
	StageTimeout time.Duration

	// RetryAttempts is the total number of attempts per stage, including the first.
	RetryAttempts int

	// RetryBackoff is the initial delay between attempts; it grows exponentially.
	RetryBackoff time.Duration

	// TempDir is the root for per-graph temporary directories.
	// Empty uses os.TempDir()/bam2mt.
	TempDir string

	// KeepTemp leaves per-graph temporary directories in place after a run.
	KeepTemp bool
}

// Engine runs graphs.
type Engine struct {
	opts  Options
	state checkpoint.Store
	log   *slog.Logger
}

// New creates an engine. A nil state store disables stage state tracking.
func New(opts Options, state checkpoint.Store) *Engine {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "bam2mt")
	}
	if state == nil {
		state, _ = checkpoint.NewStore(checkpoint.Config{Enabled: false})
	}

	return &Engine{
		opts:  opts,
		state: state,
		log:   logging.Component("engine"),
	}
}

// GraphDir returns the temporary directory used for a graph.
func (e *Engine) GraphDir(graphID string) string {
	return filepath.Join(e.opts.TempDir, util.SafeName(graphID))
}

type graphTask struct {
	index int
	graph *Graph
}

type graphOutcome struct {
	index  int
	result GraphResult
}

// Run executes all graphs and blocks until each has finished or failed.
// A non-nil error is returned only when the batch itself is malformed;
// individual graph failures are reported in the result.
//
// If ctx is cancelled, graphs that had not started are reported as failed
// with the context error.
func (e *Engine) Run(ctx context.Context, graphs []*Graph) (*BatchResult, error) {
	seen := make(map[string]bool, len(graphs))
	for i, g := range graphs {
		if g == nil {
			return nil, fmt.Errorf("graph %d is nil", i)
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateGraph, g.ID)
		}
		seen[g.ID] = true
	}

	batch := &BatchResult{
		Graphs:    make([]GraphResult, len(graphs)),
		StartedAt: time.Now().UTC(),
	}
	if len(graphs) == 0 {
		batch.FinishedAt = time.Now().UTC()
		return batch, nil
	}

	if err := util.EnsureDir(e.opts.TempDir); err != nil {
		return nil, fmt.Errorf("create temp root %s: %w", e.opts.TempDir, err)
	}

	workers := e.opts.Parallelism
	if workers > len(graphs) {
		workers = len(graphs)
	}

	e.log.Info("starting batch", "graphs", len(graphs), "workers", workers)

	workQueue := make(chan graphTask, workers)
	results := make(chan graphOutcome, workers)
	var wg sync.WaitGroup

	// Start worker pool
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.workerLoop(ctx, workerID, workQueue, results)
		}(i)
	}

	// Start dispatcher
	dispatched := make([]bool, len(graphs))
	go func() {
		defer close(workQueue)
		for i, g := range graphs {
			select {
			case <-ctx.Done():
				return
			case workQueue <- graphTask{index: i, graph: g}:
				dispatched[i] = true
			}
		}
	}()

	// Close results when workers finish
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collector
	for out := range results {
		batch.Graphs[out.index] = out.result
	}

	// The dispatcher has exited once results is closed, so dispatched is stable.
	for i, g := range graphs {
		if !dispatched[i] {
			batch.Graphs[i] = notStarted(g, ctx.Err())
		}
	}

	batch.FinishedAt = time.Now().UTC()
	e.log.Info("batch finished",
		"succeeded", len(batch.Succeeded()),
		"failed", len(batch.Failed()),
		"duration_ms", batch.FinishedAt.Sub(batch.StartedAt).Milliseconds(),
	)
	return batch, nil
}

func (e *Engine) workerLoop(ctx context.Context, workerID int, tasks <-chan graphTask, results chan<- graphOutcome) {
	log := logging.WorkerLogger(workerID)

	for task := range tasks {
		var res GraphResult
		if err := ctx.Err(); err != nil {
			res = notStarted(task.graph, err)
		} else {
			res = e.runGraph(ctx, log, task.graph)
		}
		results <- graphOutcome{index: task.index, result: res}
	}
}

func notStarted(g *Graph, err error) GraphResult {
	if err == nil {
		err = context.Canceled
	}
	res := GraphResult{ID: g.ID, Err: fmt.Errorf("not started: %w", err)}
	for _, s := range g.Steps() {
		res.Stages = append(res.Stages, StageResult{Name: s.Name, State: StagePending})
	}
	return res
}

// runGraph executes one graph's steps in order.
func (e *Engine) runGraph(ctx context.Context, log *slog.Logger, g *Graph) GraphResult {
	m := metrics.Get()
	m.IncInFlight()
	defer m.DecInFlight()

	start := time.Now()
	log = log.With("graph", g.ID)
	res := GraphResult{ID: g.ID, Stages: make([]StageResult, len(g.steps))}

	dir := e.GraphDir(g.ID)
	if !e.opts.KeepTemp {
		// Leftovers from an interrupted run cannot be trusted.
		os.RemoveAll(dir)
	}
	if err := util.EnsureDir(dir); err != nil {
		res.Err = fmt.Errorf("create temp dir: %w", err)
		for i, s := range g.steps {
			res.Stages[i] = StageResult{Name: s.Name, State: StageSkipped}
		}
		res.Duration = time.Since(start)
		m.IncItemsFailed()
		return res
	}
	if !e.opts.KeepTemp {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("failed to remove temp dir", "dir", dir, "error", err)
			}
		}()
	}

	// Stage outputs only survive between runs in a kept temp dir, so state
	// is neither read nor written otherwise.
	var recorded map[string]checkpoint.StageRecord
	if e.opts.KeepTemp {
		var err error
		recorded, err = e.state.Load(ctx, g.ID)
		if err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			log.Warn("ignoring unreadable stage state", "error", err)
			recorded = nil
		}
	}

	for _, idx := range g.order {
		step := g.steps[idx]
		sr := StageResult{Name: step.Name, State: StagePending}

		blocked, allCached := false, true
		for _, d := range g.deps[idx] {
			st := res.Stages[d].State
			if !st.Done() {
				blocked = true
			}
			if st != StageCached {
				allCached = false
			}
		}

		switch {
		case blocked:
			sr.State = StageSkipped
			log.Info("stage skipped", "stage", step.Name)

		case allCached && e.cached(dir, step, recorded):
			sr.State = StageCached
			m.IncStageCached(step.Name)
			log.Info("stage cached", "stage", step.Name)

		default:
			sr = e.runStage(ctx, log, g, dir, step)
			if e.opts.KeepTemp {
				e.record(ctx, log, g.ID, sr)
			}
		}

		res.Stages[idx] = sr
		if sr.State == StageFailed && res.Err == nil {
			res.Err = fmt.Errorf("stage %s: %w", step.Name, sr.Err)
		}
	}

	res.Duration = time.Since(start)
	if res.OK() {
		m.IncItemsProcessed()
		log.Info("graph completed", "duration_ms", res.Duration.Milliseconds())
	} else {
		m.IncItemsFailed()
		log.Error("graph failed", "duration_ms", res.Duration.Milliseconds(), "error", res.Err)
	}
	return res
}

// cached reports whether a step can be satisfied from a previous run: it was
// recorded as completed, it declares outputs, and they all still exist.
func (e *Engine) cached(dir string, step Step, recorded map[string]checkpoint.StageRecord) bool {
	if len(step.Outputs) == 0 {
		return false
	}
	rec, ok := recorded[step.Name]
	if !ok || StageState(rec.State) != StageCompleted {
		return false
	}
	for _, out := range step.Outputs {
		if _, err := os.Stat(filepath.Join(dir, out)); err != nil {
			return false
		}
	}
	return true
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, graphID string, sr StageResult) {
	err := e.state.Save(ctx, checkpoint.StageRecord{
		Graph:    graphID,
		Stage:    sr.Name,
		State:    string(sr.State),
		Attempts: sr.Attempts,
	})
	if err != nil {
		log.Warn("failed to record stage state", "stage", sr.Name, "error", err)
	}
}

// runStage runs one step with per-attempt timeout and exponential backoff
// between attempts.
func (e *Engine) runStage(ctx context.Context, log *slog.Logger, g *Graph, dir string, step Step) StageResult {
	m := metrics.Get()
	arts := g.artifactsFor(dir, step)
	sr := StageResult{Name: step.Name, State: StageRunning}
	start := time.Now()

	log = log.With("stage", step.Name)
	log.Debug("stage started")

	op := func() error {
		sr.Attempts++
		actx := ctx
		if e.opts.StageTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, e.opts.StageTimeout)
			defer cancel()
		}
		if err := step.Action(actx, arts); err != nil {
			// A cancelled batch should not be retried.
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		m.IncRetryAttempts(step.Name)
		log.Warn("stage attempt failed, retrying",
			"attempt", sr.Attempts,
			"backoff_ms", next.Milliseconds(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, e.newBackOff(ctx), notify)

	sr.Duration = time.Since(start)
	m.ObserveStageDuration(step.Name, sr.Duration.Seconds())

	if err != nil {
		sr.State = StageFailed
		sr.Err = err
		m.IncStageFailures(step.Name)
		log.Error("stage failed",
			"attempt", sr.Attempts,
			"duration_ms", sr.Duration.Milliseconds(),
			"error", err,
		)
		return sr
	}

	sr.State = StageCompleted
	log.Info("stage completed",
		"attempt", sr.Attempts,
		"duration_ms", sr.Duration.Milliseconds(),
	)
	return sr
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.opts.RetryBackoff
	exp.MaxElapsedTime = 0
	if e.opts.RetryBackoff > exp.MaxInterval {
		exp.MaxInterval = e.opts.RetryBackoff
	}
	exp.Reset()

	return backoff.WithContext(
		backoff.WithMaxRetries(exp, uint64(e.opts.RetryAttempts-1)),
		ctx,
	)
}
