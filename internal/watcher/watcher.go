// Package watcher repeats incremental runs on an interval so new source
// objects are picked up as they land.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/logging"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/report"
)

// RunFunc performs one incremental run.
type RunFunc func(ctx context.Context) (*report.Summary, error)

// Watcher calls a RunFunc once per interval.
type Watcher struct {
	run      RunFunc
	interval time.Duration
	log      *slog.Logger

	// OnRound, when set, is called after every round with its outcome.
	OnRound func(*report.Summary, error)
}

func New(run RunFunc, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watcher{
		run:      run,
		interval: interval,
		log:      logging.Component("watcher"),
	}
}

// Run starts a round immediately and then once per interval until ctx is
// cancelled. A failed round is logged and the next one still runs. Rounds
// never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		w.round(ctx, round)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) round(ctx context.Context, round int) {
	rctx := logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	summary, err := w.run(rctx)

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		w.log.Info("round interrupted", "round", round)
	case err != nil:
		w.log.Error("round failed", "round", round, "error", err)
	default:
		w.log.Info("round finished",
			"round", round,
			"run_id", summary.RunID,
			"succeeded", len(summary.Succeeded()),
			"failed", len(summary.Failed()),
			"already_done", summary.AlreadyDone,
		)
	}

	if w.OnRound != nil {
		w.OnRound(summary, err)
	}
}
