package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/logging"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/report"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/watcher"
)

func runCommand(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.runOnce(ctx)
	if err != nil {
		return err
	}
	if err := summary.Err(); err != nil {
		return fmt.Errorf("%w: %d of %d: %w", errItemsFailed, len(summary.Failed()), len(summary.Items), err)
	}
	return nil
}

func planCommand(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	plan, err := a.copier.Plan(ctx)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(plan); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return enc.Close()
}

func watchCommand(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return watcher.New(a.runOnce, a.cfg.Watch.Interval).Run(ctx)
}

// runOnce runs the pipeline and writes the run report.
func (a *app) runOnce(ctx context.Context) (*report.Summary, error) {
	summary, err := a.copier.Run(ctx)
	if err != nil {
		return nil, err
	}

	log := logging.Component("report")
	if a.cfg.Report.Dir == "" {
		return summary, nil
	}

	path, err := report.WriteJSON(a.cfg.Report.Dir, summary)
	if err != nil {
		log.Error("failed to write run report", "error", err)
	} else {
		log.Info("wrote run report", "path", path)
	}

	if a.cfg.Report.Parquet && len(summary.Items) > 0 {
		path, err := report.WriteParquet(a.cfg.Report.Dir, summary)
		if err != nil {
			log.Error("failed to write parquet report", "error", err)
		} else {
			log.Info("wrote parquet report", "path", path)
		}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn("interrupted; unfinished files will be picked up by the next run")
	}
	return summary, nil
}
