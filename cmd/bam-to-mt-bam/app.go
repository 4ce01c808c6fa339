package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/audit"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/checkpoint"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/config"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/copier"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/engine"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/logging"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metadata"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/metrics"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/storage"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/transform"
	"github.com/mwiens91/bam-to-mitochondrial-bam-pipeline/internal/workset"
)

// app holds everything one invocation opened. close releases it in reverse.
type app struct {
	cfg     *config.Config
	copier  *copier.Copier
	closers []func() error
}

func (a *app) close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// signalContext is cancelled on SIGINT or SIGTERM. In-flight stages see the
// cancellation and items not yet started are reported as not run.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-ch:
			slog.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// setup loads and validates the settings, installs logging and metrics and
// opens both containers.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper(), configFilePath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.closers = append(a.closers, logging.Setup(logging.Config{
		Format:     cfg.Logging.Format,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}))
	log := logging.Component("main")
	log.Info("starting", "version", copier.Version, "git_sha", copier.GitSHA, "cells", len(cfg.Cells))

	if metrics.Get() == nil {
		metrics.Init(nil, cfg.Metrics.Namespace)
	}
	if cfg.Metrics.Enabled {
		go func() {
			log.Info("serving metrics", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if err := a.open(ctx); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg

	src, err := storage.Open(ctx, cfg.Source.Storage())
	if err != nil {
		return fmt.Errorf("open source container: %w", err)
	}
	a.closers = append(a.closers, src.Close)

	dst, err := storage.Open(ctx, cfg.Destination.Storage())
	if err != nil {
		return fmt.Errorf("open destination container: %w", err)
	}
	a.closers = append(a.closers, dst.Close)

	state, err := checkpoint.NewStore(checkpoint.Config{
		Enabled: cfg.Engine.StateEnabled,
		Dir:     cfg.Engine.StateDir,
	})
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	namespace := cfg.Catalog.Namespace
	if namespace == "" {
		namespace = dst.URI("")
	}
	catalog, err := metadata.NewWriter(ctx, metadata.CatalogConfig{
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Namespace:   namespace,
	})
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	a.closers = append(a.closers, catalog.Close)

	emitter, err := audit.NewEmitter(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Dir:      cfg.Audit.Dir,
		Endpoint: cfg.Audit.Endpoint,
		Timeout:  cfg.Audit.Timeout,
		ChainKey: dst.URI(""),
		Producer: audit.ProducerInfo{
			Name:    "bam-to-mt-bam",
			Version: copier.Version,
			GitSHA:  copier.GitSHA,
		},
	})
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, emitter.Close)

	eng := engine.New(engine.Options{
		Parallelism:   cfg.Engine.Parallelism,
		StageTimeout:  cfg.Engine.StageTimeout,
		RetryAttempts: cfg.Engine.RetryAttempts,
		RetryBackoff:  cfg.Engine.RetryBackoff,
		TempDir:       cfg.Engine.TempDir,
		KeepTemp:      cfg.Engine.KeepTemp,
	}, state)

	extractor := transform.New(transform.Config{
		Path:        cfg.Transform.Samtools,
		Region:      cfg.Transform.Region,
		VerifyInput: cfg.Transform.VerifyInput,
	})

	a.copier = copier.New(copier.Options{
		Scope:      workset.Scope{Prefix: cfg.Prefix, Cells: cfg.Cells},
		FileSuffix: cfg.FileSuffix,
		Region:     extractor.Region(),
		Catalog:    catalog,
		Audit:      emitter,
	}, src, dst, extractor, eng)
	return nil
}

// errItemsFailed makes the process exit non-zero when any item failed.
var errItemsFailed = errors.New("one or more files failed")
