package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/pps-runner/internal/adapter/archive"
	httpadapter "github.com/couchcryptid/pps-runner/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/pps-runner/internal/adapter/kafka"
	"github.com/couchcryptid/pps-runner/internal/adapter/locality"
	"github.com/couchcryptid/pps-runner/internal/collector"
	"github.com/couchcryptid/pps-runner/internal/config"
	"github.com/couchcryptid/pps-runner/internal/dispatch"
	"github.com/couchcryptid/pps-runner/internal/domain"
	"github.com/couchcryptid/pps-runner/internal/nwp"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/couchcryptid/pps-runner/internal/pipeline"
	"github.com/couchcryptid/pps-runner/internal/runner"
	"github.com/couchcryptid/pps-runner/internal/scene"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runnerStatus serves /status from the assembler and the dispatcher.
type runnerStatus struct {
	*scene.Assembler
	*dispatch.Dispatcher
}

func doRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Runner.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executor := runner.NewExecutor(clock, logger, metrics)
	pps, err := runner.NewPPS(cfg.Runner, executor, logger)
	if err != nil {
		return err
	}

	var opts []pipeline.JobOption
	var prep *nwp.Pipeline
	if cfg.NWP.InputDir != "" {
		prep, err = newNWPPipeline(cfg, executor, clock, logger, metrics)
		if err != nil {
			return err
		}
		if cfg.Runner.PrepareNWP {
			opts = append(opts, pipeline.WithNWP(prep))
		}
	}
	if cfg.Runner.ArchiveURL != "" {
		a, err := archive.Open(ctx, cfg.Runner.ArchiveURL, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		opts = append(opts, pipeline.WithArchive(a))
	}

	registry := domain.NewRegistry(domain.RegistryOptions{
		GranuleProcessing: cfg.Runner.GranuleProcessing,
		EARSVariant:       cfg.Runner.EARSVariant,
	})
	localityChecker := locality.NewCachedChecker(locality.NewResolver(), cfg.Runner.LocalityCacheSize)
	assembler := scene.New(registry, localityChecker, logger, metrics,
		scene.WithPendingTTL(clock, cfg.Runner.PendingSceneTTL()))
	dispatcher := dispatch.New(cfg.Runner.NumberOfThreads, logger, metrics)
	results := collector.New(clock, logger, collector.Options{
		MaxAge:         cfg.Runner.ResultMaxAge(),
		MatchStartTime: cfg.Runner.MatchStartTime,
	})

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	job := pipeline.NewSceneJob(pps, results, writer, pipeline.JobConfig{
		OutputDir:        cfg.Runner.OutputDir,
		StatisticsDir:    cfg.Runner.StatisticsDir,
		StatisticsWindow: cfg.Runner.StatisticsWindow(),
		ServerName:       cfg.Runner.ServerName,
		Station:          cfg.Runner.Station,
		Environment:      cfg.Runner.Environment,
	}, logger, metrics, opts...)
	p := pipeline.New(reader, assembler, dispatcher, job, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, runnerStatus{assembler, dispatcher}, logger)

	dispatcher.Start(ctx)
	logger.Info("pps runner starting",
		"workers", cfg.Runner.NumberOfThreads,
		"output_dir", cfg.Runner.OutputDir,
		"nwp_interval", cfg.NWP.Interval(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return p.Run(gctx)
	})
	if prep != nil && cfg.NWP.Interval() > 0 {
		g.Go(func() error {
			scheduleNWP(gctx, clock, prep, cfg.NWP.Interval(), logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	runErr := g.Wait()

	// Cancelling ctx kills running children; queued jobs then fail fast.
	stop()
	dispatcher.Close()

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

// scheduleNWP runs the NWP pipeline at start and then on every tick until
// ctx ends.
func scheduleNWP(ctx context.Context, clock clockwork.Clock, prep *nwp.Pipeline, interval time.Duration, logger *slog.Logger) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := prep.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduled nwp preparation failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func newNWPPipeline(cfg *config.Config, executor *runner.Executor, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*nwp.Pipeline, error) {
	if err := cfg.NWP.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nwp config: %w", err)
	}
	grib := nwp.NewEccodes(executor, logger, cfg.NWP.GribCopy, cfg.NWP.GribGet, cfg.NWP.GribFilter)
	return nwp.New(cfg.NWP, grib, clock, logger, metrics)
}
