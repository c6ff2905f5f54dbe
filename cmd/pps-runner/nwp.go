package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/pps-runner/internal/config"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/couchcryptid/pps-runner/internal/runner"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func doNWP(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.NWP.InputDir == "" {
		return errors.New("nwp section missing from config file")
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prep, err := newNWPPipeline(cfg, runner.NewExecutor(clock, logger, metrics), clock, logger, metrics)
	if err != nil {
		return err
	}
	sum, err := prep.Run(ctx)
	if err != nil {
		return fmt.Errorf("nwp preparation: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published=%d skipped=%d discarded=%d failed=%d\n",
		sum.Published, sum.Skipped, sum.Discarded, sum.Failed)
	return nil
}
