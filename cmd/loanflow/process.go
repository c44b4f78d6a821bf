package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/reconcile"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run reconciliation cycles over the pending queue",
		Long: `Drain the pending queue: match applicants against recorded verification
events, fetch reports for the matched ones, and record decisions.

By default one cycle runs and the command exits. With --interval the
command keeps cycling until interrupted.`,
		RunE: runProcess,
	}

	cmd.Flags().DurationP("interval", "i", 0, "keep cycling at this interval (0 runs once)")
	cmd.Flags().Int("window-days", 0, "feature extraction window in days")
	cmd.Flags().Int("max-attempts", 0, "failures before an applicant is dead-lettered")

	_ = viper.BindPFlag("process.interval", cmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("process.window_days", cmd.Flags().Lookup("window-days"))
	_ = viper.BindPFlag("process.max_attempts", cmd.Flags().Lookup("max-attempts"))

	return cmd
}

func runProcess(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(reconcile.Config{
		WindowDays:  viper.GetInt("process.window_days"),
		MaxAttempts: viper.GetInt("process.max_attempts"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			slog.Error("failed to close pipeline", "error", closeErr)
		}
	}()

	interval := viper.GetDuration("process.interval")
	if interval <= 0 {
		return runCycle(ctx, p)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("processing on interval", "interval", interval.String())
	for {
		if err := runCycle(ctx, p); err != nil && !errors.Is(err, common.ErrLockTimeout) {
			slog.Error("cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle drains the queue once, with a progress bar sized from the
// current snapshot.
func runCycle(ctx context.Context, p *pipeline) error {
	pending, err := p.queue.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending queue: %w", err)
	}
	if len(pending) == 0 {
		slog.Info("pending queue is empty")
		return nil
	}

	bar := progressbar.Default(int64(len(pending)), "processing applicants")
	stats, err := p.engine.RunCycleWithProgress(ctx, func(model.PendingApplicant) {
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}

	slog.Info("cycle finished",
		"processed", stats.Processed,
		"decided", stats.Removed,
		"still_pending", stats.Kept)
	return nil
}
