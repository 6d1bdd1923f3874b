package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var scheduleSpec string

// scheduleCmd runs the occurrence synchronization on a cron schedule.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the occurrence synchronization on a cron schedule",
	Long: `Runs 'occurrences' whenever the cron expression fires, until interrupted.
A run that is still in progress when the schedule fires again is not
overlapped; the new run is skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		applyOccurrenceFlags(cmd, cfg)
		if cmd.Flags().Changed("cron") {
			cfg.Cron = scheduleSpec
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var running sync.Mutex
		c := cron.New()
		_, err := c.AddFunc(cfg.Cron, func() {
			if !running.TryLock() {
				logger.Warn("Previous run still in progress, skipping.")
				return
			}
			defer running.Unlock()
			logger.Info("Scheduled run starting.")
			if err := runOccurrences(ctx, cfg); err != nil {
				logger.Error("Scheduled run failed.", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
		}

		c.Start()
		logger.Info("Scheduler started.", "cron", cfg.Cron)
		<-ctx.Done()

		logger.Info("Stopping scheduler, waiting for the current run.")
		<-c.Stop().Done()
		return ignoreCancel(ctx)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "cron", "", "Cron expression (overrides config)")
	addOccurrenceFlags(scheduleCmd)
}

// ignoreCancel treats an interrupt as a clean shutdown.
func ignoreCancel(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
