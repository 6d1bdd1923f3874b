package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/dwcsync/internal/catalog"
	"github.com/brensch/dwcsync/internal/config"
	"github.com/brensch/dwcsync/internal/db"
	"github.com/brensch/dwcsync/internal/metrics"
	"github.com/brensch/dwcsync/internal/orchestrator"
	"github.com/brensch/dwcsync/internal/transform"
)

var (
	catalogPath string
	dryRun      bool
	concurrency int
	batchSize   int
)

// occurrencesCmd synchronizes every dataset of the occurrence catalog.
var occurrencesCmd = &cobra.Command{
	Use:   "occurrences",
	Short: "Synchronize every occurrence dataset listed in the catalog",
	Long: `Reads the catalog CSV (nome,repositorio,kingdom,tag,url) and:
1. Concurrently fetches each resource's EML and compares its version with the
   stored dataset record. Servers that fail to respond are skipped for the
   rest of the run.
2. Sequentially, in catalog order, downloads each outdated archive, replaces
   the dataset's occurrences and records the new version.
Use --dry-run to exercise the pipeline without MongoDB.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		applyOccurrenceFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runOccurrences(ctx, cfg)
	},
}

func init() {
	addOccurrenceFlags(occurrencesCmd)
}

func addOccurrenceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "Catalog CSV path (overrides config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use an in-memory store instead of MongoDB")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel version checks (overrides config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per insert batch (overrides config)")
}

func applyOccurrenceFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("catalog") {
		cfg.Catalog = catalogPath
	}
	if concurrency > 0 {
		cfg.Sync.Concurrency = concurrency
	}
	if batchSize > 0 {
		cfg.Sync.BatchSize = batchSize
	}
}

// runOccurrences performs one catalog run.
func runOccurrences(ctx context.Context, cfg *config.Config) error {
	logger := getLogger()
	startTime := time.Now()

	sources, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}
	logger.Info("Catalog loaded.", "path", cfg.Catalog, "sources", len(sources))

	st, closeStore, err := openStore(ctx, cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("Creating indexes")
	if err := st.EnsureIndexes(ctx, cfg.Mongo.OccurrenceCollection, transform.OccurrenceIndexes); err != nil {
		return fmt.Errorf("occurrence indexes: %w", err)
	}
	if err := st.EnsureIndexes(ctx, cfg.Mongo.DatasetCollection, transform.DatasetIndexes); err != nil {
		return fmt.Errorf("dataset indexes: %w", err)
	}

	m := metrics.New()
	ledger := db.NewLedger(getDB(), logger)
	logger.Info("Starting occurrence run.", "run_id", ledger.RunID())

	report, runErr := orchestrator.Run(ctx, orchestrator.Deps{
		Fetcher:     newFetcher(cfg, logger),
		Controller:  newController(st, cfg, m, logger),
		Ledger:      ledger,
		Metrics:     m,
		Logger:      logger,
		Collection:  cfg.Mongo.OccurrenceCollection,
		Concurrency: cfg.Sync.Concurrency,
		BatchSize:   cfg.Sync.BatchSize,
		WorkDir:     cfg.WorkDir,
	}, sources)
	report.Log(logger)

	m.RunFinished(time.Since(startTime).Seconds(), time.Now().Unix())
	if err := m.WriteToTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Error("Failed to write metrics.", "error", err)
	}

	if runErr != nil {
		logger.Error("Occurrence run completed with errors", "error", runErr)
		return fmt.Errorf("occurrence run failed: %w", runErr)
	}
	logger.Info("Processing completed successfully", "duration", time.Since(startTime).Round(time.Second))
	return nil
}
