package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/dwcsync/internal/config"
	"github.com/brensch/dwcsync/internal/db"
	"github.com/brensch/dwcsync/internal/downloader"
	"github.com/brensch/dwcsync/internal/metrics"
	"github.com/brensch/dwcsync/internal/store"
	"github.com/brensch/dwcsync/internal/syncer"
	"github.com/brensch/dwcsync/internal/util"
)

// skipLedger marks commands that never touch the run ledger.
const skipLedger = "skip-ledger"

var (
	// Config flags - bound in init()
	cfgFile    string
	ledgerPath string
	workDir    string
	logFormat  string
	logLevel   string
	logOutput  string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	dbConn     *sql.DB
	appConfig  *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dwcsync",
	Short: "Synchronize Darwin Core Archives from IPT servers into MongoDB.",
	Long: `dwcsync downloads Darwin Core Archives published by IPT servers, merges
their core and extension files into one document per record and replaces a
dataset's documents in MongoDB whenever its published version changes.

'occurrences' runs the catalog of occurrence datasets, 'taxa' ingests one
fauna or flora checklist. Every run is recorded in a DuckDB ledger that
'ledger' displays.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Arguments are valid by now; later failures are not usage errors.
		cmd.SilenceUsage = true

		// --- 1. Initialize Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		if logOutput != "" && strings.ToLower(logOutput) != "stderr" {
			if strings.ToLower(logOutput) == "stdout" {
				logWriter = os.Stdout
			} else {
				f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err != nil {
					return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
				}
				logWriter = f
			}
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load config: defaults, file, flags, environment ---
		cfg := config.DefaultConfig()
		if cfgFile != "" {
			var err error
			if cfg, err = config.LoadFromFile(cfgFile); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("ledger") {
			cfg.Ledger = ledgerPath
		}
		if cmd.Flags().Changed("work-dir") {
			cfg.WorkDir = workDir
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		appConfig = cfg

		if cmd.Annotations[skipLedger] == "true" {
			return nil
		}

		// --- 3. Open the run ledger ---
		if cfg.Ledger != "" && cfg.Ledger != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Ledger), 0o755); err != nil {
				return fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
		ledger := cfg.Ledger
		if ledger == ":memory:" {
			ledger = ""
		}
		rootLogger.Debug("Opening run ledger", "path", cfg.Ledger)
		var err error
		if dbConn, err = db.Open(ledger); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeLedger()
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	// PersistentPostRunE does not run when RunE fails.
	closeLedger()
	if err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(occurrencesCmd)
	rootCmd.AddCommand(taxaCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(scheduleCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&ledgerPath, "ledger", "d", "./dwcsync_ledger.duckdb", "Path to the DuckDB run ledger (:memory: for in-memory)")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "Parent directory for temporary archive extraction (system temp dir when empty)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func closeLedger() {
	if dbConn == nil {
		return
	}
	getLogger().Debug("Closing run ledger.")
	if err := dbConn.Close(); err != nil {
		getLogger().Error("Failed to close run ledger cleanly", "error", err)
	}
	dbConn = nil
}

// Helper to get logger
func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

// Helper to get the ledger connection
func getDB() *sql.DB {
	return dbConn
}

// Helper to get Config
func getConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *downloader.Fetcher {
	return downloader.New(util.DefaultHTTPClient(), downloader.Options{
		Timeout:         cfg.Fetch.Timeout,
		IdleTimeout:     cfg.Fetch.IdleTimeout,
		MetadataTimeout: cfg.Fetch.MetadataTimeout,
	}, logger)
}

// documentStore is what the commands need from a store.
type documentStore interface {
	syncer.Store
	EnsureIndexes(ctx context.Context, collection string, specs []store.IndexSpec) error
}

// openStore connects to MongoDB, or returns an in-process store for dry
// runs. The returned func releases the store.
func openStore(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger) (documentStore, func(), error) {
	if dryRun {
		logger.Warn("Dry run: documents are kept in memory and discarded.")
		return store.NewMemory(), func() {}, nil
	}
	if err := cfg.RequireMongoURI(); err != nil {
		return nil, nil, err
	}
	st, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.DatasetCollection, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		logger.Debug("Closing MongoDB connection.")
		if err := st.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to close MongoDB connection cleanly", "error", err)
		}
	}, nil
}

func newController(st syncer.Store, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *syncer.Controller {
	return syncer.NewController(st, syncer.Options{
		MaxBatchBytes: cfg.Sync.MaxBatchBytes,
		OnSplit:       m.ChunkSplit,
	}, logger)
}
