package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/dwcsync/internal/config"
	"github.com/brensch/dwcsync/internal/db"
	"github.com/brensch/dwcsync/internal/downloader"
	"github.com/brensch/dwcsync/internal/dwca"
	"github.com/brensch/dwcsync/internal/metrics"
	"github.com/brensch/dwcsync/internal/syncer"
	"github.com/brensch/dwcsync/internal/transform"
)

var (
	taxaDryRun bool
	taxaFile   bool
)

// taxaCmd groups the checklist ingestions.
var taxaCmd = &cobra.Command{
	Use:   "taxa",
	Short: "Ingest a fauna or flora checklist archive into the taxa collection",
}

func newTaxonCmd(set transform.TaxonSet) *cobra.Command {
	return &cobra.Command{
		Use:   string(set) + " <dwc-a url>",
		Short: fmt.Sprintf("Replace the %s taxa when the checklist version changes", set),
		Long: fmt.Sprintf(`Downloads the %[1]s checklist archive, keeps species-level taxa, reshapes
their distribution, synonyms and vernacular names and replaces the stored
%[1]s taxa when the archive's version differs from the stored one. A
resource that no longer exists (404) is not an error. With --file the
argument is a local archive path instead of a URL.`, set),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTaxa(ctx, getConfig(), set, args[0])
		},
	}
}

func init() {
	taxaCmd.PersistentFlags().BoolVar(&taxaDryRun, "dry-run", false, "Use an in-memory store instead of MongoDB")
	taxaCmd.PersistentFlags().BoolVar(&taxaFile, "file", false, "Read the archive from a local path instead of downloading it")
	taxaCmd.AddCommand(newTaxonCmd(transform.Fauna))
	taxaCmd.AddCommand(newTaxonCmd(transform.Flora))
}

func runTaxa(ctx context.Context, cfg *config.Config, set transform.TaxonSet, url string) error {
	logger := getLogger().With("set", string(set))
	ledger := db.NewLedger(getDB(), logger)
	source := string(set)
	startTime := time.Now()

	st, closeStore, err := openStore(ctx, cfg, taxaDryRun, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger.LogEvent(ctx, db.Event{Source: source, Event: db.EventDownloadStart, Message: url})
	opts := dwca.Options{
		Mode:    dwca.ModeMemory,
		WorkDir: cfg.WorkDir,
		Fetcher: newFetcher(cfg, logger),
		Logger:  logger,
	}
	var archive *dwca.Archive
	if taxaFile {
		archive, err = dwca.Open(ctx, url, opts)
	} else {
		archive, err = dwca.Process(ctx, url, opts)
	}
	if downloader.IsNotFound(err) {
		logger.Info("Resource no longer exists (404), exiting.", "url", url)
		ledger.LogEvent(ctx, db.Event{Source: source, Event: db.EventGone, Message: url})
		return nil
	}
	if err != nil {
		ledger.LogEvent(ctx, db.Event{Source: source, Event: db.EventError, Message: err.Error()})
		return fmt.Errorf("read %s archive: %w", set, err)
	}

	entries := transform.Taxa(archive.Records, set)
	logger.Info("Taxa selected.", "records", archive.Records.Len(), "taxa", len(entries))

	m := metrics.New()
	out, err := newController(st, cfg, m, logger).Sync(ctx, syncer.Job{
		Dataset:      archive.Dataset,
		Collection:   cfg.Mongo.TaxonCollection,
		DeleteFilter: set.DeleteFilter(),
		Labels:       set.Labels(),
		Cursor:       dwca.NewSliceCursor(entries, cfg.Sync.BatchSize),
	})
	duration := time.Since(startTime)
	if err != nil {
		ledger.LogEvent(ctx, db.Event{Source: source, DatasetID: archive.Dataset.ID, Event: db.EventError, Message: err.Error(), Duration: &duration})
		return fmt.Errorf("%s ingestion failed: %w", set, err)
	}
	m.Documents(cfg.Mongo.TaxonCollection, out.Inserted, out.Deleted)
	if out.UpToDate {
		logger.Info("Checklist already on version.", "version", archive.Dataset.Version)
		ledger.LogEvent(ctx, db.Event{Source: source, DatasetID: archive.Dataset.ID, Event: db.EventUpToDate, Message: archive.Dataset.Version})
	} else {
		ledger.LogEvent(ctx, db.Event{
			Source:    source,
			DatasetID: archive.Dataset.ID,
			Event:     db.EventSynced,
			Message:   fmt.Sprintf("version %s: deleted %d, inserted %d", archive.Dataset.Version, out.Deleted, out.Inserted),
			Duration:  &duration,
		})
	}

	logger.Info("Creating indexes")
	if err := st.EnsureIndexes(ctx, cfg.Mongo.TaxonCollection, transform.TaxonIndexes); err != nil {
		return fmt.Errorf("taxon indexes: %w", err)
	}

	m.RunFinished(time.Since(startTime).Seconds(), time.Now().Unix())
	if err := m.WriteToTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Error("Failed to write metrics.", "error", err)
	}
	logger.Info("Done")
	return nil
}
