package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brensch/dwcsync/internal/dwca"
	"github.com/brensch/dwcsync/internal/store"
)

// Store is the document store the controller synchronizes into.
type Store interface {
	store.Inserter
	DatasetVersion(ctx context.Context, id string) (string, bool, error)
	DeleteMany(ctx context.Context, collection string, filter map[string]any) (int64, error)
	UpsertDataset(ctx context.Context, id string, fields map[string]any) error
}

// TransformFunc turns an archive entry into a stored document. Returning
// false drops the entry.
type TransformFunc func(dwca.Entry) (map[string]any, bool)

// Job describes one dataset synchronization.
type Job struct {
	Dataset    *dwca.Dataset
	Collection string
	// DeleteFilter selects the documents replaced by this dataset.
	DeleteFilter map[string]any
	// Labels are stored on the dataset record next to its metadata.
	Labels    map[string]any
	Cursor    dwca.Cursor
	Transform TransformFunc
}

// Outcome summarizes a Sync call.
type Outcome struct {
	UpToDate        bool
	PreviousVersion string
	Deleted         int64
	Inserted        int
	Duration        time.Duration
}

// Options configures a Controller.
type Options struct {
	MaxBatchBytes int
	// OnSplit is passed to every bulk writer.
	OnSplit func(newSize int)
}

// Controller replaces a dataset's documents when its version changes.
type Controller struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

func NewController(st Store, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{store: st, opts: opts, logger: logger}
}

// UpToDate reports whether the store already holds ds at its version.
func (c *Controller) UpToDate(ctx context.Context, ds *dwca.Dataset) (bool, error) {
	stored, found, err := c.store.DatasetVersion(ctx, ds.ID)
	if err != nil {
		return false, err
	}
	return found && stored == ds.Version, nil
}

// Sync compares versions and, when they differ, deletes the documents
// matched by the job's filter, writes every batch of its cursor and then
// records the new version. The cursor is always closed.
func (c *Controller) Sync(ctx context.Context, job Job) (Outcome, error) {
	defer job.Cursor.Close()
	startTime := time.Now()
	l := c.logger.With(slog.String("dataset_id", job.Dataset.ID), slog.String("collection", job.Collection))

	stored, found, err := c.store.DatasetVersion(ctx, job.Dataset.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check version of %s: %w", job.Dataset.ID, err)
	}
	out := Outcome{PreviousVersion: stored}
	if found && stored == job.Dataset.Version {
		l.Debug("Dataset already on version.", slog.String("version", stored))
		out.UpToDate = true
		return out, nil
	}
	l.Info("Version mismatch.", slog.String("stored", stored), slog.String("remote", job.Dataset.Version))

	out.Deleted, err = c.store.DeleteMany(ctx, job.Collection, job.DeleteFilter)
	if err != nil {
		return out, fmt.Errorf("clean %s: %w", job.Dataset.ID, err)
	}
	l.Info("Removed previous documents.", slog.Int64("deleted", out.Deleted))

	writer := store.NewBulkWriter(c.store, job.Collection, c.opts.MaxBatchBytes, l)
	writer.OnSplit = c.opts.OnSplit
	for job.Cursor.Next(ctx) {
		batch := job.Cursor.Batch()
		docs := make([]any, 0, len(batch))
		for _, e := range batch {
			doc := e.Doc
			if job.Transform != nil {
				var keep bool
				if doc, keep = job.Transform(e); !keep {
					continue
				}
			}
			docs = append(docs, doc)
		}
		n, err := writer.Write(ctx, docs)
		out.Inserted += n
		if err != nil {
			return out, fmt.Errorf("write %s: %w", job.Dataset.ID, err)
		}
		l.Debug("Batch written.", slog.Int("documents", n), slog.Int("total", out.Inserted))
	}
	if err := job.Cursor.Err(); err != nil {
		return out, fmt.Errorf("read batches of %s: %w", job.Dataset.ID, err)
	}

	record := make(map[string]any, len(job.Dataset.Fields)+len(job.Labels)+1)
	for k, v := range job.Dataset.Fields {
		record[k] = v
	}
	for k, v := range job.Labels {
		record[k] = v
	}
	record["version"] = job.Dataset.Version
	if err := c.store.UpsertDataset(ctx, job.Dataset.ID, record); err != nil {
		return out, err
	}

	out.Duration = time.Since(startTime)
	l.Info("Dataset synchronized.",
		slog.String("version", job.Dataset.Version),
		slog.Int("inserted", out.Inserted),
		slog.Duration("duration", out.Duration.Round(time.Millisecond)))
	return out, nil
}
