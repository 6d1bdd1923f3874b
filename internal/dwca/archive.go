package dwca

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Mode selects the merger used by Process.
type Mode int

const (
	// ModeMemory merges records in memory.
	ModeMemory Mode = iota
	// ModeBatch loads records into an embedded store and iterates batches.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "memory"
}

// Fetcher downloads a remote archive to a local path.
type Fetcher interface {
	FetchToFile(ctx context.Context, url, path string) (int64, error)
}

// Options configures Process.
type Options struct {
	Mode      Mode
	BatchSize int
	// WorkDir is the parent of the per-run temporary directory. Empty uses
	// the system temporary directory.
	WorkDir string
	Fetcher Fetcher
	Logger  *slog.Logger
}

// Archive is a processed archive. Records is set in ModeMemory and Batches
// in ModeBatch; the caller must Close Batches.
type Archive struct {
	Dataset    *Dataset
	Descriptor *Descriptor
	Records    *Records
	Batches    *BatchCursor
}

// Cursor returns the archive's entries as a Cursor regardless of mode.
func (a *Archive) Cursor(batchSize int) Cursor {
	if a.Batches != nil {
		return a.Batches
	}
	return NewSliceCursor(a.Records.Entries(), batchSize)
}

// Process downloads the archive at url and parses it. The temporary working
// directory is removed before Process returns.
func Process(ctx context.Context, url string, opts Options) (*Archive, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("process %s: no fetcher configured", url)
	}
	logger := opts.logger().With(slog.String("archive_url", url))
	opts.Logger = logger

	workDir, cleanup, err := opts.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	archivePath := filepath.Join(workDir, "archive.zip")
	if _, err := opts.Fetcher.FetchToFile(ctx, url, archivePath); err != nil {
		return nil, err
	}
	return open(ctx, archivePath, workDir, opts)
}

// Open parses an archive already on local disk.
func Open(ctx context.Context, archivePath string, opts Options) (*Archive, error) {
	opts.Logger = opts.logger().With(slog.String("archive_path", archivePath))
	workDir, cleanup, err := opts.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return open(ctx, archivePath, workDir, opts)
}

func open(ctx context.Context, archivePath, workDir string, opts Options) (*Archive, error) {
	l := opts.Logger
	startTime := time.Now()
	dir := filepath.Join(workDir, "unpacked")
	if err := Unpack(archivePath, dir); err != nil {
		return nil, err
	}

	desc, err := LoadDescriptor(dir)
	if err != nil {
		return nil, err
	}
	l.Debug("Descriptor parsed.", slog.String("core", desc.Core.Location), slog.Int("extensions", len(desc.Extensions)))

	ds, err := LoadEML(dir)
	if err != nil {
		return nil, err
	}
	l = l.With(slog.String("dataset_id", ds.ID), slog.String("version", ds.Version))

	a := &Archive{Dataset: ds, Descriptor: desc}
	switch opts.Mode {
	case ModeBatch:
		a.Batches, err = BuildBatches(ctx, dir, desc, opts.BatchSize, l)
	default:
		a.Records, err = BuildRecords(ctx, dir, desc, l)
	}
	if err != nil {
		return nil, err
	}
	l.Info("Archive processed.", slog.String("mode", opts.Mode.String()), slog.Duration("duration", time.Since(startTime).Round(time.Millisecond)))
	return a, nil
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// workDir creates the per-run directory. The returned cleanup only logs
// its own failure.
func (o Options) workDir() (string, func(), error) {
	if o.WorkDir != "" {
		if err := os.MkdirAll(o.WorkDir, 0o755); err != nil {
			return "", nil, fmt.Errorf("failed to create work directory %s: %w", o.WorkDir, err)
		}
	}
	dir, err := os.MkdirTemp(o.WorkDir, "dwca-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	l := o.logger()
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			l.Warn("Failed to remove working directory.", slog.String("dir", dir), "error", err)
		}
	}, nil
}
