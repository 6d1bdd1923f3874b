package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/dwcsync/internal/catalog"
	"github.com/brensch/dwcsync/internal/db"
	"github.com/brensch/dwcsync/internal/downloader"
	"github.com/brensch/dwcsync/internal/dwca"
	"github.com/brensch/dwcsync/internal/metrics"
	"github.com/brensch/dwcsync/internal/syncer"
	"github.com/brensch/dwcsync/internal/transform"
)

// DefaultConcurrency bounds the parallel version checks.
const DefaultConcurrency = 10

// Fetcher retrieves metadata documents and archives.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	FetchToFile(ctx context.Context, url, path string) (int64, error)
}

// EventLog receives run events. Implementations must not fail the run.
type EventLog interface {
	LogEvent(ctx context.Context, ev db.Event)
}

// Deps wires a multi-source run.
type Deps struct {
	Fetcher    Fetcher
	Controller *syncer.Controller
	// Hosts is shared by both phases; a nil value gets a fresh tracker.
	Hosts   *HostTracker
	Ledger  EventLog
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	Collection  string
	Concurrency int
	BatchSize   int
	WorkDir     string
}

type pending struct {
	pos     int
	source  catalog.Source
	dataset *dwca.Dataset
}

// Run checks every source's published version concurrently, then downloads
// and synchronizes the outdated ones one at a time in catalog order. The
// returned error joins the failures that are not attributable to a single
// unreachable host or a removed resource.
func Run(ctx context.Context, d Deps, sources []catalog.Source) (*Report, error) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Hosts == nil {
		d.Hosts = NewHostTracker()
	}
	if d.Concurrency <= 0 {
		d.Concurrency = DefaultConcurrency
	}
	if d.Ledger == nil {
		d.Ledger = (*db.Ledger)(nil)
	}

	report := &Report{Results: make([]SourceResult, len(sources))}
	for i, src := range sources {
		report.Results[i] = SourceResult{Source: src, Outcome: OutcomeIgnored}
	}

	d.Logger.Info("Phase A: checking versions.", slog.Int("sources", len(sources)), slog.Int("concurrency", d.Concurrency))
	queue, finalErr := d.checkVersions(ctx, sources, report)
	if ctx.Err() != nil {
		report.FailedHosts = d.Hosts.Hosts()
		return report, errors.Join(finalErr, ctx.Err())
	}
	d.Logger.Info("Phase A complete.", slog.Int("outdated", len(queue)))

	d.Logger.Info("Phase B: synchronizing outdated sources.")
	for i, p := range queue {
		select {
		case <-ctx.Done():
			d.Logger.Warn("Run cancelled during synchronization.")
			report.FailedHosts = d.Hosts.Hosts()
			return report, errors.Join(finalErr, ctx.Err())
		default:
		}
		l := d.Logger.With(slog.String("source", p.source.Key()), slog.Int("source_num", i+1), slog.Int("total_sources", len(queue)))
		res, err := d.syncSource(ctx, p, l)
		report.Results[p.pos] = res
		d.Metrics.SourceOutcome(string(res.Outcome))
		if err != nil {
			finalErr = errors.Join(finalErr, err)
		}
	}

	report.FailedHosts = d.Hosts.Hosts()
	return report, finalErr
}

// checkVersions is Phase A. Store failures are returned; everything else is
// recorded on the report.
func (d Deps) checkVersions(ctx context.Context, sources []catalog.Source, report *Report) ([]pending, error) {
	var (
		mu       sync.Mutex
		queue    []pending
		finalErr error
	)
	var g errgroup.Group
	g.SetLimit(d.Concurrency)

	for i, src := range sources {
		if !src.Valid() {
			d.Metrics.SourceOutcome(string(OutcomeIgnored))
			continue
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l := d.Logger.With(slog.String("source", src.Key()))
			res, ds, err := d.checkSource(ctx, src, l)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				finalErr = errors.Join(finalErr, err)
			}
			if ds != nil {
				queue = append(queue, pending{pos: i, source: src, dataset: ds})
				return nil
			}
			report.Results[i] = res
			d.Metrics.SourceOutcome(string(res.Outcome))
			return nil
		})
	}
	_ = g.Wait()

	// Workers finish in any order; Phase B follows the catalog.
	sort.Slice(queue, func(a, b int) bool { return queue[a].pos < queue[b].pos })
	return queue, finalErr
}

// checkSource fetches a source's metadata and compares versions. A non-nil
// dataset means the source is outdated.
func (d Deps) checkSource(ctx context.Context, src catalog.Source, l *slog.Logger) (SourceResult, *dwca.Dataset, error) {
	res := SourceResult{Source: src}
	host := src.Host()
	if d.Hosts.Failed(host) {
		l.Info("Skipping source, IPT server already failed.", slog.String("host", host))
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), Event: db.EventHostSkipped, Message: host})
		res.Outcome = OutcomeHostSkipped
		return res, nil, nil
	}

	l.Debug("Checking version.", slog.String("url", src.EMLURL()))
	body, err := d.Fetcher.FetchBytes(ctx, src.EMLURL())
	if err != nil {
		return d.fetchFailed(ctx, src, err, l), nil, nil
	}
	ds, err := dwca.ParseEML(bytes.NewReader(body))
	if err != nil {
		l.Warn("Failed to read metadata.", "error", err)
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), Event: db.EventError, Message: err.Error()})
		res.Outcome, res.Err = OutcomeFailed, err
		return res, nil, nil
	}
	res.Version = ds.Version

	upToDate, err := d.Controller.UpToDate(ctx, ds)
	if err != nil {
		err = fmt.Errorf("check version of %s: %w", src.Key(), err)
		l.Error("Failed to read stored version.", "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		return res, nil, err
	}
	d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: ds.ID, Event: db.EventVersionCheck, Message: ds.Version})
	if upToDate {
		l.Debug("Source already on version.", slog.String("version", ds.Version))
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: ds.ID, Event: db.EventUpToDate, Message: ds.Version})
		res.Outcome = OutcomeUpToDate
		return res, nil, nil
	}
	l.Info("Source is outdated.", slog.String("remote", ds.Version))
	return res, ds, nil
}

// fetchFailed classifies a download failure. Connectivity failures mark the
// source's host so later sources on it are skipped.
func (d Deps) fetchFailed(ctx context.Context, src catalog.Source, err error, l *slog.Logger) SourceResult {
	res := SourceResult{Source: src, Err: err}
	switch {
	case downloader.IsNotFound(err):
		l.Info("Resource no longer exists, skipping.")
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), Event: db.EventGone, Message: err.Error()})
		res.Outcome, res.Err = OutcomeGone, nil
	case downloader.IsConnectivity(err):
		host := src.Host()
		if d.Hosts.MarkFailed(host) {
			l.Warn("IPT server appears to be offline, marking for skip.", slog.String("host", host), "error", err)
		}
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), Event: db.EventError, Message: err.Error()})
		res.Outcome = OutcomeFailed
	default:
		l.Warn("Failed to download.", "error", err)
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), Event: db.EventError, Message: err.Error()})
		res.Outcome = OutcomeFailed
	}
	return res
}

// syncSource is Phase B for one outdated source.
func (d Deps) syncSource(ctx context.Context, p pending, l *slog.Logger) (SourceResult, error) {
	src := p.source
	res := SourceResult{Source: src, Version: p.dataset.Version}
	host := src.Host()
	if d.Hosts.Failed(host) {
		l.Info("Skipping source, IPT server already failed.", slog.String("host", host))
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: p.dataset.ID, Event: db.EventHostSkipped, Message: host})
		res.Outcome = OutcomeHostSkipped
		return res, nil
	}

	startTime := time.Now()
	l.Info("Downloading archive.", slog.String("url", src.ArchiveURL()))
	d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: p.dataset.ID, Event: db.EventDownloadStart})
	archive, err := dwca.Process(ctx, src.ArchiveURL(), dwca.Options{
		Mode:      dwca.ModeBatch,
		BatchSize: d.BatchSize,
		WorkDir:   d.WorkDir,
		Fetcher:   d.Fetcher,
		Logger:    l,
	})
	if err != nil {
		if downloader.IsNotFound(err) || downloader.IsConnectivity(err) {
			res = d.fetchFailed(ctx, src, err, l)
			res.Version = p.dataset.Version
			return res, nil
		}
		err = fmt.Errorf("process %s: %w", src.Key(), err)
		l.Error("Failed to process archive.", "error", err)
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: p.dataset.ID, Event: db.EventError, Message: err.Error()})
		res.Outcome, res.Err = OutcomeFailed, err
		return res, err
	}

	occ := transform.OccurrenceContext{DatasetID: p.dataset.ID, Repository: src.Repository, Kingdoms: src.Kingdom}
	out, err := d.Controller.Sync(ctx, syncer.Job{
		Dataset:      p.dataset,
		Collection:   d.Collection,
		DeleteFilter: map[string]any{"iptId": p.dataset.ID},
		Labels:       map[string]any{"tag": src.Tag, "ipt": src.Repository, "kingdom": src.Kingdom},
		Cursor:       archive.Cursor(d.BatchSize),
		Transform:    occ.Transform,
	})
	res.Inserted, res.Deleted = out.Inserted, out.Deleted
	d.Metrics.Documents(d.Collection, out.Inserted, out.Deleted)
	duration := time.Since(startTime)
	if err != nil {
		err = fmt.Errorf("sync %s: %w", src.Key(), err)
		l.Error("Failed to synchronize source.", "error", err)
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: p.dataset.ID, Event: db.EventError, Message: err.Error(), Duration: &duration})
		res.Outcome, res.Err = OutcomeFailed, err
		return res, err
	}
	if out.UpToDate {
		res.Outcome = OutcomeUpToDate
		d.Ledger.LogEvent(ctx, db.Event{Source: src.Key(), DatasetID: p.dataset.ID, Event: db.EventUpToDate, Message: p.dataset.Version})
		return res, nil
	}
	d.Ledger.LogEvent(ctx, db.Event{
		Source:    src.Key(),
		DatasetID: p.dataset.ID,
		Event:     db.EventSynced,
		Message:   fmt.Sprintf("version %s: deleted %d, inserted %d", p.dataset.Version, out.Deleted, out.Inserted),
		Duration:  &duration,
	})
	res.Outcome = OutcomeSynced
	return res, nil
}
