package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brensch/dwcsync/internal/util"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultIdleTimeout     = 10 * time.Second
	DefaultMetadataTimeout = 10 * time.Second

	// maxMetadataBytes bounds FetchBytes responses.
	maxMetadataBytes = 64 << 20
)

// Options configures a Fetcher. Zero durations take the defaults.
type Options struct {
	Timeout         time.Duration
	IdleTimeout     time.Duration
	MetadataTimeout time.Duration
}

// Fetcher downloads remote resources under a total deadline and an
// inactivity deadline that is re-armed whenever bytes arrive.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

// New creates a Fetcher. A nil client uses util.DefaultHTTPClient.
func New(client *http.Client, opts Options, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = util.DefaultHTTPClient()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = DefaultMetadataTimeout
	}
	return &Fetcher{client: client, opts: opts, logger: logger}
}

// FetchToFile streams url into path and returns the number of bytes
// written. On any failure the partial file is removed.
func (f *Fetcher) FetchToFile(ctx context.Context, url, path string) (int64, error) {
	l := f.logger.With(slog.String("url", url))
	startTime := time.Now()
	l.Debug("Starting download.", slog.String("path", path))

	var written int64
	err := f.do(ctx, url, f.opts.Timeout, func(body io.Reader) error {
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		written, err = io.Copy(out, body)
		closeErr := out.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close %s: %w", path, closeErr)
		}
		if err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				l.Warn("Failed to remove partial download.", "error", rmErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		l.Debug("Download failed.", "error", err, slog.Duration("duration", time.Since(startTime).Round(time.Millisecond)))
		return 0, err
	}
	l.Info("Download complete.", slog.Int64("bytes", written), slog.Duration("duration", time.Since(startTime).Round(time.Millisecond)))
	return written, nil
}

// FetchBytes reads a small document such as an EML metadata file into
// memory under the metadata deadline.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := f.do(ctx, url, f.opts.MetadataTimeout, func(body io.Reader) error {
		var err error
		data, err = io.ReadAll(io.LimitReader(body, maxMetadataBytes))
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// do issues the request and hands the body to consume. Both deadlines
// cancel the request context with a *TimeoutError cause so the caller
// sees which one fired.
func (f *Fetcher) do(parent context.Context, url string, total time.Duration, consume func(io.Reader) error) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	totalTimer := time.AfterFunc(total, func() {
		cancel(&TimeoutError{Kind: TimeoutTotal, After: total, URL: url})
	})
	defer totalTimer.Stop()

	idle := f.opts.IdleTimeout
	idleTimer := time.AfterFunc(idle, func() {
		cancel(&TimeoutError{Kind: TimeoutIdle, After: idle, URL: url})
	})
	defer idleTimer.Stop()

	req, err := util.NewGetRequest(ctx, url)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return classify(ctx, parent, url, err)
	}
	defer util.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteUnavailableError{StatusCode: resp.StatusCode, URL: url}
	}

	body := &activityReader{r: resp.Body, onRead: func() { idleTimer.Reset(idle) }}
	if err := consume(body); err != nil {
		if body.err != nil {
			return classify(ctx, parent, url, body.err)
		}
		// The body may have been fine while a deadline fired during a write.
		if cause := context.Cause(ctx); cause != nil && IsTimeout(cause) {
			return cause
		}
		return err
	}
	return nil
}

// classify maps a transport error to the fetch error taxonomy.
func classify(ctx, parent context.Context, url string, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		var te *TimeoutError
		if errors.As(cause, &te) {
			return te
		}
	}
	if parent.Err() != nil {
		return fmt.Errorf("fetch %s: %w", url, parent.Err())
	}
	return &ConnectivityError{URL: url, err: err}
}

// activityReader signals every successful read and remembers the first
// read error so transport failures can be told apart from write failures.
type activityReader struct {
	r      io.Reader
	onRead func()
	err    error
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.onRead()
	}
	if err != nil && !errors.Is(err, io.EOF) && a.err == nil {
		a.err = err
	}
	return n, err
}
