package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/brensch/dwcsync/internal/util"
)

// PageFetcher returns the body of a page.
type PageFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Discover lists the resources published on an IPT home page. Every
// resource becomes a source labelled with repository and kingdom, in page
// order without duplicates.
func Discover(ctx context.Context, f PageFetcher, iptURL, repository, kingdom string, logger *slog.Logger) ([]Source, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !strings.HasSuffix(iptURL, "/") {
		iptURL += "/"
	}
	base, err := url.Parse(iptURL)
	if err != nil {
		return nil, fmt.Errorf("parse base %s: %w", iptURL, err)
	}
	l := logger.With(slog.String("ipt_url", iptURL))
	l.Debug("Checking IPT for resources.")

	body, err := f.FetchBytes(ctx, iptURL)
	if err != nil {
		return nil, fmt.Errorf("discover GET %s: %w", iptURL, err)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML of %s: %w", iptURL, err)
	}

	seen := make(map[string]bool)
	var out []Source
	for _, href := range util.ParseLinks(root, "resource?r=") {
		ref, err := url.Parse(href)
		if err != nil {
			l.Warn("Skip: parse link failed.", slog.String("href", href), "error", err)
			continue
		}
		tag := base.ResolveReference(ref).Query().Get("r")
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, Source{
			Index:      len(out),
			Name:       tag,
			Repository: repository,
			Kingdom:    kingdom,
			Tag:        tag,
			URL:        iptURL,
		})
	}
	l.Info("Discovery complete.", slog.Int("resources", len(out)))
	return out, nil
}
