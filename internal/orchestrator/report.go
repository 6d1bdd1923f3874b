package orchestrator

import (
	"log/slog"

	"github.com/brensch/dwcsync/internal/catalog"
)

// Outcome is what happened to one catalog source during a run.
type Outcome string

const (
	// OutcomeIgnored marks rows without repository or tag.
	OutcomeIgnored     Outcome = "ignored"
	OutcomeHostSkipped Outcome = "host_skipped"
	OutcomeGone        Outcome = "gone"
	OutcomeUpToDate    Outcome = "up_to_date"
	OutcomeSynced      Outcome = "synced"
	OutcomeFailed      Outcome = "failed"
)

// SourceResult is the outcome for one source.
type SourceResult struct {
	Source   catalog.Source
	Outcome  Outcome
	Version  string
	Inserted int
	Deleted  int64
	Err      error
}

// Report lists one result per catalog source, in catalog order, and the
// hosts found offline.
type Report struct {
	Results     []SourceResult
	FailedHosts []string
}

// Count returns how many sources ended with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Log writes a run summary.
func (r *Report) Log(logger *slog.Logger) {
	logger.Info("Run summary.",
		slog.Int("sources", len(r.Results)),
		slog.Int("synced", r.Count(OutcomeSynced)),
		slog.Int("up_to_date", r.Count(OutcomeUpToDate)),
		slog.Int("gone", r.Count(OutcomeGone)),
		slog.Int("host_skipped", r.Count(OutcomeHostSkipped)),
		slog.Int("failed", r.Count(OutcomeFailed)))
	for _, h := range r.FailedHosts {
		logger.Warn("IPT server was offline and skipped.", slog.String("host", h))
	}
}
