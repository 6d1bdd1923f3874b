package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseEventDate parses a Darwin Core eventDate value. ISO 8601 intervals
// ("start/end") resolve to their start. Dates without a zone are UTC.
func ParseEventDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty event date")
	}
	if i := strings.Index(v, "/"); i > 0 && looksLikeInterval(v) {
		v = v[:i]
	}
	t, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse event date '%s': %w", s, err)
	}
	return t.UTC(), nil
}

// looksLikeInterval reports whether v is "<iso>/<iso>" rather than a
// slash-separated calendar date like 12/03/2001.
func looksLikeInterval(v string) bool {
	parts := strings.SplitN(v, "/", 2)
	return len(parts) == 2 && strings.Contains(parts[0], "-")
}
