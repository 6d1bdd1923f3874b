package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"
)

// DisplayHistory prints the most recent ledger events, newest first,
// optionally filtered by source and event type.
func DisplayHistory(ctx context.Context, db *sql.DB, w io.Writer, sourceFilter, eventFilter string, limit int) error {
	query := `
        SELECT run_id, source, dataset_id, event, event_timestamp, message, duration_ms
        FROM dwcsync_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if sourceFilter != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argCounter))
		args = append(args, sourceFilter)
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "--- Run Ledger (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-8s | %-40s | %-14s | %-25s | %-10s | %s\n", "Run", "Source", "Event", "Timestamp (UTC)", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 140))

	count := 0
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}
		durationStr := ""
		if ev.Duration != nil {
			durationStr = fmt.Sprintf("%d", ev.Duration.Milliseconds())
		}
		details := ev.Message
		if ev.DatasetID != "" {
			details += fmt.Sprintf(" (Dataset: %s)", ev.DatasetID)
		}
		runID := ev.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		fmt.Fprintf(w, "%-8s | %-40s | %-14s | %-25s | %-10s | %s\n",
			runID, ev.Source, ev.Event, ev.Timestamp.UTC().Format(time.RFC3339), durationStr, strings.TrimSpace(details))
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}
