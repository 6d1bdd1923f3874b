package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Event types written to the run ledger.
const (
	EventVersionCheck  = "version_check"
	EventUpToDate      = "up_to_date"
	EventGone          = "gone"
	EventHostSkipped   = "host_skipped"
	EventDownloadStart = "download_start"
	EventSynced        = "synced"
	EventError         = "error"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS dwcsync_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS dwcsync_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('dwcsync_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    source          VARCHAR NOT NULL,      -- repository:tag, or the taxon set
    dataset_id      VARCHAR,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_dwcsync_event_log_source ON dwcsync_event_log (source);
CREATE INDEX IF NOT EXISTS idx_dwcsync_event_log_event_time ON dwcsync_event_log (event, event_timestamp);
`

// Open opens (creating if needed) the ledger database at path and
// initializes its schema. An empty path opens an in-memory database.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to ledger %s: %w", path, err)
	}
	if err := InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Event is one ledger entry.
type Event struct {
	RunID     string
	Source    string
	DatasetID string
	Event     string
	Timestamp time.Time
	Message   string
	Duration  *time.Duration
}

// LogEvent inserts a new event record into the ledger.
func LogEvent(ctx context.Context, db *sql.DB, runID string, ev Event) error {
	query := `
        INSERT INTO dwcsync_event_log (run_id, source, dataset_id, event, event_timestamp, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if ev.Duration != nil {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, query,
		runID,
		ev.Source,
		sql.NullString{String: ev.DatasetID, Valid: ev.DatasetID != ""},
		ev.Event,
		ts,
		sql.NullString{String: ev.Message, Valid: ev.Message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", ev.Event, ev.Source, err)
	}
	return nil
}

// LatestEvent retrieves the most recent event recorded for source.
func LatestEvent(ctx context.Context, db *sql.DB, source string) (Event, bool, error) {
	query := `
        SELECT run_id, source, dataset_id, event, event_timestamp, message, duration_ms
        FROM dwcsync_event_log
        WHERE source = ?
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	ev, err := scanEvent(db.QueryRowContext(ctx, query, source))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("failed query latest event for '%s': %w", source, err)
	}
	return ev, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var datasetID, message sql.NullString
	var durationMs sql.NullInt64
	if err := row.Scan(&ev.RunID, &ev.Source, &datasetID, &ev.Event, &ev.Timestamp, &message, &durationMs); err != nil {
		return Event{}, err
	}
	ev.DatasetID = datasetID.String
	ev.Message = message.String
	if durationMs.Valid {
		d := time.Duration(durationMs.Int64) * time.Millisecond
		ev.Duration = &d
	}
	return ev, nil
}

// Ledger writes the events of one run. Failures to write are logged and
// never returned. A nil *Ledger discards events.
type Ledger struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// NewLedger starts a run with a fresh run id.
func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := uuid.NewString()
	return &Ledger{db: db, runID: id, logger: logger.With(slog.String("run_id", id))}
}

func (l *Ledger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// LogEvent records ev under the ledger's run id.
func (l *Ledger) LogEvent(ctx context.Context, ev Event) {
	if l == nil || l.db == nil {
		return
	}
	if err := LogEvent(ctx, l.db, l.runID, ev); err != nil {
		l.logger.Warn("Failed to write ledger event.", slog.String("source", ev.Source), slog.String("event", ev.Event), "error", err)
	}
}
