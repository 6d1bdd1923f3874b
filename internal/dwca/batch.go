package dwca

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultBatchSize is the number of core records per batch.
const DefaultBatchSize = 5000

const schemaCoreSQL = `CREATE TABLE core (id TEXT PRIMARY KEY, json TEXT NOT NULL);`

// BatchCursor iterates the records of an archive loaded into an embedded
// SQLite store, yielding fixed-size batches ordered by record id. The store
// is released once iteration is exhausted, fails, or Close is called.
type BatchCursor struct {
	db        *sql.DB
	query     string
	names     []any
	chunkSize int
	total     int
	lastID    string
	batch     []Entry
	err       error
	closed    bool
	logger    *slog.Logger

	// Unknown counts, per extension name, rows whose key matched no record.
	Unknown map[string]int
}

// BuildBatches loads the core file and every extension file of an unpacked
// archive into an in-memory SQLite database and returns a cursor over it.
func BuildBatches(ctx context.Context, dir string, desc *Descriptor, chunkSize int, logger *slog.Logger) (*BatchCursor, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if chunkSize <= 0 {
		chunkSize = DefaultBatchSize
	}
	startTime := time.Now()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	c := &BatchCursor{db: db, chunkSize: chunkSize, logger: logger, Unknown: make(map[string]int)}
	if err := c.load(ctx, dir, desc); err != nil {
		db.Close()
		c.closed = true
		return nil, err
	}
	logger.Info("Archive loaded into batch store.",
		slog.Int("records", c.total),
		slog.Int("extensions", len(c.names)),
		slog.Duration("duration", time.Since(startTime).Round(time.Millisecond)))
	return c, nil
}

func (c *BatchCursor) load(ctx context.Context, dir string, desc *Descriptor) error {
	if _, err := c.db.ExecContext(ctx, schemaCoreSQL); err != nil {
		return fmt.Errorf("failed to create core table: %w", err)
	}
	if err := c.loadFile(ctx, dir, desc.Core, "core", false); err != nil {
		return err
	}

	tables := make(map[string]string)
	var tableOrder []string
	for _, ext := range desc.Extensions {
		table, ok := tables[ext.Name]
		if !ok {
			table = fmt.Sprintf("ext_%d", len(tableOrder))
			for _, ddl := range []string{
				fmt.Sprintf(`CREATE TABLE %s (id TEXT NOT NULL, json TEXT NOT NULL);`, table),
				fmt.Sprintf(`CREATE INDEX idx_%[1]s_id ON %[1]s (id);`, table),
			} {
				if _, err := c.db.ExecContext(ctx, ddl); err != nil {
					return fmt.Errorf("failed to create table for extension %s: %w", ext.Name, err)
				}
			}
			tables[ext.Name] = table
			tableOrder = append(tableOrder, table)
			c.names = append(c.names, ext.Name)
		}
		if err := c.loadFile(ctx, dir, ext, table, true); err != nil {
			return err
		}
	}

	for i, table := range tableOrder {
		name := c.names[i].(string)
		var unknown int
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id NOT IN (SELECT id FROM core);`, table)
		if err := c.db.QueryRowContext(ctx, q).Scan(&unknown); err != nil {
			return fmt.Errorf("failed to count unknown rows for %s: %w", name, err)
		}
		if unknown > 0 {
			c.Unknown[name] = unknown
			c.logger.Warn("Extension rows reference unknown records.", slog.String("extension", name), slog.Int("unknown", unknown))
		}
	}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(id) FROM core;`).Scan(&c.total); err != nil {
		return fmt.Errorf("failed to count core rows: %w", err)
	}
	c.query = buildBatchQuery(tableOrder)
	return nil
}

// loadFile inserts every keyed line of one data file inside a single
// transaction.
func (c *BatchCursor) loadFile(ctx context.Context, dir string, spec FileSpec, table string, skipBlank bool) error {
	l := c.logger.With(slog.String("file", spec.Location))
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", spec.Location, err)
	}
	defer tx.Rollback()

	verb := "INSERT"
	if table == "core" {
		verb = "INSERT OR REPLACE"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`%s INTO %s (id, json) VALUES (?, ?)`, verb, table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert for %s: %w", spec.Location, err)
	}
	defer stmt.Close()

	inserted := 0
	err = eachLine(ctx, dir, spec, func(values []string) error {
		id := spec.Key(values)
		row, blank := spec.Row(values)
		if id == "" || (skipBlank && blank) {
			return nil
		}
		js, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode row %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(js)); err != nil {
			return fmt.Errorf("failed to insert row %s into %s: %w", id, table, err)
		}
		inserted++
		return nil
	})
	if err != nil {
		l.Error("Load failed, rolling back.", "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", spec.Location, err)
	}
	l.Debug("File loaded.", slog.Int("rows", inserted))
	return nil
}

// buildBatchQuery returns the batch query for the given extension tables.
// Parameters: ?1 previous batch's last id, ?2 batch size, then one
// extension name per table. Table names are generated, never taken from
// the archive.
func buildBatchQuery(tables []string) string {
	var b strings.Builder
	b.WriteString(`WITH BatchIDRange AS (
    SELECT MIN(id) AS min_id, MAX(id) AS max_id
    FROM (SELECT id FROM core WHERE id > ?1 ORDER BY id LIMIT ?2)
)`)
	for i, t := range tables {
		fmt.Fprintf(&b, `,
Aggregated%d AS (
    SELECT id, json_group_array(json(json) ORDER BY rowid) AS json
    FROM %s
    WHERE id >= (SELECT min_id FROM BatchIDRange)
      AND id <= (SELECT max_id FROM BatchIDRange)
    GROUP BY id
)`, i, t)
	}

	// A record without rows in an extension keeps its core fields: a null
	// member in a merge patch would delete the core field of the same name.
	expr := "c.json"
	for i := range tables {
		expr = fmt.Sprintf("json_patch(%[1]s, CASE WHEN Aggregated%[2]d.json IS NULL THEN '{}' ELSE json_object(?%[3]d, json(Aggregated%[2]d.json)) END)", expr, i, i+3)
	}

	fmt.Fprintf(&b, "\nSELECT c.id, %s AS json\nFROM core c", expr)
	for i := range tables {
		fmt.Fprintf(&b, "\nLEFT JOIN Aggregated%[1]d ON c.id = Aggregated%[1]d.id", i)
	}
	b.WriteString(`
WHERE c.id >= (SELECT min_id FROM BatchIDRange)
  AND c.id <= (SELECT max_id FROM BatchIDRange)
ORDER BY c.id;`)
	return b.String()
}

// Len returns the number of core records.
func (c *BatchCursor) Len() int { return c.total }

// Next fetches the next batch. It returns false when no records remain or
// on error; the store is closed in both cases.
func (c *BatchCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		c.batch = nil
		return false
	}

	args := make([]any, 0, 2+len(c.names))
	args = append(args, c.lastID, c.chunkSize)
	args = append(args, c.names...)

	rows, err := c.db.QueryContext(ctx, c.query, args...)
	if err != nil {
		c.fail(fmt.Errorf("batch query after %q: %w", c.lastID, err))
		return false
	}

	batch := make([]Entry, 0, c.chunkSize)
	for rows.Next() {
		var id, js string
		if err := rows.Scan(&id, &js); err != nil {
			rows.Close()
			c.fail(fmt.Errorf("scan batch row: %w", err))
			return false
		}
		doc := make(map[string]any)
		if err := json.Unmarshal([]byte(js), &doc); err != nil {
			rows.Close()
			c.fail(fmt.Errorf("decode batch row %s: %w", id, err))
			return false
		}
		batch = append(batch, Entry{ID: id, Doc: doc})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		c.fail(fmt.Errorf("iterate batch rows: %w", err))
		return false
	}
	rows.Close()

	if len(batch) == 0 {
		c.batch = nil
		c.Close()
		return false
	}
	c.lastID = batch[len(batch)-1].ID
	c.batch = batch
	return true
}

func (c *BatchCursor) fail(err error) {
	c.err = err
	c.batch = nil
	if closeErr := c.Close(); closeErr != nil {
		c.err = errors.Join(c.err, closeErr)
	}
}

// Batch returns the current batch.
func (c *BatchCursor) Batch() []Entry { return c.batch }

// Err returns the error that stopped iteration, if any.
func (c *BatchCursor) Err() error { return c.err }

// Close releases the store.
func (c *BatchCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Debug("Closing batch store.")
	return c.db.Close()
}
