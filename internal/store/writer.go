package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultMaxBatchBytes is the server's maximum message size.
const DefaultMaxBatchBytes = 16 * 1024 * 1024

// Inserter performs one unordered multi-document insert.
type Inserter interface {
	InsertMany(ctx context.Context, collection string, docs []any) (int, error)
}

// BulkWriter inserts documents in chunks, halving the chunk size whenever a
// chunk fails and resuming from the first document not yet inserted.
type BulkWriter struct {
	inserter   Inserter
	collection string
	maxBytes   int
	logger     *slog.Logger

	// OnSplit, if set, is called each time the chunk size is halved.
	OnSplit func(newSize int)
}

// NewBulkWriter returns a writer for collection. maxBytes <= 0 uses
// DefaultMaxBatchBytes.
func NewBulkWriter(ins Inserter, collection string, maxBytes int, logger *slog.Logger) *BulkWriter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BulkWriter{
		inserter:   ins,
		collection: collection,
		maxBytes:   maxBytes,
		logger:     logger.With(slog.String("collection", collection)),
	}
}

// Write inserts docs and returns how many were stored. Every document is
// attempted exactly once unless its chunk failed as a whole.
func (w *BulkWriter) Write(ctx context.Context, docs []any) (int, error) {
	size := len(docs)
	pos := 0
	inserted := 0

	for pos < len(docs) {
		select {
		case <-ctx.Done():
			return inserted, ctx.Err()
		default:
		}

		end := min(pos+size, len(docs))
		chunk := docs[pos:end]

		n, err := w.writeChunk(ctx, chunk)
		if err == nil {
			inserted += n
			pos = end
			continue
		}

		var partial *PartialInsertError
		if errors.As(err, &partial) {
			w.logger.Warn("Documents rejected by store.",
				slog.Int("inserted", partial.Inserted),
				slog.Int("rejected", partial.Rejected),
				"error", err)
			inserted += partial.Inserted
			pos = end
			continue
		}
		if ctx.Err() != nil {
			return inserted, fmt.Errorf("bulk write cancelled: %w", errors.Join(ctx.Err(), err))
		}

		next := len(chunk) / 2
		if next == 0 {
			w.logger.Error("Bulk write cannot make progress.", slog.Int("inserted", inserted), slog.Int("remaining", len(docs)-pos), "error", err)
			return inserted, &WriteFailureError{Inserted: inserted, Remaining: len(docs) - pos, err: err}
		}
		w.logger.Warn("Chunk failed, halving chunk size.",
			slog.Int("from", len(chunk)),
			slog.Int("to", next),
			"error", err)
		if w.OnSplit != nil {
			w.OnSplit(next)
		}
		size = next
	}
	return inserted, nil
}

func (w *BulkWriter) writeChunk(ctx context.Context, chunk []any) (int, error) {
	if err := w.checkSize(chunk); err != nil {
		return 0, err
	}
	return w.inserter.InsertMany(ctx, w.collection, chunk)
}

// checkSize fails when the BSON encoding of chunk exceeds the ceiling.
func (w *BulkWriter) checkSize(chunk []any) error {
	total := 0
	for i, doc := range chunk {
		b, err := bson.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document %d: %w", i, err)
		}
		total += len(b)
		if total > w.maxBytes {
			return fmt.Errorf("%w: more than %d bytes in %d documents", ErrOversizedBatch, w.maxBytes, len(chunk))
		}
	}
	return nil
}
