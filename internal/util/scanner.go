package util

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// DefaultChunkSize is the read size used by LineReader.
const DefaultChunkSize = 64 * 1024

// LineReader yields the logical lines of a tab-separated data file.
// The first line (the header) is always dropped and a trailing carriage
// return is stripped from every line. Invalid UTF-8 sequences are replaced
// with U+FFFD. Lines have no length limit.
// A LineReader is single-pass and cannot be restarted.
type LineReader struct {
	reader     *bufio.Reader
	line       string
	err        error
	headerDone bool
	done       bool
	context    context.Context
}

// NewLineReader creates a LineReader reading r in DefaultChunkSize chunks.
func NewLineReader(ctx context.Context, r io.Reader) *LineReader {
	if ctx == nil {
		ctx = context.Background()
	}
	return &LineReader{reader: bufio.NewReaderSize(r, DefaultChunkSize), context: ctx}
}

// Scan advances to the next data line. It returns false at end of input,
// on a read error or when the context is cancelled.
func (lr *LineReader) Scan() bool {
	for {
		if lr.done {
			return false
		}
		select {
		case <-lr.context.Done():
			lr.err = lr.context.Err()
			lr.done = true
			return false
		default:
		}

		line, err := lr.reader.ReadString('\n')
		atEOF := false
		if err != nil {
			if !errors.Is(err, io.EOF) {
				lr.err = err
				lr.done = true
				return false
			}
			atEOF = true
			lr.done = true
		}

		// A final fragment without a newline only counts when non-empty.
		if atEOF && line == "" {
			return false
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if !lr.headerDone {
			lr.headerDone = true
			continue
		}
		lr.line = strings.ToValidUTF8(line, "\uFFFD")
		return true
	}
}

// Text returns the current line without its terminator.
func (lr *LineReader) Text() string {
	return lr.line
}

// Err returns the first non-EOF error encountered.
func (lr *LineReader) Err() error {
	return lr.err
}

// SplitFields splits a data line on tabs.
func SplitFields(line string) []string {
	return strings.Split(line, "\t")
}
