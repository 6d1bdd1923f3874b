package dwca

import "context"

// Cursor yields record entries in batches. Close releases any resources
// and may be called more than once.
type Cursor interface {
	Next(ctx context.Context) bool
	Batch() []Entry
	Err() error
	Close() error
}

// SliceCursor serves entries already held in memory.
type SliceCursor struct {
	entries []Entry
	size    int
	pos     int
	batch   []Entry
	err     error
}

// NewSliceCursor returns a cursor over entries in batches of size.
func NewSliceCursor(entries []Entry, size int) *SliceCursor {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &SliceCursor{entries: entries, size: size}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil || c.pos >= len(c.entries) {
		c.batch = nil
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	end := min(c.pos+c.size, len(c.entries))
	c.batch = c.entries[c.pos:end]
	c.pos = end
	return true
}

func (c *SliceCursor) Batch() []Entry { return c.batch }
func (c *SliceCursor) Err() error     { return c.err }
func (c *SliceCursor) Close() error   { c.pos = len(c.entries); return nil }

// Len returns the total number of entries.
func (c *SliceCursor) Len() int { return len(c.entries) }
