package dwca

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brensch/dwcsync/internal/util"
)

// Record is one core row with its attached extension rows.
type Record struct {
	ID         string
	Fields     Row
	Extensions map[string][]Row
}

// Document renders the record as a plain document: core fields at the top
// level and each extension as an array of row documents under its name.
func (r *Record) Document() map[string]any {
	doc := r.Fields.Document()
	for name, rows := range r.Extensions {
		arr := make([]any, len(rows))
		for i, row := range rows {
			arr[i] = row.Document()
		}
		doc[name] = arr
	}
	return doc
}

// Entry is a record identifier paired with its document.
type Entry struct {
	ID  string
	Doc map[string]any
}

// Records holds every record of an archive in order of first appearance
// in the core file.
type Records struct {
	order []string
	byID  map[string]*Record
	// Unknown counts, per extension name, rows whose key matched no record.
	Unknown map[string]int
}

func newRecords() *Records {
	return &Records{byID: make(map[string]*Record), Unknown: make(map[string]int)}
}

func (rs *Records) Len() int { return len(rs.order) }

// Get returns the record with the given id.
func (rs *Records) Get(id string) (*Record, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// All returns the records in order.
func (rs *Records) All() []*Record {
	out := make([]*Record, len(rs.order))
	for i, id := range rs.order {
		out[i] = rs.byID[id]
	}
	return out
}

// Entries returns the record documents in order.
func (rs *Records) Entries() []Entry {
	out := make([]Entry, len(rs.order))
	for i, id := range rs.order {
		out[i] = Entry{ID: id, Doc: rs.byID[id].Document()}
	}
	return out
}

func (rs *Records) put(id string, fields Row) {
	if r, ok := rs.byID[id]; ok {
		r.Fields = fields
		r.Extensions = nil
		return
	}
	rs.order = append(rs.order, id)
	rs.byID[id] = &Record{ID: id, Fields: fields}
}

// BuildRecords merges the core file and every extension file of an
// unpacked archive into in-memory records.
func BuildRecords(ctx context.Context, dir string, desc *Descriptor, logger *slog.Logger) (*Records, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rs := newRecords()

	err := eachLine(ctx, dir, desc.Core, func(values []string) error {
		id := desc.Core.Key(values)
		if id == "" {
			return nil
		}
		row, _ := desc.Core.Row(values)
		rs.put(id, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Core file loaded.", slog.String("file", desc.Core.Location), slog.Int("records", rs.Len()))

	for _, ext := range desc.Extensions {
		l := logger.With(slog.String("extension", ext.Name))
		appended := 0
		err := eachLine(ctx, dir, ext, func(values []string) error {
			row, blank := ext.Row(values)
			if blank {
				return nil
			}
			rec, ok := rs.byID[ext.Key(values)]
			if !ok {
				rs.Unknown[ext.Name]++
				return nil
			}
			if rec.Extensions == nil {
				rec.Extensions = make(map[string][]Row)
			}
			rec.Extensions[ext.Name] = append(rec.Extensions[ext.Name], row)
			appended++
			return nil
		})
		if err != nil {
			return nil, err
		}
		if n := rs.Unknown[ext.Name]; n > 0 {
			l.Warn("Extension rows reference unknown records.", slog.Int("unknown", n))
		}
		l.Debug("Extension merged.", slog.Int("rows", appended))
	}
	return rs, nil
}

// openDataFile opens a data file of an unpacked archive.
var openDataFile = func(path string) (io.ReadCloser, error) { return os.Open(path) }

// eachLine streams the data lines of one file, split on tabs.
func eachLine(ctx context.Context, dir string, spec FileSpec, fn func(values []string) error) error {
	p, err := spec.resolve(dir)
	if err != nil {
		return err
	}
	f, err := openDataFile(p)
	if err != nil {
		return NewCorruptArchiveError(spec.Location, err)
	}
	defer f.Close()

	lr := util.NewLineReader(ctx, f)
	for lr.Scan() {
		if err := fn(util.SplitFields(lr.Text())); err != nil {
			return err
		}
	}
	if err := lr.Err(); err != nil {
		return fmt.Errorf("read %s: %w", spec.Location, err)
	}
	return nil
}
