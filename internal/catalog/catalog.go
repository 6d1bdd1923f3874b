// Package catalog reads the list of IPT resources synchronized by the
// occurrences job.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// Columns is the header of a catalog file.
var Columns = []string{"nome", "repositorio", "kingdom", "tag", "url"}

// Source is one catalog row.
type Source struct {
	// Index is the zero-based position of the row in the catalog.
	Index      int
	Name       string
	Repository string
	// Kingdom holds comma separated category labels.
	Kingdom string
	Tag     string
	// URL is the IPT base URL, ending in "/".
	URL string
}

// Valid reports whether the row names a resource. Rows without a
// repository or tag are ignored.
func (s Source) Valid() bool {
	return s.Repository != "" && s.Tag != ""
}

func (s Source) Key() string {
	return s.Repository + ":" + s.Tag
}

func (s Source) EMLURL() string {
	return s.URL + "eml.do?r=" + s.Tag
}

func (s Source) ArchiveURL() string {
	return s.URL + "archive.do?r=" + s.Tag
}

// Host returns scheme://host of the source URL, or the URL itself when it
// cannot be parsed.
func (s Source) Host() string {
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return s.URL
	}
	return u.Scheme + "://" + u.Host
}

// Load reads a catalog file.
func Load(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	sources, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return sources, nil
}

// Parse reads catalog rows from r. Columns are matched by header name and
// may appear in any order; missing columns read as empty.
func Parse(r io.Reader) ([]Source, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	col := func(rec []string, name string) string {
		i, ok := pos[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Source
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out)+1, err)
		}
		out = append(out, Source{
			Index:      len(out),
			Name:       col(rec, "nome"),
			Repository: col(rec, "repositorio"),
			Kingdom:    col(rec, "kingdom"),
			Tag:        col(rec, "tag"),
			URL:        col(rec, "url"),
		})
	}
	return out, nil
}

// Write renders sources as a catalog file with a header row.
func Write(w io.Writer, sources []Source) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, s := range sources {
		if err := cw.Write([]string{s.Name, s.Repository, s.Kingdom, s.Tag, s.URL}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
