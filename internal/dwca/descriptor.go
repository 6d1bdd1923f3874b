package dwca

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// DescriptorFile is the archive's structural descriptor.
	DescriptorFile = "meta.xml"
	// KeyField marks the key column in FileSpec.Fields.
	KeyField = "INDEX"
)

// FileSpec describes one data file of an archive.
type FileSpec struct {
	// Location is the file path relative to the archive root.
	Location string
	// Name is the base name of Location without its extension. Extension
	// rows are attached to records under this name.
	Name string
	// Fields holds, per column position, the short field name, KeyField at
	// KeyIndex, or "" for unassigned columns.
	Fields   []string
	KeyIndex int
}

// Key returns the key column of a split data line, or "" when the line is
// too short to have one.
func (f FileSpec) Key(values []string) string {
	if f.KeyIndex < len(values) {
		return values[f.KeyIndex]
	}
	return ""
}

// Row builds the non-empty named cells of a split data line. Missing
// trailing columns are absent. blank is true when every non-key value is
// empty.
func (f FileSpec) Row(values []string) (row Row, blank bool) {
	row = make(Row)
	blank = true
	for i, v := range values {
		if i == f.KeyIndex || v == "" {
			continue
		}
		blank = false
		if i >= len(f.Fields) {
			continue
		}
		name := f.Fields[i]
		if name == "" || name == KeyField {
			continue
		}
		row[name] = ParseValue(v)
	}
	return row, blank
}

// Descriptor is the parsed structure of meta.xml.
type Descriptor struct {
	Core       FileSpec
	Extensions []FileSpec
}

type metaArchive struct {
	XMLName    xml.Name   `xml:"archive"`
	Core       *metaFile  `xml:"core"`
	Extensions []metaFile `xml:"extension"`
}

type metaFile struct {
	Location string      `xml:"files>location"`
	ID       *metaIndex  `xml:"id"`
	CoreID   *metaIndex  `xml:"coreid"`
	Fields   []metaField `xml:"field"`
}

type metaIndex struct {
	Index int `xml:"index,attr"`
}

type metaField struct {
	Index *int   `xml:"index,attr"`
	Term  string `xml:"term,attr"`
}

// LoadDescriptor reads meta.xml from an unpacked archive directory.
func LoadDescriptor(dir string) (*Descriptor, error) {
	p := filepath.Join(dir, DescriptorFile)
	f, err := os.Open(p)
	if err != nil {
		return nil, NewCorruptArchiveError(p, err)
	}
	defer f.Close()

	desc, err := ParseDescriptor(f)
	if err != nil {
		return nil, NewCorruptArchiveError(p, err)
	}
	return desc, nil
}

// ParseDescriptor decodes a meta.xml document.
func ParseDescriptor(r io.Reader) (*Descriptor, error) {
	var meta metaArchive
	if err := xml.NewDecoder(r).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if meta.Core == nil {
		return nil, fmt.Errorf("descriptor has no core element")
	}

	core, err := meta.Core.spec(meta.Core.ID, "core")
	if err != nil {
		return nil, err
	}
	desc := &Descriptor{Core: core}
	for i := range meta.Extensions {
		ext, err := meta.Extensions[i].spec(meta.Extensions[i].CoreID, fmt.Sprintf("extension %d", i))
		if err != nil {
			return nil, err
		}
		desc.Extensions = append(desc.Extensions, ext)
	}
	return desc, nil
}

func (m metaFile) spec(key *metaIndex, label string) (FileSpec, error) {
	loc := strings.TrimSpace(m.Location)
	if loc == "" {
		return FileSpec{}, fmt.Errorf("%s has no files/location", label)
	}
	if key == nil {
		return FileSpec{}, fmt.Errorf("%s has no key column", label)
	}
	if key.Index < 0 {
		return FileSpec{}, fmt.Errorf("%s has negative key index %d", label, key.Index)
	}

	size := key.Index + 1
	for _, f := range m.Fields {
		if f.Index != nil && *f.Index+1 > size {
			size = *f.Index + 1
		}
	}
	fields := make([]string, size)
	for _, f := range m.Fields {
		// Fields without an index carry constant defaults and have no column.
		if f.Index == nil || *f.Index < 0 {
			continue
		}
		fields[*f.Index] = termName(f.Term)
	}
	// The key position renders as INDEX even if a field term shares it.
	fields[key.Index] = KeyField

	base := path.Base(strings.ReplaceAll(loc, "\\", "/"))
	return FileSpec{
		Location: loc,
		Name:     strings.TrimSuffix(base, path.Ext(base)),
		Fields:   fields,
		KeyIndex: key.Index,
	}, nil
}

// termName returns the last path segment of a term URI.
func termName(term string) string {
	term = strings.TrimSpace(term)
	if i := strings.LastIndex(term, "/"); i >= 0 {
		return term[i+1:]
	}
	return term
}

// resolve returns the absolute path of a data file inside dir, rejecting
// locations that escape it.
func (f FileSpec) resolve(dir string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(f.Location))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", NewCorruptArchiveError(f.Location, fmt.Errorf("data file escapes archive root"))
	}
	return p, nil
}
