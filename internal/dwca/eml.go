package dwca

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MetadataFile is the archive's dataset metadata document.
const MetadataFile = "eml.xml"

// Dataset is the dataset-level metadata of an archive.
type Dataset struct {
	ID string
	// Version is opaque and compared by equality only.
	Version string
	// Fields holds every child of the metadata's dataset element, such as
	// title, creator and alternateIdentifier.
	Fields map[string]any
}

// LoadEML reads eml.xml from an unpacked archive directory.
func LoadEML(dir string) (*Dataset, error) {
	p := filepath.Join(dir, MetadataFile)
	f, err := os.Open(p)
	if err != nil {
		return nil, NewCorruptArchiveError(p, err)
	}
	defer f.Close()
	return ParseEML(f)
}

// ParseEML decodes an EML document into a Dataset. The root packageId is
// split on its last "/" into identifier and version.
func ParseEML(r io.Reader) (*Dataset, error) {
	root, err := decodeTree(r)
	if err != nil {
		return nil, NewCorruptArchiveError(MetadataFile, err)
	}

	var packageID string
	for _, a := range root.attrs {
		if a.Name.Local == "packageId" {
			packageID = strings.TrimSpace(a.Value)
			break
		}
	}
	id, version, err := SplitPackageID(packageID)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{ID: id, Version: version, Fields: map[string]any{}}
	for _, child := range root.children {
		if child.name != "dataset" {
			continue
		}
		switch v := child.value().(type) {
		case map[string]any:
			for k, val := range v {
				ds.Fields[k] = val
			}
		case string:
			if v != "" {
				ds.Fields["#text"] = v
			}
		}
		break
	}
	return ds, nil
}

// SplitPackageID splits "<id>/<version>" on the last slash.
func SplitPackageID(packageID string) (id, version string, err error) {
	i := strings.LastIndex(packageID, "/")
	if i <= 0 || i == len(packageID)-1 {
		return "", "", &MalformedIdentifierError{PackageID: packageID}
	}
	return packageID[:i], packageID[i+1:], nil
}

// xmlNode is a generic element tree used for metadata documents whose
// schema is not modelled.
type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

func decodeTree(r io.Reader) (*xmlNode, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var stack []*xmlNode
	var root *xmlNode
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return root, nil
}

// value renders an element: plain text when it has neither attributes nor
// children, otherwise a map with "@"-prefixed attributes, one key per child
// (repeated children become arrays) and "#text" for mixed content.
func (n *xmlNode) value() any {
	text := strings.TrimSpace(n.text.String())
	if len(n.attrs) == 0 && len(n.children) == 0 {
		return text
	}
	m := make(map[string]any, len(n.attrs)+len(n.children))
	for _, a := range n.attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		m["@"+a.Name.Local] = a.Value
	}
	for _, c := range n.children {
		v := c.value()
		switch existing := m[c.name].(type) {
		case nil:
			m[c.name] = v
		case []any:
			m[c.name] = append(existing, v)
		default:
			m[c.name] = []any{existing, v}
		}
	}
	if text != "" {
		m["#text"] = text
	}
	return m
}
