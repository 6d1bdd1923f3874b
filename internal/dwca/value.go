package dwca

import (
	"encoding/json"
	"strings"
)

// Value is a single cell of a data file. A raw value starting with "{"
// that parses as JSON is Structured; everything else is a String.
type Value struct {
	raw        string
	structured any
	isJSON     bool
}

// ParseValue classifies a raw cell once.
func ParseValue(raw string) Value {
	if strings.HasPrefix(raw, "{") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return Value{raw: raw, structured: v, isJSON: true}
		}
	}
	return Value{raw: raw}
}

// StringValue returns a String value without JSON detection.
func StringValue(s string) Value {
	return Value{raw: s}
}

// IsStructured reports whether the cell held a JSON document.
func (v Value) IsStructured() bool {
	return v.isJSON
}

// String returns the raw cell text.
func (v Value) String() string {
	return v.raw
}

// Any returns the parsed JSON document for structured values and the raw
// string otherwise.
func (v Value) Any() any {
	if v.isJSON {
		return v.structured
	}
	return v.raw
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// Row maps field names to cell values.
type Row map[string]Value

// Document converts the row to plain values.
func (r Row) Document() map[string]any {
	doc := make(map[string]any, len(r))
	for k, v := range r {
		doc[k] = v.Any()
	}
	return doc
}
