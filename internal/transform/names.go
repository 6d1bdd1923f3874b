// Package transform reshapes archive records into the documents stored for
// occurrence and taxon datasets.
package transform

import (
	"strings"
	"unicode"
)

// canonicalParts are the name fields joined into canonicalName.
var canonicalParts = []string{
	"genus",
	"genericName",
	"subgenus",
	"infragenericEpithet",
	"specificEpithet",
	"infraspecificEpithet",
	"cultivarEpiteth",
}

// CanonicalName joins the non-empty name parts of doc with spaces.
func CanonicalName(doc map[string]any) string {
	parts := make([]string, 0, len(canonicalParts))
	for _, k := range canonicalParts {
		if s, ok := doc[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// FlatName removes every character outside [a-zA-Z0-9] and lower-cases the
// rest.
func FlatName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}
