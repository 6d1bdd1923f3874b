package transform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/brensch/dwcsync/internal/dwca"
	"github.com/brensch/dwcsync/internal/util"
)

var kingdomSep = regexp.MustCompile(`, ?`)

// OccurrenceContext carries the catalog labels stamped on every occurrence
// of one dataset.
type OccurrenceContext struct {
	DatasetID  string
	Repository string
	// Kingdoms is the catalog's comma separated kingdom label.
	Kingdoms string
}

// Transform adapts Occurrence to the sync controller. No entry is dropped.
func (c OccurrenceContext) Transform(e dwca.Entry) (map[string]any, bool) {
	return Occurrence(e, c), true
}

// Occurrence builds the stored document for one occurrence record. Computed
// fields are written first so that fields present in the record win.
func Occurrence(e dwca.Entry, c OccurrenceContext) map[string]any {
	src := e.Doc
	canonical := CanonicalName(src)
	flatSource := canonical
	if s, ok := src["scientificName"].(string); ok {
		flatSource = s
	}

	fields := make(map[string]any, len(src)+1)
	for k, v := range src {
		fields[k] = v
	}
	if p, ok := geoPoint(src); ok {
		fields["geoPoint"] = p
	}
	coerceInt(fields, "year", func(n int) bool { return n > 0 })
	coerceInt(fields, "month", func(n int) bool { return n >= 1 && n <= 12 })
	coerceInt(fields, "day", func(n int) bool { return n >= 1 && n <= 31 })
	applyEventDate(fields)

	doc := map[string]any{
		"iptId":              c.DatasetID,
		"ipt":                c.Repository,
		"canonicalName":      canonical,
		"iptKingdoms":        kingdomSep.Split(c.Kingdoms, -1),
		"flatScientificName": FlatName(flatSource),
	}
	for k, v := range fields {
		doc[k] = v
	}
	return doc
}

// geoPoint returns a GeoJSON point when both coordinates are numeric and in
// range.
func geoPoint(doc map[string]any) (map[string]any, bool) {
	latRaw, lonRaw := stringField(doc, "decimalLatitude"), stringField(doc, "decimalLongitude")
	if latRaw == "" || lonRaw == "" {
		return nil, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	if err != nil {
		return nil, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if err != nil {
		return nil, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, false
	}
	return map[string]any{
		"type":        "Point",
		"coordinates": []float64{lon, lat},
	}, true
}

// coerceInt replaces a string field by its leading integer when valid
// accepts it. Anything else is left untouched.
func coerceInt(doc map[string]any, key string, valid func(int) bool) {
	s, ok := doc[key].(string)
	if !ok || s == "" {
		return
	}
	n, ok := leadingInt(s)
	if ok && valid(n) {
		doc[key] = n
	}
}

// leadingInt parses the optionally signed decimal integer at the start of
// s, ignoring leading white space and any trailing text.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeftFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// applyEventDate converts a parseable eventDate to a time and fills any
// missing or non-numeric year, month and day from it.
func applyEventDate(doc map[string]any) {
	raw, ok := doc["eventDate"].(string)
	if !ok || raw == "" {
		return
	}
	t, err := util.ParseEventDate(raw)
	if err != nil {
		return
	}
	if missingNumber(doc["year"]) {
		doc["year"] = t.Year()
	}
	if missingNumber(doc["month"]) {
		doc["month"] = int(t.Month())
	}
	if missingNumber(doc["day"]) {
		doc["day"] = t.Day()
	}
	doc["eventDate"] = t
}

// missingNumber reports whether v is absent, zero or not a number.
func missingNumber(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case int:
		return n == 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return err != nil || f == 0
	default:
		return true
	}
}
