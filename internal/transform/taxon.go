package transform

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/brensch/dwcsync/internal/dwca"
)

// TaxonSet names one of the checklists stored in the taxa collection.
type TaxonSet string

const (
	Fauna TaxonSet = "fauna"
	Flora TaxonSet = "flora"
)

// ParseTaxonSet accepts "fauna" or "flora".
func ParseTaxonSet(s string) (TaxonSet, error) {
	switch TaxonSet(strings.ToLower(s)) {
	case Fauna:
		return Fauna, nil
	case Flora:
		return Flora, nil
	}
	return "", fmt.Errorf("unknown taxon set %q (want fauna or flora)", s)
}

// DeleteFilter selects the taxa replaced when the set is re-ingested.
func (s TaxonSet) DeleteFilter() map[string]any {
	if s == Fauna {
		return map[string]any{"kingdom": "Animalia"}
	}
	return map[string]any{"$or": []any{
		map[string]any{"kingdom": "Plantae"},
		map[string]any{"kingdom": "Fungi"},
	}}
}

// Labels are stored on the dataset record of the set.
func (s TaxonSet) Labels() map[string]any {
	return map[string]any{"ipt": string(s), "set": string(s)}
}

// speciesRanks are the taxon ranks kept in the taxa collection.
var speciesRanks = map[string]bool{
	"ESPECIE":     true,
	"VARIEDADE":   true,
	"FORMA":       true,
	"SUB_ESPECIE": true,
}

// Taxa reshapes the species-level records of a checklist archive into taxon
// documents, in record order.
func Taxa(rs *dwca.Records, set TaxonSet) []dwca.Entry {
	all := rs.All()
	names := make(map[string]string, len(all))
	for _, r := range all {
		names[r.ID] = r.Fields["scientificName"].String()
	}

	out := make([]dwca.Entry, 0, len(all))
	for _, r := range all {
		if !speciesRanks[r.Fields["taxonRank"].String()] {
			continue
		}
		out = append(out, dwca.Entry{ID: r.ID, Doc: taxon(r.Document(), set, names)})
	}
	return out
}

func taxon(doc map[string]any, set TaxonSet, names map[string]string) map[string]any {
	profiles := rows(doc["speciesprofile"])

	if dist := rows(doc["distribution"]); dist != nil {
		if set == Fauna {
			doc["distribution"] = faunaDistribution(dist)
		} else {
			doc["distribution"] = floraDistribution(dist, profiles)
		}
	}

	if rels := rows(doc["resourcerelationship"]); rels != nil {
		others := make([]any, 0, len(rels))
		for _, rel := range rels {
			related := stringField(rel, "relatedResourceID")
			other := map[string]any{
				"taxonID":         related,
				"taxonomicStatus": rel["relationshipOfResource"],
			}
			if name, ok := names[related]; ok {
				other["scientificName"] = name
			}
			others = append(others, other)
		}
		doc["othernames"] = others
		delete(doc, "resourcerelationship")
	}

	if set == Flora && len(profiles) > 0 {
		doc["speciesprofile"] = withoutVegetationType(profiles[0])
	}

	// Without a second segment the classification is stored as null.
	if hc, ok := doc["higherClassification"].(string); ok {
		if parts := strings.Split(hc, ";"); len(parts) > 1 {
			doc["higherClassification"] = parts[1]
		} else {
			doc["higherClassification"] = nil
		}
	}

	for _, v := range rows(doc["vernacularname"]) {
		if name, ok := v["vernacularName"].(string); ok {
			v["vernacularName"] = strings.ReplaceAll(strings.ToLower(name), " ", "-")
		}
		if lang, ok := v["language"].(string); ok {
			v["language"] = capitalize(lang)
		}
	}

	if set == Fauna {
		doc["kingdom"] = "Animalia"
	}
	doc["canonicalName"] = CanonicalName(doc)
	doc["flatScientificName"] = FlatName(stringField(doc, "scientificName"))
	return doc
}

func faunaDistribution(dist []map[string]any) map[string]any {
	first := dist[0]
	out := map[string]any{"origin": first["establishmentMeans"]}
	if s, ok := first["locality"].(string); ok {
		out["occurrence"] = strings.Split(s, ";")
	}
	if s, ok := first["countryCode"].(string); ok {
		out["countryCode"] = strings.Split(s, ";")
	}
	return out
}

func floraDistribution(dist, profiles []map[string]any) map[string]any {
	first := dist[0]
	out := map[string]any{"origin": first["establishmentMeans"]}
	if remarks, ok := first["occurrenceRemarks"].(map[string]any); ok {
		out["Endemism"] = remarks["endemism"]
		out["phytogeographicDomains"] = remarks["phytogeographicDomain"]
	}
	locations := make([]string, 0, len(dist))
	for _, d := range dist {
		locations = append(locations, stringField(d, "locationID"))
	}
	sort.Strings(locations)
	out["occurrence"] = locations
	if len(profiles) > 0 {
		if lf, ok := profiles[0]["lifeForm"].(map[string]any); ok {
			if vt, ok := lf["vegetationType"]; ok {
				out["vegetationType"] = vt
			}
		}
	}
	return out
}

// withoutVegetationType copies a species profile, dropping
// lifeForm.vegetationType.
func withoutVegetationType(profile map[string]any) map[string]any {
	out := make(map[string]any, len(profile))
	for k, v := range profile {
		out[k] = v
	}
	if lf, ok := profile["lifeForm"].(map[string]any); ok {
		trimmed := make(map[string]any, len(lf))
		for k, v := range lf {
			if k != "vegetationType" {
				trimmed[k] = v
			}
		}
		out["lifeForm"] = trimmed
	}
	return out
}

// rows returns an extension array as row documents, or nil when absent.
func rows(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
