package transform

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/brensch/dwcsync/internal/store"
)

func single(field string) store.IndexSpec {
	return store.IndexSpec{Name: field, Keys: bson.D{{Key: field, Value: 1}}}
}

// OccurrenceIndexes are created on the occurrence collection.
var OccurrenceIndexes = []store.IndexSpec{
	single("scientificName"),
	single("iptId"),
	single("ipt"),
	single("canonicalName"),
	single("flatScientificName"),
	single("iptKingdoms"),
	single("year"),
	single("month"),
	single("eventDate"),
}

// DatasetIndexes are created on the dataset collection.
var DatasetIndexes = []store.IndexSpec{
	single("tag"),
	single("ipt"),
}

// TaxonIndexes are created on the taxa collection.
var TaxonIndexes = []store.IndexSpec{
	single("scientificName"),
	single("kingdom"),
	single("family"),
	single("genus"),
	{Name: "taxonKingdom", Keys: bson.D{{Key: "taxonID", Value: 1}, {Key: "kingdom", Value: 1}}},
	single("canonicalName"),
	single("flatScientificName"),
}
