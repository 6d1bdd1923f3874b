package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/dwcsync/internal/dwca"
)

const taxonMeta = `<archive xmlns="http://rs.tdwg.org/dwc/text/">
  <core><files><location>taxon.txt</location></files>
    <id index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/scientificName"/>
    <field index="2" term="http://rs.tdwg.org/dwc/terms/taxonRank"/>
    <field index="3" term="http://rs.tdwg.org/dwc/terms/genus"/>
    <field index="4" term="http://rs.tdwg.org/dwc/terms/specificEpithet"/>
    <field index="5" term="http://rs.tdwg.org/dwc/terms/higherClassification"/>
    <field index="6" term="http://rs.tdwg.org/dwc/terms/kingdom"/>
  </core>
  <extension><files><location>distribution.txt</location></files>
    <coreid index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/locationID"/>
    <field index="2" term="http://rs.tdwg.org/dwc/terms/establishmentMeans"/>
    <field index="3" term="http://rs.tdwg.org/dwc/terms/occurrenceRemarks"/>
    <field index="4" term="http://rs.tdwg.org/dwc/terms/locality"/>
    <field index="5" term="http://rs.tdwg.org/dwc/terms/countryCode"/>
  </extension>
  <extension><files><location>resourcerelationship.txt</location></files>
    <coreid index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/relatedResourceID"/>
    <field index="2" term="http://rs.tdwg.org/dwc/terms/relationshipOfResource"/>
  </extension>
  <extension><files><location>speciesprofile.txt</location></files>
    <coreid index="0"/>
    <field index="1" term="http://rs.gbif.org/terms/1.0/lifeForm"/>
  </extension>
  <extension><files><location>vernacularname.txt</location></files>
    <coreid index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/vernacularName"/>
    <field index="2" term="http://purl.org/dc/terms/language"/>
  </extension>
</archive>`

const taxonCore = "id\tscientificName\ttaxonRank\tgenus\tspecificEpithet\thigherClassification\tkingdom\n" +
	"t1\tAbies alba Mill.\tESPECIE\tAbies\talba\tPlantae;Pinophyta;Pinales\tPlantae\n" +
	"t2\tAbies\tGENERO\tAbies\t\tPlantae;Pinophyta\tPlantae\n" +
	"t3\tAbies pectinata DC.\tESPECIE\tAbies\tpectinata\tPlantae\tPlantae\n"

const taxonDistribution = "id\tlocationID\testablishmentMeans\toccurrenceRemarks\tlocality\tcountryCode\n" +
	"t1\tBR-SP\tNATIVA\t{\"endemism\":\"Endemica\",\"phytogeographicDomain\":[\"Mata Atlântica\"]}\tSão Paulo;Paraná\tBR;AR\n" +
	"t1\tBR-MG\tNATIVA\t{\"endemism\":\"Endemica\"}\tMinas\tBR\n"

const taxonRelationship = "id\trelatedResourceID\trelationshipOfResource\n" +
	"t1\tt3\tSINONIMO_HETEROTIPICO\n" +
	"t1\tt404\tSINONIMO_BASIONIMO\n"

const taxonProfile = "id\tlifeForm\n" +
	"t1\t{\"lifeForm\":[\"Arvore\"],\"vegetationType\":[\"Floresta\"]}\n"

const taxonVernacular = "id\tvernacularName\tlanguage\n" +
	"t1\tPinheiro Branco\tPORTUGUES\n"

func loadTaxa(t *testing.T) *dwca.Records {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"meta.xml":                 taxonMeta,
		"taxon.txt":                taxonCore,
		"distribution.txt":         taxonDistribution,
		"resourcerelationship.txt": taxonRelationship,
		"speciesprofile.txt":       taxonProfile,
		"vernacularname.txt":       taxonVernacular,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	desc, err := dwca.ParseDescriptor(strings.NewReader(taxonMeta))
	require.NoError(t, err)
	rs, err := dwca.BuildRecords(context.Background(), dir, desc, nil)
	require.NoError(t, err)
	return rs
}

func TestTaxaRankFilter(t *testing.T) {
	entries := Taxa(loadTaxa(t), Flora)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"t1", "t3"}, ids)
}

func TestTaxaFlora(t *testing.T) {
	doc := Taxa(loadTaxa(t), Flora)[0].Doc

	assert.Equal(t, map[string]any{
		"origin":                 "NATIVA",
		"Endemism":               "Endemica",
		"phytogeographicDomains": []any{"Mata Atlântica"},
		"occurrence":             []string{"BR-MG", "BR-SP"},
		"vegetationType":         []any{"Floresta"},
	}, doc["distribution"])

	assert.Equal(t, map[string]any{"lifeForm": []any{"Arvore"}}, doc["speciesprofile"].(map[string]any)["lifeForm"])
	assert.NotContains(t, doc, "resourcerelationship")
	assert.Equal(t, []any{
		map[string]any{"taxonID": "t3", "scientificName": "Abies pectinata DC.", "taxonomicStatus": "SINONIMO_HETEROTIPICO"},
		map[string]any{"taxonID": "t404", "taxonomicStatus": "SINONIMO_BASIONIMO"},
	}, doc["othernames"])
	assert.Equal(t, "Pinophyta", doc["higherClassification"])
	assert.Equal(t, "Plantae", doc["kingdom"])
	assert.Equal(t, "Abies alba", doc["canonicalName"])
	assert.Equal(t, "abiesalbamill", doc["flatScientificName"])

	vern := doc["vernacularname"].([]any)[0].(map[string]any)
	assert.Equal(t, "pinheiro-branco", vern["vernacularName"])
	assert.Equal(t, "Portugues", vern["language"])
}

func TestTaxaFauna(t *testing.T) {
	entries := Taxa(loadTaxa(t), Fauna)
	doc := entries[0].Doc

	assert.Equal(t, map[string]any{
		"origin":      "NATIVA",
		"occurrence":  []string{"São Paulo", "Paraná"},
		"countryCode": []string{"BR", "AR"},
	}, doc["distribution"])
	assert.Equal(t, "Animalia", doc["kingdom"])
	// Fauna keeps the species profile rows untouched.
	assert.IsType(t, []any{}, doc["speciesprofile"])

	// A classification without a second segment is kept as null.
	hc, ok := entries[1].Doc["higherClassification"]
	assert.True(t, ok)
	assert.Nil(t, hc)
}

func TestTaxonSet(t *testing.T) {
	s, err := ParseTaxonSet("FLORA")
	require.NoError(t, err)
	assert.Equal(t, Flora, s)
	_, err = ParseTaxonSet("fungi")
	assert.Error(t, err)

	assert.Equal(t, map[string]any{"kingdom": "Animalia"}, Fauna.DeleteFilter())
	assert.Contains(t, Flora.DeleteFilter(), "$or")
	assert.Equal(t, map[string]any{"ipt": "flora", "set": "flora"}, Flora.Labels())
}
