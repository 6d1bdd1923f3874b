package dwca

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMeta = `<?xml version="1.0" encoding="UTF-8"?>
<archive xmlns="http://rs.tdwg.org/dwc/text/" metadata="eml.xml">
  <core encoding="UTF-8" fieldsTerminatedBy="\t" linesTerminatedBy="\n" ignoreHeaderLines="1" rowType="http://rs.tdwg.org/dwc/terms/Occurrence">
    <files><location>occurrence.txt</location></files>
    <id index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/scientificName"/>
    <field index="2" term="http://rs.tdwg.org/dwc/terms/dynamicProperties"/>
    <field term="http://rs.tdwg.org/dwc/terms/country" default="Brazil"/>
  </core>
  <extension encoding="UTF-8" rowType="http://rs.gbif.org/terms/1.0/Multimedia">
    <files><location>multimedia.txt</location></files>
    <coreid index="0"/>
    <field index="1" term="http://purl.org/dc/terms/identifier"/>
    <field index="2" term="http://purl.org/dc/terms/format"/>
  </extension>
  <extension encoding="UTF-8" rowType="http://rs.gbif.org/terms/1.0/VernacularName">
    <files><location>data/vernacularname.txt</location></files>
    <coreid index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/vernacularName"/>
  </extension>
</archive>`

const sampleEML = `<?xml version="1.0" encoding="UTF-8"?>
<eml:eml xmlns:eml="eml://ecoinformatics.org/eml-2.1.1" packageId="http://ipt.example.org/resource?id=birds/v1.4" system="http://gbif.org" xml:lang="en">
  <dataset>
    <alternateIdentifier>urn:uuid:1234</alternateIdentifier>
    <alternateIdentifier>http://ipt.example.org/resource?r=birds</alternateIdentifier>
    <title xml:lang="en">Birds of the Cerrado</title>
    <creator>
      <individualName><givenName>Ana</givenName><surName>Silva</surName></individualName>
    </creator>
  </dataset>
  <additionalMetadata><metadata/></additionalMetadata>
</eml:eml>`

const sampleCore = "id\tscientificName\tdynamicProperties\n" +
	"occ-2\tPuma concolor\t{\"sex\":\"female\"}\n" +
	"\torphan\t\n" +
	"occ-1\tTapirus terrestris\t{broken\n" +
	"occ-3\t\t\r\n"

const sampleMultimedia = "coreid\tidentifier\tformat\n" +
	"occ-1\thttp://img/1.jpg\timage/jpeg\n" +
	"occ-1\thttp://img/2.jpg\t\n" +
	"occ-9\thttp://img/9.jpg\timage/png\n" +
	"occ-2\t\t\n" +
	"occ-2\thttp://img/3.jpg\timage/png"

const sampleVernacular = "coreid\tvernacularName\n" +
	"occ-2\tonça-parda\n" +
	"occ-2\tsuçuarana\n"

func sampleFiles() map[string]string {
	return map[string]string{
		"meta.xml":                sampleMeta,
		"eml.xml":                 sampleEML,
		"occurrence.txt":          sampleCore,
		"multimedia.txt":          sampleMultimedia,
		"data/vernacularname.txt": sampleVernacular,
	}
}

// writeDir writes files into a fresh directory and returns it.
func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

// writeZip packs files into a zip archive and returns its path.
func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}
