package orchestrator

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/dwcsync/internal/catalog"
	"github.com/brensch/dwcsync/internal/downloader"
	"github.com/brensch/dwcsync/internal/store"
	"github.com/brensch/dwcsync/internal/syncer"
)

const testMeta = `<archive xmlns="http://rs.tdwg.org/dwc/text/">
  <core><files><location>occurrence.txt</location></files>
    <id index="0"/>
    <field index="1" term="http://rs.tdwg.org/dwc/terms/scientificName"/>
    <field index="2" term="http://rs.tdwg.org/dwc/terms/year"/>
  </core>
</archive>`

func emlFor(id, version string) string {
	return fmt.Sprintf(`<eml:eml xmlns:eml="eml://x" packageId="%s/%s"><dataset><title>%s</title></dataset></eml:eml>`, id, version, id)
}

// archiveFor writes a zipped archive with two occurrences for dataset id.
func archiveFor(t *testing.T, id, version string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), id+".zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range map[string]string{
		"meta.xml":       testMeta,
		"eml.xml":        emlFor(id, version),
		"occurrence.txt": "id\tscientificName\tyear\n" + id + "-1\tPuma concolor\t1999\n" + id + "-2\tTapirus terrestris\t2001\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

type response struct {
	body string // EML body
	file string // archive path
	err  error
}

// fakeFetcher serves canned responses and counts requests per URL.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]response
	calls     map[string]int
	archives  []string
	jitter    bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string]response), calls: make(map[string]int)}
}

func (f *fakeFetcher) get(url string) (response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	r, ok := f.responses[url]
	return r, ok
}

func (f *fakeFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if f.jitter {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	}
	r, ok := f.get(url)
	if !ok {
		return nil, &downloader.RemoteUnavailableError{StatusCode: 500, URL: url}
	}
	return []byte(r.body), r.err
}

func (f *fakeFetcher) FetchToFile(ctx context.Context, url, path string) (int64, error) {
	r, ok := f.get(url)
	f.mu.Lock()
	f.archives = append(f.archives, url)
	f.mu.Unlock()
	if !ok {
		return 0, &downloader.RemoteUnavailableError{StatusCode: 500, URL: url}
	}
	if r.err != nil {
		return 0, r.err
	}
	data, err := os.ReadFile(r.file)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), os.WriteFile(path, data, 0o644)
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func src(i int, host, tag string) catalog.Source {
	return catalog.Source{Index: i, Name: tag, Repository: "repo", Kingdom: "Animalia, Plantae", Tag: tag, URL: host + "/ipt/"}
}

// serve registers an outdated or current source with the fetcher.
func serve(t *testing.T, f *fakeFetcher, s catalog.Source, version string) {
	f.responses[s.EMLURL()] = response{body: emlFor("ds-"+s.Tag, version)}
	f.responses[s.ArchiveURL()] = response{file: archiveFor(t, "ds-"+s.Tag, version)}
}

func deps(f *fakeFetcher, st syncer.Store, concurrency int) Deps {
	return Deps{
		Fetcher:     f,
		Controller:  syncer.NewController(st, syncer.Options{}, nil),
		Collection:  "ocorrencias",
		Concurrency: concurrency,
		BatchSize:   1,
	}
}

func TestRunHostSuspension(t *testing.T) {
	f := newFakeFetcher()
	st := store.NewMemory()
	ctx := context.Background()

	down0 := src(0, "http://down.example", "a")
	down1 := src(1, "http://down.example", "b")
	current := src(2, "http://up.example", "c")
	outdated := src(3, "http://up.example", "d")
	ignored := catalog.Source{Index: 4, Name: "no tag", Repository: "repo", URL: "http://up.example/ipt/"}

	f.responses[down0.EMLURL()] = response{err: &downloader.TimeoutError{Kind: downloader.TimeoutIdle, After: 10 * time.Second, URL: down0.EMLURL()}}
	serve(t, f, down1, "v1")
	serve(t, f, current, "v1")
	serve(t, f, outdated, "v2")
	require.NoError(t, st.UpsertDataset(ctx, "ds-c", map[string]any{"version": "v1"}))
	require.NoError(t, st.UpsertDataset(ctx, "ds-d", map[string]any{"version": "v1"}))

	report, err := Run(ctx, deps(f, st, 1), []catalog.Source{down0, down1, current, outdated, ignored})
	require.NoError(t, err)

	assert.Equal(t, 1, f.count(down0.EMLURL()))
	assert.Zero(t, f.count(down1.EMLURL()), "sources on a failed host are not contacted")
	assert.Equal(t, []string{"http://down.example"}, report.FailedHosts)

	outcomes := make([]Outcome, len(report.Results))
	for i, r := range report.Results {
		outcomes[i] = r.Outcome
	}
	assert.Equal(t, []Outcome{OutcomeFailed, OutcomeHostSkipped, OutcomeUpToDate, OutcomeSynced, OutcomeIgnored}, outcomes)

	synced := report.Results[3]
	assert.Equal(t, "v2", synced.Version)
	assert.Equal(t, 2, synced.Inserted)

	docs := st.Documents("ocorrencias")
	require.Len(t, docs, 2)
	assert.Equal(t, "ds-d", docs[0]["iptId"])
	assert.Equal(t, "repo", docs[0]["ipt"])
	assert.Equal(t, 1999, docs[0]["year"])
	assert.Equal(t, []string{"Animalia", "Plantae"}, docs[0]["iptKingdoms"])

	rec, ok := st.Dataset("ds-d")
	require.True(t, ok)
	assert.Equal(t, "v2", rec["version"])
	assert.Equal(t, "d", rec["tag"])
	assert.Equal(t, "repo", rec["ipt"])
	assert.Equal(t, "Animalia, Plantae", rec["kingdom"])
}

func TestRunPhaseBConnectivityMarksHost(t *testing.T) {
	f := newFakeFetcher()
	st := store.NewMemory()

	first := src(0, "http://flaky.example", "a")
	second := src(1, "http://flaky.example", "b")
	other := src(2, "http://ok.example", "c")
	serve(t, f, first, "v1")
	serve(t, f, second, "v1")
	serve(t, f, other, "v1")
	f.responses[first.ArchiveURL()] = response{err: &downloader.ConnectivityError{URL: first.ArchiveURL()}}

	report, err := Run(context.Background(), deps(f, st, 4), []catalog.Source{first, second, other})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	assert.Equal(t, OutcomeHostSkipped, report.Results[1].Outcome)
	assert.Equal(t, OutcomeSynced, report.Results[2].Outcome)
	assert.Zero(t, f.count(second.ArchiveURL()))
	assert.Equal(t, []string{"http://flaky.example"}, report.FailedHosts)
}

func TestRunNotFound(t *testing.T) {
	f := newFakeFetcher()
	st := store.NewMemory()

	goneEML := src(0, "http://h.example", "a")
	goneArchive := src(1, "http://h.example", "b")
	f.responses[goneEML.EMLURL()] = response{err: &downloader.RemoteUnavailableError{StatusCode: 404, URL: goneEML.EMLURL()}}
	serve(t, f, goneArchive, "v1")
	f.responses[goneArchive.ArchiveURL()] = response{err: &downloader.RemoteUnavailableError{StatusCode: 404, URL: goneArchive.ArchiveURL()}}

	report, err := Run(context.Background(), deps(f, st, 2), []catalog.Source{goneEML, goneArchive})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGone, report.Results[0].Outcome)
	assert.Equal(t, OutcomeGone, report.Results[1].Outcome)
	assert.Empty(t, report.FailedHosts)
	_, found := st.Dataset("ds-b")
	assert.False(t, found)
}

func TestRunPhaseBFollowsCatalogOrder(t *testing.T) {
	f := newFakeFetcher()
	f.jitter = true
	st := store.NewMemory()

	var sources []catalog.Source
	var want []string
	for i := range 12 {
		s := src(i, fmt.Sprintf("http://h%d.example", i%3), fmt.Sprintf("r%02d", i))
		serve(t, f, s, "v1")
		sources = append(sources, s)
		want = append(want, s.ArchiveURL())
	}

	report, err := Run(context.Background(), deps(f, st, 10), sources)
	require.NoError(t, err)
	assert.Equal(t, want, f.archives)
	assert.Equal(t, 12, report.Count(OutcomeSynced))
}

// failingStore rejects dataset upserts for one id.
type failingStore struct {
	*store.Memory
	failID string
}

func (s *failingStore) UpsertDataset(ctx context.Context, id string, fields map[string]any) error {
	if id == s.failID {
		return errors.New("not primary")
	}
	return s.Memory.UpsertDataset(ctx, id, fields)
}

func TestRunJoinsSyncErrorsAndContinues(t *testing.T) {
	f := newFakeFetcher()
	st := &failingStore{Memory: store.NewMemory(), failID: "ds-a"}

	a := src(0, "http://h.example", "a")
	b := src(1, "http://h.example", "b")
	serve(t, f, a, "v1")
	serve(t, f, b, "v1")

	report, err := Run(context.Background(), deps(f, st, 2), []catalog.Source{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo:a")
	assert.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	assert.Equal(t, OutcomeSynced, report.Results[1].Outcome)
	assert.Empty(t, report.FailedHosts)
}

func TestRunCancelled(t *testing.T) {
	f := newFakeFetcher()
	s := src(0, "http://h.example", "a")
	serve(t, f, s, "v1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, deps(f, store.NewMemory(), 1), []catalog.Source{s})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.archives)
}

func TestHostTracker(t *testing.T) {
	h := NewHostTracker()
	assert.False(t, h.Failed("http://a"))
	assert.True(t, h.MarkFailed("http://a"))
	assert.False(t, h.MarkFailed("http://a"))
	h.MarkFailed("http://b")
	assert.True(t, h.Failed("http://a"))
	assert.Equal(t, []string{"http://a", "http://b"}, h.Hosts())
}
