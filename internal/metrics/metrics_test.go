package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SourceOutcome("synced")
	m.SourceOutcome("synced")
	m.SourceOutcome("gone")
	m.Documents("ocorrencias", 10, 4)
	m.ChunkSplit(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sources.WithLabelValues("synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sources.WithLabelValues("gone")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.inserted.WithLabelValues("ocorrencias")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.deleted.WithLabelValues("ocorrencias")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.splits))
}

func TestWriteToTextfile(t *testing.T) {
	m := New()
	m.SourceOutcome("synced")
	m.RunFinished(12, 1700000000)

	p := filepath.Join(t.TempDir(), "dwcsync.prom")
	require.NoError(t, m.WriteToTextfile(p))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dwcsync_sources_total{outcome="synced"} 1`)
	assert.Contains(t, string(data), "dwcsync_last_run_finish_timestamp_seconds 1.7e+09")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SourceOutcome("synced")
	m.Documents("taxa", 1, 1)
	m.ChunkSplit(1)
	m.RunFinished(1, 1)
	assert.NoError(t, m.WriteToTextfile("/nonexistent/x.prom"))
}
