package db

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRoundTrip(t *testing.T) {
	conn, err := Open("")
	require.NoError(t, err)
	defer conn.Close()
	// Re-initializing an existing schema is a no-op.
	require.NoError(t, InitializeSchema(conn))

	ctx := context.Background()
	l := NewLedger(conn, nil)
	require.NotEmpty(t, l.RunID())

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d := 1500 * time.Millisecond
	l.LogEvent(ctx, Event{Source: "jbrj:aves", Event: EventDownloadStart, Timestamp: base})
	l.LogEvent(ctx, Event{Source: "jbrj:aves", DatasetID: "ds-1", Event: EventSynced, Timestamp: base.Add(time.Minute), Message: "inserted 3", Duration: &d})
	l.LogEvent(ctx, Event{Source: "jbrj:peixes", Event: EventGone, Timestamp: base})

	ev, found, err := LatestEvent(ctx, conn, "jbrj:aves")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, EventSynced, ev.Event)
	assert.Equal(t, "ds-1", ev.DatasetID)
	assert.Equal(t, l.RunID(), ev.RunID)
	require.NotNil(t, ev.Duration)
	assert.Equal(t, d, *ev.Duration)

	_, found, err = LatestEvent(ctx, conn, "nope:nope")
	require.NoError(t, err)
	assert.False(t, found)

	var buf bytes.Buffer
	require.NoError(t, DisplayHistory(ctx, conn, &buf, "jbrj:aves", "", 10))
	out := buf.String()
	assert.Contains(t, out, "Displayed 2 records.")
	assert.Contains(t, out, "(Dataset: ds-1)")
	assert.NotContains(t, out, "jbrj:peixes")

	buf.Reset()
	require.NoError(t, DisplayHistory(ctx, conn, &buf, "", EventGone, 10))
	assert.Contains(t, buf.String(), "Displayed 1 records.")
}

func TestNilLedgerDiscards(t *testing.T) {
	var l *Ledger
	l.LogEvent(context.Background(), Event{Source: "x", Event: EventError})
	assert.Equal(t, "", l.RunID())
}
