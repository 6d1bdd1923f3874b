package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMemoryDeleteFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.InsertMany(ctx, "taxa", []any{
		map[string]any{"kingdom": "Plantae", "n": 1},
		bson.M{"kingdom": "Fungi", "n": 2},
		map[string]any{"kingdom": "Animalia", "n": 3},
	})
	require.NoError(t, err)

	n, err := m.DeleteMany(ctx, "taxa", bson.M{"$or": bson.A{bson.M{"kingdom": "Plantae"}, bson.M{"kingdom": "Fungi"}}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	docs := m.Documents("taxa")
	require.Len(t, docs, 1)
	assert.Equal(t, "Animalia", docs[0]["kingdom"])

	n, err = m.DeleteMany(ctx, "taxa", map[string]any{"kingdom": "Animalia"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, m.Documents("taxa"))
}

func TestMemoryDatasets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, found, err := m.DatasetVersion(ctx, "ds")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.UpsertDataset(ctx, "ds", map[string]any{"version": "1", "tag": "birds"}))
	require.NoError(t, m.UpsertDataset(ctx, "ds", map[string]any{"version": "2"}))

	v, found, err := m.DatasetVersion(ctx, "ds")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2", v)

	rec, ok := m.Dataset("ds")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"_id": "ds", "version": "2", "tag": "birds"}, rec)
}
