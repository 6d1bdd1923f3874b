package store

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Memory is an in-process document store used for dry runs. Filters
// support top-level equality and "$or" of equality filters.
type Memory struct {
	mu          sync.Mutex
	datasets    map[string]map[string]any
	collections map[string][]map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		datasets:    make(map[string]map[string]any),
		collections: make(map[string][]map[string]any),
	}
}

func (m *Memory) DatasetVersion(ctx context.Context, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return "", false, nil
	}
	v, _ := ds["version"].(string)
	return v, true, nil
}

func (m *Memory) UpsertDataset(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		ds = map[string]any{"_id": id}
		m.datasets[id] = ds
	}
	for k, v := range fields {
		ds[k] = v
	}
	return nil
}

// Dataset returns a copy of a stored dataset record.
func (m *Memory) Dataset(id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(ds))
	for k, v := range ds {
		out[k] = v
	}
	return out, true
}

func (m *Memory) DeleteMany(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collections[collection]
	kept := docs[:0]
	var deleted int64
	for _, d := range docs {
		if matches(d, filter) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	m.collections[collection] = kept
	return deleted, nil
}

func (m *Memory) InsertMany(ctx context.Context, collection string, docs []any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range docs {
		doc, err := toMap(d)
		if err != nil {
			return i, fmt.Errorf("insert into %s: %w", collection, err)
		}
		m.collections[collection] = append(m.collections[collection], doc)
	}
	return len(docs), nil
}

func (m *Memory) EnsureIndexes(ctx context.Context, collection string, specs []IndexSpec) error {
	return nil
}

// Documents returns the documents of a collection in insertion order.
func (m *Memory) Documents(collection string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.collections[collection]...)
}

func toMap(d any) (map[string]any, error) {
	switch v := d.(type) {
	case map[string]any:
		return v, nil
	case bson.M:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported document type %T", d)
	}
}

func matches(doc, filter map[string]any) bool {
	for k, want := range filter {
		if k == "$or" {
			var alts []any
			switch v := want.(type) {
			case []any:
				alts = v
			case bson.A:
				alts = v
			case []map[string]any:
				for _, a := range v {
					alts = append(alts, a)
				}
			}
			matched := false
			for _, alt := range alts {
				if f, err := toMap(alt); err == nil && matches(doc, f) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(doc[k], want) {
			return false
		}
	}
	return true
}
