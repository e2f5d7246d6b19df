// In-memory implementation of the VectorStore contract. Rows live in a
// map; the ANN path runs over an HNSW index with a cosine surface,
// which matches the L2 ordering of the unit-length vectors the engine
// stores. Used by tests and throwaway instances.
package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	kvector "github.com/kshard/vector"

	"github.com/glottech/hybridtm/internal/entry"
)

// MemStore is an in-memory VectorStore.
type MemStore struct {
	mu   sync.RWMutex
	dim  int
	rows map[string]*entry.Entry

	// HNSW has no delete; upserts insert a fresh key and searches skip
	// keys that no longer map to a live row.
	index   *hnsw.HNSW[vector.VF32]
	idToKey map[string]uint32
	keyToID map[uint32]string
	nextKey uint32
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rows:    make(map[string]*entry.Entry),
		idToKey: make(map[string]uint32),
		keyToID: make(map[uint32]string),
	}
}

// CreateTable fixes the dimension and initializes the ANN index.
func (s *MemStore) CreateTable(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dim <= 0 {
		return fmt.Errorf("store: invalid dimension %d", dim)
	}
	if s.dim != 0 {
		if s.dim != dim {
			return fmt.Errorf("%w: table has dimension %d, requested %d",
				ErrDimensionMismatch, s.dim, dim)
		}
		return nil
	}

	s.dim = dim
	s.index = hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
	return nil
}

// Dimension returns the dimension fixed by CreateTable, or 0.
func (s *MemStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// VectorSearch searches the HNSW index, drops stale keys and rows the
// predicate rejects, and reports exact L2 distances.
func (s *MemStore) VectorSearch(_ context.Context, vec []float32, pred Predicate, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim == 0 {
		return nil, ErrNoTable
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query vector has length %d, table dimension %d",
			ErrDimensionMismatch, len(vec), s.dim)
	}
	if len(s.rows) == 0 {
		return nil, nil
	}

	pool := limit
	if limit <= 0 || pool > len(s.rows) {
		pool = len(s.rows)
	}
	// Oversample the ANN pool: stale keys and filtered rows fall out below.
	k := s.index.Size()
	ef := 2 * k
	if ef < 100 {
		ef = 100
	}

	query := vector.VF32{Vec: vec}
	results := s.index.Search(query, k, ef)

	var hits []Hit
	for _, r := range results {
		id, ok := s.keyToID[r.Key]
		if !ok || s.idToKey[id] != r.Key {
			continue
		}
		row, ok := s.rows[id]
		if !ok {
			continue
		}
		if pred != nil && !pred.Matches(row) {
			continue
		}
		hits = append(hits, Hit{Entry: row.Clone(), Distance: euclidean(vec, row.Vector)})
		if len(hits) == pool {
			break
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits, nil
}

// Query is a filter-only scan ordered by id.
func (s *MemStore) Query(_ context.Context, pred Predicate, limit int) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rows))
	for id, row := range s.rows {
		if pred == nil || pred.Matches(row) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*entry.Entry, len(ids))
	for i, id := range ids {
		out[i] = s.rows[id].Clone()
	}
	return out, nil
}

// UpsertBatch stores rows and indexes their vectors.
func (s *MemStore) UpsertBatch(_ context.Context, rows []*entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		return ErrNoTable
	}
	for _, row := range rows {
		if len(row.Vector) != s.dim {
			return fmt.Errorf("%w: entry %s has vector length %d, table dimension %d",
				ErrDimensionMismatch, row.ID, len(row.Vector), s.dim)
		}
	}

	for _, row := range rows {
		clone := row.Clone()
		s.rows[clone.ID] = clone

		s.nextKey++
		key := s.nextKey
		s.idToKey[clone.ID] = key
		s.keyToID[key] = clone.ID
		s.index.Insert(vector.VF32{Key: key, Vec: clone.Vector})
	}
	return nil
}

// DeleteWhere removes matching rows. Their index keys become stale and
// are skipped during search.
func (s *MemStore) DeleteWhere(_ context.Context, pred Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, row := range s.rows {
		if pred.Matches(row) {
			delete(s.rows, id)
			if key, ok := s.idToKey[id]; ok {
				delete(s.idToKey, id)
				delete(s.keyToID, key)
			}
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored rows.
func (s *MemStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error {
	return nil
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Compile-time interface check
var _ VectorStore = (*MemStore)(nil)
