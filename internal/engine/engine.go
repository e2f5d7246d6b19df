// Package engine exposes the public HTM operations: storing and
// deleting language entries, concordance search, monolingual semantic
// search and bilingual translation search with target pairing. One
// engine owns one embedder and one vector-store connection for its
// lifetime.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glottech/hybridtm/internal/embed"
	"github.com/glottech/hybridtm/internal/entry"
	"github.com/glottech/hybridtm/internal/logger"
	"github.com/glottech/hybridtm/internal/store"
)

// ErrNotFound is returned by lookups on absent canonical IDs.
var ErrNotFound = errors.New("engine: entry not found")

// Engine is one translation-memory instance. Writes are serialized
// per instance; reads may run concurrently and observe completed
// writes (last-writer-wins at the store level).
type Engine struct {
	name     string
	store    store.VectorStore
	embedder embed.Embedder

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Open wires an engine over its collaborators. If the store has no
// table yet, the embedder is probed once for the dimension and the
// table is created.
func Open(ctx context.Context, name string, st store.VectorStore, em embed.Embedder) (*Engine, error) {
	if st.Dimension() == 0 {
		dim, err := em.ProbeDimension(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine %s: failed to probe embedding dimension: %w", name, err)
		}
		if err := st.CreateTable(ctx, dim); err != nil {
			return nil, fmt.Errorf("engine %s: failed to create table: %w", name, err)
		}
	}
	return &Engine{name: name, store: st, embedder: em}, nil
}

// Name returns the instance name; it is recorded as the origin of
// translation matches.
func (en *Engine) Name() string {
	return en.name
}

// Store returns the underlying vector store, for wiring the importer.
func (en *Engine) Store() store.VectorStore {
	return en.store
}

// Embedder returns the embedder, for wiring the importer.
func (en *Engine) Embedder() embed.Embedder {
	return en.embedder
}

// Close releases the store connection. Idempotent.
func (en *Engine) Close() error {
	en.closeOnce.Do(func() {
		en.closeErr = en.store.Close()
	})
	return en.closeErr
}

// StoreRequest carries one entry for StoreLangEntry. SegmentIndex
// defaults to 0 (merged granularity) and SegmentCount to 1; Vector is
// optional and computed from PureText when absent.
type StoreRequest struct {
	FileID   string
	Original string
	UnitID   string
	Language string
	PureText string
	Element  string

	Vector       []float32
	SegmentIndex int
	SegmentCount int
	Metadata     *entry.Metadata
}

// StoreLangEntry upserts a single entry. When an entry with the same
// canonical ID already holds identical content (pureText, element,
// original), nothing is rewritten.
func (en *Engine) StoreLangEntry(ctx context.Context, req StoreRequest) error {
	e := &entry.Entry{
		FileID:       req.FileID,
		Original:     req.Original,
		UnitID:       req.UnitID,
		Language:     req.Language,
		PureText:     req.PureText,
		Element:      req.Element,
		SegmentIndex: req.SegmentIndex,
		SegmentCount: req.SegmentCount,
		Vector:       req.Vector,
		Metadata:     req.Metadata,
	}
	if err := e.Canonicalize(); err != nil {
		return err
	}

	existing, err := en.store.Query(ctx, store.IDEq(e.ID), 1)
	if err != nil {
		return fmt.Errorf("engine: failed to read %s: %w", e.ID, err)
	}
	if len(existing) == 1 {
		old := existing[0]
		if old.PureText == e.PureText && old.Element == e.Element && old.Original == e.Original {
			logger.Debug("engine: %s unchanged, skipping rewrite", e.ID)
			return nil
		}
	}

	if e.Vector == nil {
		vec, err := en.embedder.Embed(ctx, e.PureText)
		if err != nil {
			return fmt.Errorf("engine: failed to embed %s: %w", e.ID, err)
		}
		e.Vector = vec
	}

	en.writeMu.Lock()
	defer en.writeMu.Unlock()

	if _, err := en.store.DeleteWhere(ctx, store.IDEq(e.ID)); err != nil {
		return fmt.Errorf("engine: failed to replace %s: %w", e.ID, err)
	}
	if err := en.store.UpsertBatch(ctx, []*entry.Entry{e}); err != nil {
		return fmt.Errorf("engine: failed to insert %s: %w", e.ID, err)
	}
	return nil
}

// StoreBatchEntries embeds entries in order where needed, then issues
// one bulk delete over the batch IDs and one bulk insert. The
// embedding pass is retried once per call.
func (en *Engine) StoreBatchEntries(ctx context.Context, entries []*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, len(entries))
	var missing []int
	var texts []string
	for i, e := range entries {
		if err := e.Canonicalize(); err != nil {
			return err
		}
		ids[i] = e.ID
		if e.Vector == nil {
			missing = append(missing, i)
			texts = append(texts, e.PureText)
		}
	}

	if len(missing) > 0 {
		vecs, err := en.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			logger.Debug("engine: batch embedding failed, retrying once: %v", err)
			vecs, err = en.embedder.EmbedBatch(ctx, texts)
		}
		if err != nil {
			return fmt.Errorf("engine: failed to embed batch of %d: %w", len(texts), err)
		}
		for j, i := range missing {
			entries[i].Vector = vecs[j]
		}
	}

	en.writeMu.Lock()
	defer en.writeMu.Unlock()

	if _, err := en.store.DeleteWhere(ctx, store.IDIn(ids...)); err != nil {
		return fmt.Errorf("engine: failed to clear batch rows: %w", err)
	}
	if err := en.store.UpsertBatch(ctx, entries); err != nil {
		return fmt.Errorf("engine: failed to insert batch: %w", err)
	}
	return nil
}

// DeleteLangEntry removes one entry, or every segment of a unit on one
// language side when segmentIndex is negative. It reports false when
// nothing matched.
func (en *Engine) DeleteLangEntry(ctx context.Context, fileID, unitID, language string, segmentIndex int) (bool, error) {
	var pred store.Predicate
	if segmentIndex >= 0 {
		pred = store.IDEq(entry.CanonicalID(fileID, unitID, segmentIndex, language))
	} else {
		pred = store.And(
			store.IDPrefix(entry.UnitPrefix(fileID, unitID)),
			store.LanguageEq(language),
		)
	}

	en.writeMu.Lock()
	defer en.writeMu.Unlock()

	n, err := en.store.DeleteWhere(ctx, pred)
	if err != nil {
		return false, fmt.Errorf("engine: failed to delete %s/%s (%s): %w", fileID, unitID, language, err)
	}
	return n > 0, nil
}

// EntryExists reports whether the canonical ID is stored.
func (en *Engine) EntryExists(ctx context.Context, fileID, unitID string, segmentIndex int, language string) (bool, error) {
	id := entry.CanonicalID(fileID, unitID, segmentIndex, language)
	rows, err := en.store.Query(ctx, store.IDEq(id), 1)
	if err != nil {
		return false, fmt.Errorf("engine: failed to read %s: %w", id, err)
	}
	return len(rows) == 1, nil
}

// GetLangEntry fetches one entry by canonical ID.
func (en *Engine) GetLangEntry(ctx context.Context, fileID, unitID string, segmentIndex int, language string) (*entry.Entry, error) {
	id := entry.CanonicalID(fileID, unitID, segmentIndex, language)
	rows, err := en.store.Query(ctx, store.IDEq(id), 1)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rows[0], nil
}
