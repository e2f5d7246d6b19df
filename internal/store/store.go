// Package store provides the vector-store contract used by the engine
// and the batch importer, plus two implementations: SQLiteStore on
// sqlite-vec for persistent stores and MemStore for tests and
// throwaway instances.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/glottech/hybridtm/internal/entry"
)

// Errors surfaced by store implementations.
var (
	// ErrDimensionMismatch is returned on inserts whose vector length
	// differs from the dimension fixed at table creation.
	ErrDimensionMismatch = errors.New("store: vector dimension mismatch")

	// ErrNoTable is returned by operations that need the entry table
	// before CreateTable has run.
	ErrNoTable = errors.New("store: table not created")
)

// Hit is one vector-search result. Distance is an L2 distance over
// unit-length vectors; the engine converts it to a 0-100 score.
type Hit struct {
	Entry    *entry.Entry
	Distance float64
}

// VectorStore is the contract over a columnar vector store. Writes are
// not transactional across calls; the engine issues delete-then-insert
// pairs and accepts last-writer-wins semantics.
type VectorStore interface {
	// CreateTable fixes the embedding dimension and creates the backing
	// schema. Idempotent for a matching dimension.
	CreateTable(ctx context.Context, dim int) error

	// Dimension returns the dimension fixed by CreateTable, or 0.
	Dimension() int

	// VectorSearch returns up to limit rows ordered by vector distance
	// ascending, restricted by the optional predicate. limit <= 0 uses
	// the implementation's default candidate pool.
	VectorSearch(ctx context.Context, vec []float32, pred Predicate, limit int) ([]Hit, error)

	// Query is a filter-only scan. limit <= 0 means no limit.
	Query(ctx context.Context, pred Predicate, limit int) ([]*entry.Entry, error)

	// UpsertBatch inserts rows atomically per batch. Callers remove
	// existing rows first (DeleteWhere with an IDIn predicate).
	UpsertBatch(ctx context.Context, rows []*entry.Entry) error

	// DeleteWhere removes matching rows and reports how many went away.
	DeleteWhere(ctx context.Context, pred Predicate) (int, error)

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying connection. Idempotent.
	Close() error
}

// Predicate is the filter language the store contract supports:
// equality on id or language, starts_with over id, IN over id strings,
// and conjunction. Implementations compile it to SQL or evaluate it in
// memory.
type Predicate interface {
	// SQL renders the predicate as a WHERE fragment with placeholders.
	// qualifier is prepended to column names ("e." in joined queries).
	SQL(qualifier string) (string, []any)

	// Matches evaluates the predicate against a row in memory.
	Matches(e *entry.Entry) bool
}

type eqPred struct {
	column string
	value  string
}

// IDEq matches the row with exactly the given canonical ID.
func IDEq(id string) Predicate { return eqPred{column: "id", value: id} }

// LanguageEq matches rows of the given language.
func LanguageEq(lang string) Predicate { return eqPred{column: "language", value: lang} }

func (p eqPred) SQL(q string) (string, []any) {
	return q + p.column + " = ?", []any{p.value}
}

func (p eqPred) Matches(e *entry.Entry) bool {
	switch p.column {
	case "id":
		return e.ID == p.value
	case "language":
		return e.Language == p.value
	}
	return false
}

type idPrefixPred struct {
	prefix string
}

// IDPrefix matches rows whose ID starts with the given prefix
// (starts_with in the contract). Used with entry.UnitPrefix and
// entry.SegmentPrefix values.
func IDPrefix(prefix string) Predicate { return idPrefixPred{prefix: prefix} }

func (p idPrefixPred) SQL(q string) (string, []any) {
	return q + `id LIKE ? ESCAPE '\'`, []any{escapeLike(p.prefix) + "%"}
}

func (p idPrefixPred) Matches(e *entry.Entry) bool {
	return strings.HasPrefix(e.ID, p.prefix)
}

type idInPred struct {
	ids []string
}

// IDIn matches rows whose ID is one of the given strings.
func IDIn(ids ...string) Predicate { return idInPred{ids: ids} }

func (p idInPred) SQL(q string) (string, []any) {
	if len(p.ids) == 0 {
		return "1 = 0", nil
	}
	args := make([]any, len(p.ids))
	for i, id := range p.ids {
		args[i] = id
	}
	return q + "id IN (?" + strings.Repeat(", ?", len(p.ids)-1) + ")", args
}

func (p idInPred) Matches(e *entry.Entry) bool {
	for _, id := range p.ids {
		if e.ID == id {
			return true
		}
	}
	return false
}

type andPred struct {
	preds []Predicate
}

// And combines predicates conjunctively. Nil members are skipped.
func And(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return andPred{preds: kept}
}

func (p andPred) SQL(q string) (string, []any) {
	if len(p.preds) == 0 {
		return "1 = 1", nil
	}
	frags := make([]string, len(p.preds))
	var args []any
	for i, sub := range p.preds {
		frag, subArgs := sub.SQL(q)
		frags[i] = frag
		args = append(args, subArgs...)
	}
	return "(" + strings.Join(frags, " AND ") + ")", args
}

func (p andPred) Matches(e *entry.Entry) bool {
	for _, sub := range p.preds {
		if !sub.Matches(e) {
			return false
		}
	}
	return true
}

// escapeLike escapes LIKE wildcards so prefixes containing % or _
// match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
