// SQLite-backed store. Uses ncruces/go-sqlite3/driver which provides a
// database/sql interface, with the sqlite-vec extension supplying the
// vec0 virtual table for KNN search.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/glottech/hybridtm/internal/entry"
)

// defaultPool is the KNN candidate pool used when the caller passes no
// limit; candidates beyond it are pruned by score upstream anyway.
const defaultPool = 256

// SQLiteStore is the SQLite-backed vector store.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int
}

// schema defines the flattened entry table. Nested metadata (notes,
// properties, segment provenance) serializes as JSON strings. The
// embedding lives in a separate vec0 virtual table sharing the rowid,
// created once the dimension is known.
const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id TEXT NOT NULL UNIQUE,
    language TEXT NOT NULL,
    pure_text TEXT NOT NULL,
    element TEXT NOT NULL,
    file_id TEXT NOT NULL,
    original TEXT,
    unit_id TEXT NOT NULL,
    segment_index INTEGER NOT NULL,
    segment_count INTEGER NOT NULL,
    state TEXT,
    sub_state TEXT,
    quality INTEGER,
    creation_date TEXT,
    creation_id TEXT,
    change_date TEXT,
    change_id TEXT,
    creation_tool TEXT,
    creation_tool_version TEXT,
    context TEXT,
    last_usage_date TEXT,
    notes TEXT,
    usage_count INTEGER,
    properties TEXT,
    segment_ref TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_language ON entries(language);

CREATE TABLE IF NOT EXISTS htm_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const entryColumns = `id, language, pure_text, element, file_id, original, unit_id,
	segment_index, segment_count, state, sub_state, quality,
	creation_date, creation_id, change_date, change_id,
	creation_tool, creation_tool_version, context, last_usage_date,
	notes, usage_count, properties, segment_ref`

// NewSQLiteStore opens or creates a store at the given path.
// Use ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The vec0 virtual table and :memory: databases are bound to a
	// single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.loadDimension(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadDimension restores the dimension of an existing store.
func (s *SQLiteStore) loadDimension() error {
	var value string
	err := s.db.QueryRow(`SELECT value FROM htm_meta WHERE key = 'dimension'`).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dimension: %w", err)
	}
	if _, err := fmt.Sscanf(value, "%d", &s.dim); err != nil {
		return fmt.Errorf("corrupt dimension value %q: %w", value, err)
	}
	return nil
}

// CreateTable fixes the embedding dimension and creates the vec0 table.
// Calling it again with the same dimension is a no-op; a different
// dimension is an error.
func (s *SQLiteStore) CreateTable(ctx context.Context, dim int) error {
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

	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_entries USING vec0(embedding float[%d])`, dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO htm_meta (key, value) VALUES ('dimension', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", dim)); err != nil {
		return fmt.Errorf("failed to record dimension: %w", err)
	}

	s.dim = dim
	return nil
}

// Dimension returns the dimension fixed by CreateTable, or 0.
func (s *SQLiteStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// VectorSearch runs a KNN query over the vec0 table joined back to the
// entry columns. The KNN pool is oversampled when a predicate narrows
// it afterwards.
func (s *SQLiteStore) VectorSearch(ctx context.Context, vec []float32, pred Predicate, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim == 0 {
		return nil, ErrNoTable
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query vector has length %d, table dimension %d",
			ErrDimensionMismatch, len(vec), s.dim)
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	pool := limit
	if limit <= 0 {
		pool = defaultPool
	} else if pred != nil {
		pool = limit * 4
		if pool < 64 {
			pool = 64
		}
	}

	query := `SELECT ` + entryColumns + `, v.distance
		FROM vec_entries v JOIN entries e ON e.rowid = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ?`
	args := []any{blob, pool}

	if pred != nil {
		frag, predArgs := pred.SQL("e.")
		query += " AND " + frag
		args = append(args, predArgs...)
	}
	query += " ORDER BY v.distance"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		e, distance, err := scanEntryWithDistance(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Entry: e, Distance: distance})
	}
	return hits, rows.Err()
}

// Query is a filter-only scan ordered by id.
func (s *SQLiteStore) Query(ctx context.Context, pred Predicate, limit int) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + entryColumns + ` FROM entries`
	var args []any
	if pred != nil {
		frag, predArgs := pred.SQL("")
		query += " WHERE " + frag
		args = predArgs
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertBatch inserts rows in one transaction. Rows carrying a vector
// of the wrong length are rejected before anything is written.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, rows []*entry.Entry) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		cols, err := flattenMetadata(row.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", row.ID, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.ID, row.Language, row.PureText, row.Element, row.FileID,
			row.Original, row.UnitID, row.SegmentIndex, row.SegmentCount,
			cols.state, cols.subState, cols.quality,
			cols.creationDate, cols.creationID, cols.changeDate, cols.changeID,
			cols.creationTool, cols.creationToolVersion, cols.context, cols.lastUsageDate,
			cols.notes, cols.usageCount, cols.properties, cols.segmentRef)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", row.ID, err)
		}

		rowid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to resolve rowid for %s: %w", row.ID, err)
		}

		blob, err := sqlite_vec.SerializeFloat32(row.Vector)
		if err != nil {
			return fmt.Errorf("failed to serialize vector for %s: %w", row.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_entries (rowid, embedding) VALUES (?, ?)`, rowid, blob); err != nil {
			return fmt.Errorf("failed to insert vector for %s: %w", row.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteWhere removes matching rows and their vectors.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, pred Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frag, args := pred.SQL("")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if s.dim != 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_entries WHERE rowid IN (SELECT rowid FROM entries WHERE `+frag+`)`,
			args...); err != nil {
			return 0, fmt.Errorf("failed to delete vectors: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE `+frag, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// =============================================================================
// Row mapping
// =============================================================================

// flatMeta carries the nullable column values for one metadata record.
type flatMeta struct {
	state               sql.NullString
	subState            sql.NullString
	quality             sql.NullInt64
	creationDate        sql.NullString
	creationID          sql.NullString
	changeDate          sql.NullString
	changeID            sql.NullString
	creationTool        sql.NullString
	creationToolVersion sql.NullString
	context             sql.NullString
	lastUsageDate       sql.NullString
	notes               sql.NullString
	usageCount          sql.NullInt64
	properties          sql.NullString
	segmentRef          sql.NullString
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func flattenMetadata(md *entry.Metadata) (flatMeta, error) {
	var f flatMeta
	if md.IsZero() {
		return f, nil
	}

	f.state = nullString(string(md.State))
	f.subState = nullString(md.SubState)
	if md.Quality != nil {
		f.quality = sql.NullInt64{Int64: int64(*md.Quality), Valid: true}
	}
	f.creationDate = nullString(md.CreationDate)
	f.creationID = nullString(md.CreationID)
	f.changeDate = nullString(md.ChangeDate)
	f.changeID = nullString(md.ChangeID)
	f.creationTool = nullString(md.CreationTool)
	f.creationToolVersion = nullString(md.CreationToolVersion)
	f.context = nullString(md.Context)
	f.lastUsageDate = nullString(md.LastUsageDate)
	if md.UsageCount != nil {
		f.usageCount = sql.NullInt64{Int64: int64(*md.UsageCount), Valid: true}
	}

	if len(md.Notes) > 0 {
		raw, err := json.Marshal(md.Notes)
		if err != nil {
			return f, err
		}
		f.notes = nullString(string(raw))
	}
	if len(md.Properties) > 0 {
		raw, err := json.Marshal(md.Properties)
		if err != nil {
			return f, err
		}
		f.properties = nullString(string(raw))
	}
	if md.Segment != nil {
		raw, err := json.Marshal(md.Segment)
		if err != nil {
			return f, err
		}
		f.segmentRef = nullString(string(raw))
	}
	return f, nil
}

func (f *flatMeta) unflatten() (*entry.Metadata, error) {
	md := &entry.Metadata{}
	if f.state.Valid {
		md.State = entry.State(f.state.String)
	}
	md.SubState = f.subState.String
	if f.quality.Valid {
		md.Quality = entry.IntPtr(int(f.quality.Int64))
	}
	md.CreationDate = f.creationDate.String
	md.CreationID = f.creationID.String
	md.ChangeDate = f.changeDate.String
	md.ChangeID = f.changeID.String
	md.CreationTool = f.creationTool.String
	md.CreationToolVersion = f.creationToolVersion.String
	md.Context = f.context.String
	md.LastUsageDate = f.lastUsageDate.String
	if f.usageCount.Valid {
		md.UsageCount = entry.IntPtr(int(f.usageCount.Int64))
	}

	if f.notes.Valid {
		if err := json.Unmarshal([]byte(f.notes.String), &md.Notes); err != nil {
			return nil, fmt.Errorf("corrupt notes column: %w", err)
		}
	}
	if f.properties.Valid {
		if err := json.Unmarshal([]byte(f.properties.String), &md.Properties); err != nil {
			return nil, fmt.Errorf("corrupt properties column: %w", err)
		}
	}
	if f.segmentRef.Valid {
		md.Segment = &entry.SegmentRef{}
		if err := json.Unmarshal([]byte(f.segmentRef.String), md.Segment); err != nil {
			return nil, fmt.Errorf("corrupt segment_ref column: %w", err)
		}
	}

	if md.IsZero() {
		return nil, nil
	}
	return md, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryInto(rs rowScanner, extra ...any) (*entry.Entry, error) {
	var e entry.Entry
	var original sql.NullString
	var f flatMeta

	dest := []any{
		&e.ID, &e.Language, &e.PureText, &e.Element, &e.FileID,
		&original, &e.UnitID, &e.SegmentIndex, &e.SegmentCount,
		&f.state, &f.subState, &f.quality,
		&f.creationDate, &f.creationID, &f.changeDate, &f.changeID,
		&f.creationTool, &f.creationToolVersion, &f.context, &f.lastUsageDate,
		&f.notes, &f.usageCount, &f.properties, &f.segmentRef,
	}
	dest = append(dest, extra...)

	if err := rs.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Original = original.String
	md, err := f.unflatten()
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Metadata = md
	return &e, nil
}

func scanEntry(rs rowScanner) (*entry.Entry, error) {
	return scanEntryInto(rs)
}

func scanEntryWithDistance(rs rowScanner) (*entry.Entry, float64, error) {
	var distance float64
	e, err := scanEntryInto(rs, &distance)
	return e, distance, err
}

// Compile-time interface check
var _ VectorStore = (*SQLiteStore)(nil)
