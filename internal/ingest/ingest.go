// Package ingest turns bilingual files (XLIFF 2.x, TMX 1.4b) into
// entry candidates staged as newline-delimited JSON. The batch
// importer streams the staged file into the store; nothing here
// touches the embedder or the vector store directly.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"

	"github.com/glottech/hybridtm/internal/entry"
)

// Errors surfaced by the ingestors.
var (
	// ErrUnsupportedFormat indicates a malformed or unsupported
	// XLIFF/TMX header.
	ErrUnsupportedFormat = errors.New("ingest: unsupported format")

	// ErrMissingAttribute indicates a required XML attribute is absent.
	ErrMissingAttribute = errors.New("ingest: missing attribute")
)

// Options controls filtering and metadata extraction during ingestion.
type Options struct {
	// SkipEmpty drops segments whose target text is whitespace only.
	SkipEmpty bool

	// SkipUnconfirmed drops segments that carry no workflow state.
	SkipUnconfirmed bool

	// MinState drops segments whose explicit state ranks below it.
	// Empty means no minimum.
	MinState entry.State

	// ExtractMetadata copies workflow state, lifecycle attributes,
	// notes and properties onto the emitted candidates.
	ExtractMetadata bool
}

// Candidate is one pending entry, written as a single JSONL object.
// Nested metadata stays a nested JSON object here; the store adapter
// flattens it on insert.
type Candidate struct {
	FileID       string          `json:"fileId"`
	Original     string          `json:"original,omitempty"`
	UnitID       string          `json:"unitId"`
	Language     string          `json:"language"`
	PureText     string          `json:"pureText"`
	Element      string          `json:"element"`
	SegmentIndex int             `json:"segmentIndex"`
	SegmentCount int             `json:"segmentCount"`
	Metadata     *entry.Metadata `json:"metadata,omitempty"`
}

// Entry rehydrates the candidate into a canonical entry (no vector).
func (c *Candidate) Entry() (*entry.Entry, error) {
	e := &entry.Entry{
		FileID:       c.FileID,
		Original:     c.Original,
		UnitID:       c.UnitID,
		Language:     c.Language,
		PureText:     c.PureText,
		Element:      c.Element,
		SegmentIndex: c.SegmentIndex,
		SegmentCount: c.SegmentCount,
		Metadata:     c.Metadata,
	}
	if err := e.Canonicalize(); err != nil {
		return nil, err
	}
	return e, nil
}

// Result points the batch importer at a staged JSONL file.
type Result struct {
	// Path of the staged file within the staging filesystem.
	Path string

	// Count of candidates written.
	Count int
}

// Staging owns the temp directory the JSONL intermediates live in.
// The filesystem is abstract so tests can stage in memory.
type Staging struct {
	fs  hackpadfs.FS
	dir string
}

// NewStaging creates a staging area in dir on the given filesystem.
func NewStaging(fsys hackpadfs.FS, dir string) *Staging {
	return &Staging{fs: fsys, dir: dir}
}

// DefaultStaging stages into the system temp directory.
func DefaultStaging() (*Staging, error) {
	fsys := osfs.NewFS()
	dir, err := fsys.FromOSPath(os.TempDir())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve temp directory: %w", err)
	}
	return &Staging{fs: fsys, dir: dir}, nil
}

// FS returns the staging filesystem, for the importer.
func (s *Staging) FS() hackpadfs.FS {
	return s.fs
}

// Create opens a fresh staged file with a unique name.
func (s *Staging) Create() (*StagedFile, error) {
	name := path.Join(s.dir, "htm-stage-"+uuid.NewString()+".jsonl")
	f, err := hackpadfs.OpenFile(s.fs, name, hackpadfs.FlagWriteOnly|hackpadfs.FlagCreate|hackpadfs.FlagTruncate, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file %s: %w", name, err)
	}
	return &StagedFile{fs: s.fs, path: name, file: f}, nil
}

// Open opens a staged file for reading.
func (s *Staging) Open(name string) (hackpadfs.File, error) {
	return s.fs.Open(name)
}

// Remove deletes a staged file. Missing files are not an error, so
// cleanup paths can run unconditionally.
func (s *Staging) Remove(name string) error {
	err := hackpadfs.Remove(s.fs, name)
	if err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		return err
	}
	return nil
}

// StagedFile appends candidates as JSONL.
type StagedFile struct {
	fs    hackpadfs.FS
	path  string
	file  hackpadfs.File
	count int
}

// Write appends one candidate as a JSON line.
func (w *StagedFile) Write(c *Candidate) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode candidate %s/%s: %w", c.FileID, c.UnitID, err)
	}
	raw = append(raw, '\n')
	if _, err := hackpadfs.WriteFile(w.file, raw); err != nil {
		return fmt.Errorf("failed to write staging file %s: %w", w.path, err)
	}
	w.count++
	return nil
}

// Close finishes the staged file and returns its result.
func (w *StagedFile) Close() (*Result, error) {
	if err := w.file.Close(); err != nil {
		return nil, err
	}
	return &Result{Path: w.path, Count: w.count}, nil
}

// Discard closes and removes the staged file after a failed ingest.
func (w *StagedFile) Discard() {
	w.file.Close()
	hackpadfs.Remove(w.fs, w.path)
}
