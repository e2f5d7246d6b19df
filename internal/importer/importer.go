// Package importer streams staged JSONL candidates into the vector
// store in fixed-size batches: embed, delete existing rows by ID, then
// bulk insert. The staged file is removed when the import ends, on
// success and on failure.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/glottech/hybridtm/internal/embed"
	"github.com/glottech/hybridtm/internal/entry"
	"github.com/glottech/hybridtm/internal/ingest"
	"github.com/glottech/hybridtm/internal/logger"
	"github.com/glottech/hybridtm/internal/store"
)

// DefaultBatchSize is the number of candidates flushed per batch.
const DefaultBatchSize = 1000

// Observer receives import progress. Implementations must be cheap;
// they run inline in the import loop.
type Observer interface {
	// Progress reports after every flushed batch.
	Progress(processed, total int, rate float64, eta time.Duration)

	// Done reports once, after the final flush.
	Done(processed int, elapsed time.Duration)
}

// StderrObserver is the default Observer; it prints progress to stderr.
type StderrObserver struct{}

func (StderrObserver) Progress(processed, total int, rate float64, eta time.Duration) {
	fmt.Fprintf(os.Stderr, "imported %d/%d entries (%.0f/s, eta %s)\n",
		processed, total, rate, eta.Round(time.Second))
}

func (StderrObserver) Done(processed int, elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "import finished: %d entries in %s\n",
		processed, elapsed.Round(time.Millisecond))
}

// Importer drives staged candidates into a store.
type Importer struct {
	store    store.VectorStore
	embedder embed.Embedder
	staging  *ingest.Staging

	// BatchSize is the flush threshold (default DefaultBatchSize).
	BatchSize int

	// Observer receives progress callbacks (default StderrObserver).
	Observer Observer
}

// New creates an importer over the given collaborators.
func New(st store.VectorStore, em embed.Embedder, staging *ingest.Staging) *Importer {
	return &Importer{
		store:     st,
		embedder:  em,
		staging:   staging,
		BatchSize: DefaultBatchSize,
		Observer:  StderrObserver{},
	}
}

// Run streams the staged file into the store. A failed batch aborts
// the import without touching previously committed batches; the staged
// file is removed in every case.
func (im *Importer) Run(ctx context.Context, res *ingest.Result) (err error) {
	defer func() {
		if rmErr := im.staging.Remove(res.Path); rmErr != nil {
			logger.Warn("importer: failed to remove staged file %s: %v", res.Path, rmErr)
		}
	}()

	f, err := im.staging.Open(res.Path)
	if err != nil {
		return fmt.Errorf("importer: failed to open staged file %s: %w", res.Path, err)
	}
	defer f.Close()

	batchSize := im.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := time.Now()
	processed := 0
	line := 0
	batch := make([]*entry.Entry, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.flushBatch(ctx, batch); err != nil {
			return err
		}
		processed += len(batch)
		batch = batch[:0]

		elapsed := time.Since(start)
		rate := float64(processed) / elapsed.Seconds()
		var eta time.Duration
		if rate > 0 && res.Count > processed {
			eta = time.Duration(float64(res.Count-processed)/rate) * time.Second
		}
		im.observer().Progress(processed, res.Count, rate, eta)
		return nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++

		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var cand ingest.Candidate
		if err := json.Unmarshal(raw, &cand); err != nil {
			logger.Warn("importer: skipping unparsable line %d of %s: %v", line, res.Path, err)
			continue
		}
		e, err := cand.Entry()
		if err != nil {
			logger.Warn("importer: skipping invalid candidate on line %d of %s: %v", line, res.Path, err)
			continue
		}

		batch = append(batch, e)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("importer: failed to read staged file %s: %w", res.Path, err)
	}

	if err := flush(); err != nil {
		return err
	}

	im.observer().Done(processed, time.Since(start))
	return nil
}

// flushBatch embeds the batch, deletes the rows it replaces and
// inserts it. The embedding pass is retried once before the batch is
// declared failed.
func (im *Importer) flushBatch(ctx context.Context, batch []*entry.Entry) error {
	texts := make([]string, len(batch))
	ids := make([]string, len(batch))
	for i, e := range batch {
		texts[i] = e.PureText
		ids[i] = e.ID
	}

	vecs, err := im.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logger.Debug("importer: embedding batch failed, retrying once: %v", err)
		vecs, err = im.embedder.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return fmt.Errorf("importer: embedding batch of %d failed: %w", len(batch), err)
	}
	for i, e := range batch {
		e.Vector = vecs[i]
	}

	if _, err := im.store.DeleteWhere(ctx, store.IDIn(ids...)); err != nil {
		return fmt.Errorf("importer: failed to clear existing rows: %w", err)
	}
	if err := im.store.UpsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("importer: failed to insert batch: %w", err)
	}
	return nil
}

func (im *Importer) observer() Observer {
	if im.Observer != nil {
		return im.Observer
	}
	return StderrObserver{}
}
