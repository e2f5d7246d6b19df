package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glottech/hybridtm/internal/embed"
	"github.com/glottech/hybridtm/internal/ingest"
	"github.com/glottech/hybridtm/internal/store"
)

const testDim = 16

type recordingObserver struct {
	progress int
	done     bool
	last     int
}

func (o *recordingObserver) Progress(processed, total int, rate float64, eta time.Duration) {
	o.progress++
	o.last = processed
}

func (o *recordingObserver) Done(processed int, elapsed time.Duration) {
	o.done = true
	o.last = processed
}

func stageLines(t *testing.T, lines ...string) (*ingest.Staging, *ingest.Result) {
	t.Helper()
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	require.NoError(t, hackpadfs.MkdirAll(fsys, "stage", 0o700))

	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, hackpadfs.WriteFullFile(fsys, "stage/batch.jsonl", []byte(content), 0o600))

	return ingest.NewStaging(fsys, "stage"), &ingest.Result{Path: "stage/batch.jsonl", Count: len(lines)}
}

func candidateLine(unitID, lang, text string) string {
	return `{"fileId":"f1","original":"f1.xlf","unitId":"` + unitID +
		`","language":"` + lang + `","pureText":"` + text +
		`","element":"<source>` + text + `</source>","segmentIndex":1,"segmentCount":1}`
}

func newImporter(t *testing.T, staging *ingest.Staging) (*Importer, store.VectorStore, *recordingObserver) {
	t.Helper()
	st := store.NewMemStore()
	require.NoError(t, st.CreateTable(context.Background(), testDim))

	obs := &recordingObserver{}
	im := New(st, embed.NewFake(testDim), staging)
	im.Observer = obs
	return im, st, obs
}

func TestImportStoresAllCandidates(t *testing.T) {
	staging, res := stageLines(t,
		candidateLine("u1", "en", "Hello world"),
		candidateLine("u1", "es", "Hola mundo"),
		candidateLine("u2", "en", "Second"),
	)
	im, st, obs := newImporter(t, staging)

	require.NoError(t, im.Run(context.Background(), res))

	count, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.True(t, obs.done)
	assert.Equal(t, 3, obs.last)

	rows, err := st.Query(context.Background(), store.IDEq("f1:u1:1:en"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Hello world", rows[0].PureText)
	assert.Len(t, rows[0].Vector, testDim, "stored rows carry embeddings")
}

func TestImportBatching(t *testing.T) {
	lines := make([]string, 0, 5)
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		lines = append(lines, candidateLine(u, "en", "text "+u))
	}
	staging, res := stageLines(t, lines...)
	im, st, obs := newImporter(t, staging)
	im.BatchSize = 2

	require.NoError(t, im.Run(context.Background(), res))

	count, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 3, obs.progress, "5 candidates at batch size 2 flush 3 times")
}

func TestImportSkipsUnparsableLines(t *testing.T) {
	staging, res := stageLines(t,
		candidateLine("u1", "en", "good"),
		`{"this is not valid json`,
		candidateLine("u2", "en", "also good"),
	)
	im, st, _ := newImporter(t, staging)

	require.NoError(t, im.Run(context.Background(), res), "parse errors are recovered, not fatal")

	count, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestImportIdempotentOnReimport(t *testing.T) {
	mk := func() (*ingest.Staging, *ingest.Result) {
		return stageLines(t,
			candidateLine("u1", "en", "Hello"),
			candidateLine("u1", "es", "Hola"),
		)
	}

	staging, res := mk()
	im, st, _ := newImporter(t, staging)
	require.NoError(t, im.Run(context.Background(), res))

	// Import the same content again through the same store.
	staging2, res2 := mk()
	im2 := New(st, embed.NewFake(testDim), staging2)
	im2.Observer = &recordingObserver{}
	require.NoError(t, im2.Run(context.Background(), res2))

	count, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-importing the same file must not grow the store")
}

func TestImportRemovesStagedFile(t *testing.T) {
	staging, res := stageLines(t, candidateLine("u1", "en", "x"))
	im, _, _ := newImporter(t, staging)

	require.NoError(t, im.Run(context.Background(), res))

	_, err := staging.Open(res.Path)
	assert.Error(t, err, "the staged file must be gone after a successful import")
}

func TestImportRemovesStagedFileOnFailure(t *testing.T) {
	staging, res := stageLines(t, candidateLine("u1", "en", "x"))

	st := store.NewMemStore()
	require.NoError(t, st.CreateTable(context.Background(), testDim))

	im := New(st, &embed.Fake{Dim: testDim, Fail: true}, staging)
	im.Observer = &recordingObserver{}

	err := im.Run(context.Background(), res)
	require.ErrorIs(t, err, embed.ErrModelUnavailable, "a failing embedder fails the batch")

	_, openErr := staging.Open(res.Path)
	assert.Error(t, openErr, "the staged file must be gone even after a failed import")

	count, cErr := st.Count(context.Background())
	require.NoError(t, cErr)
	assert.Equal(t, 0, count)
}

func TestImportHonorsCancellation(t *testing.T) {
	staging, res := stageLines(t,
		candidateLine("u1", "en", "a"),
		candidateLine("u2", "en", "b"),
	)
	im, _, _ := newImporter(t, staging)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := im.Run(ctx, res)
	assert.ErrorIs(t, err, context.Canceled)
}
