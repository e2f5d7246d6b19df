package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glottech/hybridtm/internal/embed"
	"github.com/glottech/hybridtm/internal/entry"
	"github.com/glottech/hybridtm/internal/store"
)

const testDim = 64

func newEngine(t *testing.T) *Engine {
	t.Helper()
	en, err := Open(context.Background(), "test-tm", store.NewMemStore(), embed.NewFake(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { en.Close() })
	return en
}

func mustStore(t *testing.T, en *Engine, req StoreRequest) {
	t.Helper()
	require.NoError(t, en.StoreLangEntry(context.Background(), req))
}

func pairReq(fileID, unitID string, segIdx, segCount int, lang, text string, md *entry.Metadata) StoreRequest {
	return StoreRequest{
		FileID:       fileID,
		Original:     fileID,
		UnitID:       unitID,
		Language:     lang,
		PureText:     text,
		Element:      "<source>" + text + "</source>",
		SegmentIndex: segIdx,
		SegmentCount: segCount,
		Metadata:     md,
	}
}

func TestOpenProbesDimension(t *testing.T) {
	st := store.NewMemStore()
	en, err := Open(context.Background(), "probe", st, embed.NewFake(testDim))
	require.NoError(t, err)
	defer en.Close()
	assert.Equal(t, testDim, st.Dimension())
}

func TestOpenFailsWhenModelUnavailable(t *testing.T) {
	_, err := Open(context.Background(), "down", store.NewMemStore(), &embed.Fake{Dim: testDim, Fail: true})
	assert.ErrorIs(t, err, embed.ErrModelUnavailable)
}

func TestStoreLangEntryIdempotent(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	req := pairReq("demo", "u1", 1, 1, "en", "Hello world", nil)
	mustStore(t, en, req)
	mustStore(t, en, req)

	count, err := en.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "identical content must not grow the store")

	// Changed content rewrites the row under the same ID.
	req.PureText = "Hello there"
	req.Element = "<source>Hello there</source>"
	mustStore(t, en, req)

	count, err = en.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := en.GetLangEntry(ctx, "demo", "u1", 1, "en")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", got.PureText)
}

func TestDeleteLangEntry(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 1, 2, "en", "one", nil))
	mustStore(t, en, pairReq("f", "u1", 2, 2, "en", "two", nil))
	mustStore(t, en, pairReq("f", "u1", 1, 2, "es", "uno", nil))

	ok, err := en.DeleteLangEntry(ctx, "f", "u1", "en", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = en.DeleteLangEntry(ctx, "f", "u1", "en", 1)
	require.NoError(t, err)
	assert.False(t, ok, "deleting an absent row reports false")

	// Negative segment index removes the whole language side.
	ok, err = en.DeleteLangEntry(ctx, "f", "u1", "en", -1)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := en.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the es row must survive")
}

func TestEntryExistsAndGet(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 0, 1, "en", "text", nil))

	ok, err := en.EntryExists(ctx, "f", "u1", 0, "en")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = en.EntryExists(ctx, "f", "u1", 0, "de")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = en.GetLangEntry(ctx, "f", "u1", 0, "de")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Scenario: one bilingual pair, hybrid search above threshold.
func TestSemanticTranslationSearchBasic(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	final := &entry.Metadata{State: entry.StateFinal}
	mustStore(t, en, pairReq("demo", "u1", 1, 1, "en", "Hello world", final))
	mustStore(t, en, pairReq("demo", "u1", 1, 1, "es", "Hola mundo", final))

	matches, err := en.SemanticTranslationSearch(ctx, "Hi world", "en", "es", 40, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "Hola mundo", m.Target.PureText)
	assert.Equal(t, "test-tm", m.Origin)
	assert.GreaterOrEqual(t, m.Fuzzy, 50)
	assert.GreaterOrEqual(t, m.HybridScore(), 40)
	assert.Equal(t,
		int(math.Round((float64(m.Semantic)+float64(m.Fuzzy))/2)),
		m.HybridScore(), "hybrid is the rounded mean of semantic and fuzzy")
}

func TestSemanticTranslationSearchThreshold(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("demo", "u1", 1, 1, "en", "Hello world", nil))
	mustStore(t, en, pairReq("demo", "u1", 1, 1, "es", "Hola mundo", nil))

	matches, err := en.SemanticTranslationSearch(ctx, "Hi world", "en", "es", 0, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	// Every returned match honors the threshold.
	strict := matches[0].HybridScore() + 1
	matches, err = en.SemanticTranslationSearch(ctx, "Hi world", "en", "es", strict, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTargetPairingPrefersExactIndex(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	// Source segment 2 with target siblings at indexes 0, 1 and 2.
	mustStore(t, en, pairReq("f", "u1", 2, 2, "en", "Save settings", nil))
	mustStore(t, en, pairReq("f", "u1", 0, 2, "es", "merged target", nil))
	mustStore(t, en, pairReq("f", "u1", 1, 2, "es", "first target", nil))
	mustStore(t, en, pairReq("f", "u1", 2, 2, "es", "Guardar ajustes", nil))

	matches, err := en.SemanticTranslationSearch(ctx, "Save settings", "en", "es", 40, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Guardar ajustes", matches[0].Target.PureText,
		"the same-index target outranks unit-prefix fallbacks")
	assert.Equal(t, 2, matches[0].Target.SegmentIndex)
}

func TestTargetPairingFallsBackToSegmentLevel(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 2, 2, "en", "Save settings", nil))
	mustStore(t, en, pairReq("f", "u1", 0, 2, "es", "merged target", nil))
	mustStore(t, en, pairReq("f", "u1", 1, 2, "es", "segment target", nil))

	matches, err := en.SemanticTranslationSearch(ctx, "Save settings", "en", "es", 40, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "segment target", matches[0].Target.PureText,
		"segment-level entries outrank the merged entry")
}

func TestTargetPairingDropsMatchWithoutTarget(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 1, 1, "en", "Save settings", nil))

	matches, err := en.SemanticTranslationSearch(ctx, "Save settings", "en", "es", 0, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches, "a source hit with no target entry is dropped")
}

func TestTargetFilterAppliesToSourceWhenSourceFilterUnset(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	// Source is initial, target is final: a target-only filter on
	// final must also reject the source side of the pair.
	mustStore(t, en, pairReq("f", "u1", 1, 1, "en", "Save settings",
		&entry.Metadata{State: entry.StateInitial}))
	mustStore(t, en, pairReq("f", "u1", 1, 1, "es", "Guardar ajustes",
		&entry.Metadata{State: entry.StateFinal}))

	matches, err := en.SemanticTranslationSearch(ctx, "Save settings", "en", "es", 0, 5,
		&Filters{Target: &entry.Filter{MinState: entry.StateFinal}})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRankingPrefersBetterTargets(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	// Two identical pairs except for target state and quality.
	mustStore(t, en, pairReq("f", "weak", 1, 1, "en", "Save settings", nil))
	mustStore(t, en, pairReq("f", "weak", 1, 1, "es", "target A",
		&entry.Metadata{State: entry.StateInitial}))

	mustStore(t, en, pairReq("f", "strong", 1, 1, "en", "Save settings", nil))
	mustStore(t, en, pairReq("f", "strong", 1, 1, "es", "target B",
		&entry.Metadata{State: entry.StateFinal, Quality: entry.IntPtr(95)}))

	matches, err := en.SemanticTranslationSearch(ctx, "Save settings", "en", "es", 40, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "target B", matches[0].Target.PureText,
		"state and quality bonuses must rank the stronger target first")
}

func TestSemanticSearchFilters(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 1, 1, "en", "save the file",
		&entry.Metadata{State: entry.StateFinal, Context: "menu ui.settings"}))
	mustStore(t, en, pairReq("f", "u2", 1, 1, "en", "save your work",
		&entry.Metadata{State: entry.StateFinal, Context: "dialog ui.export"}))
	mustStore(t, en, pairReq("f", "u3", 1, 1, "en", "save everything",
		&entry.Metadata{State: entry.StateInitial, Context: "menu UI.Settings"}))

	got, err := en.SemanticSearch(ctx, "save", "en", 5, &entry.Filter{
		ContextIncludes: []string{"ui.settings"},
		MinState:        entry.StateTranslated,
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "context mismatch and low state must both exclude")
	assert.Equal(t, "u1", got[0].UnitID)
}

func TestSemanticSearchLanguageRestriction(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 1, 1, "en", "Hello world", nil))
	mustStore(t, en, pairReq("f", "u1", 1, 1, "es", "Hola mundo", nil))

	got, err := en.SemanticSearch(ctx, "Hello world", "es", 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "es", got[0].Language)
}

func TestConcordanceSearch(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	mustStore(t, en, pairReq("f", "u1", 1, 1, "en", "Open the Settings dialog", nil))
	mustStore(t, en, pairReq("f", "u1", 1, 1, "es", "Abrir el diálogo de ajustes", nil))
	mustStore(t, en, pairReq("f", "u2", 1, 1, "en", "Settings were saved", nil))
	mustStore(t, en, pairReq("f", "u2", 1, 1, "es", "Se guardaron los ajustes", nil))
	mustStore(t, en, pairReq("f", "u3", 1, 1, "en", "Nothing relevant", nil))

	results, err := en.ConcordanceSearch(ctx, "settings", "en", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2, "two units contain the fragment")

	for _, mapping := range results {
		assert.Contains(t, mapping, "en")
		assert.Contains(t, mapping, "es", "each mapping carries all language variants")
	}
}

func TestConcordanceSearchLimit(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		mustStore(t, en, pairReq("f", u, 1, 1, "en", "shared fragment here", nil))
	}

	results, err := en.ConcordanceSearch(ctx, "fragment", "en", 2, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestHydrationErrorDropsRow(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	// Bypass the engine to plant a row with a broken element.
	broken := &entry.Entry{
		FileID: "f", UnitID: "u1", SegmentIndex: 1, SegmentCount: 1,
		Language: "en", PureText: "broken row",
		Element: "<source>broken",
	}
	require.NoError(t, broken.Canonicalize())
	vec, err := en.Embedder().Embed(ctx, broken.PureText)
	require.NoError(t, err)
	broken.Vector = vec
	require.NoError(t, en.Store().UpsertBatch(ctx, []*entry.Entry{broken}))

	mustStore(t, en, pairReq("f", "u2", 1, 1, "en", "broken row sibling", nil))

	got, err := en.SemanticSearch(ctx, "broken row", "en", 5, nil)
	require.NoError(t, err, "hydration failures must not fail the query")
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UnitID)
}

func TestStoreBatchEntries(t *testing.T) {
	en := newEngine(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		{FileID: "f", UnitID: "u1", SegmentIndex: 1, SegmentCount: 1, Language: "en",
			PureText: "first", Element: "<source>first</source>"},
		{FileID: "f", UnitID: "u1", SegmentIndex: 1, SegmentCount: 1, Language: "es",
			PureText: "primero", Element: "<target>primero</target>"},
	}
	require.NoError(t, en.StoreBatchEntries(ctx, entries))

	count, err := en.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Batch-storing the same IDs again replaces rather than appends.
	require.NoError(t, en.StoreBatchEntries(ctx, entries))
	count, err = en.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCloseIdempotent(t *testing.T) {
	en := newEngine(t)
	require.NoError(t, en.Close())
	require.NoError(t, en.Close())
}
