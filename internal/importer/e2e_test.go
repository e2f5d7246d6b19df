package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glottech/hybridtm/internal/embed"
	"github.com/glottech/hybridtm/internal/engine"
	"github.com/glottech/hybridtm/internal/ingest"
	"github.com/glottech/hybridtm/internal/store"
)

const bilingualXLIFF = `<?xml version="1.0"?>
<xliff version="2.0" srcLang="en" trgLang="es">
 <file id="f1" original="app.xlf">
  <unit id="u1">
   <segment state="final"><source>Hello world</source><target>Hola mundo</target></segment>
   <segment state="final"><source>Save settings</source><target>Guardar ajustes</target></segment>
   <segment state="final"><source>Close window</source><target>Cerrar ventana</target></segment>
  </unit>
 </file>
</xliff>`

func runXLIFFImport(t *testing.T, st store.VectorStore, em embed.Embedder) {
	t.Helper()

	fsys, err := mem.NewFS()
	require.NoError(t, err)
	require.NoError(t, hackpadfs.MkdirAll(fsys, "stage", 0o700))
	staging := ingest.NewStaging(fsys, "stage")

	res, err := ingest.NewXLIFF(staging, ingest.Options{ExtractMetadata: true}).
		Ingest(context.Background(), strings.NewReader(bilingualXLIFF))
	require.NoError(t, err)

	im := New(st, em, staging)
	im.Observer = &recordingObserver{}
	require.NoError(t, im.Run(context.Background(), res))
}

func TestEndToEndImportAndSearch(t *testing.T) {
	ctx := context.Background()
	em := embed.NewFake(testDim)
	st := store.NewMemStore()
	require.NoError(t, st.CreateTable(ctx, testDim))

	runXLIFFImport(t, st, em)

	// 3 segments per side plus a merged pair: 2*3 + 2 rows for the unit.
	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	// Importing the same file again must not change the row count.
	runXLIFFImport(t, st, em)
	count, err = st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	en, err := engine.Open(ctx, "e2e", st, em)
	require.NoError(t, err)
	defer en.Close()

	matches, err := en.SemanticTranslationSearch(ctx, "Save the settings", "en", "es", 40, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "Guardar ajustes", matches[0].Target.PureText)
	assert.Equal(t, matches[0].Source.SegmentIndex, matches[0].Target.SegmentIndex)

	// Both the segment and the merged unit entry contain the fragment,
	// so two descriptors match.
	mappings, err := en.ConcordanceSearch(ctx, "settings", "en", 10, nil)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	for _, mapping := range mappings {
		assert.Contains(t, mapping, "en")
		assert.Contains(t, mapping, "es")
	}
}
