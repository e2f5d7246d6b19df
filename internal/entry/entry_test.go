package entry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalID(t *testing.T) {
	assert.Equal(t, "f1:u1:0:en", CanonicalID("f1", "u1", 0, "en"))
	assert.Equal(t, "f1:u1:3:de-DE", CanonicalID("f1", "u1", 3, "de-DE"))

	// Colons inside fileId/unitId are preserved literally.
	assert.Equal(t, "a:b:u:1:2:es", CanonicalID("a:b", "u:1", 2, "es"))
}

func TestCanonicalIDDeterminism(t *testing.T) {
	// Two independent constructions of the same tuple agree.
	a := CanonicalID("demo.xlf", "u1", 1, "en")
	e := &Entry{FileID: "demo.xlf", UnitID: "u1", SegmentIndex: 1, Language: "en"}
	require.NoError(t, e.Canonicalize())
	assert.Equal(t, a, e.ID)
}

func TestCanonicalizeValidation(t *testing.T) {
	e := &Entry{UnitID: "u1", Language: "en"}
	assert.Error(t, e.Canonicalize(), "missing fileId must be rejected")

	e = &Entry{FileID: "f", UnitID: "u", Language: "en", SegmentIndex: -1}
	assert.Error(t, e.Canonicalize(), "negative segmentIndex must be rejected")

	e = &Entry{FileID: "f", UnitID: "u", Language: "en"}
	require.NoError(t, e.Canonicalize())
	assert.Equal(t, 1, e.SegmentCount, "segmentCount floors at 1")
}

func TestStateNormalization(t *testing.T) {
	for raw, want := range map[string]State{
		"initial":    StateInitial,
		"Translated": StateTranslated,
		" REVIEWED ": StateReviewed,
		"final":      StateFinal,
	} {
		got, ok := NormalizeState(raw)
		require.True(t, ok, "state %q", raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{"", "signed-off", "new", "needs-translation"} {
		_, ok := NormalizeState(raw)
		assert.False(t, ok, "out-of-vocabulary state %q must map to absent", raw)
	}
}

func TestStateRankOrdering(t *testing.T) {
	assert.Less(t, StateInitial.Rank(), StateTranslated.Rank())
	assert.Less(t, StateTranslated.Rank(), StateReviewed.Rank())
	assert.Less(t, StateReviewed.Rank(), StateFinal.Rank())
	assert.Equal(t, -1, State("bogus").Rank())
}

func TestMetadataJSONRoundTrip(t *testing.T) {
	idx := 2
	cnt := 3
	md := &Metadata{
		State:        StateReviewed,
		SubState:     "qa:checked",
		Quality:      IntPtr(85),
		CreationDate: "2024-03-01T10:00:00Z",
		Context:      "ui.settings",
		Notes:        []string{"first note", "second note"},
		UsageCount:   IntPtr(7),
		Properties:   map[string]string{"domain": "software", "client:id": "acme"},
		Segment: &SegmentRef{
			Provider:     "xliff",
			FileID:       "f1",
			UnitID:       "u9",
			SegmentIndex: &idx,
			SegmentCount: &cnt,
		},
	}

	raw, err := json.Marshal(md)
	require.NoError(t, err)

	var back Metadata
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, md.Notes, back.Notes)
	assert.Equal(t, md.Properties, back.Properties)
	assert.Equal(t, md.Segment, back.Segment)
	assert.Equal(t, md.Quality, back.Quality)
	assert.Equal(t, md.State, back.State)
}

func TestMetadataAbsentFieldsStayAbsent(t *testing.T) {
	raw, err := json.Marshal(&Metadata{State: StateFinal})
	require.NoError(t, err)

	// Absent optionals must not serialize as null-valued keys.
	assert.JSONEq(t, `{"state":"final"}`, string(raw))
}

func TestMetadataIsZero(t *testing.T) {
	var md *Metadata
	assert.True(t, md.IsZero())
	assert.True(t, (&Metadata{}).IsZero())
	assert.False(t, (&Metadata{Context: "x"}).IsZero())
	assert.False(t, (&Metadata{UsageCount: IntPtr(0)}).IsZero())
}
