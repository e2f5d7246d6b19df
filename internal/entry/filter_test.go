package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mdWith(state State, quality int, context string) *Metadata {
	md := &Metadata{State: state, Context: context}
	if quality >= 0 {
		md.Quality = IntPtr(quality)
	}
	return md
}

func TestFilterZeroMatchesEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Matches(nil))
	assert.True(t, (&Filter{}).Matches(nil))
	assert.True(t, (&Filter{}).Matches(mdWith(StateFinal, 90, "x")))
}

func TestFilterStates(t *testing.T) {
	f := &Filter{States: []State{StateReviewed, StateFinal}}
	assert.True(t, f.Matches(mdWith(StateFinal, -1, "")))
	assert.True(t, f.Matches(mdWith(StateReviewed, -1, "")))
	assert.False(t, f.Matches(mdWith(StateTranslated, -1, "")))
	assert.False(t, f.Matches(nil), "missing metadata fails a states constraint")
	assert.False(t, f.Matches(&Metadata{}), "missing state fails a states constraint")
}

func TestFilterMinState(t *testing.T) {
	f := &Filter{MinState: StateTranslated}
	assert.True(t, f.Matches(mdWith(StateTranslated, -1, "")))
	assert.True(t, f.Matches(mdWith(StateFinal, -1, "")))
	assert.False(t, f.Matches(mdWith(StateInitial, -1, "")))
	assert.False(t, f.Matches(&Metadata{}), "absent state ranks below any minimum")
	assert.False(t, f.Matches(nil))
}

func TestFilterMinStateMonotonicity(t *testing.T) {
	samples := []*Metadata{
		nil,
		{},
		mdWith(StateInitial, -1, ""),
		mdWith(StateTranslated, -1, ""),
		mdWith(StateReviewed, -1, ""),
		mdWith(StateFinal, -1, ""),
	}

	count := func(min State) int {
		f := &Filter{MinState: min}
		n := 0
		for _, md := range samples {
			if f.Matches(md) {
				n++
			}
		}
		return n
	}

	// Raising minState never increases the number of accepted entries.
	prev := count(StateInitial)
	for _, min := range []State{StateTranslated, StateReviewed, StateFinal} {
		got := count(min)
		assert.LessOrEqual(t, got, prev, "minState=%s", min)
		prev = got
	}
}

func TestFilterMinQuality(t *testing.T) {
	f := &Filter{MinQuality: 70}
	assert.True(t, f.Matches(mdWith("", 70, "")))
	assert.True(t, f.Matches(mdWith("", 95, "")))
	assert.False(t, f.Matches(mdWith("", 69, "")))
	assert.False(t, f.Matches(&Metadata{}), "absent quality fails a quality constraint")
	assert.False(t, f.Matches(nil))
}

func TestFilterContextIncludes(t *testing.T) {
	f := &Filter{ContextIncludes: []string{"ui.settings", "Save"}}
	assert.True(t, f.Matches(mdWith("", -1, "UI.Settings dialog: save button")))
	assert.False(t, f.Matches(mdWith("", -1, "ui.settings only")), "every needle must appear")
	assert.False(t, f.Matches(mdWith("", -1, "")))
	assert.False(t, f.Matches(nil))
}

func TestFilterContextIncludesCaseInsensitive(t *testing.T) {
	f := &Filter{ContextIncludes: []string{"UI.SETTINGS"}}
	assert.True(t, f.Matches(mdWith("", -1, "prefix ui.settings suffix")))
}

func TestFilterRequiredProperties(t *testing.T) {
	f := &Filter{RequiredProperties: map[string]string{"domain": "software", "client": "acme"}}
	assert.True(t, f.Matches(&Metadata{Properties: map[string]string{
		"domain": "software", "client": "acme", "extra": "ok",
	}}))
	assert.False(t, f.Matches(&Metadata{Properties: map[string]string{"domain": "software"}}))
	assert.False(t, f.Matches(&Metadata{Properties: map[string]string{
		"domain": "Software", "client": "acme",
	}}), "property matching is exact and case-sensitive")
	assert.False(t, f.Matches(nil))
}

func TestFilterProvider(t *testing.T) {
	f := &Filter{Provider: "xliff"}
	assert.True(t, f.Matches(&Metadata{Segment: &SegmentRef{Provider: "xliff"}}))
	assert.False(t, f.Matches(&Metadata{Segment: &SegmentRef{Provider: "xliff-segment"}}))
	assert.False(t, f.Matches(&Metadata{}))
	assert.False(t, f.Matches(nil))
}

func TestFilterCombined(t *testing.T) {
	f := &Filter{
		MinState:        StateTranslated,
		ContextIncludes: []string{"ui.settings"},
	}
	assert.True(t, f.Matches(mdWith(StateFinal, -1, "menu ui.settings")))
	assert.False(t, f.Matches(mdWith(StateInitial, -1, "menu ui.settings")))
	assert.False(t, f.Matches(mdWith(StateFinal, -1, "menu ui.export")))
}
